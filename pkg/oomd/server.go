// Package oomd wires the cgroup source, context assembler, plugin registry
// and control loop into a runnable daemon, plus an optional debug HTTP
// surface (spec.md §7 supplemented feature).
package oomd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	promcollectors "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/exporter-toolkit/web"

	"github.com/ceems-dev/oomd/pkg/loop"
	"github.com/ceems-dev/oomd/pkg/plugin"
)

// WebConfig configures the optional debug HTTP surface.
type WebConfig struct {
	Addresses        []string
	WebSystemdSocket bool
	WebConfigFile    string
	LandingConfig    *web.LandingConfig
}

// Server exposes /status (plugin status JSON) and /metrics over HTTP,
// purely for operator visibility; the core daemon functions without it.
type Server struct {
	logger    *slog.Logger
	server    *http.Server
	webConfig *web.FlagConfig
	registry  *prometheus.Registry
	loop      *loop.Loop
	detectors []plugin.Detector
	actions   []plugin.Action
}

// NewServer builds a debug Server bound to the given loop and plugin
// chains; it does not start listening until Start is called.
func NewServer(
	logger *slog.Logger,
	l *loop.Loop,
	detectors []plugin.Detector,
	actions []plugin.Action,
	webCfg WebConfig,
) (*Server, error) {
	router := mux.NewRouter()

	s := &Server{
		logger:    logger,
		loop:      l,
		detectors: detectors,
		actions:   actions,
		registry:  prometheus.NewRegistry(),
		server: &http.Server{
			Addr:              firstOr(webCfg.Addresses, ":9000"),
			Handler:           router,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			ReadHeaderTimeout: 2 * time.Second,
		},
		webConfig: &web.FlagConfig{
			WebListenAddresses: &webCfg.Addresses,
			WebSystemdSocket:   &webCfg.WebSystemdSocket,
			WebConfigFile:      &webCfg.WebConfigFile,
		},
	}

	s.registry.MustRegister(promcollectors.NewGoCollector())
	s.registry.MustRegister(newPluginCollector(detectors, actions))

	if webCfg.LandingConfig != nil {
		landingPage, err := web.NewLandingPage(*webCfg.LandingConfig)
		if err != nil {
			return nil, err
		}

		router.Handle("/", landingPage)
	}

	router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(logger.Handler(), slog.LevelError),
		ErrorHandling: promhttp.ContinueOnError,
	}))
	router.HandleFunc("/status", s.handleStatus)

	return s, nil
}

func firstOr(addrs []string, def string) string {
	if len(addrs) == 0 {
		return def
	}

	return addrs[0]
}

// statusEntry is one plugin's row in the /status JSON dump.
type statusEntry struct {
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Status map[string]any `json:"status"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	entries := make([]statusEntry, 0, len(s.detectors)+len(s.actions))

	for _, d := range s.detectors {
		entries = append(entries, statusEntry{Name: d.Name(), Type: "detector", Status: d.Status()})
	}

	for _, a := range s.actions {
		entries = append(entries, statusEntry{Name: a.Name(), Type: "action", Status: a.Status()})
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if err := json.NewEncoder(w).Encode(map[string]any{
		"plugins":     entries,
		"last_result": s.loop.LastResult(),
	}); err != nil {
		s.logger.Error("failed to encode status response", "err", err)
	}
}

// Start launches the debug HTTP server; it blocks until Shutdown is called
// or the server errors out.
func (s *Server) Start() error {
	s.logger.Info("starting debug HTTP server", "addr", s.server.Addr)

	if err := web.ListenAndServe(s.server, s.webConfig, s.logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown gracefully stops the debug HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
