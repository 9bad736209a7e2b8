// Package loop drives the periodic tick: assemble a context, run detectors
// in priority order until one stops the chain, then run the configured
// action chain (spec.md §4.I).
package loop

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ceems-dev/oomd/pkg/cgroup"
	oomdcontext "github.com/ceems-dev/oomd/pkg/context"
	"github.com/ceems-dev/oomd/pkg/plugin"
)

// PluginResult is the per-plugin execution record the loop emits each tick,
// the external interface exposed to the logger (spec.md §6).
type PluginResult struct {
	PluginName      string
	PluginType      string
	Result          plugin.Ret
	ExecutionTimeMs float64
	Message         string
	Metadata        map[string]any
}

// TickTargets resolves which cgroups the loop should assemble a context
// for on each tick.
type TickTargets interface {
	Resolve(ctx context.Context, source cgroup.Source) ([]cgroup.Path, error)
}

// StaticRoots targets a fixed list of cgroup roots, optionally expanded to
// pattern-matched descendants via ListCgroups.
type StaticRoots struct {
	Roots   []cgroup.Path
	Pattern string
	Expand  bool
}

// Resolve implements TickTargets.
func (s StaticRoots) Resolve(ctx context.Context, source cgroup.Source) ([]cgroup.Path, error) {
	if !s.Expand {
		return s.Roots, nil
	}

	matches, err := source.ListCgroups(ctx, s.Pattern)
	if err != nil {
		return nil, err
	}

	out := append([]cgroup.Path(nil), s.Roots...)

	for _, m := range matches {
		for _, r := range s.Roots {
			if r.Relative == "" || strings.HasPrefix(m.Relative, r.Relative+"/") {
				out = append(out, m)

				break
			}
		}
	}

	return out, nil
}

// Loop wires the source, assembler, plugin chains and tick cadence
// together and drives them until stopped.
type Loop struct {
	logger    *slog.Logger
	source    cgroup.Source
	assembler *oomdcontext.Assembler
	targets   TickTargets

	detectors []plugin.Detector
	actions   []plugin.Action

	tickInterval   time.Duration
	defaultTimeout time.Duration
	timeouts       map[string]time.Duration

	mu         sync.Mutex
	tickCount  uint64
	lastResult []PluginResult
	stopTicker chan struct{}
}

// Config configures a new Loop.
type Config struct {
	TickInterval   time.Duration
	DefaultTimeout time.Duration
	Timeouts       map[string]time.Duration // plugin name -> timeout_seconds override
}

// New builds a Loop. Detectors and actions should already be sorted by
// priority (pkg/plugin.BuildDetectors/BuildActions do this).
func New(
	logger *slog.Logger,
	source cgroup.Source,
	assembler *oomdcontext.Assembler,
	targets TickTargets,
	detectors []plugin.Detector,
	actions []plugin.Action,
	cfg Config,
) *Loop {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}

	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Second
	}

	return &Loop{
		logger:         logger,
		source:         source,
		assembler:      assembler,
		targets:        targets,
		detectors:      detectors,
		actions:        actions,
		tickInterval:   cfg.TickInterval,
		defaultTimeout: cfg.DefaultTimeout,
		timeouts:       cfg.Timeouts,
		stopTicker:     make(chan struct{}),
	}
}

// Run drives the loop until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.tickInterval)
	defer ticker.Stop()

	for {
		l.tick(ctx)

		select {
		case <-ticker.C:
			continue
		case <-l.stopTicker:
			l.logger.Info("control loop stopping")

			return
		case <-ctx.Done():
			l.logger.Info("control loop stopping", "err", ctx.Err())

			return
		}
	}
}

// Stop halts the loop after its current tick completes.
func (l *Loop) Stop() {
	close(l.stopTicker)
}

func (l *Loop) tick(ctx context.Context) {
	l.mu.Lock()
	l.tickCount++
	age := l.tickCount
	l.mu.Unlock()

	tickID := uuid.NewString()

	paths, err := l.targets.Resolve(ctx, l.source)
	if err != nil {
		l.logger.Error("failed to resolve tick targets", "tick_id", tickID, "err", err)

		return
	}

	octx := l.assembler.Assemble(ctx, tickID, age, paths)

	var results []PluginResult

	stopped := false

	for _, d := range l.detectors {
		res := l.runWithTimeout(ctx, d.Name(), "detector", func(ctx context.Context) (plugin.Ret, error) {
			return d.Detect(ctx, octx)
		})
		results = append(results, res)

		if res.Result == plugin.Stop {
			stopped = true

			break
		}
	}

	if stopped {
		for _, a := range l.actions {
			res := l.runWithTimeout(ctx, a.Name(), "action", func(ctx context.Context) (plugin.Ret, error) {
				return a.Act(ctx, octx)
			})
			results = append(results, res)

			if res.Result == plugin.Stop {
				break
			}
		}
	}

	l.mu.Lock()
	l.lastResult = results
	l.mu.Unlock()

	for _, r := range results {
		l.logger.Info("plugin executed",
			"tick_id", tickID,
			"plugin_name", r.PluginName,
			"plugin_type", r.PluginType,
			"result", r.Result.String(),
			"execution_time_ms", r.ExecutionTimeMs,
			"message", r.Message,
		)
	}
}

// runWithTimeout executes run under a per-plugin deadline. A timeout is
// reported as a Continue result whose Message is "timeout" and never aborts
// the loop; the plugin's own error counter is not incremented (spec.md §4.I).
func (l *Loop) runWithTimeout(
	ctx context.Context,
	name, kind string,
	run func(context.Context) (plugin.Ret, error),
) PluginResult {
	timeout := l.defaultTimeout
	if t, ok := l.timeouts[name]; ok && t > 0 {
		timeout = t
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	type outcome struct {
		ret plugin.Ret
		err error
	}

	done := make(chan outcome, 1)

	go func() {
		ret, err := run(runCtx)
		done <- outcome{ret, err}
	}()

	select {
	case o := <-done:
		elapsed := time.Since(start).Seconds() * 1000

		msg := ""
		if o.err != nil {
			msg = o.err.Error()
			l.logger.Warn("plugin returned an error", "plugin_name", name, "err", o.err)
		}

		return PluginResult{PluginName: name, PluginType: kind, Result: o.ret, ExecutionTimeMs: elapsed, Message: msg}
	case <-runCtx.Done():
		elapsed := time.Since(start).Seconds() * 1000
		l.logger.Warn("plugin timed out", "plugin_name", name, "timeout", timeout)

		return PluginResult{PluginName: name, PluginType: kind, Result: plugin.Continue, ExecutionTimeMs: elapsed, Message: "timeout"}
	}
}

// LastResult returns the most recently completed tick's per-plugin results,
// used by the debug status endpoint.
func (l *Loop) LastResult() []PluginResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]PluginResult, len(l.lastResult))
	copy(out, l.lastResult)

	return out
}
