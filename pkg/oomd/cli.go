package oomd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/common/promslog"
	"github.com/prometheus/common/promslog/flag"
	"github.com/prometheus/common/version"
	"kernel.org/pub/linux/libs/security/libcap/cap"

	"github.com/ceems-dev/oomd/internal/runtime"
	"github.com/ceems-dev/oomd/internal/security"
	"github.com/ceems-dev/oomd/pkg/action"
	"github.com/ceems-dev/oomd/pkg/cgroup"
	oomdcontext "github.com/ceems-dev/oomd/pkg/context"
	"github.com/ceems-dev/oomd/pkg/loop"
	"github.com/ceems-dev/oomd/pkg/plugin"

	// detector registers its built-in plugins via init().
	_ "github.com/ceems-dev/oomd/pkg/detector"
)

const appName = "oomd"

// App holds the parsed CLI flags and wires the daemon's collaborators
// together; App.Run drives it until ctx is cancelled.
type App struct {
	configFile    string
	runAsUser     string
	debugServer   bool
	webAddresses  []string
	webConfigFile string

	logger *slog.Logger
}

// NewApp builds the kingpin CLI, parses args and returns a ready App.
func NewApp(args []string) (*App, error) {
	kapp := kingpin.New(appName, "Userspace out-of-memory policy daemon for Linux cgroups.")

	configFile := kapp.Flag("config.file", "Path to the daemon's YAML configuration file.").
		Envar("OOMD_CONFIG_FILE").Required().String()
	runAsUser := kapp.Flag("security.run-as-user", "Unprivileged user to drop to after acquiring required capabilities.").
		Default("nobody").String()
	debugServer := kapp.Flag("web.debug-server", "Enable the /status and /metrics debug HTTP surface.").
		Default("false").Bool()
	webAddresses := kapp.Flag("web.listen-address", "Address to expose the debug HTTP surface on.").
		Default(":9100").Strings()
	webConfigFile := kapp.Flag("web.config.file", "Path to web config enabling TLS or basic auth.").
		Default("").String()

	promslogConfig := &promslog.Config{}
	flag.AddFlags(kapp, promslogConfig)
	kapp.Version(version.Print(appName))
	kapp.HelpFlag.Short('h')

	if _, err := kapp.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing CLI flags: %w", err)
	}

	logger := promslog.New(promslogConfig)

	return &App{
		configFile:    *configFile,
		runAsUser:     *runAsUser,
		debugServer:   *debugServer,
		webAddresses:  *webAddresses,
		webConfigFile: *webConfigFile,
		logger:        logger,
	}, nil
}

// Run loads config, drops privileges, wires the control loop and optional
// debug server, and drives them until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting "+appName, "version", version.Info())
	a.logger.Debug("build context", "build", version.BuildContext())
	a.logger.Debug("host", "uname", runtime.Uname(), "fd_limits", runtime.FdLimits())

	cfg, err := LoadConfig(a.configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	secConfig := &security.Config{
		RunAsUser: a.runAsUser,
		Caps:      requiredCapabilities(),
	}
	if err := security.DropPrivileges(secConfig); err != nil {
		a.logger.Warn("failed to drop privileges; continuing with current credentials", "err", err)
	}

	source, err := cgroup.NewSource(cgroup.Paths{
		ProcPath:   cfg.Paths.ProcPath,
		CgroupfsV2: cfg.Paths.CgroupfsV2,
		CgroupfsV1: cfg.Paths.CgroupfsV1,
		MountsFile: cfg.Paths.MountsFile,
		ForceMode:  cfg.Paths.ForceMode,
	})
	if err != nil {
		return fmt.Errorf("detecting cgroup hierarchy: %w", err)
	}

	action.SetDefaultSource(source)

	killer, err := action.NewKillSecurityContext(a.logger, capsByName("cap_kill"))
	if err != nil {
		return fmt.Errorf("building kill security context: %w", err)
	}

	action.SetDefaultKiller(killer)

	reclaimer, err := action.NewDropCacheSecurityContext(a.logger, capsByName("cap_sys_resource"))
	if err != nil {
		return fmt.Errorf("building reclaim security context: %w", err)
	}

	action.SetDefaultReclaimer(reclaimer)

	detectors, err := plugin.BuildDetectors(cfg.Detectors, a.logger)
	if err != nil {
		return fmt.Errorf("building detectors: %w", err)
	}

	actions, err := plugin.BuildActions(cfg.Actions, a.logger)
	if err != nil {
		return fmt.Errorf("building actions: %w", err)
	}

	procPath := cfg.Paths.ProcPath
	if procPath == "" {
		procPath = "/proc"
	}

	assembler := oomdcontext.NewAssembler(source, a.logger, procPath)

	roots, expand, pattern := ResolveTickTargets(cfg.Tick, source)
	targets := loop.StaticRoots{Roots: roots, Pattern: pattern, Expand: expand}

	l := loop.New(a.logger, source, assembler, targets, detectors, actions, loop.Config{
		TickInterval: time.Duration(cfg.Tick.IntervalSeconds * float64(time.Second)),
	})

	var debugServer *Server
	if a.debugServer {
		debugServer, err = NewServer(a.logger, l, detectors, actions, WebConfig{
			Addresses:        a.webAddresses,
			WebConfigFile:    a.webConfigFile,
			WebSystemdSocket: false,
		})
		if err != nil {
			return fmt.Errorf("building debug server: %w", err)
		}

		go func() {
			if err := debugServer.Start(); err != nil {
				a.logger.Error("debug server exited", "err", err)
			}
		}()
	}

	go l.Run(ctx)

	<-ctx.Done()

	a.logger.Info("shutting down gracefully")

	l.Stop()

	if debugServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := debugServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("failed to gracefully shut down debug server", "err", err)
		}
	}

	a.logger.Info("see you next time")

	return nil
}

// requiredCapabilities lists the capabilities oomd retains after dropping
// root: CAP_KILL to signal processes it does not own, CAP_SYS_RESOURCE for
// memory.force_empty/drop_caches writes on some kernels.
func requiredCapabilities() []cap.Value {
	return capsByName("cap_kill", "cap_sys_resource")
}

// capsByName resolves capability names to cap.Value, silently skipping any
// that fail to resolve (e.g. a kernel built without that capability).
func capsByName(names ...string) []cap.Value {
	var caps []cap.Value

	for _, name := range names {
		if v, err := cap.FromName(name); err == nil {
			caps = append(caps, v)
		}
	}

	return caps
}
