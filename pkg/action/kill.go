// Package action implements the built-in state-changing plugins: process
// termination and memory reclaim by configurable strategy (spec.md §4.H).
package action

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"syscall"

	"github.com/ceems-dev/oomd/internal/security"
	oomdcontext "github.com/ceems-dev/oomd/pkg/context"
	"github.com/ceems-dev/oomd/pkg/plugin"
	"github.com/prometheus/procfs"
	"kernel.org/pub/linux/libs/security/libcap/cap"
)

func init() {
	plugin.RegisterAction("kill", newKillAction)
}

// killStrategy enumerates the selection strategies from spec.md §4.H.
type killStrategy string

const (
	strategyHighestMemory   killStrategy = "highest_memory"
	strategyHighestOOMScore killStrategy = "highest_oom_score"
	strategyLowestOOMScore  killStrategy = "lowest_oom_score"
	strategyOldest          killStrategy = "oldest"
	strategyNewest          killStrategy = "newest"
	strategyCgroupTarget    killStrategy = "cgroup_target"
)

// killAction selects candidate processes by strategy and delivers a
// configured signal, or records a dry-run skip.
type killAction struct {
	plugin.BasePlugin

	logger *slog.Logger
	killer *security.SecurityContext

	procPath     string
	procfsHandle procfs.FS

	strategy     killStrategy
	targetCgroup string
	dryRun       bool
	maxKillCount int
	killSignal   syscall.Signal
}

// NewKillAction builds a kill action that dispatches signal delivery
// through killer, raising CAP_KILL only for the syscall's duration; killer
// may be nil, in which case the signal is sent with the process's ambient
// capabilities.
func NewKillAction(rec plugin.Record, logger *slog.Logger, killer *security.SecurityContext) (plugin.Action, error) {
	return &killAction{BasePlugin: plugin.BasePlugin{PluginName: rec.Name}, logger: logger, killer: killer, procPath: "/proc"}, nil
}

// defaultKiller is set once by the loop wiring before BuildActions runs,
// mirroring defaultReclaimSource: the plugin registry's factory signature
// carries no security context parameter.
var defaultKiller *security.SecurityContext

// SetDefaultKiller installs the SecurityContext the "kill" action factory
// dispatches signal delivery through.
func SetDefaultKiller(killer *security.SecurityContext) { defaultKiller = killer }

func newKillAction(rec plugin.Record, logger *slog.Logger) (plugin.Action, error) {
	return NewKillAction(rec, logger, defaultKiller)
}

// killSignalFunc is the SecurityContext target function for the "kill"
// action: it runs with CAP_KILL raised in the Effective set and performs
// the actual signal delivery.
func killSignalFunc(data any) error {
	d, ok := data.(*security.KillSignalData)
	if !ok {
		return security.ErrSecurityCtxDataAssertion
	}

	return syscall.Kill(d.PID, syscall.Signal(d.Signal))
}

// NewKillSecurityContext builds the SecurityContext the "kill" action
// dispatches syscall.Kill through, raising only caps for the call's
// duration (spec.md §9: CAP_KILL must be raised/dropped around the
// privileged syscall, not held Effective for the process lifetime).
func NewKillSecurityContext(logger *slog.Logger, caps []cap.Value) (*security.SecurityContext, error) {
	return security.NewSecurityContext(&security.SCConfig{
		Name:   "kill",
		Logger: logger,
		Caps:   caps,
		Func:   killSignalFunc,
	})
}

func (a *killAction) Init(config map[string]any) error {
	if err := a.BasePlugin.Init(config); err != nil {
		return err
	}

	fs, err := procfs.NewFS(a.procPath)
	if err != nil {
		return fmt.Errorf("%s: open procfs: %w", a.Name(), err)
	}

	a.procfsHandle = fs

	strategyCfg := plugin.GetConfig(&a.BasePlugin, "strategy", "")

	var target string
	if strings.HasPrefix(strategyCfg, "cgroup_target") {
		target = plugin.GetConfig(&a.BasePlugin, "path", "")
		strategyCfg = "cgroup_target"
	}

	switch killStrategy(strategyCfg) {
	case strategyHighestMemory, strategyHighestOOMScore, strategyLowestOOMScore, strategyOldest, strategyNewest:
		a.strategy = killStrategy(strategyCfg)
	case strategyCgroupTarget:
		if target == "" {
			return fmt.Errorf("%s: cgroup_target strategy requires path", a.Name())
		}

		a.strategy = strategyCgroupTarget
		a.targetCgroup = target
	default:
		return fmt.Errorf("%s: unknown strategy %q", a.Name(), strategyCfg)
	}

	a.dryRun = plugin.GetConfig(&a.BasePlugin, "dry_run", false)

	maxKillCount := plugin.GetConfig(&a.BasePlugin, "max_kill_count", 1.0)
	if maxKillCount < 1 {
		return fmt.Errorf("%s: max_kill_count must be >= 1", a.Name())
	}

	a.maxKillCount = int(maxKillCount)

	signo := plugin.GetConfig(&a.BasePlugin, "kill_signal", 9.0)

	sig := syscall.Signal(int(signo))
	if !validSignal(sig) {
		return fmt.Errorf("%s: invalid kill_signal %v", a.Name(), signo)
	}

	a.killSignal = sig

	return nil
}

// validSignal rejects signal numbers outside POSIX's defined range.
func validSignal(sig syscall.Signal) bool {
	return sig > 0 && sig < 65
}

func (a *killAction) Act(_ context.Context, octx *oomdcontext.OomdContext) (plugin.Ret, error) {
	if !a.Enabled() {
		return plugin.Continue, nil
	}

	pids := a.gatherCandidatePIDs(octx)

	candidates := make([]ProcessInfo, 0, len(pids))

	for _, pid := range pids {
		info, err := gatherProcessInfo(a.procfsHandle, a.procPath, pid)
		if err != nil {
			a.logger.Debug("process info unavailable", "pid", pid, "err", err)

			continue
		}

		candidates = append(candidates, info)
	}

	sortCandidates(candidates, a.strategy)

	if len(candidates) > a.maxKillCount {
		candidates = candidates[:a.maxKillCount]
	}

	var killed []int32

	var skipped []int32

	for _, c := range candidates {
		if a.dryRun {
			skipped = append(skipped, c.PID)
			a.logger.Info("dry run: would signal", "pid", c.PID, "comm", c.Comm, "vsize", c.MemoryUsage, "signal", a.killSignal)

			continue
		}

		if err := a.sendSignal(c.PID); err != nil {
			a.logger.Warn("signal delivery failed", "pid", c.PID, "err", err)
			a.RecordError()

			continue
		}

		killed = append(killed, c.PID)
		a.RecordSuccess()
	}

	a.UpdateStatus("killed", killed)
	a.UpdateStatus("dry_run_skipped", skipped)

	return plugin.Continue, nil
}

// sendSignal delivers killSignal to pid, raising CAP_KILL only around the
// syscall via a.killer when one is configured, and falling back to the
// process's ambient capabilities otherwise.
func (a *killAction) sendSignal(pid int32) error {
	if a.killer == nil {
		return syscall.Kill(int(pid), a.killSignal)
	}

	return a.killer.Exec(&security.KillSignalData{PID: int(pid), Signal: int(a.killSignal)})
}

// gatherCandidatePIDs returns pids from the targeted cgroup, or from every
// cgroup in the context (spec.md §4.H step 1).
func (a *killAction) gatherCandidatePIDs(octx *oomdcontext.OomdContext) []int32 {
	if a.strategy == strategyCgroupTarget {
		cc, ok := octx.Cgroups[a.targetCgroup]
		if !ok || !cc.PIDsOK {
			return nil
		}

		return cc.PIDs
	}

	var pids []int32

	for _, cc := range octx.Cgroups {
		if !cc.PIDsOK {
			continue
		}

		pids = append(pids, cc.PIDs...)
	}

	return pids
}

// sortCandidates orders candidates per strategy (spec.md §4.H step 3). The
// Oldest/Newest strategies sort by process start time, correcting the
// memory-usage-based sort a straightforward reading of the source would
// otherwise reuse for every strategy (spec.md §9).
func sortCandidates(candidates []ProcessInfo, strategy killStrategy) {
	switch strategy {
	case strategyOldest:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].StartTicks < candidates[j].StartTicks
		})
	case strategyNewest:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].StartTicks > candidates[j].StartTicks
		})
	case strategyHighestOOMScore:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].OOMScore > candidates[j].OOMScore
		})
	case strategyLowestOOMScore:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].OOMScore < candidates[j].OOMScore
		})
	default: // highest_memory, cgroup_target
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].MemoryUsage > candidates[j].MemoryUsage
		})
	}
}
