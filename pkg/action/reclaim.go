package action

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ceems-dev/oomd/internal/security"
	"github.com/ceems-dev/oomd/pkg/cgroup"
	oomdcontext "github.com/ceems-dev/oomd/pkg/context"
	"github.com/ceems-dev/oomd/pkg/plugin"
	"kernel.org/pub/linux/libs/security/libcap/cap"
)

func init() {
	plugin.RegisterAction("reclaim", newReclaimAction)
}

type reclaimStrategy string

const (
	strategyDropCache    reclaimStrategy = "drop_cache"
	strategyTarget       reclaimStrategy = "cgroup_target"
	strategyAllCgroups   reclaimStrategy = "all_cgroups"
	strategyHighestUsage reclaimStrategy = "highest_usage"
)

// reclaimAction triggers kernel memory reclaim against one cgroup, every
// cgroup, the host page cache, or the highest-usage subset (spec.md §4.H).
type reclaimAction struct {
	plugin.BasePlugin

	logger    *slog.Logger
	source    cgroup.Source
	reclaimer *security.SecurityContext

	strategy      reclaimStrategy
	targetCgroup  string
	percentage    float64
	cgroupCount   int
	reclaimBytes  uint64
	dryRun        bool
	dropCachePath string
}

// NewReclaimAction builds a reclaim action bound to source, dispatching the
// drop_caches control-file writes through reclaimer (nil is valid: the
// write then runs with the process's ambient capabilities). Registered
// factories construct this via package-level defaults, set by the loop
// wiring once the source and capability set are known (see pkg/oomd).
func NewReclaimAction(
	rec plugin.Record,
	logger *slog.Logger,
	source cgroup.Source,
	reclaimer *security.SecurityContext,
) (plugin.Action, error) {
	return &reclaimAction{
		BasePlugin:    plugin.BasePlugin{PluginName: rec.Name},
		logger:        logger,
		source:        source,
		reclaimer:     reclaimer,
		dropCachePath: "/proc/sys/vm/drop_caches",
	}, nil
}

// defaultReclaimSource is set once by the loop wiring before BuildActions
// runs, since the plugin registry's factory signature carries no source
// parameter (spec.md §4.E keeps plugin construction source-agnostic).
var defaultReclaimSource cgroup.Source

// defaultReclaimer mirrors defaultReclaimSource for the drop_caches
// SecurityContext.
var defaultReclaimer *security.SecurityContext

// SetDefaultSource installs the cgroup.Source the "reclaim" action factory
// binds new instances to.
func SetDefaultSource(source cgroup.Source) { defaultReclaimSource = source }

// SetDefaultReclaimer installs the SecurityContext the "reclaim" action
// factory dispatches drop_caches writes through.
func SetDefaultReclaimer(reclaimer *security.SecurityContext) { defaultReclaimer = reclaimer }

func newReclaimAction(rec plugin.Record, logger *slog.Logger) (plugin.Action, error) {
	return NewReclaimAction(rec, logger, defaultReclaimSource, defaultReclaimer)
}

func (a *reclaimAction) Init(config map[string]any) error {
	if err := a.BasePlugin.Init(config); err != nil {
		return err
	}

	strategyCfg := plugin.GetConfig(&a.BasePlugin, "strategy", "")
	if strings.HasPrefix(strategyCfg, "cgroup_target") || strategyCfg == string(strategyTarget) {
		a.strategy = strategyTarget
		a.targetCgroup = plugin.GetConfig(&a.BasePlugin, "path", "")

		if a.targetCgroup == "" {
			return fmt.Errorf("%s: cgroup_target strategy requires path", a.Name())
		}
	} else {
		a.strategy = reclaimStrategy(strategyCfg)
	}

	switch a.strategy {
	case strategyDropCache, strategyTarget, strategyAllCgroups, strategyHighestUsage:
	default:
		return fmt.Errorf("%s: unknown strategy %q", a.Name(), strategyCfg)
	}

	a.percentage = plugin.GetConfig(&a.BasePlugin, "percentage", 100.0)
	a.cgroupCount = int(plugin.GetConfig(&a.BasePlugin, "cgroup_count", 1.0))

	reclaimBytes := plugin.GetConfig(&a.BasePlugin, "reclaim_amount_bytes", 0.0)
	if a.strategy != strategyDropCache && reclaimBytes <= 0 {
		return fmt.Errorf("%s: reclaim_amount_bytes must be > 0", a.Name())
	}

	a.reclaimBytes = uint64(reclaimBytes)
	a.dryRun = plugin.GetConfig(&a.BasePlugin, "dry_run", false)

	return nil
}

func (a *reclaimAction) Act(ctx context.Context, octx *oomdcontext.OomdContext) (plugin.Ret, error) {
	if !a.Enabled() {
		return plugin.Continue, nil
	}

	var err error

	switch a.strategy {
	case strategyDropCache:
		err = a.dropCache()
	case strategyTarget:
		err = a.reclaimOne(ctx, a.targetCgroup)
	case strategyAllCgroups:
		err = a.reclaimAll(ctx, octx, allRelativePaths(octx))
	case strategyHighestUsage:
		err = a.reclaimAll(ctx, octx, highestUsagePaths(octx, a.cgroupCount))
	}

	if err != nil {
		a.RecordError()
		a.logger.Warn("reclaim failed", "strategy", a.strategy, "err", err)
	} else {
		a.RecordSuccess()
	}

	return plugin.Continue, nil
}

// reclaimAll applies cgroup_target semantics to every path in targets,
// succeeding overall if any single reclaim succeeds (spec.md §4.H: partial
// success is success).
func (a *reclaimAction) reclaimAll(ctx context.Context, _ *oomdcontext.OomdContext, targets []string) error {
	var anySucceeded bool

	var lastErr error

	for _, relative := range targets {
		if err := a.reclaimOne(ctx, relative); err != nil {
			lastErr = err
			a.logger.Warn("reclaim target failed", "cgroup", relative, "err", err)

			continue
		}

		anySucceeded = true
	}

	if anySucceeded {
		return nil
	}

	return lastErr
}

func (a *reclaimAction) reclaimOne(ctx context.Context, relative string) error {
	amount := uint64(float64(a.reclaimBytes) * a.percentage / 100)

	p, err := cgroup.NewPath(a.source.Root().Root, a.source.Root().Root+"/"+relative)
	if err != nil {
		return err
	}

	if a.dryRun {
		a.UpdateStatus("would_reclaim_"+relative, amount)
		a.logger.Info("dry run: would reclaim", "cgroup", relative, "bytes", amount)

		return nil
	}

	if err := a.source.MemoryReclaim(ctx, p, amount); err != nil {
		return err
	}

	a.UpdateStatus("reclaim_hint_"+relative, amount)

	return nil
}

func allRelativePaths(octx *oomdcontext.OomdContext) []string {
	out := make([]string, 0, len(octx.Cgroups))
	for relative := range octx.Cgroups {
		out = append(out, relative)
	}

	sort.Strings(out)

	return out
}

// highestUsagePaths selects the top n relative paths by memory usage,
// descending (spec.md §4.H highest_usage strategy).
func highestUsagePaths(octx *oomdcontext.OomdContext, n int) []string {
	type entry struct {
		relative string
		usage    uint64
	}

	entries := make([]entry, 0, len(octx.Cgroups))

	for relative, cc := range octx.Cgroups {
		if cc.MemoryUsage == nil {
			continue
		}

		entries = append(entries, entry{relative, *cc.MemoryUsage})
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].usage > entries[j].usage })

	if n < len(entries) {
		entries = entries[:n]
	}

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.relative
	}

	return out
}

// dropCache implements the read-write-sleep-restore cycle of spec.md §4.H:
// read the current value, write 1, sleep 100ms, restore the prior value.
// The two writes are the privileged half of the cycle and go through
// a.reclaimer so CAP_SYS_RESOURCE is raised only around each one.
func (a *reclaimAction) dropCache() error {
	original, err := os.ReadFile(a.dropCachePath)
	if err != nil {
		return fmt.Errorf("read %s: %w", a.dropCachePath, err)
	}

	prior := strings.TrimSpace(string(original))

	if a.dryRun {
		a.logger.Info("dry run: would drop caches", "prior", prior)

		return nil
	}

	if err := a.writeDropCache([]byte("1")); err != nil {
		return fmt.Errorf("write %s: %w", a.dropCachePath, err)
	}

	time.Sleep(100 * time.Millisecond)

	if _, err := strconv.Atoi(prior); err != nil {
		prior = "0"
	}

	if err := a.writeDropCache([]byte(prior)); err != nil {
		return fmt.Errorf("restore %s: %w", a.dropCachePath, err)
	}

	return nil
}

// writeDropCache writes value to the drop_caches control file, raising
// CAP_SYS_RESOURCE only around the write via a.reclaimer when one is
// configured, and falling back to the process's ambient capabilities
// otherwise.
func (a *reclaimAction) writeDropCache(value []byte) error {
	if a.reclaimer == nil {
		return os.WriteFile(a.dropCachePath, value, 0o200)
	}

	return a.reclaimer.Exec(&dropCacheData{path: a.dropCachePath, value: value})
}

// dropCacheData carries the drop_caches write a reclaim action dispatches
// through a SecurityContext holding CAP_SYS_RESOURCE.
type dropCacheData struct {
	path  string
	value []byte
}

// dropCacheWriteFunc is the SecurityContext target function for the
// "reclaim" action's drop_caches strategy.
func dropCacheWriteFunc(data any) error {
	d, ok := data.(*dropCacheData)
	if !ok {
		return security.ErrSecurityCtxDataAssertion
	}

	return os.WriteFile(d.path, d.value, 0o200)
}

// NewDropCacheSecurityContext builds the SecurityContext the "reclaim"
// action dispatches its drop_caches writes through, raising only caps for
// each write's duration.
func NewDropCacheSecurityContext(logger *slog.Logger, caps []cap.Value) (*security.SecurityContext, error) {
	return security.NewSecurityContext(&security.SCConfig{
		Name:   "reclaim_drop_cache",
		Logger: logger,
		Caps:   caps,
		Func:   dropCacheWriteFunc,
	})
}
