// Package detector implements the built-in predicate plugins: thresholded
// memory pressure, memory usage and IO pressure over a configured cgroup
// pattern (spec.md §4.G).
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	oomdcontext "github.com/ceems-dev/oomd/pkg/context"
	"github.com/ceems-dev/oomd/pkg/plugin"
)

// matchesPattern implements the "literal substring, or '*' for all" rule
// shared by every detector (spec.md §4.G).
func matchesPattern(relative, pattern string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}

	return strings.Contains(relative, pattern)
}

func init() {
	plugin.RegisterDetector("memory_pressure", newMemoryPressureDetector)
	plugin.RegisterDetector("memory_usage", newMemoryUsageDetector)
	plugin.RegisterDetector("io_pressure", newIOPressureDetector)
}

// sample is one (timestamp, weighted pressure) observation retained by the
// pressure detectors' sliding window.
type sample struct {
	at       time.Time
	weighted float64
}

// pressureDetector is shared machinery for the memory- and IO-pressure
// detectors, which differ only in which context field they read.
type pressureDetector struct {
	plugin.BasePlugin

	logger *slog.Logger
	field  string // "memory_pressure" or "io_pressure"

	threshold       float64
	durationSeconds float64
	pattern         string

	mu      sync.Mutex
	windows map[string][]sample
}

func (d *pressureDetector) Init(config map[string]any) error {
	if err := d.BasePlugin.Init(config); err != nil {
		return err
	}

	d.threshold = plugin.GetConfig(&d.BasePlugin, "threshold", 0.0)
	d.durationSeconds = plugin.GetConfig(&d.BasePlugin, "duration_seconds", 0.0)
	d.pattern = plugin.GetConfig(&d.BasePlugin, "cgroup_pattern", "*")

	if d.threshold <= 0 || d.threshold > 100 {
		return fmt.Errorf("%s: threshold must be in (0, 100]", d.Name())
	}

	if d.durationSeconds <= 0 {
		return fmt.Errorf("%s: duration_seconds must be > 0", d.Name())
	}

	d.windows = make(map[string][]sample)

	return nil
}

func (d *pressureDetector) pressureOf(cc oomdcontext.CgroupContext) *oomdContextPressure {
	switch d.field {
	case "memory_pressure":
		if cc.MemoryPressure == nil {
			return nil
		}

		return &oomdContextPressure{weighted: cc.MemoryPressure.Weighted()}
	case "io_pressure":
		if cc.IOPressure == nil {
			return nil
		}

		return &oomdContextPressure{weighted: cc.IOPressure.Weighted()}
	default:
		return nil
	}
}

type oomdContextPressure struct {
	weighted float64
}

// detect implements the shared predicate-and-window logic; d.field names
// the pressure field in log messages.
func (d *pressureDetector) detect(_ context.Context, octx *oomdcontext.OomdContext) (plugin.Ret, error) {
	if !d.Enabled() {
		return plugin.Continue, nil
	}

	now := octx.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	var triggered []string

	d.mu.Lock()

	for relative, cc := range octx.Cgroups {
		if !matchesPattern(relative, d.pattern) {
			continue
		}

		p := d.pressureOf(cc)
		if p == nil {
			d.logger.Debug("pressure unavailable", "cgroup", relative, "field", d.field)

			continue
		}

		win := append(d.windows[relative], sample{at: now, weighted: p.weighted})

		cutoff := now.Add(-time.Duration(2*d.durationSeconds) * time.Second)

		pruned := win[:0]

		for _, s := range win {
			if s.at.After(cutoff) || s.at.Equal(cutoff) {
				pruned = append(pruned, s)
			}
		}

		d.windows[relative] = pruned

		if heldSince(pruned, d.threshold, now, d.durationSeconds) {
			triggered = append(triggered, relative)
		}
	}

	d.mu.Unlock()

	if len(triggered) == 0 {
		return plugin.Continue, nil
	}

	d.UpdateStatus("triggered", triggered)
	d.logger.Info("threshold breached", "field", d.field, "cgroups", triggered)
	d.RecordSuccess()

	return plugin.Stop, nil
}

// heldSince reports whether weighted has stayed at or above threshold for
// at least durationSeconds, i.e. the first sample of the trailing run of
// samples at or above threshold is old enough; any sample below threshold
// restarts the run (spec.md §4.G).
func heldSince(samples []sample, threshold float64, now time.Time, durationSeconds float64) bool {
	var earliest *time.Time

	for i := range samples {
		if samples[i].weighted < threshold {
			earliest = nil

			continue
		}

		if earliest == nil {
			t := samples[i].at
			earliest = &t
		}
	}

	if earliest == nil {
		return false
	}

	return now.Sub(*earliest) >= time.Duration(durationSeconds*float64(time.Second))
}

// memoryPressureDetector triggers when weighted memory pressure stays at or
// above a threshold for a configured duration.
type memoryPressureDetector struct {
	pressureDetector
}

func newMemoryPressureDetector(rec plugin.Record, logger *slog.Logger) (plugin.Detector, error) {
	d := &memoryPressureDetector{}
	d.PluginName = rec.Name
	d.logger = logger
	d.field = "memory_pressure"

	return d, nil
}

func (d *memoryPressureDetector) Detect(ctx context.Context, octx *oomdcontext.OomdContext) (plugin.Ret, error) {
	return d.detect(ctx, octx)
}

// ioPressureDetector mirrors memoryPressureDetector over io_pressure.
type ioPressureDetector struct {
	pressureDetector
}

func newIOPressureDetector(rec plugin.Record, logger *slog.Logger) (plugin.Detector, error) {
	d := &ioPressureDetector{}
	d.PluginName = rec.Name
	d.logger = logger
	d.field = "io_pressure"

	return d, nil
}

func (d *ioPressureDetector) Detect(ctx context.Context, octx *oomdcontext.OomdContext) (plugin.Ret, error) {
	return d.detect(ctx, octx)
}

// memoryUsageDetector triggers when a cgroup's usage crosses an absolute
// byte threshold or, if configured, a percentage of its limit.
type memoryUsageDetector struct {
	plugin.BasePlugin

	logger *slog.Logger

	thresholdBytes      uint64
	thresholdPercentage float64
	hasThresholdPercent bool
	pattern             string
}

func newMemoryUsageDetector(rec plugin.Record, logger *slog.Logger) (plugin.Detector, error) {
	d := &memoryUsageDetector{}
	d.PluginName = rec.Name
	d.logger = logger

	return d, nil
}

func (d *memoryUsageDetector) Init(config map[string]any) error {
	if err := d.BasePlugin.Init(config); err != nil {
		return err
	}

	thresholdBytes := plugin.GetConfig(&d.BasePlugin, "threshold_bytes", 0.0)
	if thresholdBytes <= 0 {
		return fmt.Errorf("%s: threshold_bytes must be > 0", d.Name())
	}

	d.thresholdBytes = uint64(thresholdBytes)

	if pct := plugin.GetConfig(&d.BasePlugin, "threshold_percentage", 0.0); pct > 0 {
		if pct > 100 {
			return fmt.Errorf("%s: threshold_percentage must be in (0, 100]", d.Name())
		}

		d.thresholdPercentage = pct
		d.hasThresholdPercent = true
	}

	d.pattern = plugin.GetConfig(&d.BasePlugin, "cgroup_pattern", "*")

	return nil
}

func (d *memoryUsageDetector) Detect(_ context.Context, octx *oomdcontext.OomdContext) (plugin.Ret, error) {
	if !d.Enabled() {
		return plugin.Continue, nil
	}

	var triggered []string

	for relative, cc := range octx.Cgroups {
		if !matchesPattern(relative, d.pattern) {
			continue
		}

		if cc.MemoryUsage == nil {
			d.logger.Debug("memory_usage unavailable", "cgroup", relative)

			continue
		}

		usage := *cc.MemoryUsage

		trip := usage >= d.thresholdBytes

		if !trip && d.hasThresholdPercent && cc.MemoryLimit != nil && *cc.MemoryLimit > 0 {
			pct := float64(usage) / float64(*cc.MemoryLimit) * 100
			trip = pct >= d.thresholdPercentage
		}

		if trip {
			triggered = append(triggered, relative)
		}
	}

	if len(triggered) == 0 {
		return plugin.Continue, nil
	}

	d.UpdateStatus("triggered", triggered)
	d.logger.Info("memory usage threshold breached", "cgroups", triggered)
	d.RecordSuccess()

	return plugin.Stop, nil
}
