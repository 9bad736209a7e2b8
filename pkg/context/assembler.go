package oomdcontext

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ceems-dev/oomd/pkg/cgroup"
)

// fieldCount is the number of independent field reads the assembler fans
// out per cgroup (spec.md §4.D: "nine field reads").
const fieldCount = 9

// Assembler gathers many per-cgroup field reads concurrently into a
// coherent OomdContext. Assembly never fails outright: a field read failure
// becomes an absent field on that cgroup's context.
type Assembler struct {
	source      cgroup.Source
	logger      *slog.Logger
	procPath    string
	concurrency int // 0 means unbounded

	mu           sync.Mutex
	prevVmstat   map[string]uint64
	prevSampleAt time.Time
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithConcurrency caps the number of cgroups assembled in parallel. The
// default, 0, imposes no cap -- acceptable given the cache and the small
// cardinality typical of real systems (spec.md §4.D).
func WithConcurrency(n int) Option {
	return func(a *Assembler) { a.concurrency = n }
}

// NewAssembler builds an Assembler reading system-wide state from procPath.
func NewAssembler(source cgroup.Source, logger *slog.Logger, procPath string, opts ...Option) *Assembler {
	a := &Assembler{source: source, logger: logger, procPath: procPath}
	for _, o := range opts {
		o(a)
	}

	return a
}

// Assemble produces one OomdContext covering paths, tagged with tickID and
// age.
func (a *Assembler) Assemble(ctx context.Context, tickID string, age uint64, paths []cgroup.Path) *OomdContext {
	start := time.Now()

	cgroups := make(map[string]CgroupContext, len(paths))

	var mu sync.Mutex

	var sem chan struct{}
	if a.concurrency > 0 {
		sem = make(chan struct{}, a.concurrency)
	}

	var wg sync.WaitGroup

	for _, p := range paths {
		p := p

		wg.Add(1)

		go func() {
			defer wg.Done()

			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}

			cc := a.assembleOne(ctx, p, age)

			mu.Lock()
			cgroups[p.Relative] = cc
			mu.Unlock()
		}()
	}

	wg.Wait()

	sys := a.assembleSystem(ctx)

	return &OomdContext{
		Cgroups:   cgroups,
		System:    sys,
		Timestamp: start,
		CacheAge:  time.Since(start),
		TickID:    tickID,
	}
}

// assembleOne fans out the nine field reads for a single cgroup and awaits
// all of them, tolerating individual failures.
func (a *Assembler) assembleOne(ctx context.Context, p cgroup.Path, age uint64) CgroupContext {
	cc := CgroupContext{Path: p, Age: age}

	var wg sync.WaitGroup

	wg.Add(fieldCount)

	go func() {
		defer wg.Done()

		if v, err := a.source.MemoryUsage(ctx, p); err == nil {
			cc.MemoryUsage = &v
		} else {
			a.logger.Debug("memory_usage unavailable", "cgroup", p.Relative, "err", err)
		}
	}()

	go func() {
		defer wg.Done()

		if v, err := a.source.MemoryLimit(ctx, p); err == nil {
			cc.MemoryLimit = &v
		} else {
			a.logger.Debug("memory_limit unavailable", "cgroup", p.Relative, "err", err)
		}
	}()

	go func() {
		defer wg.Done()

		if v, err := a.source.MemoryPressure(ctx, p); err == nil {
			cc.MemoryPressure = &v
		} else {
			a.logger.Debug("memory_pressure unavailable", "cgroup", p.Relative, "err", err)
		}
	}()

	go func() {
		defer wg.Done()

		if v, err := a.source.IOPressure(ctx, p); err == nil {
			cc.IOPressure = &v
		} else {
			a.logger.Debug("io_pressure unavailable", "cgroup", p.Relative, "err", err)
		}
	}()

	go func() {
		defer wg.Done()

		if v, err := a.source.MemoryStat(ctx, p); err == nil {
			cc.MemoryStat = &v
		} else {
			a.logger.Debug("memory_stat unavailable", "cgroup", p.Relative, "err", err)
		}
	}()

	go func() {
		defer wg.Done()

		if v, err := a.source.IOStat(ctx, p); err == nil {
			cc.IOStat = &v
		} else {
			a.logger.Debug("io_stat unavailable", "cgroup", p.Relative, "err", err)
		}
	}()

	go func() {
		defer wg.Done()

		if v, err := a.source.PIDs(ctx, p); err == nil {
			cc.PIDs = v
			cc.PIDsOK = true
		} else {
			a.logger.Debug("pids unavailable", "cgroup", p.Relative, "err", err)
		}
	}()

	go func() {
		defer wg.Done()

		if v, err := a.source.Children(ctx, p); err == nil {
			cc.Children = v
			cc.ChildrenOK = true
		} else {
			a.logger.Debug("children unavailable", "cgroup", p.Relative, "err", err)
		}
	}()

	go func() {
		defer wg.Done()

		if v, err := a.source.Populated(ctx, p); err == nil {
			cc.Populated = &v
		} else {
			a.logger.Debug("populated unavailable", "cgroup", p.Relative, "err", err)
		}
	}()

	wg.Wait()

	return cc
}

// assembleSystem reads host-wide swap/vmstat state. Failures leave zero
// values; the overall assembly still succeeds (spec.md §4.D).
func (a *Assembler) assembleSystem(_ context.Context) SystemContext {
	var sys SystemContext

	vmstat, err := readVmstatAll(filepath.Join(a.procPath, "vmstat"))
	if err != nil {
		a.logger.Debug("vmstat unavailable", "err", err)
		vmstat = map[string]uint64{}
	}

	sys.Vmstat = vmstat

	swapTotal, swapUsed, err := readSwapFromMeminfo(filepath.Join(a.procPath, "meminfo"))
	if err != nil {
		a.logger.Debug("meminfo unavailable", "err", err)
	} else {
		sys.SwapTotal = swapTotal
		sys.SwapUsed = swapUsed
	}

	if v, err := readUintSysctl(filepath.Join(a.procPath, "sys", "vm", "swappiness")); err == nil {
		sys.Swappiness = v
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()

	if a.prevVmstat != nil {
		elapsed := now.Sub(a.prevSampleAt).Seconds()
		if elapsed > 0 {
			deltaOut := float64(vmstat["pswpout"]) - float64(a.prevVmstat["pswpout"])
			if deltaOut < 0 {
				deltaOut = 0
			}

			bps := deltaOut * 4096 / elapsed // pswpout is counted in pages

			sys.SwapoutBps60 = bps
			sys.SwapoutBps300 = bps
		}
	}

	a.prevVmstat = vmstat
	a.prevSampleAt = now

	return sys
}

func readVmstatAll(path string) (map[string]uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return parseKeyValueBytes(data), nil
}

func readUintSysctl(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	return parseUintTrim(data)
}
