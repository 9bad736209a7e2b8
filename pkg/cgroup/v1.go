package cgroup

import (
	"context"
	"math"
	"path/filepath"
)

// v1Source implements Source against the per-controller cgroup v1 mounts.
// V1 exports no PSI, so pressure is synthesized from /proc/vmstat and from
// each cgroup's own usage/IO counters (spec.md §4.A).
type v1Source struct {
	memoryRoot Path
	blkioRoot  string
	procPath   string
	cache      *sourceCache
}

// NewV1Source builds a Source from the memory and blkio subsystem mount
// points (the ones whose files this spec reads) and procPath ("/proc") for
// vmstat-derived synthesis.
func NewV1Source(memoryRoot, blkioRoot, procPath string) (Source, error) {
	root, err := NewPath(memoryRoot, memoryRoot)
	if err != nil {
		return nil, err
	}

	return &v1Source{memoryRoot: root, blkioRoot: blkioRoot, procPath: procPath, cache: newSourceCache()}, nil
}

func (s *v1Source) Version() Version { return NewV1(s.memoryRoot.Root, "", s.blkioRoot, "") }
func (s *v1Source) Root() Path       { return s.memoryRoot }

func (s *v1Source) memDir(p Path) string   { return joinPath(s.memoryRoot.Root, p.Relative) }
func (s *v1Source) blkioDir(p Path) string { return joinPath(s.blkioRoot, p.Relative) }

func (s *v1Source) MemoryUsage(_ context.Context, p Path) (uint64, error) {
	return s.cache.memoryUsage.GetOrLoad(p.Relative, func() (uint64, error) {
		return readUint64File("memory_usage", filepath.Join(s.memDir(p), "memory.usage_in_bytes"))
	})
}

func (s *v1Source) MemoryLimit(_ context.Context, p Path) (uint64, error) {
	return s.cache.memoryLimit.GetOrLoad(p.Relative, func() (uint64, error) {
		return readUint64File("memory_limit", filepath.Join(s.memDir(p), "memory.limit_in_bytes"))
	})
}

func (s *v1Source) MemoryStat(_ context.Context, p Path) (MemoryStat, error) {
	return s.cache.memoryStat.GetOrLoad(p.Relative, func() (MemoryStat, error) {
		kv, err := readKeyValueFile("memory_stat", filepath.Join(s.memDir(p), "memory.stat"))
		if err != nil {
			return MemoryStat{}, err
		}

		return memoryStatFromKV(kv), nil
	})
}

func (s *v1Source) PIDs(_ context.Context, p Path) ([]int32, error) {
	return s.cache.pids.GetOrLoad(p.Relative, func() ([]int32, error) {
		return readPIDsFile("pids", filepath.Join(s.memDir(p), "cgroup.procs"))
	})
}

func (s *v1Source) Children(_ context.Context, p Path) ([]string, error) {
	return s.cache.children.GetOrLoad(p.Relative, func() ([]string, error) {
		return listSubdirs("children", s.memDir(p))
	})
}

func (s *v1Source) Populated(_ context.Context, p Path) (bool, error) {
	return s.cache.populated.GetOrLoad(p.Relative, func() (bool, error) {
		pids, err := readPIDsFile("populated", filepath.Join(s.memDir(p), "cgroup.procs"))
		if err != nil {
			return false, err
		}

		return len(pids) > 0, nil
	})
}

func (s *v1Source) MemoryReclaim(_ context.Context, p Path, amountBytes uint64) error {
	// Kernel memory.force_empty ignores the value and always reclaims
	// everything; the amount is recorded by the caller as a status hint
	// only (spec.md §9).
	return writeDecimal("memory_reclaim", filepath.Join(s.memDir(p), "memory.force_empty"), amountBytes)
}

func (s *v1Source) ListCgroups(ctx context.Context, pattern string) ([]Path, error) {
	return walkCgroups(ctx, "list_cgroups", s.memoryRoot.Root, pattern)
}

func (s *v1Source) CgroupExists(_ context.Context, p Path) (bool, error) {
	return pathExists("cgroup_exists", s.memDir(p))
}

func (s *v1Source) IOStat(_ context.Context, p Path) (IOStat, error) {
	return s.cache.ioStat.GetOrLoad(p.Relative, func() (IOStat, error) {
		return readIOStatV1(s.blkioDir(p))
	})
}

// MemoryPressure synthesizes a per-cgroup signal from the system-wide
// synthetic pressure, scaled by usage/limit clamped to [0,1].
func (s *v1Source) MemoryPressure(ctx context.Context, p Path) (Pressure, error) {
	return s.cache.memoryPressure.GetOrLoad(p.Relative, func() (Pressure, error) {
		sys, err := s.SystemMemoryPressure(ctx)
		if err != nil {
			return Pressure{}, err
		}

		usage, err := s.MemoryUsage(ctx, p)
		if err != nil {
			return Pressure{}, err
		}

		limit, err := s.MemoryLimit(ctx, p)
		if err != nil || limit == 0 {
			return Pressure{}, newError(KindPressureUnavailable, "memory_pressure", p.Relative, errSynthesisNeedsLimit)
		}

		ratio := clamp01(float64(usage) / float64(limit))

		return Pressure{
			Sec10:  sys.Sec10 * ratio,
			Sec60:  sys.Sec60 * ratio,
			Sec300: sys.Sec300 * ratio,
		}, nil
	})
}

var errSynthesisNeedsLimit = &mountError{"memory limit unavailable; cannot synthesize pressure"}

// IOPressure synthesizes a per-cgroup signal bucketed on total IO ops.
func (s *v1Source) IOPressure(ctx context.Context, p Path) (Pressure, error) {
	return s.cache.ioPressure.GetOrLoad(p.Relative, func() (Pressure, error) {
		io, err := s.IOStat(ctx, p)
		if err != nil {
			return Pressure{}, err
		}

		total := io.RIOs + io.WIOs

		var sec10 float64

		switch {
		case total > 1000:
			sec10 = 80
		case total > 100:
			sec10 = 50
		default:
			sec10 = 10
		}

		return Pressure{Sec10: sec10, Sec60: sec10 * 0.8, Sec300: sec10 * 0.6}, nil
	})
}

// SystemMemoryPressure synthesizes a system-wide signal from /proc/vmstat's
// scan/steal counters, per spec.md §4.A.
func (s *v1Source) SystemMemoryPressure(_ context.Context) (Pressure, error) {
	return s.cache.systemMemory.GetOrLoad(systemKey, func() (Pressure, error) {
		kv, err := readKeyValueFile("system_memory_pressure", filepath.Join(s.procPath, "vmstat"))
		if err != nil {
			return Pressure{}, err
		}

		scan := kv["pgscan_kswapd"] + kv["pgscan_direct"]
		steal := kv["pgsteal_kswapd"] + kv["pgsteal_direct"]

		var sec10 float64
		if scan > 0 {
			sec10 = math.Min(100, 100*float64(steal)/float64(scan))
		}

		return Pressure{Sec10: sec10, Sec60: sec10 * 0.8, Sec300: sec10 * 0.6}, nil
	})
}

// SystemIOPressure synthesizes a system-wide signal from /proc/vmstat's
// dirty/writeback counters, per spec.md §4.A.
func (s *v1Source) SystemIOPressure(_ context.Context) (Pressure, error) {
	return s.cache.systemIO.GetOrLoad(systemKey, func() (Pressure, error) {
		kv, err := readKeyValueFile("system_io_pressure", filepath.Join(s.procPath, "vmstat"))
		if err != nil {
			return Pressure{}, err
		}

		dirty := kv["nr_dirty"] + kv["nr_writeback"]

		var sec10 float64

		switch {
		case dirty > 10000:
			sec10 = 90
		case dirty > 1000:
			sec10 = 60
		default:
			sec10 = 20
		}

		return Pressure{Sec10: sec10, Sec60: sec10 * 0.8, Sec300: sec10 * 0.6}, nil
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}

	if v > 1 {
		return 1
	}

	return v
}

// readIOStatV1 sums "Total Read <v>" / "Total Write <v>" lines out of
// blkio.io_service_bytes (bytes) and blkio.io_serviced (IO counts).
func readIOStatV1(blkioDir string) (IOStat, error) {
	var out IOStat

	bytesTotals, err := readBlkioTotals(filepath.Join(blkioDir, "blkio.io_service_bytes"))
	if err != nil {
		return IOStat{}, err
	}

	out.RBytes = bytesTotals["Read"]
	out.WBytes = bytesTotals["Write"]

	iosTotals, err := readBlkioTotals(filepath.Join(blkioDir, "blkio.io_serviced"))
	if err != nil {
		return IOStat{}, err
	}

	out.RIOs = iosTotals["Read"]
	out.WIOs = iosTotals["Write"]

	return out, nil
}
