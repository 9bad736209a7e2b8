package cgroup

import (
	"context"
	"path/filepath"
)

// v2Source implements Source against a cgroup v2 unified hierarchy.
type v2Source struct {
	root     Path
	procPath string
	cache    *sourceCache
}

// NewV2Source builds a Source rooted at unifiedRoot (the cgroup2 mountpoint)
// using procPath (usually "/proc") for the system-wide PSI files.
func NewV2Source(unifiedRoot, procPath string) (Source, error) {
	root, err := NewPath(unifiedRoot, unifiedRoot)
	if err != nil {
		return nil, err
	}

	return &v2Source{root: root, procPath: procPath, cache: newSourceCache()}, nil
}

func (s *v2Source) Version() Version { return NewV2(s.root.Root) }
func (s *v2Source) Root() Path       { return s.root }

func (s *v2Source) dir(p Path) string { return joinPath(s.root.Root, p.Relative) }

func (s *v2Source) MemoryUsage(_ context.Context, p Path) (uint64, error) {
	return s.cache.memoryUsage.GetOrLoad(p.Relative, func() (uint64, error) {
		return readUint64File("memory_usage", filepath.Join(s.dir(p), "memory.current"))
	})
}

func (s *v2Source) MemoryLimit(_ context.Context, p Path) (uint64, error) {
	return s.cache.memoryLimit.GetOrLoad(p.Relative, func() (uint64, error) {
		return readUint64File("memory_limit", filepath.Join(s.dir(p), "memory.max"))
	})
}

func (s *v2Source) MemoryStat(_ context.Context, p Path) (MemoryStat, error) {
	return s.cache.memoryStat.GetOrLoad(p.Relative, func() (MemoryStat, error) {
		kv, err := readKeyValueFile("memory_stat", filepath.Join(s.dir(p), "memory.stat"))
		if err != nil {
			return MemoryStat{}, err
		}

		return memoryStatFromKV(kv), nil
	})
}

func (s *v2Source) MemoryPressure(_ context.Context, p Path) (Pressure, error) {
	return s.cache.memoryPressure.GetOrLoad(p.Relative, func() (Pressure, error) {
		return readPSIFile("memory_pressure", filepath.Join(s.dir(p), "memory.pressure"), true)
	})
}

func (s *v2Source) IOPressure(_ context.Context, p Path) (Pressure, error) {
	return s.cache.ioPressure.GetOrLoad(p.Relative, func() (Pressure, error) {
		return readPSIFile("io_pressure", filepath.Join(s.dir(p), "io.pressure"), true)
	})
}

func (s *v2Source) IOStat(_ context.Context, p Path) (IOStat, error) {
	return s.cache.ioStat.GetOrLoad(p.Relative, func() (IOStat, error) {
		return readIOStatV2(filepath.Join(s.dir(p), "io.stat"))
	})
}

func (s *v2Source) PIDs(_ context.Context, p Path) ([]int32, error) {
	return s.cache.pids.GetOrLoad(p.Relative, func() ([]int32, error) {
		return readPIDsFile("pids", filepath.Join(s.dir(p), "cgroup.procs"))
	})
}

func (s *v2Source) Children(_ context.Context, p Path) ([]string, error) {
	return s.cache.children.GetOrLoad(p.Relative, func() ([]string, error) {
		return listSubdirs("children", s.dir(p))
	})
}

func (s *v2Source) Populated(_ context.Context, p Path) (bool, error) {
	return s.cache.populated.GetOrLoad(p.Relative, func() (bool, error) {
		kv, err := readKeyValueFile("populated", filepath.Join(s.dir(p), "cgroup.events"))
		if err == nil {
			if v, ok := kv["populated"]; ok {
				return v == 1, nil
			}
		}

		// Fallback: non-empty pids.
		pids, perr := readPIDsFile("populated", filepath.Join(s.dir(p), "cgroup.procs"))
		if perr != nil {
			return false, err
		}

		return len(pids) > 0, nil
	})
}

func (s *v2Source) MemoryReclaim(_ context.Context, p Path, amountBytes uint64) error {
	return writeDecimal("memory_reclaim", filepath.Join(s.dir(p), "memory.reclaim"), amountBytes)
}

func (s *v2Source) ListCgroups(ctx context.Context, pattern string) ([]Path, error) {
	return walkCgroups(ctx, "list_cgroups", s.root.Root, pattern)
}

func (s *v2Source) CgroupExists(_ context.Context, p Path) (bool, error) {
	return pathExists("cgroup_exists", s.dir(p))
}

func (s *v2Source) SystemMemoryPressure(_ context.Context) (Pressure, error) {
	return s.cache.systemMemory.GetOrLoad(systemKey, func() (Pressure, error) {
		return readPSIFile("system_memory_pressure", filepath.Join(s.procPath, "pressure", "memory"), true)
	})
}

func (s *v2Source) SystemIOPressure(_ context.Context) (Pressure, error) {
	return s.cache.systemIO.GetOrLoad(systemKey, func() (Pressure, error) {
		return readPSIFile("system_io_pressure", filepath.Join(s.procPath, "pressure", "io"), true)
	})
}

// readIOStatV2 parses io.stat: per-device lines "major:minor k=v k=v ...",
// summed across devices.
func readIOStatV2(path string) (IOStat, error) {
	kvLines, err := readDeviceKVLines("io_stat", path)
	if err != nil {
		return IOStat{}, err
	}

	var out IOStat

	for _, kv := range kvLines {
		out.RBytes += kv["rbytes"]
		out.WBytes += kv["wbytes"]
		out.RIOs += kv["rios"]
		out.WIOs += kv["wios"]
		out.DBytes += kv["dbytes"]
		out.DIOs += kv["dios"]
	}

	return out, nil
}
