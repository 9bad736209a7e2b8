package cgroup

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/containerd/cgroups/v3"
)

// Paths configures where the filesystem-backed source layer looks for
// cgroup and proc data. Defaults match a stock Linux install.
type Paths struct {
	ProcPath    string // default "/proc"
	CgroupfsV2  string // cgroup2 unified mount, default discovered from /proc/mounts
	CgroupfsV1  string // cgroup v1 root under which per-subsystem mounts live, e.g. "/sys/fs/cgroup"
	MountsFile  string // default "/proc/mounts"
	ForceMode   string // "", "v1", "v2" -- forces detection for testing
}

// v1Subsystems are the cgroup v1 controllers this package reads files
// under.
var v1Subsystems = []string{"memory", "blkio"}

// NewSource detects the running system's cgroup arrangement (v1, v2 or
// hybrid) via containerd/cgroups' cgroups.Mode(), locates the relevant
// mountpoints from /proc/mounts, and returns a ready Source.
func NewSource(paths Paths) (Source, error) {
	if paths.ProcPath == "" {
		paths.ProcPath = "/proc"
	}

	if paths.MountsFile == "" {
		paths.MountsFile = "/proc/mounts"
	}

	mode := cgroups.Mode()
	if paths.ForceMode == "v1" {
		mode = cgroups.Legacy
	} else if paths.ForceMode == "v2" {
		mode = cgroups.Unified
	}

	switch mode {
	case cgroups.Unified:
		return newV2FromMounts(paths)
	case cgroups.Hybrid:
		return newHybridFromMounts(paths)
	default:
		return newV1FromMounts(paths)
	}
}

func newV2FromMounts(paths Paths) (Source, error) {
	root := paths.CgroupfsV2
	if root == "" {
		var err error

		root, err = findUnifiedMount(paths.MountsFile)
		if err != nil {
			return nil, err
		}
	}

	return NewV2Source(root, paths.ProcPath)
}

func newV1FromMounts(paths Paths) (Source, error) {
	if paths.CgroupfsV1 != "" {
		return NewV1Source(
			filepath.Join(paths.CgroupfsV1, "memory"),
			filepath.Join(paths.CgroupfsV1, "blkio"),
			paths.ProcPath,
		)
	}

	mounts, err := findV1SubsystemMounts(paths.MountsFile, v1Subsystems)
	if err != nil {
		return nil, err
	}

	return NewV1Source(mounts["memory"], mounts["blkio"], paths.ProcPath)
}

func newHybridFromMounts(paths Paths) (Source, error) {
	v1, err := newV1FromMounts(paths)
	if err != nil {
		return nil, fmt.Errorf("hybrid: v1 half: %w", err)
	}

	v2, err := newV2FromMounts(paths)
	if err != nil {
		return nil, fmt.Errorf("hybrid: v2 half: %w", err)
	}

	return &hybridSource{v1: v1, v2: v2}, nil
}

// hybridSource tries the unified tree first for memory usage/limit, PSI and
// stat files (cgroup and system-wide), falling back to the per-controller v1
// mounts when the v2 read fails. Memory reclaim goes to the unified tree
// only; PIDs, children, populated, listing and existence checks use the v1
// mounts only.
type hybridSource struct {
	v1, v2 Source
}

func (h *hybridSource) Version() Version {
	return NewHybrid(h.v1.Version().memoryRoot, h.v2.Version().unifiedRoot)
}

func (h *hybridSource) Root() Path { return h.v2.Root() }

func (h *hybridSource) MemoryUsage(ctx context.Context, p Path) (uint64, error) {
	if v, err := h.v2.MemoryUsage(ctx, p); err == nil {
		return v, nil
	}

	return h.v1.MemoryUsage(ctx, p)
}

func (h *hybridSource) MemoryLimit(ctx context.Context, p Path) (uint64, error) {
	if v, err := h.v2.MemoryLimit(ctx, p); err == nil {
		return v, nil
	}

	return h.v1.MemoryLimit(ctx, p)
}

func (h *hybridSource) MemoryPressure(ctx context.Context, p Path) (Pressure, error) {
	if v, err := h.v2.MemoryPressure(ctx, p); err == nil {
		return v, nil
	}

	return h.v1.MemoryPressure(ctx, p)
}

func (h *hybridSource) IOPressure(ctx context.Context, p Path) (Pressure, error) {
	if v, err := h.v2.IOPressure(ctx, p); err == nil {
		return v, nil
	}

	return h.v1.IOPressure(ctx, p)
}

func (h *hybridSource) MemoryStat(ctx context.Context, p Path) (MemoryStat, error) {
	if v, err := h.v2.MemoryStat(ctx, p); err == nil {
		return v, nil
	}

	return h.v1.MemoryStat(ctx, p)
}

func (h *hybridSource) IOStat(ctx context.Context, p Path) (IOStat, error) {
	if v, err := h.v2.IOStat(ctx, p); err == nil {
		return v, nil
	}

	return h.v1.IOStat(ctx, p)
}

func (h *hybridSource) PIDs(ctx context.Context, p Path) ([]int32, error) { return h.v1.PIDs(ctx, p) }

func (h *hybridSource) Children(ctx context.Context, p Path) ([]string, error) {
	return h.v1.Children(ctx, p)
}

func (h *hybridSource) Populated(ctx context.Context, p Path) (bool, error) {
	return h.v1.Populated(ctx, p)
}

func (h *hybridSource) MemoryReclaim(ctx context.Context, p Path, amountBytes uint64) error {
	return h.v2.MemoryReclaim(ctx, p, amountBytes)
}

func (h *hybridSource) ListCgroups(ctx context.Context, pattern string) ([]Path, error) {
	return h.v1.ListCgroups(ctx, pattern)
}

func (h *hybridSource) CgroupExists(ctx context.Context, p Path) (bool, error) {
	return h.v1.CgroupExists(ctx, p)
}

func (h *hybridSource) SystemMemoryPressure(ctx context.Context) (Pressure, error) {
	if v, err := h.v2.SystemMemoryPressure(ctx); err == nil {
		return v, nil
	}

	return h.v1.SystemMemoryPressure(ctx)
}

func (h *hybridSource) SystemIOPressure(ctx context.Context) (Pressure, error) {
	if v, err := h.v2.SystemIOPressure(ctx); err == nil {
		return v, nil
	}

	return h.v1.SystemIOPressure(ctx)
}
