package cgroup

import "context"

// Source is the capability set every cgroup hierarchy implementation (V1,
// V2, Hybrid) exposes identically, per spec.md §4.A. Callers needing a
// single field call the source directly; the context assembler fans these
// out concurrently.
type Source interface {
	Version() Version

	MemoryUsage(ctx context.Context, p Path) (uint64, error)
	MemoryLimit(ctx context.Context, p Path) (uint64, error)
	MemoryPressure(ctx context.Context, p Path) (Pressure, error)
	IOPressure(ctx context.Context, p Path) (Pressure, error)
	MemoryStat(ctx context.Context, p Path) (MemoryStat, error)
	IOStat(ctx context.Context, p Path) (IOStat, error)
	PIDs(ctx context.Context, p Path) ([]int32, error)
	Children(ctx context.Context, p Path) ([]string, error)
	Populated(ctx context.Context, p Path) (bool, error)

	// MemoryReclaim requests the kernel reclaim roughly amountBytes of
	// memory from the cgroup at p. See spec.md §4.H and §9 for the v1
	// memory.force_empty caveat: the value written there is a hint,
	// recorded in status, and does not bound what the kernel reclaims.
	MemoryReclaim(ctx context.Context, p Path, amountBytes uint64) error

	// ListCgroups walks the hierarchy root and returns every descendant
	// directory whose relative path contains pattern ("" matches all).
	ListCgroups(ctx context.Context, pattern string) ([]Path, error)

	// CgroupExists reports whether p's directory exists. Non-existence is
	// a (false, nil) result, not an error; only IO errors beyond
	// not-found propagate.
	CgroupExists(ctx context.Context, p Path) (bool, error)

	SystemMemoryPressure(ctx context.Context) (Pressure, error)
	SystemIOPressure(ctx context.Context) (Pressure, error)

	// Root returns the Path identifying the hierarchy's root, used to
	// build Path values for children discovered via ListCgroups/Children.
	Root() Path
}
