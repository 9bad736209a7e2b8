// Package cgroup implements a version-agnostic abstraction over cgroup v1,
// cgroup v2 and the hybrid arrangement: parsing PSI and usage/stat files,
// synthesizing a comparable pressure signal where the kernel does not
// export one, and caching reads with short per-field TTLs.
package cgroup

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures raised by the cgroup source layer so callers
// can decide policy (fatal vs per-field absent) without string matching.
type ErrorKind int

const (
	// KindCgroupNotFound is raised when a hierarchy mount or cgroup directory
	// cannot be located.
	KindCgroupNotFound ErrorKind = iota
	// KindInvalidPath is raised when a CgroupPath's path is not a descendant
	// of its root.
	KindInvalidPath
	// KindPressureUnavailable is raised when a PSI file is absent or malformed.
	KindPressureUnavailable
	// KindIO is raised on an underlying filesystem error.
	KindIO
	// KindParse is raised on a malformed integer, float, PSI line or stat line.
	KindParse
)

func (k ErrorKind) String() string {
	switch k {
	case KindCgroupNotFound:
		return "CgroupNotFound"
	case KindInvalidPath:
		return "InvalidPath"
	case KindPressureUnavailable:
		return "PressureUnavailable"
	case KindIO:
		return "Io"
	case KindParse:
		return "Parse"
	default:
		return "Unknown"
	}
}

// Error is the error type raised by this package. It carries a Kind so
// callers can branch with errors.As instead of matching strings.
type Error struct {
	Kind ErrorKind
	Op   string // operation that failed, e.g. "memory_pressure", "list_cgroups"
	Path string // cgroup relative path or file path involved, if any
	Err  error  // wrapped underlying error, if any
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Kind, e.Op, e.Path, e.Err)
	}

	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// IsKind reports whether err (or something it wraps) is a *Error of kind k.
func IsKind(err error, k ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}

	return false
}

// Version is a tagged variant describing which cgroup hierarchy arrangement
// the running system exposes. Exactly one variant describes a given system.
type Version struct {
	kind vkind

	// V1 fields.
	memoryRoot  string
	cpuRoot     string
	blkioRoot   string
	cpusetRoot  string

	// V2 / Hybrid fields.
	unifiedRoot string

	// Hybrid also carries the v1 root alongside unifiedRoot.
	v1Root string
}

type vkind int

const (
	vkindV1 vkind = iota
	vkindV2
	vkindHybrid
)

// NewV1 builds a V1 variant from per-subsystem mount paths.
func NewV1(memoryRoot, cpuRoot, blkioRoot, cpusetRoot string) Version {
	return Version{kind: vkindV1, memoryRoot: memoryRoot, cpuRoot: cpuRoot, blkioRoot: blkioRoot, cpusetRoot: cpusetRoot}
}

// NewV2 builds a V2 variant from the unified mount path.
func NewV2(unifiedRoot string) Version {
	return Version{kind: vkindV2, unifiedRoot: unifiedRoot}
}

// NewHybrid builds a Hybrid variant from both the v1 and v2 roots.
func NewHybrid(v1Root, unifiedRoot string) Version {
	return Version{kind: vkindHybrid, v1Root: v1Root, unifiedRoot: unifiedRoot}
}

// IsV1 reports whether this is the pure V1 variant.
func (v Version) IsV1() bool { return v.kind == vkindV1 }

// IsV2 reports whether this is the pure V2 variant.
func (v Version) IsV2() bool { return v.kind == vkindV2 }

// IsHybrid reports whether this is the Hybrid variant.
func (v Version) IsHybrid() bool { return v.kind == vkindHybrid }

// SupportsPSI is false only for the pure V1 variant: V2 and Hybrid both
// expose at least a unified tree where PSI files live.
func (v Version) SupportsPSI() bool { return v.kind != vkindV1 }

// String implements fmt.Stringer.
func (v Version) String() string {
	switch v.kind {
	case vkindV1:
		return "v1"
	case vkindV2:
		return "v2"
	case vkindHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// Path identifies a cgroup by the filesystem root it was discovered under,
// its absolute path, and that path's root-relative form. Equality is by
// (root, relative).
type Path struct {
	Root     string
	AbsPath  string
	Relative string
}

// NewPath builds a Path, validating that absPath is a descendant of root and
// deriving Relative as absPath with root stripped and normalized to
// forward-slash form.
func NewPath(root, absPath string) (Path, error) {
	root = strings.TrimRight(filepathToSlash(root), "/")
	abs := filepathToSlash(absPath)

	if abs != root && !strings.HasPrefix(abs, root+"/") {
		return Path{}, newError(KindInvalidPath, "new_path", absPath, fmt.Errorf("%q is not a descendant of %q", absPath, root))
	}

	rel := strings.TrimPrefix(abs, root)
	rel = strings.TrimPrefix(rel, "/")

	return Path{Root: root, AbsPath: abs, Relative: rel}, nil
}

// Equal compares two Paths by (Root, Relative), per the type's identity
// invariant.
func (p Path) Equal(o Path) bool {
	return p.Root == o.Root && p.Relative == o.Relative
}

// String implements fmt.Stringer.
func (p Path) String() string { return p.AbsPath }

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// Pressure holds a PSI-format pressure average: percent-stall time over the
// last 10/60/300 seconds, plus an optional cumulative total in microseconds.
type Pressure struct {
	Sec10   float64
	Sec60   float64
	Sec300  float64
	HasTotal bool
	Total    uint64
}

// Weighted returns the composite scalar favoring recent stalls, as defined
// in spec.md: max(sec10, 0.8*sec60, 0.6*sec300).
func (p Pressure) Weighted() float64 {
	w := p.Sec10
	if v := p.Sec60 * 0.8; v > w {
		w = v
	}

	if v := p.Sec300 * 0.6; v > w {
		w = v
	}

	return w
}

// MemoryStat is the fixed set of non-negative counters parsed out of
// memory.stat. Unknown keys are ignored; absent keys default to zero.
type MemoryStat struct {
	Anon                  uint64
	File                  uint64
	KernelStack           uint64
	Slab                  uint64
	Sock                  uint64
	Shmem                 uint64
	FileMapped            uint64
	FileDirty             uint64
	FileWriteback         uint64
	AnonTHP               uint64
	InactiveAnon          uint64
	ActiveAnon            uint64
	InactiveFile          uint64
	ActiveFile            uint64
	Unevictable           uint64
	SlabReclaimable       uint64
	SlabUnreclaimable     uint64
	Pgfault               uint64
	Pgmajfault            uint64
	WorkingsetRefault     uint64
	WorkingsetActivate    uint64
	WorkingsetNodereclaim uint64
	Pgrefill              uint64
	Pgscan                uint64
	Pgsteal               uint64
	Pgactivate            uint64
	Pgdeactivate          uint64
	Pglazyfree            uint64
	Pglazyfreed           uint64
	THPFaultAlloc         uint64
	THPCollapseAlloc      uint64
}

// IOStat is block-IO activity aggregated across all devices of a cgroup.
type IOStat struct {
	RBytes uint64
	WBytes uint64
	RIOs   uint64
	WIOs   uint64
	DBytes uint64
	DIOs   uint64
}
