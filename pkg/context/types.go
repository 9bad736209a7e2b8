// Package context assembles per-cgroup field reads and system-wide state
// into the point-in-time OomdContext consumed by policy plugins (spec.md
// §3, §4.D).
package oomdcontext

import (
	"time"

	"github.com/ceems-dev/oomd/pkg/cgroup"
)

// CgroupContext is a point-in-time snapshot of one cgroup. Each field is an
// independent success-or-failure; a nil pointer/nil slice means that field's
// read failed or was not requested.
type CgroupContext struct {
	Path cgroup.Path

	MemoryUsage    *uint64
	MemoryLimit    *uint64
	MemoryPressure *cgroup.Pressure
	IOPressure     *cgroup.Pressure
	MemoryStat     *cgroup.MemoryStat
	IOStat         *cgroup.IOStat
	PIDs           []int32
	PIDsOK         bool
	Children       []string
	ChildrenOK     bool
	Populated      *bool

	// Age is the tick counter at which this context was assembled.
	Age uint64
}

// IsValid requires at least MemoryUsage or MemoryPressure to be present, per
// spec.md §3.
func (c CgroupContext) IsValid() bool {
	return c.MemoryUsage != nil || c.MemoryPressure != nil
}

// SystemContext is host-wide state gathered once per tick alongside the
// per-cgroup contexts.
type SystemContext struct {
	SwapTotal     uint64
	SwapUsed      uint64
	Swappiness    uint64
	SwapoutBps60  float64
	SwapoutBps300 float64
	Vmstat        map[string]uint64
}

// OomdContext is the read-only, point-in-time view policy plugins evaluate
// against. It is produced once per tick by the Assembler.
type OomdContext struct {
	Cgroups       map[string]CgroupContext // keyed by relative path
	System        SystemContext
	Timestamp     time.Time
	CacheAge      time.Duration
	TickID        string
}
