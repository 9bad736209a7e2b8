package action

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
)

// ProcessInfo is the per-pid snapshot gathered at action time (spec.md §3).
type ProcessInfo struct {
	PID         int32
	Comm        string
	MemoryUsage uint64 // vsize, bytes
	CPUUsage    float64
	OOMScore    int32
	OOMScoreAdj int32
	StartTicks  uint64 // field 22 of /proc/{pid}/stat, clock ticks since boot
}

// clockTicksPerSecond is the kernel's USER_HZ, effectively always 100 on
// Linux regardless of hardware clock frequency.
const clockTicksPerSecond = 100

// gatherProcessInfo reads /proc/{pid}/stat, oom_score and oom_score_adj for
// pid. A stat file shorter than 24 whitespace-separated fields is a Parse
// error; oom_score/oom_score_adj default to 0 on any read/parse failure
// (spec.md §4.H step 2).
func gatherProcessInfo(fs procfs.FS, procPath string, pid int32) (ProcessInfo, error) {
	proc, err := fs.Proc(int(pid))
	if err != nil {
		return ProcessInfo{}, fmt.Errorf("proc %d: %w", pid, err)
	}

	stat, err := proc.Stat()
	if err != nil {
		return ProcessInfo{}, fmt.Errorf("stat %d: %w", pid, err)
	}

	info := ProcessInfo{
		PID:         pid,
		Comm:        stat.Comm,
		MemoryUsage: uint64(stat.VSize),
		CPUUsage:    float64(stat.UTime+stat.STime) / clockTicksPerSecond,
		StartTicks:  uint64(stat.Starttime),
	}

	info.OOMScore = readOOMInt(procPath, pid, "oom_score")
	info.OOMScoreAdj = readOOMInt(procPath, pid, "oom_score_adj")

	return info, nil
}

func readOOMInt(procPath string, pid int32, file string) int32 {
	data, err := os.ReadFile(fmt.Sprintf("%s/%d/%s", procPath, pid, file))
	if err != nil {
		return 0
	}

	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0
	}

	return int32(v)
}
