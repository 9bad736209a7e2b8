package cgroup

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// readUint64File reads a file and parses it as a trimmed decimal uint64,
// except for the special "max" sentinel cgroup v2 uses to mean "unlimited".
func readUint64File(op, path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, newError(KindIO, op, path, err)
	}

	s := strings.TrimSpace(string(data))
	if s == "max" {
		return ^uint64(0), nil
	}

	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, newError(KindParse, op, path, err)
	}

	return v, nil
}

// writeDecimal writes a decimal integer to a control file.
func writeDecimal(op, path string, v uint64) error {
	if err := os.WriteFile(path, []byte(strconv.FormatUint(v, 10)), 0o200); err != nil {
		return newError(KindIO, op, path, err)
	}

	return nil
}

// readKeyValueFile parses a "key value" per line file (memory.stat, vmstat,
// cgroup.events) into a map. Lines that don't split into exactly two
// whitespace-separated fields are skipped.
func readKeyValueFile(op, path string) (map[string]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newError(KindIO, op, path, err)
	}
	defer f.Close()

	out := make(map[string]uint64)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}

		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}

		out[fields[0]] = v
	}

	if err := scanner.Err(); err != nil {
		return nil, newError(KindIO, op, path, err)
	}

	return out, nil
}

func memoryStatFromKV(kv map[string]uint64) MemoryStat {
	return MemoryStat{
		Anon:                  kv["anon"],
		File:                  kv["file"],
		KernelStack:           kv["kernel_stack"],
		Slab:                  kv["slab"],
		Sock:                  kv["sock"],
		Shmem:                 kv["shmem"],
		FileMapped:            kv["file_mapped"],
		FileDirty:             kv["file_dirty"],
		FileWriteback:         kv["file_writeback"],
		AnonTHP:               kv["anon_thp"],
		InactiveAnon:          kv["inactive_anon"],
		ActiveAnon:            kv["active_anon"],
		InactiveFile:          kv["inactive_file"],
		ActiveFile:            kv["active_file"],
		Unevictable:           kv["unevictable"],
		SlabReclaimable:       kv["slab_reclaimable"],
		SlabUnreclaimable:     kv["slab_unreclaimable"],
		Pgfault:               kv["pgfault"],
		Pgmajfault:            kv["pgmajfault"],
		WorkingsetRefault:     kv["workingset_refault"],
		WorkingsetActivate:    kv["workingset_activate"],
		WorkingsetNodereclaim: kv["workingset_nodereclaim"],
		Pgrefill:              kv["pgrefill"],
		Pgscan:                kv["pgscan"],
		Pgsteal:               kv["pgsteal"],
		Pgactivate:            kv["pgactivate"],
		Pgdeactivate:          kv["pgdeactivate"],
		Pglazyfree:            kv["pglazyfree"],
		Pglazyfreed:           kv["pglazyfreed"],
		THPFaultAlloc:         kv["thp_fault_alloc"],
		THPCollapseAlloc:      kv["thp_collapse_alloc"],
	}
}

// readPIDsFile parses a cgroup.procs-style file: one decimal pid per line,
// blanks skipped, unparseable lines silently skipped.
func readPIDsFile(op, path string) ([]int32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newError(KindIO, op, path, err)
	}
	defer f.Close()

	var pids []int32

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		v, err := strconv.ParseInt(line, 10, 32)
		if err != nil {
			continue
		}

		pids = append(pids, int32(v))
	}

	if err := scanner.Err(); err != nil {
		return nil, newError(KindIO, op, path, err)
	}

	return pids, nil
}

// listSubdirs returns the non-hidden subdirectory names of dir, without
// following symlinks.
func listSubdirs(op, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, newError(KindIO, op, dir, err)
	}

	var out []string

	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		if e.Type()&os.ModeSymlink != 0 {
			continue
		}

		if e.IsDir() {
			out = append(out, name)
		}
	}

	return out, nil
}

// pathExists reports whether p exists, treating not-found as (false, nil)
// and any other stat error as a propagated Io error.
func pathExists(op, p string) (bool, error) {
	_, err := os.Stat(p)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, newError(KindIO, op, p, err)
}

// readPSIFile reads and parses a PSI file at path, preferring the "full"
// line when preferFull is true.
func readPSIFile(op, path string, preferFull bool) (Pressure, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pressure{}, newError(KindIO, op, path, err)
	}

	p, err := ParsePSI(data, preferFull)
	if err != nil {
		return Pressure{}, fmt.Errorf("%s: %w", path, err)
	}

	return p, nil
}

// readDeviceKVLines parses per-device "major:minor k=v k=v ..." lines, as
// found in io.stat, into one map per device line (the leading "major:minor"
// token is discarded; callers that need it can be extended to keep it).
func readDeviceKVLines(op, path string) ([]map[string]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newError(KindIO, op, path, err)
	}
	defer f.Close()

	var out []map[string]uint64

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}

		kv := make(map[string]uint64, len(fields)-1)

		for _, f := range fields[1:] {
			parts := strings.SplitN(f, "=", 2)
			if len(parts) != 2 {
				continue
			}

			v, err := strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				continue
			}

			kv[parts[0]] = v
		}

		out = append(out, kv)
	}

	if err := scanner.Err(); err != nil {
		return nil, newError(KindIO, op, path, err)
	}

	return out, nil
}

// readBlkioTotals parses a blkio.io_service_bytes / blkio.io_serviced style
// file, whose lines are "major:minor Op value" with a trailing "Total Op
// value" summary line per op; this returns just the "Total" lines keyed by
// op ("Read"/"Write").
func readBlkioTotals(path string) (map[string]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newError(KindIO, "blkio_stat", path, err)
	}
	defer f.Close()

	out := make(map[string]uint64, 2)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 3 || fields[0] != "Total" {
			continue
		}

		v, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			continue
		}

		out[fields[1]] = v
	}

	if err := scanner.Err(); err != nil {
		return nil, newError(KindIO, "blkio_stat", path, err)
	}

	return out, nil
}

func joinPath(root string, relative string) string {
	return filepath.Join(root, filepath.FromSlash(relative))
}
