package cgroup

import (
	"bufio"
	"os"
	"strings"
)

// mountEntry is one parsed line of /proc/mounts: "device mountpoint fstype
// options ...".
type mountEntry struct {
	device     string
	mountpoint string
	fstype     string
	options    []string
}

func parseMounts(path string) ([]mountEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newError(KindIO, "parse_mounts", path, err)
	}
	defer f.Close()

	var entries []mountEntry

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}

		entries = append(entries, mountEntry{
			device:     fields[0],
			mountpoint: fields[1],
			fstype:     fields[2],
			options:    strings.Split(fields[3], ","),
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, newError(KindIO, "parse_mounts", path, err)
	}

	return entries, nil
}

func hasOption(options []string, token string) bool {
	for _, o := range options {
		if o == token {
			return true
		}
	}

	return false
}

// findUnifiedMount scans /proc/mounts for the cgroup2 unified mountpoint.
func findUnifiedMount(mountsPath string) (string, error) {
	entries, err := parseMounts(mountsPath)
	if err != nil {
		return "", err
	}

	for _, e := range entries {
		if e.fstype == "cgroup2" {
			return e.mountpoint, nil
		}
	}

	return "", newError(KindCgroupNotFound, "find_unified_mount", mountsPath, errNoCgroup2Mount)
}

var errNoCgroup2Mount = &mountError{"no cgroup2 mount found in /proc/mounts"}

type mountError struct{ msg string }

func (e *mountError) Error() string { return e.msg }

// findV1SubsystemMounts scans /proc/mounts for cgroup v1 mount points whose
// options contain one of the required subsystem tokens, returning a map
// from subsystem name to mountpoint.
func findV1SubsystemMounts(mountsPath string, subsystems []string) (map[string]string, error) {
	entries, err := parseMounts(mountsPath)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(subsystems))

	for _, e := range entries {
		if e.fstype != "cgroup" {
			continue
		}

		for _, s := range subsystems {
			if hasOption(e.options, s) {
				out[s] = e.mountpoint
			}
		}
	}

	for _, s := range subsystems {
		if _, ok := out[s]; !ok {
			return nil, newError(KindCgroupNotFound, "find_v1_subsystem_mounts", mountsPath, &mountError{"no mount for subsystem " + s})
		}
	}

	return out, nil
}
