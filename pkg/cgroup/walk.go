package cgroup

import (
	"context"
	"path/filepath"
	"strings"
)

// walkCgroups recursively walks from root, emitting every descendant
// directory as a Path. A directory is included when pattern is empty or its
// root-relative path contains pattern as a literal substring. Every
// subdirectory is descended into regardless of whether its parent matched,
// hidden entries (leading '.') are skipped, and symlinks are never
// followed -- listSubdirs already excludes both.
func walkCgroups(ctx context.Context, op, root, pattern string) ([]Path, error) {
	var out []Path

	var walk func(dir string) error

	walk = func(dir string) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		children, err := listSubdirs(op, dir)
		if err != nil {
			return err
		}

		for _, name := range children {
			abs := filepath.Join(dir, name)

			p, err := NewPath(root, abs)
			if err != nil {
				continue
			}

			if pattern == "" || strings.Contains(p.Relative, pattern) {
				out = append(out, p)
			}

			if err := walk(abs); err != nil {
				return err
			}
		}

		return nil
	}

	if err := walk(root); err != nil {
		return nil, err
	}

	return out, nil
}
