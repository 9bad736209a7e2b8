package oomd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceems-dev/oomd/pkg/cgroup"
)

func TestLoadConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("detectors: []\nactions: []\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 1.0, cfg.Tick.IntervalSeconds)
	assert.Equal(t, "*", cfg.Tick.Pattern)
}

func TestLoadConfigHonorsExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := "tick:\n  interval_seconds: 2.5\n  pattern: user.slice\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.Tick.IntervalSeconds)
	assert.Equal(t, "user.slice", cfg.Tick.Pattern)
}

type configFakeSource struct {
	root cgroup.Path
}

func (f *configFakeSource) Version() cgroup.Version                                 { return cgroup.Version{} }
func (f *configFakeSource) MemoryUsage(context.Context, cgroup.Path) (uint64, error) { return 0, nil }
func (f *configFakeSource) MemoryLimit(context.Context, cgroup.Path) (uint64, error) { return 0, nil }
func (f *configFakeSource) MemoryPressure(context.Context, cgroup.Path) (cgroup.Pressure, error) {
	return cgroup.Pressure{}, nil
}
func (f *configFakeSource) IOPressure(context.Context, cgroup.Path) (cgroup.Pressure, error) {
	return cgroup.Pressure{}, nil
}
func (f *configFakeSource) MemoryStat(context.Context, cgroup.Path) (cgroup.MemoryStat, error) {
	return cgroup.MemoryStat{}, nil
}
func (f *configFakeSource) IOStat(context.Context, cgroup.Path) (cgroup.IOStat, error) {
	return cgroup.IOStat{}, nil
}
func (f *configFakeSource) PIDs(context.Context, cgroup.Path) ([]int32, error)      { return nil, nil }
func (f *configFakeSource) Children(context.Context, cgroup.Path) ([]string, error) { return nil, nil }
func (f *configFakeSource) Populated(context.Context, cgroup.Path) (bool, error)    { return true, nil }
func (f *configFakeSource) MemoryReclaim(context.Context, cgroup.Path, uint64) error { return nil }
func (f *configFakeSource) ListCgroups(context.Context, string) ([]cgroup.Path, error) {
	return nil, nil
}
func (f *configFakeSource) CgroupExists(context.Context, cgroup.Path) (bool, error) { return true, nil }
func (f *configFakeSource) SystemMemoryPressure(context.Context) (cgroup.Pressure, error) {
	return cgroup.Pressure{}, nil
}
func (f *configFakeSource) SystemIOPressure(context.Context) (cgroup.Pressure, error) {
	return cgroup.Pressure{}, nil
}
func (f *configFakeSource) Root() cgroup.Path { return f.root }

func TestResolveTickTargetsDefaultsToSourceRoot(t *testing.T) {
	root, err := cgroup.NewPath("/sys/fs/cgroup", "/sys/fs/cgroup")
	require.NoError(t, err)

	source := &configFakeSource{root: root}
	roots, expand, _ := ResolveTickTargets(TickConfig{}, source)
	assert.Equal(t, []cgroup.Path{root}, roots)
	assert.True(t, expand)
}

func TestResolveTickTargetsUsesExplicitRoots(t *testing.T) {
	root, err := cgroup.NewPath("/sys/fs/cgroup", "/sys/fs/cgroup")
	require.NoError(t, err)

	source := &configFakeSource{root: root}
	cfg := TickConfig{Roots: []string{"/sys/fs/cgroup/user.slice"}, Expand: true, Pattern: "foo"}

	roots, expand, pattern := ResolveTickTargets(cfg, source)
	require.Len(t, roots, 1)
	assert.Equal(t, "user.slice", roots[0].Relative)
	assert.True(t, expand)
	assert.Equal(t, "foo", pattern)
}

func TestResolveTickTargetsSkipsInvalidRoots(t *testing.T) {
	root, err := cgroup.NewPath("/sys/fs/cgroup", "/sys/fs/cgroup")
	require.NoError(t, err)

	source := &configFakeSource{root: root}
	cfg := TickConfig{Roots: []string{"/etc/passwd"}}

	roots, _, _ := ResolveTickTargets(cfg, source)
	assert.Empty(t, roots)
}
