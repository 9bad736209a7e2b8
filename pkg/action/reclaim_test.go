package action

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceems-dev/oomd/internal/security"
	"github.com/ceems-dev/oomd/pkg/cgroup"
	oomdcontext "github.com/ceems-dev/oomd/pkg/context"
)

func noOpLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAllRelativePathsSorted(t *testing.T) {
	octx := &oomdcontext.OomdContext{Cgroups: map[string]oomdcontext.CgroupContext{
		"zeta": {}, "alpha": {}, "mid": {},
	}}

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, allRelativePaths(octx))
}

func TestHighestUsagePathsTruncatesAndSorts(t *testing.T) {
	u1, u2, u3 := uint64(10), uint64(90), uint64(50)
	octx := &oomdcontext.OomdContext{Cgroups: map[string]oomdcontext.CgroupContext{
		"low":  {MemoryUsage: &u1},
		"high": {MemoryUsage: &u2},
		"mid":  {MemoryUsage: &u3},
		"none": {},
	}}

	assert.Equal(t, []string{"high", "mid"}, highestUsagePaths(octx, 2))
}

// reclaimFakeSource records the amount passed to MemoryReclaim and can be
// configured to fail for a specific relative path.
type reclaimFakeSource struct {
	root        cgroup.Path
	failPaths   map[string]bool
	reclaimed   map[string]uint64
}

func (f *reclaimFakeSource) Version() cgroup.Version { return cgroup.Version{} }
func (f *reclaimFakeSource) MemoryUsage(context.Context, cgroup.Path) (uint64, error) { return 0, nil }
func (f *reclaimFakeSource) MemoryLimit(context.Context, cgroup.Path) (uint64, error) { return 0, nil }
func (f *reclaimFakeSource) MemoryPressure(context.Context, cgroup.Path) (cgroup.Pressure, error) {
	return cgroup.Pressure{}, nil
}
func (f *reclaimFakeSource) IOPressure(context.Context, cgroup.Path) (cgroup.Pressure, error) {
	return cgroup.Pressure{}, nil
}
func (f *reclaimFakeSource) MemoryStat(context.Context, cgroup.Path) (cgroup.MemoryStat, error) {
	return cgroup.MemoryStat{}, nil
}
func (f *reclaimFakeSource) IOStat(context.Context, cgroup.Path) (cgroup.IOStat, error) {
	return cgroup.IOStat{}, nil
}
func (f *reclaimFakeSource) PIDs(context.Context, cgroup.Path) ([]int32, error)      { return nil, nil }
func (f *reclaimFakeSource) Children(context.Context, cgroup.Path) ([]string, error) { return nil, nil }
func (f *reclaimFakeSource) Populated(context.Context, cgroup.Path) (bool, error)     { return true, nil }

func (f *reclaimFakeSource) MemoryReclaim(_ context.Context, p cgroup.Path, amount uint64) error {
	if f.failPaths[p.Relative] {
		return errors.New("reclaim failed")
	}

	if f.reclaimed == nil {
		f.reclaimed = map[string]uint64{}
	}

	f.reclaimed[p.Relative] = amount

	return nil
}

func (f *reclaimFakeSource) ListCgroups(context.Context, string) ([]cgroup.Path, error) { return nil, nil }
func (f *reclaimFakeSource) CgroupExists(context.Context, cgroup.Path) (bool, error)     { return true, nil }
func (f *reclaimFakeSource) SystemMemoryPressure(context.Context) (cgroup.Pressure, error) {
	return cgroup.Pressure{}, nil
}
func (f *reclaimFakeSource) SystemIOPressure(context.Context) (cgroup.Pressure, error) {
	return cgroup.Pressure{}, nil
}
func (f *reclaimFakeSource) Root() cgroup.Path { return f.root }

func TestReclaimAllSucceedsIfAnyTargetSucceeds(t *testing.T) {
	root, err := cgroup.NewPath("/sys/fs/cgroup", "/sys/fs/cgroup")
	require.NoError(t, err)

	source := &reclaimFakeSource{root: root, failPaths: map[string]bool{"bad": true}}
	a := &reclaimAction{logger: noOpLogger(), source: source, reclaimBytes: 1000, percentage: 100}

	err = a.reclaimAll(context.Background(), nil, []string{"bad", "good"})
	require.NoError(t, err, "partial success across targets should be reported as success")
	assert.Equal(t, uint64(1000), source.reclaimed["good"])
}

func TestReclaimAllFailsIfEveryTargetFails(t *testing.T) {
	root, err := cgroup.NewPath("/sys/fs/cgroup", "/sys/fs/cgroup")
	require.NoError(t, err)

	source := &reclaimFakeSource{root: root, failPaths: map[string]bool{"a": true, "b": true}}
	a := &reclaimAction{logger: noOpLogger(), source: source, reclaimBytes: 1000, percentage: 100}

	err = a.reclaimAll(context.Background(), nil, []string{"a", "b"})
	require.Error(t, err)
}

func TestReclaimOneAppliesPercentage(t *testing.T) {
	root, err := cgroup.NewPath("/sys/fs/cgroup", "/sys/fs/cgroup")
	require.NoError(t, err)

	source := &reclaimFakeSource{root: root}
	a := &reclaimAction{logger: noOpLogger(), source: source, reclaimBytes: 1000, percentage: 50}

	require.NoError(t, a.reclaimOne(context.Background(), "foo"))
	assert.Equal(t, uint64(500), source.reclaimed["foo"])
}

func TestDropCacheRestoresOriginalValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drop_caches")
	require.NoError(t, os.WriteFile(path, []byte("0\n"), 0o600))

	a := &reclaimAction{logger: noOpLogger(), dropCachePath: path}

	require.NoError(t, a.dropCache())

	restored, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0", string(restored))
}

func TestDropCacheDryRunLeavesFileUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drop_caches")
	require.NoError(t, os.WriteFile(path, []byte("0\n"), 0o600))

	a := &reclaimAction{logger: noOpLogger(), dropCachePath: path, dryRun: true}

	require.NoError(t, a.dropCache())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0\n", string(content))
}

func TestWriteDropCacheUsesSecurityContextWhenConfigured(t *testing.T) {
	var captured *dropCacheData

	ctx, err := security.NewSecurityContext(&security.SCConfig{
		Name:         "reclaim_drop_cache",
		ExecNatively: true,
		Func: func(data any) error {
			captured = data.(*dropCacheData)

			return nil
		},
	})
	require.NoError(t, err)

	a := &reclaimAction{logger: noOpLogger(), reclaimer: ctx, dropCachePath: "/proc/sys/vm/drop_caches"}

	require.NoError(t, a.writeDropCache([]byte("1")))
	require.NotNil(t, captured)
	assert.Equal(t, "/proc/sys/vm/drop_caches", captured.path)
	assert.Equal(t, []byte("1"), captured.value)
}

func TestWriteDropCacheFallsBackToDirectWriteWithoutSecurityContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drop_caches")
	require.NoError(t, os.WriteFile(path, []byte("0\n"), 0o600))

	a := &reclaimAction{logger: noOpLogger(), dropCachePath: path}

	require.NoError(t, a.writeDropCache([]byte("1")))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1", string(content))
}
