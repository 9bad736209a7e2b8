package cgroup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newV2TestSource(t *testing.T) Source {
	t.Helper()

	src, err := NewV2Source("testdata/sys/fs/cgroup/v2", "testdata/proc")
	require.NoError(t, err)

	return src
}

func TestV2SourceVersion(t *testing.T) {
	src := newV2TestSource(t)
	assert.True(t, src.Version().IsV2())
	assert.True(t, src.Version().SupportsPSI())
}

func TestV2SourceMemoryUsageAndLimit(t *testing.T) {
	src := newV2TestSource(t)
	root := src.Root()

	usage, err := src.MemoryUsage(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, uint64(104857600), usage)

	limit, err := src.MemoryLimit(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, uint64(209715200), limit)
}

func TestV2SourceMemoryLimitMaxSentinelIsUnlimited(t *testing.T) {
	src := newV2TestSource(t)
	root := src.Root()

	child, err := NewPath(root.Root, root.AbsPath+"/user.slice")
	require.NoError(t, err)

	limit, err := src.MemoryLimit(context.Background(), child)
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), limit)
}

func TestV2SourceMemoryPressurePrefersFullLine(t *testing.T) {
	src := newV2TestSource(t)

	p, err := src.MemoryPressure(context.Background(), src.Root())
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.Sec10)
	assert.True(t, p.HasTotal)
	assert.Equal(t, uint64(500), p.Total)
}

func TestV2SourceIOPressure(t *testing.T) {
	src := newV2TestSource(t)

	p, err := src.IOPressure(context.Background(), src.Root())
	require.NoError(t, err)
	assert.Equal(t, 4.0, p.Sec10)
}

func TestV2SourceIOStatSumsDeviceLines(t *testing.T) {
	src := newV2TestSource(t)

	io, err := src.IOStat(context.Background(), src.Root())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), io.RBytes)
	assert.Equal(t, uint64(200), io.WBytes)
	assert.Equal(t, uint64(5), io.RIOs)
	assert.Equal(t, uint64(10), io.WIOs)
}

func TestV2SourcePopulatedFromCgroupEvents(t *testing.T) {
	src := newV2TestSource(t)
	root := src.Root()

	populated, err := src.Populated(context.Background(), root)
	require.NoError(t, err)
	assert.True(t, populated)

	child, err := NewPath(root.Root, root.AbsPath+"/user.slice")
	require.NoError(t, err)

	populated, err = src.Populated(context.Background(), child)
	require.NoError(t, err)
	assert.False(t, populated)
}

func TestV2SourcePIDsAndChildren(t *testing.T) {
	src := newV2TestSource(t)
	root := src.Root()

	pids, err := src.PIDs(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []int32{111, 222}, pids)

	children, err := src.Children(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"user.slice"}, children)
}

func TestV2SourceListCgroupsFiltersBySubstring(t *testing.T) {
	src := newV2TestSource(t)

	matches, err := src.ListCgroups(context.Background(), "user")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "user.slice", matches[0].Relative)

	none, err := src.ListCgroups(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Empty(t, none)
}
