package cgroup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalkCgroupsEmptyPatternReturnsAllDescendants(t *testing.T) {
	paths, err := walkCgroups(context.Background(), "list_cgroups", "testdata/sys/fs/cgroup/v2", "")
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "user.slice", paths[0].Relative)
}

func TestWalkCgroupsSubstringPatternMatches(t *testing.T) {
	paths, err := walkCgroups(context.Background(), "list_cgroups", "testdata/sys/fs/cgroup/v1/memory", "slice")
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "system.slice", paths[0].Relative)
}

func TestWalkCgroupsNoMatchReturnsEmpty(t *testing.T) {
	paths, err := walkCgroups(context.Background(), "list_cgroups", "testdata/sys/fs/cgroup/v2", "nonexistent")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestWalkCgroupsHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := walkCgroups(ctx, "list_cgroups", "testdata/sys/fs/cgroup/v2", "")
	require.Error(t, err)
}
