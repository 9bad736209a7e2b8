package cgroup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSourceForceModeV1DetectsSubsystemMounts(t *testing.T) {
	src, err := NewSource(Paths{
		ProcPath:   "testdata/proc",
		MountsFile: "testdata/proc/mounts",
		ForceMode:  "v1",
	})
	require.NoError(t, err)
	assert.True(t, src.Version().IsV1())

	usage, err := src.MemoryUsage(context.Background(), src.Root())
	require.NoError(t, err)
	assert.Equal(t, uint64(52428800), usage)
}

func TestNewSourceForceModeV2DetectsUnifiedMount(t *testing.T) {
	src, err := NewSource(Paths{
		ProcPath:   "testdata/proc",
		MountsFile: "testdata/proc/mounts",
		ForceMode:  "v2",
	})
	require.NoError(t, err)
	assert.True(t, src.Version().IsV2())

	usage, err := src.MemoryUsage(context.Background(), src.Root())
	require.NoError(t, err)
	assert.Equal(t, uint64(104857600), usage)
}

func TestNewSourceMissingMountsFileErrors(t *testing.T) {
	_, err := NewSource(Paths{MountsFile: "testdata/does-not-exist", ForceMode: "v1"})
	require.Error(t, err)
}

func TestNewHybridSourcePrefersV2FallsBackToV1(t *testing.T) {
	src, err := newHybridFromMounts(Paths{
		ProcPath:   "testdata/proc",
		MountsFile: "testdata/proc/mounts",
	})
	require.NoError(t, err)

	hybrid, ok := src.(*hybridSource)
	require.True(t, ok)

	assert.True(t, hybrid.Version().IsHybrid())

	// MemoryUsage is served by the v2 half.
	usage, err := hybrid.MemoryUsage(context.Background(), hybrid.Root())
	require.NoError(t, err)
	assert.Equal(t, uint64(104857600), usage)

	// PIDs always comes from the v1 half.
	root, err := NewPath(hybrid.v1.Root().Root, hybrid.v1.Root().AbsPath)
	require.NoError(t, err)

	pids, err := hybrid.PIDs(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []int32{444, 555}, pids)
}

func TestNewHybridSourceFallsBackToV1OnV2Error(t *testing.T) {
	src, err := newHybridFromMounts(Paths{
		ProcPath:   "testdata/proc",
		MountsFile: "testdata/proc/mounts",
	})
	require.NoError(t, err)

	hybrid := src.(*hybridSource)

	// A path that only exists under the v1 memory root, not the v2 tree.
	v1Only, err := NewPath(hybrid.v1.Root().Root, hybrid.v1.Root().AbsPath+"/system.slice")
	require.NoError(t, err)

	usage, err := hybrid.MemoryUsage(context.Background(), v1Only)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), usage)
}
