package action

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadOOMInt(t *testing.T) {
	dir := t.TempDir()
	pidDir := filepath.Join(dir, "1234")
	require.NoError(t, os.MkdirAll(pidDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pidDir, "oom_score"), []byte("42\n"), 0o600))

	assert.Equal(t, int32(42), readOOMInt(dir, 1234, "oom_score"))
	assert.Equal(t, int32(0), readOOMInt(dir, 1234, "oom_score_adj"), "missing file defaults to zero")
	assert.Equal(t, int32(0), readOOMInt(dir, 9999, "oom_score"), "missing pid defaults to zero")
}

func TestGatherProcessInfoCurrentProcess(t *testing.T) {
	fs, err := procfs.NewFS("/proc")
	require.NoError(t, err)

	info, err := gatherProcessInfo(fs, "/proc", int32(os.Getpid()))
	require.NoError(t, err)
	assert.Equal(t, int32(os.Getpid()), info.PID)
	assert.NotEmpty(t, info.Comm)
	assert.Positive(t, info.StartTicks)
}

func TestGatherProcessInfoUnknownPID(t *testing.T) {
	fs, err := procfs.NewFS("/proc")
	require.NoError(t, err)

	_, err = gatherProcessInfo(fs, "/proc", 1<<30)
	require.Error(t, err)
}
