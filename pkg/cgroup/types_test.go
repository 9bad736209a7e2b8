package cgroup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPath(t *testing.T) {
	p, err := NewPath("/sys/fs/cgroup", "/sys/fs/cgroup/user.slice/foo")
	require.NoError(t, err)
	assert.Equal(t, "/sys/fs/cgroup", p.Root)
	assert.Equal(t, "user.slice/foo", p.Relative)

	root, err := NewPath("/sys/fs/cgroup", "/sys/fs/cgroup")
	require.NoError(t, err)
	assert.Empty(t, root.Relative)
}

func TestNewPathRejectsNonDescendant(t *testing.T) {
	_, err := NewPath("/sys/fs/cgroup", "/etc/passwd")
	require.Error(t, err)
}

func TestPathEqual(t *testing.T) {
	a, err := NewPath("/sys/fs/cgroup", "/sys/fs/cgroup/a")
	require.NoError(t, err)
	b, err := NewPath("/sys/fs/cgroup", "/sys/fs/cgroup/a")
	require.NoError(t, err)
	c, err := NewPath("/sys/fs/cgroup", "/sys/fs/cgroup/b")
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
