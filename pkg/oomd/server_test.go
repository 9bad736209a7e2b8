package oomd

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceems-dev/oomd/pkg/cgroup"
	oomdcontext "github.com/ceems-dev/oomd/pkg/context"
	"github.com/ceems-dev/oomd/pkg/loop"
	"github.com/ceems-dev/oomd/pkg/plugin"
)

func newLoopForServerTest(t *testing.T) *loop.Loop {
	t.Helper()

	root, err := cgroup.NewPath("/sys/fs/cgroup", "/sys/fs/cgroup")
	require.NoError(t, err)

	source := &configFakeSource{root: root}
	assembler := oomdcontext.NewAssembler(source, noOpLogger(), t.TempDir())
	targets := loop.StaticRoots{Roots: []cgroup.Path{root}}

	return loop.New(noOpLogger(), source, assembler, targets, nil, nil, loop.Config{})
}

func noOpLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDetector struct {
	plugin.BasePlugin
}

func (d *fakeDetector) Detect(context.Context, *oomdcontext.OomdContext) (plugin.Ret, error) {
	return plugin.Continue, nil
}

func TestHandleStatusReturnsPluginSnapshots(t *testing.T) {
	d := &fakeDetector{BasePlugin: plugin.BasePlugin{PluginName: "mem-pressure"}}
	require.NoError(t, d.Init(map[string]any{}))

	l := newLoopForServerTest(t)

	s, err := NewServer(noOpLogger(), l, []plugin.Detector{d}, nil, WebConfig{Addresses: []string{":0"}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()

	s.handleStatus(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	plugins, ok := body["plugins"].([]any)
	require.True(t, ok)
	require.Len(t, plugins, 1)

	entry := plugins[0].(map[string]any)
	assert.Equal(t, "mem-pressure", entry["name"])
	assert.Equal(t, "detector", entry["type"])
}

func TestFirstOr(t *testing.T) {
	assert.Equal(t, ":9000", firstOr(nil, ":9000"))
	assert.Equal(t, ":1234", firstOr([]string{":1234", ":5678"}, ":9000"))
}
