package plugin

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	oomdcontext "github.com/ceems-dev/oomd/pkg/context"
)

func noOpLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubDetector struct {
	BasePlugin
	ret Ret
}

func (s *stubDetector) Detect(context.Context, *oomdcontext.OomdContext) (Ret, error) {
	return s.ret, nil
}

func newStubDetector(rec Record, _ *slog.Logger) (Detector, error) {
	return &stubDetector{BasePlugin: BasePlugin{PluginName: rec.Name}, ret: Continue}, nil
}

func TestRetString(t *testing.T) {
	assert.Equal(t, "continue", Continue.String())
	assert.Equal(t, "stop", Stop.String())
}

func TestBuildDetectorsSortsByPriorityAndSkipsDisabled(t *testing.T) {
	RegisterDetector("stub", newStubDetector)
	defer UnregisterDetector("stub")

	records := []Record{
		{Name: "b", Type: "stub", Enabled: true, Priority: 2},
		{Name: "a", Type: "stub", Enabled: true, Priority: 1},
		{Name: "c", Type: "stub", Enabled: false, Priority: 0},
	}

	detectors, err := BuildDetectors(records, noOpLogger())
	require.NoError(t, err)
	require.Len(t, detectors, 2)
	assert.Equal(t, "a", detectors[0].Name())
	assert.Equal(t, "b", detectors[1].Name())
}

func TestBuildDetectorsRejectsUnknownType(t *testing.T) {
	_, err := BuildDetectors([]Record{{Name: "x", Type: "nonexistent", Enabled: true}}, noOpLogger())
	require.ErrorIs(t, err, ErrUnknownPlugin)
}

func TestBuildDetectorsRejectsDuplicateName(t *testing.T) {
	RegisterDetector("stub", newStubDetector)
	defer UnregisterDetector("stub")

	records := []Record{
		{Name: "dup", Type: "stub", Enabled: true},
		{Name: "dup", Type: "stub", Enabled: true},
	}

	_, err := BuildDetectors(records, noOpLogger())
	require.ErrorIs(t, err, ErrDuplicateName)
}

func TestBuildDetectorsRejectsInvalidName(t *testing.T) {
	RegisterDetector("stub", newStubDetector)
	defer UnregisterDetector("stub")

	_, err := BuildDetectors([]Record{{Name: "bad name!", Type: "stub", Enabled: true}}, noOpLogger())
	require.ErrorIs(t, err, ErrInvalidName)
}

func TestDecodeConfigZeroNodeReturnsEmptyMap(t *testing.T) {
	cfg, err := decodeConfig(yaml.Node{})
	require.NoError(t, err)
	assert.Empty(t, cfg)
}

func TestDecodeConfigDecodesMapping(t *testing.T) {
	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("threshold: 90\nenabled: true\n"), &node))

	// A document node wraps the mapping; unwrap like yaml.Node.Decode would
	// receive from a Record's config field after full-document unmarshal.
	cfg, err := decodeConfig(*node.Content[0])
	require.NoError(t, err)
	assert.Equal(t, 90, cfg["threshold"])
	assert.Equal(t, true, cfg["enabled"])
}

func TestBasePluginGetConfigFallsBackOnTypeMismatch(t *testing.T) {
	b := &BasePlugin{PluginName: "p"}
	require.NoError(t, b.Init(map[string]any{"threshold": "not-a-float"}))

	got := GetConfig(b, "threshold", 50.0)
	assert.Equal(t, 50.0, got, "type-assertion failure should fall back to default")

	require.NoError(t, b.Init(map[string]any{"threshold": 75.0}))
	assert.Equal(t, 75.0, GetConfig(b, "threshold", 50.0))
	assert.Equal(t, 50.0, GetConfig(b, "missing", 50.0))
}

func TestBasePluginStatusAndCounters(t *testing.T) {
	b := &BasePlugin{PluginName: "p"}
	require.NoError(t, b.Init(map[string]any{}))

	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordError()
	b.UpdateStatus("triggered", []string{"a"})

	status := b.Status()
	assert.Equal(t, uint64(2), status["success_count"])
	assert.Equal(t, uint64(1), status["error_count"])
	assert.Equal(t, []string{"a"}, status["triggered"])

	b.Disable()
	assert.False(t, b.Enabled())
}

func TestMarshalStatusJSON(t *testing.T) {
	b := &BasePlugin{PluginName: "p"}
	require.NoError(t, b.Init(map[string]any{}))

	data, err := b.MarshalStatusJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), "success_count")
}
