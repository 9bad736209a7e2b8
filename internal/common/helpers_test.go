package common

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConfig struct {
	Field1 string `yaml:"field1"`
	Field2 string `yaml:"field2"`
}

func TestSanitizeFloat(t *testing.T) {
	tests := []struct {
		name  string
		input float64
	}{
		{name: "With +Inf", input: math.Inf(0)},
		{name: "With -Inf", input: math.Inf(-1)},
		{name: "With NaN", input: math.NaN()},
	}

	for _, test := range tests {
		got := SanitizeFloat(test.input)
		assert.Zero(t, got, test.name)
	}
}

func TestMakeConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := `
---
field1: foo
field2: bar`
	configPath := filepath.Join(tmpDir, "config.yml")
	os.WriteFile(configPath, []byte(configFile), 0o600)

	_, err := MakeConfig[mockConfig]("")
	require.Error(t, err, "expected error due to missing file path")

	expected := &mockConfig{Field1: "foo", Field2: "bar"}
	cfg, err := MakeConfig[mockConfig](configPath)
	require.NoError(t, err)
	assert.Equal(t, expected, cfg)
}

func TestGetFreePort(t *testing.T) {
	_, _, err := GetFreePort()
	require.NoError(t, err)
}

func TestComputeExternalURL(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{input: "", valid: true},
		{input: "http://proxy.com/prometheus", valid: true},
		{input: "'https://url/prometheus'", valid: false},
		{input: "'relative/path/with/quotes'", valid: false},
		{input: "http://alertmanager.company.com", valid: true},
		{input: "https://double--dash.de", valid: true},
		{input: "'http://starts/with/quote", valid: false},
		{input: "ends/with/quote\"", valid: false},
	}

	for _, test := range tests {
		_, err := ComputeExternalURL(test.input, "0.0.0.0:9090")
		if test.valid {
			assert.NoError(t, err)
		} else {
			assert.Error(t, err)
		}
	}
}
