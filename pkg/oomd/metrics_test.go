package oomd

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ceems-dev/oomd/pkg/plugin"
)

func TestPluginCollectorEmitsCounters(t *testing.T) {
	d := &fakeDetector{BasePlugin: plugin.BasePlugin{PluginName: "mem-pressure"}}
	require.NoError(t, d.Init(map[string]any{}))
	d.RecordSuccess()
	d.RecordSuccess()
	d.RecordError()

	c := newPluginCollector([]plugin.Detector{d}, nil)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)

	var foundSuccess, foundError bool

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if mf.GetName() == "oomd_plugin_success_total" {
				foundSuccess = true
				require.Equal(t, float64(2), m.GetCounter().GetValue())
			}

			if mf.GetName() == "oomd_plugin_error_total" {
				foundError = true
				require.Equal(t, float64(1), m.GetCounter().GetValue())
			}
		}
	}

	require.True(t, foundSuccess)
	require.True(t, foundError)
}
