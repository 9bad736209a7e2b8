package oomd

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ceems-dev/oomd/pkg/plugin"
)

// pluginCollector exports each plugin's BasePlugin counters as Prometheus
// metrics, read fresh from Status() on every scrape rather than cached
// (spec.md §4.F: status is the single source of truth for a plugin's
// bookkeeping).
type pluginCollector struct {
	detectors []plugin.Detector
	actions   []plugin.Action

	successDesc *prometheus.Desc
	errorDesc   *prometheus.Desc
	lastRunDesc *prometheus.Desc
}

func newPluginCollector(detectors []plugin.Detector, actions []plugin.Action) *pluginCollector {
	labels := []string{"plugin", "type"}

	return &pluginCollector{
		detectors: detectors,
		actions:   actions,
		successDesc: prometheus.NewDesc(
			"oomd_plugin_success_total", "Total successful runs of a plugin.", labels, nil),
		errorDesc: prometheus.NewDesc(
			"oomd_plugin_error_total", "Total failed runs of a plugin.", labels, nil),
		lastRunDesc: prometheus.NewDesc(
			"oomd_plugin_last_run_timestamp_seconds", "Unix timestamp of the plugin's last run.", labels, nil),
	}
}

func (c *pluginCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.successDesc
	ch <- c.errorDesc
	ch <- c.lastRunDesc
}

func (c *pluginCollector) Collect(ch chan<- prometheus.Metric) {
	for _, d := range c.detectors {
		c.collectOne(ch, d.Name(), "detector", d.Status())
	}

	for _, a := range c.actions {
		c.collectOne(ch, a.Name(), "action", a.Status())
	}
}

func (c *pluginCollector) collectOne(ch chan<- prometheus.Metric, name, kind string, status map[string]any) {
	if v, ok := status["success_count"].(uint64); ok {
		ch <- prometheus.MustNewConstMetric(c.successDesc, prometheus.CounterValue, float64(v), name, kind)
	}

	if v, ok := status["error_count"].(uint64); ok {
		ch <- prometheus.MustNewConstMetric(c.errorDesc, prometheus.CounterValue, float64(v), name, kind)
	}

	if t, ok := status["last_run"]; ok {
		if ts, ok := t.(interface{ Unix() int64 }); ok {
			ch <- prometheus.MustNewConstMetric(c.lastRunDesc, prometheus.GaugeValue, float64(ts.Unix()), name, kind)
		}
	}
}
