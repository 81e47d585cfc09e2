package scrub

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsCollector adapts a Context's statistics record to Prometheus'
// pull model , without
// requiring the wire-stable Statistics struct itself to know about
// Prometheus.
type metricsCollector struct {
	ctx *Context

	dataBytesScrubbed *prometheus.Desc
	treeBytesScrubbed *prometheus.Desc
	csumErrors *prometheus.Desc
	correctedErrors *prometheus.Desc
	uncorrectableErrors *prometheus.Desc
	synergySkips *prometheus.Desc
}

func newMetricsCollector(ctx *Context) *metricsCollector {
	labels := []string{"device"}
	return &metricsCollector{
		ctx: ctx,
		dataBytesScrubbed: prometheus.NewDesc("scrub_data_bytes_scrubbed", "Data bytes scrubbed so far.", labels, nil),
		treeBytesScrubbed: prometheus.NewDesc("scrub_tree_bytes_scrubbed", "Metadata bytes scrubbed so far.", labels, nil),
		csumErrors: prometheus.NewDesc("scrub_csum_errors_total", "Checksum mismatches observed.", labels, nil),
		correctedErrors: prometheus.NewDesc("scrub_corrected_errors_total", "Blocks repaired from a good mirror.", labels, nil),
		uncorrectableErrors: prometheus.NewDesc("scrub_uncorrectable_errors_total", "Blocks with no surviving good page-set.", labels, nil),
		synergySkips: prometheus.NewDesc("scrub_synergy_skips_total", "Ranges skipped on the synergistic filter's advice.", labels, nil),
	}
}

func (c *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.dataBytesScrubbed
	ch <- c.treeBytesScrubbed
	ch <- c.csumErrors
	ch <- c.correctedErrors
	ch <- c.uncorrectableErrors
	ch <- c.synergySkips
}

func (c *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.ctx.Progress()
	device := c.ctx.opts.DeviceID
	ch <- prometheus.MustNewConstMetric(c.dataBytesScrubbed, prometheus.CounterValue, float64(stats.DataBytesScrubbed), device)
	ch <- prometheus.MustNewConstMetric(c.treeBytesScrubbed, prometheus.CounterValue, float64(stats.TreeBytesScrubbed), device)
	ch <- prometheus.MustNewConstMetric(c.csumErrors, prometheus.CounterValue, float64(stats.CsumErrors), device)
	ch <- prometheus.MustNewConstMetric(c.correctedErrors, prometheus.CounterValue, float64(stats.CorrectedErrors), device)
	ch <- prometheus.MustNewConstMetric(c.uncorrectableErrors, prometheus.CounterValue, float64(stats.UncorrectableErrors), device)
	ch <- prometheus.MustNewConstMetric(c.synergySkips, prometheus.CounterValue, float64(stats.SynergySkips), device)
}

// MetricsHandler returns an http.Handler exposing ctx's statistics in
// Prometheus exposition format, for an embedder that wants to scrape a
// running scrub without polling Progress().
func (ctx *Context) MetricsHandler() http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(newMetricsCollector(ctx))
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
