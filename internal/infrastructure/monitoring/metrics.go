// Package monitoring provides Prometheus metrics for the fetch proxy:
// inbound HTTP traffic, per-kind pipeline outcomes, upstream latency, and
// body sizes.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. Each instance carries its own
// registry so independently constructed servers (and tests) never collide.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	FetchesTotal     *prometheus.CounterVec
	UpstreamDuration prometheus.Histogram
	UpstreamBytes    prometheus.Histogram
	RewriteDuration  prometheus.Histogram
}

// NewMetrics creates a metrics collector with a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchproxy_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetchproxy_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
			},
			[]string{"method", "path"},
		),
		FetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchproxy_fetches_total",
				Help: "Pipeline outcomes by result kind",
			},
			[]string{"outcome"},
		),
		UpstreamDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fetchproxy_upstream_duration_seconds",
				Help:    "Upstream fetch duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
			},
		),
		UpstreamBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fetchproxy_upstream_body_bytes",
				Help:    "Upstream response body size in bytes",
				Buckets: []float64{1000, 10000, 100000, 500000, 1000000, 2000000},
			},
		),
		RewriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fetchproxy_rewrite_duration_seconds",
				Help:    "HTML rewrite duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
			},
		),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.FetchesTotal,
		m.UpstreamDuration,
		m.UpstreamBytes,
		m.RewriteDuration,
	)

	return m
}

// RecordHTTPRequest records metrics for a completed inbound request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordFetch records a pipeline outcome. outcome is "ok" or the error kind.
func (m *Metrics) RecordFetch(outcome string, upstream time.Duration, bytes int64) {
	m.FetchesTotal.WithLabelValues(outcome).Inc()
	if upstream > 0 {
		m.UpstreamDuration.Observe(upstream.Seconds())
	}
	if bytes > 0 {
		m.UpstreamBytes.Observe(float64(bytes))
	}
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
