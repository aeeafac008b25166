// Package metrics exposes the engine's Prometheus instrumentation:
// job throughput by lane/state, CAPTCHA strategy win rate, and
// BrowserPool utilization (spec §6's GET /metrics).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the engine registers. Tests build one
// against a fresh prometheus.Registry so assertions never collide
// with another test's registrations on the default registry.
type Metrics struct {
	JobsTotal           *prometheus.CounterVec
	JobDuration         *prometheus.HistogramVec
	CaptchaStrategyWins *prometheus.CounterVec
	BrowserPoolInUse    prometheus.Gauge
	BrowserPoolSize     prometheus.Gauge
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers every collector on the default registry, for
// production use with the default /metrics handler.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers every collector on reg, so tests
// can assert against an isolated registry instead of the process-wide
// default one.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrapecoord_jobs_total",
			Help: "Total jobs processed, by lane and terminal state.",
		}, []string{"lane", "state"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scrapecoord_job_duration_seconds",
			Help:    "Worker.Process wall time, by lane.",
			Buckets: prometheus.DefBuckets,
		}, []string{"lane"}),
		CaptchaStrategyWins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrapecoord_captcha_strategy_wins_total",
			Help: "CAPTCHA solves won, by strategy name.",
		}, []string{"strategy"}),
		BrowserPoolInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scrapecoord_browser_pool_sessions_in_use",
			Help: "BrowserPool sessions currently checked out.",
		}),
		BrowserPoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scrapecoord_browser_pool_size",
			Help: "BrowserPool configured session capacity.",
		}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scrapecoord_http_request_duration_seconds",
			Help:    "Control API request duration, by method/route/status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.JobsTotal,
		m.JobDuration,
		m.CaptchaStrategyWins,
		m.BrowserPoolInUse,
		m.BrowserPoolSize,
		m.HTTPRequestDuration,
	)
	return m
}
