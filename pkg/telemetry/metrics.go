// Package telemetry exposes the daemon's Prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors the engine and API report into.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal      *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	EventsAppended prometheus.Counter
	RequestsTotal  *prometheus.CounterVec
}

// New registers the daemon's collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentd_runs_total",
			Help: "Step runs by tool and terminal status.",
		}, []string{"tool", "status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentd_run_duration_seconds",
			Help:    "Wall-clock duration of step runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		EventsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentd_events_appended_total",
			Help: "Journal events appended.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentd_http_requests_total",
			Help: "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
	}
	registry.MustRegister(m.RunsTotal, m.RunDuration, m.EventsAppended, m.RequestsTotal)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun records one finished run.
func (m *Metrics) ObserveRun(tool, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(tool, status).Inc()
	if durationSeconds >= 0 {
		m.RunDuration.WithLabelValues(tool).Observe(durationSeconds)
	}
}

// ObserveEvent records one appended journal event.
func (m *Metrics) ObserveEvent() {
	if m == nil {
		return
	}
	m.EventsAppended.Inc()
}
