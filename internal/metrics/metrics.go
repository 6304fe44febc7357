// Package metrics exposes Prometheus instrumentation for syncs and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/hyperengineering/pillars/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pillars"

// Metrics owns a private registry so tests and multiple servers never collide.
type Metrics struct {
	registry *prometheus.Registry

	syncs           *prometheus.CounterVec
	syncDuration    *prometheus.HistogramVec
	mappings        *prometheus.CounterVec
	valuesDiscarded *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, including the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Completed sync runs by integration type and terminal status.",
		}, []string{"integration_type", "status"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Wall time of sync runs.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"integration_type"}),
		mappings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "mappings_total",
			Help:      "Processed mappings by integration type and result.",
		}, []string{"integration_type", "result"}),
		valuesDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "values_discarded_total",
			Help:      "Non-numeric values skipped during aggregation.",
		}, []string{"integration_type"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.syncs,
		m.syncDuration,
		m.mappings,
		m.valuesDiscarded,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SyncCompleted records a finished run.
func (m *Metrics) SyncCompleted(t types.IntegrationType, status types.SyncStatus, d time.Duration) {
	m.syncs.WithLabelValues(string(t), string(status)).Inc()
	m.syncDuration.WithLabelValues(string(t)).Observe(d.Seconds())
}

// MappingProcessed records one mapping outcome.
func (m *Metrics) MappingProcessed(t types.IntegrationType, ok bool) {
	result := "failed"
	if ok {
		result = "success"
	}
	m.mappings.WithLabelValues(string(t), result).Inc()
}

// ValuesDiscarded adds n skipped values.
func (m *Metrics) ValuesDiscarded(t types.IntegrationType, n int) {
	if n <= 0 {
		return
	}
	m.valuesDiscarded.WithLabelValues(string(t)).Add(float64(n))
}

// ObserveRequest records one HTTP request. route is the matched pattern,
// never the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, code int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
