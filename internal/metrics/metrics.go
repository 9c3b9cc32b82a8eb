// Package metrics exposes Prometheus counters for catalog operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marcom"

// Metrics holds the catalog's collectors and the registry serving them.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Ingested     *prometheus.CounterVec
	TagsSeeded   *prometheus.CounterVec
	LinkOutcomes *prometheus.CounterVec
	Queries      *prometheus.CounterVec
	Duration     *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		Ingested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "components",
				Name:      "ingested_total",
				Help:      "Component ingestion attempts by result",
			},
			[]string{"result"},
		),
		TagsSeeded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tags",
				Name:      "seeded_total",
				Help:      "Tag registrations by result",
			},
			[]string{"result"},
		),
		LinkOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "links",
				Name:      "outcomes_total",
				Help:      "Tag candidates processed by the linker, by outcome",
			},
			[]string{"status"},
		),
		Queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queries",
				Name:      "total",
				Help:      "Component queries by result",
			},
			[]string{"result"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "operation",
				Name:      "duration_seconds",
				Help:      "Catalog operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.Ingested, m.TagsSeeded, m.LinkOutcomes, m.Queries, m.Duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the Prometheus registry backing m.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Ingest counts one ingestion attempt.
func (m *Metrics) Ingest(result string) {
	if m != nil {
		m.Ingested.WithLabelValues(result).Inc()
	}
}

// Seed counts one tag registration.
func (m *Metrics) Seed(result string) {
	if m != nil {
		m.TagsSeeded.WithLabelValues(result).Inc()
	}
}

// Link adds n candidates with the given linker outcome.
func (m *Metrics) Link(status string, n int) {
	if m != nil && n > 0 {
		m.LinkOutcomes.WithLabelValues(status).Add(float64(n))
	}
}

// Query counts one query.
func (m *Metrics) Query(result string) {
	if m != nil {
		m.Queries.WithLabelValues(result).Inc()
	}
}

// Since records the time elapsed since start for operation.
func (m *Metrics) Since(operation string, start time.Time) {
	if m != nil {
		m.Duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
