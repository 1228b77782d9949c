package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/notifier/pkg/config"
)

// IngestMetrics tracks changesets entering the notifier.
//
// Metrics:
//   - changesets_total{source}
//   - statements_total{source}
//   - ingest_errors_total{source,reason}
type IngestMetrics struct {
	changesets *prometheus.CounterVec
	statements *prometheus.CounterVec
	errors     *prometheus.CounterVec
}

// NewIngestMetrics creates and registers ingest metrics.
func NewIngestMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *IngestMetrics {
	m := &IngestMetrics{
		changesets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "changesets_total",
				Help:      "Total number of changesets received",
			},
			[]string{"source"},
		),
		statements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "statements_total",
				Help:      "Total number of statements received",
			},
			[]string{"source"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "ingest_errors_total",
				Help:      "Total number of rejected ingest requests",
			},
			[]string{"source", "reason"},
		),
	}

	registry.MustRegister(m.changesets, m.statements, m.errors)
	return m
}

func (m *IngestMetrics) record(source string, changesets, statements int) {
	m.changesets.WithLabelValues(source).Add(float64(changesets))
	m.statements.WithLabelValues(source).Add(float64(statements))
}
