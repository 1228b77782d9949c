package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/notifier/pkg/config"
)

// DeliveryMetrics tracks callback deliveries.
//
// Metrics:
//   - deliveries_total{rule,outcome}
//   - delivery_duration_seconds{rule}: wall time including retries
//   - delivery_attempts{rule}: HTTP attempts per delivery
type DeliveryMetrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	attempts *prometheus.HistogramVec
}

// NewDeliveryMetrics creates and registers delivery metrics.
func NewDeliveryMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *DeliveryMetrics {
	m := &DeliveryMetrics{
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "deliveries_total",
				Help:      "Total number of batch deliveries by outcome",
			},
			[]string{"rule", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "delivery_duration_seconds",
				Help:      "Duration of batch deliveries in seconds, including retries",
				Buckets:   cfg.DeliveryDurationBuckets,
			},
			[]string{"rule"},
		),
		attempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "delivery_attempts",
				Help:      "Number of HTTP attempts per batch delivery",
				Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
			},
			[]string{"rule"},
		),
	}

	registry.MustRegister(m.total, m.duration, m.attempts)
	return m
}

// JournalMetrics tracks the delivery journal.
//
// Metrics:
//   - journal_writes_total{status}
//   - journal_pruned_total
type JournalMetrics struct {
	writes *prometheus.CounterVec
	pruned prometheus.Counter
}

// NewJournalMetrics creates and registers journal metrics.
func NewJournalMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *JournalMetrics {
	m := &JournalMetrics{
		writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "journal_writes_total",
				Help:      "Total number of delivery journal writes by status",
			},
			[]string{"status"},
		),
		pruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "journal_pruned_total",
				Help:      "Total number of journal records removed by retention",
			},
		),
	}

	registry.MustRegister(m.writes, m.pruned)
	return m
}
