package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/notifier/pkg/config"
)

// RuleMetrics tracks matching and coalescing per rule.
//
// Metrics:
//   - matches_total{rule}: matched statements
//   - ignored_total{rule}: changesets skipped by origin
//   - flushes_total{rule,reason}: closed windows
//   - batch_size{rule}: statements per flushed window
//   - pending_statements{rule}: statements in the open window
//   - rules_loaded: rules in the active table
//   - rule_reloads_total{result}
type RuleMetrics struct {
	matches   *prometheus.CounterVec
	ignored   *prometheus.CounterVec
	flushes   *prometheus.CounterVec
	batchSize *prometheus.HistogramVec
	pending   *prometheus.GaugeVec
	loaded    prometheus.Gauge
	reloads   *prometheus.CounterVec
}

// NewRuleMetrics creates and registers rule metrics.
func NewRuleMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RuleMetrics {
	m := &RuleMetrics{
		matches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "matches_total",
				Help:      "Total number of statements matched per rule",
			},
			[]string{"rule"},
		),
		ignored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "ignored_total",
				Help:      "Total number of changesets skipped per rule because they originated from the notifier",
			},
			[]string{"rule"},
		),
		flushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "flushes_total",
				Help:      "Total number of coalescing windows closed per rule",
			},
			[]string{"rule", "reason"},
		),
		batchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "batch_size",
				Help:      "Number of statements per flushed window",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"rule"},
		),
		pending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "pending_statements",
				Help:      "Statements waiting in the open window per rule",
			},
			[]string{"rule"},
		),
		loaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rules_loaded",
				Help:      "Number of rules in the active rule table",
			},
		),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rule_reloads_total",
				Help:      "Total number of rule file loads by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(m.matches, m.ignored, m.flushes, m.batchSize, m.pending, m.loaded, m.reloads)
	return m
}
