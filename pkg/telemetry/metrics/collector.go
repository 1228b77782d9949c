package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/notifier/pkg/config"
	"mercator-hq/notifier/pkg/delta"
)

// overflowLabel replaces label values beyond the cardinality limit.
const overflowLabel = "other"

// Collector owns every Prometheus metric the notifier exports. It
// implements the engine's Observer interface and the dispatcher's delivery
// recorder, so components report to it without importing this package.
//
// All methods are no-ops when metrics are disabled.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	ingestMetrics   *IngestMetrics
	ruleMetrics     *RuleMetrics
	deliveryMetrics *DeliveryMetrics
	journalMetrics  *JournalMetrics

	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector and registers its metrics with registry.
// A nil registry gets a fresh one, so tests never share state through the
// global default registry.
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}
	if len(cfg.DeliveryDurationBuckets) == 0 {
		cfg.DeliveryDurationBuckets = config.DefaultDeliveryDurationBuckets
	}

	c := &Collector{
		config:             cfg,
		registry:           registry,
		cardinalityLimiter: NewCardinalityLimiter(1000),
	}

	c.ingestMetrics = NewIngestMetrics(cfg, registry)
	c.ruleMetrics = NewRuleMetrics(cfg, registry)
	c.deliveryMetrics = NewDeliveryMetrics(cfg, registry)
	c.journalMetrics = NewJournalMetrics(cfg, registry)

	return c
}

// ruleLabel bounds the number of distinct rule label values. Rule IDs come
// from a file that can be reloaded, so the set can grow over a process
// lifetime.
func (c *Collector) ruleLabel(ruleID string) string {
	if c.cardinalityLimiter.Allow(ruleID) {
		return ruleID
	}
	return overflowLabel
}

// RecordChangesets counts changesets and statements received from source
// ("http", "nats" or "cli").
func (c *Collector) RecordChangesets(source string, changesets, statements int) {
	if !c.config.Enabled {
		return
	}
	c.ingestMetrics.record(source, changesets, statements)
}

// RecordIngestError counts a rejected ingest request.
func (c *Collector) RecordIngestError(source, reason string) {
	if !c.config.Enabled {
		return
	}
	c.ingestMetrics.errors.WithLabelValues(source, reason).Inc()
}

// RuleMatched counts statements matched by a rule.
func (c *Collector) RuleMatched(ruleID string, statements int) {
	if !c.config.Enabled {
		return
	}
	c.ruleMetrics.matches.WithLabelValues(c.ruleLabel(ruleID)).Add(float64(statements))
}

// RuleIgnored counts a changeset skipped by a rule because of its origin.
func (c *Collector) RuleIgnored(ruleID string) {
	if !c.config.Enabled {
		return
	}
	c.ruleMetrics.ignored.WithLabelValues(c.ruleLabel(ruleID)).Inc()
}

// WindowFlushed records a closed coalescing window.
func (c *Collector) WindowFlushed(ruleID string, statements int, reason delta.FlushReason) {
	if !c.config.Enabled {
		return
	}
	rule := c.ruleLabel(ruleID)
	c.ruleMetrics.flushes.WithLabelValues(rule, string(reason)).Inc()
	c.ruleMetrics.batchSize.WithLabelValues(rule).Observe(float64(statements))
}

// PendingChanged sets the number of statements waiting in a rule's window.
func (c *Collector) PendingChanged(ruleID string, statements int) {
	if !c.config.Enabled {
		return
	}
	c.ruleMetrics.pending.WithLabelValues(c.ruleLabel(ruleID)).Set(float64(statements))
}

// RulesLoaded records a rule table (re)load.
func (c *Collector) RulesLoaded(count int, err error) {
	if !c.config.Enabled {
		return
	}
	if err != nil {
		c.ruleMetrics.reloads.WithLabelValues("error").Inc()
		return
	}
	c.ruleMetrics.reloads.WithLabelValues("success").Inc()
	c.ruleMetrics.loaded.Set(float64(count))
}

// RecordDelivery records the outcome of one batch delivery. outcome is
// "success", "failed" or "cancelled".
func (c *Collector) RecordDelivery(ruleID, outcome string, attempts int, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	rule := c.ruleLabel(ruleID)
	c.deliveryMetrics.total.WithLabelValues(rule, outcome).Inc()
	c.deliveryMetrics.duration.WithLabelValues(rule).Observe(duration.Seconds())
	c.deliveryMetrics.attempts.WithLabelValues(rule).Observe(float64(attempts))
}

// RecordJournalWrite counts a journal write and whether it failed.
func (c *Collector) RecordJournalWrite(err error) {
	if !c.config.Enabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.journalMetrics.writes.WithLabelValues(status).Inc()
}

// RecordJournalPrune counts records removed by retention.
func (c *Collector) RecordJournalPrune(deleted int64) {
	if !c.config.Enabled {
		return
	}
	c.journalMetrics.pruned.Add(float64(deleted))
}

// Registry returns the Prometheus registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter allowing maxCardinality values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is already tracked or can still be added.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
