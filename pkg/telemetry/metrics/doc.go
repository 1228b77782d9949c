// Package metrics exports Prometheus metrics for the notifier.
//
// Metric names are prefixed with the configured namespace and subsystem
// (mercator_notifier_ by default) and cover ingest, per-rule matching and
// coalescing, callback delivery and the delivery journal. The Collector
// satisfies the engine's Observer interface and is passed to the
// dispatcher and journal as their recorder.
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	eng := engine.New(table, dispatcher, engine.Options{Observer: collector})
//	mux.Handle("/metrics", collector.Handler())
//
// Rule IDs are used as label values. A CardinalityLimiter folds IDs beyond
// the first thousand into "other" so repeated rule reloads cannot grow the
// series count without bound.
package metrics
