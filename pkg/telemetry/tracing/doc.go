// Package tracing provides OpenTelemetry tracing for the notifier.
//
// Incoming requests carry W3C trace context (traceparent/tracestate); the
// server extracts it, the engine carries it no further than ingest, and
// each callback delivery starts its own span whose context is injected
// into the outgoing request. Spans are exported over OTLP/gRPC when
// telemetry.tracing.enabled is set.
//
// Sampling strategies: always, never, ratio and parent_based. All are
// parent-based, so a sampled upstream request stays sampled here.
package tracing
