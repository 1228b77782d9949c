// Package telemetry groups the notifier's observability packages:
//
//   - logging: log/slog setup with rotating file output and context fields
//   - metrics: Prometheus collector for ingest, rules, deliveries and journal
//   - tracing: OpenTelemetry spans and W3C trace context propagation
//   - health: liveness, readiness and version endpoints
//
// Each subpackage is configured from the matching section of
// config.TelemetryConfig and wired together in cmd/notifier.
package telemetry
