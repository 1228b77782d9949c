package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys in the "notifier.*" namespace.
const (
	AttrRuleID         = "notifier.rule.id"
	AttrChangesetID    = "notifier.changeset.id"
	AttrChangesets     = "notifier.changesets"
	AttrStatements     = "notifier.statements"
	AttrOrigin         = "notifier.origin"
	AttrFlushReason    = "notifier.flush.reason"
	AttrResourceFormat = "notifier.resource_format"
	AttrDeliveryID     = "notifier.delivery.id"
	AttrCallbackURL    = "notifier.callback.url"
	AttrAttempts       = "notifier.delivery.attempts"
	AttrStatusCode     = "http.status_code"
	AttrErrorMessage   = "error.message"
)

// SetDeliveryAttributes records what a callback delivery carried.
func SetDeliveryAttributes(span trace.Span, ruleID, deliveryID, url, format string, statements int) {
	span.SetAttributes(
		attribute.String(AttrRuleID, ruleID),
		attribute.String(AttrDeliveryID, deliveryID),
		attribute.String(AttrCallbackURL, url),
		attribute.String(AttrResourceFormat, format),
		attribute.Int(AttrStatements, statements),
	)
}

// SetIngestAttributes records the size and origin of an ingested request.
func SetIngestAttributes(span trace.Span, origin string, changesets, statements int) {
	span.SetAttributes(
		attribute.String(AttrOrigin, origin),
		attribute.Int(AttrChangesets, changesets),
		attribute.Int(AttrStatements, statements),
	)
}
