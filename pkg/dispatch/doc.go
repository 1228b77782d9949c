// Package dispatch delivers flushed windows to rule callbacks over HTTP.
//
// A Dispatcher renders a batch in the rule's resource format, sends it with
// a bounded retry policy and records the outcome in the journal and the
// metrics collector. Delivery failures are logged and dropped; they never
// reach the engine.
//
// # Resource formats
//
// v0.0.1 sends one {inserts, deletes} object per contributing changeset:
//
//	[{"inserts": [{"subject": {"type": "uri", "value": "..."}, ...}], "deletes": []}]
//
// v0.0.0-genesis flattens the whole batch into value strings:
//
//	{"delta": {"inserts": [{"s": "...", "p": "...", "o": "..."}], "deletes": []}}
//
// # Headers
//
// Every request carries X-Delta-Rule, X-Delta-Resource-Format and a unique
// X-Delta-Delivery-Id, plus the W3C trace context of the delivery span.
// The delivery ID is stable across retries so receivers can deduplicate.
package dispatch
