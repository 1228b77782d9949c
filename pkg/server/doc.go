// Package server provides the HTTP front of the delta notifier.
//
// It accepts changesets, hands them to the current engine and exposes the
// operational endpoints. Matching, debouncing and delivery happen in the
// engine; a request returns as soon as its changesets are fed in.
//
// # Routes
//
//   - POST /delta: mu-style body, origin taken from the configured header
//   - POST /changesets: native changesets, header origin as fallback
//   - GET /rules: loaded rule table with per-rule debounce state
//   - GET /health, /ready, /version: probes (paths configurable)
//   - GET /metrics: prometheus exposition, when enabled
//
// A successful ingest answers 202 Accepted:
//
//	{"changesets": 2, "statements": 5, "matches": {"search-catch-all": 5}}
//
// Malformed bodies get 400, oversized bodies 413, and requests arriving
// while no engine is loaded 503. Errors use a JSON envelope:
//
//	{"error": {"code": "malformed_changeset", "message": "...", "request_id": "..."}}
//
// # Middleware Chain
//
// Requests pass through the following middleware (innermost to outermost):
//  1. Timeout: per-request context deadline
//  2. Tracing: W3C trace context extraction
//  3. RequestID: X-Request-ID assignment
//  4. Logging: one structured line per request
//  5. Recovery: panics become 500 JSON errors
//
// # Graceful Shutdown
//
// Start blocks until its context ends, SIGINT or SIGTERM arrives, or
// Shutdown is called. Shutdown marks the process as draining so readiness
// fails first, then stops accepting connections and waits for active
// requests up to server.shutdown_timeout. Open debounce windows belong to
// the engine and are flushed by its own Close.
package server
