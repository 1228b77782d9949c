// Package middleware provides the HTTP middleware chain of the ingest
// server.
//
// The chain is applied as:
//
//	handler = Recovery(Logging(RequestID(Timeout(handler))))
//
// Order (innermost to outermost):
//  1. Timeout: bound handler time through the request context
//  2. RequestID: assign or propagate X-Request-ID
//  3. Logging: one structured log line per request
//  4. Recovery: turn panics into 500 JSON errors
package middleware
