// Package ingest subscribes to a NATS subject and feeds the changesets it
// carries into the current engine.
//
// Each message body is a native changeset, or an array of them, exactly as
// accepted on POST /changesets. A changeset without an origin takes the
// value of the message's Origin header. W3C trace context travels in the
// message headers.
//
// When a message has a reply subject the subscriber answers with the
// ingest result, so publishers can use request/reply to learn which rules
// matched.
package ingest
