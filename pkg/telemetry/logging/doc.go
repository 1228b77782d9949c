// Package logging configures structured logging for the notifier on top of
// log/slog.
//
// Output is JSON (default) or text on stdout, optionally mirrored to a
// size-rotated file. Context helpers carry request and changeset IDs, and
// the handler adds them, plus the active trace and span IDs, to records
// logged with a context. URL-valued attributes are passed through
// RedactURL so that callback credentials never reach the log.
package logging
