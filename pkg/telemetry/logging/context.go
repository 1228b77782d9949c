package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	// RequestIDKey is the context key for HTTP request IDs.
	RequestIDKey contextKey = "request_id"

	// ChangesetIDKey is the context key for the changeset being ingested.
	ChangesetIDKey contextKey = "changeset_id"

	// OriginKey is the context key for the origin of the current request.
	OriginKey contextKey = "origin"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithChangesetID adds a changeset ID to the context.
func WithChangesetID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ChangesetIDKey, id)
}

// GetChangesetID retrieves the changeset ID from the context.
func GetChangesetID(ctx context.Context) string {
	if id, ok := ctx.Value(ChangesetIDKey).(string); ok {
		return id
	}
	return ""
}

// WithOrigin adds a changeset origin to the context.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, OriginKey, origin)
}

// GetOrigin retrieves the changeset origin from the context.
func GetOrigin(ctx context.Context) string {
	if origin, ok := ctx.Value(OriginKey).(string); ok {
		return origin
	}
	return ""
}

// contextFields returns the log attributes carried by ctx.
func contextFields(ctx context.Context) []slog.Attr {
	var fields []slog.Attr

	if id := GetRequestID(ctx); id != "" {
		fields = append(fields, slog.String("request_id", id))
	}
	if id := GetChangesetID(ctx); id != "" {
		fields = append(fields, slog.String("changeset_id", id))
	}
	if origin := GetOrigin(ctx); origin != "" {
		fields = append(fields, slog.String("origin", origin))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	return fields
}

// contextHandler adds context fields to every record logged with a
// context, e.g. via slog.InfoContext.
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		if fields := contextFields(ctx); len(fields) > 0 {
			r.AddAttrs(fields...)
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}
