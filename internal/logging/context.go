package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ctxKey string

const (
	requestIDKey     ctxKey = "request_id"
	correlationIDKey ctxKey = "correlation_id"
)

// ContextWithRequestID attaches a request ID to ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the request ID, or "" if absent.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ContextWithNewCorrelationID attaches a freshly generated correlation ID.
func ContextWithNewCorrelationID(ctx context.Context) context.Context {
	return context.WithValue(ctx, correlationIDKey, uuid.New().String())
}

// CorrelationIDFromContext extracts the correlation ID, or "" if absent.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// Ctx returns a logger enriched with the request/correlation IDs found on ctx,
// for use as logging.Ctx(ctx).Info().Str(...).Msg("...").
func Ctx(ctx context.Context) zerolog.Logger {
	l := Logger().With()
	if id := RequestIDFromContext(ctx); id != "" {
		l = l.Str("request_id", id)
	}
	if id := CorrelationIDFromContext(ctx); id != "" {
		l = l.Str("correlation_id", id)
	}
	return l.Logger()
}
