// Package middleware holds the Chi-compatible HTTP middleware shared across
// every route: request-ID propagation and Prometheus instrumentation. It
// mirrors the teacher's own internal/middleware package split
// (requestid.go, prometheus.go), adapted to this daemon's logging/metrics
// packages.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/logging"
)

type contextKey string

// RequestIDKey is the context key the request ID is stored under.
const RequestIDKey contextKey = "request_id"

// RequestID generates (or forwards) a request ID, echoes it on the response
// header, and attaches it to the request context for logging/response use —
// grounded on the teacher's internal/middleware/requestid.go.
func RequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		ctx = logging.ContextWithRequestID(ctx, requestID)
		ctx = logging.ContextWithNewCorrelationID(ctx)

		next(w, r.WithContext(ctx))
	}
}

// GetRequestID extracts the request ID from ctx, or "" if absent.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
