package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dandantas/certwatch/internal/log"
	"github.com/google/uuid"
)

type contextKey string

// CorrelationIDKey is the context key for correlation ID
const CorrelationIDKey contextKey = "correlation_id"

// CorrelationIDHeader carries the correlation ID on requests and responses
const CorrelationIDHeader = "X-Correlation-ID"

// CorrelationID middleware generates or extracts correlation ID from requests.
// The ID is also attached to the request context for context-aware loggers.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(CorrelationIDHeader)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		w.Header().Set(CorrelationIDHeader, correlationID)

		ctx := context.WithValue(r.Context(), CorrelationIDKey, correlationID)
		ctx = log.ContextAttrs(ctx, slog.String("correlation_id", correlationID))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}
