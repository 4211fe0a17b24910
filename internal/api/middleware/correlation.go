package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationHeader carries the id that ties a request to its log lines.
const CorrelationHeader = "X-Correlation-ID"

// maxCorrelationIDLen bounds caller-supplied ids before they reach the logs.
const maxCorrelationIDLen = 128

type ctxKey struct{}

// CorrelationID reuses the caller's X-Correlation-ID, or generates one when
// it is missing or oversized, stores it on the request context and echoes
// it in the response.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" || len(id) > maxCorrelationIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// GetCorrelationID returns the id stored by CorrelationID, or "".
func GetCorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
