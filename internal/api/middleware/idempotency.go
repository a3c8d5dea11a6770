package middleware

import (
	"context"
	"net/http"
	"strings"
)

const (
	idempotencyHeader    = "Idempotency-Key"
	maxIdempotencyKeyLen = 128
)

const idempotencyContextKey contextKey = "idempotencyKey"

// Idempotency extracts the Idempotency-Key header into the request context.
// Keys longer than 128 characters are ignored rather than rejected.
func Idempotency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
		if key != "" && len(key) <= maxIdempotencyKeyLen {
			ctx := context.WithValue(r.Context(), idempotencyContextKey, key)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// IdempotencyKey returns the idempotency key for the request, or "" when the
// client did not send one.
func IdempotencyKey(r *http.Request) string {
	key, _ := r.Context().Value(idempotencyContextKey).(string)
	return key
}
