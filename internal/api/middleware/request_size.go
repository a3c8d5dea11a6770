package middleware

import "net/http"

const (
	// DefaultMaxBodySize bounds request bodies on public and partner routes.
	DefaultMaxBodySize = 1 << 20 // 1 MB

	// AdminMaxBodySize allows larger payloads on authenticated admin routes.
	AdminMaxBodySize = 5 << 20 // 5 MB
)

// RequestSize rejects request bodies larger than maxBytes. Handlers that read
// past the limit get an error from the body reader rather than an unbounded
// allocation.
func RequestSize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
