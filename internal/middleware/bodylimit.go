package middleware

import (
	"net/http"
)

// DefaultMaxBodySize bounds request bodies. Settings and outcome payloads
// are a few KB at most; anything near this limit is garbage.
const DefaultMaxBodySize = 1 << 20 // 1MB

// MaxBody rejects oversized requests up front by Content-Length, then caps
// the body reader so chunked uploads cannot dodge the check.
func MaxBody(maxSize int64) func(http.Handler) http.Handler {
	if maxSize <= 0 {
		maxSize = DefaultMaxBodySize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.ContentLength > maxSize {
				writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
					"error": "Request body too large",
				})
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			next.ServeHTTP(w, r)
		})
	}
}
