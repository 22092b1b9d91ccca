package mw

import "net/http"

// MaxBodyBytes caps how much of a request body downstream code may read.
// Oversized bodies are not rejected: reads past the limit fail, which the
// trace renders as a body error while the request is still answered.
func MaxBodyBytes(limit int64, next http.Handler) http.Handler {
	if limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}
