package middleware

import (
	"io"
	"net/http"
)

// LimitAndDrainRequest caps the request body at maxBodySize bytes (reads beyond it fail)
// and drains and closes the body once the handler is done, so the connection can be reused.
func LimitAndDrainRequest(maxBodySize int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && maxBodySize > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
			}
			next.ServeHTTP(w, r)
			if r.Body != nil {
				_, _ = io.Copy(io.Discard, r.Body)
				_ = r.Body.Close()
			}
		})
	}
}
