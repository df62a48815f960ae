package middleware

import (
	"net/http"

	"github.com/2beens/trifecta/internal/access"

	log "github.com/sirupsen/logrus"
)

// LogRequest must run after Session, so the subject is known.
func LogRequest() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.WithFields(log.Fields{
				"method":  r.Method,
				"path":    r.URL.Path,
				"subject": access.SubjectFromContext(r.Context()).String(),
				"ua":      r.Header.Get("User-Agent"),
			}).Trace(" ====> request")
			next.ServeHTTP(w, r)
		})
	}
}
