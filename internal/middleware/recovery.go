package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/2beens/trifecta/internal/telemetry/metrics"

	log "github.com/sirupsen/logrus"
)

// PanicRecovery turns a panicking handler into a 500 response.
// http.ErrAbortHandler is re-raised, so the server still aborts the response silently.
func PanicRecovery(metricsManager *metrics.Manager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				if metricsManager != nil {
					metricsManager.CounterHandleRequestPanic.Inc()
				}
				log.WithFields(log.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
				}).Errorf("panic serving request: %v\n%s", rec, debug.Stack())
				http.Error(w, "internal error", http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
