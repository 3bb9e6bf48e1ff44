package middleware

import (
	"net/http"

	"shared-list-server/internal/logging"

	"github.com/felixge/httpsnoop"
)

// LoggerMiddleware writes one access log entry per request. The writer is
// wrapped with httpsnoop so streaming handlers still see http.Flusher and
// http.Hijacker.
func LoggerMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	log := logger.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)

			log.Info("Request handled",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"status", m.Code,
				"duration", m.Duration,
				"bytes", m.Written,
				"participant_id", GetParticipantID(r),
			)
		})
	}
}
