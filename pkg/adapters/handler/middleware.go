package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kevinmcaleer/page-count/pkg/logging"
)

// statusWriter captures the response status for the access log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// RequestLogger logs one line per request with a generated request id,
// method, path, status and duration.
func RequestLogger(log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			reqLog := log.With("request_id", uuid.NewString())
			next.ServeHTTP(sw, r)

			reqLog.Info(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration", time.Since(start).String(),
				"ip", clientIP(r),
			)
		})
	}
}
