package http

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/dutydesk/internal/observability/logger"
)

// WithRequestID assigns each request an id, echoes it in the response,
// and injects a request-scoped logger into the context.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", rid)

		log := logger.With(logger.RequestID(rid))
		ctx := logger.ToContext(r.Context(), log)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder captures the response status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// WithAccessLog emits one structured entry per request.
func WithAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.From(r.Context()).Info("request",
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
			logger.Status(rec.status),
			logger.Duration(time.Since(start)),
			logger.ClientIP(r.RemoteAddr),
		)
	})
}
