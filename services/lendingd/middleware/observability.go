package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"lendledger/observability"
)

// Observability records request metrics and optional access logs for one
// route group.
type Observability struct {
	module      string
	logger      *slog.Logger
	logRequests bool
}

func NewObservability(module string, logRequests bool, logger *slog.Logger) *Observability {
	if logger == nil {
		logger = slog.Default()
	}
	if module == "" {
		module = "lending"
	}
	return &Observability{module: module, logger: logger, logRequests: logRequests}
}

func (o *Observability) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			duration := time.Since(start)
			observability.ModuleMetrics().Observe(o.module, route, recorder.status, duration)
			if o.logRequests {
				o.logger.Info("request",
					slog.String("path", r.URL.Path),
					slog.String("method", r.Method),
					slog.Int("status", recorder.status),
					slog.Duration("duration", duration))
			}
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
