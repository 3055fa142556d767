package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/septivank/water-flow-monitor/internal/auth"
	"github.com/septivank/water-flow-monitor/internal/logging"
	"github.com/septivank/water-flow-monitor/internal/metrics"
	"go.uber.org/zap"
)

// NewRouter assembles the HTTP surface: REST resources, the live channel
// at /ws, liveness and metrics. live may be nil.
func NewRouter(h *Handler, authn *auth.Authenticator, live http.Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(logger))
	r.Use(authn.Identify)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())
	if live != nil {
		r.Handle("/ws", live)
	}

	h.RegisterRoutes(r)
	return r
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			metrics.IncHTTPRequest(r.Method, status)
			logging.WithRequestID(logger, middleware.GetReqID(r.Context())).Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
