// Package billing exposes the subscription service over HTTP: provider
// webhooks and the authenticated checkout, portal and usage endpoints.
package billing

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/billsync/pkg/logger"
	"github.com/dmitrymomot/billsync/pkg/requestid"
)

// Mountable is a sub-router that can be mounted under a path prefix.
type Mountable interface {
	Handle() http.Handler
}

type RouterOptions struct {
	Logger    *slog.Logger
	Webhooks  Mountable    // mounted at /webhooks
	Billing   Mountable    // mounted at /billing
	Liveness  http.Handler // GET /health/live
	Readiness http.Handler // GET /health/ready
	Metrics   http.Handler // GET /metrics
}

// Router assembles the service's HTTP surface. Nil parts are left unmounted.
func Router(opts RouterOptions) chi.Router {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(log))

	if opts.Liveness != nil {
		r.Method(http.MethodGet, "/health/live", opts.Liveness)
	}
	if opts.Readiness != nil {
		r.Method(http.MethodGet, "/health/ready", opts.Readiness)
	}
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.Webhooks != nil {
		r.Mount("/webhooks", opts.Webhooks.Handle())
	}
	if opts.Billing != nil {
		r.Mount("/billing", opts.Billing.Handle())
	}
	return r
}

func accessLog(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			log.LogAttrs(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status_code", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				logger.Duration(time.Since(start)),
				logger.RequestID(requestid.FromContext(r.Context())),
			)
		})
	}
}
