package handler

import (
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/billsync/pkg/logger"
	"github.com/dmitrymomot/billsync/pkg/requestid"
)

// NewErrorHandler returns an ErrorHandler that logs the error (warn for 4xx,
// error for 5xx) and renders it as JSON. A nil log disables logging.
func NewErrorHandler(log *slog.Logger) ErrorHandler {
	return func(ctx Context, err error) {
		status, _ := errorDetail(err)
		if log != nil {
			level := slog.LevelError
			if status < http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			r := ctx.Request()
			log.LogAttrs(r.Context(), level, "request error",
				logger.RequestID(requestid.FromContext(r.Context())),
				logger.Error(err),
				slog.Int("status_code", status),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				logger.Component("error_handler"),
			)
		}

		if renderErr := Error(err).Render(ctx.ResponseWriter(), ctx.Request()); renderErr != nil && log != nil {
			log.ErrorContext(ctx, "failed to render error response", logger.Error(renderErr))
		}
	}
}
