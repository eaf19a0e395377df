package handler

import (
	"log/slog"
	"net/http"

	"github.com/Yashkondane/soulhome-official/pkg/logger"
)

// NewErrorHandler logs err (warn for 4xx, error for 5xx) and renders it as a
// JSON error using mappings.
func NewErrorHandler(log *slog.Logger, mappings ...ErrorMapping) ErrorHandler {
	if log == nil {
		log = logger.Discard()
	}
	return func(ctx Context, err error) {
		resp := JSONError(err, mappings...)
		jr, _ := resp.(*jsonResponse)

		level := slog.LevelError
		if jr != nil && jr.status < http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		r := ctx.Request()
		log.LogAttrs(r.Context(), level, "request error",
			logger.Error(err),
			slog.Int("status_code", statusOf(jr)),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("http"),
		)

		if rerr := resp.Render(ctx.ResponseWriter(), r); rerr != nil {
			log.ErrorContext(r.Context(), "failed to render error response", logger.Error(rerr))
		}
	}
}

// Fail defers err to the ErrorHandler configured on Wrap.
func Fail(err error) Response { return failResponse{err: err} }

type failResponse struct{ err error }

func (f failResponse) Render(http.ResponseWriter, *http.Request) error { return f.err }

func statusOf(r *jsonResponse) int {
	if r == nil {
		return http.StatusInternalServerError
	}
	return r.status
}
