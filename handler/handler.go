// Package handler adapts typed request handlers to net/http.
//
// A HandlerFunc receives a bound request value and returns a Response.
// Binding and rendering errors are routed to an ErrorHandler, which renders
// them in the JSON envelope used by every API endpoint.
//
//	h := handler.Wrap(func(ctx handler.Context, req CreateSessionRequest) handler.Response {
//		out, err := svc.Create(ctx, req.PlanID)
//		if err != nil {
//			return handler.JSONError(err)
//		}
//		return handler.JSON(out, handler.WithJSONStatus(http.StatusCreated))
//	}, handler.WithBinders[CreateSessionRequest](handler.BindJSON()))
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Context exposes the request and response writer alongside the request
// context.
type Context interface {
	context.Context
	Request() *http.Request
	ResponseWriter() http.ResponseWriter
}

// NewContext wraps w and r.
func NewContext(w http.ResponseWriter, r *http.Request) Context {
	return &httpContext{w: w, r: r}
}

type httpContext struct {
	w http.ResponseWriter
	r *http.Request
}

func (c *httpContext) Request() *http.Request { return c.r }
func (c *httpContext) ResponseWriter() http.ResponseWriter { return c.w }
func (c *httpContext) Deadline() (time.Time, bool) { return c.r.Context().Deadline() }
func (c *httpContext) Done() <-chan struct{} { return c.r.Context().Done() }
func (c *httpContext) Err() error { return c.r.Context().Err() }
func (c *httpContext) Value(key any) any { return c.r.Context().Value(key) }

// HandlerFunc handles a bound request of type R.
type HandlerFunc[R any] func(ctx Context, req R) Response

// Response renders itself to the response writer.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// Bind fills v from r. Binders that do not apply to r return
// ErrBinderNotApplicable and are skipped.
type Bind func(r *http.Request, v any) error

// ErrorHandler renders an error produced outside the handler body.
type ErrorHandler func(ctx Context, err error)

// WrapOption configures Wrap.
type WrapOption[R any] func(*wrapConfig[R])

type wrapConfig[R any] struct {
	binders      []Bind
	errorHandler ErrorHandler
}

// WithBinders appends binders, applied in order.
func WithBinders[R any](binders ...Bind) WrapOption[R] {
	return func(c *wrapConfig[R]) {
		c.binders = append(c.binders, binders...)
	}
}

// WithErrorHandler replaces the default error handler.
func WithErrorHandler[R any](h ErrorHandler) WrapOption[R] {
	return func(c *wrapConfig[R]) {
		if h != nil {
			c.errorHandler = h
		}
	}
}

func defaultErrorHandler(ctx Context, err error) {
	_ = JSONError(err).Render(ctx.ResponseWriter(), ctx.Request())
}

// Wrap converts h into an http.HandlerFunc.
func Wrap[R any](h HandlerFunc[R], opts ...WrapOption[R]) http.HandlerFunc {
	cfg := &wrapConfig[R]{errorHandler: defaultErrorHandler}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := NewContext(w, r)

		var req R
		for _, bind := range cfg.binders {
			if err := bind(r, &req); err != nil {
				if errors.Is(err, ErrBinderNotApplicable) {
					continue
				}
				cfg.errorHandler(ctx, err)
				return
			}
		}

		resp := h(ctx, req)
		if resp == nil {
			cfg.errorHandler(ctx, ErrNilResponse)
			return
		}
		if err := resp.Render(w, r); err != nil {
			cfg.errorHandler(ctx, err)
		}
	}
}
