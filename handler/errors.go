package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

var (
	// ErrNilResponse indicates a handler returned nil instead of a Response.
	ErrNilResponse = errors.New("handler returned nil response")
	// ErrBinderNotApplicable is returned by binders that do not handle the request.
	ErrBinderNotApplicable = errors.New("binder not applicable")
	// ErrInvalidJSON wraps body decoding failures.
	ErrInvalidJSON = errors.New("invalid JSON body")
	// ErrUnsupportedMediaType is returned for non-JSON bodies.
	ErrUnsupportedMediaType = errors.New("unsupported media type")
)

// HTTPError is an error with an HTTP status code and a stable machine key.
type HTTPError struct {
	Code int
	Key  string
}

func (e HTTPError) Error() string { return e.Key }

// NewHTTPError creates a custom HTTP error.
func NewHTTPError(code int, key string) HTTPError {
	return HTTPError{Code: code, Key: key}
}

var (
	ErrBadRequest          = HTTPError{Code: http.StatusBadRequest, Key: "bad_request"}
	ErrUnauthorized        = HTTPError{Code: http.StatusUnauthorized, Key: "unauthorized"}
	ErrPaymentRequired     = HTTPError{Code: http.StatusPaymentRequired, Key: "payment_required"}
	ErrForbidden           = HTTPError{Code: http.StatusForbidden, Key: "forbidden"}
	ErrNotFound            = HTTPError{Code: http.StatusNotFound, Key: "not_found"}
	ErrConflict            = HTTPError{Code: http.StatusConflict, Key: "conflict"}
	ErrUnprocessableEntity = HTTPError{Code: http.StatusUnprocessableEntity, Key: "unprocessable_entity"}
	ErrTooManyRequests     = HTTPError{Code: http.StatusTooManyRequests, Key: "too_many_requests"}
	ErrInternalServerError = HTTPError{Code: http.StatusInternalServerError, Key: "internal_server_error"}
	ErrBadGateway          = HTTPError{Code: http.StatusBadGateway, Key: "bad_gateway"}
	ErrServiceUnavailable  = HTTPError{Code: http.StatusServiceUnavailable, Key: "service_unavailable"}
)

// ValidationError collects per-field validation messages.
type ValidationError url.Values

func NewValidationError() ValidationError { return make(ValidationError) }

func (e ValidationError) Add(field, message string) { url.Values(e).Add(field, message) }

func (e ValidationError) IsEmpty() bool { return len(e) == 0 }

func (e ValidationError) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if msgs := e[f]; len(msgs) > 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", f, msgs[0]))
		}
	}
	return "validation error: " + strings.Join(parts, ", ")
}

// ErrorMapping translates a domain error into an HTTP error. Message, when
// set, replaces the error text in the response body.
type ErrorMapping struct {
	Err     error
	HTTP    HTTPError
	Message string
}

// MetaError is implemented by errors that carry response metadata.
type MetaError interface {
	error
	ErrorMeta() map[string]any
}
