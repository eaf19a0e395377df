package handler

import (
	"encoding/json"
	"errors"
	"maps"
	"net/http"
)

// JSONResponse is the envelope of every API response.
type JSONResponse struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
	Details map[string][]string `json:"details,omitempty"`
}

type jsonResponse struct {
	status int
	body   JSONResponse
}

func (j jsonResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSONOption configures a JSON response.
type JSONOption func(*jsonResponse)

// WithJSONStatus sets the HTTP status code.
func WithJSONStatus(status int) JSONOption {
	return func(r *jsonResponse) { r.status = status }
}

// WithJSONMeta attaches metadata.
func WithJSONMeta(meta map[string]any) JSONOption {
	return func(r *jsonResponse) {
		if r.body.Meta == nil {
			r.body.Meta = make(map[string]any, len(meta))
		}
		maps.Copy(r.body.Meta, meta)
	}
}

// JSON renders v as data with status 200.
func JSON(v any, opts ...JSONOption) Response {
	r := &jsonResponse{status: http.StatusOK}
	r.body.Data = v
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JSONError renders err in the envelope. Status and code come from
// ValidationError, HTTPError, the mappings (first match wins) and fall back
// to 500 internal_error.
func JSONError(err error, mappings ...ErrorMapping) Response {
	r := &jsonResponse{status: http.StatusInternalServerError}
	r.body.Error = classify(err, mappings, &r.status)

	var me MetaError
	if errors.As(err, &me) {
		if meta := me.ErrorMeta(); len(meta) > 0 {
			r.body.Meta = meta
		}
	}
	return r
}

func classify(err error, mappings []ErrorMapping, status *int) *ErrorDetail {
	var valErr ValidationError
	if errors.As(err, &valErr) {
		*status = http.StatusUnprocessableEntity
		d := &ErrorDetail{Code: "validation_error", Message: valErr.Error()}
		if len(valErr) > 0 {
			d.Details = make(map[string][]string, len(valErr))
			maps.Copy(d.Details, valErr)
		}
		return d
	}

	for _, m := range mappings {
		if errors.Is(err, m.Err) {
			*status = m.HTTP.Code
			msg := m.Message
			if msg == "" {
				msg = err.Error()
			}
			return &ErrorDetail{Code: m.HTTP.Key, Message: msg}
		}
	}

	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		*status = httpErr.Code
		return &ErrorDetail{Code: httpErr.Key, Message: http.StatusText(httpErr.Code)}
	}

	switch {
	case errors.Is(err, ErrInvalidJSON):
		*status = http.StatusBadRequest
		return &ErrorDetail{Code: "invalid_json", Message: err.Error()}
	case errors.Is(err, ErrUnsupportedMediaType):
		*status = http.StatusUnsupportedMediaType
		return &ErrorDetail{Code: "unsupported_media_type", Message: err.Error()}
	}

	return &ErrorDetail{Code: "internal_error", Message: http.StatusText(http.StatusInternalServerError)}
}
