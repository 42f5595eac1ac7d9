// Package errors defines the HTTP error surface. The protocol
// deliberately collapses every failure cause into a handful of generic
// responses: callers cannot distinguish an expired token from a store
// outage, only the server log can.
package errors

import (
	"encoding/json"
	"net/http"
)

// Standard error responses.
var (
	ErrBadRequest          = &HTTPError{Code: "bad_request", Message: "Bad request", Status: http.StatusBadRequest}
	ErrForbidden           = &HTTPError{Code: "forbidden", Message: "Forbidden", Status: http.StatusForbidden}
	ErrUnauthorized        = &HTTPError{Code: "unauthorized", Message: "Unauthorized", Status: http.StatusUnauthorized}
	ErrTooManyRequests     = &HTTPError{Code: "too_many_requests", Message: "Too many requests", Status: http.StatusTooManyRequests}
	ErrMethodNotAllowed    = &HTTPError{Code: "method_not_allowed", Message: "Method not allowed", Status: http.StatusMethodNotAllowed}
	ErrInternalServerError = &HTTPError{Code: "internal_error", Message: "Internal server error", Status: http.StatusInternalServerError}
)

// HTTPError represents a standard API error.
type HTTPError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Status  int    `json:"-"`
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return e.Message + ": " + e.Detail
	}
	return e.Message
}

// WithDetail returns a copy of the error with specific details.
func (e *HTTPError) WithDetail(detail string) *HTTPError {
	return &HTTPError{Code: e.Code, Message: e.Message, Detail: detail, Status: e.Status}
}

// WriteError writes the error to the response writer.
func WriteError(w http.ResponseWriter, err error) {
	httpErr, ok := err.(*HTTPError)
	if !ok {
		httpErr = ErrInternalServerError
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(httpErr.Status)
	_ = json.NewEncoder(w).Encode(httpErr)
}

// WriteJSON writes a standard JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
