// Package httpx holds the HTTP plumbing shared by the control and data planes:
// the error envelope, request logging and request metrics.
package httpx

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/heraldhq/herald/internal/validation"
)

// Machine-readable error codes of the ErrorResponse envelope.
const (
	CodeInvalidJSON  = "ERR_INVALID_JSON"
	CodeInvalidInput = "ERR_INVALID_INPUT"
	CodeNotFound     = "ERR_NOT_FOUND"
	CodeUnauthorized = "ERR_UNAUTHORIZED"
	CodeConflict     = "ERR_CONFLICT"
	CodeRateLimited  = "ERR_RATE_LIMITED"
	CodeInternal     = "ERR_INTERNAL"
)

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details lists field-level validation failures, when any.
	Details []validation.FieldError `json:"details,omitempty"`
}

// Error writes an ErrorResponse with the given status.
func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details ...validation.FieldError) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Code: code, Message: message, Details: details})
}

// InvalidJSON answers 400 for a body that could not be decoded.
func InvalidJSON(w http.ResponseWriter, r *http.Request, err error) {
	Error(w, r, http.StatusBadRequest, CodeInvalidJSON, "Invalid JSON payload: "+err.Error())
}

// InvalidInput answers 400 with field details.
func InvalidInput(w http.ResponseWriter, r *http.Request, message string, details ...validation.FieldError) {
	Error(w, r, http.StatusBadRequest, CodeInvalidInput, message, details...)
}

func NotFound(w http.ResponseWriter, r *http.Request, message string) {
	Error(w, r, http.StatusNotFound, CodeNotFound, message)
}

func Internal(w http.ResponseWriter, r *http.Request, message string) {
	Error(w, r, http.StatusInternalServerError, CodeInternal, message)
}
