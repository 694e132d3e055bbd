// Package apperrors defines the typed errors surfaced by the approvals
// service. Every error carries a stable machine-readable code and an
// HTTP-style status so the boundary layer can map it without inspecting
// message text.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable machine-readable error code.
type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeCreationFailed    Code = "CREATION_FAILED"
	CodeFetchError        Code = "FETCH_ERROR"
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeConflict          Code = "CONFLICT"
	CodeInternal          Code = "INTERNAL"
)

// httpStatus maps each code to the status class it is reported with.
var httpStatus = map[Code]int{
	CodeNotFound:          http.StatusNotFound,
	CodeInvalidTransition: http.StatusBadRequest,
	CodeUnauthorized:      http.StatusForbidden,
	CodeCreationFailed:    http.StatusInternalServerError,
	CodeFetchError:        http.StatusInternalServerError,
	CodeValidation:        http.StatusBadRequest,
	CodeConflict:          http.StatusConflict,
	CodeInternal:          http.StatusInternalServerError,
}

// Error is the typed error returned across the service boundary.
type Error struct {
	Code    Code
	Message string
	// Fields carries field-path → message detail for validation errors.
	Fields map[string]string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the status code this error maps to.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports that no entity of the given kind exists with that id.
func NotFound(kind, id string) *Error {
	return Newf(CodeNotFound, "%s %q not found", kind, id)
}

// InvalidTransition reports a status change not permitted by the transition table.
func InvalidTransition(from, to string) *Error {
	return Newf(CodeInvalidTransition, "cannot transition request from %s to %s", from, to)
}

// Unauthorized reports that the actor lacks the role or ownership required.
func Unauthorized(message string) *Error {
	return New(CodeUnauthorized, message)
}

// Validation reports malformed input with per-field detail.
func Validation(message string, fields map[string]string) *Error {
	return &Error{Code: CodeValidation, Message: message, Fields: fields}
}

// InvalidInput reports a single malformed field.
func InvalidInput(field, message string) *Error {
	return Validation("invalid input", map[string]string{field: message})
}

// CodeOf returns the code carried by err, or CodeInternal for untyped errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatusOf returns the HTTP status err maps to.
func HTTPStatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}
