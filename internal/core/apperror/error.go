// Package apperror provides structured errors shared by the replication services.
// Per-document failures, configuration problems and admin API errors all use AppError
// so that callers can branch on Code instead of matching message text.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"
	CodeTimeout  = "TIMEOUT_ERROR"
	CodeConfig   = "CONFIG_ERROR"

	// Validation errors (400)
	CodeValidation = "VALIDATION_ERROR"

	// Document transformation errors (422)
	CodeMissingPrimaryKey    = "MISSING_PRIMARY_KEY"
	CodeMissingRequiredField = "MISSING_REQUIRED_FIELD"
	CodeCastFailure          = "CAST_FAILURE"
	CodeUnknownCaster        = "UNKNOWN_CASTER"

	// Authorization errors (401)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict with the current state (409)
	CodeConflict = "CONFLICT"
)

// AppError is the standard error type of the module.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (field, caster names, entity, ...)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewInternal creates an internal error (hides details from API clients)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewTimeout creates an error for an operation that did not answer in time (504)
func NewTimeout(operation string) *AppError {
	return &AppError{
		Code:       CodeTimeout,
		Message:    fmt.Sprintf("%s timed out", operation),
		HTTPStatus: http.StatusGatewayTimeout,
		Details:    map[string]any{"operation": operation},
	}
}

// NewConfig creates a configuration error. Configuration errors stop a service before
// any worker is launched.
func NewConfig(message string) *AppError {
	return &AppError{
		Code:       CodeConfig,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewConflict is returned when an operation is not allowed in the current state (409).
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewForbidden is returned when a valid token lacks the required scope (403).
func NewForbidden(scope string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    "insufficient scope",
		Details:    map[string]any{"required": scope},
		HTTPStatus: http.StatusForbidden,
	}
}

// NewMissingPrimaryKey is returned when a document has no value for the schema primary key.
func NewMissingPrimaryKey(field, ref string) *AppError {
	return &AppError{
		Code:       CodeMissingPrimaryKey,
		Message:    fmt.Sprintf("primary key %q is missing (source field %q)", field, ref),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"field": field, "ref": ref},
	}
}

// NewMissingRequiredField is returned when a required field is absent and has no default.
func NewMissingRequiredField(field, ref string) *AppError {
	return &AppError{
		Code:       CodeMissingRequiredField,
		Message:    fmt.Sprintf("required field %q is missing (source field %q)", field, ref),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"field": field, "ref": ref},
	}
}

// NewCastFailure is returned when no caster of a field accepted the value.
func NewCastFailure(field string, casters []string, value any) *AppError {
	return &AppError{
		Code:       CodeCastFailure,
		Message:    fmt.Sprintf("cannot cast field %q with %v", field, casters),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"field": field, "casters": casters, "value": value},
	}
}

// NewUnknownCaster is returned when a schema names a caster that is not registered.
func NewUnknownCaster(field, caster string) *AppError {
	return &AppError{
		Code:       CodeUnknownCaster,
		Message:    fmt.Sprintf("unknown caster %q for field %q", caster, field),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"field": field, "caster": caster},
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether the error chain carries an AppError with the given code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound)
}

// IsTransformError reports whether err is a per-document transformation failure.
func IsTransformError(err error) bool {
	appErr, ok := AsAppError(err)
	if !ok {
		return false
	}
	switch appErr.Code {
	case CodeMissingPrimaryKey, CodeMissingRequiredField, CodeCastFailure, CodeUnknownCaster:
		return true
	}
	return false
}
