package types

import (
	"errors"
	"fmt"
)

// ErrorType categorizes failures surfaced by the core services.
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeInvalidState ErrorType = "invalid_state"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"
)

// AppError is a structured error carrying a machine-readable type and code.
type AppError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(code, message string) *AppError {
	return &AppError{Type: ErrorTypeNotFound, Code: code, Message: message}
}

// NewInvalidStateError creates an invalid-state error, used when a
// suggestion is acted on after it already reached a terminal state.
func NewInvalidStateError(code, message string) *AppError {
	return &AppError{Type: ErrorTypeInvalidState, Code: code, Message: message}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *AppError {
	return &AppError{Type: ErrorTypeValidation, Code: code, Message: message}
}

// NewInternalError creates an internal error wrapping a cause.
func NewInternalError(code, message string, cause error) *AppError {
	return &AppError{Type: ErrorTypeInternal, Code: code, Message: message, Cause: cause}
}

// NewExternalError creates an error for an upstream collaborator failure.
func NewExternalError(code, message string, cause error) *AppError {
	return &AppError{Type: ErrorTypeExternal, Code: code, Message: message, Cause: cause}
}

// Common error codes.
const (
	ErrCodeSuggestionNotFound = "SUGGESTION_NOT_FOUND"
	ErrCodePrincipalNotFound  = "PRINCIPAL_NOT_FOUND"
	ErrCodePermissionNotFound = "PERMISSION_NOT_FOUND"
	ErrCodeAlreadyProcessed   = "ALREADY_PROCESSED"
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeRecommenderError   = "RECOMMENDER_ERROR"
)

// IsErrorType reports whether err is, or wraps, an AppError of the given
// type.
func IsErrorType(err error, t ErrorType) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == t
}
