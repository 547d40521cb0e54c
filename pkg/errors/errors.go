package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType classifies gateway errors into the outcomes the dispatch
// pipeline can produce for a request.
type ErrorType string

const (
	ErrorTypeInternal    ErrorType = "internal"
	ErrorTypeBadRequest  ErrorType = "bad_request"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeUnavailable ErrorType = "unavailable"
	ErrorTypeCircuitOpen ErrorType = "circuit_open"
	ErrorTypeTimeout     ErrorType = "gateway_timeout"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
)

// Error represents a structured error with additional context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]any
}

// NewError creates a new structured error
func NewError(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Details: make(map[string]any),
	}
}

// WithCause adds the underlying cause to the error
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value any) *Error {
	e.Details[key] = value
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is: two gateway errors match when their types match
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// HTTPStatusCode returns the HTTP status code for the error type.
// Circuit-open and pool-exhausted failures both surface as 503; an
// upstream timeout is 504 from the client's view.
func (e *Error) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeBadRequest:
		return http.StatusBadRequest
	case ErrorTypeUnavailable, ErrorTypeCircuitOpen:
		return http.StatusServiceUnavailable
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// TypeOf returns the gateway error type of err, or ErrorTypeInternal
// when err is not a structured gateway error.
func TypeOf(err error) ErrorType {
	var gwErr *Error
	if stderrors.As(err, &gwErr) {
		return gwErr.Type
	}
	return ErrorTypeInternal
}

// As is a convenience re-export so callers need a single errors import
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Is is a convenience re-export so callers need a single errors import
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
