// Package errors implements the HTTP-facing error taxonomy: a closed
// set of error types, each mapped to an HTTP status code and a safe,
// user-facing message, used at every process boundary (the exposed
// health endpoint and any structured {success:false, error} response).
package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorType is one of a closed set of HTTP-facing error classes.
type ErrorType string

const (
	ErrorTypeInvalidConfig ErrorType = "invalid_config"
	ErrorTypeAuth          ErrorType = "auth"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeTimeout       ErrorType = "timeout"
	ErrorTypeRateLimit     ErrorType = "rate_limit"
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeServer        ErrorType = "server"
	ErrorTypeInternal      ErrorType = "internal"
	// ErrorTypeValidation covers the request-payload-validation case,
	// as distinct from a rejected cron expression or connector URL.
	ErrorTypeValidation ErrorType = "validation"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeInvalidConfig: http.StatusBadRequest,
	ErrorTypeValidation:    http.StatusBadRequest,
	ErrorTypeAuth:          http.StatusUnauthorized,
	ErrorTypeNotFound:      http.StatusNotFound,
	ErrorTypeConflict:      http.StatusConflict,
	ErrorTypeTimeout:       http.StatusRequestTimeout,
	ErrorTypeRateLimit:     http.StatusTooManyRequests,
	ErrorTypeNetwork:       http.StatusInternalServerError,
	ErrorTypeServer:        http.StatusInternalServerError,
	ErrorTypeInternal:      http.StatusInternalServerError,
}

// AppError is a typed, HTTP-status-bearing error.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	Cause      error
}

// New creates an AppError of the given type with its default status code.
func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodes[t],
	}
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails attaches additional context, modifying e in place.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf attaches formatted additional context, modifying e in place.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// Wrap creates an AppError of the given type around cause.
func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodes[t],
		Cause:      cause,
	}
}

// Wrapf creates an AppError of the given type around cause with a
// formatted message.
func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// IsType reports whether err is an *AppError of type t.
func IsType(err error, t ErrorType) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Type == t
}

// GetType returns err's ErrorType, or ErrorTypeInternal if err is not an *AppError.
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status code for err.
func GetStatusCode(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// errorMessages holds safe, user-facing messages for error types whose
// underlying details should never reach an external caller.
type errorMessages struct {
	ResourceNotFound       string
	AuthenticationFailed   string
	OperationTimeout       string
	RateLimitExceeded      string
	ConcurrentModification string
	InternalError          string
}

// ErrorMessages holds the canned safe messages referenced by SafeErrorMessage.
var ErrorMessages = errorMessages{
	ResourceNotFound:       "The requested resource was not found",
	AuthenticationFailed:   "Authentication failed",
	OperationTimeout:       "The operation timed out",
	RateLimitExceeded:      "Rate limit exceeded, please try again later",
	ConcurrentModification: "The resource was modified concurrently, please retry",
	InternalError:          "An internal error occurred",
}

// SafeErrorMessage returns a message safe to return to an external
// caller: validation messages pass through verbatim (they describe the
// caller's own input), everything else is mapped to a canned message
// that never leaks internal details.
func SafeErrorMessage(err error) string {
	appErr, ok := err.(*AppError)
	if !ok {
		return "An unexpected error occurred"
	}
	switch appErr.Type {
	case ErrorTypeValidation:
		return appErr.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict:
		return ErrorMessages.ConcurrentModification
	default:
		return ErrorMessages.InternalError
	}
}

// LogFields returns the structured fields worth logging for err,
// suitable for passing to pkg/shared/logging.Fields.Custom calls.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{
		"error": err.Error(),
	}
	appErr, ok := err.(*AppError)
	if !ok {
		return fields
	}
	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain joins non-nil errors with " -> ", returning the sole error
// unwrapped when exactly one is non-nil, or nil when none are.
func Chain(errs ...error) error {
	var msgs []string
	var sole error
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
			sole = err
		}
	}
	switch len(msgs) {
	case 0:
		return nil
	case 1:
		return sole
	default:
		return fmt.Errorf("%s", strings.Join(msgs, " -> "))
	}
}

// NewValidationError creates a validation AppError.
func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

// NewDatabaseError creates a server-type AppError for a database operation failure.
func NewDatabaseError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeServer, "database operation failed: %s", operation)
}

// NewNotFoundError creates a not-found AppError for the named resource.
func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

// NewAuthError creates an auth-type AppError.
func NewAuthError(message string) *AppError {
	return New(ErrorTypeAuth, message)
}

// NewTimeoutError creates a timeout AppError for the named operation.
func NewTimeoutError(operation string) *AppError {
	return New(ErrorTypeTimeout, fmt.Sprintf("operation timed out: %s", operation))
}
