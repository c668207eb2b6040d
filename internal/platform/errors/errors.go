// Package errors provides structured error handling with context propagation and HTTP status code mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error for metrics and response formatting.
type ErrorType string

const (
	// TypeValidation indicates invalid input (HTTP 400)
	TypeValidation ErrorType = "validation"
	// TypeNotFound indicates resource not found (HTTP 404)
	TypeNotFound ErrorType = "not_found"
	// TypeConflict indicates resource conflict (HTTP 409)
	TypeConflict ErrorType = "conflict"
	// TypeConcurrentRequest indicates an identical request is still in flight (HTTP 409)
	TypeConcurrentRequest ErrorType = "concurrent_request"
	// TypeCredential indicates a join credential could not be acquired (HTTP 502)
	TypeCredential ErrorType = "credential"
	// TypeConnection indicates the media transport could not be reached (HTTP 502)
	TypeConnection ErrorType = "connection"
	// TypeCapture indicates local publish could not be enabled (HTTP 422)
	TypeCapture ErrorType = "capture"
	// TypeConfiguration indicates missing or invalid local configuration (HTTP 500)
	TypeConfiguration ErrorType = "configuration"
	// TypeInternal indicates server-side error (HTTP 500)
	TypeInternal ErrorType = "internal"
	// TypeExternal indicates external service error (HTTP 502/503)
	TypeExternal ErrorType = "external"
)

// Error represents a structured error with type, message, and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the appropriate HTTP status code for this error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict, TypeConcurrentRequest:
		return http.StatusConflict
	case TypeCapture:
		return http.StatusUnprocessableEntity
	case TypeExternal, TypeCredential, TypeConnection:
		return http.StatusBadGateway
	case TypeInternal, TypeConfiguration:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry the same operation without
// changing configuration or input.
func (e *Error) Retryable() bool {
	switch e.Type {
	case TypeConcurrentRequest, TypeCredential, TypeConnection, TypeCapture, TypeExternal:
		return true
	default:
		return false
	}
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    t,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// ValidationError creates a new validation error (HTTP 400).
func ValidationError(message string) *Error {
	return newError(TypeValidation, message, nil)
}

// NotFoundError creates a new not-found error (HTTP 404).
func NotFoundError(message string) *Error {
	return newError(TypeNotFound, message, nil)
}

// ConflictError creates a new conflict error (HTTP 409).
func ConflictError(message string) *Error {
	return newError(TypeConflict, message, nil)
}

// ConcurrentRequestError creates a new concurrent-request error (HTTP 409).
func ConcurrentRequestError(message string) *Error {
	return newError(TypeConcurrentRequest, message, nil)
}

// CredentialError creates a new credential acquisition error (HTTP 502).
func CredentialError(message string, cause error) *Error {
	return newError(TypeCredential, message, cause)
}

// ConnectionError creates a new transport connection error (HTTP 502).
func ConnectionError(message string, cause error) *Error {
	return newError(TypeConnection, message, cause)
}

// CaptureError creates a new capture error (HTTP 422).
func CaptureError(message string, cause error) *Error {
	return newError(TypeCapture, message, cause)
}

// ConfigurationError creates a new configuration error (HTTP 500).
func ConfigurationError(message string) *Error {
	return newError(TypeConfiguration, message, nil)
}

// InternalError creates a new internal error (HTTP 500).
func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

// ExternalError creates a new external service error (HTTP 502).
func ExternalError(message string, cause error) *Error {
	return newError(TypeExternal, message, cause)
}

// WithContext adds context fields to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithField is an alias for WithContext (chainable).
func (e *Error) WithField(key string, value any) *Error {
	return e.WithContext(key, value)
}

// ErrorResponse represents the JSON structure sent to clients.
type ErrorResponse struct {
	Error     string         `json:"error"`
	Type      ErrorType      `json:"type"`
	Retryable bool           `json:"retryable"`
	Context   map[string]any `json:"context,omitempty"`
}

// ToResponse converts an Error to an ErrorResponse for JSON serialization.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:     e.Message,
		Type:      e.Type,
		Retryable: e.Retryable(),
		Context:   e.Context,
	}
}

// IsType reports whether err carries a structured error of the given type.
func IsType(err error, t ErrorType) bool {
	var structuredErr *Error
	return errors.As(err, &structuredErr) && structuredErr.Type == t
}

// AsStructuredError converts any error into a structured Error.
// If err is already an *Error, returns it unchanged.
// Otherwise wraps it as an internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	return InternalError("internal server error", err)
}
