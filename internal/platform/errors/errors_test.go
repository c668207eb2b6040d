package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	err := ValidationError("invalid role")

	assert.Equal(t, TypeValidation, err.Type)
	assert.Equal(t, "invalid role", err.Message)
	assert.Nil(t, err.Cause)
	assert.NotNil(t, err.Context)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
	assert.False(t, err.Retryable())
	assert.Contains(t, err.Error(), "validation")
	assert.Contains(t, err.Error(), "invalid role")
}

func TestConcurrentRequestError(t *testing.T) {
	err := ConcurrentRequestError("a retry is already in progress")

	assert.Equal(t, TypeConcurrentRequest, err.Type)
	assert.Equal(t, http.StatusConflict, err.HTTPStatus())
	assert.True(t, err.Retryable())
	assert.Contains(t, err.Error(), "concurrent_request")
}

func TestCredentialError(t *testing.T) {
	cause := fmt.Errorf("issuer returned 503")
	err := CredentialError("failed to acquire join credential", cause)

	assert.Equal(t, TypeCredential, err.Type)
	assert.Equal(t, cause, err.Cause)
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus())
	assert.True(t, err.Retryable())
	assert.Contains(t, err.Error(), "issuer returned 503")
}

func TestConnectionError(t *testing.T) {
	err := ConnectionError("failed to connect to media server", fmt.Errorf("dial tcp: refused"))

	assert.Equal(t, TypeConnection, err.Type)
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus())
	assert.True(t, err.Retryable())
}

func TestCaptureError(t *testing.T) {
	err := CaptureError("connected but not broadcasting", fmt.Errorf("camera denied"))

	assert.Equal(t, TypeCapture, err.Type)
	assert.Equal(t, http.StatusUnprocessableEntity, err.HTTPStatus())
	assert.True(t, err.Retryable())
}

func TestConfigurationError(t *testing.T) {
	err := ConfigurationError("media server URL is not configured")

	assert.Equal(t, TypeConfiguration, err.Type)
	assert.Nil(t, err.Cause)
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
	assert.False(t, err.Retryable())
}

func TestInternalErrorWithoutCause(t *testing.T) {
	err := InternalError("something went wrong", nil)

	assert.Equal(t, TypeInternal, err.Type)
	assert.Nil(t, err.Cause)
	assert.NotContains(t, err.Error(), "<nil>")
}

func TestExternalError(t *testing.T) {
	cause := fmt.Errorf("live api timeout")
	err := ExternalError("failed to call live api", cause)

	assert.Equal(t, TypeExternal, err.Type)
	assert.Equal(t, cause, err.Cause)
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus())
	assert.True(t, err.Retryable())
	assert.Contains(t, err.Error(), "external")
	assert.Contains(t, err.Error(), "live api timeout")
}

func TestWithFieldChaining(t *testing.T) {
	err := NotFoundError("session not found").
		WithField("session_id", "abc-123").
		WithField("event_id", "E1")

	assert.Len(t, err.Context, 2)
	assert.Equal(t, "abc-123", err.Context["session_id"])
	assert.Equal(t, "E1", err.Context["event_id"])
}

func TestWithContextNilMap(t *testing.T) {
	err := &Error{
		Type:    TypeValidation,
		Message: "test",
		Context: nil,
	}

	err = err.WithContext("key", "value")

	assert.NotNil(t, err.Context)
	assert.Equal(t, "value", err.Context["key"])
}

func TestToResponse(t *testing.T) {
	err := CredentialError("failed to acquire join credential", nil).
		WithContext("role", "broadcaster")

	resp := err.ToResponse()

	assert.Equal(t, "failed to acquire join credential", resp.Error)
	assert.Equal(t, TypeCredential, resp.Type)
	assert.True(t, resp.Retryable)
	assert.Equal(t, "broadcaster", resp.Context["role"])
}

func TestErrorsIsThroughCause(t *testing.T) {
	rootCause := fmt.Errorf("root")
	wrapped := ConnectionError("wrapped", rootCause)

	assert.True(t, errors.Is(wrapped, rootCause))
	assert.Equal(t, rootCause, errors.Unwrap(wrapped))
}

func TestIsType(t *testing.T) {
	err := fmt.Errorf("join: %w", ConcurrentRequestError("busy"))

	assert.True(t, IsType(err, TypeConcurrentRequest))
	assert.False(t, IsType(err, TypeCredential))
	assert.False(t, IsType(errors.New("plain"), TypeConcurrentRequest))
}

func TestAsStructuredError(t *testing.T) {
	t.Run("structured error unchanged", func(t *testing.T) {
		original := ValidationError("original")
		assert.Equal(t, original, AsStructuredError(original))
	})

	t.Run("standard error wrapped as internal", func(t *testing.T) {
		original := fmt.Errorf("standard error")
		result := AsStructuredError(original)

		require.NotNil(t, result)
		assert.Equal(t, TypeInternal, result.Type)
		assert.Equal(t, "internal server error", result.Message)
		assert.Equal(t, original, result.Cause)
	})

	t.Run("wrapped structured error found", func(t *testing.T) {
		wrapped := fmt.Errorf("wrapped: %w", NotFoundError("session not found"))
		result := AsStructuredError(wrapped)

		require.NotNil(t, result)
		assert.Equal(t, TypeNotFound, result.Type)
	})

	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, AsStructuredError(nil))
	})
}

func TestHTTPStatusAllTypes(t *testing.T) {
	tests := []struct {
		name       string
		errorType  ErrorType
		wantStatus int
	}{
		{"validation", TypeValidation, http.StatusBadRequest},
		{"not_found", TypeNotFound, http.StatusNotFound},
		{"conflict", TypeConflict, http.StatusConflict},
		{"concurrent_request", TypeConcurrentRequest, http.StatusConflict},
		{"credential", TypeCredential, http.StatusBadGateway},
		{"connection", TypeConnection, http.StatusBadGateway},
		{"capture", TypeCapture, http.StatusUnprocessableEntity},
		{"configuration", TypeConfiguration, http.StatusInternalServerError},
		{"internal", TypeInternal, http.StatusInternalServerError},
		{"external", TypeExternal, http.StatusBadGateway},
		{"unknown", ErrorType("unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &Error{Type: tt.errorType}
			assert.Equal(t, tt.wantStatus, err.HTTPStatus())
		})
	}
}
