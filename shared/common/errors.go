package common

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents different types of application errors
type ErrorCode string

const (
	// General errors
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"

	// Validation errors
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// Log pipeline errors
	ErrCodeDurability     ErrorCode = "DURABILITY_FAILURE"
	ErrCodeMirrorFailed   ErrorCode = "MIRROR_FAILED"
	ErrCodeDispatchFailed ErrorCode = "DISPATCH_FAILED"

	// Security errors
	ErrCodeEncryptionFailed ErrorCode = "ENCRYPTION_FAILED"
	ErrCodeDecryptionFailed ErrorCode = "DECRYPTION_FAILED"
)

// AppError represents a structured application error
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StatusCode int                    `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: getHTTPStatusCode(code),
	}
}

// NewAppErrorWithDetails creates a new application error with details
func NewAppErrorWithDetails(code ErrorCode, message, details string) *AppError {
	appErr := NewAppError(code, message)
	appErr.Details = details
	return appErr
}

// NewAppErrorWithCause creates a new application error with an underlying cause
func NewAppErrorWithCause(code ErrorCode, message string, cause error) *AppError {
	appErr := NewAppError(code, message)
	appErr.Cause = cause
	return appErr
}

// WrapError wraps an existing error with application error context
func WrapError(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return NewAppErrorWithCause(code, message, err)
}

func getHTTPStatusCode(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidInput, ErrCodeValidationFailed:
		return http.StatusBadRequest
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeServiceUnavailable, ErrCodeDurability:
		return http.StatusServiceUnavailable
	case ErrCodeMirrorFailed, ErrCodeDispatchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HasErrorCode checks if the error has a specific error code
func HasErrorCode(err error, code ErrorCode) bool {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code == code
	}
	return false
}

// ErrNotFound creates a not found error
func ErrNotFound(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

// ErrValidationFailed creates a validation error
func ErrValidationFailed(details string) *AppError {
	return NewAppErrorWithDetails(ErrCodeValidationFailed, "validation failed", details)
}

// ErrDurability reports that a local append to a log stream did not complete
func ErrDurability(stream string, cause error) *AppError {
	return NewAppErrorWithCause(ErrCodeDurability, fmt.Sprintf("failed to persist record to %s stream", stream), cause).
		WithContext("stream", stream)
}

// ErrMirror reports a failed external index write. Never returned to callers.
func ErrMirror(index string, cause error) *AppError {
	return NewAppErrorWithCause(ErrCodeMirrorFailed, fmt.Sprintf("failed to mirror document to %s", index), cause).
		WithContext("index", index)
}

// ErrDispatch reports a failed alert delivery. Never returned to callers.
func ErrDispatch(channel string, cause error) *AppError {
	return NewAppErrorWithCause(ErrCodeDispatchFailed, fmt.Sprintf("failed to deliver alert via %s", channel), cause).
		WithContext("channel", channel)
}

// IsValidationError reports whether err carries ErrCodeValidationFailed
func IsValidationError(err error) bool {
	return HasErrorCode(err, ErrCodeValidationFailed)
}

// IsDurabilityError reports whether err carries ErrCodeDurability
func IsDurabilityError(err error) bool {
	return HasErrorCode(err, ErrCodeDurability)
}

// ConfigurationWarning is a non-fatal startup condition surfaced through health
type ConfigurationWarning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Warning codes
const (
	WarnEphemeralKey        = "EPHEMERAL_ENCRYPTION_KEY"
	WarnIndexNotConfigured  = "EXTERNAL_INDEX_NOT_CONFIGURED"
	WarnWebhookUnconfigured = "WEBHOOK_NOT_CONFIGURED"
	WarnNotifierFallback    = "NOTIFIER_LOG_FALLBACK"
)

// String implements fmt.Stringer
func (w ConfigurationWarning) String() string {
	return fmt.Sprintf("%s: %s", w.Code, w.Message)
}
