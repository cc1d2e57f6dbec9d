package gateway

import (
	"errors"
	"fmt"
)

// ErrorCode classifies gateway failures. The orchestrator uses the code to
// decide whether an attempt may fall through to the next candidate.
type ErrorCode string

const (
	// ErrCodeDeclined means the gateway processed the request and refused it.
	ErrCodeDeclined ErrorCode = "declined"
	// ErrCodeUnavailable means the gateway could not be reached or returned
	// a server-side failure.
	ErrCodeUnavailable ErrorCode = "unavailable"
	// ErrCodeTimeout means the gateway did not answer within the attempt deadline.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeInvalidRequest means the request itself is malformed. A request
	// rejected for this reason will fail on every gateway, so it never
	// triggers fallback.
	ErrCodeInvalidRequest ErrorCode = "invalid_request"
)

// Error is a classified gateway failure.
type Error struct {
	Code      ErrorCode
	GatewayID string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.GatewayID != "" {
		return fmt.Sprintf("%s: %s: %s", e.GatewayID, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified gateway error.
func NewError(code ErrorCode, gatewayID, message string) *Error {
	return &Error{Code: code, GatewayID: gatewayID, Message: message}
}

// WrapError creates a classified gateway error wrapping a cause.
func WrapError(code ErrorCode, gatewayID, message string, err error) *Error {
	return &Error{Code: code, GatewayID: gatewayID, Message: message, Err: err}
}

// CodeOf extracts the ErrorCode from err, or empty string if err is not a
// gateway error.
func CodeOf(err error) ErrorCode {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}

// IsRetryable reports whether an attempt that failed with err may be retried
// on another gateway. A malformed request is the only failure pinned to the
// request itself and fails identically everywhere; every other failure,
// classified or not, is local to the gateway that produced it.
func IsRetryable(err error) bool {
	return CodeOf(err) != ErrCodeInvalidRequest
}

// ConfigError reports invalid or incomplete gateway configuration.
type ConfigError struct {
	GatewayID string
	Field     string
	Message   string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: config field '%s': %s", e.GatewayID, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: config: %s", e.GatewayID, e.Message)
}
