// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrMissingCredentials = errors.New("missing broker credentials")
	ErrSessionExpired     = errors.New("session expired")
	ErrNotFound           = errors.New("not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrConfigInvalid      = errors.New("invalid configuration")
)

// AuthError is an authentication failure at the broker boundary: bad or
// expired credentials that a single token refresh did not resolve. Never
// retried.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker authentication failed: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("broker authentication failed: %s", e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError creates a new AuthError.
func NewAuthError(message string, err error) *AuthError {
	return &AuthError{Message: message, Err: err}
}

// APIError is a rejection from the broker API: a well-formed response with a
// non-success status. 5xx and 429 are transient and retryable; other 4xx are
// not.
type APIError struct {
	StatusCode int
	ErrorCode  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker API error [%d]: %s", e.StatusCode, e.ErrorCode)
}

// Retryable reports whether the error class is transient.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// NewAPIError creates a new APIError.
func NewAPIError(statusCode int, errorCode string) *APIError {
	if errorCode == "" {
		errorCode = "UNKNOWN_ERROR"
	}
	return &APIError{StatusCode: statusCode, ErrorCode: errorCode}
}

// TransportError is a network-level failure (connection error, timeout) that
// survived the retry budget.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("broker transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new TransportError.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// PayloadFormatError is a malformed inbound webhook payload, rejected before
// validation runs.
type PayloadFormatError struct {
	Reason string
	Err    error
}

func (e *PayloadFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed alert payload: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed alert payload: %s", e.Reason)
}

func (e *PayloadFormatError) Unwrap() error {
	return e.Err
}

// NewPayloadFormatError creates a new PayloadFormatError.
func NewPayloadFormatError(reason string, err error) *PayloadFormatError {
	return &PayloadFormatError{Reason: reason, Err: err}
}

// CalculationError is a fatal pricing failure from a misconfigured
// instrument, e.g. an ATR period outside the series. Aborts the alert, never
// retried.
type CalculationError struct {
	Field   string
	Message string
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("calculation error [%s]: %s", e.Field, e.Message)
}

// NewCalculationError creates a new CalculationError.
func NewCalculationError(field, message string) *CalculationError {
	return &CalculationError{Field: field, Message: message}
}

// RepositoryError wraps a persistence failure. Propagated to the caller;
// the core does not retry repository calls.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository error during %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// NewRepositoryError creates a new RepositoryError.
func NewRepositoryError(op string, err error) *RepositoryError {
	return &RepositoryError{Op: op, Err: err}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsAuth reports whether the chain contains an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsRetryable reports whether the error is transient under the broker retry
// policy: network-class failures and 5xx/429 responses retry, everything
// else surfaces immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsAuth(err) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	return false
}
