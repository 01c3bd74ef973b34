// Package ai provides common types shared by the pipeline backend
// implementations. It defines the recoverable/fatal error classification
// used across STT, TTS, LLM, VAD and turn-detection providers.
package ai

import (
	"errors"
	"time"
)

var (
	// ErrRecoverable indicates a temporary backend failure that may succeed
	// if retried. Examples: network timeout, rate limiting, temporary
	// service unavailability.
	ErrRecoverable = errors.New("recoverable backend error")

	// ErrFatal indicates a permanent backend failure that will not succeed
	// if retried. Examples: invalid API key, unsupported format, malformed
	// request.
	ErrFatal = errors.New("fatal backend error")
)

// RetryConfig configures retry behavior for recoverable errors.
// The session layer never retries implicitly; callers that want retry
// apply this policy explicitly.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig provides sensible defaults for backend retries.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:    3,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      5 * time.Second,
	BackoffFactor: 2.0,
}

// IsRecoverable reports whether an error may succeed if retried.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRecoverable)
}

// IsFatal reports whether an error is permanent and should not be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// ClassifiedError wraps an underlying error with retry classification.
type ClassifiedError struct {
	Underlying error
	Retryable  bool
	Message    string
}

func (e *ClassifiedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Underlying.Error()
}

func (e *ClassifiedError) Unwrap() error {
	if e.Retryable {
		return ErrRecoverable
	}
	return ErrFatal
}

// NewRecoverableError creates a recoverable error with context.
func NewRecoverableError(underlying error, message string) error {
	return &ClassifiedError{Underlying: underlying, Retryable: true, Message: message}
}

// NewFatalError creates a fatal error with context.
func NewFatalError(underlying error, message string) error {
	return &ClassifiedError{Underlying: underlying, Retryable: false, Message: message}
}
