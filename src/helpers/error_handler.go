package helpers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market-stream/src/logger"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type StreamError struct {
	Message string
	Cause   error
}

func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}

// Distinct error types for errors.As
type ConfigurationError struct{ StreamError }
type NetworkError struct{ StreamError }
type FetchError struct{ StreamError }
type RateLimitError struct{ StreamError }
type TimeoutError struct{ StreamError }
type ProtocolError struct{ StreamError }
type CacheError struct{ StreamError }

func NewFetchError(message string, cause error) error {
	return &FetchError{StreamError{Message: message, Cause: cause}}
}

func NewRateLimitError(message string, cause error) error {
	return &RateLimitError{StreamError{Message: message, Cause: cause}}
}

func NewTimeoutError(message string, cause error) error {
	return &TimeoutError{StreamError{Message: message, Cause: cause}}
}

func NewProtocolError(message string, cause error) error {
	return &ProtocolError{StreamError{Message: message, Cause: cause}}
}

func NewCacheError(message string, cause error) error {
	return &CacheError{StreamError{Message: message, Cause: cause}}
}

func NewConfigurationError(message string, cause error) error {
	return &ConfigurationError{StreamError{Message: message, Cause: cause}}
}

// -----------------------------------------------------------------------------
// Sentinels
// -----------------------------------------------------------------------------

var (
	ErrServerBusy    = errors.New("server busy")
	ErrNotRegistered = errors.New("client not registered")
	ErrShuttingDown  = errors.New("server shutting down")
)

// -----------------------------------------------------------------------------

// IsTransient reports whether err is an upstream condition worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	var to *TimeoutError
	var ne *NetworkError
	return errors.As(err, &rl) || errors.As(err, &to) || errors.As(err, &ne) ||
		errors.Is(err, context.DeadlineExceeded)
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff runs fn up to maxRetries+1 times with exponential backoff.
// Only transient errors are retried. The wait is interrupted by ctx.
func RetryWithBackoff(ctx context.Context, log *logger.Logger, operation string, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt == maxRetries || !IsTransient(err) {
			break
		}

		delay := baseDelay * (1 << attempt)
		if log != nil {
			log.Warning("Attempt %d/%d failed for %s: %v. Retrying in %v", attempt+1, maxRetries+1, operation, err, delay)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return NewTimeoutError(fmt.Sprintf("%s cancelled", operation), ctx.Err())
		}
	}

	return lastErr
}
