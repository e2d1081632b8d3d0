package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for resilience operations.
var (
	// ErrMaxRetriesExceeded matches every ExhaustedRetriesError.
	ErrMaxRetriesExceeded = errors.New("resilience: max retries exceeded")

	// ErrRateLimitExceeded is returned when the rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrTimeout is returned when an execution exceeds its deadline.
	ErrTimeout = errors.New("resilience: operation timed out")

	// ErrCancelled matches every CancellationError.
	ErrCancelled = errors.New("resilience: operation cancelled")
)

// TransportError is a network-level failure: the call never produced a status.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response from the remote API.
type StatusError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// Server reports whether the status is in the 5xx range.
func (e *StatusError) Server() bool {
	return e.StatusCode >= 500 && e.StatusCode <= 599
}

// ValidationError rejects a request before or after it reaches a backend.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
	}
	return "validation: " + e.Message
}

// ExhaustedRetriesError wraps the last retryable failure once the retry
// budget is spent.
type ExhaustedRetriesError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("resilience: gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedRetriesError) Unwrap() error { return e.Last }

// Is matches ErrMaxRetriesExceeded.
func (e *ExhaustedRetriesError) Is(target error) bool {
	return target == ErrMaxRetriesExceeded
}

// CancellationError is a terminal abort, requested by a caller or by teardown.
type CancellationError struct {
	Reason string
	Cause  error
}

func (e *CancellationError) Error() string {
	msg := "resilience: operation cancelled"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *CancellationError) Unwrap() error { return e.Cause }

// Is matches ErrCancelled.
func (e *CancellationError) Is(target error) bool {
	return target == ErrCancelled
}

// StoreError is a failure of the local persisted store.
// Transient marks lock/busy conditions that are safe to retry.
type StoreError struct {
	Statement string
	Transient bool
	Err       error
}

func (e *StoreError) Error() string {
	if e.Statement != "" {
		return fmt.Sprintf("store: %s: %v", e.Statement, e.Err)
	}
	return fmt.Sprintf("store: %v", e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsRetryable classifies err: network failures, timeouts, 5xx responses and
// transient store errors are retryable; everything else is terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, ErrMaxRetriesExceeded) {
		return false
	}

	var validation *ValidationError
	if errors.As(err, &validation) {
		return false
	}

	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var status *StatusError
	if errors.As(err, &status) {
		return status.Server()
	}

	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Transient
	}

	var transport *TransportError
	if errors.As(err, &transport) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Cancelled wraps cause as a CancellationError.
func Cancelled(reason string, cause error) error {
	return &CancellationError{Reason: reason, Cause: cause}
}
