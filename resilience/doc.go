// Package resilience classifies failures and bounds how requests execute.
//
// It provides the error taxonomy shared by every catalogops layer and the
// primitives the scheduler is assembled from.
//
// # Errors
//
// Failures are reported as typed errors so callers can branch with
// errors.As:
//
//   - TransportError: the request never produced a response.
//   - StatusError: the server answered with a non-2xx status.
//   - ValidationError: the input was rejected before any I/O.
//   - StoreError: a local statement failed; Transient marks lock contention.
//   - ExhaustedRetriesError: a retryable failure outlived its retries.
//   - CancellationError: the caller or a shutdown cancelled the operation.
//
// IsRetryable decides which of these are worth another attempt: network
// failures, timeouts, 5xx statuses and transient store errors.
//
// # Primitives
//
//   - RetryPolicy: bounded retries with exponential backoff.
//   - Bulkhead: a resizable, non-blocking pool of execution slots.
//   - Timeout: a per-execution deadline.
//   - RateLimiter: a token bucket for pacing dispatch.
//
// # Usage
//
//	policy := resilience.NewRetryPolicy(resilience.RetryConfig{
//	    MaxRetries: 3,
//	    BaseDelay:  100 * time.Millisecond,
//	})
//
//	err := policy.Execute(ctx, func(ctx context.Context) error {
//	    return db.Migrate(ctx, models...)
//	})
//
//	var exhausted *resilience.ExhaustedRetriesError
//	if errors.As(err, &exhausted) {
//	    log.Printf("gave up after %d attempts", exhausted.Attempts)
//	}
package resilience
