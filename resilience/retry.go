package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig configures the retry policy.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero selects the default; a negative value disables retries.
	// Default: 3
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	// Default: 1s
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries.
	// Default: 30s
	MaxDelay time.Duration

	// Multiplier is the backoff growth factor.
	// Default: 2.0
	Multiplier float64

	// Jitter adds up to 25% random delay on top of the backoff.
	// Default: false
	Jitter bool

	// RetryIf determines if an error class is retryable.
	// Default: IsRetryable
	RetryIf func(err error) bool

	// OnRetry is called before each retry wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// RetryPolicy decides whether and when a failed attempt is retried.
// Attempts are zero-based: attempt 0 is the first execution.
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a retry policy, applying defaults.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.RetryIf == nil {
		config.RetryIf = IsRetryable
	}

	return &RetryPolicy{config: config}
}

// ShouldRetry reports whether a failure of the given attempt is retried.
func (r *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= r.config.MaxRetries {
		return false
	}
	return r.config.RetryIf(err)
}

// Retryable reports whether err belongs to a retryable class, ignoring the budget.
func (r *RetryPolicy) Retryable(err error) bool {
	return err != nil && r.config.RetryIf(err)
}

// DelayFor returns BaseDelay * Multiplier^attempt, capped at MaxDelay.
func (r *RetryPolicy) DelayFor(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	multiplier := math.Pow(r.config.Multiplier, float64(attempt))
	delay := time.Duration(float64(r.config.BaseDelay) * multiplier)

	// Cap at max delay
	if delay > r.config.MaxDelay || delay <= 0 {
		delay = r.config.MaxDelay
	}

	if r.config.Jitter && delay >= 4 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		delay += time.Duration(rand.Int64N(int64(delay / 4)))
	}

	return delay
}

// NotifyRetry invokes the OnRetry hook, if any.
func (r *RetryPolicy) NotifyRetry(attempt int, err error, delay time.Duration) {
	if r.config.OnRetry != nil {
		r.config.OnRetry(attempt, err, delay)
	}
}

// Execute runs op inline, retrying per the policy.
// Retryable failures that outlast the budget come back as ExhaustedRetriesError;
// terminal failures are returned unchanged.
func (r *RetryPolicy) Execute(ctx context.Context, op func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		if !r.ShouldRetry(err, attempt) {
			if r.Retryable(err) {
				return &ExhaustedRetriesError{Attempts: attempt + 1, Last: err}
			}
			return err
		}

		delay := r.DelayFor(attempt)
		r.NotifyRetry(attempt, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Cancelled("context done during backoff", ctx.Err())
		case <-timer.C:
		}
	}
}

// Config returns the retry configuration.
func (r *RetryPolicy) Config() RetryConfig {
	return r.config
}
