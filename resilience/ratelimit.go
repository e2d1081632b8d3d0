package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// Rate is the number of dispatches allowed per second.
	// Default: 10
	Rate float64

	// Burst is the maximum burst size.
	// Default: 1
	Burst int

	// MaxWait bounds how long Wait blocks for a token. Zero waits until a
	// token arrives or the context ends.
	// Default: 0
	MaxWait time.Duration
}

// RateLimiter is a token bucket that paces outgoing requests.
type RateLimiter struct {
	mu          sync.Mutex
	config      RateLimiterConfig
	tokens      float64
	lastRefresh time.Time
	now         func() time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	config = normalizeRate(config)
	return &RateLimiter{
		config:      config,
		tokens:      float64(config.Burst),
		lastRefresh: time.Now(),
		now:         time.Now,
	}
}

func normalizeRate(config RateLimiterConfig) RateLimiterConfig {
	if config.Rate <= 0 {
		config.Rate = 10
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	return config
}

// Allow takes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is taken, the context ends, or MaxWait elapses.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	var deadline <-chan time.Time
	if rl.config.MaxWait > 0 {
		timer := time.NewTimer(rl.config.MaxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rl.mu.Lock()
		rl.refillLocked()
		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - rl.tokens) / rl.config.Rate * float64(time.Second))
		rl.mu.Unlock()

		if wait < time.Millisecond {
			wait = time.Millisecond
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrRateLimitExceeded
		case <-time.After(wait):
		}
	}
}

// SetRate changes the refill rate and burst size. Accumulated tokens are
// clamped to the new burst.
func (rl *RateLimiter) SetRate(rate float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()
	rl.config.Rate = rate
	rl.config.Burst = burst
	rl.config = normalizeRate(rl.config)
	if rl.tokens > float64(rl.config.Burst) {
		rl.tokens = float64(rl.config.Burst)
	}
}

func (rl *RateLimiter) refillLocked() {
	now := rl.now()
	elapsed := now.Sub(rl.lastRefresh)
	rl.lastRefresh = now

	rl.tokens += elapsed.Seconds() * rl.config.Rate
	if rl.tokens > float64(rl.config.Burst) {
		rl.tokens = float64(rl.config.Burst)
	}
}

// Tokens returns the current number of available tokens.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked()
	return rl.tokens
}

// Config returns the limiter configuration.
func (rl *RateLimiter) Config() RateLimiterConfig {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.config
}
