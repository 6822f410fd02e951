package store

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts  = 3
	defaultBaseDelay    = 5 * time.Millisecond
	defaultJitterFactor = 0.3
)

var (
	// ErrInvalidMaxAttempts is returned when max attempts are not positive.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")
	// ErrNegativeBaseDelay is returned when the base delay is negative.
	ErrNegativeBaseDelay = errors.New("base delay must not be negative")
)

type retryConfig struct {
	maxAttempts  int
	baseDelay    time.Duration
	jitterFactor float64
}

// Option configures the transaction retry policy.
type Option func(*retryConfig) error

// WithMaxAttempts bounds how often a unit of work is replayed after a
// serialization failure or deadlock.
func WithMaxAttempts(attempts int) Option {
	return func(c *retryConfig) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		c.maxAttempts = attempts
		return nil
	}
}

// WithBaseDelay sets the first backoff delay; later attempts double it.
func WithBaseDelay(delay time.Duration) Option {
	return func(c *retryConfig) error {
		if delay < 0 {
			return ErrNegativeBaseDelay
		}
		c.baseDelay = delay
		return nil
	}
}

// retry runs fn until it succeeds, fails with a permanent error or runs out of
// attempts. Backoff: 0, base, 2*base, 4*base ... each with up to 30% jitter.
func retry(ctx context.Context, cfg retryConfig, retryable func(error) bool, fn func(ctx context.Context) error) (attempts int, err error) {
	for attempt := 0; attempt < cfg.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := cfg.baseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * cfg.jitterFactor //nolint:gosec // jitter only
			select {
			case <-time.After(delay + time.Duration(jitter)):
			case <-ctx.Done():
				return attempt, ctx.Err()
			}
		}

		err = fn(ctx)
		if err == nil || !retryable(err) {
			return attempt + 1, err
		}
	}
	return cfg.maxAttempts, err
}
