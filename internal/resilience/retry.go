// Package resilience provides bounded retry with a fixed backoff.
package resilience

import (
	"context"
	"time"
)

// Retry defaults.
const (
	DefaultAttempts = 3
	DefaultBackoff  = 200 * time.Millisecond
)

// RetryConfig holds retry settings.
type RetryConfig struct {
	// Attempts is the total number of calls, including the first one.
	Attempts int
	Backoff  time.Duration

	// IsRetryable decides whether an error is worth another attempt.
	// Nil means every error is retried.
	IsRetryable func(error) bool

	// OnRetry is called before sleeping; attempt is 1-based.
	OnRetry func(attempt int, err error)
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempts are used up, or ctx is done. It returns the last error.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	var lastErr error

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}

		if !cfg.IsRetryable(lastErr) || attempt == cfg.Attempts {
			return lastErr
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr)
		}

		t := time.NewTimer(cfg.Backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return lastErr
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.Backoff < 0 {
		c.Backoff = 0
	}
	if c.IsRetryable == nil {
		c.IsRetryable = func(error) bool { return true }
	}
	return c
}
