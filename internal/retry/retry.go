// Package retry provides a bounded retry executor with exponential
// backoff and jitter, used by the external data-source clients.
package retry

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/rion/birdsong-go/internal/errors"
)

var logger *slog.Logger

func init() {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SetLogger replaces the package logger, called once the logging system
// is initialized.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// Config controls how an operation is retried.
type Config struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth of the delay.
	MaxDelay time.Duration
	// Jitter is the fraction by which each delay is randomly scaled,
	// drawing a factor uniformly from [1-Jitter, 1+Jitter].
	Jitter float64
	// IsRetryable overrides the error's own transience flag when set.
	IsRetryable func(error) bool
}

// DefaultConfig mirrors the settings the enrichment clients use when
// the configuration does not override them.
func DefaultConfig() Config {
	return Config{
		Attempts:  3,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  8 * time.Second,
		Jitter:    0.2,
	}
}

func (c *Config) normalize() {
	if c.Attempts < 1 {
		c.Attempts = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = 0.2
	}
}

// Delay returns the backoff delay used after the given failed attempt
// (1-based), before jitter is applied.
func (c *Config) Delay(attempt int) time.Duration {
	delay := c.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return min(delay, c.MaxDelay)
}

func (c *Config) jittered(delay time.Duration) time.Duration {
	if c.Jitter == 0 {
		return delay
	}
	factor := 1 - c.Jitter + 2*c.Jitter*rand.Float64()
	return time.Duration(float64(delay) * factor)
}

// Do runs op up to cfg.Attempts times, sleeping between attempts with
// exponentially growing, jittered delays. A non-retryable error or the
// final attempt's error is returned unchanged. Context cancellation
// aborts the backoff sleep and returns the context error.
func Do[T any](ctx context.Context, desc string, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	cfg.normalize()
	retryable := cfg.IsRetryable
	if retryable == nil {
		retryable = errors.IsRetryable
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryable(err) {
			logger.Debug("operation failed with terminal error",
				"operation", desc, "attempt", attempt, "error", err)
			return zero, err
		}
		if attempt == cfg.Attempts {
			break
		}

		delay := cfg.jittered(cfg.Delay(attempt))
		logger.Warn("operation failed, backing off",
			"operation", desc, "attempt", attempt,
			"max_attempts", cfg.Attempts, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	logger.Error("operation failed after all attempts",
		"operation", desc, "attempts", cfg.Attempts, "error", lastErr)
	return zero, lastErr
}
