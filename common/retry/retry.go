// Package retry runs an operation again after transient failures, doubling
// the wait between attempts.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls how Do retries.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 mean a single attempt.
	MaxAttempts int
	// InitialDelay is the wait before the second attempt; each later wait
	// doubles until it reaches MaxDelay.
	InitialDelay time.Duration
	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration
	// ShouldRetry classifies errors. A nil predicate retries everything.
	ShouldRetry func(err error) bool
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	return c
}

// Do calls fn until it succeeds, the attempts run out, ShouldRetry rejects
// the error, or ctx is cancelled. The last attempt's error is returned;
// cancellation mid-wait joins it with the context error.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg = cfg.withDefaults()

	delay := cfg.InitialDelay
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if cfg.ShouldRetry != nil && !cfg.ShouldRetry(lastErr) {
			return lastErr
		}
		if attempt >= cfg.MaxAttempts {
			return lastErr
		}

		slog.Debug("retry: attempt failed, retrying",
			"attempt", attempt, "max", cfg.MaxAttempts,
			"err", lastErr, "delay", delay)

		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(delay):
		}
		delay = min(delay*2, cfg.MaxDelay)
	}
}
