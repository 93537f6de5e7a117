package shared

import (
	"context"
	"errors"
	"time"
)

// RetryConfig bounds the retry loop.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetry suits short serialization conflicts (number races,
// repeatable-read aborts).
var DefaultRetry = RetryConfig{Attempts: 4, BaseDelay: 25 * time.Millisecond, MaxDelay: 400 * time.Millisecond}

// Retry runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is exhausted. Only ErrConcurrency is retried; every other
// error is returned as-is.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := cfg.BaseDelay
	if delay <= 0 {
		delay = 25 * time.Millisecond
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConcurrency) {
			return err
		}
	}
	return err
}
