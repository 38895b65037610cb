package engine

import (
	"context"
	"time"
)

// RetryPolicy bounds the retry loop around individual API calls.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // 0 means uncapped
}

// Retry runs op until it succeeds, fails terminally, or the attempt budget
// is exhausted. Only transient errors (see IsTransient) are retried; the
// backoff doubles per attempt. The final error is returned unwrapped so
// callers keep access to the typed cause.
func Retry(ctx context.Context, p RetryPolicy, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay

	var err error
	for i := 0; i < attempts; i++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}
