package sync

import (
	"context"
	"errors"
	"time"
)

const (
	retryBase = 500 * time.Millisecond
	retryCap  = 30 * time.Second
)

// backoffFor returns the wait before retry attempt (0-based). A rate
// limited error overrides the exponential schedule with the wait the
// provider asked for.
func backoffFor(err error, attempt int) time.Duration {
	var rl *RateLimitedError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}
	d := retryBase << uint(attempt)
	if d > retryCap || d <= 0 {
		d = retryCap
	}
	return d
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
