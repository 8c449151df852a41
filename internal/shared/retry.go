package shared

import (
	"context"
	"time"
)

// RetryPolicy bounds a retry loop. Attempts counts total calls, not retries after the first.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
}

// DefaultRetryPolicy is used for audit writes and startup initialisation.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Base: 200 * time.Millisecond}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff returns the wait before the given retry (1-based): base, 2*base, 4*base...
func (p RetryPolicy) Backoff(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	return p.Base << (retry - 1)
}

// Retry calls fn until it succeeds or the policy is exhausted and returns the last error.
func Retry(ctx context.Context, policy RetryPolicy, sleep Sleeper, fn func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	if sleep == nil {
		sleep = SleepContext
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if waitErr := sleep(ctx, policy.Backoff(attempt)); waitErr != nil {
			return err
		}
	}
	return err
}
