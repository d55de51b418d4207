package indexer

import (
	"context"
	"time"
)

type retryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	// MaxDelay caps the doubled backoff. Zero means uncapped.
	MaxDelay time.Duration
}

// withRetry calls fn until it succeeds, retries are exhausted or ctx is done,
// doubling the delay between attempts.
func withRetry(ctx context.Context, policy retryPolicy, fn func(context.Context) error) error {
	maxRetries := policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	delay := policy.BaseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
}
