package backoff

import (
	"context"
	"time"

	"github.com/megaagent/memcore/internal/memerr"
)

// Retry executes fn with the policy's jittered exponential backoff, retrying
// only while the returned error is transient (memerr.IsTransient). The final
// error is returned unwrapped so callers keep the original kind. Context
// cancellation is honored both between attempts and during sleeps.
func Retry[T any](ctx context.Context, policy Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, memerr.FromContext(err)
		}

		value, err := fn(ctx, attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if !memerr.IsTransient(err) || attempt == attempts {
			break
		}
		if err := sleep(ctx, policy.Delay(attempt)); err != nil {
			return zero, memerr.FromContext(err)
		}
	}

	return zero, memerr.FromContext(lastErr)
}

// RetryVoid is Retry for operations without a result value.
func RetryVoid(ctx context.Context, policy Policy, fn func(ctx context.Context, attempt int) error) error {
	_, err := Retry(ctx, policy, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt)
	})
	return err
}

// sleep waits for the duration or until the context is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
