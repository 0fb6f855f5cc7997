package providers

import (
	"context"

	"github.com/tranvh/contextgate/internal/backoff"
)

// maxEmptyStreamEvents is the maximum number of consecutive empty events
// before treating a stream as malformed. Protects against streams that flood
// with empty events and would otherwise spin the consumer.
const maxEmptyStreamEvents = 300

// defaultStartAttempts bounds the retry loop when opening a stream.
const defaultStartAttempts = 3

// retryStart opens a stream with taxonomy-driven retries. Transient and
// overloaded errors back off up to maxAttempts. A rate limit is retried
// exactly once, honoring the backend's retry-after hint when present.
// Authentication, quota, and invalid-request errors fail immediately.
func retryStart[T any](ctx context.Context, policy backoff.Policy, maxAttempts int, open func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	rateLimitRetried := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := open()
		if err == nil {
			return v, nil
		}
		lastErr = err

		kind := KindOf(err)
		switch {
		case kind == KindRateLimit && !rateLimitRetried:
			rateLimitRetried = true
			delay := backoff.Delay(policy, attempt)
			if hint, ok := RetryAfterHint(err); ok {
				delay = hint
			}
			if serr := backoff.Sleep(ctx, delay); serr != nil {
				return zero, serr
			}
		case kind == KindRateLimit:
			// Second throttle in a row: surface to the caller.
			return zero, err
		case kind.Retryable() && attempt < maxAttempts:
			if serr := backoff.SleepAttempt(ctx, policy, attempt); serr != nil {
				return zero, serr
			}
		default:
			return zero, err
		}
	}
	return zero, lastErr
}
