package backoff

import (
	"context"
	"time"
)

// Sleep waits for the given duration, respecting context cancellation.
// Returns nil if the wait completed, or ctx.Err() if ctx was cancelled.
func Sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SleepAttempt computes the delay for attempt under policy and waits.
func SleepAttempt(ctx context.Context, policy Policy, attempt int) error {
	return Sleep(ctx, Delay(policy, attempt))
}
