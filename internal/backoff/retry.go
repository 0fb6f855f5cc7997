package backoff

import (
	"context"
	"errors"
)

// ErrAttemptsExhausted is returned when all retry attempts failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Result holds the outcome of a retry loop.
type Result[T any] struct {
	// Value is the successful result.
	Value T
	// Attempts is the number of attempts made (1-indexed).
	Attempts int
	// LastError is the last error encountered, if any.
	LastError error
}

// Retry executes fn with exponential backoff until it succeeds, retryable
// rejects the error, maxAttempts is reached, or ctx is cancelled. fn
// receives the current attempt number (1-indexed). A nil retryable retries
// every error.
func Retry[T any](
	ctx context.Context,
	policy Policy,
	maxAttempts int,
	retryable func(error) bool,
	fn func(attempt int) (T, error),
) (Result[T], error) {
	var result Result[T]
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.LastError = lastErr
			return result, err
		}

		value, err := fn(attempt)
		if err == nil {
			result.Value = value
			return result, nil
		}

		lastErr = err
		result.LastError = err

		if retryable != nil && !retryable(err) {
			return result, err
		}
		if attempt < maxAttempts {
			if err := SleepAttempt(ctx, policy, attempt); err != nil {
				return result, err
			}
		}
	}

	return result, errors.Join(ErrAttemptsExhausted, lastErr)
}

// RetrySimple retries a void function under the default policy.
func RetrySimple(ctx context.Context, maxAttempts int, fn func() error) error {
	_, err := Retry(ctx, DefaultPolicy(), maxAttempts, nil, func(_ int) (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
