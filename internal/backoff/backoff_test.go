package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayWithRand(t *testing.T) {
	policy := Policy{InitialMs: 100, MaxMs: 30000, Factor: 2, Jitter: 0.1}

	tests := []struct {
		name     string
		attempt  int
		random   float64
		expected time.Duration
	}{
		{"first attempt no jitter", 1, 0, 100 * time.Millisecond},
		{"second attempt no jitter", 2, 0, 200 * time.Millisecond},
		{"third attempt no jitter", 3, 0, 400 * time.Millisecond},
		{"first attempt full jitter", 1, 1.0, 110 * time.Millisecond},
		{"attempt zero treated as one", 0, 0, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DelayWithRand(policy, tt.attempt, tt.random); got != tt.expected {
				t.Errorf("DelayWithRand(attempt=%d, rand=%v) = %v, want %v", tt.attempt, tt.random, got, tt.expected)
			}
		})
	}
}

func TestDelayClampsToMax(t *testing.T) {
	policy := Policy{InitialMs: 100, MaxMs: 500, Factor: 10, Jitter: 0}
	if got := DelayWithRand(policy, 5, 0); got != 500*time.Millisecond {
		t.Errorf("Delay = %v, want clamped 500ms", got)
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Sleep(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep = %v, want context.Canceled", err)
	}
}

func TestSleepZeroDuration(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) = %v, want nil", err)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	policy := Policy{InitialMs: 1, MaxMs: 5, Factor: 2, Jitter: 0}
	calls := 0

	result, err := Retry(context.Background(), policy, 5, nil, func(attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errors.New("not yet")
		}
		return "done", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Value != "done" || result.Attempts != 3 || calls != 3 {
		t.Errorf("result = %+v calls = %d, want success on attempt 3", result, calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	policy := Policy{InitialMs: 1, MaxMs: 2, Factor: 1, Jitter: 0}
	cause := errors.New("always fails")

	result, err := Retry(context.Background(), policy, 3, nil, func(int) (int, error) {
		return 0, cause
	})
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("err = %v, want ErrAttemptsExhausted", err)
	}
	if !errors.Is(err, cause) {
		t.Error("exhaustion error should join the last cause")
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	policy := Policy{InitialMs: 1, MaxMs: 2, Factor: 1, Jitter: 0}
	fatal := errors.New("fatal")
	calls := 0

	_, err := Retry(context.Background(), policy, 5, func(err error) bool {
		return !errors.Is(err, fatal)
	}, func(int) (int, error) {
		calls++
		return 0, fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("err = %v, want fatal", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Retry(ctx, DefaultPolicy(), 3, nil, func(int) (int, error) {
		return 0, errors.New("nope")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRetrySimple(t *testing.T) {
	calls := 0
	err := RetrySimple(context.Background(), 3, func() error {
		calls++
		if calls < 2 {
			return errors.New("again")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
