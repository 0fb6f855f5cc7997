package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tranvh/contextgate/internal/backoff"
)

// fastPolicy keeps retry tests quick.
var fastPolicy = backoff.Policy{InitialMs: 1, MaxMs: 5, Factor: 2, Jitter: 0}

func rateLimitErr(hint time.Duration) error {
	e := NewProviderError("openai", "gpt-4o", errors.New("rate limit")).WithStatus(429)
	if hint > 0 {
		e = e.WithRetryAfter(hint)
	}
	return e
}

func TestRetryStartSucceedsFirstTry(t *testing.T) {
	calls := 0
	v, err := retryStart(context.Background(), fastPolicy, 3, func() (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 || calls != 1 {
		t.Errorf("got v=%d calls=%d, want v=42 calls=1", v, calls)
	}
}

func TestRetryStartRateLimitRetriedOnce(t *testing.T) {
	calls := 0
	start := time.Now()
	hint := 20 * time.Millisecond

	v, err := retryStart(context.Background(), fastPolicy, 3, func() (string, error) {
		calls++
		if calls == 1 {
			return "", rateLimitErr(hint)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" || calls != 2 {
		t.Errorf("got v=%q calls=%d, want ok after exactly one retry", v, calls)
	}
	if elapsed := time.Since(start); elapsed < hint {
		t.Errorf("retry fired after %v, want at least the %v hint", elapsed, hint)
	}
}

func TestRetryStartSecondRateLimitFails(t *testing.T) {
	calls := 0
	_, err := retryStart(context.Background(), fastPolicy, 5, func() (int, error) {
		calls++
		return 0, rateLimitErr(time.Millisecond)
	})
	if err == nil {
		t.Fatal("expected error after repeated throttling")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry only)", calls)
	}
	if KindOf(err) != KindRateLimit {
		t.Errorf("KindOf(err) = %q, want %q", KindOf(err), KindRateLimit)
	}
}

func TestRetryStartNonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	authErr := NewProviderError("anthropic", "", errors.New("invalid api key")).WithStatus(401)

	_, err := retryStart(context.Background(), fastPolicy, 3, func() (int, error) {
		calls++
		return 0, authErr
	})
	if !errors.Is(err, authErr) {
		t.Fatalf("err = %v, want the auth error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryStartTransientRetriesUpToMax(t *testing.T) {
	calls := 0
	_, err := retryStart(context.Background(), fastPolicy, 3, func() (int, error) {
		calls++
		return 0, errors.New("connection reset by peer")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryStartRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := retryStart(ctx, fastPolicy, 3, func() (int, error) {
		calls++
		return 0, errors.New("timeout")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}
