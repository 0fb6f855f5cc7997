package providers

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorKindRetryable(t *testing.T) {
	tests := []struct {
		kind     ErrorKind
		expected bool
	}{
		{KindRateLimit, true},
		{KindOverloaded, true},
		{KindTransient, true},
		{KindAuthentication, false},
		{KindQuota, false},
		{KindInvalidRequest, false},
		{KindContentSafety, false},
		{KindUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Retryable(); got != tt.expected {
				t.Errorf("ErrorKind(%q).Retryable() = %v, want %v", tt.kind, got, tt.expected)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"rate limit text", errors.New("rate limit exceeded"), KindRateLimit},
		{"too many requests", errors.New("Too Many Requests"), KindRateLimit},
		{"status 429", errors.New("got HTTP 429"), KindRateLimit},
		{"unauthorized", errors.New("unauthorized"), KindAuthentication},
		{"invalid api key", errors.New("invalid API key provided"), KindAuthentication},
		{"billing", errors.New("billing hard limit reached"), KindQuota},
		{"insufficient quota", errors.New("insufficient_quota"), KindQuota},
		{"overloaded", errors.New("overloaded_error: try again"), KindOverloaded},
		{"timeout", errors.New("request timeout"), KindTransient},
		{"deadline", errors.New("context deadline exceeded"), KindTransient},
		{"connection reset", errors.New("read: connection reset by peer"), KindTransient},
		{"bad gateway", errors.New("HTTP 502"), KindTransient},
		{"invalid request", errors.New("invalid_request_error: bad field"), KindInvalidRequest},
		{"mystery", errors.New("something odd"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.expected {
				t.Errorf("ClassifyError(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected ErrorKind
	}{
		{401, KindAuthentication},
		{403, KindAuthentication},
		{402, KindQuota},
		{429, KindRateLimit},
		{400, KindInvalidRequest},
		{404, KindInvalidRequest},
		{422, KindInvalidRequest},
		{529, KindOverloaded},
		{500, KindTransient},
		{503, KindTransient},
		{200, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			if got := classifyStatus(tt.status); got != tt.expected {
				t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.expected)
			}
		})
	}
}

func TestWithStatusOverridesTextClassification(t *testing.T) {
	// Message text says timeout, status says throttled; status wins.
	err := NewProviderError("anthropic", "claude-sonnet-4-20250514", errors.New("request timeout")).
		WithStatus(429)
	if err.Kind != KindRateLimit {
		t.Errorf("Kind = %q, want %q", err.Kind, KindRateLimit)
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	wrapped := NewProviderError("openai", "gpt-4o", cause)

	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is should find the cause through Unwrap")
	}

	var pe *ProviderError
	outer := fmt.Errorf("request failed: %w", wrapped)
	if !errors.As(outer, &pe) {
		t.Fatal("errors.As should find ProviderError through wrapping")
	}
	if pe.Provider != "openai" {
		t.Errorf("Provider = %q, want %q", pe.Provider, "openai")
	}
}

func TestRetryAfterHint(t *testing.T) {
	plain := errors.New("rate limit")
	if _, ok := RetryAfterHint(plain); ok {
		t.Error("plain error should carry no hint")
	}

	hinted := NewProviderError("openai", "gpt-4o", errors.New("rate limit")).
		WithStatus(429).
		WithRetryAfter(2 * time.Second)
	d, ok := RetryAfterHint(hinted)
	if !ok {
		t.Fatal("expected a retry-after hint")
	}
	if d != 2*time.Second {
		t.Errorf("hint = %v, want %v", d, 2*time.Second)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(errors.New("service unavailable 503")) {
		t.Error("503 should be retryable")
	}
	if IsRetryable(errors.New("invalid api key")) {
		t.Error("auth failure should not be retryable")
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		value    string
		expected time.Duration
		ok       bool
	}{
		{"2", 2 * time.Second, true},
		{"0.5", 500 * time.Millisecond, true},
		{" 30 ", 30 * time.Second, true},
		{"", 0, false},
		{"-1", 0, false},
		{"soon", 0, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.value), func(t *testing.T) {
			d, ok := parseRetryAfter(tt.value)
			if ok != tt.ok || d != tt.expected {
				t.Errorf("parseRetryAfter(%q) = (%v, %v), want (%v, %v)", tt.value, d, ok, tt.expected, tt.ok)
			}
		})
	}
}
