package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorKind categorizes a provider failure into the gateway's normalized
// taxonomy. The kind drives retry policy and the message shown to users.
type ErrorKind string

const (
	// KindAuthentication indicates an invalid or missing API key (HTTP 401, 403).
	KindAuthentication ErrorKind = "authentication"

	// KindRateLimit indicates backend throttling (HTTP 429). May carry a
	// retry-after hint.
	KindRateLimit ErrorKind = "rate_limit"

	// KindQuota indicates plan limits or payment issues (HTTP 402).
	KindQuota ErrorKind = "quota"

	// KindOverloaded indicates transient backend capacity issues (HTTP 529
	// or "overloaded" bodies).
	KindOverloaded ErrorKind = "overloaded"

	// KindTransient indicates network failures, timeouts, and 5xx without
	// a more specific hint.
	KindTransient ErrorKind = "transient"

	// KindInvalidRequest indicates client-side issues (HTTP 400); never retried.
	KindInvalidRequest ErrorKind = "invalid_request"

	// KindContentSafety indicates input or output failed safety rules.
	KindContentSafety ErrorKind = "content_safety"

	// KindUnknown indicates an unclassified error.
	KindUnknown ErrorKind = "unknown"
)

// Retryable returns true if the kind suggests retrying may succeed.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimit, KindOverloaded, KindTransient:
		return true
	default:
		return false
	}
}

// ProviderError is a structured error from an LLM backend. It captures the
// context needed for retry decisions and debugging.
type ProviderError struct {
	// Kind categorizes the error for retry and surfacing logic.
	Kind ErrorKind

	// Provider is the backend name (anthropic, openai, google).
	Provider string

	// Model is the model that was requested.
	Model string

	// Status is the HTTP status code, if known.
	Status int

	// RetryAfter is the backend's throttling hint, if it sent one.
	RetryAfter time.Duration

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError wraps cause in a ProviderError, classifying it from the
// error text when no status is available.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Kind:     KindUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Kind = ClassifyError(cause)
	}
	return err
}

// WithStatus sets the HTTP status and reclassifies from it. Status-based
// classification wins over substring classification.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if kind := classifyStatus(status); kind != KindUnknown {
		e.Kind = kind
	}
	return e
}

// WithRetryAfter records the backend's throttling hint.
func (e *ProviderError) WithRetryAfter(d time.Duration) *ProviderError {
	e.RetryAfter = d
	return e
}

// ClassifyError inspects an error's text and returns the matching kind.
// Used when the SDK surfaces errors without a status code.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429") {
		return KindRateLimit
	}

	if strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "invalid_api_key") ||
		strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") {
		return KindAuthentication
	}

	if strings.Contains(msg, "billing") ||
		strings.Contains(msg, "payment") ||
		strings.Contains(msg, "insufficient_quota") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "402") {
		return KindQuota
	}

	if strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "capacity") ||
		strings.Contains(msg, "529") {
		return KindOverloaded
	}

	if strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") {
		return KindTransient
	}

	if strings.Contains(msg, "invalid_request") ||
		strings.Contains(msg, "invalid request") ||
		strings.Contains(msg, "400") {
		return KindInvalidRequest
	}

	return KindUnknown
}

// classifyStatus returns the kind for an HTTP status code.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthentication
	case status == http.StatusPaymentRequired:
		return KindQuota
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusBadRequest || status == http.StatusNotFound ||
		status == http.StatusUnprocessableEntity:
		return KindInvalidRequest
	case status == 529:
		return KindOverloaded
	case status >= 500:
		return KindTransient
	default:
		return KindUnknown
	}
}

// AsProviderError extracts a ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the normalized kind for any error.
func KindOf(err error) ErrorKind {
	if pe, ok := AsProviderError(err); ok {
		return pe.Kind
	}
	return ClassifyError(err)
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// RetryAfterHint returns the rate-limit hint attached to err, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	if pe, ok := AsProviderError(err); ok && pe.RetryAfter > 0 {
		return pe.RetryAfter, true
	}
	return 0, false
}
