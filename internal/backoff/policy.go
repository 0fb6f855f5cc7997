// Package backoff provides exponential backoff with jitter for retry loops.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// InitialMs is the first delay in milliseconds.
	InitialMs float64
	// MaxMs caps the delay in milliseconds.
	MaxMs float64
	// Factor is the exponential growth factor per attempt.
	Factor float64
	// Jitter is the randomization fraction (0.0 to 1.0) added to the delay.
	Jitter float64
}

// Delay calculates the backoff duration for a given attempt number.
// base = InitialMs * Factor^(attempt-1); jitter = base * Jitter * random().
// Returns min(MaxMs, base + jitter). Attempt numbers start at 1.
func Delay(policy Policy, attempt int) time.Duration {
	return DelayWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand calculates the backoff duration using a caller-provided
// random value in [0.0, 1.0). Deterministic, for tests.
func DelayWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitter := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitter)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// DefaultPolicy returns the policy used for provider calls.
// Initial: 100ms, Max: 30s, Factor: 2, Jitter: 10%.
func DefaultPolicy() Policy {
	return Policy{
		InitialMs: 100,
		MaxMs:     30000,
		Factor:    2,
		Jitter:    0.1,
	}
}

// QuickPolicy returns a policy for fast local retries, e.g. storage
// contention. Initial: 50ms, Max: 5s, Factor: 1.5, Jitter: 5%.
func QuickPolicy() Policy {
	return Policy{
		InitialMs: 50,
		MaxMs:     5000,
		Factor:    1.5,
		Jitter:    0.05,
	}
}
