// Package backoff provides exponential backoff utilities with jitter for retry logic.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the backoff duration after the first failure.
	Initial time.Duration
	// Max caps the computed backoff duration.
	Max time.Duration
	// Factor is the exponential factor applied per attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) added to the backoff.
	Jitter float64
}

// ProviderPolicy is the backoff schedule used for LLM provider retries:
// 1s, 2s, 4s, ... capped at 10s.
func ProviderPolicy() Policy {
	return Policy{
		Initial: time.Second,
		Max:     10 * time.Second,
		Factor:  2.0,
		Jitter:  0.1,
	}
}

// Compute calculates the backoff duration for a given attempt number.
// Attempt numbers start at 1; the formula is initial * factor^(attempt-1)
// plus jitter, clamped to the policy maximum.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand calculates the backoff using a provided random value in
// [0.0, 1.0). Useful for deterministic tests.
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(policy.Initial) * math.Pow(policy.Factor, exp)
	jitter := base * policy.Jitter * randomValue
	total := math.Min(float64(policy.Max), base+jitter)
	return time.Duration(total)
}

// Sleep waits for the backoff duration of the given attempt, respecting
// context cancellation. Returns ctx.Err() if the context ended first.
func Sleep(ctx context.Context, policy Policy, attempt int) error {
	duration := Compute(policy, attempt)
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
