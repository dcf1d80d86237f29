// Package backoff provides the retry machinery for the export
// pipeline: exponential delays with jitter, permanent-error
// classification, and server-provided delay hints parsed from
// Retry-After headers.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// MaxAttempts is the maximum number of tries, including the first.
	MaxAttempts int
	// BaseDelay is the delay after the first failure.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// Factor is the exponential factor applied per attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) added to the delay.
	Jitter float64
}

// DefaultPolicy returns the exporter defaults: 4 attempts starting at
// 250ms, doubling up to an 8s cap, with 20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Factor:      2,
		Jitter:      0.2,
	}
}

// Delay calculates the backoff duration for a given attempt number.
// Attempt numbers start at 1.
func (p Policy) Delay(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand calculates the backoff duration using a provided
// random value in [0.0, 1.0), for deterministic tests. The formula is
// base = BaseDelay * Factor^(attempt-1), jitter = base * Jitter *
// randomValue, and the result is min(MaxDelay, base+jitter).
func (p Policy) DelayWithRand(attempt int, randomValue float64) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 8 * time.Second
	}

	exp := math.Max(float64(attempt-1), 0)
	scaled := float64(base) * math.Pow(factor, exp)
	scaled += scaled * p.Jitter * randomValue

	return time.Duration(math.Min(float64(maxDelay), scaled))
}
