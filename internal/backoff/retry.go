package backoff

import (
	"context"
	"time"
)

// Result holds the outcome of a retry loop.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int
	// Err is the last error (nil on success).
	Err error
	// Duration is the total time spent, sleeps included.
	Duration time.Duration
}

// Do executes op until it succeeds, returns a permanent error, the
// context is cancelled, or MaxAttempts is reached. op receives the
// 1-indexed attempt number.
//
// The sleep before the next attempt is the policy delay or the
// server-provided hint on the returned error, whichever is larger.
func Do(ctx context.Context, policy Policy, op func(attempt int) error) Result {
	start := time.Now()
	result := Result{}

	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.Err = err
			result.Duration = time.Since(start)
			return result
		}

		err := op(attempt)
		if err == nil {
			result.Err = nil
			result.Duration = time.Since(start)
			return result
		}
		result.Err = err

		if IsPermanent(err) {
			result.Duration = time.Since(start)
			return result
		}

		if attempt >= maxAttempts {
			break
		}

		sleep := policy.Delay(attempt)
		if after, ok := Hint(err); ok && after > sleep {
			sleep = after
		}
		if err := Sleep(ctx, sleep); err != nil {
			result.Err = err
			result.Duration = time.Since(start)
			return result
		}
	}

	result.Duration = time.Since(start)
	return result
}
