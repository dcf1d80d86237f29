package backoff

import (
	"errors"
	"time"
)

// ErrExhausted is returned when all retry attempts have been used.
var ErrExhausted = errors.New("backoff: attempts exhausted")

// PermanentError marks an error that must not be retried. The export
// senders wrap non-recoverable HTTP statuses (4xx other than 408/429)
// in it so the loop stops immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is marked permanent.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// HintError carries a server-requested minimum delay before the next
// attempt, as parsed from a Retry-After header.
type HintError struct {
	Err   error
	After time.Duration
}

func (e *HintError) Error() string {
	return e.Err.Error()
}

func (e *HintError) Unwrap() error {
	return e.Err
}

// WithHint attaches a server-requested delay to a retryable error.
func WithHint(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &HintError{Err: err, After: after}
}

// Hint extracts a server-requested delay from err, if present.
func Hint(err error) (time.Duration, bool) {
	var hint *HintError
	if errors.As(err, &hint) {
		return hint.After, true
	}
	return 0, false
}
