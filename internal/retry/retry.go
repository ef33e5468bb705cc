// Package retry provides a bounded retry combinator for calls to external
// capabilities whose results may be unusable even when no error is returned.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnusable is recorded as the attempt error when a call succeeds but the
// usability predicate rejects its result.
var ErrUnusable = errors.New("result not usable")

// Policy bounds a retried call.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first. Values
	// below 1 are treated as 1.
	MaxAttempts int

	// Backoff is the pause between attempts. Zero retries immediately.
	Backoff time.Duration

	// Permanent, when set, stops retrying early for errors it returns true for.
	Permanent func(error) bool
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempt(s): %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Do calls fn until it returns a result accepted by usable, the attempts are
// exhausted, or ctx is done. A nil usable accepts any result returned without
// error. The attempt number passed to fn starts at 1.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error), usable func(T) bool) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last == nil {
				last = err
			}
			return zero, &ExhaustedError{Attempts: attempt - 1, Last: last}
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			if usable == nil || usable(result) {
				return result, nil
			}
			err = ErrUnusable
		}
		last = err

		if p.Permanent != nil && p.Permanent(err) {
			return zero, &ExhaustedError{Attempts: attempt, Last: err}
		}

		if attempt < attempts && p.Backoff > 0 {
			select {
			case <-ctx.Done():
				return zero, &ExhaustedError{Attempts: attempt, Last: last}
			case <-time.After(p.Backoff):
			}
		}
	}
	return zero, &ExhaustedError{Attempts: attempts, Last: last}
}
