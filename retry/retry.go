// Package retry provides bounded retry with exponential backoff for
// transient failures against remote services.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy controls how many attempts are made and how long to wait between
// them.
type Policy struct {
	// Attempts is the total number of attempts, including the first.
	Attempts int

	// InitialWait is the wait before the second attempt.
	InitialWait time.Duration

	// MaxWait caps the backoff.
	MaxWait time.Duration

	// Multiplier grows the wait between consecutive attempts.
	Multiplier float64
}

// Default is the policy used when callers have no special requirements.
var Default = Policy{
	Attempts:    3,
	InitialWait: 100 * time.Millisecond,
	MaxWait:     2 * time.Second,
	Multiplier:  2.0,
}

// Do runs fn until it succeeds, retryable reports false, the policy is
// exhausted, or ctx is done. A nil retryable treats every error as
// transient.
func Do[T any](ctx context.Context, p Policy, retryable func(error) bool, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	wait := p.InitialWait

	for attempt := 0; attempt < p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if retryable != nil && !retryable(err) {
			return zero, err
		}

		if attempt < p.Attempts-1 {
			select {
			case <-time.After(wait):
				wait = time.Duration(float64(wait) * p.Multiplier)
				if wait > p.MaxWait {
					wait = p.MaxWait
				}
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}

	return zero, fmt.Errorf("retries exhausted: %w", lastErr)
}
