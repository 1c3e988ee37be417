// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"fmt"
	"math"
	"time"
)

// BackoffBase controls the base duration for exponential backoff between
// attempts. Tests override this to avoid real sleeps.
var BackoffBase = 500 * time.Millisecond

// Retry runs fn until it succeeds or maxRetries extra attempts are spent.
// The delay doubles each attempt starting at BackoffBase. A cancelled
// context ends the loop immediately with ctx.Err().
func Retry[T any](ctx context.Context, maxRetries int, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * BackoffBase
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		lastErr = err
	}
	if maxRetries == 0 {
		return zero, lastErr
	}
	return zero, fmt.Errorf("after %d retries: %w", maxRetries, lastErr)
}
