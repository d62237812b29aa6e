// Package fetchers collects external hazard data behind a uniform
// interface. Every source goes through the same retry and circuit
// breaker wrapping so one flaky upstream cannot stall a collection pass.
package fetchers

import (
	"context"
	"time"
)

// defaultBackoff is the wait schedule between attempts. The last entry
// bounds the attempt count: len(schedule)+1 tries total.
var defaultBackoff = []time.Duration{200 * time.Millisecond, time.Second, 5 * time.Second}

// withRetry runs fn until it succeeds or the schedule is exhausted.
// Context cancellation aborts between attempts.
func withRetry[T any](ctx context.Context, schedule []time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if schedule == nil {
		schedule = defaultBackoff
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt <= len(schedule); attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(schedule[attempt-1])
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}

		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}
