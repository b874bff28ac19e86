package gateway

import (
	"context"
	"fmt"
	"log"
	"time"
)

// QueryRetrier drives the startup queries with bounded linear-backoff
// retry: the wait after attempt i is Interval * i. Mandatory queries
// escalate exhaustion to the caller (the process must not trade on an
// unknown account state); optional ones degrade to their zero value.
type QueryRetrier struct {
	Times    int
	Interval time.Duration
}

// RetryQuery runs fn until it succeeds or the retry budget is exhausted.
// For optional queries an exhausted budget yields the zero value and no
// error: the counter legitimately returns nothing for positions, orders or
// trades on a flat account.
func RetryQuery[T any](ctx context.Context, r QueryRetrier, name string, mandatory bool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= r.Times; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		log.Printf("[Gateway] %s query attempt %d/%d failed: %v", name, attempt, r.Times, err)
		if attempt == r.Times {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(r.Interval * time.Duration(attempt)):
		}
	}
	if mandatory {
		return zero, fmt.Errorf("%s query failed after %d attempts: %w", name, r.Times, lastErr)
	}
	log.Printf("[Gateway] %s query returned nothing after %d attempts, assuming empty", name, r.Times)
	return zero, nil
}
