package gateway

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures bounded retry with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int     // total attempts, including the first
	BaseDelay   float64 // initial delay in seconds
	MaxDelay    float64 // ceiling on any single delay
	Multiplier  float64 // exponential backoff factor
	Jitter      bool    // randomize delays to avoid thundering herd
	OnRetry     func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns the default policy: three attempts with
// 1s, 2s backoff between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   1.0,
		MaxDelay:    30.0,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// Delay calculates the backoff before retry attempt n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := math.Min(p.BaseDelay*math.Pow(p.Multiplier, float64(attempt)), p.MaxDelay)
	if p.Jitter {
		// +/- 50% jitter.
		delay = delay * (0.5 + rand.Float64())
	}
	return time.Duration(delay * float64(time.Second))
}

// Retry executes fn under the policy. Only errors IsRetryable accepts
// are retried; everything else is returned to the caller immediately.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := fn(ctx)
	if err == nil {
		return result, nil
	}

	for attempt := 1; attempt < policy.MaxAttempts; attempt++ {
		if !IsRetryable(err) {
			return zero, err
		}

		delay := policy.Delay(attempt - 1)
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt, delay)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}

		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
	}

	return zero, err
}
