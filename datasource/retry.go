package datasource

import (
	"math/rand"
	"time"
)

// RetryPolicy configures the backoff loop used when turning fragment handles
// back into live fragments. Object storage clients sometimes need just-in-time
// initialization on a worker, which can transiently fail under concurrent
// startup load; a few spaced-out attempts absorb that race.
type RetryPolicy struct {
	MaxAttempts  int
	BaseInterval time.Duration

	// Jitter returns a random factor in [0, 1). Overridable in tests.
	Jitter func() float64
	// Sleep waits between attempts. Overridable in tests.
	Sleep func(time.Duration)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  8,
		BaseInterval: time.Second,
	}
}

// withRetry runs op until it succeeds or the attempt budget is exhausted.
// The first wait is BaseInterval scaled by 1+jitter and every later wait
// doubles it. The jitter factor is drawn once on the first failure and
// reused, so concurrently starting workers stay spread out instead of
// re-rolling their offsets on every attempt. After the final failure the
// last error is returned unchanged.
func withRetry(policy RetryPolicy, onFailure func(attempt int, err error), op func() error) error {
	jitter := policy.Jitter
	if jitter == nil {
		jitter = rand.Float64
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var interval time.Duration
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if onFailure != nil {
			onFailure(attempt, err)
		}
		if attempt == policy.MaxAttempts {
			break
		}
		if interval == 0 {
			interval = time.Duration((1 + jitter()) * float64(policy.BaseInterval))
		}
		sleep(interval)
		interval *= 2
	}
	return lastErr
}
