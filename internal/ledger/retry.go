package ledger

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy bounds the internal retry of transient store failures.
// Business-rule errors are never retried.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
	MaxWait  time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Backoff <= 0 {
		p.Backoff = 50 * time.Millisecond
	}
	if p.MaxWait <= 0 {
		p.MaxWait = time.Second
	}
	return p
}

// withRetry runs fn up to policy.Attempts times, backing off with jitter
// between attempts, but only for errors classified retryable.
func withRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	policy = policy.normalized()

	var err error
	wait := policy.Backoff
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if attempt > 0 {
			jittered := wait + time.Duration(rand.Int63n(int64(wait)/2+1))
			if jittered > policy.MaxWait {
				jittered = policy.MaxWait
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jittered):
			}
			wait *= 2
		}

		err = fn()
		if err == nil || !retryablePgError(err) {
			return err
		}
	}
	return err
}
