package sched

import (
	"context"
	"time"
)

// RetryPolicy controls how a task is re-run after a failure.
//
// The zero value runs the task exactly once.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 mean 1.
	MaxAttempts int

	// Backoff returns the delay after the given failed attempt (1, 2, ...).
	// Nil means no delay.
	Backoff func(attempt int) time.Duration

	// Retryable reports whether err warrants another attempt.
	// Nil means no error is retryable.
	Retryable func(err error) bool
}

// NoRetry runs a task once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// QuadraticBackoff waits attempt² × base before each retry.
func QuadraticBackoff(base time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt*attempt) * base
	}
}

// Enabled reports whether the policy can ever retry.
func (p RetryPolicy) Enabled() bool {
	return p.MaxAttempts > 1 && p.Retryable != nil
}

// Do runs fn until it succeeds, fails with a non-retryable error, the
// attempts are exhausted, or ctx ends.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxAttempts || p.Retryable == nil || !p.Retryable(err) {
			return err
		}

		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff(attempt)
		}
		if delay <= 0 {
			if ctx.Err() != nil {
				return err
			}
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
