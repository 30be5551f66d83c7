package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errLocked = errors.New("locked")

func TestRetryPolicy_ZeroValueRunsOnce(t *testing.T) {
	attempts := 0
	err := RetryPolicy{}.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errLocked
	})

	assert.ErrorIs(t, err, errLocked)
	assert.Equal(t, 1, attempts)
	assert.False(t, RetryPolicy{}.Enabled())
	assert.False(t, NoRetry().Enabled())
}

func TestRetryPolicy_RetriesRetryable(t *testing.T) {
	var delays []time.Duration
	p := RetryPolicy{
		MaxAttempts: 4,
		Backoff: func(attempt int) time.Duration {
			d := QuadraticBackoff(time.Millisecond)(attempt)
			delays = append(delays, d)
			return d
		},
		Retryable: func(err error) bool { return errors.Is(err, errLocked) },
	}

	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errLocked
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 4 * time.Millisecond}, delays)
	assert.True(t, p.Enabled())
}

func TestRetryPolicy_NonRetryableStops(t *testing.T) {
	other := errors.New("other")
	p := RetryPolicy{MaxAttempts: 5, Retryable: func(err error) bool { return errors.Is(err, errLocked) }}

	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return other
	})

	assert.ErrorIs(t, err, other)
	assert.Equal(t, 1, attempts)
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Retryable: func(error) bool { return true }}

	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errLocked
	})

	assert.ErrorIs(t, err, errLocked)
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicy_ContextStopsBackoff(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts: 10,
		Backoff:     func(int) time.Duration { return time.Hour },
		Retryable:   func(error) bool { return true },
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	attempts := 0
	err := p.Do(ctx, func(ctx context.Context) error {
		attempts++
		return errLocked
	})

	assert.ErrorIs(t, err, errLocked)
	assert.Equal(t, 1, attempts)
}
