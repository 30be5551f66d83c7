package sched

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

const memoKey = "value"

// Memoized computes a value once and caches it. A failed computation is not
// cached; the next Get tries again.
type Memoized[T any] struct {
	task  Task[T]
	group singleflight.Group

	mu    sync.Mutex
	done  bool
	value T
}

// NewMemoized wraps task.
func NewMemoized[T any](task Task[T]) *Memoized[T] {
	return &Memoized[T]{task: task}
}

// Get returns the cached value, computing it on first use.
// Concurrent callers share a single computation.
func (m *Memoized[T]) Get(ctx context.Context) (T, error) {
	if v, ok := m.cached(); ok {
		return v, nil
	}

	v, err, _ := m.group.Do(memoKey, func() (any, error) {
		if v, ok := m.cached(); ok {
			return v, nil
		}
		v, err := runTask(ctx, m.task)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.value, m.done = v, true
		m.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	val, _ := v.(T)
	return val, nil
}

func (m *Memoized[T]) cached() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, m.done
}
