package sched

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Serialized runs tasks one at a time. Waiting callers are admitted in the
// order they called Do.
type Serialized struct {
	sem *semaphore.Weighted
}

// NewSerialized creates an empty serializer.
func NewSerialized() *Serialized {
	return &Serialized{sem: semaphore.NewWeighted(1)}
}

// Do waits for earlier tasks to finish and then runs fn.
// It returns ctx.Err() without running fn if ctx ends while waiting.
func (s *Serialized) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	_, err := runTask(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
