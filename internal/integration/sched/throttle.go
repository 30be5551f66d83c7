package sched

import (
	"context"
	"fmt"
	"sync"
)

// Task is a unit of work producing a value.
type Task[T any] func(ctx context.Context) (T, error)

// flight is one execution of a task shared by every caller waiting on it.
// waiters is guarded by the owning combinator's mutex.
type flight[T any] struct {
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	waiters int
	val     T
	err     error
}

func newFlight[T any](ctx context.Context) *flight[T] {
	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &flight[T]{ctx: fctx, cancel: cancel, done: make(chan struct{})}
}

func (f *flight[T]) run(task Task[T]) {
	f.val, f.err = runTask(f.ctx, task)
}

func (f *flight[T]) finish() {
	close(f.done)
	f.cancel()
}

// await waits for f on behalf of one caller registered in f.waiters.
// When the last waiter's context ends, the run is cancelled and await
// returns once it has finished. dequeue is called under mu and reports
// whether f had not started yet and was dropped; a dropped flight is not
// waited for.
func await[T any](ctx context.Context, mu *sync.Mutex, f *flight[T], dequeue func(*flight[T]) bool) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
	}

	mu.Lock()
	f.waiters--
	last := f.waiters == 0
	dropped := last && dequeue != nil && dequeue(f)
	mu.Unlock()

	if last {
		f.cancel()
		if !dropped {
			<-f.done
		}
	}
	var zero T
	return zero, ctx.Err()
}

// Throttled allows one run of its task at a time. A call made while a run is
// in flight queues a trailing run; every call made before that trailing run
// starts shares it. The trailing run starts immediately after the current one
// finishes, so callers always observe a run that began after they called.
type Throttled[T any] struct {
	task Task[T]

	mu      sync.Mutex
	current *flight[T]
	next    *flight[T]
}

// NewThrottled wraps task.
func NewThrottled[T any](task Task[T]) *Throttled[T] {
	return &Throttled[T]{task: task}
}

// Do runs or joins a run of the task and waits for its result.
func (t *Throttled[T]) Do(ctx context.Context) (T, error) {
	t.mu.Lock()
	var f *flight[T]
	switch {
	case t.current == nil:
		f = newFlight[T](ctx)
		t.current = f
		go t.loop(f)
	case t.next != nil:
		f = t.next
	default:
		f = newFlight[T](ctx)
		t.next = f
	}
	f.waiters++
	t.mu.Unlock()

	return await(ctx, &t.mu, f, t.dequeue)
}

func (t *Throttled[T]) dequeue(f *flight[T]) bool {
	if t.next != f {
		return false
	}
	t.next = nil
	return true
}

func (t *Throttled[T]) loop(f *flight[T]) {
	for f != nil {
		f.run(t.task)
		f.finish()

		t.mu.Lock()
		t.current = t.next
		t.next = nil
		f = t.current
		t.mu.Unlock()
	}
}

// Coalesced allows one run of its task at a time; calls made while a run is
// in flight join it and receive its result.
type Coalesced[T any] struct {
	task Task[T]

	mu      sync.Mutex
	current *flight[T]
}

// NewCoalesced wraps task.
func NewCoalesced[T any](task Task[T]) *Coalesced[T] {
	return &Coalesced[T]{task: task}
}

// Do runs or joins a run of the task and waits for its result. A run
// abandoned by all of its callers is not joined; Do waits for it to wind
// down and starts a new one.
func (c *Coalesced[T]) Do(ctx context.Context) (T, error) {
	for {
		c.mu.Lock()
		f := c.current
		if f != nil && f.ctx.Err() != nil {
			c.mu.Unlock()
			select {
			case <-f.done:
				continue
			case <-ctx.Done():
				var zero T
				return zero, ctx.Err()
			}
		}
		if f == nil {
			f = newFlight[T](ctx)
			c.current = f
			go c.run(f)
		}
		f.waiters++
		c.mu.Unlock()

		return await(ctx, &c.mu, f, nil)
	}
}

func (c *Coalesced[T]) run(f *flight[T]) {
	f.run(c.task)

	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	f.finish()
}

// runTask calls task, converting a panic into an error so shared waiters are
// always released.
func runTask[T any](ctx context.Context, task Task[T]) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return task(ctx)
}
