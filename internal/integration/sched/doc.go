// Package sched provides the scheduling combinators used by the repository
// engine: debouncing, throttling, serialization, memoization and retry.
//
// Each combinator wraps a task-returning function and gives it a scheduling
// contract, replacing method decorators with explicit values owned by the
// component that needs them.
//
//   - Debouncer: collapses bursts of Call into one callback after a quiet period.
//   - Throttled: at most one run in flight; calls made meanwhile share a single
//     trailing run that starts right after the current one.
//   - Coalesced: at most one run in flight; calls made meanwhile join it.
//   - Serialized: runs tasks one at a time in FIFO order.
//   - Memoized: computes a value once and caches it; failures are not cached.
//   - RetryPolicy: re-runs a task on retryable errors with a backoff.
//   - Cache: a TTL cache keyed by comparable values.
//
// # Contexts
//
// Throttled and Coalesced run the shared task on a context detached from
// any single caller (context.WithoutCancel) and count the callers waiting on
// it. A caller whose context ends stops waiting and receives the context
// error. When the last waiting caller leaves, the run's context is cancelled
// and that caller returns once the run has finished; a queued trailing run
// nobody waits for any more is dropped without starting.
//
// # Thread Safety
//
// All types are safe for concurrent use.
package sched
