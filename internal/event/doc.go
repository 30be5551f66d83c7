// Package event provides typed publish/subscribe primitives for cvsbridge.
//
// Every component that exposes events (repositories, the registry, the change
// notifier) owns one Emitter per event stream:
//
//	var opened event.Emitter[*scm.Repository]
//
//	unsubscribe := opened.Subscribe(func(repo *scm.Repository) {
//	    fmt.Println("opened", repo.Root())
//	})
//	defer unsubscribe()
//
//	opened.Fire(repo)
//
// # Delivery
//
// Handlers are called synchronously in the goroutine that calls Fire, in the
// order they subscribed. Fire takes a snapshot of the handler list before
// dispatching, so a handler subscribed while a dispatch is in progress is not
// called for that dispatch, and a handler removed during dispatch may still
// receive it.
//
// A panicking handler does not prevent the remaining handlers from running.
//
// # Composition
//
// Filter and Once build derived subscriptions without extra state:
//
//	event.Filter(repo.OnDidChangeState(), isDisposed, onDisposed)
//	event.Once(repo.OnDidChangeState(), onFirstChange)
//
// # Thread Safety
//
// Emitter is safe for concurrent use. The zero value is ready to use.
package event
