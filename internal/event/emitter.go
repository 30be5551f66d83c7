package event

import (
	"sync"
	"sync/atomic"
)

// Unsubscribe removes a handler registered with Subscribe.
// Calling it more than once is a no-op.
type Unsubscribe func()

// Handler receives events of type T.
type Handler[T any] func(T)

// PanicHandler is invoked when an event handler panics.
type PanicHandler func(recovered any)

// Emitter is a typed, synchronous event stream.
type Emitter[T any] struct {
	mu       sync.RWMutex
	handlers []subscription[T]
	nextID   uint64
	closed   bool

	// OnPanic, if set, is called with the value recovered from a panicking handler.
	OnPanic PanicHandler
}

type subscription[T any] struct {
	id      uint64
	handler Handler[T]
}

// Subscribe registers handler and returns a function that removes it.
// Subscribing to a closed emitter returns a no-op Unsubscribe.
func (e *Emitter[T]) Subscribe(handler Handler[T]) Unsubscribe {
	if handler == nil {
		return func() {}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return func() {}
	}
	e.nextID++
	id := e.nextID
	e.handlers = append(e.handlers, subscription[T]{id: id, handler: handler})
	e.mu.Unlock()

	var once atomic.Bool
	return func() {
		if once.Swap(true) {
			return
		}
		e.remove(id)
	}
}

// Fire delivers value to every handler subscribed at the time of the call.
func (e *Emitter[T]) Fire(value T) {
	e.mu.RLock()
	if e.closed || len(e.handlers) == 0 {
		e.mu.RUnlock()
		return
	}
	snapshot := make([]Handler[T], len(e.handlers))
	for i, sub := range e.handlers {
		snapshot[i] = sub.handler
	}
	onPanic := e.OnPanic
	e.mu.RUnlock()

	for _, h := range snapshot {
		e.dispatch(h, value, onPanic)
	}
}

func (e *Emitter[T]) dispatch(h Handler[T], value T, onPanic PanicHandler) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(r)
		}
	}()
	h(value)
}

// Count returns the number of registered handlers.
func (e *Emitter[T]) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}

// Close removes all handlers. Fire and Subscribe become no-ops afterwards.
func (e *Emitter[T]) Close() {
	e.mu.Lock()
	e.closed = true
	e.handlers = nil
	e.mu.Unlock()
}

func (e *Emitter[T]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, sub := range e.handlers {
		if sub.id == id {
			// Copy so snapshots taken by in-flight Fire calls stay intact.
			next := make([]subscription[T], 0, len(e.handlers)-1)
			next = append(next, e.handlers[:i]...)
			next = append(next, e.handlers[i+1:]...)
			e.handlers = next
			return
		}
	}
}

// Source is anything that accepts subscriptions for events of type T.
type Source[T any] interface {
	Subscribe(handler Handler[T]) Unsubscribe
}

// Filter subscribes handler to src, delivering only values accepted by keep.
func Filter[T any](src Source[T], keep func(T) bool, handler Handler[T]) Unsubscribe {
	return src.Subscribe(func(v T) {
		if keep(v) {
			handler(v)
		}
	})
}

// Once subscribes handler to src for a single delivery.
func Once[T any](src Source[T], handler Handler[T]) Unsubscribe {
	var (
		fired atomic.Bool
		unsub Unsubscribe
		mu    sync.Mutex
	)
	mu.Lock()
	unsub = src.Subscribe(func(v T) {
		if fired.Swap(true) {
			return
		}
		mu.Lock()
		u := unsub
		mu.Unlock()
		if u != nil {
			u()
		}
		handler(v)
	})
	mu.Unlock()
	return func() {
		fired.Store(true)
		unsub()
	}
}

// Disposables collects Unsubscribe functions so they can be released together.
type Disposables struct {
	mu    sync.Mutex
	items []Unsubscribe
}

// Add records fns for a later Dispose.
func (d *Disposables) Add(fns ...Unsubscribe) {
	d.mu.Lock()
	d.items = append(d.items, fns...)
	d.mu.Unlock()
}

// Dispose calls every recorded function once, in reverse order of addition.
func (d *Disposables) Dispose() {
	d.mu.Lock()
	items := d.items
	d.items = nil
	d.mu.Unlock()

	for i := len(items) - 1; i >= 0; i-- {
		items[i]()
	}
}

// Len returns the number of pending disposables.
func (d *Disposables) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}
