package integration

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// EventBus is a thread-safe topic bus for engine events.
//
// Topics use dot notation (see topics.go). A subscription to a pattern
// ending in ".*" receives every topic below that prefix, so "scm.*"
// matches "scm.repository.opened" and "scm.operation.finished".
type EventBus struct {
	mu sync.RWMutex

	// exact topic -> subscription id -> subscription
	subscribers map[string]map[string]*subscription
	// pattern -> subscription id -> subscription
	wildcards map[string]map[string]*subscription
	byID      map[string]*subscription

	nextID uint64
	logger zerolog.Logger
	closed atomic.Bool
}

type subscription struct {
	id        string
	seq       uint64
	eventType string
	isPattern bool
	handler   func(data map[string]any)
}

// BusOption configures an EventBus.
type BusOption func(*EventBus)

// WithBusLogger sets the logger used to report handler panics.
func WithBusLogger(logger zerolog.Logger) BusOption {
	return func(b *EventBus) {
		b.logger = logger
	}
}

// NewEventBus creates a new event bus.
func NewEventBus(opts ...BusOption) *EventBus {
	b := &EventBus{
		subscribers: make(map[string]map[string]*subscription),
		wildcards:   make(map[string]map[string]*subscription),
		byID:        make(map[string]*subscription),
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With().Str("component", "bus").Logger()
	return b
}

// Subscribe adds a handler for an exact topic or a ".*" pattern and
// returns an ID for Unsubscribe. It returns "" once the bus is closed.
func (b *EventBus) Subscribe(eventType string, handler func(data map[string]any)) string {
	if b.closed.Load() {
		return ""
	}

	seq := atomic.AddUint64(&b.nextID, 1)
	sub := &subscription{
		id:        strconv.FormatUint(seq, 10),
		seq:       seq,
		eventType: eventType,
		isPattern: isWildcard(eventType),
		handler:   handler,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.byID[sub.id] = sub
	index := b.subscribers
	if sub.isPattern {
		index = b.wildcards
	}
	if index[eventType] == nil {
		index[eventType] = make(map[string]*subscription)
	}
	index[eventType][sub.id] = sub

	return sub.id
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription existed.
func (b *EventBus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.byID[id]
	if !exists {
		return false
	}
	delete(b.byID, id)

	index := b.subscribers
	if sub.isPattern {
		index = b.wildcards
	}
	if subs, ok := index[sub.eventType]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(index, sub.eventType)
		}
	}
	return true
}

// Emit publishes an event to all matching subscribers synchronously, in
// subscription order. A panicking handler is logged and skipped.
func (b *EventBus) Emit(eventType string, data map[string]any) {
	if b.closed.Load() {
		return
	}
	for _, sub := range b.matching(eventType) {
		b.call(sub, eventType, data)
	}
}

// Publish implements EventPublisher.
func (b *EventBus) Publish(eventType string, data map[string]any) {
	b.Emit(eventType, data)
}

// Close drops all subscriptions. Later calls are no-ops.
func (b *EventBus) Close() {
	if b.closed.Swap(true) {
		return
	}

	b.mu.Lock()
	dropped := len(b.byID)
	b.subscribers = make(map[string]map[string]*subscription)
	b.wildcards = make(map[string]map[string]*subscription)
	b.byID = make(map[string]*subscription)
	b.mu.Unlock()

	b.logger.Debug().Int("subscriptions", dropped).Msg("bus closed")
}

func (b *EventBus) call(sub *subscription, eventType string, data map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("topic", eventType).
				Str("subscription", sub.eventType).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	sub.handler(data)
}

func (b *EventBus) matching(eventType string) []*subscription {
	b.mu.RLock()
	var subs []*subscription
	for _, sub := range b.subscribers[eventType] {
		subs = append(subs, sub)
	}
	for pattern, patternSubs := range b.wildcards {
		if matchPattern(pattern, eventType) {
			for _, sub := range patternSubs {
				subs = append(subs, sub)
			}
		}
	}
	b.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].seq < subs[j].seq })
	return subs
}

func isWildcard(eventType string) bool {
	return len(eventType) >= 2 && eventType[len(eventType)-2:] == ".*"
}

// matchPattern reports whether eventType lies strictly below a ".*"
// pattern's prefix, or equals a plain pattern.
func matchPattern(pattern, eventType string) bool {
	if !isWildcard(pattern) {
		return pattern == eventType
	}
	prefix := pattern[:len(pattern)-2]
	if len(eventType) <= len(prefix) {
		return false
	}
	return eventType[:len(prefix)] == prefix && eventType[len(prefix)] == '.'
}
