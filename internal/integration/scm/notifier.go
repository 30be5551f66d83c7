package scm

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/cvsbridge/internal/event"
	"github.com/dshills/cvsbridge/internal/integration/sched"
	"github.com/rs/zerolog"
)

// Notifier defaults.
const (
	DefaultTrackTTL        = 3 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute

	// MaxTracked bounds the tracked URIs; the one closest to expiry is
	// dropped to make room.
	MaxTracked = 20000
)

// ChangeNotifier turns bursts of repository change notifications into one
// status refresh per changed repository, followed by an OnDidChange event
// for every tracked URI inside those repositories.
type ChangeNotifier struct {
	registry *Registry
	logger   zerolog.Logger

	debounce        time.Duration
	trackTTL        time.Duration
	cleanupInterval time.Duration

	debouncer *sched.Debouncer
	fanout    *sched.Throttled[struct{}]
	tracked   *sched.Cache[URI, struct{}]

	mu      sync.Mutex
	changed map[*Repository]struct{}

	onDidChange event.Emitter[URI]
	unsub       event.Unsubscribe

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NotifierOption configures a ChangeNotifier.
type NotifierOption func(*ChangeNotifier)

// WithDebounce sets the quiet period before a refresh.
func WithDebounce(d time.Duration) NotifierOption {
	return func(n *ChangeNotifier) {
		n.debounce = d
	}
}

// WithTrackTTL sets how long a tracked URI is remembered.
func WithTrackTTL(d time.Duration) NotifierOption {
	return func(n *ChangeNotifier) {
		n.trackTTL = d
	}
}

// WithCleanupInterval sets how often expired URIs are dropped.
func WithCleanupInterval(d time.Duration) NotifierOption {
	return func(n *ChangeNotifier) {
		n.cleanupInterval = d
	}
}

// WithNotifierLogger sets the notifier's logger.
func WithNotifierLogger(logger zerolog.Logger) NotifierOption {
	return func(n *ChangeNotifier) {
		n.logger = logger
	}
}

// NewChangeNotifier subscribes to registry change notifications.
// Call Close to release it.
func NewChangeNotifier(registry *Registry, opts ...NotifierOption) *ChangeNotifier {
	n := &ChangeNotifier{
		registry:        registry,
		logger:          zerolog.Nop(),
		debounce:        sched.DefaultDebounceDelay,
		trackTTL:        DefaultTrackTTL,
		cleanupInterval: DefaultCleanupInterval,
		changed:         make(map[*Repository]struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With().Str("component", "notifier").Logger()
	n.ctx, n.cancel = context.WithCancel(context.Background())

	n.tracked = sched.NewCache[URI, struct{}](n.trackTTL, sched.WithMaxSize[URI, struct{}](MaxTracked))
	n.fanout = sched.NewThrottled(n.fire)
	n.debouncer = sched.NewDebouncer(n.debounce, func() {
		if n.ctx.Err() != nil {
			return
		}
		if _, err := n.fanout.Do(n.ctx); err != nil && n.ctx.Err() == nil {
			n.logger.Debug().Err(err).Msg("change fan-out failed")
		}
	})

	n.unsub = registry.OnDidChangeRepository().Subscribe(func(e RepositoryEvent) {
		n.mu.Lock()
		n.changed[e.Repository] = struct{}{}
		n.mu.Unlock()
		n.debouncer.Call()
	})

	if n.cleanupInterval > 0 {
		n.wg.Add(1)
		go n.cleanupLoop()
	}
	return n
}

// OnDidChange fires for tracked URIs whose repository changed.
func (n *ChangeNotifier) OnDidChange() event.Source[URI] {
	return &n.onDidChange
}

// Track remembers uri for the track TTL, refreshed on every call.
func (n *ChangeNotifier) Track(uri URI) {
	n.tracked.Set(uri, struct{}{})
}

// Untrack forgets uri.
func (n *ChangeNotifier) Untrack(uri URI) {
	n.tracked.Delete(uri)
}

// Flush runs a pending fan-out now.
func (n *ChangeNotifier) Flush() {
	n.debouncer.Flush()
}

// Close stops the notifier.
func (n *ChangeNotifier) Close() {
	n.unsub()
	n.debouncer.Stop()
	n.cancel()
	n.wg.Wait()
	n.onDidChange.Close()
}

func (n *ChangeNotifier) fire(ctx context.Context) (struct{}, error) {
	n.mu.Lock()
	changed := n.changed
	n.changed = make(map[*Repository]struct{})
	n.mu.Unlock()

	var roots []string
	for repo := range changed {
		if n.registry.GetRepository(repo) == nil {
			continue
		}
		if err := repo.Status(ctx); err != nil {
			n.logger.Debug().Err(err).Str("root", repo.Root()).Msg("status refresh failed")
		}
		roots = append(roots, repo.Root())
	}
	if len(roots) == 0 {
		return struct{}{}, nil
	}

	var uris []URI
	n.tracked.Range(func(uri URI, _ struct{}) bool {
		p, ok := uri.Path()
		if !ok {
			return true
		}
		for _, root := range roots {
			if isDescendant(root, p) {
				uris = append(uris, uri)
				break
			}
		}
		return true
	})

	for _, uri := range uris {
		n.onDidChange.Fire(uri)
	}
	return struct{}{}, nil
}

func (n *ChangeNotifier) cleanupLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if removed := n.tracked.Cleanup(); removed > 0 {
				n.logger.Debug().Int("removed", removed).Msg("expired tracked resources")
			}
		}
	}
}
