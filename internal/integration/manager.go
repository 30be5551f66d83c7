package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/cvsbridge/internal/event"
	"github.com/dshills/cvsbridge/internal/integration/cvs"
	"github.com/dshills/cvsbridge/internal/integration/scm"
	"github.com/dshills/cvsbridge/internal/workspace"
	"github.com/dshills/cvsbridge/internal/workspace/watcher"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// EventPublisher defines the interface for publishing integration events.
type EventPublisher interface {
	Publish(eventType string, data map[string]any)
}

// Manager wires the cvs client, repository registry, change notifier,
// workspace watcher and event bus together.
//
// Manager is safe for concurrent use.
type Manager struct {
	client    *cvs.Client
	workspace *workspace.Workspace
	registry  *scm.Registry
	notifier  *scm.ChangeNotifier
	watcher   watcher.Watcher
	bus       EventPublisher
	logger    zerolog.Logger

	shutdownTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	subs     event.Disposables
	repoSubs map[*scm.Repository]*event.Disposables
	// tracked holds the resource URIs each repository has reported.
	tracked map[*scm.Repository]map[scm.URI]struct{}

	closed    atomic.Bool
	shutdown  chan struct{}
	startTime time.Time
}

// ManagerConfig configures the integration manager.
type ManagerConfig struct {
	// Client runs cvs. Required.
	Client *cvs.Client

	// Workspace lists the roots to scan. Required.
	Workspace *workspace.Workspace

	// Settings can disable repository support per path. Optional.
	Settings scm.Settings

	// EventBus receives engine events. Optional.
	EventBus EventPublisher

	// Watcher streams file system changes. Optional; without it the
	// manager only refreshes on request.
	Watcher watcher.Watcher

	// Logger is the parent logger. Optional.
	Logger *zerolog.Logger

	// StatusLimit caps resources per refresh. Zero means the default.
	StatusLimit int

	// Debounce is the quiet period before change fan-out. Zero means the
	// default.
	Debounce time.Duration

	// TrackTTL is how long a reported resource keeps receiving
	// TopicResourceChanged events after it was last seen. Zero means the
	// default.
	TrackTTL time.Duration

	// RetryLockContention retries commands that hit a repository lock.
	RetryLockContention bool

	// ShutdownTimeout bounds process shutdown in Close. Default 5s.
	ShutdownTimeout time.Duration
}

// NewManager opens every repository found in the workspace roots and
// starts forwarding engine events to the bus. Call Close when done.
func NewManager(ctx context.Context, cfg ManagerConfig) (*Manager, error) {
	if cfg.Client == nil || cfg.Workspace == nil {
		return nil, fmt.Errorf("%w: client and workspace are required", ErrInvalidConfiguration)
	}

	m := &Manager{
		client:          cfg.Client,
		workspace:       cfg.Workspace,
		watcher:         cfg.Watcher,
		bus:             cfg.EventBus,
		logger:          zerolog.Nop(),
		shutdownTimeout: cfg.ShutdownTimeout,
		repoSubs:        make(map[*scm.Repository]*event.Disposables),
		tracked:         make(map[*scm.Repository]map[scm.URI]struct{}),
		shutdown:        make(chan struct{}),
		startTime:       time.Now(),
	}
	if cfg.Logger != nil {
		m.logger = cfg.Logger.With().Str("component", "integration").Logger()
	}
	if m.shutdownTimeout <= 0 {
		m.shutdownTimeout = 5 * time.Second
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	repoOpts := []scm.RepositoryOption{scm.WithLogger(m.logger)}
	if cfg.StatusLimit > 0 {
		repoOpts = append(repoOpts, scm.WithStatusLimit(cfg.StatusLimit))
	}
	if cfg.RetryLockContention {
		repoOpts = append(repoOpts, scm.WithRetryPolicy(scm.LockContentionRetry()))
	}

	registry, err := scm.NewRegistry(ctx, scm.RegistryConfig{
		Workspace: cfg.Workspace,
		Settings:  cfg.Settings,
		Factory:   m.factory(repoOpts),
		Logger:    cfg.Logger,
	})
	if err != nil {
		m.cancel()
		return nil, err
	}
	m.registry = registry

	notifierOpts := []scm.NotifierOption{scm.WithNotifierLogger(m.logger)}
	if cfg.Debounce > 0 {
		notifierOpts = append(notifierOpts, scm.WithDebounce(cfg.Debounce))
	}
	if cfg.TrackTTL > 0 {
		notifierOpts = append(notifierOpts, scm.WithTrackTTL(cfg.TrackTTL), scm.WithCleanupInterval(cfg.TrackTTL))
	}
	m.notifier = scm.NewChangeNotifier(registry, notifierOpts...)

	m.subs.Add(
		registry.OnDidOpenRepository().Subscribe(m.onOpen),
		registry.OnDidCloseRepository().Subscribe(m.onClose),
		registry.OnDidChangeRepository().Subscribe(func(e scm.RepositoryEvent) {
			m.publish(TopicRepositoryChanged, map[string]any{KeyRoot: e.Repository.Root(), KeyURI: string(e.URI)})
		}),
		registry.OnDidChangeOriginalResource().Subscribe(func(e scm.RepositoryEvent) {
			m.publish(TopicOriginalChanged, map[string]any{KeyRoot: e.Repository.Root(), KeyURI: string(e.URI)})
		}),
		m.notifier.OnDidChange().Subscribe(m.onResourceChanged),
		cfg.Workspace.OnDidAddFolder().Subscribe(m.onFolderAdded),
		cfg.Workspace.OnDidRemoveFolder().Subscribe(m.onFolderRemoved),
	)
	for _, repo := range registry.Repositories() {
		m.onOpen(repo)
	}

	if m.watcher != nil {
		for _, root := range cfg.Workspace.Roots() {
			m.watch(root)
		}
	}

	m.publish(TopicStarted, map[string]any{"roots": cfg.Workspace.Roots()})
	return m, nil
}

// factory builds repositories for working copies whose CVS/Root is
// readable.
func (m *Manager) factory(opts []scm.RepositoryOption) scm.Factory {
	return func(ctx context.Context, root string) (*scm.Repository, error) {
		if _, err := m.client.RepositoryRoot(root); err != nil {
			return nil, err
		}
		return scm.NewRepository(m.client.Open(root), opts...), nil
	}
}

// Client returns the cvs client.
func (m *Manager) Client() *cvs.Client { return m.client }

// Registry returns the repository registry.
func (m *Manager) Registry() *scm.Registry { return m.registry }

// Notifier returns the change notifier.
func (m *Manager) Notifier() *scm.ChangeNotifier { return m.notifier }

// Workspace returns the workspace.
func (m *Manager) Workspace() *workspace.Workspace { return m.workspace }

// EventBus returns the event publisher, which may be nil.
func (m *Manager) EventBus() EventPublisher { return m.bus }

// Refresh runs Status on every open repository concurrently and returns
// the joined errors.
func (m *Manager) Refresh(ctx context.Context) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}

	repos := m.registry.Repositories()
	errs := make([]error, len(repos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, repo := range repos {
		g.Go(func() error {
			if err := repo.Status(gctx); err != nil {
				errs[i] = fmt.Errorf("%s: %w", repo.Root(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Init creates a cvs repository at dir, then opens dir if it is a
// working copy.
func (m *Manager) Init(ctx context.Context, dir string) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	if err := m.client.Init(ctx, dir); err != nil {
		return err
	}
	return m.registry.TryOpenRepository(ctx, dir)
}

// Watch routes watcher events to the registry until ctx ends or the
// manager is closed.
func (m *Manager) Watch(ctx context.Context) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	if m.watcher == nil {
		return ErrNoWatcher
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.shutdown:
			cancel()
		case <-ctx.Done():
		}
	}()

	watcher.Dispatch(ctx, m.watcher, m.HandleEvent, func(err error) {
		m.logger.Warn().Err(err).Msg("watcher error")
	})
	if m.closed.Load() {
		return nil
	}
	return ctx.Err()
}

// HandleEvent applies one file system event. A CVS directory created
// directly under a workspace root opens that root; any other change
// notifies the repository owning the path.
func (m *Manager) HandleEvent(ev watcher.Event) {
	if m.closed.Load() {
		return
	}

	if filepath.Base(ev.Path) == scm.MarkerDir && ev.Op.Has(watcher.OpCreate) {
		parent := filepath.Dir(ev.Path)
		if m.workspace.IsRoot(parent) && m.registry.GetRepository(parent) == nil {
			if err := m.registry.TryOpenRepository(m.ctx, parent); err != nil {
				m.logger.Debug().Err(err).Str("root", parent).Msg("open after marker creation failed")
			}
			return
		}
	}

	if repo := m.registry.GetRepository(ev.Path); repo != nil {
		repo.NotifyChange(scm.FileURI(ev.Path))
		if orig, ok := originalOf(ev.Path); ok {
			repo.NotifyOriginalResourceChange(scm.FileURI(orig))
		}
	}
}

// originalOf maps a change inside a CVS admin directory to the path whose
// pristine copy it describes: CVS/Base/<name> holds the base revision of
// <name> and CVS/Entries the revisions of the whole directory.
func originalOf(path string) (string, bool) {
	dir, name := filepath.Split(path)
	dir = filepath.Clean(dir)
	switch {
	case filepath.Base(dir) == "Base" && filepath.Base(filepath.Dir(dir)) == scm.MarkerDir:
		return filepath.Join(filepath.Dir(filepath.Dir(dir)), name), true
	case name == "Entries" && filepath.Base(dir) == scm.MarkerDir:
		return filepath.Dir(dir), true
	}
	return "", false
}

// Close shuts down all components and releases resources. It is safe to
// call more than once.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	close(m.shutdown)
	m.cancel()

	m.subs.Dispose()
	m.notifier.Close()
	m.registry.Dispose()

	m.mu.Lock()
	for repo, subs := range m.repoSubs {
		subs.Dispose()
		delete(m.repoSubs, repo)
	}
	m.mu.Unlock()

	var err error
	if m.watcher != nil {
		err = m.watcher.Close()
	}
	runner := m.client.Runner()
	if active := runner.Active(); active > 0 {
		m.logger.Debug().Int("active", active).Msg("stopping client processes")
	}
	runner.Shutdown(m.shutdownTimeout)

	m.publish(TopicStopped, map[string]any{"uptime": time.Since(m.startTime).String()})
	return err
}

func (m *Manager) onOpen(repo *scm.Repository) {
	subs := &event.Disposables{}
	root := repo.Root()

	subs.Add(
		repo.OnDidChangeResources().Subscribe(func(resources []scm.Resource) {
			m.track(repo, resources)
			m.publish(TopicResourcesChanged, map[string]any{
				KeyRoot:        root,
				KeyCount:       len(resources),
				KeyDidHitLimit: repo.DidHitLimit(),
			})
		}),
		repo.OnRunOperation().Subscribe(func(op scm.Operation) {
			m.publish(TopicOperationStarted, map[string]any{
				KeyRoot:      root,
				KeyOperation: string(op),
				KeyProgress:  repo.Operations().ShouldShowProgress(),
			})
		}),
		repo.OnDidRunOperation().Subscribe(func(res scm.RunResult) {
			data := map[string]any{
				KeyRoot:      root,
				KeyOperation: string(res.Operation),
				KeyIdle:      repo.Operations().IsIdle(),
			}
			if res.Err != nil {
				data[KeyError] = res.Err.Error()
			}
			m.publish(TopicOperationFinished, data)
		}),
	)

	m.mu.Lock()
	if old, ok := m.repoSubs[repo]; ok {
		old.Dispose()
	}
	m.repoSubs[repo] = subs
	m.mu.Unlock()

	if m.watcher != nil {
		m.watch(root)
	}
	m.publish(TopicRepositoryOpened, map[string]any{KeyRoot: root})
}

func (m *Manager) onClose(repo *scm.Repository) {
	m.mu.Lock()
	if subs, ok := m.repoSubs[repo]; ok {
		subs.Dispose()
		delete(m.repoSubs, repo)
	}
	uris := m.tracked[repo]
	delete(m.tracked, repo)
	m.mu.Unlock()

	for uri := range uris {
		m.notifier.Untrack(uri)
	}
	m.publish(TopicRepositoryClosed, map[string]any{KeyRoot: repo.Root()})
}

// track registers every reported resource with the change notifier.
// Resources that drop out of the listing stay tracked until they expire
// so the change that cleaned them is still reported.
func (m *Manager) track(repo *scm.Repository, resources []scm.Resource) {
	m.mu.Lock()
	uris, ok := m.tracked[repo]
	if !ok {
		uris = make(map[scm.URI]struct{}, len(resources))
		m.tracked[repo] = uris
	}
	for _, r := range resources {
		uris[r.URI()] = struct{}{}
	}
	m.mu.Unlock()

	for _, r := range resources {
		m.notifier.Track(r.URI())
	}
}

func (m *Manager) onResourceChanged(uri scm.URI) {
	data := map[string]any{KeyURI: string(uri)}
	if p, ok := uri.Path(); ok {
		if repo := m.registry.GetRepository(p); repo != nil {
			data[KeyRoot] = repo.Root()
		}
	}
	m.publish(TopicResourceChanged, data)
}

func (m *Manager) onFolderAdded(f workspace.Folder) {
	m.publish(TopicFolderAdded, map[string]any{KeyPath: f.Path})
	if m.watcher != nil {
		m.watch(f.Path)
	}
	if info, err := os.Stat(filepath.Join(f.Path, scm.MarkerDir)); err == nil && info.IsDir() {
		if err := m.registry.TryOpenRepository(m.ctx, f.Path); err != nil {
			m.logger.Debug().Err(err).Str("root", f.Path).Msg("open added folder failed")
		}
	}
}

func (m *Manager) onFolderRemoved(f workspace.Folder) {
	m.publish(TopicFolderRemoved, map[string]any{KeyPath: f.Path})
	for _, repo := range m.registry.Repositories() {
		if isWithin(f.Path, repo.Root()) {
			if _, stillCovered := m.workspace.ContainingFolder(repo.Root()); !stillCovered {
				repo.Dispose()
			}
		}
	}
}

func (m *Manager) watch(root string) {
	if err := m.watcher.WatchRecursive(root); err != nil && !errors.Is(err, watcher.ErrWatcherClosed) {
		m.logger.Warn().Err(err).Str("root", root).Msg("cannot watch root")
	}
}

// publish copies data, stamps it and hands it to the bus if one is set.
func (m *Manager) publish(eventType string, data map[string]any) {
	if m.bus == nil {
		return
	}
	eventData := make(map[string]any, len(data)+1)
	for k, v := range data {
		eventData[k] = v
	}
	eventData[KeyTimestamp] = time.Now().UnixMilli()

	func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error().Str("topic", eventType).Interface("panic", r).Msg("event publisher panicked")
			}
		}()
		m.bus.Publish(eventType, eventData)
	}()
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
