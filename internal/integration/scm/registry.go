package scm

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dshills/cvsbridge/internal/event"
	"github.com/dshills/cvsbridge/internal/integration/sched"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// MarkerDir is the metadata directory the client keeps in a working copy.
const MarkerDir = "CVS"

// maxConcurrentScans bounds concurrent directory listings during discovery.
const maxConcurrentScans = 8

// Workspace lists the roots to scan and reads their directories.
type Workspace interface {
	Roots() []string
	ReadDir(path string) ([]fs.DirEntry, error)
}

// Settings answers per-path configuration lookups.
type Settings interface {
	Enabled(path string) bool
}

// Factory builds a Repository for an absolute, clean root.
type Factory func(ctx context.Context, root string) (*Repository, error)

// RepositoryEvent tags a location with the repository it belongs to.
type RepositoryEvent struct {
	Repository *Repository
	URI        URI
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Workspace supplies the roots scanned at construction. Optional.
	Workspace Workspace

	// Settings disables repositories per path. Optional; nil enables all.
	Settings Settings

	// Factory builds repositories. Required.
	Factory Factory

	Logger *zerolog.Logger
}

// openRepository is a tracked repository and the teardown of its
// subscriptions.
type openRepository struct {
	repository *Repository
	dispose    func()
}

// Registry owns the open repositories.
type Registry struct {
	workspace Workspace
	settings  Settings
	factory   Factory
	logger    zerolog.Logger
	serial    *sched.Serialized

	mu       sync.RWMutex
	open     []*openRepository
	disposed bool

	onDidOpenRepository         event.Emitter[*Repository]
	onDidCloseRepository        event.Emitter[*Repository]
	onDidChangeRepository       event.Emitter[RepositoryEvent]
	onDidChangeOriginalResource event.Emitter[RepositoryEvent]
}

// NewRegistry creates a registry and opens every workspace root that
// contains a MarkerDir. Subscribers registered after NewRegistry returns do
// not see those initial open events; use Repositories instead.
func NewRegistry(ctx context.Context, cfg RegistryConfig) (*Registry, error) {
	if cfg.Factory == nil {
		return nil, ErrNoFactory
	}

	r := &Registry{
		workspace: cfg.Workspace,
		settings:  cfg.Settings,
		factory:   cfg.Factory,
		logger:    zerolog.Nop(),
		serial:    sched.NewSerialized(),
	}
	if cfg.Logger != nil {
		r.logger = cfg.Logger.With().Str("component", "registry").Logger()
	}

	if err := r.Scan(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Scan lists each workspace root and opens those containing a MarkerDir.
// It does not descend into subdirectories. Roots are listed concurrently
// and opened in order.
func (r *Registry) Scan(ctx context.Context) error {
	if r.workspace == nil {
		return nil
	}
	roots := r.workspace.Roots()
	candidate := make([]bool, len(roots))

	var g errgroup.Group
	g.SetLimit(maxConcurrentScans)
	for i, root := range roots {
		g.Go(func() error {
			entries, err := r.workspace.ReadDir(root)
			if err != nil {
				r.logger.Debug().Err(err).Str("root", root).Msg("cannot list workspace root")
				return nil
			}
			for _, e := range entries {
				if e.IsDir() && e.Name() == MarkerDir {
					candidate[i] = true
					break
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, root := range roots {
		if !candidate[i] {
			continue
		}
		if err := r.TryOpenRepository(ctx, root); err != nil {
			return err
		}
	}
	return nil
}

// TryOpenRepository opens the repository rooted at path unless one is
// already open there or the path is disabled by settings.
//
// Calls are serialized. Factory errors are logged, not returned; the only
// error is ctx ending while waiting for an earlier call.
func (r *Registry) TryOpenRepository(ctx context.Context, path string) error {
	return r.serial.Do(ctx, func(ctx context.Context) error {
		if r.isDisposed() || r.openAt(path) != nil {
			return nil
		}
		if r.settings != nil && !r.settings.Enabled(path) {
			r.logger.Debug().Str("path", path).Msg("repository support disabled")
			return nil
		}

		root, err := canonicalPath(path)
		if err != nil {
			r.logger.Warn().Err(err).Str("path", path).Msg("cannot resolve repository path")
			return nil
		}
		if r.openAt(root) != nil {
			return nil
		}

		repo, err := r.factory(ctx, root)
		if err != nil {
			r.logger.Warn().Err(err).Str("root", root).Msg("cannot open repository")
			return nil
		}
		if repo == nil {
			return nil
		}

		r.track(repo)
		return nil
	})
}

// GetRepository resolves hint to an open repository, or nil.
//
// hint may be a *Repository, a URI or a path string. Paths resolve to the
// open repository whose root is the longest ancestor of the path.
func (r *Registry) GetRepository(hint any) *Repository {
	switch h := hint.(type) {
	case *Repository:
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, o := range r.open {
			if o.repository == h {
				return h
			}
		}
		return nil
	case URI:
		p, ok := h.Path()
		if !ok {
			return nil
		}
		return r.repositoryFor(p)
	case string:
		return r.repositoryFor(h)
	default:
		return nil
	}
}

// Repositories returns the open repositories in opening order.
func (r *Registry) Repositories() []*Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Repository, len(r.open))
	for i, o := range r.open {
		out[i] = o.repository
	}
	return out
}

// OnDidOpenRepository fires after a repository is registered.
func (r *Registry) OnDidOpenRepository() event.Source[*Repository] {
	return &r.onDidOpenRepository
}

// OnDidCloseRepository fires after a disposed repository is removed.
func (r *Registry) OnDidCloseRepository() event.Source[*Repository] {
	return &r.onDidCloseRepository
}

// OnDidChangeRepository republishes repository change notifications.
func (r *Registry) OnDidChangeRepository() event.Source[RepositoryEvent] {
	return &r.onDidChangeRepository
}

// OnDidChangeOriginalResource republishes original-resource notifications.
func (r *Registry) OnDidChangeOriginalResource() event.Source[RepositoryEvent] {
	return &r.onDidChangeOriginalResource
}

// Dispose disposes every open repository and drops all subscribers. Close
// events are not fired.
func (r *Registry) Dispose() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	open := r.open
	r.open = nil
	r.mu.Unlock()

	for _, o := range open {
		o.dispose()
	}

	r.onDidOpenRepository.Close()
	r.onDidCloseRepository.Close()
	r.onDidChangeRepository.Close()
	r.onDidChangeOriginalResource.Close()
}

// track registers repo and wires its events. The repository is removed
// when it reaches StateDisposed.
func (r *Registry) track(repo *Repository) {
	var subs event.Disposables
	entry := &openRepository{repository: repo}

	var once sync.Once
	teardown := func() {
		once.Do(func() {
			subs.Dispose()
			if r.remove(entry) {
				r.logger.Info().Str("root", repo.Root()).Msg("repository closed")
				r.onDidCloseRepository.Fire(repo)
			}
		})
	}
	entry.dispose = func() {
		once.Do(subs.Dispose)
		repo.Dispose()
	}

	subs.Add(
		repo.OnDidChangeRepository().Subscribe(func(uri URI) {
			r.onDidChangeRepository.Fire(RepositoryEvent{Repository: repo, URI: uri})
		}),
		repo.OnDidChangeOriginalResource().Subscribe(func(uri URI) {
			r.onDidChangeOriginalResource.Fire(RepositoryEvent{Repository: repo, URI: uri})
		}),
		event.Filter(repo.OnDidChangeState(), isDisposed, func(State) { teardown() }),
	)

	r.mu.Lock()
	r.open = append(r.open, entry)
	r.mu.Unlock()

	r.logger.Info().Str("root", repo.Root()).Msg("repository opened")
	r.onDidOpenRepository.Fire(repo)
}

func (r *Registry) remove(entry *openRepository) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, o := range r.open {
		if o == entry {
			r.open = append(r.open[:i:i], r.open[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Registry) isDisposed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.disposed
}

// openAt returns the repository rooted exactly at path.
func (r *Registry) openAt(path string) *Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.open {
		if o.repository.Root() == path {
			return o.repository
		}
	}
	return nil
}

func (r *Registry) repositoryFor(path string) *Repository {
	p, err := canonicalPath(path)
	if err != nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Repository
	for _, o := range r.open {
		root := o.repository.Root()
		if !isDescendant(root, p) {
			continue
		}
		if best == nil || len(root) > len(best.Root()) {
			best = o.repository
		}
	}
	return best
}

func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// isDescendant reports whether path is root or lies below it.
func isDescendant(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel))
}

func isDisposed(s State) bool { return s == StateDisposed }
