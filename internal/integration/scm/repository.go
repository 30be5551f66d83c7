package scm

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dshills/cvsbridge/internal/event"
	"github.com/dshills/cvsbridge/internal/integration/cvs"
	"github.com/dshills/cvsbridge/internal/integration/process"
	"github.com/dshills/cvsbridge/internal/integration/sched"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of a Repository.
type State int

const (
	// StateIdle is the initial state; operations may run.
	StateIdle State = iota
	// StateDisposed is terminal.
	StateDisposed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// StatusSource runs the status command of a working copy.
// *cvs.Repository implements it.
type StatusSource interface {
	Root() string
	GetStatus(ctx context.Context, limit int) (*cvs.StatusResult, error)
}

// RunResult describes a finished operation.
type RunResult struct {
	Operation Operation
	Err       error
}

// Repository tracks one working copy.
type Repository struct {
	handle      StatusSource
	root        string
	logger      zerolog.Logger
	retry       sched.RetryPolicy
	isFatal     func(error) bool
	statusLimit int

	ops *Operations

	mu          sync.RWMutex
	state       State
	resources   []Resource
	didHitLimit bool

	status  *sched.Coalesced[struct{}]
	refresh *sched.Throttled[struct{}]

	onDidChangeState            event.Emitter[State]
	onDidChangeRepository       event.Emitter[URI]
	onDidChangeOriginalResource event.Emitter[URI]
	onDidChangeResources        event.Emitter[[]Resource]
	onRunOperation              event.Emitter[Operation]
	onDidRunOperation           event.Emitter[RunResult]
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithLogger sets the repository's logger.
func WithLogger(logger zerolog.Logger) RepositoryOption {
	return func(r *Repository) {
		r.logger = logger
	}
}

// WithRetryPolicy sets how operation bodies are retried. The default runs
// each body once.
func WithRetryPolicy(p sched.RetryPolicy) RepositoryOption {
	return func(r *Repository) {
		r.retry = p
	}
}

// WithFatalError sets the predicate selecting run errors that dispose the
// repository. The default is cvs.IsNotRepository; nil disables it.
func WithFatalError(fn func(error) bool) RepositoryOption {
	return func(r *Repository) {
		r.isFatal = fn
	}
}

// WithStatusLimit caps the resources fetched per refresh.
func WithStatusLimit(limit int) RepositoryOption {
	return func(r *Repository) {
		r.statusLimit = limit
	}
}

// LockContentionRetry retries operations that failed because another
// client held a repository lock, waiting attempt² × 50ms between tries.
func LockContentionRetry() sched.RetryPolicy {
	return sched.RetryPolicy{
		MaxAttempts: 10,
		Backoff:     sched.QuadraticBackoff(50 * time.Millisecond),
		Retryable:   cvs.IsLocked,
	}
}

// NewRepository creates an idle repository around handle.
func NewRepository(handle StatusSource, opts ...RepositoryOption) *Repository {
	r := &Repository{
		handle:      handle,
		root:        handle.Root(),
		logger:      zerolog.Nop(),
		retry:       sched.NoRetry(),
		isFatal:     cvs.IsNotRepository,
		statusLimit: cvs.DefaultStatusLimit,
		ops:         NewOperations(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "scm").Str("root", r.root).Logger()

	r.status = sched.NewCoalesced(func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.Run(ctx, OperationStatus, nil)
	})
	r.refresh = sched.NewThrottled(r.fetchResources)
	return r
}

// Root returns the working copy root.
func (r *Repository) Root() string {
	return r.root
}

// URI returns the root as a file URI.
func (r *Repository) URI() URI {
	return FileURI(r.root)
}

// State returns the current lifecycle state.
func (r *Repository) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Operations returns the in-flight operation set.
func (r *Repository) Operations() *Operations {
	return r.ops
}

// Resources returns the working-tree resources of the last refresh.
func (r *Repository) Resources() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Resource(nil), r.resources...)
}

// DidHitLimit reports whether the last refresh was truncated.
func (r *Repository) DidHitLimit() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.didHitLimit
}

// OnDidChangeState fires on every state transition.
func (r *Repository) OnDidChangeState() event.Source[State] { return &r.onDidChangeState }

// OnDidChangeRepository fires for every NotifyChange call.
func (r *Repository) OnDidChangeRepository() event.Source[URI] { return &r.onDidChangeRepository }

// OnDidChangeOriginalResource fires for every NotifyOriginalResourceChange call.
func (r *Repository) OnDidChangeOriginalResource() event.Source[URI] {
	return &r.onDidChangeOriginalResource
}

// OnDidChangeResources fires with the new resource list after each refresh.
func (r *Repository) OnDidChangeResources() event.Source[[]Resource] {
	return &r.onDidChangeResources
}

// OnRunOperation fires when an operation starts.
func (r *Repository) OnRunOperation() event.Source[Operation] { return &r.onRunOperation }

// OnDidRunOperation fires when an operation finishes, successfully or not.
func (r *Repository) OnDidRunOperation() event.Source[RunResult] { return &r.onDidRunOperation }

// NotifyChange reports a change to a file inside the working copy.
func (r *Repository) NotifyChange(uri URI) {
	r.onDidChangeRepository.Fire(uri)
}

// NotifyOriginalResourceChange reports a change to the pristine copy of a
// file, such as after an update or commit.
func (r *Repository) NotifyOriginalResourceChange(uri URI) {
	r.onDidChangeOriginalResource.Fire(uri)
}

// Status refreshes the resource list. Calls made while a refresh is in
// flight share its result. When every waiting caller is cancelled the
// client process is killed and Status fails with process.ErrCancelled.
func (r *Repository) Status(ctx context.Context) error {
	_, err := r.status.Do(ctx)
	return cancelled(ctx, err)
}

// Run runs body as op. See RunValue.
func (r *Repository) Run(ctx context.Context, op Operation, body func(ctx context.Context) error) error {
	var fn func(ctx context.Context) (struct{}, error)
	if body != nil {
		fn = func(ctx context.Context) (struct{}, error) {
			return struct{}{}, body(ctx)
		}
	}
	_, err := RunValue(ctx, r, op, fn)
	return err
}

// RunValue runs body as op on r and returns its value.
//
// It fails with ErrInvalidState without running anything unless r is idle.
// Otherwise body runs through the retry policy and, unless op is read-only,
// the resource list is refreshed. A nil body only refreshes. The
// OnRunOperation and OnDidRunOperation events bracket the run on every
// path. Errors accepted by the fatal-error predicate dispose r.
func RunValue[T any](ctx context.Context, r *Repository, op Operation, body func(ctx context.Context) (T, error)) (result T, err error) {
	if state := r.State(); state != StateIdle {
		return result, fmt.Errorf("%s on %s repository: %w", op, state, ErrInvalidState)
	}

	r.ops.Start(op)
	r.onRunOperation.Fire(op)

	defer func() {
		p := recover()
		if p != nil && err == nil {
			err = fmt.Errorf("operation %s panicked: %v", op, p)
		}
		r.ops.End(op)
		r.onDidRunOperation.Fire(RunResult{Operation: op, Err: err})
		if p != nil {
			panic(p)
		}
	}()

	if body != nil {
		err = r.retry.Do(ctx, func(ctx context.Context) error {
			v, err := body(ctx)
			if err == nil {
				result = v
			}
			return err
		})
	}
	if err == nil && !PolicyFor(op).ReadOnly {
		err = r.updateModelState(ctx)
	}

	if err != nil {
		r.logger.Debug().Err(err).Str("operation", string(op)).Msg("operation failed")
		if r.isFatal != nil && r.isFatal(err) {
			r.logger.Warn().Err(err).Msg("working copy is gone, disposing")
			r.setState(StateDisposed)
		}
	}
	return result, err
}

// updateModelState refreshes the resource list. Calls during a refresh
// queue a single follow-up refresh.
func (r *Repository) updateModelState(ctx context.Context) error {
	_, err := r.refresh.Do(ctx)
	return cancelled(ctx, err)
}

// cancelled reports a bare context error from a shared run as a client
// cancellation.
func cancelled(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil || errors.Is(err, process.ErrCancelled) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return process.Cancelled("status", err)
	}
	return err
}

func (r *Repository) fetchResources(ctx context.Context) (struct{}, error) {
	res, err := r.handle.GetStatus(ctx, r.statusLimit)
	if err != nil {
		return struct{}{}, err
	}

	resources := make([]Resource, 0, len(res.Entries))
	for _, entry := range res.Entries {
		resources = append(resources, Resource{
			Group:  GroupWorkingTree,
			Path:   filepath.Join(r.root, filepath.FromSlash(entry.Path)),
			Status: StatusFromCode(entry.Code),
			Code:   entry.Code,
		})
	}

	if res.DidHitLimit {
		r.logger.Warn().Int("limit", len(res.Entries)).Msg("too many changes, status truncated")
	}

	r.mu.Lock()
	r.resources = resources
	r.didHitLimit = res.DidHitLimit
	r.mu.Unlock()

	r.onDidChangeResources.Fire(append([]Resource(nil), resources...))
	return struct{}{}, nil
}

func (r *Repository) setState(s State) {
	r.mu.Lock()
	if r.state == s {
		r.mu.Unlock()
		return
	}
	r.state = s
	if s == StateDisposed {
		r.resources = nil
	}
	r.mu.Unlock()

	r.onDidChangeState.Fire(s)
}

// Dispose moves the repository to StateDisposed and drops all subscribers.
func (r *Repository) Dispose() {
	r.setState(StateDisposed)

	r.onDidChangeState.Close()
	r.onDidChangeRepository.Close()
	r.onDidChangeOriginalResource.Close()
	r.onDidChangeResources.Close()
	r.onRunOperation.Close()
	r.onDidRunOperation.Close()
}
