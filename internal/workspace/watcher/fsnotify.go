package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FSNotifyWatcher implements Watcher using fsnotify.
//
// fsnotify only reports changes in directories it was told about, so new
// directories below a watched one are added as they appear.
type FSNotifyWatcher struct {
	mu sync.RWMutex

	// Underlying fsnotify watcher
	watcher *fsnotify.Watcher
	config  Config
	logger  zerolog.Logger
	ignore  *IgnorePatterns

	// Watched directories, absolute
	paths map[string]bool

	// Delivered to Dispatch and other consumers
	events chan Event
	errors chan error

	// Counters for Stats
	startTime   time.Time
	totalEvents atomic.Int64
	dropped     atomic.Int64
	totalErrors atomic.Int64
	lastError   error

	// Shutdown
	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// NewFSNotifyWatcher creates a new fsnotify-based watcher.
func NewFSNotifyWatcher(opts ...WatcherOption) (*FSNotifyWatcher, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	bufSize := config.BufferSize
	if bufSize <= 0 {
		bufSize = 256
	}

	w := &FSNotifyWatcher{
		watcher:   fsw,
		config:    config,
		logger:    config.Logger.With().Str("component", "watcher").Logger(),
		ignore:    NewIgnorePatterns(config.IgnorePatterns...),
		paths:     make(map[string]bool),
		events:    make(chan Event, bufSize),
		errors:    make(chan error, bufSize),
		startTime: time.Now(),
		closeCh:   make(chan struct{}),
	}

	// Translate fsnotify events until Close
	w.closedWg.Add(1)
	go w.processLoop()

	return w, nil
}

// Watch starts watching a directory.
func (w *FSNotifyWatcher) Watch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	// The path must exist before fsnotify accepts it
	if _, err := os.Stat(absPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrPathNotExist
		}
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.paths[absPath] {
		return ErrAlreadyWatching
	}
	// Respect the configured watch budget
	if w.config.MaxWatches > 0 && len(w.paths) >= w.config.MaxWatches {
		return ErrWatchLimit
	}
	if err := w.watcher.Add(absPath); err != nil {
		return err
	}

	w.paths[absPath] = true
	return nil
}

// WatchRecursive watches a directory and all subdirectories that are not
// ignored.
func (w *FSNotifyWatcher) WatchRecursive(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrPathNotExist
		}
		return err
	}
	if !info.IsDir() {
		return w.Watch(absPath)
	}

	// Walk the tree and add every directory; files are covered by their
	// parent's watch
	return filepath.WalkDir(absPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		// Prune ignored subtrees such as node_modules
		if p != absPath && w.shouldIgnore(p, true) {
			return filepath.SkipDir
		}
		if watchErr := w.Watch(p); watchErr != nil {
			switch {
			case errors.Is(watchErr, ErrAlreadyWatching):
				// Overlapping roots
			case errors.Is(watchErr, ErrWatcherClosed), errors.Is(watchErr, ErrWatchLimit):
				return watchErr
			default:
				// Record and keep walking
				w.recordError(watchErr)
			}
		}
		return nil
	})
}

// Unwatch stops watching a path.
func (w *FSNotifyWatcher) Unwatch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if !w.paths[absPath] {
		return ErrNotWatching
	}
	if err := w.watcher.Remove(absPath); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return err
	}

	delete(w.paths, absPath)
	return nil
}

// Events returns the event channel.
func (w *FSNotifyWatcher) Events() <-chan Event {
	return w.events
}

// Errors returns the error channel.
func (w *FSNotifyWatcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher.
func (w *FSNotifyWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	// Wait for processLoop so nothing sends on closed channels
	w.closedWg.Wait()

	close(w.events)
	close(w.errors)

	return w.watcher.Close()
}

// Stats returns watcher statistics.
func (w *FSNotifyWatcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return Stats{
		WatchedPaths:  len(w.paths),
		PendingEvents: len(w.events),
		TotalEvents:   w.totalEvents.Load(),
		Dropped:       w.dropped.Load(),
		Errors:        w.totalErrors.Load(),
		LastError:     w.lastError,
		StartTime:     w.startTime,
	}
}

// IsWatching returns true if the path is being watched.
func (w *FSNotifyWatcher) IsWatching(path string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.paths[absPath]
}

// WatchedPaths returns all watched paths.
func (w *FSNotifyWatcher) WatchedPaths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	paths := make([]string, 0, len(w.paths))
	for p := range w.paths {
		paths = append(paths, p)
	}
	return paths
}

func (w *FSNotifyWatcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case fsEvent, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(fsEvent)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.recordError(err)
			w.sendError(err)
		}
	}
}

func (w *FSNotifyWatcher) handleFSEvent(fsEvent fsnotify.Event) {
	op := convertOp(fsEvent.Op)
	if op == 0 {
		return
	}

	// Only creations need a stat; removed paths are gone already
	isDir := false
	if op.Has(OpCreate) {
		if info, err := os.Stat(fsEvent.Name); err == nil && info.IsDir() {
			isDir = true
		}
	}

	if w.shouldIgnore(fsEvent.Name, isDir) {
		return
	}

	event := Event{
		Path:      fsEvent.Name,
		Op:        op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	}

	if w.config.EventFilter != nil && !w.config.EventFilter(event) {
		return
	}

	// New directories, including a fresh CVS admin directory, are watched
	// before the event is delivered
	if isDir {
		if err := w.WatchRecursive(fsEvent.Name); err != nil && !errors.Is(err, ErrWatcherClosed) {
			w.recordError(err)
		}
	}
	// fsnotify drops the watch itself; drop our bookkeeping too
	if op.Has(OpRemove) || op.Has(OpRename) {
		w.forget(fsEvent.Name)
	}

	w.sendEvent(event)
}

// forget drops bookkeeping for a removed directory and its children.
func (w *FSNotifyWatcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prefix := path + string(filepath.Separator)
	for p := range w.paths {
		if p == path || (len(p) > len(prefix) && p[:len(prefix)] == prefix) {
			delete(w.paths, p)
		}
	}
}

func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	if fsOp.Has(fsnotify.Chmod) {
		op |= OpChmod
	}
	return op
}

func (w *FSNotifyWatcher) shouldIgnore(path string, isDir bool) bool {
	if w.config.IgnoreHidden {
		base := filepath.Base(path)
		if len(base) > 0 && base[0] == '.' {
			return true
		}
	}
	return w.ignore.Match(path, isDir)
}

func (w *FSNotifyWatcher) sendEvent(event Event) {
	select {
	case w.events <- event:
		w.totalEvents.Add(1)
	default:
		// Channel full, count and drop
		w.dropped.Add(1)
		w.logger.Warn().Str("path", event.Path).Msg("event channel full, dropping event")
	}
}

func (w *FSNotifyWatcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
		// Already counted by recordError
	}
}

func (w *FSNotifyWatcher) recordError(err error) {
	w.totalErrors.Add(1)
	w.mu.Lock()
	w.lastError = err
	w.mu.Unlock()
	w.logger.Debug().Err(err).Msg("watcher error")
}

var _ Watcher = (*FSNotifyWatcher)(nil)
