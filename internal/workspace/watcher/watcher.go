// Package watcher delivers file system change events for workspace roots.
//
// Events feed the repository registry: a new CVS directory under a root
// opens a repository, and any other change is routed to the repository
// that owns the path so its status can be refreshed.
package watcher

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed   = errors.New("watcher is closed")
	ErrAlreadyWatching = errors.New("path is already being watched")
	ErrNotWatching     = errors.New("path is not being watched")
	ErrPathNotExist    = errors.New("path does not exist")
	ErrWatchLimit      = errors.New("maximum watch limit reached")
)

// Op represents the type of file system operation.
type Op uint32

const (
	// OpCreate indicates a file or directory was created.
	OpCreate Op = 1 << iota
	// OpWrite indicates a file was written to.
	OpWrite
	// OpRemove indicates a file or directory was removed.
	OpRemove
	// OpRename indicates a file or directory was renamed.
	OpRename
	// OpChmod indicates file permissions were changed.
	OpChmod
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpWrite:
		return "WRITE"
	case OpRemove:
		return "REMOVE"
	case OpRename:
		return "RENAME"
	case OpChmod:
		return "CHMOD"
	default:
		return "UNKNOWN"
	}
}

// Has returns true if the operation includes the given op.
func (op Op) Has(o Op) bool {
	return op&o == o
}

// Event represents a file system change event.
type Event struct {
	// Path is the absolute path of the affected file or directory.
	Path string

	// Op is the operation that occurred.
	Op Op

	// IsDir is set when a created path is a directory.
	IsDir bool

	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// Stats provides watcher status information.
type Stats struct {
	WatchedPaths  int
	PendingEvents int
	TotalEvents   int64
	Dropped       int64
	Errors        int64
	LastError     error
	StartTime     time.Time
}

// Watcher monitors file system changes.
type Watcher interface {
	// Watch starts watching a single directory.
	Watch(path string) error

	// WatchRecursive watches a directory and every non-ignored subdirectory.
	WatchRecursive(path string) error

	// Unwatch stops watching a path.
	Unwatch(path string) error

	// Events returns the channel of change events. It is closed by Close.
	Events() <-chan Event

	// Errors returns the channel of watcher errors. It is closed by Close.
	Errors() <-chan error

	// Close stops the watcher and releases resources.
	Close() error

	// IsWatching reports whether path is watched.
	IsWatching(path string) bool
}

// Handler handles file system events.
type Handler func(event Event)

// ErrorHandler handles watcher errors.
type ErrorHandler func(err error)

// EventFilter returns false to drop an event.
type EventFilter func(event Event) bool

// Config holds watcher configuration options.
type Config struct {
	// BufferSize is the size of the event and error channels.
	// Default: 256
	BufferSize int

	// IgnorePatterns are glob patterns for paths to ignore.
	IgnorePatterns []string

	// IgnoreHidden ignores names starting with a dot.
	IgnoreHidden bool

	// MaxWatches limits watched directories. 0 means unlimited.
	MaxWatches int

	// EventFilter is an optional filter for events.
	EventFilter EventFilter

	// Logger receives watcher diagnostics.
	Logger zerolog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:     256,
		IgnorePatterns: DefaultIgnorePatterns,
		Logger:         zerolog.Nop(),
	}
}

// WatcherOption configures a watcher.
type WatcherOption func(*Config)

// WithBufferSize sets the channel buffer size.
func WithBufferSize(size int) WatcherOption {
	return func(c *Config) {
		c.BufferSize = size
	}
}

// WithIgnorePatterns replaces the ignore patterns.
func WithIgnorePatterns(patterns []string) WatcherOption {
	return func(c *Config) {
		c.IgnorePatterns = patterns
	}
}

// WithIgnoreHidden enables ignoring hidden files.
func WithIgnoreHidden(ignore bool) WatcherOption {
	return func(c *Config) {
		c.IgnoreHidden = ignore
	}
}

// WithMaxWatches sets the maximum number of watches.
func WithMaxWatches(max int) WatcherOption {
	return func(c *Config) {
		c.MaxWatches = max
	}
}

// WithEventFilter sets the event filter.
func WithEventFilter(filter EventFilter) WatcherOption {
	return func(c *Config) {
		c.EventFilter = filter
	}
}

// WithLogger sets the watcher's logger.
func WithLogger(logger zerolog.Logger) WatcherOption {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Dispatch reads w until ctx ends or w is closed, calling onEvent and
// onError for each item. Either handler may be nil.
func Dispatch(ctx context.Context, w Watcher, onEvent Handler, onError ErrorHandler) {
	events, errs := w.Events(), w.Errors()
	for events != nil || errs != nil {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if onEvent != nil {
				onEvent(ev)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}
