package integration

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/dshills/cvsbridge/internal/integration/cvs"
	"github.com/dshills/cvsbridge/internal/integration/process"
	"github.com/dshills/cvsbridge/internal/workspace/watcher"
	"github.com/stretchr/testify/require"
)

// fakeCVS answers "init" by creating CVSROOT and everything else with a
// short status listing.
const fakeCVS = `case "$1" in
init)
	mkdir -p "$CVSROOT/CVSROOT"
	exit 0
	;;
esac
printf 'M a.txt\n? new.c\n'`

func newTestClient(t *testing.T) *cvs.Client {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake client scripts require /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "fakecvs")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+fakeCVS+"\n"), 0o755))
	return cvs.NewClient(cvs.ClientInfo{Path: path}, process.NewRunner(path))
}

// mkWorkingCopy creates a directory, optionally with CVS/Root.
func mkWorkingCopy(t *testing.T, checkedOut bool) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	if checkedOut {
		writeCVSRoot(t, dir)
	}
	return dir
}

func writeCVSRoot(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "CVS"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CVS", "Root"), []byte(":local:/cvsroot\n"), 0o644))
}

type published struct {
	topic string
	data  map[string]any
}

// busRecorder is an EventPublisher that keeps every event.
type busRecorder struct {
	mu     sync.Mutex
	events []published
}

func (r *busRecorder) Publish(topic string, data map[string]any) {
	r.mu.Lock()
	r.events = append(r.events, published{topic: topic, data: data})
	r.mu.Unlock()
}

func (r *busRecorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.topic
	}
	return out
}

func (r *busRecorder) find(topic string) []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []map[string]any
	for _, e := range r.events {
		if e.topic == topic {
			out = append(out, e.data)
		}
	}
	return out
}

// chanWatcher is a Watcher fed by the test.
type chanWatcher struct {
	events chan watcher.Event
	errs   chan error

	mu      sync.Mutex
	watched map[string]bool
	closed  bool
}

func newChanWatcher() *chanWatcher {
	return &chanWatcher{
		events:  make(chan watcher.Event, 16),
		errs:    make(chan error, 16),
		watched: make(map[string]bool),
	}
}

func (w *chanWatcher) Watch(path string) error { return w.WatchRecursive(path) }

func (w *chanWatcher) WatchRecursive(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return watcher.ErrWatcherClosed
	}
	w.watched[path] = true
	return nil
}

func (w *chanWatcher) Unwatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watched, path)
	return nil
}

func (w *chanWatcher) Events() <-chan watcher.Event { return w.events }
func (w *chanWatcher) Errors() <-chan error          { return w.errs }

func (w *chanWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.events)
		close(w.errs)
	}
	return nil
}

func (w *chanWatcher) IsWatching(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watched[path]
}
