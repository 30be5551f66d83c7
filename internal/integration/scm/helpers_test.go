package scm

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/dshills/cvsbridge/internal/integration/cvs"
	"github.com/dshills/cvsbridge/internal/integration/process"
	"github.com/stretchr/testify/require"
)

// fakeSource is an in-memory StatusSource that counts status runs.
type fakeSource struct {
	root string

	mu      sync.Mutex
	calls   int
	entries []cvs.FileStatus
	hit     bool
	err     error
	delay   time.Duration
}

func newFakeSource(root string, entries ...cvs.FileStatus) *fakeSource {
	return &fakeSource{root: root, entries: entries}
}

func (f *fakeSource) Root() string { return f.root }

func (f *fakeSource) GetStatus(ctx context.Context, limit int) (*cvs.StatusResult, error) {
	f.mu.Lock()
	f.calls++
	entries, hit, err, delay := f.entries, f.hit, f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, process.Cancelled("status", ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}
	return &cvs.StatusResult{Entries: append([]cvs.FileStatus(nil), entries...), DidHitLimit: hit}, nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSource) SetErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// dirWorkspace lists real directories.
type dirWorkspace struct {
	roots []string
}

func (w dirWorkspace) Roots() []string { return w.roots }

func (w dirWorkspace) ReadDir(path string) ([]fs.DirEntry, error) { return os.ReadDir(path) }

type disabledPaths map[string]bool

func (d disabledPaths) Enabled(path string) bool { return !d[path] }

// fakeFactory builds repositories around fake sources and remembers them.
type fakeFactory struct {
	mu      sync.Mutex
	calls   int
	sources map[string]*fakeSource
	err     error
	delay   time.Duration
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{sources: make(map[string]*fakeSource)}
}

func (f *fakeFactory) Build(ctx context.Context, root string) (*Repository, error) {
	f.mu.Lock()
	f.calls++
	err, delay := f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	src := newFakeSource(root)
	f.mu.Lock()
	f.sources[root] = src
	f.mu.Unlock()
	return NewRepository(src), nil
}

func (f *fakeFactory) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFactory) Source(root string) *fakeSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sources[root]
}

// mkRoot creates a temp directory, with a CVS marker when marked is set.
func mkRoot(t *testing.T, marked bool) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	if marked {
		require.NoError(t, os.Mkdir(filepath.Join(dir, MarkerDir), 0o755))
	}
	return dir
}

// newScriptRepository builds a Repository backed by a shell script client.
func newScriptRepository(t *testing.T, body string, opts ...RepositoryOption) *Repository {
	t.Helper()
	repo, _ := newScriptRepositoryRunner(t, body, opts...)
	return repo
}

func newScriptRepositoryRunner(t *testing.T, body string, opts ...RepositoryOption) (*Repository, *process.Runner) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake client scripts require /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "fakecvs")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))

	runner := process.NewRunner(path)
	t.Cleanup(func() { runner.Shutdown(0) })
	client := cvs.NewClient(cvs.ClientInfo{Path: path}, runner, cvs.WithStatusArgs("-n", "-q", "update"))
	return NewRepository(client.Open(mkRoot(t, true)), opts...), runner
}
