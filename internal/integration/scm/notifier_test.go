package scm

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type uriRecorder struct {
	mu   sync.Mutex
	uris []URI
}

func (r *uriRecorder) record(u URI) {
	r.mu.Lock()
	r.uris = append(r.uris, u)
	r.mu.Unlock()
}

func (r *uriRecorder) get() []URI {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]URI(nil), r.uris...)
}

func TestChangeNotifier_DebouncesBursts(t *testing.T) {
	root := mkRoot(t, true)
	other := mkRoot(t, true)
	factory := newFakeFactory()
	reg := newTestRegistry(t, RegistryConfig{
		Workspace: dirWorkspace{roots: []string{root, other}},
		Factory:   factory.Build,
	})

	n := NewChangeNotifier(reg, WithDebounce(30*time.Millisecond))
	defer n.Close()

	rec := &uriRecorder{}
	n.OnDidChange().Subscribe(rec.record)

	tracked := FileURI(filepath.Join(root, "a.txt"))
	elsewhere := FileURI(filepath.Join(other, "b.txt"))
	n.Track(tracked)
	n.Track(elsewhere)

	repo := reg.GetRepository(root)
	require.NotNil(t, repo)
	for i := 0; i < 10; i++ {
		repo.NotifyChange(FileURI(filepath.Join(root, "a.txt")))
	}

	require.Eventually(t, func() bool { return len(rec.get()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, []URI{tracked}, rec.get())
	assert.Equal(t, 1, factory.Source(root).Calls())
	assert.Equal(t, 0, factory.Source(other).Calls())
}

func TestChangeNotifier_Flush(t *testing.T) {
	root := mkRoot(t, true)
	factory := newFakeFactory()
	reg := newTestRegistry(t, RegistryConfig{
		Workspace: dirWorkspace{roots: []string{root}},
		Factory:   factory.Build,
	})

	n := NewChangeNotifier(reg, WithDebounce(time.Hour))
	defer n.Close()

	rec := &uriRecorder{}
	n.OnDidChange().Subscribe(rec.record)
	uri := FileURI(filepath.Join(root, "x"))
	n.Track(uri)

	reg.GetRepository(root).NotifyChange(uri)
	n.Flush()

	assert.Equal(t, []URI{uri}, rec.get())
	assert.Equal(t, 1, factory.Source(root).Calls())
}

func TestChangeNotifier_UntrackAndDisposedRepository(t *testing.T) {
	root := mkRoot(t, true)
	factory := newFakeFactory()
	reg := newTestRegistry(t, RegistryConfig{
		Workspace: dirWorkspace{roots: []string{root}},
		Factory:   factory.Build,
	})

	n := NewChangeNotifier(reg, WithDebounce(time.Hour))
	defer n.Close()

	rec := &uriRecorder{}
	n.OnDidChange().Subscribe(rec.record)
	uri := FileURI(filepath.Join(root, "x"))
	n.Track(uri)
	n.Untrack(uri)

	repo := reg.GetRepository(root)
	repo.NotifyChange(uri)
	n.Flush()
	assert.Empty(t, rec.get())
	assert.Equal(t, 1, factory.Source(root).Calls())

	n.Track(uri)
	repo.NotifyChange(uri)
	repo.Dispose()
	n.Flush()
	assert.Empty(t, rec.get(), "closed repositories are skipped")
}

func TestChangeNotifier_Close(t *testing.T) {
	root := mkRoot(t, true)
	factory := newFakeFactory()
	reg := newTestRegistry(t, RegistryConfig{
		Workspace: dirWorkspace{roots: []string{root}},
		Factory:   factory.Build,
	})

	n := NewChangeNotifier(reg, WithDebounce(10*time.Millisecond), WithCleanupInterval(time.Millisecond))
	n.Close()

	reg.GetRepository(root).NotifyChange(FileURI(root))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, factory.Source(root).Calls())
}
