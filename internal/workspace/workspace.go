// Package workspace provides the set of folders whose repositories are
// tracked. It supports single-root and multi-root workspaces.
package workspace

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dshills/cvsbridge/internal/event"
)

// Common errors.
var (
	ErrFolderNotFound = errors.New("folder not found in workspace")
	ErrFolderExists   = errors.New("folder already in workspace")
	ErrInvalidPath    = errors.New("invalid folder path")
)

// Folder represents a single folder in the workspace.
type Folder struct {
	// Path is the absolute, cleaned local path.
	Path string
	// Name is the display name for the folder.
	Name string
}

// Workspace is a collection of root folders. It is safe for concurrent use.
type Workspace struct {
	mu      sync.RWMutex
	folders []Folder

	onDidAddFolder    event.Emitter[Folder]
	onDidRemoveFolder event.Emitter[Folder]
}

// New creates a workspace from root paths. Relative paths are resolved
// against the working directory; duplicates are dropped.
func New(paths ...string) (*Workspace, error) {
	w := &Workspace{}
	for _, p := range paths {
		folder, err := newFolder(p)
		if err != nil {
			return nil, err
		}
		if w.indexOf(folder.Path) >= 0 {
			continue
		}
		w.folders = append(w.folders, folder)
	}
	return w, nil
}

func newFolder(path string) (Folder, error) {
	if strings.TrimSpace(path) == "" {
		return Folder{}, ErrInvalidPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Folder{}, err
	}
	abs = filepath.Clean(abs)
	return Folder{Path: abs, Name: filepath.Base(abs)}, nil
}

// Roots returns all workspace root paths in order.
func (w *Workspace) Roots() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	roots := make([]string, len(w.folders))
	for i, f := range w.folders {
		roots[i] = f.Path
	}
	return roots
}

// Folders returns all workspace folders.
func (w *Workspace) Folders() []Folder {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Folder(nil), w.folders...)
}

// AddFolder adds a root folder and fires OnDidAddFolder.
func (w *Workspace) AddFolder(path string) (Folder, error) {
	folder, err := newFolder(path)
	if err != nil {
		return Folder{}, err
	}

	w.mu.Lock()
	if w.indexOf(folder.Path) >= 0 {
		w.mu.Unlock()
		return Folder{}, ErrFolderExists
	}
	w.folders = append(w.folders, folder)
	w.mu.Unlock()

	w.onDidAddFolder.Fire(folder)
	return folder, nil
}

// RemoveFolder removes a root folder and fires OnDidRemoveFolder.
func (w *Workspace) RemoveFolder(path string) error {
	folder, err := newFolder(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	i := w.indexOf(folder.Path)
	if i < 0 {
		w.mu.Unlock()
		return ErrFolderNotFound
	}
	folder = w.folders[i]
	w.folders = append(w.folders[:i:i], w.folders[i+1:]...)
	w.mu.Unlock()

	w.onDidRemoveFolder.Fire(folder)
	return nil
}

// ContainingFolder returns the innermost folder containing path.
func (w *Workspace) ContainingFolder(path string) (Folder, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Folder{}, false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	var best Folder
	found := false
	for _, f := range w.folders {
		rel, err := filepath.Rel(f.Path, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if !found || len(f.Path) > len(best.Path) {
			best, found = f, true
		}
	}
	return best, found
}

// IsRoot reports whether path is exactly one of the root folders.
func (w *Workspace) IsRoot(path string) bool {
	folder, err := newFolder(path)
	if err != nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.indexOf(folder.Path) >= 0
}

// ReadDir lists a directory.
func (w *Workspace) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(path)
}

// ReadFile reads a file.
func (w *Workspace) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// OnDidAddFolder fires after a folder is added.
func (w *Workspace) OnDidAddFolder() event.Source[Folder] {
	return &w.onDidAddFolder
}

// OnDidRemoveFolder fires after a folder is removed.
func (w *Workspace) OnDidRemoveFolder() event.Source[Folder] {
	return &w.onDidRemoveFolder
}

func (w *Workspace) indexOf(path string) int {
	for i, f := range w.folders {
		if f.Path == path {
			return i
		}
	}
	return -1
}
