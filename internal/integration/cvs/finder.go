package cvs

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/dshills/cvsbridge/internal/integration/process"
)

// DefaultClientName is looked up on PATH when no path is configured.
const DefaultClientName = "cvs"

// versionTimeout bounds the "--version" check in Find.
const versionTimeout = 10 * time.Second

var versionRe = regexp.MustCompile(`\d+\.\d+\.\d+`)

// Finder locates the client binary.
type Finder struct {
	path string
}

// FinderOption configures a Finder.
type FinderOption func(*Finder)

// WithClientPath uses path instead of searching PATH. A bare name is still
// resolved through PATH.
func WithClientPath(path string) FinderOption {
	return func(f *Finder) {
		f.path = path
	}
}

// NewFinder creates a finder.
func NewFinder(opts ...FinderOption) *Finder {
	f := &Finder{path: DefaultClientName}
	for _, opt := range opts {
		opt(f)
	}
	if f.path == "" {
		f.path = DefaultClientName
	}
	return f
}

// Find resolves the binary and checks that it runs. Every failure wraps
// ErrClientNotFound.
func (f *Finder) Find(ctx context.Context) (ClientInfo, error) {
	path, err := exec.LookPath(f.path)
	if err != nil {
		return ClientInfo{}, fmt.Errorf("%w: %v", ErrClientNotFound, err)
	}

	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	res, err := process.NewRunner(path).Exec(ctx, process.Request{
		Args:  []string{"--version"},
		Quiet: true,
	})
	if err != nil {
		return ClientInfo{}, fmt.Errorf("%w: %s --version: %v", ErrClientNotFound, path, err)
	}

	return ClientInfo{Path: path, Version: ParseVersion(res.Stdout)}, nil
}

// ParseVersion extracts a dotted version number from "--version" output,
// falling back to the first line.
func ParseVersion(raw string) string {
	if v := versionRe.FindString(raw); v != "" {
		return v
	}
	raw = strings.TrimSpace(raw)
	if i := strings.IndexAny(raw, "\r\n"); i >= 0 {
		return raw[:i]
	}
	return raw
}
