package cvs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/dshills/cvsbridge/internal/integration/process"
	"github.com/dshills/cvsbridge/internal/integration/sched"
)

// DefaultStatusLimit caps the number of entries GetStatus returns.
const DefaultStatusLimit = 5000

// statusCommand names the status invocation in errors, whatever arguments
// are configured.
const statusCommand = "status"

// Repository is a working copy root.
type Repository struct {
	client *Client
	root   string

	cvsRoot *sched.Memoized[string]
}

func newRepository(c *Client, root string) *Repository {
	r := &Repository{client: c, root: root}
	r.cvsRoot = sched.NewMemoized(func(ctx context.Context) (string, error) {
		return c.RepositoryRoot(root)
	})
	return r
}

// Root returns the working copy root directory.
func (r *Repository) Root() string {
	return r.root
}

// CVSRoot returns the CVSROOT of the working copy. The value is read once.
func (r *Repository) CVSRoot(ctx context.Context) (string, error) {
	return r.cvsRoot.Get(ctx)
}

// RepositoryDir returns the directory the working copy root mirrors in the
// repository, such as /cvsroot/proj for CVS/Root ":pserver:host:/cvsroot"
// and CVS/Repository "proj".
func (r *Repository) RepositoryDir(ctx context.Context) (string, error) {
	module, err := r.client.ModulePath(r.root)
	if err != nil {
		return "", err
	}
	if path.IsAbs(module) {
		return path.Clean(module), nil
	}
	root, err := r.CVSRoot(ctx)
	if err != nil {
		return "", err
	}
	dir := RootDirectory(root)
	if dir == "" {
		return "", fmt.Errorf("%s: no directory in CVSROOT %q", r.root, root)
	}
	return path.Join(dir, module), nil
}

// Exec runs the client in the repository root.
func (r *Repository) Exec(ctx context.Context, args []string, opts ...ExecOption) (*process.Result, error) {
	return r.client.Exec(ctx, r.root, args, opts...)
}

// Stream starts the client in the repository root.
func (r *Repository) Stream(ctx context.Context, args []string, opts ...ExecOption) (*process.Process, error) {
	return r.client.Stream(ctx, r.root, args, opts...)
}

// GetStatus runs the status command and parses its output as it arrives.
//
// A limit <= 0 means DefaultStatusLimit. Once more than limit entries have
// been parsed the client is killed and the first limit entries are returned
// with DidHitLimit set. A non-zero exit otherwise fails with a
// *process.Error of kind process.KindExecutionFailed for command "status".
func (r *Repository) GetStatus(ctx context.Context, limit int) (*StatusResult, error) {
	if limit <= 0 {
		limit = DefaultStatusLimit
	}

	parser := r.newStatusParser(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	proc, err := r.Stream(ctx, r.client.statusArgs, Quiet())
	if err != nil {
		return nil, err
	}
	defer proc.Close()

	var stderr strings.Builder
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		_, _ = io.Copy(&stderr, proc.Stderr)
	}()

	stdout := process.DecodeReader(proc.Stdout, r.client.encoding)
	buf := make([]byte, 32*1024)
	hitLimit := false

	for !hitLimit {
		n, rerr := stdout.Read(buf)
		if n > 0 {
			parser.Update(string(buf[:n]))
			hitLimit = parser.Len() > limit
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) && ctx.Err() == nil {
				r.client.logger.Debug().Err(rerr).Str("root", r.root).Msg("status output interrupted")
			}
			break
		}
	}
	if !hitLimit {
		parser.Flush()
		hitLimit = parser.Len() > limit
	}

	if hitLimit {
		_ = proc.Kill()
		_ = proc.Close()
		<-stderrDone
		<-proc.Done()
		entries := append([]FileStatus(nil), parser.Status()[:limit]...)
		return &StatusResult{Entries: entries, DidHitLimit: true}, nil
	}

	<-stderrDone
	code, _ := proc.Wait()

	if err := ctx.Err(); err != nil {
		return nil, process.Cancelled(statusCommand, err)
	}
	if code != 0 {
		return nil, &process.Error{
			Kind:     process.KindExecutionFailed,
			Message:  "Failed to execute cvs",
			Command:  statusCommand,
			ExitCode: code,
			Stderr:   stderr.String(),
		}
	}

	return &StatusResult{Entries: append([]FileStatus(nil), parser.Status()...)}, nil
}

func (r *Repository) newStatusParser(ctx context.Context) *StatusParser {
	dir, err := r.RepositoryDir(ctx)
	if err != nil {
		r.client.logger.Debug().Err(err).Str("root", r.root).Msg("repository directory unknown")
		return NewStatusParser()
	}
	return NewStatusParser(WithRepositoryDir(dir))
}
