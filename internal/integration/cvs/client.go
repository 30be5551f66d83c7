package cvs

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dshills/cvsbridge/internal/integration/process"
	"github.com/rs/zerolog"
)

// ClientInfo identifies a discovered client binary.
type ClientInfo struct {
	Path    string
	Version string
}

// Client runs the CVS client on behalf of working copies.
type Client struct {
	info       ClientInfo
	runner     *process.Runner
	encoding   string
	statusArgs []string
	logger     zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithEncoding sets the charset used to decode client output.
func WithEncoding(charset string) ClientOption {
	return func(c *Client) {
		c.encoding = charset
	}
}

// DefaultStatusArgs run a dry-run quiet update, which reports one
// "<code> <path>" line per changed file on stdout.
var DefaultStatusArgs = []string{"-n", "-q", "update"}

// WithStatusArgs sets the arguments of the status command used by opened
// repositories, e.g. "status". The default is DefaultStatusArgs.
func WithStatusArgs(args ...string) ClientOption {
	return func(c *Client) {
		if len(args) > 0 {
			c.statusArgs = append([]string(nil), args...)
		}
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With().Str("component", "cvs").Logger()
	}
}

// NewClient creates a client running info.Path through runner.
func NewClient(info ClientInfo, runner *process.Runner, opts ...ClientOption) *Client {
	c := &Client{
		info:       info,
		runner:     runner,
		statusArgs: append([]string(nil), DefaultStatusArgs...),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Info returns the client binary description.
func (c *Client) Info() ClientInfo {
	return c.info
}

// Runner returns the runner executing the client.
func (c *Client) Runner() *process.Runner {
	return c.runner
}

// Open returns a handle for the working copy at root. It does not touch
// the filesystem.
func (c *Client) Open(root string) *Repository {
	return newRepository(c, root)
}

// ExecOption adjusts a single request.
type ExecOption func(*process.Request)

// Quiet keeps stderr out of the output sink.
func Quiet() ExecOption {
	return func(r *process.Request) {
		r.Quiet = true
	}
}

// WithRequestEnv adds environment variables for one request.
func WithRequestEnv(env ...string) ExecOption {
	return func(r *process.Request) {
		r.Env = append(r.Env, env...)
	}
}

func (c *Client) request(dir string, args []string, opts []ExecOption) process.Request {
	req := process.Request{
		Dir:      dir,
		Args:     args,
		Encoding: c.encoding,
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// Exec runs the client in dir to completion.
func (c *Client) Exec(ctx context.Context, dir string, args []string, opts ...ExecOption) (*process.Result, error) {
	return c.runner.Exec(ctx, c.request(dir, args, opts))
}

// Stream starts the client in dir and returns the running process.
func (c *Client) Stream(ctx context.Context, dir string, args []string, opts ...ExecOption) (*process.Process, error) {
	return c.runner.Spawn(ctx, c.request(dir, args, opts))
}

// Init creates a repository at root by running "cvs init" with CVSROOT set
// to root. It returns once the client has finished.
func (c *Client) Init(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", abs, err)
	}
	if _, err := c.Exec(ctx, abs, []string{"init"}, WithRequestEnv("CVSROOT="+abs)); err != nil {
		return err
	}
	c.logger.Info().Str("root", abs).Msg("repository initialized")
	return nil
}

// RepositoryRoot returns the CVSROOT the working copy at dir points at,
// read from the first line of dir/CVS/Root.
func (c *Client) RepositoryRoot(dir string) (string, error) {
	return readAdminFile(dir, "Root")
}

// ModulePath returns the repository directory the working copy at dir
// mirrors, read from the first line of dir/CVS/Repository. It is usually
// relative to the CVSROOT directory.
func (c *Client) ModulePath(dir string) (string, error) {
	return readAdminFile(dir, "Repository")
}

// readAdminFile returns the first line of dir/CVS/name.
func readAdminFile(dir, name string) (string, error) {
	f, err := os.Open(filepath.Join(dir, "CVS", name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", dir, ErrNotRepository)
		}
		return "", fmt.Errorf("read CVS/%s: %w", name, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read CVS/%s: %w", name, err)
	}
	return "", fmt.Errorf("%s: empty CVS/%s: %w", dir, name, ErrNotRepository)
}

// RootDirectory returns the repository directory of a CVSROOT string:
// "/cvsroot" for ":pserver:anon@host:2401/cvsroot", ":local:/cvsroot" or
// "/cvsroot". It returns "" when root names no directory.
func RootDirectory(root string) string {
	i := strings.IndexByte(root, '/')
	if i < 0 {
		return ""
	}
	return path.Clean(root[i:])
}
