package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// DefaultWaitDelay bounds how long a finished or killed client may keep its
// output pipes open through inherited descriptors.
const DefaultWaitDelay = 2 * time.Second

// Request describes one client invocation.
type Request struct {
	// Dir is the working directory.
	Dir string
	// Args are passed to the client: global options, then the subcommand
	// and its arguments.
	Args []string
	// Stdin is written to the client's stdin. Empty means no input.
	Stdin string
	// Encoding names the charset of stdout. Unknown names mean UTF-8.
	Encoding string
	// Quiet suppresses copying stderr to the output sink.
	Quiet bool
	// Env is appended to the runner's environment.
	Env []string
}

func (r Request) command() string {
	for i := 0; i < len(r.Args); i++ {
		arg := r.Args[i]
		if !strings.HasPrefix(arg, "-") {
			return arg
		}
		// -d, -e, -s, -T and -z take a value, attached or separate.
		if len(arg) == 2 && strings.IndexByte("desTz", arg[1]) >= 0 {
			i++
		}
	}
	return ""
}

// Result is the outcome of a completed invocation.
type Result struct {
	ExitCode  int
	Stdout    string
	RawStdout []byte
	Stderr    string
}

// OutputSink receives human-readable lines about client invocations.
type OutputSink interface {
	AppendLine(line string)
}

// Runner runs a client binary.
type Runner struct {
	path       string
	env        []string
	waitDelay  time.Duration
	sink       OutputSink
	logger     zerolog.Logger
	supervisor *Supervisor

	active atomic.Int64
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithOutputSink sets where stderr and failures are reported.
func WithOutputSink(sink OutputSink) RunnerOption {
	return func(r *Runner) {
		r.sink = sink
	}
}

// WithLogger sets the runner's logger.
func WithLogger(logger zerolog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger.With().Str("component", "process").Logger()
	}
}

// WithEnv sets extra environment variables for every invocation.
func WithEnv(env ...string) RunnerOption {
	return func(r *Runner) {
		r.env = append(r.env, env...)
	}
}

// NewRunner creates a runner for the binary at path.
func NewRunner(path string, opts ...RunnerOption) *Runner {
	r := &Runner{
		path:      path,
		waitDelay: DefaultWaitDelay,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.supervisor = NewSupervisor(OnExit(r.logExit))
	return r
}

func (r *Runner) logExit(p *Process) {
	r.logger.Debug().
		Str("command", p.Name).
		Int("pid", p.PID()).
		Int("exitCode", p.ExitCode()).
		Bool("killed", p.State() == StateKilled).
		Dur("runtime", p.Runtime()).
		Msg("exit")
}

// Active returns the number of invocations in flight: Exec calls that have
// not returned plus spawned processes that have not exited.
func (r *Runner) Active() int {
	return int(r.active.Load())
}

// Shutdown terminates all running client processes.
func (r *Runner) Shutdown(timeout time.Duration) {
	r.supervisor.Shutdown(timeout)
}

// Spawn starts the client and returns immediately. The process is killed
// if ctx ends before it exits.
func (r *Runner) Spawn(ctx context.Context, req Request) (*Process, error) {
	proc, err := r.start(ctx, req)
	if err != nil {
		return nil, err
	}
	r.active.Add(1)
	go func() {
		<-proc.Done()
		r.active.Add(-1)
	}()
	return proc, nil
}

// Exec runs the client to completion.
//
// It returns once the process has exited and its stdout and stderr have
// both been drained. A non-zero exit is returned as an *Error of kind
// KindExecutionFailed. If ctx ends first the process is killed and an
// *Error of kind KindCancelled is returned.
func (r *Runner) Exec(ctx context.Context, req Request) (*Result, error) {
	r.active.Add(1)
	defer r.active.Add(-1)

	proc, err := r.start(ctx, req)
	if err != nil {
		return nil, err
	}

	var (
		stdout, stderr       []byte
		stdoutErr, stderrErr error
		wg                   sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		stdout, stdoutErr = io.ReadAll(proc.Stdout)
	}()
	go func() {
		defer wg.Done()
		stderr, stderrErr = io.ReadAll(proc.Stderr)
	}()

	joined := make(chan struct{})
	go func() {
		wg.Wait()
		<-proc.Done()
		close(joined)
	}()

	select {
	case <-joined:
	case <-ctx.Done():
		select {
		case <-joined:
			// Completed before cancellation was observed.
		default:
			if err := proc.Kill(); err != nil {
				r.logger.Debug().Err(err).Str("command", req.command()).Msg("kill failed")
			}
			_ = proc.Close()
			<-joined
			return nil, Cancelled(req.command(), ctx.Err())
		}
	}

	if stdoutErr != nil || stderrErr != nil {
		return nil, fmt.Errorf("read %s output: %w", req.command(), errors.Join(stdoutErr, stderrErr))
	}

	res := &Result{
		ExitCode:  proc.ExitCode(),
		RawStdout: stdout,
		Stdout:    Decode(stdout, req.Encoding),
		Stderr:    string(stderr),
	}

	if !req.Quiet && res.Stderr != "" {
		r.output(res.Stderr)
	}

	if res.ExitCode != 0 {
		r.output(fmt.Sprintf("> %s %s: exit code %d", r.path, strings.Join(req.Args, " "), res.ExitCode))
		r.logger.Debug().
			Str("command", req.command()).
			Int("exitCode", res.ExitCode).
			Msg("client failed")
		return nil, &Error{
			Kind:     KindExecutionFailed,
			Message:  "Failed to execute cvs",
			Command:  req.command(),
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		}
	}

	return res, nil
}

// start validates the request and starts the process under the supervisor.
func (r *Runner) start(ctx context.Context, req Request) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, Cancelled(req.command(), err)
	}
	if r.path == "" {
		return nil, &Error{
			Kind:    KindSpawnNotFound,
			Message: "cvs could not be found in the system",
			Command: req.command(),
		}
	}

	cmd := exec.CommandContext(ctx, r.path, req.Args...)
	cmd.Dir = req.Dir
	cmd.WaitDelay = r.waitDelay
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killGroup(cmd.Process)
	}
	if len(r.env) > 0 || len(req.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.env...)
		cmd.Env = append(cmd.Env, req.Env...)
	}
	if req.Stdin != "" {
		cmd.Stdin = strings.NewReader(req.Stdin)
	}

	r.logger.Debug().
		Str("dir", req.Dir).
		Strs("args", req.Args).
		Msg("spawn")

	proc, err := r.supervisor.Start(req.command(), cmd)
	if err != nil {
		return nil, r.classifyStartError(ctx, req, err)
	}
	return proc, nil
}

func (r *Runner) classifyStartError(ctx context.Context, req Request, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Cancelled(req.command(), ctxErr)
	}
	if isNotFound(err) {
		r.output(fmt.Sprintf("> %s: %v", r.path, err))
		return &Error{
			Kind:    KindSpawnNotFound,
			Message: "Failed to execute cvs (ENOENT)",
			Command: req.command(),
			Err:     err,
		}
	}
	return fmt.Errorf("start %s: %w", req.command(), err)
}

// isNotFound reports whether a start error means the binary is missing or
// cannot be executed.
func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission)
}

func (r *Runner) output(text string) {
	if r.sink == nil {
		return
	}
	r.sink.AppendLine(strings.TrimRight(text, "\n"))
}

// Decode converts raw client output to a string using the named charset.
// Empty, unknown or undecodable input falls back to treating raw as UTF-8.
func Decode(raw []byte, charset string) string {
	enc := lookupEncoding(charset)
	if enc == nil {
		return string(raw)
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// DecodeReader wraps r so that it yields UTF-8 converted from charset.
// Unknown or UTF-8 charsets return r unchanged.
func DecodeReader(r io.Reader, charset string) io.Reader {
	enc := lookupEncoding(charset)
	if enc == nil {
		return r
	}
	return transform.NewReader(r, enc.NewDecoder())
}

func lookupEncoding(charset string) encoding.Encoding {
	charset = strings.TrimSpace(charset)
	if charset == "" {
		return nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return nil
	}
	return enc
}
