package process

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// State represents the state of a process.
type State int

const (
	// StateCreated indicates the process has been created but not started.
	StateCreated State = iota
	// StateRunning indicates the process is currently running.
	StateRunning
	// StateExited indicates the process has exited normally or with an error.
	StateExited
	// StateKilled indicates the process was killed by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Process is a running client invocation.
//
// Stdout and Stderr deliver the client's output and report io.EOF once
// the process has exited and all of its output has been read. A caller
// that stops reading early must call Close so the process can be reaped.
type Process struct {
	// ID is the unique identifier assigned by the Supervisor.
	ID string

	// Name is the client subcommand, used in logs and errors.
	Name string

	// Cmd is the underlying exec.Cmd.
	Cmd *exec.Cmd

	// Stdout provides read access to the process's stdout.
	Stdout io.ReadCloser

	// Stderr provides read access to the process's stderr.
	Stderr io.ReadCloser

	// Started is the time the process was started.
	Started time.Time

	stdoutW *io.PipeWriter
	stderrW *io.PipeWriter

	done     chan struct{}
	state    atomic.Int32
	exitCode atomic.Int32

	mu      sync.RWMutex
	exitErr error
	ended   time.Time

	waitOnce  sync.Once
	closeOnce sync.Once
}

// newProcess wires cmd's output to in-memory pipes. The command must not
// have been started.
func newProcess(id, name string, cmd *exec.Cmd) *Process {
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	p := &Process{
		ID:      id,
		Name:    name,
		Cmd:     cmd,
		Stdout:  stdoutR,
		Stderr:  stderrR,
		stdoutW: stdoutW,
		stderrW: stderrW,
		done:    make(chan struct{}),
	}
	p.state.Store(int32(StateCreated))
	p.exitCode.Store(-1)
	return p
}

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// ExitCode returns the process exit code.
// Returns -1 if the process has not exited or was killed.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// ExitError returns the error from waiting on the process.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Done returns a channel that is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning returns true if the process is currently running.
func (p *Process) IsRunning() bool {
	return p.State() == StateRunning
}

// PID returns the process ID, or -1 if not started.
func (p *Process) PID() int {
	if p.Cmd.Process == nil {
		return -1
	}
	return p.Cmd.Process.Pid
}

// Kill sends SIGKILL to the process group.
func (p *Process) Kill() error {
	if !p.IsRunning() {
		return nil
	}
	return killGroup(p.Cmd.Process)
}

// Terminate sends SIGTERM to the process group.
func (p *Process) Terminate() error {
	if !p.IsRunning() {
		return nil
	}
	return terminateGroup(p.Cmd.Process)
}

// Wait blocks until the process exits and returns its exit code.
func (p *Process) Wait() (int, error) {
	<-p.done
	return p.ExitCode(), p.ExitError()
}

// Close stops delivery of output. Pending and future reads of Stdout and
// Stderr fail with io.ErrClosedPipe. It does not kill the process.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		_ = p.Stdout.Close()
		_ = p.Stderr.Close()
	})
	return nil
}

// Runtime returns how long the process has been running, or ran in total
// once it has exited.
func (p *Process) Runtime() time.Duration {
	if p.Started.IsZero() {
		return 0
	}
	p.mu.RLock()
	ended := p.ended
	p.mu.RUnlock()
	if !ended.IsZero() {
		return ended.Sub(p.Started)
	}
	return time.Since(p.Started)
}

// start starts the process and begins tracking it.
func (p *Process) start() error {
	if p.State() != StateCreated {
		return ErrProcessAlreadyStarted
	}

	if err := p.Cmd.Start(); err != nil {
		p.stdoutW.CloseWithError(err)
		p.stderrW.CloseWithError(err)
		return err
	}

	p.Started = time.Now()
	p.state.Store(int32(StateRunning))

	go p.waitLoop()

	return nil
}

// waitLoop waits for the process to exit, then ends both output streams.
func (p *Process) waitLoop() {
	p.waitOnce.Do(func() {
		err := p.Cmd.Wait()

		exitCode := 0
		state := StateExited

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
				if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
					state = StateKilled
				}
			} else {
				// Output copying failed or the context killed the process.
				exitCode = -1
				if p.Cmd.ProcessState != nil {
					exitCode = p.Cmd.ProcessState.ExitCode()
					if status, ok := p.Cmd.ProcessState.Sys().(syscall.WaitStatus); ok && status.Signaled() {
						state = StateKilled
					}
				}
			}
		}

		p.mu.Lock()
		p.exitErr = err
		p.ended = time.Now()
		p.mu.Unlock()

		p.exitCode.Store(int32(exitCode))
		p.state.Store(int32(state))

		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		close(p.done)
	})
}
