package process

import (
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Supervisor tracks the client processes started by a Runner so they can be
// stopped together when the runner shuts down.
//
// Supervisor is safe for concurrent use.
type Supervisor struct {
	mu      sync.Mutex
	running map[string]*Process
	closed  bool

	// monitors counts processes whose exit has not been handled yet.
	monitors sync.WaitGroup

	onExit func(*Process)
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// OnExit registers fn to run once for every tracked process after it has
// exited and been untracked. A panic in fn is recovered.
func OnExit(fn func(*Process)) SupervisorOption {
	return func(s *Supervisor) {
		s.onExit = fn
	}
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{running: make(map[string]*Process)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts cmd as a tracked process named after the client subcommand.
// The command's stdout and stderr are replaced with pipes readable through
// the returned Process.
//
// Start errors are returned unwrapped so callers can classify them.
func (s *Supervisor) Start(name string, cmd *exec.Cmd) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSupervisorShutdown
	}

	proc := newProcess(uuid.NewString(), name, cmd)
	if err := proc.start(); err != nil {
		return nil, err
	}

	s.running[proc.ID] = proc
	s.monitors.Add(1)
	go s.monitor(proc)
	return proc, nil
}

func (s *Supervisor) monitor(proc *Process) {
	defer s.monitors.Done()
	<-proc.Done()

	s.mu.Lock()
	delete(s.running, proc.ID)
	s.mu.Unlock()

	if s.onExit != nil {
		func() {
			defer func() { _ = recover() }()
			s.onExit(proc)
		}()
	}
}

// Running returns the processes that have not exited yet.
func (s *Supervisor) Running() []*Process {
	s.mu.Lock()
	defer s.mu.Unlock()

	procs := make([]*Process, 0, len(s.running))
	for _, p := range s.running {
		procs = append(procs, p)
	}
	return procs
}

// Count returns the number of processes that have not exited yet.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Shutdown stops every tracked process and refuses new ones.
//
// Running processes get SIGTERM and up to timeout to exit before they are
// killed. Shutdown returns once every process has exited and its exit has
// been handled. Later Start calls fail with ErrSupervisorShutdown.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.monitors.Wait()
		return
	}
	s.closed = true
	s.mu.Unlock()

	procs := s.Running()
	for _, p := range procs {
		_ = p.Terminate()
	}
	if !waitExited(procs, timeout) {
		for _, p := range procs {
			_ = p.Kill()
		}
	}
	s.monitors.Wait()
}

// waitExited reports whether every process in procs exited within timeout.
func waitExited(procs []*Process, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for _, p := range procs {
		select {
		case <-p.Done():
		case <-timer.C:
			return false
		}
	}
	return true
}
