package process

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failed client invocation.
type Kind int

const (
	// KindSpawnNotFound means the client binary is missing or not executable.
	KindSpawnNotFound Kind = iota + 1
	// KindExecutionFailed means the client exited with a non-zero code.
	KindExecutionFailed
	// KindCancelled means the request's context ended first.
	KindCancelled
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindSpawnNotFound:
		return "spawn not found"
	case KindExecutionFailed:
		return "execution failed"
	case KindCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Sentinel errors matched by *Error through errors.Is.
var (
	// ErrSpawnNotFound is returned when the client binary cannot be started.
	ErrSpawnNotFound = errors.New("client binary not found")

	// ErrExecutionFailed is returned when the client exits with a non-zero code.
	ErrExecutionFailed = errors.New("client execution failed")

	// ErrCancelled is returned when a request is cancelled.
	ErrCancelled = errors.New("cancelled")
)

// Sentinel errors for process lifecycle management.
var (
	// ErrProcessNotStarted is returned when operations require a started process.
	ErrProcessNotStarted = errors.New("process not started")

	// ErrProcessAlreadyStarted is returned when trying to start an already running process.
	ErrProcessAlreadyStarted = errors.New("process already started")

	// ErrSupervisorShutdown is returned when the supervisor is shutting down.
	ErrSupervisorShutdown = errors.New("supervisor is shutting down")
)

// Error describes a failed client invocation.
type Error struct {
	Kind    Kind
	Message string

	// Command is the client subcommand, such as "update" for
	// "-n -q update".
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Command != "" {
		fmt.Fprintf(&b, " (command %q", e.Command)
		if e.Kind == KindExecutionFailed {
			fmt.Fprintf(&b, ", exit code %d", e.ExitCode)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		if i := strings.IndexByte(stderr, '\n'); i >= 0 {
			stderr = stderr[:i]
		}
		fmt.Fprintf(&b, ": %s", stderr)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrSpawnNotFound:
		return e.Kind == KindSpawnNotFound
	case ErrExecutionFailed:
		return e.Kind == KindExecutionFailed
	case ErrCancelled:
		return e.Kind == KindCancelled
	}
	return false
}

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

// Cancelled returns the error reported when a request for command is
// cancelled because of cause.
func Cancelled(command string, cause error) *Error {
	return &Error{
		Kind:    KindCancelled,
		Message: "Cancelled",
		Command: command,
		Err:     cause,
	}
}
