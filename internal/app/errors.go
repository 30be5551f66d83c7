package app

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dshills/cvsbridge/internal/integration/process"
)

// Application errors.
var (
	// ErrUnknownCommand indicates a command ID missing from the command table.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrMissingArgument indicates a command was invoked without a required
	// argument.
	ErrMissingArgument = errors.New("missing argument")

	// ErrClosed indicates the application has been closed.
	ErrClosed = errors.New("application closed")
)

// GenericHint is shown when an error carries no usable message.
const GenericHint = "CVS error"

// InitError reports a component that failed to start.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// CommandError is returned by CommandCenter.Execute when a handler fails.
type CommandError struct {
	ID string

	// Hint is a single line suitable for showing to a user.
	Hint string

	Err error
}

func (e *CommandError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.ID, e.Err)
}

func (e *CommandError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

var hintPrefix = regexp.MustCompile(`^(?:cvs(?: \w+)? \[\w+ aborted\]:|error:)\s*`)

// Hint reduces err to one line for a user. The client's stderr is tried
// first, then the error message; a client failure contributes its bare
// message without the command and exit code. The "cvs [x aborted]:" and
// "error:" prefixes are stripped and the first non-empty line wins.
// GenericHint is returned when neither yields a line.
func Hint(err error) string {
	if err == nil {
		return ""
	}

	candidates := []string{err.Error()}
	if perr, ok := process.AsError(err); ok {
		candidates = []string{perr.Stderr, perr.Message}
	}
	for _, text := range candidates {
		if line := firstHintLine(text); line != "" {
			return line
		}
	}
	return GenericHint
}

func firstHintLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(hintPrefix.ReplaceAllString(strings.TrimSpace(line), ""))
		if line != "" {
			return line
		}
	}
	return ""
}
