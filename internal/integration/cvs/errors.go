package cvs

import (
	"errors"
	"strings"

	"github.com/dshills/cvsbridge/internal/integration/process"
)

// Error types for cvs operations.
var (
	// ErrClientNotFound indicates no usable client binary was found.
	ErrClientNotFound = errors.New("cvs installation not found")

	// ErrNotRepository indicates the directory is not a CVS working copy.
	ErrNotRepository = errors.New("not a cvs working copy")
)

var notRepositoryMarkers = []string{
	"there is no version here",
	"no cvsroot specified",
	"no repository",
	"cannot open cvs/root",
	"cannot open cvs/entries",
}

var lockedMarkers = []string{
	"waiting for",
	"failed to obtain dir lock",
	"failed to create lock directory",
}

// IsNotRepository reports whether err shows that the directory is no longer
// a working copy the client can use.
func IsNotRepository(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotRepository) {
		return true
	}
	return stderrContains(err, notRepositoryMarkers)
}

// IsLocked reports whether err was caused by another client holding a
// repository lock.
func IsLocked(err error) bool {
	if err == nil {
		return false
	}
	if !stderrContains(err, lockedMarkers) {
		return false
	}
	perr, _ := process.AsError(err)
	return strings.Contains(strings.ToLower(perr.Stderr), "lock")
}

func stderrContains(err error, markers []string) bool {
	perr, ok := process.AsError(err)
	if !ok || perr.Kind != process.KindExecutionFailed {
		return false
	}
	stderr := strings.ToLower(perr.Stderr)
	for _, m := range markers {
		if strings.Contains(stderr, m) {
			return true
		}
	}
	return false
}
