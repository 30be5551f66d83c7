package scm

import "errors"

// Error types for scm operations.
var (
	// ErrInvalidState indicates an operation was attempted on a repository
	// that is not idle.
	ErrInvalidState = errors.New("repository is not idle")

	// ErrNoFactory indicates a registry was configured without a factory.
	ErrNoFactory = errors.New("registry requires a repository factory")
)
