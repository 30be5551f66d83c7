package integration

import "errors"

// Sentinel errors for the integration package.
var (
	// ErrManagerClosed is returned when operations are attempted on a closed manager.
	ErrManagerClosed = errors.New("integration manager is closed")

	// ErrInvalidConfiguration is returned when a required collaborator is missing.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrNoWatcher is returned by Watch when the manager has no watcher.
	ErrNoWatcher = errors.New("file watching is disabled")
)
