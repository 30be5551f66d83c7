package sched

import "errors"

// ErrTaskPanicked is returned to the callers of a shared run whose task panicked.
var ErrTaskPanicked = errors.New("task panicked")
