package scm

import "sync"

// Operation names a category of repository command.
type Operation string

// Known operations.
const (
	OperationStatus Operation = "Status"
)

// OperationPolicy classifies an operation.
type OperationPolicy struct {
	// ReadOnly operations leave the repository idle and skip the model
	// refresh after they run.
	ReadOnly bool

	// ShowProgress operations should be surfaced as busy.
	ShowProgress bool
}

// defaultPolicy applies to operations missing from operationPolicies.
var defaultPolicy = OperationPolicy{ReadOnly: false, ShowProgress: true}

var operationPolicies = map[Operation]OperationPolicy{
	OperationStatus: {ReadOnly: false, ShowProgress: true},
}

// PolicyFor returns the policy of op.
func PolicyFor(op Operation) OperationPolicy {
	if p, ok := operationPolicies[op]; ok {
		return p
	}
	return defaultPolicy
}

// Operations counts in-flight operations. It is safe for concurrent use.
type Operations struct {
	mu     sync.Mutex
	counts map[Operation]int
}

// NewOperations creates an empty set.
func NewOperations() *Operations {
	return &Operations{counts: make(map[Operation]int)}
}

// Start records one more running instance of op.
func (o *Operations) Start(op Operation) {
	o.mu.Lock()
	o.counts[op]++
	o.mu.Unlock()
}

// End records that one instance of op finished. Ending an operation that
// is not running is a no-op.
func (o *Operations) End(op Operation) {
	o.mu.Lock()
	defer o.mu.Unlock()

	n, ok := o.counts[op]
	if !ok {
		return
	}
	if n <= 1 {
		delete(o.counts, op)
		return
	}
	o.counts[op] = n - 1
}

// IsRunning reports whether any instance of op is running.
func (o *Operations) IsRunning(op Operation) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[op] > 0
}

// Count returns the number of running instances of op.
func (o *Operations) Count(op Operation) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[op]
}

// IsIdle reports whether every running operation is read-only.
func (o *Operations) IsIdle() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for op := range o.counts {
		if !PolicyFor(op).ReadOnly {
			return false
		}
	}
	return true
}

// ShouldShowProgress reports whether any running operation shows progress.
func (o *Operations) ShouldShowProgress() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for op := range o.counts {
		if PolicyFor(op).ShowProgress {
			return true
		}
	}
	return false
}
