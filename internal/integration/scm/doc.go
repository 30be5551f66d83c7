// Package scm keeps an in-memory model of CVS working copies in sync with
// the filesystem.
//
// # Architecture
//
//   - Registry: discovers working copies under the workspace roots, opens at
//     most one Repository per root and republishes repository events
//   - Repository: per working copy state machine (Idle, Disposed) that runs
//     operations, tracks them in an Operations set and refreshes the
//     working-tree resource list after every mutating operation
//   - Operations: counts in-flight operations and answers idle/progress
//     queries from a static policy table
//   - ChangeNotifier: debounces change notifications and refreshes the
//     affected repositories in one throttled pass
//
// # Usage
//
//	reg, err := scm.NewRegistry(ctx, scm.RegistryConfig{
//	    Workspace: ws,
//	    Factory:   factory,
//	})
//	defer reg.Dispose()
//
//	reg.OnDidOpenRepository().Subscribe(func(r *scm.Repository) {
//	    fmt.Println("opened", r.Root())
//	})
//
//	if repo := reg.GetRepository("/ws/proj/src/main.c"); repo != nil {
//	    err := repo.Status(ctx)
//	    ...
//	}
//
// # Concurrency
//
// TryOpenRepository calls are serialized in arrival order. Concurrent
// Status calls on one repository share a single refresh. Event handlers run
// synchronously on the goroutine that fired the event and must not block.
package scm
