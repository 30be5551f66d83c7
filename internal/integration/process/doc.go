// Package process runs the external version-control client as a child
// process.
//
// A Runner binds a client binary path to two ways of running it:
//
//   - Exec runs the client to completion and returns its exit code,
//     decoded stdout and stderr. It returns only after the process has
//     exited and both output streams have been drained.
//   - Spawn starts the client and hands back a Process whose Stdout and
//     Stderr can be read incrementally.
//
//	runner := process.NewRunner("/usr/bin/cvs", process.WithLogger(logger))
//	defer runner.Shutdown(5 * time.Second)
//
//	res, err := runner.Exec(ctx, process.Request{Dir: root, Args: []string{"status"}})
//	if errors.Is(err, process.ErrExecutionFailed) {
//	    // non-zero exit; err is a *process.Error carrying stderr
//	}
//
// # Cancellation
//
// Requests are cancelled through their context. A context that is already
// done fails the request with ErrCancelled before anything is spawned. A
// context cancelled while the client runs kills the client's process group
// and fails the request with ErrCancelled; all goroutines started for the
// request have exited by the time Exec returns.
//
// # Supervisor
//
// Every started process is tracked by a Supervisor so that Shutdown can
// terminate clients still running when the application exits.
//
// # Thread Safety
//
// Runner, Supervisor and Process are safe for concurrent use.
package process
