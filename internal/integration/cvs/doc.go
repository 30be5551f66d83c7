// Package cvs binds the CVS command-line client to working copies.
//
// The package is organized around these types:
//
//   - Finder: locates the client binary and its version once at startup
//   - Client: runs the client in a directory and opens working copies
//   - Repository: a working copy root; runs and parses the status command
//   - StatusParser: incremental parser for status output
//
// # Usage
//
//	info, err := cvs.NewFinder().Find(ctx)
//	if errors.Is(err, cvs.ErrClientNotFound) {
//	    // abort startup
//	}
//
//	client := cvs.NewClient(info, process.NewRunner(info.Path))
//	repo := client.Open("/path/to/checkout")
//
//	res, err := repo.GetStatus(ctx, 0)
//	for _, entry := range res.Entries {
//	    fmt.Printf("%c %s\n", entry.Code, entry.Path)
//	}
//
// Errors from the client propagate unchanged as *process.Error values.
package cvs
