package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeCVS reports a version, creates CVSROOT on "init" and lists two
// changes for every other command, plus $CVS_MARK when set. A "fail" file
// in the working directory makes it abort.
const fakeCVS = `#!/bin/sh
case "$1" in
--version)
	echo "Concurrent Versions System (CVS) 1.12.13 (client/server)"
	exit 0
	;;
init)
	mkdir -p "$CVSROOT/CVSROOT"
	exit 0
	;;
esac
if [ -f fail ]; then
	echo "cvs [status aborted]: connect to server failed" >&2
	exit 1
fi
printf 'M a.txt\n? new.c\n'
if [ -n "$CVS_MARK" ]; then
	echo "M $CVS_MARK"
fi
`

func fakeClient(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake client scripts require /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "cvs")
	require.NoError(t, os.WriteFile(path, []byte(fakeCVS), 0o755))
	return path
}

// workingCopy creates a directory with a readable CVS/Root.
func workingCopy(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "CVS"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CVS", "Root"), []byte(":local:/cvsroot\n"), 0o644))
	return dir
}

// testOptions isolates Bootstrap from the host's config files and
// environment.
func testOptions(t *testing.T, client string, roots ...string) (Options, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	return Options{
		SearchDirs: []string{},
		Env:        []string{},
		Workspace:  roots,
		Overrides: map[string]any{
			"client.path": client,
			"log.level":   "debug",
			"log.format":  "json",
		},
		LogOutput: &logs,
	}, &logs
}

func bootstrap(t *testing.T, roots ...string) *Application {
	t.Helper()
	opts, _ := testOptions(t, fakeClient(t), roots...)
	app, err := Bootstrap(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}
