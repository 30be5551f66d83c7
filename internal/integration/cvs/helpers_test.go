package cvs

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/dshills/cvsbridge/internal/integration/process"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake client scripts require /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "fakecvs")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestClient(t *testing.T, body string, opts ...ClientOption) *Client {
	t.Helper()
	path := writeScript(t, body)
	runner := process.NewRunner(path)
	t.Cleanup(func() { runner.Shutdown(0) })
	return NewClient(ClientInfo{Path: path, Version: "1.12.13"}, runner, opts...)
}
