package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for a logger writing from another
// goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunner_LogsExit(t *testing.T) {
	script := writeScript(t, `exit 2`)
	var logs syncBuffer
	r := NewRunner(script, WithLogger(zerolog.New(&logs).Level(zerolog.DebugLevel)))

	_, err := r.Exec(context.Background(), Request{Dir: t.TempDir(), Args: []string{"-q", "update"}})
	require.ErrorIs(t, err, ErrExecutionFailed)

	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), `"message":"exit"`)
	}, time.Second, 5*time.Millisecond)
	out := logs.String()
	assert.Contains(t, out, `"command":"update"`)
	assert.Contains(t, out, `"exitCode":2`)
	assert.Contains(t, out, `"killed":false`)
	assert.NotContains(t, out, `"pid":-1`)
}

func TestRequest_Command(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{args: []string{"status"}, want: "status"},
		{args: []string{"-n", "-q", "update"}, want: "update"},
		{args: []string{"-d", "/var/cvs", "-z", "3", "log", "-h"}, want: "log"},
		{args: []string{"-d/var/cvs", "diff"}, want: "diff"},
		{args: []string{"-q"}, want: ""},
		{args: nil, want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Request{Args: tt.args}.command(), "%v", tt.args)
	}
}

func TestRunner_Exec(t *testing.T) {
	script := writeScript(t, `echo "out $1"; echo "warn" >&2`)
	sink := &recordingSink{}
	r := NewRunner(script, WithOutputSink(sink))

	res, err := r.Exec(context.Background(), Request{Dir: t.TempDir(), Args: []string{"status"}})

	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "out status\n", res.Stdout)
	assert.Equal(t, []byte("out status\n"), res.RawStdout)
	assert.Equal(t, "warn\n", res.Stderr)
	assert.Equal(t, []string{"warn"}, sink.Lines())
	assert.Equal(t, 0, r.Active())
}

func TestRunner_ExecNonZeroExit(t *testing.T) {
	script := writeScript(t, `echo partial; echo "cannot open status file" >&2; exit 1`)
	sink := &recordingSink{}
	r := NewRunner(script, WithOutputSink(sink))

	res, err := r.Exec(context.Background(), Request{Dir: t.TempDir(), Args: []string{"status"}})

	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrExecutionFailed)
	assert.NotErrorIs(t, err, ErrCancelled)

	perr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindExecutionFailed, perr.Kind)
	assert.Equal(t, 1, perr.ExitCode)
	assert.Equal(t, "status", perr.Command)
	assert.Equal(t, "partial\n", perr.Stdout)
	assert.Contains(t, perr.Stderr, "cannot open status file")
	assert.Contains(t, err.Error(), "exit code 1")

	lines := sink.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "cannot open status file", lines[0])
	assert.Contains(t, lines[1], "exit code 1")
}

func TestRunner_ExecQuiet(t *testing.T) {
	script := writeScript(t, `echo "noise" >&2`)
	sink := &recordingSink{}
	r := NewRunner(script, WithOutputSink(sink))

	res, err := r.Exec(context.Background(), Request{Dir: t.TempDir(), Args: []string{"log"}, Quiet: true})

	require.NoError(t, err)
	assert.Equal(t, "noise\n", res.Stderr)
	assert.Empty(t, sink.Lines())
}

func TestRunner_SpawnNotFound(t *testing.T) {
	dir := t.TempDir()
	notExec := filepath.Join(dir, "notexec")
	require.NoError(t, os.WriteFile(notExec, []byte("#!/bin/sh\n"), 0o644))

	tests := []struct {
		name string
		path string
	}{
		{name: "missing file", path: filepath.Join(dir, "missing")},
		{name: "not on PATH", path: "cvsbridge-no-such-client"},
		{name: "not executable", path: notExec},
		{name: "empty path", path: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeScript(t, "") // skips on windows
			r := NewRunner(tt.path)

			_, err := r.Exec(context.Background(), Request{Dir: dir, Args: []string{"status"}})

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSpawnNotFound)
			assert.NotErrorIs(t, err, ErrExecutionFailed)
			assert.Equal(t, 0, r.Active())
		})
	}
}

func TestRunner_CancelBeforeSpawn(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	script := writeScript(t, "touch "+marker)
	r := NewRunner(script)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Exec(ctx, Request{Dir: t.TempDir(), Args: []string{"status"}})

	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, marker)
	assert.Equal(t, 0, r.supervisor.Count())

	_, err = r.Spawn(ctx, Request{Dir: t.TempDir(), Args: []string{"status"}})
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestRunner_CancelAfterSpawn(t *testing.T) {
	script := writeScript(t, `echo started; sleep 30 & wait`)
	r := NewRunner(script)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	res, err := r.Exec(ctx, Request{Dir: t.TempDir(), Args: []string{"update"}})

	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, 0, r.Active())
	require.Eventually(t, func() bool { return r.supervisor.Count() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestRunner_DeadlineIsCancellation(t *testing.T) {
	script := writeScript(t, `sleep 30`)
	r := NewRunner(script)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := r.Exec(ctx, Request{Dir: t.TempDir(), Args: []string{"status"}})

	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, r.Active())
}

func TestRunner_ConcurrentExec(t *testing.T) {
	script := writeScript(t, `pwd`)
	r := NewRunner(script)

	const n = 12
	dirs := make([]string, n)
	for i := range dirs {
		dir, err := filepath.EvalSymlinks(t.TempDir())
		require.NoError(t, err)
		dirs[i] = dir
	}

	type outcome struct {
		res *Result
		err error
	}
	outcomes := make([]outcome, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Exec(context.Background(), Request{Dir: dirs[i], Args: []string{"status"}})
			outcomes[i] = outcome{res, err}
		}(i)
	}
	wg.Wait()

	for i, o := range outcomes {
		require.NoError(t, o.err, "request %d", i)
		require.NotNil(t, o.res, "request %d", i)
		assert.Equal(t, dirs[i]+"\n", o.res.Stdout)
	}
	assert.Equal(t, 0, r.Active())
}

func TestRunner_ExecStdin(t *testing.T) {
	script := writeScript(t, `cat`)
	r := NewRunner(script)

	res, err := r.Exec(context.Background(), Request{Dir: t.TempDir(), Args: []string{"commit"}, Stdin: "message\n"})

	require.NoError(t, err)
	assert.Equal(t, "message\n", res.Stdout)
}

func TestRunner_ExecWithoutStdinReadsEOF(t *testing.T) {
	script := writeScript(t, `cat; echo done`)
	r := NewRunner(script)

	res, err := r.Exec(context.Background(), Request{Dir: t.TempDir(), Args: []string{"status"}})

	require.NoError(t, err)
	assert.Equal(t, "done\n", res.Stdout)
}

func TestRunner_ExecEncoding(t *testing.T) {
	script := writeScript(t, `printf '\351t\351\n'`)
	r := NewRunner(script)

	tests := []struct {
		encoding string
		want     string
	}{
		{encoding: "iso-8859-1", want: "été\n"},
		{encoding: "latin1", want: "été\n"},
		{encoding: "", want: "\xe9t\xe9\n"},
		{encoding: "no-such-charset", want: "\xe9t\xe9\n"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("encoding=%q", tt.encoding), func(t *testing.T) {
			res, err := r.Exec(context.Background(), Request{Dir: t.TempDir(), Args: []string{"status"}, Encoding: tt.encoding})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Stdout)
			assert.Equal(t, []byte("\xe9t\xe9\n"), res.RawStdout)
		})
	}
}

func TestRunner_Env(t *testing.T) {
	script := writeScript(t, `echo "$A-$B"`)
	r := NewRunner(script, WithEnv("A=runner"))

	res, err := r.Exec(context.Background(), Request{Dir: t.TempDir(), Args: []string{"status"}, Env: []string{"B=request"}})

	require.NoError(t, err)
	assert.Equal(t, "runner-request\n", res.Stdout)
}

func TestRunner_Spawn(t *testing.T) {
	script := writeScript(t, `for i in 1 2 3; do echo "line $i"; done; echo oops >&2; exit 3`)
	r := NewRunner(script)

	proc, err := r.Spawn(context.Background(), Request{Dir: t.TempDir(), Args: []string{"status"}})
	require.NoError(t, err)
	assert.Equal(t, "status", proc.Name)
	assert.NotEmpty(t, proc.ID)

	var stderr []byte
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		buf := make([]byte, 64)
		for {
			n, err := proc.Stderr.Read(buf)
			stderr = append(stderr, buf[:n]...)
			if err != nil {
				return
			}
		}
	}()

	var lines []string
	scanner := bufio.NewScanner(proc.Stdout)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	<-stderrDone

	code, _ := proc.Wait()
	assert.Equal(t, 3, code)
	assert.Equal(t, []string{"line 1", "line 2", "line 3"}, lines)
	assert.Equal(t, "oops\n", string(stderr))
	assert.Equal(t, StateExited, proc.State())
	assert.Positive(t, proc.Runtime())
	require.Eventually(t, func() bool { return r.Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRunner_SpawnCloseEarly(t *testing.T) {
	script := writeScript(t, `while true; do echo spam; done`)
	r := NewRunner(script)

	proc, err := r.Spawn(context.Background(), Request{Dir: t.TempDir(), Args: []string{"status"}})
	require.NoError(t, err)

	reader := bufio.NewReader(proc.Stdout)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "spam\n", line)

	require.NoError(t, proc.Kill())
	require.NoError(t, proc.Close())

	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process was not reaped after kill")
	}
	assert.Equal(t, StateKilled, proc.State())
}

func TestRunner_Shutdown(t *testing.T) {
	script := writeScript(t, `sleep 30`)
	r := NewRunner(script)

	proc, err := r.Spawn(context.Background(), Request{Dir: t.TempDir(), Args: []string{"watch"}})
	require.NoError(t, err)
	go func() { _, _ = proc.Wait() }()

	r.Shutdown(time.Second)

	assert.Equal(t, StateKilled, proc.State())
	assert.Equal(t, 0, r.supervisor.Count())

	_, err = r.Exec(context.Background(), Request{Dir: t.TempDir(), Args: []string{"status"}})
	assert.True(t, errors.Is(err, ErrSupervisorShutdown))
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		charset string
		want    string
	}{
		{"utf8 default", []byte("héllo"), "", "héllo"},
		{"utf8 explicit", []byte("héllo"), "utf8", "héllo"},
		{"latin1", []byte{0x63, 0x61, 0x66, 0xe9}, "iso-8859-1", "café"},
		{"unknown charset", []byte("plain"), "klingon", "plain"},
		{"shift_jis", []byte{0x82, 0xa0}, "shift_jis", "あ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode(tt.raw, tt.charset))
		})
	}
}

func TestDecodeReader(t *testing.T) {
	raw := []byte{0x82, 0xa0, 0x0a, 0x82, 0xa2}

	out, err := io.ReadAll(DecodeReader(iotest.OneByteReader(bytes.NewReader(raw)), "shift_jis"))
	require.NoError(t, err)
	assert.Equal(t, "あ\nい", string(out))

	plain := bytes.NewReader([]byte("x"))
	assert.Same(t, plain, DecodeReader(plain, "utf-8"))
}
