package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/dshills/cvsbridge/internal/integration"
	"github.com/dshills/cvsbridge/internal/integration/cvs"
	"github.com/dshills/cvsbridge/internal/integration/scm"
	"github.com/dshills/cvsbridge/internal/workspace/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrap_OpensWorkspace(t *testing.T) {
	wc := workingCopy(t)
	plain := t.TempDir()
	app := bootstrap(t, wc, plain)

	assert.Equal(t, "1.12.13", app.Client().Info().Version)
	assert.Equal(t, []string{wc, plain}, app.Manager().Workspace().Roots())

	roots, err := app.Execute(context.Background(), CommandListRepositories, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{wc}, roots)
}

func TestBootstrap_ClientNotFound(t *testing.T) {
	opts, _ := testOptions(t, filepath.Join(t.TempDir(), "missing"), t.TempDir())

	_, err := Bootstrap(context.Background(), opts)

	require.Error(t, err)
	assert.ErrorIs(t, err, cvs.ErrClientNotFound)
	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "cvs", initErr.Component)
}

func TestBootstrap_InvalidConfig(t *testing.T) {
	opts, _ := testOptions(t, fakeClient(t), t.TempDir())
	opts.Overrides["log.level"] = "loud"

	_, err := Bootstrap(context.Background(), opts)

	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "config", initErr.Component)
}

func TestBootstrap_DisabledPath(t *testing.T) {
	wc := workingCopy(t)
	opts, _ := testOptions(t, fakeClient(t), wc)
	opts.Overrides["scm.enabled"] = false

	app, err := Bootstrap(context.Background(), opts)
	require.NoError(t, err)
	defer app.Close()

	assert.Empty(t, app.Manager().Registry().Repositories())
}

func TestBootstrap_Watch(t *testing.T) {
	wc := workingCopy(t)
	opts, _ := testOptions(t, fakeClient(t), wc)
	opts.Watch = true

	app, err := Bootstrap(context.Background(), opts)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Manager().Watch(context.Background()) }()

	require.NoError(t, app.Close())
	if err := <-done; err != nil {
		assert.ErrorIs(t, err, integration.ErrManagerClosed)
	}
}

func TestExecute_Status(t *testing.T) {
	wc := workingCopy(t)
	app := bootstrap(t, wc)

	result, err := app.Execute(context.Background(), CommandStatus, nil)
	require.NoError(t, err)

	resources, ok := result.([]scm.Resource)
	require.True(t, ok)
	require.Len(t, resources, 2)
	assert.Equal(t, filepath.Join(wc, "a.txt"), resources[0].Path)
	assert.Equal(t, scm.StatusModified, resources[0].Status)
	assert.Equal(t, scm.StatusUntracked, resources[1].Status)
}

func TestExecute_StatusClientEnv(t *testing.T) {
	wc := workingCopy(t)
	opts, _ := testOptions(t, fakeClient(t), wc)
	opts.Overrides["client.env"] = []string{"CVS_MARK=marked.txt"}
	app, err := Bootstrap(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	result, err := app.Execute(context.Background(), CommandStatus, nil)
	require.NoError(t, err)

	resources := result.([]scm.Resource)
	require.Len(t, resources, 3)
	assert.Equal(t, filepath.Join(wc, "marked.txt"), resources[2].Path)
}

func TestExecute_StatusResolvesHint(t *testing.T) {
	a, b := workingCopy(t), workingCopy(t)
	app := bootstrap(t, a, b)

	result, err := app.Execute(context.Background(), CommandStatus, nil)
	require.NoError(t, err)
	assert.Nil(t, result, "ambiguous without a hint")

	result, err = app.Execute(context.Background(), CommandStatus, filepath.Join(b, "a.txt"))
	require.NoError(t, err)
	assert.Len(t, result, 2)
	assert.Len(t, app.Manager().Registry().GetRepository(b).Resources(), 2)
	assert.Empty(t, app.Manager().Registry().GetRepository(a).Resources())

	result, err = app.Execute(context.Background(), CommandStatus, t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestExecute_Failure(t *testing.T) {
	wc := workingCopy(t)
	require.NoError(t, os.WriteFile(filepath.Join(wc, "fail"), nil, 0o644))
	app := bootstrap(t, wc)

	_, err := app.Execute(context.Background(), CommandStatus, wc)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, CommandStatus, cmdErr.ID)
	assert.Equal(t, "connect to server failed", cmdErr.Hint)

	lines, err := app.Execute(context.Background(), CommandShowOutput, nil)
	require.NoError(t, err)
	assert.Contains(t, lines, "cvs.status: connect to server failed")
}

func TestExecute_Refresh(t *testing.T) {
	a, b := workingCopy(t), workingCopy(t)
	app := bootstrap(t, a, b)

	var changed atomic.Int32
	app.EventBus().Subscribe(integration.TopicResourcesChanged, func(map[string]any) { changed.Add(1) })

	_, err := app.Execute(context.Background(), CommandRefresh, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), changed.Load())
}

func TestExecute_Init(t *testing.T) {
	app := bootstrap(t, t.TempDir())
	root := filepath.Join(t.TempDir(), "repo")

	_, err := app.Execute(context.Background(), CommandInit, nil, root)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(root, "CVSROOT"))

	_, err = app.Execute(context.Background(), CommandInit, nil)
	assert.ErrorIs(t, err, ErrMissingArgument)
}

func TestExecute_Unknown(t *testing.T) {
	app := bootstrap(t, t.TempDir())

	_, err := app.Execute(context.Background(), "cvs.commit", nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestCommands_Table(t *testing.T) {
	app := bootstrap(t, t.TempDir())

	var ids []string
	for _, c := range app.Commands().Commands() {
		ids = append(ids, c.ID)
		assert.Equal(t, c.ID == CommandStatus, c.RequiresRepository, c.ID)
	}
	assert.Equal(t, []string{
		CommandInit,
		CommandListRepositories,
		CommandRefresh,
		CommandShowOutput,
		CommandStatus,
	}, ids)
}

func TestChangesContent(t *testing.T) {
	assert.False(t, changesContent(watcher.Event{Path: "/wc/a.c", Op: watcher.OpChmod}))
	assert.True(t, changesContent(watcher.Event{Path: "/wc/a.c", Op: watcher.OpWrite | watcher.OpChmod}))
	assert.True(t, changesContent(watcher.Event{Path: "/wc/CVS", Op: watcher.OpCreate}))
}

func TestApplication_ReloadWorkspace(t *testing.T) {
	a, b := workingCopy(t), workingCopy(t)
	file := filepath.Join(t.TempDir(), "cvsbridge.toml")
	writeRoots := func(roots ...string) {
		var quoted []string
		for _, r := range roots {
			quoted = append(quoted, fmt.Sprintf("%q", r))
		}
		data := "[workspace]\nroots = [" + strings.Join(quoted, ", ") + "]\n"
		require.NoError(t, os.WriteFile(file, []byte(data), 0o644))
	}
	writeRoots(a)

	opts, logs := testOptions(t, fakeClient(t))
	opts.ConfigFile = file
	app, err := Bootstrap(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	require.Equal(t, []string{a}, app.Manager().Workspace().Roots())

	writeRoots(b)
	require.NoError(t, app.ReloadWorkspace())

	assert.Equal(t, []string{b}, app.Manager().Workspace().Roots())
	roots, err := app.Execute(context.Background(), CommandListRepositories, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{b}, roots)
	assert.Contains(t, logs.String(), "workspace root added")
	assert.Contains(t, logs.String(), "workspace root removed")

	require.NoError(t, app.ReloadWorkspace(), "unchanged roots are left alone")
	assert.Equal(t, []string{b}, app.Manager().Workspace().Roots())

	require.NoError(t, app.Close())
	assert.ErrorIs(t, app.ReloadWorkspace(), ErrClosed)
}

func TestApplication_Close(t *testing.T) {
	app := bootstrap(t, workingCopy(t))

	require.NoError(t, app.Close())
	require.NoError(t, app.Close())

	_, err := app.Execute(context.Background(), CommandListRepositories, nil)
	assert.True(t, errors.Is(err, ErrClosed))
	assert.ErrorIs(t, app.Manager().Refresh(context.Background()), integration.ErrManagerClosed)
}
