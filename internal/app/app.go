// Package app assembles cvsbridge from its configuration: logger, output
// channel, cvs client, workspace, watcher, event bus, integration manager
// and the command table.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dshills/cvsbridge/internal/config"
	"github.com/dshills/cvsbridge/internal/integration"
	"github.com/dshills/cvsbridge/internal/integration/cvs"
	"github.com/dshills/cvsbridge/internal/integration/process"
	"github.com/dshills/cvsbridge/internal/workspace"
	"github.com/dshills/cvsbridge/internal/workspace/watcher"
	"github.com/rs/zerolog"
)

// Options configures Bootstrap.
type Options struct {
	// ConfigFile is an explicit configuration file.
	ConfigFile string

	// SearchDirs are searched for a configuration file when ConfigFile is
	// empty. Nil means config.DefaultSearchDirs.
	SearchDirs []string

	// Env replaces the process environment when non-nil.
	Env []string

	// Workspace replaces the configured workspace roots.
	Workspace []string

	// Overrides are dot-path settings applied over everything else.
	Overrides map[string]any

	// LogOutput receives log output. Defaults to os.Stderr.
	LogOutput io.Writer

	// Watch starts a file system watcher when watch.enabled is set.
	Watch bool

	// OutputCapacity bounds the output channel.
	OutputCapacity int
}

// Application is a running cvsbridge instance.
type Application struct {
	config   *config.Config
	load     config.Options
	logger   zerolog.Logger
	output   *OutputChannel
	client   *cvs.Client
	bus      *integration.EventBus
	manager  *integration.Manager
	commands *CommandCenter

	closed atomic.Bool
}

// Bootstrap loads configuration, discovers the client and opens every
// working copy in the workspace. A missing client fails with an error
// wrapping cvs.ErrClientNotFound.
func Bootstrap(ctx context.Context, opts Options) (*Application, error) {
	overrides := make(map[string]any, len(opts.Overrides)+1)
	for k, v := range opts.Overrides {
		overrides[k] = v
	}
	if len(opts.Workspace) > 0 {
		overrides["workspace.roots"] = opts.Workspace
	}
	searchDirs := opts.SearchDirs
	if searchDirs == nil {
		searchDirs = config.DefaultSearchDirs()
	}

	load := config.Options{
		File:       opts.ConfigFile,
		SearchDirs: searchDirs,
		Env:        opts.Env,
		Overrides:  overrides,
	}
	cfg, err := config.Load(load)
	if err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}

	logger, err := NewLogger(cfg.Log, opts.LogOutput)
	if err != nil {
		return nil, &InitError{Component: "logger", Err: err}
	}
	if cfg.Source != "" {
		logger.Debug().Str("file", cfg.Source).Msg("configuration loaded")
	}

	app := &Application{
		config: cfg,
		load:   load,
		logger: logger,
		output: NewOutputChannel(opts.OutputCapacity, logger),
	}

	info, err := cvs.NewFinder(cvs.WithClientPath(cfg.Client.Path)).Find(ctx)
	if err != nil {
		return nil, &InitError{Component: "cvs", Err: err}
	}
	logger.Info().Str("path", info.Path).Str("version", info.Version).Msg("using cvs")

	runner := process.NewRunner(info.Path,
		process.WithOutputSink(app.output),
		process.WithLogger(logger),
		process.WithEnv(cfg.Client.Env...),
	)
	clientOpts := []cvs.ClientOption{cvs.WithLogger(logger)}
	if cfg.Client.Encoding != "" {
		clientOpts = append(clientOpts, cvs.WithEncoding(cfg.Client.Encoding))
	}
	if len(cfg.Client.StatusArgs) > 0 {
		clientOpts = append(clientOpts, cvs.WithStatusArgs(cfg.Client.StatusArgs...))
	}
	app.client = cvs.NewClient(info, runner, clientOpts...)

	roots, err := workspaceRoots(cfg)
	if err != nil {
		return nil, &InitError{Component: "workspace", Err: err}
	}
	ws, err := workspace.New(roots...)
	if err != nil {
		return nil, &InitError{Component: "workspace", Err: err}
	}

	var w watcher.Watcher
	if opts.Watch && cfg.Watch.Enabled {
		patterns := append(append([]string(nil), watcher.DefaultIgnorePatterns...), cfg.Watch.Ignore...)
		fw, err := watcher.NewFSNotifyWatcher(
			watcher.WithIgnorePatterns(patterns),
			watcher.WithIgnoreHidden(cfg.Watch.IgnoreHidden),
			watcher.WithMaxWatches(cfg.Watch.MaxWatches),
			watcher.WithBufferSize(cfg.Watch.BufferSize),
			watcher.WithEventFilter(changesContent),
			watcher.WithLogger(logger),
		)
		if err != nil {
			return nil, &InitError{Component: "watcher", Err: err}
		}
		w = fw
	}

	app.bus = integration.NewEventBus(integration.WithBusLogger(logger))

	app.manager, err = integration.NewManager(ctx, integration.ManagerConfig{
		Client:              app.client,
		Workspace:           ws,
		Settings:            cfg,
		EventBus:            app.bus,
		Watcher:             w,
		Logger:              &app.logger,
		StatusLimit:         cfg.Status.Limit,
		Debounce:            cfg.SCM.Debounce,
		TrackTTL:            cfg.SCM.TrackTTL,
		RetryLockContention: cfg.Retry.LockContention,
	})
	if err != nil {
		if w != nil {
			_ = w.Close()
		}
		runner.Shutdown(time.Second)
		app.bus.Close()
		return nil, &InitError{Component: "integration", Err: err}
	}

	app.commands = NewCommandCenter(app.manager, app.output, logger)
	return app, nil
}

// changesContent drops permission-only events, which never change what
// the status command reports.
func changesContent(ev watcher.Event) bool {
	return ev.Op != watcher.OpChmod
}

// workspaceRoots returns the configured roots, or the working directory
// when none are set.
func workspaceRoots(cfg *config.Config) ([]string, error) {
	if len(cfg.Workspace.Roots) > 0 {
		return cfg.Workspace.Roots, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return []string{wd}, nil
}

// ReloadWorkspace reads the configuration again and makes the workspace
// roots match it: roots no longer listed are removed, closing their
// repositories, and new ones are added and opened. Other settings keep
// their values until restart.
func (app *Application) ReloadWorkspace() error {
	if app.closed.Load() {
		return ErrClosed
	}
	cfg, err := config.Load(app.load)
	if err != nil {
		return err
	}
	roots, err := workspaceRoots(cfg)
	if err != nil {
		return err
	}

	ws := app.manager.Workspace()
	want := make(map[string]bool, len(roots))
	for _, root := range roots {
		if abs, err := filepath.Abs(root); err == nil {
			want[filepath.Clean(abs)] = true
		}
	}

	var errs []error
	for _, root := range ws.Roots() {
		if want[root] {
			delete(want, root)
			continue
		}
		if err := ws.RemoveFolder(root); err != nil {
			errs = append(errs, err)
			continue
		}
		app.logger.Info().Str("root", root).Msg("workspace root removed")
	}
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil || !want[filepath.Clean(abs)] {
			continue
		}
		delete(want, filepath.Clean(abs))
		if _, err := ws.AddFolder(abs); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", root, err))
			continue
		}
		app.logger.Info().Str("root", abs).Msg("workspace root added")
	}
	return errors.Join(errs...)
}

// Config returns the loaded configuration.
func (app *Application) Config() *config.Config { return app.config }

// Logger returns the application logger.
func (app *Application) Logger() zerolog.Logger { return app.logger }

// Output returns the client output channel.
func (app *Application) Output() *OutputChannel { return app.output }

// Client returns the cvs client.
func (app *Application) Client() *cvs.Client { return app.client }

// EventBus returns the event bus.
func (app *Application) EventBus() *integration.EventBus { return app.bus }

// Manager returns the integration manager.
func (app *Application) Manager() *integration.Manager { return app.manager }

// Commands returns the command table.
func (app *Application) Commands() *CommandCenter { return app.commands }

// Execute runs a command. See CommandCenter.Execute.
func (app *Application) Execute(ctx context.Context, id string, hint any, args ...string) (any, error) {
	if app.closed.Load() {
		return nil, ErrClosed
	}
	return app.commands.Execute(ctx, id, hint, args...)
}

// Close shuts the application down. It is safe to call more than once.
func (app *Application) Close() error {
	if app.closed.Swap(true) {
		return nil
	}
	err := app.manager.Close()
	app.bus.Close()
	return err
}
