// Package main is the entry point for the cvsbridge command.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dshills/cvsbridge/internal/app"
	"github.com/dshills/cvsbridge/internal/integration/cvs"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitNoClient = 2
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	config    string
	workspace []string
	logLevel  string
	cvs       string
}

// options converts the flags into bootstrap options.
func (g *globalFlags) options(stderr io.Writer) app.Options {
	opts := app.Options{
		ConfigFile: g.config,
		Workspace:  g.workspace,
		Overrides:  make(map[string]any),
		LogOutput:  stderr,
	}
	if g.logLevel != "" {
		opts.Overrides["log.level"] = g.logLevel
	}
	if g.cvs != "" {
		opts.Overrides["client.path"] = g.cvs
	}
	return opts
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		return report(stderr, err)
	}
	return exitOK
}

// report prints err for a user and picks the exit code.
func report(w io.Writer, err error) int {
	if errors.Is(err, cvs.ErrClientNotFound) {
		fmt.Fprintf(w, "Error: %v\nInstall cvs or point --cvs (or client.path) at the executable.\n", err)
		return exitNoClient
	}

	var cmdErr *app.CommandError
	if errors.As(err, &cmdErr) {
		fmt.Fprintf(w, "Error: %s\n", cmdErr.Hint)
		return exitError
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	return exitError
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "cvsbridge",
		Short: "Track the state of CVS working copies",
		Long: `cvsbridge discovers CVS working copies in the workspace folders, runs the
cvs client against them and reports changed files.

A workspace folder is opened when it contains a CVS directory with a
readable CVS/Root. Folders default to the current directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&flags.config, "config", "", "Path to a configuration file (.toml, .yaml)")
	pf.StringArrayVar(&flags.workspace, "workspace", nil, "Workspace folder (repeatable)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&flags.cvs, "cvs", "", "Path to the cvs executable")

	root.AddCommand(
		newStatusCmd(flags),
		newInitCmd(flags),
		newReposCmd(flags),
		newWatchCmd(flags),
		newVersionCmd(flags),
	)
	return root
}

// bootstrap starts the application for cmd.
func bootstrap(cmd *cobra.Command, flags *globalFlags, mutate func(*app.Options)) (*app.Application, error) {
	opts := flags.options(cmd.ErrOrStderr())
	if mutate != nil {
		mutate(&opts)
	}
	return app.Bootstrap(cmd.Context(), opts)
}
