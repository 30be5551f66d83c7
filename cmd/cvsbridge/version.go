package main

import (
	"fmt"

	"github.com/dshills/cvsbridge/internal/config"
	"github.com/dshills/cvsbridge/internal/integration/cvs"
	"github.com/spf13/cobra"
)

func newVersionCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cvsbridge %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)

			path := flags.cvs
			if path == "" {
				cfg, err := config.Load(config.Options{File: flags.config, SearchDirs: config.DefaultSearchDirs()})
				if err == nil {
					path = cfg.Client.Path
				}
			}

			info, err := cvs.NewFinder(cvs.WithClientPath(path)).Find(cmd.Context())
			if err != nil {
				fmt.Fprintln(out, "  cvs:    not found")
				return nil
			}
			fmt.Fprintf(out, "  cvs:    %s (%s)\n", info.Version, info.Path)
			return nil
		},
	}
}
