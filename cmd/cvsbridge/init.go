package main

import (
	"fmt"
	"path/filepath"

	"github.com/dshills/cvsbridge/internal/app"
	"github.com/spf13/cobra"
)

func newInitCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init <path>",
		Short: "Create a cvs repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			application, err := bootstrap(cmd, flags, nil)
			if err != nil {
				return err
			}
			defer application.Close()

			if _, err := application.Execute(cmd.Context(), app.CommandInit, nil, dir); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Initialized cvs repository in %s\n", dir)
			return err
		},
	}
}
