package main

import (
	"context"
	"fmt"

	"github.com/dshills/cvsbridge/internal/app"
	"github.com/dshills/cvsbridge/internal/integration/cvs"
	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"
)

func newReposCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "repos",
		Short: "List the working copies found in the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := bootstrap(cmd, flags, nil)
			if err != nil {
				return err
			}
			defer application.Close()

			result, err := application.Execute(cmd.Context(), app.CommandListRepositories, nil)
			if err != nil {
				return err
			}
			roots, _ := result.([]string)

			if asJSON {
				doc := "[]"
				for _, root := range roots {
					item, err := repoJSON(cmd.Context(), application.Client().Open(root))
					if err != nil {
						return err
					}
					if doc, err = sjson.SetRaw(doc, "-1", item); err != nil {
						return err
					}
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), doc)
				return err
			}
			for _, root := range roots {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), root); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

// repoJSON describes a working copy as {"root", "cvsroot", "repository"}.
// Administrative files that cannot be read leave their key out.
func repoJSON(ctx context.Context, repo *cvs.Repository) (string, error) {
	item, err := sjson.Set("{}", "root", repo.Root())
	if err != nil {
		return "", err
	}
	if cvsRoot, err := repo.CVSRoot(ctx); err == nil {
		if item, err = sjson.Set(item, "cvsroot", cvsRoot); err != nil {
			return "", err
		}
	}
	if dir, err := repo.RepositoryDir(ctx); err == nil {
		if item, err = sjson.Set(item, "repository", dir); err != nil {
			return "", err
		}
	}
	return item, nil
}
