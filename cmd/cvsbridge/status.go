package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/dshills/cvsbridge/internal/app"
	"github.com/dshills/cvsbridge/internal/integration/scm"
	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"
)

// repoStatus is the status of one working copy.
type repoStatus struct {
	Root        string
	DidHitLimit bool
	Resources   []scm.Resource
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var (
		asJSON     bool
		limit      int
		showOutput bool
	)

	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Show changed files of the working copies",
		Long: `Run the cvs status command in every open working copy, or only in the one
containing path, and list the changed files.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := bootstrap(cmd, flags, func(o *app.Options) {
				if limit > 0 {
					o.Overrides["status.limit"] = limit
				}
			})
			if err != nil {
				return err
			}
			defer application.Close()

			statuses, err := collectStatus(cmd, application, args)
			if showOutput {
				if _, werr := application.Output().WriteTo(cmd.ErrOrStderr()); werr != nil && err == nil {
					err = werr
				}
			}
			if err != nil {
				return err
			}

			if asJSON {
				doc, err := statusJSON(statuses)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), doc)
				return err
			}
			return printStatus(cmd.OutOrStdout(), statuses)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of files per working copy")
	cmd.Flags().BoolVar(&showOutput, "show-output", false, "Print the client output log to stderr")
	return cmd
}

// collectStatus refreshes the working copy containing args[0], or every
// open one, and returns their resources.
func collectStatus(cmd *cobra.Command, application *app.Application, args []string) ([]repoStatus, error) {
	registry := application.Manager().Registry()

	var targets []string
	if len(args) == 1 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return nil, err
		}
		targets = []string{abs}
	} else {
		for _, repo := range registry.Repositories() {
			targets = append(targets, repo.Root())
		}
	}

	var statuses []repoStatus
	for _, target := range targets {
		repo := registry.GetRepository(target)
		if repo == nil {
			return nil, fmt.Errorf("%s is not inside an open working copy", target)
		}
		if _, err := application.Execute(cmd.Context(), app.CommandStatus, repo); err != nil {
			return nil, err
		}
		statuses = append(statuses, repoStatus{
			Root:        repo.Root(),
			DidHitLimit: repo.DidHitLimit(),
			Resources:   repo.Resources(),
		})
	}
	return statuses, nil
}

// statusJSON renders statuses as a JSON array of working copies.
func statusJSON(statuses []repoStatus) (string, error) {
	doc := "[]"
	for _, s := range statuses {
		item, err := sjson.Set(`{"resources":[]}`, "root", s.Root)
		if err != nil {
			return "", err
		}
		if item, err = sjson.Set(item, "didHitLimit", s.DidHitLimit); err != nil {
			return "", err
		}
		for _, r := range s.Resources {
			res, err := resourceJSON(r)
			if err != nil {
				return "", err
			}
			if item, err = sjson.SetRaw(item, "resources.-1", res); err != nil {
				return "", err
			}
		}
		if doc, err = sjson.SetRaw(doc, "-1", item); err != nil {
			return "", err
		}
	}
	return doc, nil
}

func resourceJSON(r scm.Resource) (string, error) {
	res, err := sjson.Set("{}", "path", r.Path)
	if err != nil {
		return "", err
	}
	if res, err = sjson.Set(res, "status", r.Status.String()); err != nil {
		return "", err
	}
	return sjson.Set(res, "code", string(r.Code))
}

func printStatus(w io.Writer, statuses []repoStatus) error {
	for _, s := range statuses {
		if _, err := fmt.Fprintf(w, "%s\n", s.Root); err != nil {
			return err
		}
		for _, r := range s.Resources {
			rel, err := filepath.Rel(s.Root, r.Path)
			if err != nil {
				rel = r.Path
			}
			if _, err := fmt.Fprintf(w, "  %c %s\n", r.Code, rel); err != nil {
				return err
			}
		}
		if s.DidHitLimit {
			if _, err := fmt.Fprintln(w, "  (too many changes, list truncated)"); err != nil {
				return err
			}
		}
	}
	return nil
}
