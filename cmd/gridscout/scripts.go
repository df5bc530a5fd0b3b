package main

import (
	"fmt"

	"github.com/entrhq/gridscout/pkg/catalog"
	"github.com/spf13/cobra"
)

func newScriptsCmd(a *app) *cobra.Command {
	var latest bool

	cmd := &cobra.Command{
		Use:   "scripts [pattern...]",
		Short: "List compiled scripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := catalog.NewMatcher(args, nil)
			if err != nil {
				return err
			}
			entries, err := a.catalog().Select(m, latest)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(w, "no scripts in %s\n", a.catalog().Dir())
				return nil
			}
			for _, e := range entries {
				name := e.Name
				if e.Latest {
					name = okStyle.Render(name)
				}
				fmt.Fprintf(w, "%-32s %6d B  %s\n", name, e.Size, mutedStyle.Render(e.ModTime.Format("2006-01-02 15:04")))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&latest, "latest", false, "Only the latest version of each site")
	return cmd
}
