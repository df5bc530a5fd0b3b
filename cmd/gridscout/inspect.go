package main

import (
	"fmt"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/entrhq/gridscout/pkg/synth"
	"github.com/spf13/cobra"
)

func newInspectCmd(a *app) *cobra.Command {
	var (
		style string
		plain bool
	)

	cmd := &cobra.Command{
		Use:   "inspect <script>",
		Short: "Show a compiled script with its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.resolveArtifact(args[0])
			if err != nil {
				return err
			}
			art, err := synth.Load(path)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s %s v%d\n", headerStyle.Render("site"), art.Site, art.Version)
			fmt.Fprintf(w, "%s %s\n", headerStyle.Render("sha256"), mutedStyle.Render(art.Checksum))
			if plan, err := synth.ParsePlan(art.Source); err != nil {
				fmt.Fprintf(w, "%s %s\n", headerStyle.Render("invalid"), failStyle.Render(err.Error()))
			} else {
				fmt.Fprintf(w, "%s %d steps, %d columns, %d grid selectors\n",
					headerStyle.Render("plan"), len(plan.Steps), len(plan.Output.Columns), len(plan.Grid.Selectors))
			}
			fmt.Fprintln(w)

			if plain {
				_, err = w.Write(art.Source)
				return err
			}
			return quick.Highlight(w, string(art.Source), "yaml", "terminal256", style)
		},
	}

	cmd.Flags().StringVar(&style, "style", "monokai", "Chroma style name")
	cmd.Flags().BoolVar(&plain, "plain", false, "Print without highlighting")
	return cmd
}
