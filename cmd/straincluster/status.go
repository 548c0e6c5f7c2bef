package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/straincluster/internal/status"
)

func newStatusCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "status [dir]",
		Short: "Show which outputs a run directory holds",
		Long:  "With no prefix, lists every run found in dir and its subdirectories.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			out := cmd.OutOrStdout()
			if prefix != "" {
				printRunStatus(out, status.GetRunStatus(dir, prefix))
				return nil
			}
			runs, err := status.ListRuns(dir)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				fmt.Fprintln(out, "Run 'straincluster fit --out <dir>' to start one.")
				return nil
			}
			for i, rs := range runs {
				if i > 0 {
					fmt.Fprintln(out)
				}
				printRunStatus(out, rs)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "run-prefix", "", "file prefix of a single run in dir")
	return cmd
}

func printRunStatus(w io.Writer, rs status.RunStatus) {
	fmt.Fprintf(w, "Run: %s (%s)\n", rs.Prefix, rs.Dir)
	if rs.Model != nil {
		fmt.Fprintf(w, "  model %s, run %s\n", rs.Model.Kind, rs.Model.RunID)
	}
	for _, o := range rs.Outputs {
		label := "missing"
		if o.Present {
			label = "present"
		}
		fmt.Fprintf(w, "     %-20s [%s]\n", o.Name, label)
	}
	if rs.Next != "" {
		fmt.Fprintf(w, "  -> next: straincluster %s\n", rs.Next)
	}
}
