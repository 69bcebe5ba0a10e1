package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/depgraph/internal/plan"
)

var applyCmd = &cobra.Command{
	Use:     "apply <plan.yaml>",
	Short:   "Create the tickets, tasks and declared edges of a plan file",
	GroupID: "graph",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := plan.LoadFile(args[0])
		if err != nil {
			return err
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if dryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: project %s, %d tickets, %d tasks, %d edges\n",
				args[0], p.Project, len(p.Tickets), p.TaskCount(), p.EdgeCount())
			return nil
		}

		start := time.Now()
		res, err := plan.Apply(cmd.Context(), graphClient, p, actor)
		if err != nil {
			if res != nil && !jsonOutput {
				printPlanResult(cmd.OutOrStdout(), res, time.Since(start))
			}
			return fmt.Errorf("applying plan: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		printPlanResult(cmd.OutOrStdout(), res, time.Since(start))
		return nil
	},
}

func init() {
	applyCmd.Flags().Bool("dry-run", false, "validate the plan without contacting the server")
}
