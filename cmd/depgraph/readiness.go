package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var blockingCmd = &cobra.Command{
	Use:     "blocking <id>",
	Short:   "List open nodes that <id> is blocking",
	GroupID: "views",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nodes, err := graphClient.Blocking(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("listing blocked nodes: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), nodes)
		}
		printNodeList(cmd.OutOrStdout(), nodes, args[0]+" is not blocking anything")
		return nil
	},
}

var blockedByCmd = &cobra.Command{
	Use:     "blocked-by <id>",
	Short:   "List open nodes that block <id>",
	GroupID: "views",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nodes, err := graphClient.BlockedBy(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("listing blockers: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), nodes)
		}
		printNodeList(cmd.OutOrStdout(), nodes, args[0]+" is ready")
		return nil
	},
}

var depsCmd = &cobra.Command{
	Use:     "deps <id>",
	Short:   "Show a node with its direct blockers and dependents",
	GroupID: "views",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := graphClient.Dependencies(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("getting dependencies: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), s)
		}
		printDependencies(cmd.OutOrStdout(), s)
		return nil
	},
}
