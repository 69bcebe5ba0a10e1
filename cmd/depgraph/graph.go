package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/depgraph/internal/api"
)

var graphCmd = &cobra.Command{
	Use:     "graph",
	Short:   "Render a project or ticket dependency graph",
	GroupID: "views",
}

var graphProjectCmd = &cobra.Command{
	Use:   "project <project-id>",
	Short: "Graph every node of a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGraph(cmd, &api.GraphRequest{ProjectID: args[0]})
	},
}

var graphTicketCmd = &cobra.Command{
	Use:   "ticket <ticket-id>",
	Short: "Graph the tasks of one ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGraph(cmd, &api.GraphRequest{TicketID: args[0]})
	},
}

func runGraph(cmd *cobra.Command, req *api.GraphRequest) error {
	req.IncludeResolved, _ = cmd.Flags().GetBool("resolved")
	req.IncludeDiscoveries, _ = cmd.Flags().GetBool("discoveries")

	g, err := graphClient.Graph(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("building graph: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), g)
	}
	printGraph(cmd.OutOrStdout(), g)
	return nil
}

func init() {
	graphCmd.PersistentFlags().Bool("resolved", false, "include resolved nodes")
	graphCmd.PersistentFlags().Bool("discoveries", true, "include discovered edges")

	graphCmd.AddCommand(graphProjectCmd)
	graphCmd.AddCommand(graphTicketCmd)
}
