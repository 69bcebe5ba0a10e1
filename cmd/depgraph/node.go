package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/depgraph/internal/api"
	"github.com/alfredjeanlab/depgraph/internal/model"
	"github.com/alfredjeanlab/depgraph/internal/ui"
)

var nodeCmd = &cobra.Command{
	Use:     "node",
	Short:   "Register, inspect and resolve tickets and tasks",
	GroupID: "graph",
}

var nodeCreateCmd = &cobra.Command{
	Use:   "create [<id>]",
	Short: "Register a ticket or task (id is generated when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		parent, _ := cmd.Flags().GetString("parent")
		title, _ := cmd.Flags().GetString("title")

		// A parent implies a task.
		scope := model.ScopeTicket
		if parent != "" {
			scope = model.ScopeTask
		}
		req := &api.CreateNodeRequest{
			Scope:     scope,
			ProjectID: project,
			ParentID:  parent,
			Title:     title,
			CreatedBy: actor,
		}
		if len(args) == 1 {
			req.ID = args[0]
		}

		n, err := graphClient.CreateNode(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("creating node: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), n)
		}
		printNode(cmd.OutOrStdout(), n)
		return nil
	},
}

var nodeShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := graphClient.GetNode(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("getting node: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), n)
		}
		printNode(cmd.OutOrStdout(), n)
		return nil
	},
}

var nodeResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Mark a node resolved; it stops blocking its dependents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := graphClient.ResolveNode(cmd.Context(), args[0], actor)
		if err != nil {
			return fmt.Errorf("resolving node: %w", err)
		}
		return printStateChange(cmd, resp, "resolved")
	},
}

var nodeReopenCmd = &cobra.Command{
	Use:   "reopen <id>",
	Short: "Reopen a resolved node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := graphClient.ReopenNode(cmd.Context(), args[0], actor)
		if err != nil {
			return fmt.Errorf("reopening node: %w", err)
		}
		return printStateChange(cmd, resp, "reopened")
	},
}

func printStateChange(cmd *cobra.Command, resp *api.StateChangeResponse, verb string) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, resp)
	}
	if !resp.Changed {
		fmt.Fprintf(out, "%s is already %s\n", resp.Node.ID, resp.Node.State)
		return nil
	}
	fmt.Fprintf(out, "%s %s\n", verb, resp.Node.ID)
	return nil
}

var nodeDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a node and every edge touching it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := graphClient.DeleteNode(cmd.Context(), args[0], actor)
		if err != nil {
			return fmt.Errorf("deleting node: %w", err)
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, resp)
		}
		fmt.Fprintf(out, "deleted %s\n", resp.Node.ID)
		for _, e := range resp.RemovedEdges {
			fmt.Fprintf(out, "  %s %s -> %s\n", ui.RenderMuted("removed"), e.From, e.To)
		}
		return nil
	},
}

func init() {
	nodeCreateCmd.Flags().StringP("project", "p", "", "project the node belongs to (required)")
	nodeCreateCmd.Flags().String("parent", "", "owning ticket; makes the node a task")
	nodeCreateCmd.Flags().StringP("title", "t", "", "human-readable title")
	_ = nodeCreateCmd.MarkFlagRequired("project")

	nodeCmd.AddCommand(nodeCreateCmd)
	nodeCmd.AddCommand(nodeShowCmd)
	nodeCmd.AddCommand(nodeResolveCmd)
	nodeCmd.AddCommand(nodeReopenCmd)
	nodeCmd.AddCommand(nodeDeleteCmd)
}
