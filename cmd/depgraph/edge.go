package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/depgraph/internal/api"
	"github.com/alfredjeanlab/depgraph/internal/model"
)

var edgeCmd = &cobra.Command{
	Use:     "edge",
	Short:   "Manage \"blocks\" edges between nodes",
	GroupID: "graph",
}

var edgeAddCmd = &cobra.Command{
	Use:   "add <from> <to>",
	Short: "Record that <from> blocks <to>",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		note, _ := cmd.Flags().GetString("note")

		e, err := graphClient.AddEdge(cmd.Context(), &api.AddEdgeRequest{
			From:      args[0],
			To:        args[1],
			Kind:      model.EdgeKind(kind),
			CreatedBy: actor,
			Note:      note,
		})
		if errors.Is(err, model.ErrWouldCreateCycle) {
			return fmt.Errorf("edge %s -> %s rejected: %w", args[0], args[1], err)
		}
		if err != nil {
			return fmt.Errorf("adding edge: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), e)
		}
		printEdge(cmd.OutOrStdout(), e)
		return nil
	},
}

var edgeShowCmd = &cobra.Command{
	Use:   "show <from> <to>",
	Short: "Show an edge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := graphClient.GetEdge(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("getting edge: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), e)
		}
		printEdge(cmd.OutOrStdout(), e)
		return nil
	},
}

var edgeRemoveCmd = &cobra.Command{
	Use:   "remove <from> <to>",
	Short: "Remove an edge of either kind",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := graphClient.RemoveEdge(cmd.Context(), args[0], args[1], actor)
		if err != nil {
			return fmt.Errorf("removing edge: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), e)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s edge %s -> %s\n", e.Kind, e.From, e.To)
		return nil
	},
}

var edgeCheckCmd = &cobra.Command{
	Use:   "check <from> <to>",
	Short: "Report whether adding <from> -> <to> would create a cycle",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := graphClient.CheckEdge(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("checking edge: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), c)
		}
		printCycleCheck(cmd.OutOrStdout(), c)
		return nil
	},
}

func init() {
	edgeAddCmd.Flags().String("kind", string(model.EdgeDeclared), "edge kind (declared or discovered)")
	edgeAddCmd.Flags().String("note", "", "free-form note stored on the edge")

	edgeCmd.AddCommand(edgeAddCmd)
	edgeCmd.AddCommand(edgeShowCmd)
	edgeCmd.AddCommand(edgeRemoveCmd)
	edgeCmd.AddCommand(edgeCheckCmd)
}
