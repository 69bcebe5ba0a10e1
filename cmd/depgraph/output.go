package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/depgraph/internal/model"
	"github.com/alfredjeanlab/depgraph/internal/plan"
	"github.com/alfredjeanlab/depgraph/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func printNode(w io.Writer, n *model.Node) {
	fmt.Fprintf(w, "ID:          %s\n", n.ID)
	fmt.Fprintf(w, "Scope:       %s\n", n.Scope)
	fmt.Fprintf(w, "Project:     %s\n", n.ProjectID)
	if n.ParentID != "" {
		fmt.Fprintf(w, "Parent:      %s\n", n.ParentID)
	}
	if n.Title != "" {
		fmt.Fprintf(w, "Title:       %s\n", n.Title)
	}
	fmt.Fprintf(w, "State:       %s\n", ui.RenderState(n.State, false))
	if n.CreatedBy != "" {
		fmt.Fprintf(w, "Created By:  %s\n", n.CreatedBy)
	}
	if !n.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created At:  %s\n", n.CreatedAt.Local().Format(timeLayout))
	}
	if n.ResolvedAt != nil {
		fmt.Fprintf(w, "Resolved At: %s\n", n.ResolvedAt.Local().Format(timeLayout))
	}
}

// printNodeList prints nodes as a table, or empty when there are none.
func printNodeList(w io.Writer, nodes []*model.Node, empty string) {
	if len(nodes) == 0 {
		fmt.Fprintln(w, ui.RenderMuted(empty))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCOPE\tSTATE\tTITLE")
	for _, n := range nodes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.ID, n.Scope, n.State, truncate(n.Title, 50))
	}
	tw.Flush()
}

func printEdge(w io.Writer, e *model.Edge) {
	fmt.Fprintf(w, "%s -> %s  %s\n", e.From, e.To, ui.RenderEdgeKind(e.Kind))
	fmt.Fprintf(w, "Project:     %s\n", e.ProjectID)
	if e.CreatedBy != "" {
		fmt.Fprintf(w, "Created By:  %s\n", e.CreatedBy)
	}
	if !e.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created At:  %s\n", e.CreatedAt.Local().Format(timeLayout))
	}
	if e.Note != "" {
		fmt.Fprintf(w, "Note:        %s\n", e.Note)
	}
}

func printCycleCheck(w io.Writer, c *model.CycleCheck) {
	if !c.WouldCreateCycle {
		fmt.Fprintf(w, "%s -> %s can be added\n", c.From, c.To)
		return
	}
	fmt.Fprintf(w, "%s %s -> %s would create a cycle\n", ui.RenderError("rejected:"), c.From, c.To)
	fmt.Fprintf(w, "  %s\n", strings.Join(c.Cycle, " -> "))
}

func printDependencies(w io.Writer, s *model.DependencySummary) {
	fmt.Fprintf(w, "%s  %s\n", s.Node.ID, ui.RenderState(s.Node.State, !s.Ready && s.Node.IsOpen()))
	section := func(title string, nodes []*model.Node) {
		fmt.Fprintf(w, "\n%s\n", ui.RenderAccent(title))
		if len(nodes) == 0 {
			fmt.Fprintln(w, "  "+ui.RenderMuted("(none)"))
			return
		}
		for _, n := range nodes {
			fmt.Fprintf(w, "  %s  %s\n", n.ID, ui.RenderState(n.State, false))
		}
	}
	section("Blocked by:", s.BlockedBy)
	section("Blocking:", s.Blocking)
}

func printGraph(w io.Writer, g *model.GraphSnapshot) {
	scope := "project " + g.Scope.ProjectID
	if g.Scope.TicketID != "" {
		scope = "ticket " + g.Scope.TicketID
	}
	fmt.Fprintln(w, ui.RenderAccent("Graph for "+scope))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCOPE\tSTATE\tBLOCKS\tTITLE")
	for _, n := range g.Nodes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			n.ID, n.Scope, ui.RenderState(n.State, n.IsBlocked), n.BlocksCount, truncate(n.Title, 50))
	}
	tw.Flush()

	if len(g.Edges) > 0 {
		fmt.Fprintf(w, "\n%s\n", ui.RenderAccent("Edges:"))
		for _, e := range g.Edges {
			fmt.Fprintf(w, "  %s -> %s  %s\n", e.From, e.To, ui.RenderEdgeKind(e.Kind))
		}
	}

	m := g.Metadata
	fmt.Fprintf(w, "\n%d nodes, %d edges, %d blocked, %d resolved\n",
		m.TotalNodes, m.TotalEdges, m.BlockedCount, m.ResolvedCount)
	if m.CriticalPathLength > 0 {
		fmt.Fprintf(w, "critical path (%d): %s\n", m.CriticalPathLength, strings.Join(m.CriticalPath, " -> "))
	}
}

func printPlanResult(w io.Writer, r *plan.Result, took time.Duration) {
	list := func(label string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(w, "%s\n", label)
		for _, it := range items {
			fmt.Fprintf(w, "  %s\n", it)
		}
	}
	list(ui.RenderAccent("Created nodes:"), r.CreatedNodes)
	list(ui.RenderAccent("Created edges:"), r.CreatedEdges)
	list(ui.RenderMuted("Already present:"), append(append([]string{}, r.ExistingNodes...), r.ExistingEdges...))
	fmt.Fprintf(w, "\n%d nodes and %d edges created in %s\n",
		len(r.CreatedNodes), len(r.CreatedEdges), took.Round(time.Millisecond))
}
