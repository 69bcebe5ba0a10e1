package graph

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/depgraph/internal/model"
	"github.com/alfredjeanlab/depgraph/internal/store"
)

// BuildGraph returns a filtered, point-in-time snapshot of a project or of
// one ticket's tasks. Nodes come back in creation order and edges sorted by
// (from, to) creation order. Every edge's endpoints are in the node set.
func (e *Engine) BuildGraph(ctx context.Context, scope model.GraphScope, opts model.GraphOptions) (*model.GraphSnapshot, error) {
	if (scope.ProjectID == "") == (scope.TicketID == "") {
		return nil, fmt.Errorf("graph scope needs exactly one of project_id and ticket_id: %w", model.ErrInvalidArgument)
	}

	projectID := scope.ProjectID
	if scope.TicketID != "" {
		ticket, err := e.store.GetNode(ctx, scope.TicketID)
		if err != nil {
			return nil, fmt.Errorf("ticket %s: %w", scope.TicketID, err)
		}
		if ticket.Scope != model.ScopeTicket {
			return nil, fmt.Errorf("%s is a %s, not a ticket: %w", ticket.ID, ticket.Scope, model.ErrInvalidArgument)
		}
		projectID = ticket.ProjectID
	}

	var (
		nodes []*model.Node
		edges []*model.Edge
	)
	err := e.store.ViewProject(ctx, projectID, func(r store.Reader) (err error) {
		if scope.TicketID != "" {
			nodes, err = r.ListTicketTasks(ctx, scope.TicketID)
		} else {
			nodes, err = r.ListNodes(ctx, projectID)
		}
		if err != nil {
			return err
		}
		edges, err = r.ListEdges(ctx, projectID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return buildSnapshot(scope, opts, nodes, edges), nil
}

// buildSnapshot filters nodes and edges and derives readiness facts and
// metadata from what remains.
func buildSnapshot(scope model.GraphScope, opts model.GraphOptions, nodes []*model.Node, edges []*model.Edge) *model.GraphSnapshot {
	snap := &model.GraphSnapshot{
		Scope:   scope,
		Options: opts,
		Nodes:   []*model.GraphNode{},
		Edges:   []*model.GraphEdge{},
	}

	byID := make(map[string]*model.GraphNode, len(nodes))
	for _, n := range nodes {
		if !opts.IncludeResolved && !n.IsOpen() {
			continue
		}
		gn := &model.GraphNode{Node: *n}
		byID[n.ID] = gn
		snap.Nodes = append(snap.Nodes, gn)
	}

	for _, edge := range edges {
		if !opts.IncludeDiscoveries && edge.Kind == model.EdgeDiscovered {
			continue
		}
		from, ok := byID[edge.From]
		if !ok {
			continue
		}
		to, ok := byID[edge.To]
		if !ok {
			continue
		}
		snap.Edges = append(snap.Edges, &model.GraphEdge{From: edge.From, To: edge.To, Kind: edge.Kind})

		if from.IsOpen() && to.IsOpen() {
			to.IsBlocked = true
			from.BlocksCount++
		}
	}

	meta := &snap.Metadata
	meta.TotalNodes = len(snap.Nodes)
	meta.TotalEdges = len(snap.Edges)
	for _, n := range snap.Nodes {
		if n.IsBlocked {
			meta.BlockedCount++
		}
		if !n.IsOpen() {
			meta.ResolvedCount++
		}
	}
	meta.CriticalPath = criticalPath(snap.Nodes, snap.Edges)
	meta.CriticalPathLength = len(meta.CriticalPath)
	return snap
}

// criticalPath returns the longest chain of node ids through the edges,
// found with a topological sort followed by a longest-path pass. Ties go
// to the chain ending at the earliest-created node. A graph without edges
// has no critical path.
func criticalPath(nodes []*model.GraphNode, edges []*model.GraphEdge) []string {
	if len(edges) == 0 {
		return []string{}
	}
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	order, err := topoSort(ids, edges)
	if err != nil {
		return []string{}
	}

	out := make(map[string][]string, len(nodes))
	for _, e := range edges {
		out[e.From] = append(out[e.From], e.To)
	}

	dist := make(map[string]int, len(nodes))
	prev := make(map[string]string, len(nodes))
	for _, id := range order {
		for _, next := range out[id] {
			if dist[id]+1 > dist[next] {
				dist[next] = dist[id] + 1
				prev[next] = id
			}
		}
	}

	end, best := "", -1
	for _, id := range ids {
		if dist[id] > best {
			end, best = id, dist[id]
		}
	}

	path := []string{end}
	for id := end; prev[id] != ""; id = prev[id] {
		path = append(path, prev[id])
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// topoSort orders ids so that every edge points forward, using Kahn's
// algorithm seeded in the given order. It fails if the edges contain a cycle.
func topoSort(ids []string, edges []*model.GraphEdge) ([]string, error) {
	indeg := make(map[string]int, len(ids))
	out := make(map[string][]string, len(ids))
	for _, e := range edges {
		indeg[e.To]++
		out[e.From] = append(out[e.From], e.To)
	}

	var queue []string
	for _, id := range ids {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(ids))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range out[id] {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(order) != len(ids) {
		return nil, fmt.Errorf("graph has a cycle through %d nodes", len(ids)-len(order))
	}
	return order, nil
}
