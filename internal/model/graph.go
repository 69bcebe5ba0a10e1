package model

// GraphScope selects the partition a snapshot is built from. Exactly one of
// ProjectID and TicketID is set.
type GraphScope struct {
	ProjectID string `json:"project_id,omitempty"`
	TicketID  string `json:"ticket_id,omitempty"`
}

// ProjectScope returns a scope covering a whole project.
func ProjectScope(projectID string) GraphScope {
	return GraphScope{ProjectID: projectID}
}

// TicketScope returns a scope covering the tasks of one ticket.
func TicketScope(ticketID string) GraphScope {
	return GraphScope{TicketID: ticketID}
}

// GraphOptions controls which nodes and edges a snapshot includes.
type GraphOptions struct {
	IncludeResolved    bool `json:"include_resolved"`
	IncludeDiscoveries bool `json:"include_discoveries"`
}

// GraphNode is a node as it appears in a snapshot, with readiness facts
// derived from the snapshot's own edges.
type GraphNode struct {
	Node
	IsBlocked   bool `json:"is_blocked"`
	BlocksCount int  `json:"blocks_count"`
}

// GraphEdge represents a dependency relationship as a graph edge.
type GraphEdge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// GraphMetadata holds aggregate facts about a snapshot.
type GraphMetadata struct {
	TotalNodes         int      `json:"total_nodes"`
	BlockedCount       int      `json:"blocked_count"`
	ResolvedCount      int      `json:"resolved_count"`
	TotalEdges         int      `json:"total_edges"`
	CriticalPath       []string `json:"critical_path"`
	CriticalPathLength int      `json:"critical_path_length"`
}

// GraphSnapshot is a point-in-time, filtered copy of a scope's nodes and edges.
type GraphSnapshot struct {
	Scope    GraphScope    `json:"scope"`
	Options  GraphOptions  `json:"options"`
	Nodes    []*GraphNode  `json:"nodes"`
	Edges    []*GraphEdge  `json:"edges"`
	Metadata GraphMetadata `json:"metadata"`
}

// CycleCheck is the outcome of a dry-run edge insertion.
type CycleCheck struct {
	From             string   `json:"from"`
	To               string   `json:"to"`
	WouldCreateCycle bool     `json:"would_create_cycle"`
	Cycle            []string `json:"cycle,omitempty"`
}

// DependencySummary describes a node's direct dependency neighbourhood.
type DependencySummary struct {
	Node      *Node   `json:"node"`
	BlockedBy []*Node `json:"blocked_by"`
	Blocking  []*Node `json:"blocking"`
	Ready     bool    `json:"ready"`
}
