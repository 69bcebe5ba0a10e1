// Package api defines the request and response messages shared by the HTTP
// and gRPC transports and their clients, plus the gRPC service names and
// the JSON codec the gRPC surface is carried over.
package api

import "github.com/alfredjeanlab/depgraph/internal/model"

// CreateNodeRequest registers a ticket or task. An empty ID asks the server
// to generate one.
type CreateNodeRequest struct {
	ID        string      `json:"id,omitempty"`
	Scope     model.Scope `json:"scope"`
	ProjectID string      `json:"project_id"`
	ParentID  string      `json:"parent_id,omitempty"`
	Title     string      `json:"title,omitempty"`
	CreatedBy string      `json:"created_by,omitempty"`
}

// NodeRequest addresses a single node. Actor is recorded on the events a
// mutation emits.
type NodeRequest struct {
	ID    string `json:"id"`
	Actor string `json:"actor,omitempty"`
}

// StateChangeResponse is returned by resolve and reopen. Changed is false
// when the node was already in the requested state.
type StateChangeResponse struct {
	Node    *model.Node `json:"node"`
	Changed bool        `json:"changed"`
}

// DeleteNodeResponse carries the deleted node and the edges removed with it.
type DeleteNodeResponse struct {
	Node         *model.Node   `json:"node"`
	RemovedEdges []*model.Edge `json:"removed_edges"`
}

// NodesResponse wraps a list of nodes.
type NodesResponse struct {
	Nodes []*model.Node `json:"nodes"`
}

// AddEdgeRequest inserts a "From blocks To" edge.
type AddEdgeRequest struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	Kind      model.EdgeKind `json:"kind,omitempty"`
	CreatedBy string         `json:"created_by,omitempty"`
	Note      string         `json:"note,omitempty"`
}

// EdgeRequest addresses the edge From -> To.
type EdgeRequest struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Actor string `json:"actor,omitempty"`
}

// GraphRequest selects a snapshot. Exactly one of ProjectID and TicketID is
// set.
type GraphRequest struct {
	ProjectID          string `json:"project_id,omitempty"`
	TicketID           string `json:"ticket_id,omitempty"`
	IncludeResolved    bool   `json:"include_resolved"`
	IncludeDiscoveries bool   `json:"include_discoveries"`
}

// Scope returns the graph scope the request selects.
func (r *GraphRequest) Scope() model.GraphScope {
	return model.GraphScope{ProjectID: r.ProjectID, TicketID: r.TicketID}
}

// Options returns the snapshot filters the request selects.
func (r *GraphRequest) Options() model.GraphOptions {
	return model.GraphOptions{
		IncludeResolved:    r.IncludeResolved,
		IncludeDiscoveries: r.IncludeDiscoveries,
	}
}

type HealthRequest struct{}

type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every failed HTTP request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
