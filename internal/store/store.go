package store

import (
	"context"
	"time"

	"github.com/alfredjeanlab/depgraph/internal/model"
)

// Reader is the read side of a store. Lookups that miss return the
// model.ErrNodeNotFound / model.ErrEdgeNotFound sentinels; backend failures
// are returned as *model.StoreError.
type Reader interface {
	GetNode(ctx context.Context, id string) (*model.Node, error)
	// ListNodes returns the project's nodes in creation order.
	ListNodes(ctx context.Context, projectID string) ([]*model.Node, error)
	// ListTicketTasks returns the tasks owned by a ticket in creation order.
	ListTicketTasks(ctx context.Context, ticketID string) ([]*model.Node, error)

	GetEdge(ctx context.Context, from, to string) (*model.Edge, error)
	ListEdges(ctx context.Context, projectID string) ([]*model.Edge, error)
	// OutgoingEdges returns edges whose From is id.
	OutgoingEdges(ctx context.Context, id string) ([]*model.Edge, error)
	// IncomingEdges returns edges whose To is id.
	IncomingEdges(ctx context.Context, id string) ([]*model.Edge, error)
}

// Tx is a write transaction scoped to one project partition. It only sees
// nodes and edges of that project.
type Tx interface {
	Reader

	// CreateNode inserts n and assigns n.Seq. Fails with model.ErrDuplicateID.
	CreateNode(ctx context.Context, n *model.Node) error
	// SetNodeState sets the state, updated_at and resolved_at of a node.
	SetNodeState(ctx context.Context, id string, state model.State, at time.Time) (*model.Node, error)
	// DeleteNode removes a node and every edge touching it, returning the
	// removed edges. Fails with model.ErrTicketHasTasks while tasks remain.
	DeleteNode(ctx context.Context, id string) ([]*model.Edge, error)

	// AddEdge inserts e. Fails with model.ErrDuplicateEdge.
	AddEdge(ctx context.Context, e *model.Edge) error
	// RemoveEdge deletes and returns the edge from -> to.
	RemoveEdge(ctx context.Context, from, to string) (*model.Edge, error)
}

// Store defines the persistence interface for the dependency graph. Data is
// partitioned by project: writes to one project are serialized, while
// different projects proceed independently.
type Store interface {
	Reader

	// ListProjects returns the IDs of all projects that hold nodes, sorted.
	ListProjects(ctx context.Context) ([]string, error)

	// RunInProject runs fn inside a write transaction that is serialized
	// against every other write to projectID. The transaction commits when fn
	// returns nil and rolls back otherwise.
	RunInProject(ctx context.Context, projectID string, fn func(tx Tx) error) error

	// ViewProject runs fn against a consistent read-only snapshot of projectID.
	ViewProject(ctx context.Context, projectID string, fn func(r Reader) error) error

	// Lifecycle
	Close() error
}
