// Package client provides a transport-agnostic interface for the depgraph
// service, with HTTP/JSON and gRPC implementations. Both restore taxonomy
// errors, so callers can match failures with errors.Is against the model
// sentinels.
package client

import (
	"context"

	"github.com/alfredjeanlab/depgraph/internal/api"
	"github.com/alfredjeanlab/depgraph/internal/model"
)

// GraphClient is the interface that all depgraph CLI commands use to
// communicate with the server. It is implemented by HTTPClient and
// GRPCClient.
type GraphClient interface {
	// Nodes
	CreateNode(ctx context.Context, req *api.CreateNodeRequest) (*model.Node, error)
	GetNode(ctx context.Context, id string) (*model.Node, error)
	ResolveNode(ctx context.Context, id, actor string) (*api.StateChangeResponse, error)
	ReopenNode(ctx context.Context, id, actor string) (*api.StateChangeResponse, error)
	DeleteNode(ctx context.Context, id, actor string) (*api.DeleteNodeResponse, error)

	// Readiness
	Blocking(ctx context.Context, id string) ([]*model.Node, error)
	BlockedBy(ctx context.Context, id string) ([]*model.Node, error)
	Dependencies(ctx context.Context, id string) (*model.DependencySummary, error)

	// Edges
	AddEdge(ctx context.Context, req *api.AddEdgeRequest) (*model.Edge, error)
	GetEdge(ctx context.Context, from, to string) (*model.Edge, error)
	RemoveEdge(ctx context.Context, from, to, actor string) (*model.Edge, error)
	CheckEdge(ctx context.Context, from, to string) (*model.CycleCheck, error)

	// Graph
	Graph(ctx context.Context, req *api.GraphRequest) (*model.GraphSnapshot, error)

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

var (
	_ GraphClient = (*HTTPClient)(nil)
	_ GraphClient = (*GRPCClient)(nil)
)

// restoreError rebuilds a taxonomy error from a wire code and message. It
// returns nil when the code is unknown.
func restoreError(code, message string) error {
	if code == "" || model.ErrorForCode(code) == nil {
		return nil
	}
	return &model.CodedError{Code: code, Message: message}
}
