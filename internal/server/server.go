package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alfredjeanlab/depgraph/internal/api"
	"github.com/alfredjeanlab/depgraph/internal/discovery"
	"github.com/alfredjeanlab/depgraph/internal/events"
	"github.com/alfredjeanlab/depgraph/internal/graph"
	"github.com/alfredjeanlab/depgraph/internal/model"
)

// GraphServer exposes the graph engine over HTTP and gRPC. Every accepted
// mutation is published as an event after it commits.
type GraphServer struct {
	engine    *graph.Engine
	publisher events.Publisher
	sseHub    *sseHub
	roster    *discovery.Roster
}

// NewGraphServer returns a GraphServer backed by the given engine and
// publisher.
func NewGraphServer(e *graph.Engine, p events.Publisher) *GraphServer {
	if p == nil {
		p = &events.NoopPublisher{}
	}
	return &GraphServer{
		engine:    e,
		publisher: p,
		sseHub:    newSSEHub(),
	}
}

// Engine returns the engine the server mutates.
func (s *GraphServer) Engine() *graph.Engine {
	return s.engine
}

// SetRoster exposes roster on GET /v1/discovery/agents. Call it before
// NewHTTPHandler.
func (s *GraphServer) SetRoster(r *discovery.Roster) {
	s.roster = r
}

// Publish implements events.Publisher so components outside the request
// path (such as the discovery intake) reach the same NATS and SSE fan-out.
// event must be a *model.Event.
func (s *GraphServer) Publish(ctx context.Context, topic string, event any) error {
	evt, ok := event.(*model.Event)
	if !ok {
		return inputError("event must be a *model.Event")
	}
	err := s.publisher.Publish(ctx, topic, evt)
	s.broadcastEvent(topic, evt)
	return err
}

// Close is a no-op; the underlying publisher is owned by the caller.
func (s *GraphServer) Close() error { return nil }

// recordAndPublish wraps payload in an event envelope and publishes it to
// NATS and to SSE clients. Both are best-effort; failures are logged but do
// not fail the caller.
func (s *GraphServer) recordAndPublish(ctx context.Context, topic, projectID, actor string, payload any) {
	evt, err := events.NewEvent(topic, projectID, actor, payload)
	if err != nil {
		slog.Warn("failed to marshal event", "topic", topic, "project_id", projectID, "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, topic, evt); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "project_id", projectID, "error", err)
	}
	s.broadcastEvent(topic, evt)
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

func (e inputError) Is(target error) bool { return target == model.ErrInvalidArgument }

func requireID(name, v string) error {
	if v == "" {
		return inputError(name + " is required")
	}
	return nil
}

// Health reports that the server is serving.
func (s *GraphServer) Health(_ context.Context, _ *api.HealthRequest) (*api.HealthResponse, error) {
	return &api.HealthResponse{Status: "ok"}, nil
}

// CreateNode registers a ticket or task.
func (s *GraphServer) CreateNode(ctx context.Context, req *api.CreateNodeRequest) (*model.Node, error) {
	n, err := s.engine.CreateNode(ctx, graph.NodeInput{
		ID:        req.ID,
		Scope:     req.Scope,
		ProjectID: req.ProjectID,
		ParentID:  req.ParentID,
		Title:     req.Title,
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		return nil, err
	}
	s.recordAndPublish(ctx, events.TopicNodeCreated, n.ProjectID, n.CreatedBy, events.NodeCreated{Node: n})
	return n, nil
}

// GetNode returns a node by id.
func (s *GraphServer) GetNode(ctx context.Context, req *api.NodeRequest) (*model.Node, error) {
	if err := requireID("id", req.ID); err != nil {
		return nil, err
	}
	return s.engine.GetNode(ctx, req.ID)
}

// ResolveNode marks a node resolved.
func (s *GraphServer) ResolveNode(ctx context.Context, req *api.NodeRequest) (*api.StateChangeResponse, error) {
	if err := requireID("id", req.ID); err != nil {
		return nil, err
	}
	n, changed, err := s.engine.Resolve(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if changed {
		s.recordAndPublish(ctx, events.TopicNodeResolved, n.ProjectID, req.Actor, events.NodeResolved{Node: n})
	}
	return &api.StateChangeResponse{Node: n, Changed: changed}, nil
}

// ReopenNode marks a resolved node open again.
func (s *GraphServer) ReopenNode(ctx context.Context, req *api.NodeRequest) (*api.StateChangeResponse, error) {
	if err := requireID("id", req.ID); err != nil {
		return nil, err
	}
	n, changed, err := s.engine.Reopen(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if changed {
		s.recordAndPublish(ctx, events.TopicNodeReopened, n.ProjectID, req.Actor, events.NodeReopened{Node: n})
	}
	return &api.StateChangeResponse{Node: n, Changed: changed}, nil
}

// DeleteNode removes a node together with its edges.
func (s *GraphServer) DeleteNode(ctx context.Context, req *api.NodeRequest) (*api.DeleteNodeResponse, error) {
	if err := requireID("id", req.ID); err != nil {
		return nil, err
	}
	n, removed, err := s.engine.DeleteNode(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if removed == nil {
		removed = []*model.Edge{}
	}
	s.recordAndPublish(ctx, events.TopicNodeDeleted, n.ProjectID, req.Actor, events.NodeDeleted{Node: n, RemovedEdges: removed})
	return &api.DeleteNodeResponse{Node: n, RemovedEdges: removed}, nil
}

// BlockedBy lists the open nodes that block req.ID.
func (s *GraphServer) BlockedBy(ctx context.Context, req *api.NodeRequest) (*api.NodesResponse, error) {
	if err := requireID("id", req.ID); err != nil {
		return nil, err
	}
	nodes, err := s.engine.BlockedBy(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &api.NodesResponse{Nodes: nonNilNodes(nodes)}, nil
}

// Blocking lists the open nodes req.ID blocks.
func (s *GraphServer) Blocking(ctx context.Context, req *api.NodeRequest) (*api.NodesResponse, error) {
	if err := requireID("id", req.ID); err != nil {
		return nil, err
	}
	nodes, err := s.engine.Blocking(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &api.NodesResponse{Nodes: nonNilNodes(nodes)}, nil
}

// Dependencies returns a node's dependency summary.
func (s *GraphServer) Dependencies(ctx context.Context, req *api.NodeRequest) (*model.DependencySummary, error) {
	if err := requireID("id", req.ID); err != nil {
		return nil, err
	}
	return s.engine.Dependencies(ctx, req.ID)
}

// AddEdge inserts a dependency edge. Cycle and duplicate rejections are
// published as edge.rejected events before the error is returned.
func (s *GraphServer) AddEdge(ctx context.Context, req *api.AddEdgeRequest) (*model.Edge, error) {
	in := graph.EdgeInput{
		From:      req.From,
		To:        req.To,
		Kind:      req.Kind,
		CreatedBy: req.CreatedBy,
		Note:      req.Note,
	}
	edge, err := s.engine.AddEdge(ctx, in)
	if err != nil {
		if rej, ok := events.NewEdgeRejected(in.From, in.To, in.Kind, err); ok {
			if n, gerr := s.engine.GetNode(ctx, in.From); gerr == nil {
				s.recordAndPublish(ctx, events.TopicEdgeRejected, n.ProjectID, req.CreatedBy, rej)
			}
		}
		return nil, err
	}
	s.recordAndPublish(ctx, events.TopicEdgeAdded, edge.ProjectID, edge.CreatedBy, events.EdgeAdded{Edge: edge})
	return edge, nil
}

// GetEdge returns the edge From -> To.
func (s *GraphServer) GetEdge(ctx context.Context, req *api.EdgeRequest) (*model.Edge, error) {
	if err := requireEndpoints(req); err != nil {
		return nil, err
	}
	return s.engine.GetEdge(ctx, req.From, req.To)
}

// RemoveEdge deletes the edge From -> To.
func (s *GraphServer) RemoveEdge(ctx context.Context, req *api.EdgeRequest) (*model.Edge, error) {
	if err := requireEndpoints(req); err != nil {
		return nil, err
	}
	edge, err := s.engine.RemoveEdge(ctx, req.From, req.To)
	if err != nil {
		return nil, err
	}
	s.recordAndPublish(ctx, events.TopicEdgeRemoved, edge.ProjectID, req.Actor, events.EdgeRemoved{Edge: edge})
	return edge, nil
}

// CheckEdge reports whether From -> To could be inserted.
func (s *GraphServer) CheckEdge(ctx context.Context, req *api.EdgeRequest) (*model.CycleCheck, error) {
	if err := requireEndpoints(req); err != nil {
		return nil, err
	}
	return s.engine.CheckEdge(ctx, req.From, req.To)
}

// GetGraph builds a project or ticket snapshot.
func (s *GraphServer) GetGraph(ctx context.Context, req *api.GraphRequest) (*model.GraphSnapshot, error) {
	return s.engine.BuildGraph(ctx, req.Scope(), req.Options())
}

func requireEndpoints(req *api.EdgeRequest) error {
	return errors.Join(requireID("from", req.From), requireID("to", req.To))
}

func nonNilNodes(nodes []*model.Node) []*model.Node {
	if nodes == nil {
		return []*model.Node{}
	}
	return nodes
}
