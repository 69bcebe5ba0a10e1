// Package events defines the graph event topics and payloads and the
// publisher/subscriber abstractions over NATS.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/depgraph/internal/model"
)

// Event topic constants
const (
	TopicNodeCreated  = "depgraph.node.created"
	TopicNodeResolved = "depgraph.node.resolved"
	TopicNodeReopened = "depgraph.node.reopened"
	TopicNodeDeleted  = "depgraph.node.deleted"

	TopicEdgeAdded    = "depgraph.edge.added"
	TopicEdgeRemoved  = "depgraph.edge.removed"
	TopicEdgeRejected = "depgraph.edge.rejected"

	// TopicAll matches every graph event topic.
	TopicAll = "depgraph.>"
)

// DiscoveryPrefix is the subject prefix agents publish discovered
// dependencies on, one subject per project.
const DiscoveryPrefix = "depgraph.discovery."

// DiscoverySubject returns the discovery subject for a project.
func DiscoverySubject(projectID string) string {
	return DiscoveryPrefix + projectID
}

// Event types

type NodeCreated struct {
	Node *model.Node `json:"node"`
}

type NodeResolved struct {
	Node *model.Node `json:"node"`
}

type NodeReopened struct {
	Node *model.Node `json:"node"`
}

type NodeDeleted struct {
	Node         *model.Node   `json:"node"`
	RemovedEdges []*model.Edge `json:"removed_edges"`
}

type EdgeAdded struct {
	Edge *model.Edge `json:"edge"`
}

type EdgeRemoved struct {
	Edge *model.Edge `json:"edge"`
}

// EdgeRejected reports an edge insertion the engine refused.
type EdgeRejected struct {
	From   string         `json:"from"`
	To     string         `json:"to"`
	Kind   model.EdgeKind `json:"kind"`
	Code   string         `json:"code"`
	Reason string         `json:"reason"`
	Cycle  []string       `json:"cycle,omitempty"`
}

// NewEdgeRejected describes a refused insertion. It reports false for errors
// that are not terminal rejections (cycles and duplicates); those are not
// announced.
func NewEdgeRejected(from, to string, kind model.EdgeKind, err error) (EdgeRejected, bool) {
	if !errors.Is(err, model.ErrWouldCreateCycle) && !errors.Is(err, model.ErrDuplicateEdge) {
		return EdgeRejected{}, false
	}
	if kind == "" {
		kind = model.EdgeDeclared
	}
	rej := EdgeRejected{
		From:   from,
		To:     to,
		Kind:   kind,
		Code:   model.Code(err),
		Reason: err.Error(),
	}
	var cycle *model.CycleError
	if errors.As(err, &cycle) {
		rej.Cycle = cycle.Path
	}
	return rej, true
}

// DiscoveryRequest is published by an agent that found, while executing a
// task, that From must finish before To.
type DiscoveryRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	AgentID string `json:"agent_id"`
	Note    string `json:"note,omitempty"`
}

// NewEvent wraps payload in the envelope every publisher carries.
func NewEvent(topic, projectID, actor string, payload any) (*model.Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", topic, err)
	}
	return &model.Event{
		Topic:     topic,
		ProjectID: projectID,
		Actor:     actor,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Publisher emits graph events. Publishing is best-effort: callers log
// failures and never undo the mutation that produced the event.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Subscriber delivers raw payloads published on a subject. The cancel
// function unsubscribes and closes the channel; calling it twice is safe.
type Subscriber interface {
	Subscribe(subject string) (<-chan []byte, func(), error)
	Close() error
}

// NoopPublisher discards events. It stands in when NATS is not configured.
type NoopPublisher struct{}

func (*NoopPublisher) Publish(context.Context, string, any) error { return nil }
func (*NoopPublisher) Close() error                               { return nil }
