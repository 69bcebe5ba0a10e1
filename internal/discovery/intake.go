// Package discovery applies dependencies that agents discover while
// executing tasks. Agents publish events.DiscoveryRequest messages on
// depgraph.discovery.<project>; the intake inserts each one as a discovered
// edge. Rejected requests are terminal and never retried; requests that hit
// an unavailable store are retried with backoff before being given up on.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/depgraph/internal/api"
	"github.com/alfredjeanlab/depgraph/internal/events"
	"github.com/alfredjeanlab/depgraph/internal/model"
)

// EdgeAdder inserts edges. The server's AddEdge satisfies it and publishes
// the resulting edge.added or edge.rejected event.
type EdgeAdder interface {
	AddEdge(ctx context.Context, req *api.AddEdgeRequest) (*model.Edge, error)
}

// Retry policy for store outages. The delay doubles after every attempt.
const (
	defaultAttempts = 5
	defaultBackoff  = 100 * time.Millisecond
	maxBackoff      = 5 * time.Second
)

// Intake turns discovery requests into discovered edges.
type Intake struct {
	edges  EdgeAdder
	roster *Roster
	logger *slog.Logger

	attempts int
	backoff  time.Duration
}

// NewIntake returns an Intake that inserts through edges. roster may be nil.
func NewIntake(edges EdgeAdder, roster *Roster, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{
		edges:    edges,
		roster:   roster,
		logger:   logger,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
	}
}

// Apply inserts one discovery request as a discovered edge. A retryable
// store failure is attempted again until the attempts run out or ctx ends.
func (in *Intake) Apply(ctx context.Context, req events.DiscoveryRequest) (*model.Edge, error) {
	if req.From == "" || req.To == "" {
		return nil, fmt.Errorf("discovery from %q: from and to are required: %w", req.AgentID, model.ErrInvalidArgument)
	}
	edge, err := in.addWithRetry(ctx, &api.AddEdgeRequest{
		From:      req.From,
		To:        req.To,
		Kind:      model.EdgeDiscovered,
		CreatedBy: req.AgentID,
		Note:      req.Note,
	})
	if in.roster != nil {
		project := ""
		if edge != nil {
			project = edge.ProjectID
		}
		in.roster.Record(req.AgentID, project, OutcomeOf(err))
	}
	return edge, err
}

func (in *Intake) addWithRetry(ctx context.Context, req *api.AddEdgeRequest) (*model.Edge, error) {
	delay := in.backoff
	for attempt := 1; ; attempt++ {
		edge, err := in.edges.AddEdge(ctx, req)
		if err == nil || !model.Retryable(err) || attempt >= in.attempts {
			return edge, err
		}
		in.logger.Warn("discovery: store unavailable, retrying",
			"from", req.From, "to", req.To, "attempt", attempt, "delay", delay, "err", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, err
		case <-t.C:
		}
		delay = min(delay*2, maxBackoff)
	}
}

// Run subscribes to subject (typically "depgraph.discovery.>") and applies
// every request until ctx is cancelled or the subscription closes.
// Malformed payloads and rejections are logged and dropped.
func (in *Intake) Run(ctx context.Context, sub events.Subscriber, subject string) error {
	ch, cancel, err := sub.Subscribe(subject)
	if err != nil {
		return fmt.Errorf("discovery: subscribe: %w", err)
	}
	defer cancel()

	in.logger.Info("discovery: intake started", "subject", subject)

	for {
		select {
		case <-ctx.Done():
			in.logger.Info("discovery: intake stopping")
			return nil
		case raw, ok := <-ch:
			if !ok {
				in.logger.Info("discovery: subscription channel closed")
				return nil
			}
			in.handle(ctx, raw)
		}
	}
}

func (in *Intake) handle(ctx context.Context, raw []byte) {
	var req events.DiscoveryRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		in.logger.Warn("discovery: bad request payload", "err", err)
		return
	}

	edge, err := in.Apply(ctx, req)
	switch {
	case err == nil:
		in.logger.Info("discovery: edge added",
			"from", edge.From, "to", edge.To, "project_id", edge.ProjectID, "agent_id", req.AgentID)
	case model.Retryable(err):
		in.logger.Error("discovery: edge not applied, store unavailable",
			"from", req.From, "to", req.To, "agent_id", req.AgentID, "attempts", in.attempts, "err", err)
	case errors.Is(err, model.ErrWouldCreateCycle), errors.Is(err, model.ErrDuplicateEdge):
		in.logger.Warn("discovery: edge rejected",
			"from", req.From, "to", req.To, "agent_id", req.AgentID, "code", model.Code(err), "err", err)
	default:
		in.logger.Error("discovery: edge not applied",
			"from", req.From, "to", req.To, "agent_id", req.AgentID, "code", model.Code(err), "err", err)
	}
}
