package graph

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/depgraph/internal/model"
	"github.com/alfredjeanlab/depgraph/internal/store"
)

// BlockedBy returns the open direct predecessors of id: the nodes that
// currently block it.
func (e *Engine) BlockedBy(ctx context.Context, id string) ([]*model.Node, error) {
	var nodes []*model.Node
	err := e.viewNode(ctx, id, func(r store.Reader) (err error) {
		nodes, err = blockedBy(ctx, r, id)
		return err
	})
	return nodes, err
}

// Blocking returns the open direct successors of id: the nodes it blocks.
func (e *Engine) Blocking(ctx context.Context, id string) ([]*model.Node, error) {
	var nodes []*model.Node
	err := e.viewNode(ctx, id, func(r store.Reader) (err error) {
		nodes, err = blocking(ctx, r, id)
		return err
	})
	return nodes, err
}

// Dependencies returns a node with both readiness relations, read from one
// snapshot. The node is ready when nothing open blocks it.
func (e *Engine) Dependencies(ctx context.Context, id string) (*model.DependencySummary, error) {
	var sum model.DependencySummary
	err := e.viewNode(ctx, id, func(r store.Reader) (err error) {
		if sum.Node, err = r.GetNode(ctx, id); err != nil {
			return fmt.Errorf("node %s: %w", id, err)
		}
		if sum.BlockedBy, err = blockedBy(ctx, r, id); err != nil {
			return err
		}
		sum.Blocking, err = blocking(ctx, r, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	sum.Ready = len(sum.BlockedBy) == 0
	return &sum, nil
}

// viewNode runs fn on a snapshot of the project that owns id, after
// confirming id still exists in that snapshot.
func (e *Engine) viewNode(ctx context.Context, id string, fn func(r store.Reader) error) error {
	projectID, err := e.projectOf(ctx, id)
	if err != nil {
		return err
	}
	return e.store.ViewProject(ctx, projectID, func(r store.Reader) error {
		if _, err := r.GetNode(ctx, id); err != nil {
			return fmt.Errorf("node %s: %w", id, err)
		}
		return fn(r)
	})
}

func blockedBy(ctx context.Context, r store.Reader, id string) ([]*model.Node, error) {
	in, err := r.IncomingEdges(ctx, id)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(in))
	for i, e := range in {
		ids[i] = e.From
	}
	return openNodes(ctx, r, ids)
}

func blocking(ctx context.Context, r store.Reader, id string) ([]*model.Node, error) {
	out, err := r.OutgoingEdges(ctx, id)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(out))
	for i, e := range out {
		ids[i] = e.To
	}
	return openNodes(ctx, r, ids)
}

// openNodes loads ids, keeping only open nodes. The store returns edges in
// creation order of the far endpoint, so the result is in creation order.
func openNodes(ctx context.Context, r store.Reader, ids []string) ([]*model.Node, error) {
	nodes := []*model.Node{}
	for _, id := range ids {
		n, err := r.GetNode(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", id, err)
		}
		if n.IsOpen() {
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}
