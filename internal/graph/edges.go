package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/depgraph/internal/model"
	"github.com/alfredjeanlab/depgraph/internal/store"
)

// EdgeInput describes a "From blocks To" edge to insert. An empty Kind
// means declared.
type EdgeInput struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	Kind      model.EdgeKind `json:"kind,omitempty"`
	CreatedBy string         `json:"created_by,omitempty"`
	Note      string         `json:"note,omitempty"`
}

// AddEdge inserts an edge after checking, in order: self-loop, endpoint
// existence, project membership, duplicates and cycles. The cycle check and
// the insert share one project transaction.
func (e *Engine) AddEdge(ctx context.Context, in EdgeInput) (*model.Edge, error) {
	edge := &model.Edge{
		From:      in.From,
		To:        in.To,
		Kind:      in.Kind,
		CreatedBy: in.CreatedBy,
		Note:      in.Note,
	}
	if edge.Kind == "" {
		edge.Kind = model.EdgeDeclared
	}
	if err := model.ValidateEdge(edge); err != nil {
		return nil, err
	}

	projectID, err := e.edgeProject(ctx, edge.From, edge.To)
	if err != nil {
		return nil, err
	}
	edge.ProjectID = projectID

	err = e.store.RunInProject(ctx, projectID, func(tx store.Tx) error {
		if err := checkInsert(ctx, tx, edge.From, edge.To); err != nil {
			return err
		}
		edge.CreatedAt = e.now()
		if err := tx.AddEdge(ctx, edge); err != nil {
			return fmt.Errorf("add edge %s -> %s: %w", edge.From, edge.To, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// CheckEdge runs the AddEdge validation without inserting anything. A
// would-be cycle is reported in the result; every other rejection is
// returned as an error.
func (e *Engine) CheckEdge(ctx context.Context, from, to string) (*model.CycleCheck, error) {
	if err := model.ValidateEdge(&model.Edge{From: from, To: to, Kind: model.EdgeDeclared}); err != nil {
		return nil, err
	}
	projectID, err := e.edgeProject(ctx, from, to)
	if err != nil {
		return nil, err
	}

	check := &model.CycleCheck{From: from, To: to}
	err = e.store.ViewProject(ctx, projectID, func(r store.Reader) error {
		return checkInsert(ctx, r, from, to)
	})
	var cycle *model.CycleError
	switch {
	case errors.As(err, &cycle):
		check.WouldCreateCycle = true
		check.Cycle = cycle.Path
	case err != nil:
		return nil, err
	}
	return check, nil
}

// RemoveEdge deletes the edge from -> to and returns it. Removal never
// needs a cycle check.
func (e *Engine) RemoveEdge(ctx context.Context, from, to string) (*model.Edge, error) {
	n, err := e.store.GetNode(ctx, from)
	if errors.Is(err, model.ErrNodeNotFound) {
		return nil, fmt.Errorf("edge %s -> %s: %w", from, to, model.ErrEdgeNotFound)
	}
	if err != nil {
		return nil, err
	}

	var removed *model.Edge
	err = e.store.RunInProject(ctx, n.ProjectID, func(tx store.Tx) (err error) {
		removed, err = tx.RemoveEdge(ctx, from, to)
		if err != nil {
			return fmt.Errorf("edge %s -> %s: %w", from, to, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// GetEdge returns the edge from -> to.
func (e *Engine) GetEdge(ctx context.Context, from, to string) (*model.Edge, error) {
	edge, err := e.store.GetEdge(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("edge %s -> %s: %w", from, to, err)
	}
	return edge, nil
}

// edgeProject resolves the shared project of both endpoints.
func (e *Engine) edgeProject(ctx context.Context, from, to string) (string, error) {
	if from == to {
		return "", fmt.Errorf("edge %s -> %s: %w", from, to, model.ErrSelfLoop)
	}
	fromProject, err := e.projectOf(ctx, from)
	if err != nil {
		return "", err
	}
	toProject, err := e.projectOf(ctx, to)
	if err != nil {
		return "", err
	}
	if fromProject != toProject {
		return "", fmt.Errorf("edge %s (%s) -> %s (%s): %w", from, fromProject, to, toProject, model.ErrCrossProjectEdge)
	}
	return fromProject, nil
}

// checkInsert validates from -> to against a project view. Endpoints are
// looked up again because they may have been deleted since edgeProject ran.
func checkInsert(ctx context.Context, r store.Reader, from, to string) error {
	for _, id := range []string{from, to} {
		if _, err := r.GetNode(ctx, id); err != nil {
			return fmt.Errorf("node %s: %w", id, err)
		}
	}

	_, err := r.GetEdge(ctx, from, to)
	switch {
	case err == nil:
		return fmt.Errorf("edge %s -> %s: %w", from, to, model.ErrDuplicateEdge)
	case !errors.Is(err, model.ErrEdgeNotFound):
		return err
	}

	path, err := findPath(ctx, r, to, from)
	if err != nil {
		return err
	}
	if path != nil {
		return &model.CycleError{From: from, To: to, Path: append([]string{from}, path...)}
	}
	return nil
}
