package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/depgraph/internal/idgen"
	"github.com/alfredjeanlab/depgraph/internal/model"
	"github.com/alfredjeanlab/depgraph/internal/store"
)

// NodeInput describes a node to register. An empty ID is replaced by a
// generated one.
type NodeInput struct {
	ID        string      `json:"id,omitempty"`
	Scope     model.Scope `json:"scope"`
	ProjectID string      `json:"project_id"`
	ParentID  string      `json:"parent_id,omitempty"`
	Title     string      `json:"title,omitempty"`
	CreatedBy string      `json:"created_by,omitempty"`
}

// CreateNode registers a ticket or task. Tasks must name an existing ticket
// of the same project as parent; tickets must not have a parent.
func (e *Engine) CreateNode(ctx context.Context, in NodeInput) (*model.Node, error) {
	id := in.ID
	if id == "" && in.Scope.IsValid() {
		var err error
		if id, err = idgen.ForScope(in.Scope); err != nil {
			return nil, err
		}
	}

	now := e.now()
	n := &model.Node{
		ID:        id,
		Scope:     in.Scope,
		ProjectID: in.ProjectID,
		ParentID:  in.ParentID,
		Title:     in.Title,
		State:     model.StateOpen,
		CreatedAt: now,
		CreatedBy: in.CreatedBy,
		UpdatedAt: now,
	}
	if err := model.ValidateNode(n); err != nil {
		return nil, err
	}

	switch {
	case n.Scope == model.ScopeTicket && n.ParentID != "":
		return nil, fmt.Errorf("ticket %s cannot have a parent: %w", n.ID, model.ErrInvalidParent)
	case n.Scope == model.ScopeTask && n.ParentID == "":
		return nil, fmt.Errorf("task %s requires a parent ticket: %w", n.ID, model.ErrInvalidParent)
	}

	err := e.store.RunInProject(ctx, n.ProjectID, func(tx store.Tx) error {
		if n.Scope == model.ScopeTask {
			parent, err := tx.GetNode(ctx, n.ParentID)
			if err != nil && !errors.Is(err, model.ErrNodeNotFound) {
				return err
			}
			if parent == nil || parent.Scope != model.ScopeTicket {
				return fmt.Errorf("parent %s is not a ticket in project %s: %w", n.ParentID, n.ProjectID, model.ErrInvalidParent)
			}
		}
		if err := tx.CreateNode(ctx, n); err != nil {
			return fmt.Errorf("create node %s: %w", n.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// GetNode returns the node with the given id.
func (e *Engine) GetNode(ctx context.Context, id string) (*model.Node, error) {
	n, err := e.store.GetNode(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", id, err)
	}
	return n, nil
}

// Resolve marks a node resolved. changed is false when it already was.
func (e *Engine) Resolve(ctx context.Context, id string) (n *model.Node, changed bool, err error) {
	return e.setState(ctx, id, model.StateResolved)
}

// Reopen marks a node open again. changed is false when it already was.
func (e *Engine) Reopen(ctx context.Context, id string) (n *model.Node, changed bool, err error) {
	return e.setState(ctx, id, model.StateOpen)
}

func (e *Engine) setState(ctx context.Context, id string, state model.State) (*model.Node, bool, error) {
	projectID, err := e.projectOf(ctx, id)
	if err != nil {
		return nil, false, err
	}

	var (
		result  *model.Node
		changed bool
	)
	err = e.store.RunInProject(ctx, projectID, func(tx store.Tx) error {
		cur, err := tx.GetNode(ctx, id)
		if err != nil {
			return fmt.Errorf("node %s: %w", id, err)
		}
		if cur.State == state {
			result = cur
			return nil
		}
		result, err = tx.SetNodeState(ctx, id, state, e.now())
		if err != nil {
			return fmt.Errorf("set node %s %s: %w", id, state, err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

// DeleteNode removes a node together with every edge touching it and
// returns both. A ticket can only be deleted once its tasks are gone.
func (e *Engine) DeleteNode(ctx context.Context, id string) (*model.Node, []*model.Edge, error) {
	projectID, err := e.projectOf(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	var (
		deleted *model.Node
		removed []*model.Edge
	)
	err = e.store.RunInProject(ctx, projectID, func(tx store.Tx) error {
		n, err := tx.GetNode(ctx, id)
		if err != nil {
			return fmt.Errorf("node %s: %w", id, err)
		}
		if n.Scope == model.ScopeTicket {
			tasks, err := tx.ListTicketTasks(ctx, id)
			if err != nil {
				return err
			}
			if len(tasks) > 0 {
				return fmt.Errorf("ticket %s owns %d tasks: %w", id, len(tasks), model.ErrTicketHasTasks)
			}
		}
		removed, err = tx.DeleteNode(ctx, id)
		if err != nil {
			return fmt.Errorf("delete node %s: %w", id, err)
		}
		deleted = n
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return deleted, removed, nil
}
