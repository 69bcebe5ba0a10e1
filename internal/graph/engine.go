// Package graph implements the dependency graph engine: node registration,
// cycle-checked edge insertion, filtered graph snapshots and readiness
// queries over a project-partitioned store.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/depgraph/internal/store"
)

// Engine enforces the graph invariants on top of a store. Every mutation
// runs inside the store's per-project transaction, so validation and commit
// are never interleaved with another write to the same project.
type Engine struct {
	store store.Store
	now   func() time.Time
}

// New returns an Engine backed by s.
func New(s store.Store) *Engine {
	return &Engine{
		store: s,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store {
	return e.store
}

// projectOf returns the project a node belongs to. A node's project never
// changes, so reading it outside the project transaction is safe.
func (e *Engine) projectOf(ctx context.Context, id string) (string, error) {
	n, err := e.store.GetNode(ctx, id)
	if err != nil {
		return "", fmt.Errorf("node %s: %w", id, err)
	}
	return n.ProjectID, nil
}
