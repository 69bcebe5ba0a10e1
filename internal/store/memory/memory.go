// Package memory implements the store.Store interface in process memory.
//
// Each project is a partition with its own RWMutex: RunInProject holds the
// write lock for the whole transaction, ViewProject holds the read lock.
// Transactions keep an undo log that is replayed when the callback fails.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/depgraph/internal/model"
	"github.com/alfredjeanlab/depgraph/internal/store"
)

// MemoryStore keeps every project partition in memory. It is safe for
// concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex // guards partitions
	partitions map[string]*partition

	// index maps node id -> project id. Lock order: partition.mu, then idxMu.
	idxMu sync.RWMutex
	index map[string]string

	seq atomic.Int64
}

// Compile-time check that MemoryStore implements store.Store.
var _ store.Store = (*MemoryStore)(nil)

// New returns an empty store.
func New() *MemoryStore {
	return &MemoryStore{
		partitions: make(map[string]*partition),
		index:      make(map[string]string),
	}
}

type partition struct {
	mu    sync.RWMutex
	nodes map[string]*model.Node
	out   map[string]map[string]*model.Edge // from -> to -> edge
	in    map[string]map[string]*model.Edge // to -> from -> edge
}

func newPartition() *partition {
	return &partition{
		nodes: make(map[string]*model.Node),
		out:   make(map[string]map[string]*model.Edge),
		in:    make(map[string]map[string]*model.Edge),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) lookup(projectID string) *partition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.partitions[projectID]
}

func (s *MemoryStore) lookupOrCreate(projectID string) *partition {
	if p := s.lookup(projectID); p != nil {
		return p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[projectID]
	if !ok {
		p = newPartition()
		s.partitions[projectID] = p
	}
	return p
}

func (s *MemoryStore) projectOf(id string) (string, bool) {
	s.idxMu.RLock()
	defer s.idxMu.RUnlock()
	pid, ok := s.index[id]
	return pid, ok
}

// ListProjects returns the IDs of every project that has held a node.
func (s *MemoryStore) ListProjects(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.partitions))
	for id, p := range s.partitions {
		p.mu.RLock()
		n := len(p.nodes)
		p.mu.RUnlock()
		if n > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// RunInProject holds the partition's write lock while fn runs. If fn returns
// an error every change it made is undone.
func (s *MemoryStore) RunInProject(ctx context.Context, projectID string, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := s.lookupOrCreate(projectID)
	p.mu.Lock()
	defer p.mu.Unlock()

	tx := &txStore{store: s, view: view{p: p}, projectID: projectID}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// ViewProject holds the partition's read lock while fn runs.
func (s *MemoryStore) ViewProject(ctx context.Context, projectID string, fn func(r store.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := s.lookup(projectID)
	if p == nil {
		return fn(view{p: newPartition()})
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return fn(view{p: p})
}

// withNode runs fn on a read view of the partition that owns id.
func (s *MemoryStore) withNode(id string, fn func(v view) error) error {
	pid, ok := s.projectOf(id)
	if !ok {
		return model.ErrNodeNotFound
	}
	p := s.lookup(pid)
	if p == nil {
		return model.ErrNodeNotFound
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return fn(view{p: p})
}

func (s *MemoryStore) GetNode(ctx context.Context, id string) (*model.Node, error) {
	var n *model.Node
	err := s.withNode(id, func(v view) (err error) {
		n, err = v.GetNode(ctx, id)
		return err
	})
	return n, err
}

func (s *MemoryStore) ListNodes(ctx context.Context, projectID string) ([]*model.Node, error) {
	var nodes []*model.Node
	err := s.ViewProject(ctx, projectID, func(r store.Reader) (err error) {
		nodes, err = r.ListNodes(ctx, projectID)
		return err
	})
	return nodes, err
}

func (s *MemoryStore) ListTicketTasks(ctx context.Context, ticketID string) ([]*model.Node, error) {
	var nodes []*model.Node
	err := s.withNode(ticketID, func(v view) (err error) {
		nodes, err = v.ListTicketTasks(ctx, ticketID)
		return err
	})
	if err == model.ErrNodeNotFound {
		return nil, nil
	}
	return nodes, err
}

func (s *MemoryStore) GetEdge(ctx context.Context, from, to string) (*model.Edge, error) {
	var e *model.Edge
	err := s.withNode(from, func(v view) (err error) {
		e, err = v.GetEdge(ctx, from, to)
		return err
	})
	if err == model.ErrNodeNotFound {
		return nil, model.ErrEdgeNotFound
	}
	return e, err
}

func (s *MemoryStore) ListEdges(ctx context.Context, projectID string) ([]*model.Edge, error) {
	var edges []*model.Edge
	err := s.ViewProject(ctx, projectID, func(r store.Reader) (err error) {
		edges, err = r.ListEdges(ctx, projectID)
		return err
	})
	return edges, err
}

func (s *MemoryStore) OutgoingEdges(ctx context.Context, id string) ([]*model.Edge, error) {
	var edges []*model.Edge
	err := s.withNode(id, func(v view) (err error) {
		edges, err = v.OutgoingEdges(ctx, id)
		return err
	})
	if err == model.ErrNodeNotFound {
		return nil, nil
	}
	return edges, err
}

func (s *MemoryStore) IncomingEdges(ctx context.Context, id string) ([]*model.Edge, error) {
	var edges []*model.Edge
	err := s.withNode(id, func(v view) (err error) {
		edges, err = v.IncomingEdges(ctx, id)
		return err
	})
	if err == model.ErrNodeNotFound {
		return nil, nil
	}
	return edges, err
}

// view reads one partition. The caller holds the partition lock.
type view struct {
	p *partition
}

var _ store.Reader = view{}

func (v view) GetNode(ctx context.Context, id string) (*model.Node, error) {
	n, ok := v.p.nodes[id]
	if !ok {
		return nil, model.ErrNodeNotFound
	}
	return n.Clone(), nil
}

func (v view) ListNodes(ctx context.Context, projectID string) ([]*model.Node, error) {
	nodes := make([]*model.Node, 0, len(v.p.nodes))
	for _, n := range v.p.nodes {
		if n.ProjectID == projectID {
			nodes = append(nodes, n.Clone())
		}
	}
	sortNodes(nodes)
	return nodes, nil
}

func (v view) ListTicketTasks(ctx context.Context, ticketID string) ([]*model.Node, error) {
	var nodes []*model.Node
	for _, n := range v.p.nodes {
		if n.ParentID == ticketID {
			nodes = append(nodes, n.Clone())
		}
	}
	sortNodes(nodes)
	return nodes, nil
}

func (v view) GetEdge(ctx context.Context, from, to string) (*model.Edge, error) {
	e, ok := v.p.out[from][to]
	if !ok {
		return nil, model.ErrEdgeNotFound
	}
	return e.Clone(), nil
}

func (v view) ListEdges(ctx context.Context, projectID string) ([]*model.Edge, error) {
	var edges []*model.Edge
	for _, tos := range v.p.out {
		for _, e := range tos {
			if e.ProjectID == projectID {
				edges = append(edges, e.Clone())
			}
		}
	}
	v.sortEdges(edges)
	return edges, nil
}

func (v view) OutgoingEdges(ctx context.Context, id string) ([]*model.Edge, error) {
	return v.collect(v.p.out[id]), nil
}

func (v view) IncomingEdges(ctx context.Context, id string) ([]*model.Edge, error) {
	return v.collect(v.p.in[id]), nil
}

func (v view) collect(m map[string]*model.Edge) []*model.Edge {
	if len(m) == 0 {
		return nil
	}
	edges := make([]*model.Edge, 0, len(m))
	for _, e := range m {
		edges = append(edges, e.Clone())
	}
	v.sortEdges(edges)
	return edges
}

// sortEdges orders edges by (from seq, to seq).
func (v view) sortEdges(edges []*model.Edge) {
	seq := func(id string) int64 {
		if n, ok := v.p.nodes[id]; ok {
			return n.Seq
		}
		return 0
	}
	slices.SortFunc(edges, func(a, b *model.Edge) int {
		if c := cmpInt64(seq(a.From), seq(b.From)); c != 0 {
			return c
		}
		return cmpInt64(seq(a.To), seq(b.To))
	})
}

func sortNodes(nodes []*model.Node) {
	slices.SortFunc(nodes, func(a, b *model.Node) int {
		return cmpInt64(a.Seq, b.Seq)
	})
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// txStore is a write transaction on one partition. The partition write lock
// is held for its whole lifetime.
type txStore struct {
	view
	store     *MemoryStore
	projectID string
	undo      []func()
}

var _ store.Tx = (*txStore)(nil)

func (tx *txStore) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *txStore) CreateNode(ctx context.Context, n *model.Node) error {
	if n.ProjectID != tx.projectID {
		return model.ErrInvalidArgument
	}
	tx.store.idxMu.Lock()
	defer tx.store.idxMu.Unlock()
	if _, exists := tx.store.index[n.ID]; exists {
		return model.ErrDuplicateID
	}

	n.Seq = tx.store.seq.Add(1)
	stored := n.Clone()
	tx.p.nodes[n.ID] = stored
	tx.store.index[n.ID] = tx.projectID

	tx.undo = append(tx.undo, func() {
		delete(tx.p.nodes, stored.ID)
		tx.store.idxMu.Lock()
		delete(tx.store.index, stored.ID)
		tx.store.idxMu.Unlock()
	})
	return nil
}

func (tx *txStore) SetNodeState(ctx context.Context, id string, state model.State, at time.Time) (*model.Node, error) {
	n, ok := tx.p.nodes[id]
	if !ok {
		return nil, model.ErrNodeNotFound
	}
	prev := n.Clone()
	tx.undo = append(tx.undo, func() { tx.p.nodes[id] = prev })

	updated := n.Clone()
	updated.State = state
	updated.UpdatedAt = at
	if state == model.StateResolved {
		t := at
		updated.ResolvedAt = &t
	} else {
		updated.ResolvedAt = nil
	}
	tx.p.nodes[id] = updated
	return updated.Clone(), nil
}

func (tx *txStore) DeleteNode(ctx context.Context, id string) ([]*model.Edge, error) {
	n, ok := tx.p.nodes[id]
	if !ok {
		return nil, model.ErrNodeNotFound
	}
	if n.Scope == model.ScopeTicket {
		for _, other := range tx.p.nodes {
			if other.ParentID == id {
				return nil, model.ErrTicketHasTasks
			}
		}
	}

	var removed []*model.Edge
	for _, e := range tx.collect(tx.p.out[id]) {
		if _, err := tx.RemoveEdge(ctx, e.From, e.To); err != nil {
			return nil, err
		}
		removed = append(removed, e)
	}
	for _, e := range tx.collect(tx.p.in[id]) {
		if _, err := tx.RemoveEdge(ctx, e.From, e.To); err != nil {
			return nil, err
		}
		removed = append(removed, e)
	}

	delete(tx.p.nodes, id)
	tx.store.idxMu.Lock()
	delete(tx.store.index, id)
	tx.store.idxMu.Unlock()

	tx.undo = append(tx.undo, func() {
		tx.p.nodes[id] = n
		tx.store.idxMu.Lock()
		tx.store.index[id] = tx.projectID
		tx.store.idxMu.Unlock()
	})
	return removed, nil
}

func (tx *txStore) AddEdge(ctx context.Context, e *model.Edge) error {
	if _, ok := tx.p.nodes[e.From]; !ok {
		return model.ErrNodeNotFound
	}
	if _, ok := tx.p.nodes[e.To]; !ok {
		return model.ErrNodeNotFound
	}
	if _, exists := tx.p.out[e.From][e.To]; exists {
		return model.ErrDuplicateEdge
	}
	tx.link(e.Clone())
	from, to := e.From, e.To
	tx.undo = append(tx.undo, func() { tx.unlink(from, to) })
	return nil
}

func (tx *txStore) RemoveEdge(ctx context.Context, from, to string) (*model.Edge, error) {
	e, ok := tx.p.out[from][to]
	if !ok {
		return nil, model.ErrEdgeNotFound
	}
	tx.unlink(from, to)
	tx.undo = append(tx.undo, func() { tx.link(e) })
	return e.Clone(), nil
}

func (tx *txStore) link(e *model.Edge) {
	if tx.p.out[e.From] == nil {
		tx.p.out[e.From] = make(map[string]*model.Edge)
	}
	if tx.p.in[e.To] == nil {
		tx.p.in[e.To] = make(map[string]*model.Edge)
	}
	tx.p.out[e.From][e.To] = e
	tx.p.in[e.To][e.From] = e
}

func (tx *txStore) unlink(from, to string) {
	delete(tx.p.out[from], to)
	if len(tx.p.out[from]) == 0 {
		delete(tx.p.out, from)
	}
	delete(tx.p.in[to], from)
	if len(tx.p.in[to]) == 0 {
		delete(tx.p.in, to)
	}
}
