package graph

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/depgraph/internal/idgen"
	"github.com/alfredjeanlab/depgraph/internal/model"
	"github.com/alfredjeanlab/depgraph/internal/store"
	"github.com/alfredjeanlab/depgraph/internal/store/memory"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	return New(memory.New())
}

func mustNode(t *testing.T, e *Engine, in NodeInput) *model.Node {
	t.Helper()
	n, err := e.CreateNode(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateNode(%+v): %v", in, err)
	}
	return n
}

func mustEdge(t *testing.T, e *Engine, from, to string, kind model.EdgeKind) *model.Edge {
	t.Helper()
	edge, err := e.AddEdge(context.Background(), EdgeInput{From: from, To: to, Kind: kind})
	if err != nil {
		t.Fatalf("AddEdge(%s -> %s): %v", from, to, err)
	}
	return edge
}

// chain creates ticket tk in project p1 with tasks t1, t2, t3 and declared
// edges t1 -> t2 -> t3.
func chain(t *testing.T) *Engine {
	t.Helper()
	e := newEngine(t)
	mustNode(t, e, NodeInput{ID: "tk", Scope: model.ScopeTicket, ProjectID: "p1"})
	for _, id := range []string{"t1", "t2", "t3"} {
		mustNode(t, e, NodeInput{ID: id, Scope: model.ScopeTask, ProjectID: "p1", ParentID: "tk"})
	}
	mustEdge(t, e, "t1", "t2", model.EdgeDeclared)
	mustEdge(t, e, "t2", "t3", model.EdgeDeclared)
	return e
}

func nodeIDs(nodes []*model.Node) string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return strings.Join(ids, ",")
}

func TestReadinessScenario(t *testing.T) {
	e := chain(t)
	ctx := context.Background()

	blocking, err := e.Blocking(ctx, "t1")
	if err != nil || nodeIDs(blocking) != "t2" {
		t.Fatalf("Blocking(t1) = %q, %v; want t2", nodeIDs(blocking), err)
	}
	blockedBy, err := e.BlockedBy(ctx, "t3")
	if err != nil || nodeIDs(blockedBy) != "t2" {
		t.Fatalf("BlockedBy(t3) = %q, %v; want t2", nodeIDs(blockedBy), err)
	}

	_, err = e.AddEdge(ctx, EdgeInput{From: "t3", To: "t1", Kind: model.EdgeDiscovered, CreatedBy: "agent-1"})
	if !errors.Is(err, model.ErrWouldCreateCycle) {
		t.Fatalf("AddEdge(t3 -> t1) = %v, want ErrWouldCreateCycle", err)
	}
	var ce *model.CycleError
	if !errors.As(err, &ce) || strings.Join(ce.Path, ",") != "t3,t1,t2,t3" {
		t.Fatalf("cycle path = %+v", ce)
	}
	if _, err := e.GetEdge(ctx, "t3", "t1"); !errors.Is(err, model.ErrEdgeNotFound) {
		t.Fatalf("rejected edge was committed: %v", err)
	}
}

func TestResolveUnblocks(t *testing.T) {
	e := chain(t)
	ctx := context.Background()

	n, changed, err := e.Resolve(ctx, "t2")
	if err != nil || !changed || n.State != model.StateResolved || n.ResolvedAt == nil {
		t.Fatalf("Resolve(t2) = %+v, %v, %v", n, changed, err)
	}

	blockedBy, err := e.BlockedBy(ctx, "t3")
	if err != nil || len(blockedBy) != 0 {
		t.Fatalf("BlockedBy(t3) = %q, %v; want empty", nodeIDs(blockedBy), err)
	}
	if blocking, _ := e.Blocking(ctx, "t1"); len(blocking) != 0 {
		t.Fatalf("Blocking(t1) = %q; want empty", nodeIDs(blocking))
	}
	if _, err := e.GetEdge(ctx, "t2", "t3"); err != nil {
		t.Fatalf("edge t2 -> t3 should remain: %v", err)
	}

	full, err := e.BuildGraph(ctx, model.ProjectScope("p1"), model.GraphOptions{IncludeResolved: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(full.Edges) != 2 {
		t.Fatalf("IncludeResolved view has %d edges, want 2", len(full.Edges))
	}

	// Idempotent.
	if _, changed, err := e.Resolve(ctx, "t2"); err != nil || changed {
		t.Fatalf("second Resolve: changed=%v err=%v", changed, err)
	}

	n, changed, err = e.Reopen(ctx, "t2")
	if err != nil || !changed || n.State != model.StateOpen || n.ResolvedAt != nil {
		t.Fatalf("Reopen(t2) = %+v, %v, %v", n, changed, err)
	}
	if blockedBy, _ := e.BlockedBy(ctx, "t3"); nodeIDs(blockedBy) != "t2" {
		t.Fatalf("BlockedBy(t3) after reopen = %q", nodeIDs(blockedBy))
	}
}

func TestAddEdge_Rejections(t *testing.T) {
	e := chain(t)
	mustNode(t, e, NodeInput{ID: "other", Scope: model.ScopeTicket, ProjectID: "p2"})
	ctx := context.Background()

	for _, tc := range []struct {
		name     string
		from, to string
		want     error
	}{
		{"SelfLoop", "t1", "t1", model.ErrSelfLoop},
		{"MissingFrom", "ghost", "t1", model.ErrNodeNotFound},
		{"MissingTo", "t1", "ghost", model.ErrNodeNotFound},
		{"CrossProject", "t1", "other", model.ErrCrossProjectEdge},
		{"Duplicate", "t1", "t2", model.ErrDuplicateEdge},
		{"Reverse", "t2", "t1", model.ErrWouldCreateCycle},
		{"Transitive", "t3", "t1", model.ErrWouldCreateCycle},
		{"Empty", "", "t1", model.ErrInvalidArgument},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.AddEdge(ctx, EdgeInput{From: tc.from, To: tc.to}); !errors.Is(err, tc.want) {
				t.Fatalf("AddEdge(%q -> %q) = %v, want %v", tc.from, tc.to, err, tc.want)
			}
		})
	}

	edges, _ := e.Store().ListEdges(ctx, "p1")
	if len(edges) != 2 {
		t.Fatalf("rejections changed the graph: %d edges", len(edges))
	}
}

func TestAddEdge_SelfLoopBeforeExistence(t *testing.T) {
	e := newEngine(t)
	if _, err := e.AddEdge(context.Background(), EdgeInput{From: "ghost", To: "ghost"}); !errors.Is(err, model.ErrSelfLoop) {
		t.Fatalf("expected ErrSelfLoop, got %v", err)
	}
}

func TestAddEdge_Defaults(t *testing.T) {
	e := chain(t)
	edge := mustEdge(t, e, "t1", "t3", "")
	if edge.Kind != model.EdgeDeclared || edge.ProjectID != "p1" || edge.CreatedAt.IsZero() {
		t.Fatalf("unexpected edge: %+v", edge)
	}
}

func TestCheckEdge(t *testing.T) {
	e := chain(t)
	ctx := context.Background()

	check, err := e.CheckEdge(ctx, "t3", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !check.WouldCreateCycle || strings.Join(check.Cycle, ",") != "t3,t1,t2,t3" {
		t.Fatalf("CheckEdge(t3, t1) = %+v", check)
	}

	check, err = e.CheckEdge(ctx, "t1", "t3")
	if err != nil || check.WouldCreateCycle || check.Cycle != nil {
		t.Fatalf("CheckEdge(t1, t3) = %+v, %v", check, err)
	}
	if _, err := e.GetEdge(ctx, "t1", "t3"); !errors.Is(err, model.ErrEdgeNotFound) {
		t.Fatal("CheckEdge must not insert")
	}

	if _, err := e.CheckEdge(ctx, "t1", "t2"); !errors.Is(err, model.ErrDuplicateEdge) {
		t.Fatalf("CheckEdge(duplicate) = %v", err)
	}
}

func TestRemoveEdge(t *testing.T) {
	e := chain(t)
	ctx := context.Background()

	removed, err := e.RemoveEdge(ctx, "t1", "t2")
	if err != nil || removed.From != "t1" || removed.To != "t2" {
		t.Fatalf("RemoveEdge = %+v, %v", removed, err)
	}
	if _, err := e.RemoveEdge(ctx, "t1", "t2"); !errors.Is(err, model.ErrEdgeNotFound) {
		t.Fatalf("second RemoveEdge = %v", err)
	}
	if _, err := e.RemoveEdge(ctx, "ghost", "t2"); !errors.Is(err, model.ErrEdgeNotFound) {
		t.Fatalf("RemoveEdge(ghost) = %v", err)
	}
	// t3 -> t1 no longer closes a cycle.
	mustEdge(t, e, "t3", "t1", model.EdgeDiscovered)
}

func TestCreateNode(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	mustNode(t, e, NodeInput{ID: "tk", Scope: model.ScopeTicket, ProjectID: "p1"})
	mustNode(t, e, NodeInput{ID: "ts", Scope: model.ScopeTask, ProjectID: "p1", ParentID: "tk"})
	mustNode(t, e, NodeInput{ID: "tk2", Scope: model.ScopeTicket, ProjectID: "p2"})

	for _, tc := range []struct {
		name string
		in   NodeInput
		want error
	}{
		{"Duplicate", NodeInput{ID: "tk", Scope: model.ScopeTicket, ProjectID: "p1"}, model.ErrDuplicateID},
		{"DuplicateOtherProject", NodeInput{ID: "tk", Scope: model.ScopeTicket, ProjectID: "p9"}, model.ErrDuplicateID},
		{"TaskWithoutParent", NodeInput{ID: "x", Scope: model.ScopeTask, ProjectID: "p1"}, model.ErrInvalidParent},
		{"MissingParent", NodeInput{ID: "x", Scope: model.ScopeTask, ProjectID: "p1", ParentID: "nope"}, model.ErrInvalidParent},
		{"ParentIsTask", NodeInput{ID: "x", Scope: model.ScopeTask, ProjectID: "p1", ParentID: "ts"}, model.ErrInvalidParent},
		{"ParentOtherProject", NodeInput{ID: "x", Scope: model.ScopeTask, ProjectID: "p1", ParentID: "tk2"}, model.ErrInvalidParent},
		{"TicketWithParent", NodeInput{ID: "x", Scope: model.ScopeTicket, ProjectID: "p1", ParentID: "tk"}, model.ErrInvalidParent},
		{"NoProject", NodeInput{ID: "x", Scope: model.ScopeTicket}, model.ErrInvalidArgument},
		{"BadScope", NodeInput{ID: "x", Scope: "epic", ProjectID: "p1"}, model.ErrInvalidArgument},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.CreateNode(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("CreateNode(%+v) = %v, want %v", tc.in, err, tc.want)
			}
		})
	}
}

func TestCreateNode_GeneratesID(t *testing.T) {
	e := newEngine(t)
	tk := mustNode(t, e, NodeInput{Scope: model.ScopeTicket, ProjectID: "p1", Title: "Auth"})
	ts := mustNode(t, e, NodeInput{Scope: model.ScopeTask, ProjectID: "p1", ParentID: tk.ID})
	if !strings.HasPrefix(tk.ID, idgen.TicketPrefix) || !strings.HasPrefix(ts.ID, idgen.TaskPrefix) {
		t.Fatalf("generated ids %q, %q", tk.ID, ts.ID)
	}
	if tk.State != model.StateOpen || tk.Seq == 0 || ts.Seq <= tk.Seq {
		t.Fatalf("unexpected nodes: %+v %+v", tk, ts)
	}
}

func TestDeleteNode(t *testing.T) {
	e := chain(t)
	ctx := context.Background()

	if _, _, err := e.DeleteNode(ctx, "tk"); !errors.Is(err, model.ErrTicketHasTasks) {
		t.Fatalf("DeleteNode(tk) = %v, want ErrTicketHasTasks", err)
	}

	n, removed, err := e.DeleteNode(ctx, "t2")
	if err != nil || n.ID != "t2" || len(removed) != 2 {
		t.Fatalf("DeleteNode(t2) = %+v, %d edges, %v", n, len(removed), err)
	}
	for _, pair := range [][2]string{{"t1", "t2"}, {"t2", "t3"}} {
		if _, err := e.GetEdge(ctx, pair[0], pair[1]); !errors.Is(err, model.ErrEdgeNotFound) {
			t.Errorf("GetEdge(%s, %s) = %v", pair[0], pair[1], err)
		}
		if _, err := e.RemoveEdge(ctx, pair[0], pair[1]); !errors.Is(err, model.ErrEdgeNotFound) {
			t.Errorf("RemoveEdge(%s, %s) = %v", pair[0], pair[1], err)
		}
	}
	if _, err := e.GetNode(ctx, "t2"); !errors.Is(err, model.ErrNodeNotFound) {
		t.Fatalf("GetNode(t2) = %v", err)
	}
	if _, _, err := e.DeleteNode(ctx, "t2"); !errors.Is(err, model.ErrNodeNotFound) {
		t.Fatalf("second DeleteNode = %v", err)
	}

	for _, id := range []string{"t1", "t3"} {
		if _, _, err := e.DeleteNode(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := e.DeleteNode(ctx, "tk"); err != nil {
		t.Fatalf("DeleteNode(tk) after tasks: %v", err)
	}
}

func TestReadiness_NotFound(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	if _, err := e.BlockedBy(ctx, "nope"); !errors.Is(err, model.ErrNodeNotFound) {
		t.Errorf("BlockedBy = %v", err)
	}
	if _, err := e.Blocking(ctx, "nope"); !errors.Is(err, model.ErrNodeNotFound) {
		t.Errorf("Blocking = %v", err)
	}
	if _, err := e.Dependencies(ctx, "nope"); !errors.Is(err, model.ErrNodeNotFound) {
		t.Errorf("Dependencies = %v", err)
	}
	if _, _, err := e.Resolve(ctx, "nope"); !errors.Is(err, model.ErrNodeNotFound) {
		t.Errorf("Resolve = %v", err)
	}
}

func TestDependencies(t *testing.T) {
	e := chain(t)
	ctx := context.Background()

	sum, err := e.Dependencies(ctx, "t2")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Node.ID != "t2" || nodeIDs(sum.BlockedBy) != "t1" || nodeIDs(sum.Blocking) != "t3" || sum.Ready {
		t.Fatalf("Dependencies(t2) = %+v", sum)
	}
	sum, _ = e.Dependencies(ctx, "t1")
	if !sum.Ready || sum.BlockedBy == nil {
		t.Fatalf("Dependencies(t1) = %+v", sum)
	}
}

func TestReadiness_IncludesDiscoveredAndCreationOrder(t *testing.T) {
	e := chain(t)
	ctx := context.Background()
	mustNode(t, e, NodeInput{ID: "t0", Scope: model.ScopeTask, ProjectID: "p1", ParentID: "tk"})
	mustEdge(t, e, "t0", "t3", model.EdgeDiscovered)
	mustEdge(t, e, "t1", "t3", model.EdgeDeclared)

	blockedBy, err := e.BlockedBy(ctx, "t3")
	if err != nil {
		t.Fatal(err)
	}
	if got := nodeIDs(blockedBy); got != "t1,t2,t0" {
		t.Fatalf("BlockedBy(t3) = %q, want t1,t2,t0", got)
	}
}

func TestReadiness_OneProjectDoesNotAffectAnother(t *testing.T) {
	e := chain(t)
	ctx := context.Background()
	mustNode(t, e, NodeInput{ID: "q", Scope: model.ScopeTicket, ProjectID: "p2"})
	mustNode(t, e, NodeInput{ID: "q1", Scope: model.ScopeTask, ProjectID: "p2", ParentID: "q"})
	mustNode(t, e, NodeInput{ID: "q2", Scope: model.ScopeTask, ProjectID: "p2", ParentID: "q"})
	mustEdge(t, e, "q1", "q2", model.EdgeDeclared)

	if b, _ := e.BlockedBy(ctx, "q2"); nodeIDs(b) != "q1" {
		t.Fatalf("BlockedBy(q2) = %q", nodeIDs(b))
	}
	if b, _ := e.BlockedBy(ctx, "t3"); nodeIDs(b) != "t2" {
		t.Fatalf("BlockedBy(t3) = %q", nodeIDs(b))
	}
}

// errStore fails every snapshot read.
type errStore struct {
	*memory.MemoryStore
}

func (s errStore) ViewProject(ctx context.Context, projectID string, fn func(r store.Reader) error) error {
	return &model.StoreError{Op: "view project", Err: errors.New("connection refused")}
}

func TestStoreUnavailablePropagates(t *testing.T) {
	mem := memory.New()
	setup := New(mem)
	mustNode(t, setup, NodeInput{ID: "tk", Scope: model.ScopeTicket, ProjectID: "p1"})

	e := New(errStore{mem})
	_, err := e.BlockedBy(context.Background(), "tk")
	if !errors.Is(err, model.ErrStoreUnavailable) || !model.Retryable(err) {
		t.Fatalf("BlockedBy = %v, want ErrStoreUnavailable", err)
	}
}

func TestConcurrentCycleRace(t *testing.T) {
	for round := 0; round < 50; round++ {
		e := newEngine(t)
		mustNode(t, e, NodeInput{ID: "tk", Scope: model.ScopeTicket, ProjectID: "p1"})
		mustNode(t, e, NodeInput{ID: "a", Scope: model.ScopeTask, ProjectID: "p1", ParentID: "tk"})
		mustNode(t, e, NodeInput{ID: "b", Scope: model.ScopeTask, ProjectID: "p1", ParentID: "tk"})

		var (
			wg   sync.WaitGroup
			errs [2]error
		)
		start := make(chan struct{})
		for i, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
			wg.Add(1)
			go func(i int, from, to string) {
				defer wg.Done()
				<-start
				_, errs[i] = e.AddEdge(context.Background(), EdgeInput{From: from, To: to, Kind: model.EdgeDiscovered})
			}(i, pair[0], pair[1])
		}
		close(start)
		wg.Wait()

		accepted := 0
		for _, err := range errs {
			switch {
			case err == nil:
				accepted++
			case !errors.Is(err, model.ErrWouldCreateCycle):
				t.Fatalf("round %d: unexpected error %v", round, err)
			}
		}
		if accepted != 1 {
			t.Fatalf("round %d: %d edges accepted, want exactly 1", round, accepted)
		}
	}
}

func TestConcurrentInsertionsStayAcyclic(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	mustNode(t, e, NodeInput{ID: "tk", Scope: model.ScopeTicket, ProjectID: "p1"})
	const n = 12
	for i := 0; i < n; i++ {
		mustNode(t, e, NodeInput{ID: fmt.Sprintf("n%02d", i), Scope: model.ScopeTask, ProjectID: "p1", ParentID: "tk"})
	}

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		rng := rand.New(rand.NewSource(int64(w)))
		g.Go(func() error {
			for i := 0; i < 60; i++ {
				from := fmt.Sprintf("n%02d", rng.Intn(n))
				to := fmt.Sprintf("n%02d", rng.Intn(n))
				_, err := e.AddEdge(ctx, EdgeInput{From: from, To: to, Kind: model.EdgeDiscovered})
				if err != nil && !isRoutineRejection(err) {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	assertAcyclic(t, e, "p1")
}

func TestRandomInsertionsStayAcyclic(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		e := newEngine(t)
		ctx := context.Background()
		mustNode(t, e, NodeInput{ID: "tk", Scope: model.ScopeTicket, ProjectID: "p1"})
		n := 5 + rng.Intn(15)
		for i := 0; i < n; i++ {
			mustNode(t, e, NodeInput{ID: fmt.Sprintf("n%02d", i), Scope: model.ScopeTask, ProjectID: "p1", ParentID: "tk"})
		}

		for i := 0; i < n*n; i++ {
			from := fmt.Sprintf("n%02d", rng.Intn(n))
			to := fmt.Sprintf("n%02d", rng.Intn(n))
			edge, err := e.AddEdge(ctx, EdgeInput{From: from, To: to})
			switch {
			case err == nil:
				// An accepted edge can never be followed by its reverse.
				if _, err := e.AddEdge(ctx, EdgeInput{From: edge.To, To: edge.From}); !errors.Is(err, model.ErrWouldCreateCycle) {
					t.Fatalf("seed %d: reverse of %s -> %s gave %v", seed, from, to, err)
				}
			case !isRoutineRejection(err):
				t.Fatalf("seed %d: AddEdge(%s, %s): %v", seed, from, to, err)
			}
			if rng.Intn(10) == 0 {
				_, _ = e.RemoveEdge(ctx, from, to)
			}
		}
		assertAcyclic(t, e, "p1")
	}
}

func isRoutineRejection(err error) bool {
	return errors.Is(err, model.ErrWouldCreateCycle) ||
		errors.Is(err, model.ErrDuplicateEdge) ||
		errors.Is(err, model.ErrSelfLoop)
}

func assertAcyclic(t *testing.T, e *Engine, projectID string) {
	t.Helper()
	snap, err := e.BuildGraph(context.Background(), model.ProjectScope(projectID),
		model.GraphOptions{IncludeResolved: true, IncludeDiscoveries: true})
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(snap.Nodes))
	for i, n := range snap.Nodes {
		ids[i] = n.ID
	}
	if _, err := topoSort(ids, snap.Edges); err != nil {
		t.Fatalf("project %s is not a DAG: %v", projectID, err)
	}
}
