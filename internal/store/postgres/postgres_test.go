package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/alfredjeanlab/depgraph/internal/model"
	"github.com/alfredjeanlab/depgraph/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

// nodeRowColumns is the column list for scanNode results.
var nodeRowColumns = []string{
	"id", "project_id", "scope", "parent_id", "title", "state", "seq",
	"created_at", "created_by", "updated_at", "resolved_at",
}

// edgeRowColumns is the column list for scanEdge results.
var edgeRowColumns = []string{"from_id", "to_id", "project_id", "kind", "created_at", "created_by", "note"}

func TestScanHelpers(t *testing.T) {
	if nullTimePtr(nil).Valid {
		t.Error("nullTimePtr(nil) should be invalid")
	}
	now := time.Now()
	if nt := nullTimePtr(&now); !nt.Valid || !nt.Time.Equal(now) {
		t.Errorf("nullTimePtr(now) = %v", nt)
	}
	if nullString("").Valid {
		t.Error("nullString(\"\") should be invalid")
	}
	if ns := nullString("hello"); !ns.Valid || ns.String != "hello" {
		t.Errorf("nullString(\"hello\") = %v", ns)
	}
}

func TestQueryCreateNode(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	n := &model.Node{
		ID: "ts-1", ProjectID: "p1", Scope: model.ScopeTask, ParentID: "tk-1",
		Title: "Login", State: model.StateOpen, CreatedAt: now, UpdatedAt: now,
	}
	mock.ExpectQuery("INSERT INTO nodes .+ RETURNING seq").
		WithArgs("ts-1", "p1", "task", "tk-1", "Login", "open", now, sqlmock.AnyArg(), now, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(7))

	if err := queryCreateNode(context.Background(), db, n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Seq != 7 {
		t.Fatalf("Seq = %d, want 7", n.Seq)
	}
}

func TestGetNode(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM nodes WHERE id = \\$1").WithArgs("ts-1").
		WillReturnRows(sqlmock.NewRows(nodeRowColumns).AddRow(
			"ts-1", "p1", "task", "tk-1", "Login", "resolved", 3, now, "alice", now, now,
		))

	n, err := newWithDB(db).GetNode(context.Background(), "ts-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.ParentID != "tk-1" || n.State != model.StateResolved || n.Seq != 3 || n.CreatedBy != "alice" {
		t.Fatalf("unexpected node: %+v", n)
	}
	if n.ResolvedAt == nil || !n.ResolvedAt.Equal(now) {
		t.Fatalf("ResolvedAt = %v", n.ResolvedAt)
	}
}

func TestGetNode_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM nodes WHERE id = \\$1").WithArgs("nope").WillReturnError(sql.ErrNoRows)

	if _, err := newWithDB(db).GetNode(context.Background(), "nope"); !errors.Is(err, model.ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestGetNode_DriverFailure(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM nodes").WillReturnError(errors.New("connection reset"))

	_, err := newWithDB(db).GetNode(context.Background(), "ts-1")
	if !errors.Is(err, model.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	var se *model.StoreError
	if !errors.As(err, &se) || se.Op != "get node" {
		t.Fatalf("expected StoreError{Op: get node}, got %#v", err)
	}
}

func TestListEdges_OrderedBySeq(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM edges e\\s+JOIN nodes f .+ WHERE e.project_id = \\$1 ORDER BY f.seq, t.seq").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(edgeRowColumns).
			AddRow("a", "b", "p1", "declared", now, nil, nil).
			AddRow("b", "c", "p1", "discovered", now, "agent-7", "shared schema"))

	edges, err := newWithDB(db).ListEdges(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("got %d edges, want 2", len(edges))
	}
	if edges[1].Kind != model.EdgeDiscovered || edges[1].CreatedBy != "agent-7" || edges[1].Note != "shared schema" {
		t.Fatalf("unexpected edge: %+v", edges[1])
	}
}

func TestListProjects(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT DISTINCT project_id FROM nodes").
		WillReturnRows(sqlmock.NewRows([]string{"project_id"}).AddRow("p1").AddRow("p2"))

	ids, err := newWithDB(db).ListProjects(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "p1" || ids[1] != "p2" {
		t.Fatalf("ListProjects = %v", ids)
	}
}

func TestRunInProject_LocksAndCommits(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock\\(hashtext\\(\\$1\\)\\)").WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO edges").
		WithArgs("a", "b", "p1", "declared", now, "alice", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := newWithDB(db)
	err := s.RunInProject(context.Background(), "p1", func(tx store.Tx) error {
		return tx.AddEdge(context.Background(), &model.Edge{
			From: "a", To: "b", ProjectID: "p1", Kind: model.EdgeDeclared, CreatedAt: now, CreatedBy: "alice",
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunInProject_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs("p1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO edges").WillReturnError(&pq.Error{Code: codeUniqueViolation})
	mock.ExpectRollback()

	err := newWithDB(db).RunInProject(context.Background(), "p1", func(tx store.Tx) error {
		return tx.AddEdge(context.Background(), &model.Edge{From: "a", To: "b", ProjectID: "p1", Kind: model.EdgeDeclared})
	})
	if !errors.Is(err, model.ErrDuplicateEdge) {
		t.Fatalf("expected ErrDuplicateEdge, got %v", err)
	}
}

func TestRunInProject_BeginFails(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	err := newWithDB(db).RunInProject(context.Background(), "p1", func(tx store.Tx) error {
		t.Fatal("fn must not run")
		return nil
	})
	if !errors.Is(err, model.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestTxStore_GetNodeHidesOtherProjects(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs("p1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .+ FROM nodes WHERE id = \\$1").WithArgs("x").
		WillReturnRows(sqlmock.NewRows(nodeRowColumns).AddRow(
			"x", "p2", "ticket", nil, "", "open", 1, now, nil, now, nil,
		))
	mock.ExpectRollback()

	err := newWithDB(db).RunInProject(context.Background(), "p1", func(tx store.Tx) error {
		_, err := tx.GetNode(context.Background(), "x")
		return err
	})
	if !errors.Is(err, model.ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestTxStore_CreateNodeErrors(t *testing.T) {
	for _, tc := range []struct {
		name      string
		code      pq.ErrorCode
		want      error
		retryable bool
	}{
		{"Duplicate", codeUniqueViolation, model.ErrDuplicateID, false},
		{"MissingParent", codeForeignKeyViolation, model.ErrInvalidParent, false},
		{"BadEncoding", "22021", model.ErrInvalidArgument, false},
		{"NulInText", "22P05", model.ErrInvalidArgument, false},
		{"AdminShutdown", "57P01", model.ErrStoreUnavailable, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectQuery("INSERT INTO nodes").WillReturnError(&pq.Error{Code: tc.code})

			tx := &txStore{conn: conn{ex: db}, projectID: "p1"}
			err := tx.CreateNode(context.Background(), &model.Node{ID: "n", ProjectID: "p1"})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if got := model.Retryable(err); got != tc.retryable {
				t.Fatalf("Retryable(%v) = %v, want %v", err, got, tc.retryable)
			}
		})
	}
}

func TestGetNode_DataException(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM nodes").WillReturnError(&pq.Error{Code: "22021", Message: "invalid byte sequence for encoding \"UTF8\": 0xff"})

	_, err := newWithDB(db).GetNode(context.Background(), "ts-\xff")
	if code := model.Code(err); code != model.CodeInvalidArgument {
		t.Fatalf("code = %s (%v)", code, err)
	}
}

func TestTxStore_CreateNodeWrongProject(t *testing.T) {
	db, _ := newMockDB(t)
	tx := &txStore{conn: conn{ex: db}, projectID: "p1"}
	err := tx.CreateNode(context.Background(), &model.Node{ID: "n", ProjectID: "p2"})
	if !errors.Is(err, model.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestQueryDeleteNode(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("DELETE FROM edges WHERE from_id = \\$1 OR to_id = \\$1 RETURNING").WithArgs("b").
		WillReturnRows(sqlmock.NewRows(edgeRowColumns).
			AddRow("a", "b", "p1", "declared", now, nil, nil).
			AddRow("b", "c", "p1", "declared", now, nil, nil))
	mock.ExpectExec("DELETE FROM nodes WHERE id = \\$1").WithArgs("b").
		WillReturnResult(sqlmock.NewResult(0, 1))

	edges, err := queryDeleteNode(context.Background(), db, "b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("removed %d edges, want 2", len(edges))
	}
}

func TestTxStore_DeleteNodeErrors(t *testing.T) {
	t.Run("NotFound", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("DELETE FROM edges").WithArgs("nope").WillReturnRows(sqlmock.NewRows(edgeRowColumns))
		mock.ExpectExec("DELETE FROM nodes").WithArgs("nope").WillReturnResult(sqlmock.NewResult(0, 0))

		tx := &txStore{conn: conn{ex: db}, projectID: "p1"}
		if _, err := tx.DeleteNode(context.Background(), "nope"); !errors.Is(err, model.ErrNodeNotFound) {
			t.Fatalf("expected ErrNodeNotFound, got %v", err)
		}
	})
	t.Run("TicketHasTasks", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("DELETE FROM edges").WithArgs("tk-1").WillReturnRows(sqlmock.NewRows(edgeRowColumns))
		mock.ExpectExec("DELETE FROM nodes").WithArgs("tk-1").
			WillReturnError(&pq.Error{Code: codeForeignKeyViolation})

		tx := &txStore{conn: conn{ex: db}, projectID: "p1"}
		if _, err := tx.DeleteNode(context.Background(), "tk-1"); !errors.Is(err, model.ErrTicketHasTasks) {
			t.Fatalf("expected ErrTicketHasTasks, got %v", err)
		}
	})
}

func TestTxStore_RemoveEdgeNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("DELETE FROM edges WHERE from_id = \\$1 AND to_id = \\$2").WithArgs("a", "b").
		WillReturnError(sql.ErrNoRows)

	tx := &txStore{conn: conn{ex: db}, projectID: "p1"}
	if _, err := tx.RemoveEdge(context.Background(), "a", "b"); !errors.Is(err, model.ErrEdgeNotFound) {
		t.Fatalf("expected ErrEdgeNotFound, got %v", err)
	}
}

func TestSetNodeState(t *testing.T) {
	db, mock := newMockDB(t)
	at := time.Now().UTC()
	mock.ExpectQuery("UPDATE nodes SET state = \\$2").
		WithArgs("ts-1", "resolved", at, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(nodeRowColumns).AddRow(
			"ts-1", "p1", "task", "tk-1", "", "resolved", 2, at, nil, at, at,
		))

	tx := &txStore{conn: conn{ex: db}, projectID: "p1"}
	n, err := tx.SetNodeState(context.Background(), "ts-1", model.StateResolved, at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.State != model.StateResolved || n.ResolvedAt == nil {
		t.Fatalf("unexpected node: %+v", n)
	}
}

func TestViewProject_ReadOnlySnapshot(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM nodes WHERE project_id = \\$1 ORDER BY seq").WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(nodeRowColumns))
	mock.ExpectRollback()

	err := newWithDB(db).ViewProject(context.Background(), "p1", func(r store.Reader) error {
		nodes, err := r.ListNodes(context.Background(), "p1")
		if len(nodes) != 0 {
			t.Errorf("ListNodes = %v", nodes)
		}
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStoreErr_PassesContextErrors(t *testing.T) {
	if err := storeErr("op", context.Canceled); err != context.Canceled {
		t.Fatalf("storeErr(context.Canceled) = %v", err)
	}
	if err := storeErr("op", nil); err != nil {
		t.Fatalf("storeErr(nil) = %v", err)
	}
}
