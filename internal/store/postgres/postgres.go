// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/alfredjeanlab/depgraph/internal/model"
	"github.com/alfredjeanlab/depgraph/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgreSQL error codes the store translates.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"

	classDataException pq.ErrorClass = "22"
)

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	conn
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return newWithDB(db), nil
}

func newWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{conn: conn{ex: db}, db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// ListProjects returns the distinct project IDs that hold nodes.
func (s *PostgresStore) ListProjects(ctx context.Context) ([]string, error) {
	ids, err := queryListProjects(ctx, s.db)
	return ids, storeErr("list projects", err)
}

// RunInProject begins a transaction, takes the project's advisory lock,
// calls fn, and commits on success or rolls back on error. The lock is
// released when the transaction ends, so writes to one project are
// serialized across every server sharing the database.
func (s *PostgresStore) RunInProject(ctx context.Context, projectID string, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin transaction", err)
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, projectID); err != nil {
		_ = tx.Rollback()
		return storeErr("lock project", err)
	}

	txS := &txStore{conn: conn{ex: tx}, projectID: projectID}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit transaction", err)
	}
	return nil
}

// ViewProject runs fn inside a read-only REPEATABLE READ transaction, so
// every read in fn observes the same snapshot.
func (s *PostgresStore) ViewProject(ctx context.Context, projectID string, fn func(r store.Reader) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return storeErr("begin snapshot", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(conn{ex: tx})
}

// conn implements store.Reader on either the pool or a transaction.
type conn struct {
	ex executor
}

var _ store.Reader = conn{}

func (c conn) GetNode(ctx context.Context, id string) (*model.Node, error) {
	n, err := queryGetNode(ctx, c.ex, id)
	return n, mapErr("get node", err, model.ErrNodeNotFound)
}

func (c conn) ListNodes(ctx context.Context, projectID string) ([]*model.Node, error) {
	nodes, err := queryListNodes(ctx, c.ex, projectID)
	return nodes, storeErr("list nodes", err)
}

func (c conn) ListTicketTasks(ctx context.Context, ticketID string) ([]*model.Node, error) {
	nodes, err := queryListTicketTasks(ctx, c.ex, ticketID)
	return nodes, storeErr("list ticket tasks", err)
}

func (c conn) GetEdge(ctx context.Context, from, to string) (*model.Edge, error) {
	e, err := queryGetEdge(ctx, c.ex, from, to)
	return e, mapErr("get edge", err, model.ErrEdgeNotFound)
}

func (c conn) ListEdges(ctx context.Context, projectID string) ([]*model.Edge, error) {
	edges, err := queryListEdges(ctx, c.ex, projectID)
	return edges, storeErr("list edges", err)
}

func (c conn) OutgoingEdges(ctx context.Context, id string) ([]*model.Edge, error) {
	edges, err := queryOutgoingEdges(ctx, c.ex, id)
	return edges, storeErr("outgoing edges", err)
}

func (c conn) IncomingEdges(ctx context.Context, id string) ([]*model.Edge, error) {
	edges, err := queryIncomingEdges(ctx, c.ex, id)
	return edges, storeErr("incoming edges", err)
}

// txStore implements store.Tx using a *sql.Tx that holds the project lock.
type txStore struct {
	conn
	projectID string
}

// Compile-time check that txStore implements store.Tx.
var _ store.Tx = (*txStore)(nil)

// GetNode hides nodes of other projects, matching the partition semantics
// of the in-memory store.
func (s *txStore) GetNode(ctx context.Context, id string) (*model.Node, error) {
	n, err := s.conn.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.ProjectID != s.projectID {
		return nil, model.ErrNodeNotFound
	}
	return n, nil
}

func (s *txStore) CreateNode(ctx context.Context, n *model.Node) error {
	if n.ProjectID != s.projectID {
		return fmt.Errorf("node %s belongs to project %s, transaction holds %s: %w",
			n.ID, n.ProjectID, s.projectID, model.ErrInvalidArgument)
	}
	err := queryCreateNode(ctx, s.ex, n)
	if isPQCode(err, codeUniqueViolation) {
		return model.ErrDuplicateID
	}
	if isPQCode(err, codeForeignKeyViolation) {
		return model.ErrInvalidParent
	}
	return storeErr("create node", err)
}

func (s *txStore) SetNodeState(ctx context.Context, id string, state model.State, at time.Time) (*model.Node, error) {
	n, err := querySetNodeState(ctx, s.ex, id, state, at)
	return n, mapErr("set node state", err, model.ErrNodeNotFound)
}

func (s *txStore) DeleteNode(ctx context.Context, id string) ([]*model.Edge, error) {
	edges, err := queryDeleteNode(ctx, s.ex, id)
	if isPQCode(err, codeForeignKeyViolation) {
		return nil, model.ErrTicketHasTasks
	}
	return edges, mapErr("delete node", err, model.ErrNodeNotFound)
}

func (s *txStore) AddEdge(ctx context.Context, e *model.Edge) error {
	err := queryAddEdge(ctx, s.ex, e)
	if isPQCode(err, codeUniqueViolation) {
		return model.ErrDuplicateEdge
	}
	if isPQCode(err, codeForeignKeyViolation) {
		return model.ErrNodeNotFound
	}
	return storeErr("add edge", err)
}

func (s *txStore) RemoveEdge(ctx context.Context, from, to string) (*model.Edge, error) {
	e, err := queryRemoveEdge(ctx, s.ex, from, to)
	return e, mapErr("remove edge", err, model.ErrEdgeNotFound)
}

// mapErr translates sql.ErrNoRows to notFound and wraps everything else.
func mapErr(op string, err error, notFound error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return storeErr(op, err)
}

// storeErr wraps a driver failure in a *model.StoreError. Context errors
// pass through so callers can tell cancellation from an outage, and data
// exceptions (SQLSTATE class 22) are bad input rather than an outage.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isPQClass(err, classDataException) {
		return fmt.Errorf("%s: %v: %w", op, err, model.ErrInvalidArgument)
	}
	return &model.StoreError{Op: op, Err: err}
}

func isPQCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

func isPQClass(err error, class pq.ErrorClass) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Class() == class
}
