package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/alfredjeanlab/depgraph/internal/model"
)

// nodeColumns is the column list used for SELECT statements on the nodes table.
const nodeColumns = `id, project_id, scope, parent_id, title, state, seq,
	created_at, created_by, updated_at, resolved_at`

// edgeColumns is the column list used for SELECT statements on the edges
// table, qualified with the alias e.
const edgeColumns = `e.from_id, e.to_id, e.project_id, e.kind, e.created_at, e.created_by, e.note`

// edgeReturning is edgeColumns for RETURNING clauses.
const edgeReturning = `from_id, to_id, project_id, kind, created_at, created_by, note`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryCreateNode(ctx context.Context, db executor, n *model.Node) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO nodes (
			id, project_id, scope, parent_id, title, state,
			created_at, created_by, updated_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq`,
		n.ID,
		n.ProjectID,
		string(n.Scope),
		nullString(n.ParentID),
		n.Title,
		string(n.State),
		n.CreatedAt,
		nullString(n.CreatedBy),
		n.UpdatedAt,
		nullTimePtr(n.ResolvedAt),
	).Scan(&n.Seq)
}

func queryGetNode(ctx context.Context, db executor, id string) (*model.Node, error) {
	row := db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id)
	return scanNode(row)
}

func queryListNodes(ctx context.Context, db executor, projectID string) ([]*model.Node, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE project_id = $1 ORDER BY seq`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

func queryListTicketTasks(ctx context.Context, db executor, ticketID string) ([]*model.Node, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE parent_id = $1 ORDER BY seq`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

func querySetNodeState(ctx context.Context, db executor, id string, state model.State, at time.Time) (*model.Node, error) {
	var resolvedAt *time.Time
	if state == model.StateResolved {
		resolvedAt = &at
	}
	row := db.QueryRowContext(ctx, `
		UPDATE nodes SET state = $2, updated_at = $3, resolved_at = $4
		WHERE id = $1
		RETURNING `+nodeColumns,
		id, string(state), at, nullTimePtr(resolvedAt),
	)
	return scanNode(row)
}

// queryDeleteNode removes the node's edges, then the node. The parent_id
// foreign key rejects deleting a ticket that still owns tasks.
func queryDeleteNode(ctx context.Context, db executor, id string) ([]*model.Edge, error) {
	rows, err := db.QueryContext(ctx,
		`DELETE FROM edges WHERE from_id = $1 OR to_id = $1 RETURNING `+edgeReturning, id)
	if err != nil {
		return nil, err
	}
	edges, err := scanEdges(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	res, err := db.ExecContext(ctx, `DELETE FROM nodes WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, sql.ErrNoRows
	}
	return edges, nil
}

func queryAddEdge(ctx context.Context, db executor, e *model.Edge) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO edges (from_id, to_id, project_id, kind, created_at, created_by, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.From,
		e.To,
		e.ProjectID,
		string(e.Kind),
		e.CreatedAt,
		nullString(e.CreatedBy),
		nullString(e.Note),
	)
	return err
}

func queryGetEdge(ctx context.Context, db executor, from, to string) (*model.Edge, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+edgeColumns+` FROM edges e WHERE e.from_id = $1 AND e.to_id = $2`, from, to)
	return scanEdge(row)
}

func queryRemoveEdge(ctx context.Context, db executor, from, to string) (*model.Edge, error) {
	row := db.QueryRowContext(ctx,
		`DELETE FROM edges WHERE from_id = $1 AND to_id = $2 RETURNING `+edgeReturning, from, to)
	return scanEdge(row)
}

// Edge listings join both endpoints so results come back in (from seq, to seq) order.
const edgeJoin = ` FROM edges e
	JOIN nodes f ON f.id = e.from_id
	JOIN nodes t ON t.id = e.to_id`

func queryListEdges(ctx context.Context, db executor, projectID string) ([]*model.Edge, error) {
	return queryEdges(ctx, db, `WHERE e.project_id = $1`, projectID)
}

func queryOutgoingEdges(ctx context.Context, db executor, id string) ([]*model.Edge, error) {
	return queryEdges(ctx, db, `WHERE e.from_id = $1`, id)
}

func queryIncomingEdges(ctx context.Context, db executor, id string) ([]*model.Edge, error) {
	return queryEdges(ctx, db, `WHERE e.to_id = $1`, id)
}

func queryEdges(ctx context.Context, db executor, where string, arg string) ([]*model.Edge, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+edgeColumns+edgeJoin+` `+where+` ORDER BY f.seq, t.seq`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdges(rows)
}

func queryListProjects(ctx context.Context, db executor) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT project_id FROM nodes ORDER BY project_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
