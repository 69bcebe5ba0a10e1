package postgres

import (
	"database/sql"
	"time"

	"github.com/alfredjeanlab/depgraph/internal/model"
)

// rowScanner is *sql.Row or *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Column order matches nodeColumns.
func scanNode(r rowScanner) (*model.Node, error) {
	var (
		n          model.Node
		parent     sql.NullString
		creator    sql.NullString
		resolvedAt sql.NullTime
	)
	if err := r.Scan(&n.ID, &n.ProjectID, &n.Scope, &parent, &n.Title, &n.State,
		&n.Seq, &n.CreatedAt, &creator, &n.UpdatedAt, &resolvedAt); err != nil {
		return nil, err
	}
	n.ParentID, n.CreatedBy = parent.String, creator.String
	if resolvedAt.Valid {
		n.ResolvedAt = &resolvedAt.Time
	}
	return &n, nil
}

// Column order matches edgeColumns.
func scanEdge(r rowScanner) (*model.Edge, error) {
	var (
		e       model.Edge
		creator sql.NullString
		note    sql.NullString
	)
	if err := r.Scan(&e.From, &e.To, &e.ProjectID, &e.Kind, &e.CreatedAt, &creator, &note); err != nil {
		return nil, err
	}
	e.CreatedBy, e.Note = creator.String, note.String
	return &e, nil
}

// collect drains rows through scan. The caller still closes rows.
func collect[T any](rows *sql.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanNodes(rows *sql.Rows) ([]*model.Node, error) { return collect(rows, scanNode) }
func scanEdges(rows *sql.Rows) ([]*model.Edge, error) { return collect(rows, scanEdge) }

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullString stores "" as NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
