package model

import "time"

// EdgeKind records how a dependency became known.
type EdgeKind string

const (
	// EdgeDeclared edges are created at planning time.
	EdgeDeclared EdgeKind = "declared"
	// EdgeDiscovered edges are inserted by an agent during execution.
	EdgeDiscovered EdgeKind = "discovered"
)

// String returns the string representation of the edge kind.
func (k EdgeKind) String() string {
	return string(k)
}

// IsValid checks whether the kind is a known value.
func (k EdgeKind) IsValid() bool {
	switch k {
	case EdgeDeclared, EdgeDiscovered:
		return true
	}
	return false
}

// Edge is a directed "From blocks To" relation between two nodes of the same project.
type Edge struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	ProjectID string    `json:"project_id"`
	Kind      EdgeKind  `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	Note      string    `json:"note,omitempty"`
}

// Clone returns a copy of the edge.
func (e *Edge) Clone() *Edge {
	c := *e
	return &c
}
