package model

import "time"

// Scope distinguishes tickets from the tasks they own.
type Scope string

const (
	ScopeTicket Scope = "ticket"
	ScopeTask   Scope = "task"
)

// String returns the string representation of the scope.
func (s Scope) String() string {
	return string(s)
}

// IsValid checks whether the scope is a known value.
func (s Scope) IsValid() bool {
	switch s {
	case ScopeTicket, ScopeTask:
		return true
	}
	return false
}

// State is the resolution state of a node.
type State string

const (
	StateOpen     State = "open"
	StateResolved State = "resolved"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsValid checks whether the state is a known value.
func (s State) IsValid() bool {
	switch s {
	case StateOpen, StateResolved:
		return true
	}
	return false
}

// Node is a ticket or task tracked for dependency purposes.
type Node struct {
	ID         string     `json:"id"`
	Scope      Scope      `json:"scope"`
	ProjectID  string     `json:"project_id"`
	ParentID   string     `json:"parent_id,omitempty"`
	Title      string     `json:"title,omitempty"`
	State      State      `json:"state"`
	Seq        int64      `json:"seq"`
	CreatedAt  time.Time  `json:"created_at"`
	CreatedBy  string     `json:"created_by,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// IsOpen reports whether the node still counts as a blocker.
func (n *Node) IsOpen() bool {
	return n.State == StateOpen
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	c := *n
	if n.ResolvedAt != nil {
		t := *n.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
