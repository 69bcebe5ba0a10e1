package model

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxIDLength bounds node and project identifiers.
const MaxIDLength = 128

// MaxTitleLength bounds node titles, counted in runes.
const MaxTitleLength = 500

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Is makes ValidationError match ErrInvalidArgument.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidArgument
}

func (e *ValidationError) add(field, msg string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: msg})
}

func (e *ValidationError) checkID(field, id string, required bool) {
	switch {
	case id == "":
		if required {
			e.add(field, "is required")
		}
	case len(id) > MaxIDLength:
		e.add(field, fmt.Sprintf("must be %d bytes or fewer", MaxIDLength))
	case !utf8.ValidString(id):
		e.add(field, "must be valid UTF-8")
	case strings.IndexFunc(id, unicode.IsSpace) >= 0:
		e.add(field, "must not contain whitespace")
	case strings.IndexFunc(id, unicode.IsControl) >= 0:
		e.add(field, "must not contain control characters")
	}
}

// ValidateNode checks a Node for structural constraint violations. Parent
// existence is checked by the registry, not here.
// It returns a *ValidationError if any rules fail, or nil if the node is valid.
func ValidateNode(n *Node) error {
	var ve ValidationError

	ve.checkID("id", n.ID, true)
	ve.checkID("project_id", n.ProjectID, true)
	ve.checkID("parent_id", n.ParentID, false)

	if !n.Scope.IsValid() {
		ve.add("scope", fmt.Sprintf("invalid value %q", n.Scope))
	}
	if !n.State.IsValid() {
		ve.add("state", fmt.Sprintf("invalid value %q", n.State))
	}
	if len([]rune(n.Title)) > MaxTitleLength {
		ve.add("title", fmt.Sprintf("must be %d characters or fewer", MaxTitleLength))
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateEdge checks an Edge for structural constraint violations.
// Endpoint existence, projects and cycles are checked by the engine.
func ValidateEdge(e *Edge) error {
	var ve ValidationError

	ve.checkID("from", e.From, true)
	ve.checkID("to", e.To, true)

	if !e.Kind.IsValid() {
		ve.add("kind", fmt.Sprintf("invalid value %q", e.Kind))
	}
	if len(e.Note) > 4096 {
		ve.add("note", "must be 4096 bytes or fewer")
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}
