package model

import (
	"errors"
	"strings"
	"testing"
)

// validNode returns a Node that passes all validation rules.
func validNode() Node {
	return Node{
		ID:        "ts-login",
		Scope:     ScopeTask,
		ProjectID: "proj-1",
		ParentID:  "tk-auth",
		State:     StateOpen,
	}
}

// fieldErrors extracts a *ValidationError from err or fails the test.
func fieldErrors(t *testing.T, err error) []FieldError {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	return ve.Errors
}

// hasFieldError reports whether the error list contains an error for the given field.
func hasFieldError(errs []FieldError, field string) bool {
	for _, fe := range errs {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func TestValidateNode_Valid(t *testing.T) {
	n := validNode()
	if err := ValidateNode(&n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateNode_Fields(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Node)
		field  string
	}{
		{"MissingID", func(n *Node) { n.ID = "" }, "id"},
		{"LongID", func(n *Node) { n.ID = strings.Repeat("x", MaxIDLength+1) }, "id"},
		{"SpaceInID", func(n *Node) { n.ID = "ts 1" }, "id"},
		{"NULInID", func(n *Node) { n.ID = "ts\x001" }, "id"},
		{"ControlInID", func(n *Node) { n.ID = "ts\x7f1" }, "id"},
		{"InvalidUTF8ID", func(n *Node) { n.ID = "ts-\xff\xfe" }, "id"},
		{"InvalidUTF8Project", func(n *Node) { n.ProjectID = "proj-\xc3" }, "project_id"},
		{"MissingProject", func(n *Node) { n.ProjectID = "" }, "project_id"},
		{"BadParent", func(n *Node) { n.ParentID = "a\tb" }, "parent_id"},
		{"BadScope", func(n *Node) { n.Scope = "epic" }, "scope"},
		{"BadState", func(n *Node) { n.State = "" }, "state"},
		{"LongTitle", func(n *Node) { n.Title = strings.Repeat("é", MaxTitleLength+1) }, "title"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			n := validNode()
			tc.mutate(&n)
			errs := fieldErrors(t, ValidateNode(&n))
			if !hasFieldError(errs, tc.field) {
				t.Errorf("expected error on field %q, got %+v", tc.field, errs)
			}
		})
	}
}

func TestValidateNode_UnicodeID(t *testing.T) {
	n := validNode()
	n.ID = "ts-größe-ログイン"
	if err := ValidateNode(&n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateNode_TitleAtLimit(t *testing.T) {
	n := validNode()
	n.Title = strings.Repeat("é", MaxTitleLength)
	if err := ValidateNode(&n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateEdge(t *testing.T) {
	ok := Edge{From: "a", To: "b", Kind: EdgeDeclared}
	if err := ValidateEdge(&ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := Edge{Kind: "blocks", Note: strings.Repeat("n", 4097)}
	errs := fieldErrors(t, ValidateEdge(&bad))
	for _, f := range []string{"from", "to", "kind", "note"} {
		if !hasFieldError(errs, f) {
			t.Errorf("expected error on field %q", f)
		}
	}
}

func TestValidationError_MatchesInvalidArgument(t *testing.T) {
	n := validNode()
	n.ID = ""
	err := ValidateNode(&n)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("errors.Is(%v, ErrInvalidArgument) = false", err)
	}
	if !strings.HasPrefix(err.Error(), "validation failed: id: ") {
		t.Errorf("Error() = %q", err.Error())
	}
}
