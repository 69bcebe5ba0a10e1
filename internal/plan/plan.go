// Package plan loads YAML planning files and applies them as declared
// tickets, tasks and edges. Applying a plan twice is harmless: nodes and
// edges that already exist are reported, not re-created.
package plan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/alfredjeanlab/depgraph/internal/api"
	"github.com/alfredjeanlab/depgraph/internal/model"
)

// Plan is the document format:
//
//	project: p1
//	tickets:
//	  - id: tk-checkout
//	    title: Checkout flow
//	    tasks:
//	      - id: ts-schema
//	      - id: ts-api
//	        after: [ts-schema]
//	edges:
//	  - from: ts-api
//	    to: ts-ui
//	    note: UI needs the API contract
type Plan struct {
	Project string   `yaml:"project"`
	Tickets []Ticket `yaml:"tickets"`
	Edges   []Edge   `yaml:"edges"`
}

type Ticket struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	Tasks []Task `yaml:"tasks"`
}

// Task is a task of the enclosing ticket. After lists nodes that block it.
type Task struct {
	ID    string   `yaml:"id"`
	Title string   `yaml:"title"`
	After []string `yaml:"after"`
}

// Edge declares "From blocks To" between any two nodes of the project.
type Edge struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Note string `yaml:"note"`
}

// Load decodes a plan and validates it. Unknown keys are rejected so typos
// do not silently drop dependencies.
func Load(r io.Reader) (*Plan, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var p Plan
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty plan: %w", model.ErrInvalidArgument)
		}
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadFile reads and validates the plan at path.
func LoadFile(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Validate checks that the plan names a project, that every node has a
// unique id and that every edge names both endpoints. Edges may refer to
// nodes created outside the plan.
func (p *Plan) Validate() error {
	ve := &model.ValidationError{}
	add := func(field, msg string) {
		ve.Errors = append(ve.Errors, model.FieldError{Field: field, Message: msg})
	}
	if p.Project == "" {
		add("project", "is required")
	}
	seen := make(map[string]bool)
	claim := func(field, id string) {
		switch {
		case id == "":
			add(field, "id is required")
		case seen[id]:
			add(field, fmt.Sprintf("duplicate id %q", id))
		}
		seen[id] = true
	}
	for i, t := range p.Tickets {
		claim(fmt.Sprintf("tickets[%d]", i), t.ID)
		for j, task := range t.Tasks {
			claim(fmt.Sprintf("tickets[%d].tasks[%d]", i, j), task.ID)
			for _, a := range task.After {
				if a == "" || a == task.ID {
					add(fmt.Sprintf("tickets[%d].tasks[%d].after", i, j), fmt.Sprintf("invalid blocker %q", a))
				}
			}
		}
	}
	for i, e := range p.Edges {
		if e.From == "" || e.To == "" {
			add(fmt.Sprintf("edges[%d]", i), "from and to are required")
		}
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// TaskCount returns the number of tasks across all tickets.
func (p *Plan) TaskCount() int {
	n := 0
	for _, t := range p.Tickets {
		n += len(t.Tasks)
	}
	return n
}

// EdgeCount returns the number of edges Apply will declare, counting each
// task's After entries.
func (p *Plan) EdgeCount() int {
	n := len(p.Edges)
	for _, t := range p.Tickets {
		for _, task := range t.Tasks {
			n += len(task.After)
		}
	}
	return n
}

// Graph is the part of the service a plan is applied through.
// client.GraphClient satisfies it.
type Graph interface {
	CreateNode(ctx context.Context, req *api.CreateNodeRequest) (*model.Node, error)
	GetNode(ctx context.Context, id string) (*model.Node, error)
	AddEdge(ctx context.Context, req *api.AddEdgeRequest) (*model.Edge, error)
}

// Result lists what Apply did.
type Result struct {
	CreatedNodes  []string `json:"created_nodes"`
	ExistingNodes []string `json:"existing_nodes"`
	CreatedEdges  []string `json:"created_edges"`
	ExistingEdges []string `json:"existing_edges"`
}

// Apply creates the plan's tickets, then their tasks, then every edge, as
// actor. It stops at the first failure; what was applied before it stays.
// A node that already exists is accepted only if it has the planned scope,
// project and parent.
func Apply(ctx context.Context, g Graph, p *Plan, actor string) (*Result, error) {
	res := &Result{
		CreatedNodes:  []string{},
		ExistingNodes: []string{},
		CreatedEdges:  []string{},
		ExistingEdges: []string{},
	}

	for _, t := range p.Tickets {
		req := &api.CreateNodeRequest{ID: t.ID, Scope: model.ScopeTicket, ProjectID: p.Project, Title: t.Title, CreatedBy: actor}
		if err := ensureNode(ctx, g, req, res); err != nil {
			return res, err
		}
	}
	for _, t := range p.Tickets {
		for _, task := range t.Tasks {
			req := &api.CreateNodeRequest{ID: task.ID, Scope: model.ScopeTask, ProjectID: p.Project, ParentID: t.ID, Title: task.Title, CreatedBy: actor}
			if err := ensureNode(ctx, g, req, res); err != nil {
				return res, err
			}
		}
	}

	for _, t := range p.Tickets {
		for _, task := range t.Tasks {
			for _, blocker := range task.After {
				if err := ensureEdge(ctx, g, &api.AddEdgeRequest{From: blocker, To: task.ID, Kind: model.EdgeDeclared, CreatedBy: actor}, res); err != nil {
					return res, err
				}
			}
		}
	}
	for _, e := range p.Edges {
		if err := ensureEdge(ctx, g, &api.AddEdgeRequest{From: e.From, To: e.To, Kind: model.EdgeDeclared, CreatedBy: actor, Note: e.Note}, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func ensureNode(ctx context.Context, g Graph, req *api.CreateNodeRequest, res *Result) error {
	_, err := g.CreateNode(ctx, req)
	if err == nil {
		res.CreatedNodes = append(res.CreatedNodes, req.ID)
		return nil
	}
	if !errors.Is(err, model.ErrDuplicateID) {
		return fmt.Errorf("create %s %s: %w", req.Scope, req.ID, err)
	}

	existing, gerr := g.GetNode(ctx, req.ID)
	if gerr != nil {
		return fmt.Errorf("create %s %s: %w", req.Scope, req.ID, gerr)
	}
	if existing.Scope != req.Scope || existing.ProjectID != req.ProjectID || existing.ParentID != req.ParentID {
		return fmt.Errorf("%s already exists as a %s in project %s with parent %q: %w",
			req.ID, existing.Scope, existing.ProjectID, existing.ParentID, model.ErrDuplicateID)
	}
	res.ExistingNodes = append(res.ExistingNodes, req.ID)
	return nil
}

func ensureEdge(ctx context.Context, g Graph, req *api.AddEdgeRequest, res *Result) error {
	name := req.From + " -> " + req.To
	_, err := g.AddEdge(ctx, req)
	switch {
	case err == nil:
		res.CreatedEdges = append(res.CreatedEdges, name)
	case errors.Is(err, model.ErrDuplicateEdge):
		res.ExistingEdges = append(res.ExistingEdges, name)
	default:
		return fmt.Errorf("edge %s: %w", name, err)
	}
	return nil
}
