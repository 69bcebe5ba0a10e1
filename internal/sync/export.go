package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/depgraph/internal/model"
	"github.com/alfredjeanlab/depgraph/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version      string    `json:"version"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	ProjectCount int       `json:"project_count"`
	NodeCount    int       `json:"node_count"`
	EdgeCount    int       `json:"edge_count"`
}

// readHeader decodes the header line at the start of an export.
func readHeader(data []byte) (header, bool) {
	first, _, _ := bytes.Cut(data, []byte("\n"))
	var h header
	if err := json.Unmarshal(first, &h); err != nil || h.Type != "header" {
		return header{}, false
	}
	return h, true
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// projectDump is one project's nodes and edges read from a single snapshot.
type projectDump struct {
	nodes []*model.Node
	edges []*model.Edge
}

// ExportJSONL writes every project's nodes and edges from the store as JSONL
// to w. Projects are sorted by ID; within a project nodes are in creation
// order and followed by the project's edges. Each project is read from a
// consistent snapshot.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer) error {
	projects, err := s.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	dumps := make([]projectDump, 0, len(projects))
	var nodeCount, edgeCount int
	for _, p := range projects {
		var d projectDump
		err := s.ViewProject(ctx, p, func(r store.Reader) (err error) {
			if d.nodes, err = r.ListNodes(ctx, p); err != nil {
				return err
			}
			d.edges, err = r.ListEdges(ctx, p)
			return err
		})
		if err != nil {
			return fmt.Errorf("read project %s: %w", p, err)
		}
		nodeCount += len(d.nodes)
		edgeCount += len(d.edges)
		dumps = append(dumps, d)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:      "1",
		Type:         "header",
		Timestamp:    time.Now().UTC(),
		ProjectCount: len(projects),
		NodeCount:    nodeCount,
		EdgeCount:    edgeCount,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, d := range dumps {
		for _, n := range d.nodes {
			if err := enc.Encode(record{Type: "node", Data: n}); err != nil {
				return fmt.Errorf("encode node %s: %w", n.ID, err)
			}
		}
		for _, e := range d.edges {
			if err := enc.Encode(record{Type: "edge", Data: e}); err != nil {
				return fmt.Errorf("encode edge %s -> %s: %w", e.From, e.To, err)
			}
		}
	}

	return nil
}
