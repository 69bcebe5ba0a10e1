package graph

import (
	"context"

	"github.com/alfredjeanlab/depgraph/internal/store"
)

// findPath runs a breadth-first search over outgoing edges from start and
// returns the shortest path [start, ..., target], or nil if target is not
// reachable. The visited set bounds the walk to the project's nodes.
func findPath(ctx context.Context, r store.Reader, start, target string) ([]string, error) {
	if start == target {
		return []string{start}, nil
	}

	parent := map[string]string{start: ""}
	queue := []string{start}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := queue[0]
		queue = queue[1:]

		out, err := r.OutgoingEdges(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, e := range out {
			if _, seen := parent[e.To]; seen {
				continue
			}
			parent[e.To] = cur
			if e.To == target {
				return tracePath(parent, start, target), nil
			}
			queue = append(queue, e.To)
		}
	}
	return nil, nil
}

func tracePath(parent map[string]string, start, target string) []string {
	var rev []string
	for id := target; id != start; id = parent[id] {
		rev = append(rev, id)
	}
	rev = append(rev, start)

	path := make([]string, len(rev))
	for i, id := range rev {
		path[len(rev)-1-i] = id
	}
	return path
}
