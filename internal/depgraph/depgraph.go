// Package depgraph provides the cascade-notification graph between tables.
// Nodes are table names; a typed edge from P to C means a delete (or
// update) against P also marks C as affected for reactive invalidation.
// Cycles and self-edges are permitted: expansion tracks visited nodes
// instead of rejecting them.
package depgraph

import (
	"sort"
)

// EdgeKind selects which cascade relationship an edge models.
type EdgeKind string

const (
	// EdgeDelete links a table to tables affected by its deletes.
	EdgeDelete EdgeKind = "delete"
	// EdgeUpdate links a table to tables affected by its updates.
	EdgeUpdate EdgeKind = "update"
)

// Graph is the cascade-notification adjacency graph.
type Graph struct {
	nodes map[string]struct{}
	edges map[EdgeKind]map[string][]string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]struct{}),
		edges: map[EdgeKind]map[string][]string{
			EdgeDelete: make(map[string][]string),
			EdgeUpdate: make(map[string][]string),
		},
	}
}

// AddTable registers a table node. Adding an existing table is a no-op.
func (g *Graph) AddTable(name string) {
	g.nodes[name] = struct{}{}
}

// HasTable reports whether the table is registered.
func (g *Graph) HasTable(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// AddEdge adds a cascade edge. Both tables are registered implicitly:
// a cascadeNotify directive may name a table declared in another
// namespace. Self-edges are allowed. Duplicates are ignored.
func (g *Graph) AddEdge(kind EdgeKind, from, to string) {
	g.AddTable(from)
	g.AddTable(to)
	targets := g.edges[kind][from]
	for _, t := range targets {
		if t == to {
			return
		}
	}
	g.edges[kind][from] = append(g.edges[kind][from], to)
}

// Targets returns the direct cascade targets of a table for one edge kind.
func (g *Graph) Targets(kind EdgeKind, from string) []string {
	return g.edges[kind][from]
}

// Tables returns all registered tables, sorted.
func (g *Graph) Tables() []string {
	out := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Expand walks the graph breadth-first from the seed tables along edges of
// the given kind and returns the closure (seeds included), sorted. The
// visited set terminates cycles and self-edges.
func (g *Graph) Expand(kind EdgeKind, seeds []string) []string {
	visited := make(map[string]bool)
	queue := make([]string, 0, len(seeds))

	for _, s := range seeds {
		if !visited[s] {
			visited[s] = true
			queue = append(queue, s)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, target := range g.edges[kind][current] {
			if !visited[target] {
				visited[target] = true
				queue = append(queue, target)
			}
		}
	}

	out := make([]string, 0, len(visited))
	for name := range visited {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// EdgeCount returns the number of edges of one kind.
func (g *Graph) EdgeCount(kind EdgeKind) int {
	count := 0
	for _, targets := range g.edges[kind] {
		count += len(targets)
	}
	return count
}
