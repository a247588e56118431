package query

import (
	"sort"
	"sync"
)

// SharedResults registers result shapes declared with a shared name.
// The first query to declare a name fixes the canonical shape; every
// later declaration must be structurally identical.
type SharedResults struct {
	mu    sync.Mutex
	nodes map[string]*ResultNode
	files map[string]string
}

func NewSharedResults() *SharedResults {
	return &SharedResults{
		nodes: make(map[string]*ResultNode),
		files: make(map[string]string),
	}
}

func sharedKey(namespace, name string) string {
	return namespace + "/" + name
}

// Resolve registers node under (namespace, name) or, when the name is
// already taken, checks structural equality against the canonical node
// and returns it. A structural mismatch is a ConflictError naming both
// declaring files.
func (r *SharedResults) Resolve(namespace, name, file string, node *ResultNode) (*ResultNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sharedKey(namespace, name)
	existing, ok := r.nodes[key]
	if !ok {
		r.nodes[key] = node
		r.files[key] = file
		return node, nil
	}
	if !StructuralEqual(existing, node) {
		return nil, &ConflictError{
			Namespace: namespace,
			Name:      name,
			File:      file,
			Detail:    "shape does not match earlier declaration in " + r.files[key],
		}
	}
	return existing, nil
}

// Names returns every registered namespace/name key, sorted.
func (r *SharedResults) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.nodes))
	for k := range r.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Node returns the canonical node for a namespace/name key.
func (r *SharedResults) Node(namespace, name string) (*ResultNode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[sharedKey(namespace, name)]
	return n, ok
}
