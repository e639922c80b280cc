// Package graph models the dependency structure between manifest tasks and
// executes them in deterministic order.
package graph

import (
	"sort"

	"runbook/internal/manifest"
)

// Edge records a dependency relation: To runs only after From succeeds.
type Edge struct {
	From string
	To   string
}

// Node is an immutable task node.
type Node struct {
	Name string
	Task *manifest.Task

	canonicalIndex int
}

// Graph is an immutable, validated DAG over the manifest's tasks.
//
// It is safe for concurrent read access.
type Graph struct {
	nodesByName map[string]*Node
	nodes       []*Node // canonical (name) order

	edges []edgeIndex // sorted

	outgoing [][]int // by canonical index, sorted ascending
	incoming [][]int // by canonical index, sorted ascending
	indeg    []int   // by canonical index
	depth    []int   // topological depth by canonical index
}

type edgeIndex struct {
	from int
	to   int
}

// FromManifest builds the task graph for a validated manifest, deriving one
// edge per deps entry.
func FromManifest(m *manifest.Manifest) (*Graph, error) {
	if m == nil {
		return nil, invalidf("nil manifest")
	}
	tasks := make([]*manifest.Task, 0, len(m.Tasks))
	var edges []Edge
	for _, name := range m.Names() {
		t := m.Tasks[name]
		tasks = append(tasks, t)
		for _, d := range t.Deps {
			edges = append(edges, Edge{From: d, To: name})
		}
	}
	return New(tasks, edges)
}

// New builds and validates a Graph.
//
// Validation rejects empty or duplicate task names, edges referencing unknown
// tasks, self-loops, duplicate edges, and any cycle (with a deterministic
// cycle witness in the error).
func New(tasks []*manifest.Task, edges []Edge) (*Graph, error) {
	if len(tasks) == 0 {
		return nil, invalidf("no tasks")
	}

	nodesByName := make(map[string]*Node, len(tasks))
	nodes := make([]*Node, 0, len(tasks))
	for _, t := range tasks {
		if t == nil || t.Name == "" {
			return nil, invalidf("task name is required")
		}
		if _, exists := nodesByName[t.Name]; exists {
			return nil, invalidf("duplicate task name: %q", t.Name)
		}
		n := &Node{Name: t.Name, Task: t}
		nodesByName[t.Name] = n
		nodes = append(nodes, n)
	}

	// Canonical order is lexical by name; it is the sole tie-breaker used by
	// the scheduler, so it must be stable across runs and machines.
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	for i, n := range nodes {
		n.canonicalIndex = i
	}

	nameToIndex := make(map[string]int, len(nodes))
	for _, n := range nodes {
		nameToIndex[n.Name] = n.canonicalIndex
	}

	mapped := make([]edgeIndex, 0, len(edges))
	seen := make(map[edgeIndex]struct{}, len(edges))
	for _, e := range edges {
		fromIdx, okFrom := nameToIndex[e.From]
		toIdx, okTo := nameToIndex[e.To]
		if !okFrom {
			return nil, invalidf("edge references unknown task (from): %q", e.From)
		}
		if !okTo {
			return nil, invalidf("edge references unknown task (to): %q", e.To)
		}
		if fromIdx == toIdx {
			return nil, invalidf("self-loop: %q -> %q", e.From, e.To)
		}
		pair := edgeIndex{from: fromIdx, to: toIdx}
		if _, dup := seen[pair]; dup {
			return nil, invalidf("duplicate edge: %q -> %q", e.From, e.To)
		}
		seen[pair] = struct{}{}
		mapped = append(mapped, pair)
	}

	sort.Slice(mapped, func(i, j int) bool {
		a, b := mapped[i], mapped[j]
		if a.from != b.from {
			return a.from < b.from
		}
		return a.to < b.to
	})

	outgoing := make([][]int, len(nodes))
	incoming := make([][]int, len(nodes))
	indeg := make([]int, len(nodes))
	for _, e := range mapped {
		outgoing[e.from] = append(outgoing[e.from], e.to)
		incoming[e.to] = append(incoming[e.to], e.from)
		indeg[e.to]++
	}
	for i := range outgoing {
		sort.Ints(outgoing[i])
	}
	for i := range incoming {
		sort.Ints(incoming[i])
	}

	g := &Graph{
		nodesByName: nodesByName,
		nodes:       nodes,
		edges:       mapped,
		outgoing:    outgoing,
		incoming:    incoming,
		indeg:       indeg,
	}

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}
	g.depth = g.computeDepth()
	return g, nil
}

// Node returns a node by name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodesByName[name]
	return n, ok
}

// Nodes returns the nodes in canonical order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns the dependency edges as (From, To) name pairs in canonical order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, Edge{From: g.nodes[e.from].Name, To: g.nodes[e.to].Name})
	}
	return out
}

// Depth returns the topological depth of a node: the length of the longest
// path from any root to it.
func (g *Graph) Depth(name string) (int, bool) {
	n, ok := g.nodesByName[name]
	if !ok {
		return 0, false
	}
	return g.depth[n.canonicalIndex], true
}

// TopologicalOrder returns a deterministic topological ordering of all task
// names. The graph is validated on construction, so this cannot fail.
func (g *Graph) TopologicalOrder() []string {
	order := g.topoOrderIndices()
	names := make([]string, 0, len(order))
	for _, idx := range order {
		names = append(names, g.nodes[idx].Name)
	}
	return names
}

// Required returns the set of task names needed to run the given targets:
// the targets themselves plus their transitive dependencies.
func (g *Graph) Required(targets []string) (map[string]struct{}, error) {
	required := make(map[string]struct{})
	var visit func(idx int)
	visit = func(idx int) {
		name := g.nodes[idx].Name
		if _, done := required[name]; done {
			return
		}
		required[name] = struct{}{}
		for _, p := range g.incoming[idx] {
			visit(p)
		}
	}
	for _, t := range targets {
		n, ok := g.nodesByName[t]
		if !ok {
			return nil, invalidf("unknown task: %q", t)
		}
		visit(n.canonicalIndex)
	}
	return required, nil
}

func (g *Graph) computeDepth() []int {
	depth := make([]int, len(g.nodes))
	for _, u := range g.topoOrderIndices() {
		maxParent := 0
		for _, p := range g.incoming[u] {
			if cand := depth[p] + 1; cand > maxParent {
				maxParent = cand
			}
		}
		depth[u] = maxParent
	}
	return depth
}
