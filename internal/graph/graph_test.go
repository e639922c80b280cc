package graph

import (
	"errors"
	"strings"
	"testing"

	"runbook/internal/manifest"
)

func task(name string, deps ...string) *manifest.Task {
	return &manifest.Task{Name: name, Cmds: []string{"true"}, Deps: deps}
}

func TestGraphConstruction_SingleNode(t *testing.T) {
	g, err := New([]*manifest.Task{task("a")}, nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got := g.TopologicalOrder(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("unexpected topo order: %v", got)
	}
}

func TestGraphConstruction_DependencyChain(t *testing.T) {
	g, err := New(
		[]*manifest.Task{task("a"), task("b"), task("c")},
		[]Edge{{From: "a", To: "b"}, {From: "b", To: "c"}},
	)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	order := g.TopologicalOrder()
	pos := map[string]int{}
	for i, n := range order {
		pos[n] = i
	}
	if !(pos["a"] < pos["b"] && pos["b"] < pos["c"]) {
		t.Fatalf("expected a < b < c, got %v", order)
	}
}

func TestGraphConstruction_Diamond(t *testing.T) {
	g, err := New(
		[]*manifest.Task{task("a"), task("b"), task("c"), task("d")},
		[]Edge{{From: "a", To: "b"}, {From: "a", To: "c"}, {From: "b", To: "d"}, {From: "c", To: "d"}},
	)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	order := g.TopologicalOrder()
	pos := map[string]int{}
	for i, n := range order {
		pos[n] = i
	}
	if !(pos["a"] < pos["b"] && pos["a"] < pos["c"]) {
		t.Fatalf("expected a before b and c, got %v", order)
	}
	if !(pos["b"] < pos["d"] && pos["c"] < pos["d"]) {
		t.Fatalf("expected d after b and c, got %v", order)
	}

	if d, _ := g.Depth("d"); d != 2 {
		t.Fatalf("expected depth 2 for d, got %d", d)
	}
}

func TestGraphConstruction_RejectsCycle(t *testing.T) {
	_, err := New(
		[]*manifest.Task{task("a"), task("b"), task("c")},
		[]Edge{{From: "a", To: "b"}, {From: "b", To: "c"}, {From: "c", To: "a"}},
	)
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	if !errors.Is(err, ErrCycleFound) {
		t.Fatalf("expected ErrCycleFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "->") {
		t.Fatalf("expected a cycle witness in the error, got %q", err.Error())
	}
}

func TestGraphConstruction_RejectsSelfLoop(t *testing.T) {
	_, err := New([]*manifest.Task{task("a")}, []Edge{{From: "a", To: "a"}})
	if !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("expected ErrInvalidGraph, got %v", err)
	}
}

func TestGraphConstruction_RejectsDuplicateEdge(t *testing.T) {
	_, err := New(
		[]*manifest.Task{task("a"), task("b")},
		[]Edge{{From: "a", To: "b"}, {From: "a", To: "b"}},
	)
	if !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("expected ErrInvalidGraph, got %v", err)
	}
}

func TestGraphConstruction_RejectsUnknownEdge(t *testing.T) {
	_, err := New([]*manifest.Task{task("a")}, []Edge{{From: "ghost", To: "a"}})
	if !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("expected ErrInvalidGraph, got %v", err)
	}
}

func TestRequired_TransitiveClosure(t *testing.T) {
	g, err := New(
		[]*manifest.Task{task("a"), task("b"), task("c"), task("d")},
		[]Edge{{From: "a", To: "b"}, {From: "b", To: "c"}},
	)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	req, err := g.Required([]string{"c"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	for _, want := range []string{"a", "b", "c"} {
		if _, ok := req[want]; !ok {
			t.Fatalf("expected %q in required set, got %v", want, req)
		}
	}
	if _, ok := req["d"]; ok {
		t.Fatalf("did not expect %q in required set", "d")
	}

	if _, err := g.Required([]string{"ghost"}); err == nil {
		t.Fatalf("expected error for unknown target")
	}
}

func TestFromManifest_DerivesEdgesFromDeps(t *testing.T) {
	m, err := manifest.Parse([]byte(`
tasks:
  fmt:
    cmds: [cargo fmt]
  build:
    deps: [fmt]
    cmds: [cargo build]
`))
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	g, err := FromManifest(m)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	edges := g.Edges()
	if len(edges) != 1 || edges[0].From != "fmt" || edges[0].To != "build" {
		t.Fatalf("unexpected edges: %v", edges)
	}
}

func TestFromManifest_RejectsDepCycle(t *testing.T) {
	m, err := manifest.Parse([]byte(`
tasks:
  a:
    deps: [b]
    cmds: [true]
  b:
    deps: [a]
    cmds: [true]
`))
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	if _, err := FromManifest(m); !errors.Is(err, ErrCycleFound) {
		t.Fatalf("expected ErrCycleFound, got %v", err)
	}
}
