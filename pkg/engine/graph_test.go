package engine

import (
	"strings"
	"testing"
)

func positions(order []string) map[string]int {
	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	return pos
}

func TestGraph_TopologicalOrder(t *testing.T) {
	g := NewGraph()
	g.AddEdge("app", "db")
	g.AddEdge("app", "cache")
	g.AddEdge("lb", "app")
	g.AddEdge("cache", "net")
	g.AddEdge("db", "net")
	g.AddNode("standalone")

	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatalf("TopologicalOrder() error = %v", err)
	}
	if len(order) != g.Len() {
		t.Fatalf("Expected %d nodes, got %d (%v)", g.Len(), len(order), order)
	}

	pos := positions(order)
	for _, node := range g.Nodes() {
		for _, required := range g.Requires(node) {
			if pos[required] >= pos[node] {
				t.Errorf("Expected %s before %s in %v", required, node, order)
			}
		}
	}
}

func TestGraph_ReverseOrder(t *testing.T) {
	g := NewGraph()
	g.AddEdge("b", "a")
	g.AddEdge("c", "b")
	g.AddEdge("d", "a")

	forward, err := g.TopologicalOrder()
	if err != nil {
		t.Fatalf("TopologicalOrder() error = %v", err)
	}
	reverse, err := g.ReverseOrder()
	if err != nil {
		t.Fatalf("ReverseOrder() error = %v", err)
	}
	if len(forward) != len(reverse) {
		t.Fatalf("Length mismatch: %v vs %v", forward, reverse)
	}
	for i := range forward {
		if forward[i] != reverse[len(reverse)-1-i] {
			t.Fatalf("ReverseOrder() = %v, not the reverse of %v", reverse, forward)
		}
	}
}

func TestGraph_Validate_Cycle(t *testing.T) {
	g := NewGraph()
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	g.AddEdge("c", "a")

	err := g.Validate()
	if err == nil {
		t.Fatal("Expected a cycle error")
	}
	if !IsValidation(err) {
		t.Errorf("Expected a validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "circular dependency") {
		t.Errorf("Expected circular dependency message, got %q", err.Error())
	}

	if _, err := g.TopologicalOrder(); err == nil {
		t.Error("Expected TopologicalOrder() to fail on a cycle")
	}
}

func TestGraph_SelfReference(t *testing.T) {
	g := NewGraph()
	g.AddEdge("a", "a")

	if err := g.Validate(); err == nil {
		t.Fatal("Expected a self reference to be a cycle")
	}
}

func TestGraph_RequiredBy(t *testing.T) {
	g := NewGraph()
	g.AddEdge("b", "a")
	g.AddEdge("c", "a")
	g.AddEdge("c", "a")

	got := g.RequiredBy("a")
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("RequiredBy(a) = %v, want [b c]", got)
	}
	if len(g.Requires("c")) != 1 {
		t.Errorf("Expected duplicate edges to be ignored, got %v", g.Requires("c"))
	}
	if len(g.RequiredBy("b")) != 0 {
		t.Errorf("Expected nothing to require b, got %v", g.RequiredBy("b"))
	}
}

func TestGraph_Levels(t *testing.T) {
	g := NewGraph()
	g.AddEdge("b", "a")
	g.AddEdge("c", "a")
	g.AddEdge("d", "b")
	g.AddEdge("d", "c")

	levels, err := g.Levels()
	if err != nil {
		t.Fatalf("Levels() error = %v", err)
	}
	if len(levels) != 3 {
		t.Fatalf("Expected 3 levels, got %v", levels)
	}
	if len(levels[1]) != 2 || levels[1][0] != "b" || levels[1][1] != "c" {
		t.Errorf("Expected level 1 to be [b c], got %v", levels[1])
	}
}

func TestGraph_Subgraph(t *testing.T) {
	g := NewGraph()
	g.AddEdge("b", "a")
	g.AddEdge("c", "b")
	g.AddEdge("d", "x")

	sub := g.Subgraph("b")
	if sub.Len() != 2 || !sub.Has("b") || !sub.Has("c") {
		t.Fatalf("Subgraph(b) nodes = %v, want [b c]", sub.Nodes())
	}
	if sub.Has("a") {
		t.Error("Subgraph must not contain what the root requires")
	}
	if req := sub.Requires("c"); len(req) != 1 || req[0] != "b" {
		t.Errorf("Expected edge c -> b to survive, got %v", req)
	}

	if empty := g.Subgraph("missing"); empty.Len() != 0 {
		t.Errorf("Expected empty subgraph for unknown root, got %v", empty.Nodes())
	}
}

func TestGraph_Merge(t *testing.T) {
	newGraph := NewGraph()
	newGraph.AddNode("a")
	newGraph.AddNode("b")
	newGraph.AddNode("c")

	oldGraph := NewGraph()
	oldGraph.AddEdge("b", "a")
	oldGraph.AddEdge("gone", "a")

	merged := newGraph.Merge(oldGraph)
	if merged.Has("gone") {
		t.Error("Merge must not add nodes")
	}
	if req := merged.Requires("b"); len(req) != 1 || req[0] != "a" {
		t.Errorf("Expected old edge b -> a, got %v", req)
	}
	if len(newGraph.Requires("b")) != 0 {
		t.Error("Merge must not modify the receiver")
	}
}

func TestGraph_ToDOT(t *testing.T) {
	g := NewGraph()
	g.AddEdge("web", "db")

	dot := g.ToDOT()
	if !strings.Contains(dot, "digraph Stack") {
		t.Errorf("Expected digraph header, got %s", dot)
	}
	if !strings.Contains(dot, `"db" -> "web"`) {
		t.Errorf("Expected edge db -> web, got %s", dot)
	}
}
