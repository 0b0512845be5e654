package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is a directed acyclic graph of "must happen before" edges between
// named nodes. An edge (a, b) records that a requires b, so b is always
// ordered before a in TopologicalOrder.
type Graph struct {
	// nodes holds node names in insertion order, which keeps traversal deterministic
	nodes []string

	// index maps node names to their insertion position
	index map[string]int

	// requires maps a node to the nodes it depends on
	requires map[string][]string

	// requiredBy maps a node to the nodes that depend on it
	requiredBy map[string][]string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:      make([]string, 0),
		index:      make(map[string]int),
		requires:   make(map[string][]string),
		requiredBy: make(map[string][]string),
	}
}

// AddNode adds a node with no edges. Adding an existing node is a no-op.
func (g *Graph) AddNode(name string) {
	if _, exists := g.index[name]; exists {
		return
	}
	g.index[name] = len(g.nodes)
	g.nodes = append(g.nodes, name)
	g.requires[name] = make([]string, 0)
	g.requiredBy[name] = make([]string, 0)
}

// AddEdge records that requirer requires required. Both nodes are added
// if missing and duplicate edges are ignored.
func (g *Graph) AddEdge(requirer, required string) {
	g.AddNode(requirer)
	g.AddNode(required)
	for _, existing := range g.requires[requirer] {
		if existing == required {
			return
		}
	}
	g.requires[requirer] = append(g.requires[requirer], required)
	g.requiredBy[required] = append(g.requiredBy[required], requirer)
}

// Has reports whether the graph contains the node.
func (g *Graph) Has(name string) bool {
	_, ok := g.index[name]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Requires returns the nodes that name directly depends on.
func (g *Graph) Requires(name string) []string {
	return append([]string(nil), g.requires[name]...)
}

// RequiredBy returns the nodes that directly depend on name.
func (g *Graph) RequiredBy(name string) []string {
	return append([]string(nil), g.requiredBy[name]...)
}

// Validate detects circular dependencies using depth-first search.
func (g *Graph) Validate() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, name := range g.nodes {
		if visited[name] {
			continue
		}
		if cycle := g.findCycle(name, visited, recStack, nil); cycle != nil {
			return NewValidationError(
				fmt.Sprintf("circular dependency found: %s", formatCycle(cycle)),
			)
		}
	}

	return nil
}

// findCycle performs DFS along requirement edges and returns the cycle path if one exists.
func (g *Graph) findCycle(
	name string,
	visited map[string]bool,
	recStack map[string]bool,
	path []string,
) []string {
	visited[name] = true
	recStack[name] = true
	path = append(path, name)

	for _, required := range g.requires[name] {
		if !visited[required] {
			if cycle := g.findCycle(required, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[required] {
			for i, id := range path {
				if id == required {
					return append(append([]string(nil), path[i:]...), required)
				}
			}
		}
	}

	recStack[name] = false
	return nil
}

// TopologicalOrder returns every node exactly once, each after all nodes it
// requires. Ties are broken by insertion order.
func (g *Graph) TopologicalOrder() ([]string, error) {
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}

	order := make([]string, 0, len(g.nodes))
	for _, level := range levels {
		order = append(order, level...)
	}
	return order, nil
}

// ReverseOrder returns the exact reverse of TopologicalOrder, so dependents
// come before the nodes they require.
func (g *Graph) ReverseOrder() ([]string, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

// Levels groups nodes using Kahn's algorithm. Nodes in the same level have
// no ordering relationship to each other.
func (g *Graph) Levels() ([][]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for _, name := range g.nodes {
		inDegree[name] = len(g.requires[name])
	}

	currentLevel := make([]string, 0)
	for _, name := range g.nodes {
		if inDegree[name] == 0 {
			currentLevel = append(currentLevel, name)
		}
	}

	levels := make([][]string, 0)
	processed := 0
	for len(currentLevel) > 0 {
		levels = append(levels, currentLevel)
		processed += len(currentLevel)

		nextLevel := make([]string, 0)
		for _, name := range currentLevel {
			for _, dependent := range g.requiredBy[name] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					nextLevel = append(nextLevel, dependent)
				}
			}
		}
		g.sortByInsertion(nextLevel)
		currentLevel = nextLevel
	}

	if processed != len(g.nodes) {
		if err := g.Validate(); err != nil {
			return nil, err
		}
		return nil, NewPermanentError("failed to order all graph nodes", nil).
			WithCode(ErrCodeInternal)
	}

	return levels, nil
}

// Subgraph returns root together with everything that transitively depends
// on it, keeping the edges between those nodes.
func (g *Graph) Subgraph(root string) *Graph {
	members := make(map[string]bool)
	var walk func(string)
	walk = func(name string) {
		if members[name] {
			return
		}
		members[name] = true
		for _, dependent := range g.requiredBy[name] {
			walk(dependent)
		}
	}
	if g.Has(root) {
		walk(root)
	}

	names := make([]string, 0, len(members))
	for _, name := range g.nodes {
		if members[name] {
			names = append(names, name)
		}
	}
	return g.Subset(names)
}

// Subset returns the subgraph induced by names. Unknown names are ignored.
func (g *Graph) Subset(names []string) *Graph {
	keep := make(map[string]bool, len(names))
	for _, name := range names {
		if g.Has(name) {
			keep[name] = true
		}
	}

	sub := NewGraph()
	for _, name := range g.nodes {
		if keep[name] {
			sub.AddNode(name)
		}
	}
	for _, name := range sub.nodes {
		for _, required := range g.requires[name] {
			if keep[required] {
				sub.AddEdge(name, required)
			}
		}
	}
	return sub
}

// Merge returns a copy of g that also carries every edge of other whose two
// ends both exist in g.
func (g *Graph) Merge(other *Graph) *Graph {
	merged := g.Subset(g.nodes)
	for _, name := range other.nodes {
		if !merged.Has(name) {
			continue
		}
		for _, required := range other.requires[name] {
			if merged.Has(required) {
				merged.AddEdge(name, required)
			}
		}
	}
	return merged
}

// ToDOT generates a DOT format representation of the graph for visualization.
// Edges point from a node to the node that requires it.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Stack {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	levels, err := g.Levels()
	if err != nil {
		levels = [][]string{g.Nodes()}
	}
	for level, names := range levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, name := range names {
			sb.WriteString(fmt.Sprintf("    %q;\n", name))
		}
		sb.WriteString("  }\n\n")
	}

	for _, name := range g.nodes {
		for _, required := range g.requires[name] {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", required, name))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// sortByInsertion orders names by the position they were added to the graph.
func (g *Graph) sortByInsertion(names []string) {
	sort.Slice(names, func(i, j int) bool {
		return g.index[names[i]] < g.index[names[j]]
	})
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}
