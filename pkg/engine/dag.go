package engine

import (
	"fmt"
	"sort"
	"strings"
)

// DAGBuilder orders modules so that dependencies are installed before their
// dependents. Nodes are numbered in insertion order and ties between ready
// nodes are broken by that number, which keeps the output deterministic and as
// close as possible to breadth-first discovery order.
type DAGBuilder struct {
	// nodes maps module names to their records
	nodes map[string]ModuleRecord

	// order is the insertion index of each node
	order map[string]int

	// adjacencyList maps a module to the modules that depend on it
	adjacencyList map[string][]string

	// reverseAdjacencyList maps a module to its dependencies
	reverseAdjacencyList map[string][]string

	// inDegree tracks the number of unresolved dependencies of each node
	inDegree map[string]int

	edges  []PlanEdge
	levels [][]string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		nodes:                make(map[string]ModuleRecord),
		order:                make(map[string]int),
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		inDegree:             make(map[string]int),
	}
}

// AddNode registers a module. Nodes must be added before edges touching them.
func (b *DAGBuilder) AddNode(rec ModuleRecord) error {
	if rec.Name == "" {
		return fmt.Errorf("module has empty name")
	}
	if _, exists := b.nodes[rec.Name]; exists {
		return fmt.Errorf("duplicate module: %s", rec.Name)
	}

	b.nodes[rec.Name] = rec
	b.order[rec.Name] = len(b.order)
	b.inDegree[rec.Name] = 0
	return nil
}

// AddEdge records that edge.To depends on edge.From. Self references and
// repeated edges are kept for reporting but do not affect ordering.
func (b *DAGBuilder) AddEdge(edge PlanEdge) error {
	if _, ok := b.nodes[edge.From]; !ok {
		return fmt.Errorf("edge references unknown module %s", edge.From)
	}
	if _, ok := b.nodes[edge.To]; !ok {
		return fmt.Errorf("edge references unknown module %s", edge.To)
	}
	b.edges = append(b.edges, edge)

	if edge.From == edge.To {
		return nil
	}
	for _, existing := range b.reverseAdjacencyList[edge.To] {
		if existing == edge.From {
			return nil
		}
	}

	b.adjacencyList[edge.From] = append(b.adjacencyList[edge.From], edge.To)
	b.reverseAdjacencyList[edge.To] = append(b.reverseAdjacencyList[edge.To], edge.From)
	b.inDegree[edge.To]++
	return nil
}

// Edges returns the recorded edges in insertion order.
func (b *DAGBuilder) Edges() []PlanEdge {
	return b.edges
}

// Sort returns module names in dependency order using Kahn's algorithm.
//
// When every remaining node is blocked, the graph contains a cycle. The cycle
// is located with a depth-first search and handed to breakCycle; if it returns
// true the earliest-inserted remaining node is emitted and sorting continues,
// otherwise Sort fails with a CycleError. A nil breakCycle rejects all cycles.
func (b *DAGBuilder) Sort(breakCycle func(cycle []string) bool) ([]string, error) {
	inDegree := make(map[string]int, len(b.inDegree))
	for id, degree := range b.inDegree {
		inDegree[id] = degree
	}

	done := make(map[string]bool, len(b.nodes))
	sorted := make([]string, 0, len(b.nodes))

	for len(sorted) < len(b.nodes) {
		next := ""
		for _, id := range b.byOrder() {
			if !done[id] && inDegree[id] == 0 {
				next = id
				break
			}
		}

		if next == "" {
			cycle := b.findCycle(done)
			if breakCycle == nil || !breakCycle(cycle) {
				return nil, &CycleError{Cycle: cycle}
			}
			for _, id := range b.byOrder() {
				if !done[id] {
					next = id
					break
				}
			}
		}

		done[next] = true
		sorted = append(sorted, next)
		for _, dependent := range b.adjacencyList[next] {
			inDegree[dependent]--
		}
	}

	b.computeLevels(sorted)
	return sorted, nil
}

func (b *DAGBuilder) byOrder() []string {
	ids := make([]string, 0, len(b.nodes))
	for id := range b.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return b.order[ids[i]] < b.order[ids[j]] })
	return ids
}

// findCycle performs a DFS over the nodes not yet emitted, following
// dependency edges, and returns the first cycle found as a closed path.
func (b *DAGBuilder) findCycle(done map[string]bool) []string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var visit func(id string, path []string) []string
	visit = func(id string, path []string) []string {
		visited[id] = true
		recStack[id] = true
		path = append(path, id)

		for _, dep := range b.reverseAdjacencyList[id] {
			if done[dep] {
				continue
			}
			if !visited[dep] {
				if cycle := visit(dep, path); cycle != nil {
					return cycle
				}
			} else if recStack[dep] {
				for i, p := range path {
					if p == dep {
						cycle := append([]string{}, path[i:]...)
						return append(cycle, dep)
					}
				}
			}
		}

		recStack[id] = false
		return nil
	}

	for _, id := range b.byOrder() {
		if done[id] || visited[id] {
			continue
		}
		if cycle := visit(id, nil); cycle != nil {
			return cycle
		}
	}
	return nil
}

// computeLevels assigns each node the length of its longest dependency chain
// within the sorted order. Edges pointing forward in the order (broken
// cycles) are ignored.
func (b *DAGBuilder) computeLevels(sorted []string) {
	position := make(map[string]int, len(sorted))
	level := make(map[string]int, len(sorted))
	depth := 0

	for i, id := range sorted {
		position[id] = i
		l := 0
		for _, dep := range b.reverseAdjacencyList[id] {
			if p, ok := position[dep]; ok && p < i && level[dep]+1 > l {
				l = level[dep] + 1
			}
		}
		level[id] = l
		if l+1 > depth {
			depth = l + 1
		}
	}

	b.levels = make([][]string, depth)
	for _, id := range sorted {
		b.levels[level[id]] = append(b.levels[level[id]], id)
	}
}

// GetLevels returns the levels computed by the last Sort. Modules in the same
// level do not depend on each other.
func (b *DAGBuilder) GetLevels() [][]string {
	return b.levels
}

// ToDOT generates a DOT format representation of the graph for visualization.
// The output can be rendered with Graphviz tools.
func (b *DAGBuilder) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph ModuleGraph {\n")
	sb.WriteString("  rankdir=BT;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range b.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, id := range ids {
			rec := b.nodes[id]
			label := rec.Name
			if rec.Version != "" {
				label += "\\n" + rec.Version
			} else if rec.Constraint != "" {
				label += "\\n" + rec.Constraint
			}
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				id, label, getSourceColor(rec.Source)))
		}

		sb.WriteString("  }\n\n")
	}

	for _, edge := range b.edges {
		style := "style=solid, color=black"
		if edge.From == edge.To {
			style = "style=dotted, color=gray"
		}
		sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [%s];\n", edge.To, edge.From, style))
	}

	sb.WriteString("}\n")
	return sb.String()
}

func getSourceColor(source Source) string {
	switch source {
	case SourceLocal:
		return "lightgray"
	case SourceRegistry:
		return "lightblue"
	case SourceGit:
		return "lightgreen"
	default:
		return "white"
	}
}

// PlanGraph rebuilds the dependency graph of a resolved plan, with levels
// computed, for rendering.
func PlanGraph(plan *ResolutionPlan) (*DAGBuilder, error) {
	b := NewDAGBuilder()
	for _, rec := range plan.Entries {
		if err := b.AddNode(rec); err != nil {
			return nil, err
		}
	}
	for _, edge := range plan.Edges {
		if err := b.AddEdge(edge); err != nil {
			return nil, err
		}
	}
	if _, err := b.Sort(func([]string) bool { return true }); err != nil {
		return nil, err
	}
	return b, nil
}
