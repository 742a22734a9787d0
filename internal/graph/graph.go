// Package graph builds the dependency DAG over services and tasks, detects
// cycles via Kahn's algorithm, and computes ready sets for the orchestrator.
// The vertex/adjacency shape follows docker/compose's pkg/compose
// dependency graph (parents/children maps walked with errgroup), adapted
// here to an explicit Kahn topological sort.
package graph

import (
	"fmt"
	"sort"

	"github.com/stacksupervisor/stacksupervisor/internal/model"
)

// Node identifies one vertex: a service or a task by name.
type Node struct {
	Kind model.DependencyKind
	Name string
}

func (n Node) String() string { return fmt.Sprintf("%s:%s", n.Kind, n.Name) }

// Graph is a dependency DAG: edges run from a dependency to its dependent
// (forward adjacency), with a mirrored reverse adjacency for ready-set
// computation.
type Graph struct {
	nodes    map[Node]bool
	forward  map[Node]map[Node]bool // dep -> dependents
	backward map[Node]map[Node]bool // dependent -> its deps
}

// New builds the graph from services and tasks plus their declared
// dependencies. A dependency that names an undefined service/task is still
// materialized as a zero-inbound-edge node.
func New(services map[string]*model.ServiceConfig, tasks map[string]*model.TaskConfig) *Graph {
	g := &Graph{
		nodes:    map[Node]bool{},
		forward:  map[Node]map[Node]bool{},
		backward: map[Node]map[Node]bool{},
	}

	add := func(n Node) {
		if !g.nodes[n] {
			g.nodes[n] = true
			g.forward[n] = map[Node]bool{}
			g.backward[n] = map[Node]bool{}
		}
	}

	addEdge := func(dep, dependent Node) {
		add(dep)
		add(dependent)
		g.forward[dep][dependent] = true
		g.backward[dependent][dep] = true
	}

	for name, svc := range services {
		n := Node{Kind: model.DependencyService, Name: name}
		add(n)
		for _, dep := range svc.Dependencies {
			addEdge(Node{Kind: dep.Kind, Name: dep.Name}, n)
		}
	}
	for name, task := range tasks {
		n := Node{Kind: model.DependencyTask, Name: name}
		add(n)
		for _, dep := range task.Dependencies {
			addEdge(Node{Kind: dep.Kind, Name: dep.Name}, n)
		}
	}

	return g
}

// Nodes returns every node in the graph, sorted for determinism.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	sortNodes(out)
	return out
}

func sortNodes(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Kind != nodes[j].Kind {
			return nodes[i].Kind < nodes[j].Kind
		}
		return nodes[i].Name < nodes[j].Name
	})
}

// CircularDependencyError is returned by TopoSort when the graph contains a
// cycle.
type CircularDependencyError struct {
	Remaining []Node
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected among %d node(s)", len(e.Remaining))
}

// TopoSort returns nodes in an order respecting every edge: for edge
// dep->dependent, index(dep) < index(dependent). Implemented with Kahn's
// algorithm; if the emitted order is shorter than the node count, the
// leftover nodes form at least one cycle.
func (g *Graph) TopoSort() ([]Node, error) {
	inDegree := map[Node]int{}
	for n := range g.nodes {
		inDegree[n] = len(g.backward[n])
	}

	var queue []Node
	for n, d := range inDegree {
		if d == 0 {
			queue = append(queue, n)
		}
	}
	sortNodes(queue)

	var order []Node
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)

		var freed []Node
		for dependent := range g.forward[n] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				freed = append(freed, dependent)
			}
		}
		sortNodes(freed)
		queue = append(queue, freed...)
		sortNodes(queue)
	}

	if len(order) != len(g.nodes) {
		var remaining []Node
		for n, d := range inDegree {
			if d > 0 {
				remaining = append(remaining, n)
			}
		}
		sortNodes(remaining)
		return nil, &CircularDependencyError{Remaining: remaining}
	}
	return order, nil
}

// Ready returns every node not in completed whose predecessors (reverse
// adjacency) are all in completed.
func (g *Graph) Ready(completed map[Node]bool) []Node {
	var out []Node
	for n := range g.nodes {
		if completed[n] {
			continue
		}
		allDepsComplete := true
		for dep := range g.backward[n] {
			if !completed[dep] {
				allDepsComplete = false
				break
			}
		}
		if allDepsComplete {
			out = append(out, n)
		}
	}
	sortNodes(out)
	return out
}
