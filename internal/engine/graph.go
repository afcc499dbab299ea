package engine

import (
	"sort"

	"github.com/applyr-io/applyr/internal/ir"
)

// Graph is the directed acyclic dependency graph over a configuration's
// resources. It is recomputed from declarations every planning pass and
// never persisted.
type Graph struct {
	nodes map[string]*graphNode
	order []string // topological order (creation order)
}

type graphNode struct {
	addr       string
	declIndex  int
	deps       map[string]bool // addresses this node depends on
	dependents []string        // addresses that depend on this node
}

// BuildGraph converts a configuration into a dependency graph. Edges come
// from explicit dependsOn entries and from references embedded in attribute
// values. Duplicate edges between the same pair collapse to one.
//
// It fails with *UnresolvedReferenceError if an edge names a resource
// absent from the configuration, and with *CyclicDependencyError if the
// edge set contains a cycle (self-loops included).
func BuildGraph(cfg *ir.Config) (*Graph, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Graph{nodes: make(map[string]*graphNode, len(cfg.Resources))}
	for i, res := range cfg.Resources {
		g.nodes[res.Address()] = &graphNode{
			addr:      res.Address(),
			declIndex: i,
			deps:      make(map[string]bool),
		}
	}

	for _, res := range cfg.Resources {
		addr := res.Address()
		node := g.nodes[addr]

		for _, dep := range res.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, &UnresolvedReferenceError{From: addr, To: dep}
			}
			node.deps[dep] = true
		}

		for _, ref := range ir.ExtractReferences(res.Attributes) {
			target := ref.Target.Address()
			if _, ok := g.nodes[target]; !ok {
				return nil, &UnresolvedReferenceError{From: addr, To: target}
			}
			node.deps[target] = true
		}
	}

	for addr, node := range g.nodes {
		for dep := range node.deps {
			g.nodes[dep].dependents = append(g.nodes[dep].dependents, addr)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CyclicDependencyError{Path: cycle}
	}

	g.order = g.topoSort()
	return g, nil
}

// BuildGraphFromState reconstructs the last-known graph from persisted
// records, using the dependency addresses stored at apply time. Records may
// reference addresses no longer present; those become placeholder nodes so
// deletion ordering still holds.
func BuildGraphFromState(records []*ir.Record) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*graphNode, len(records))}
	for i, rec := range records {
		g.nodes[rec.Address()] = &graphNode{
			addr:      rec.Address(),
			declIndex: i,
			deps:      make(map[string]bool),
		}
	}

	next := len(records)
	for _, rec := range records {
		node := g.nodes[rec.Address()]
		for _, dep := range rec.Dependencies {
			if _, ok := g.nodes[dep]; !ok {
				g.nodes[dep] = &graphNode{addr: dep, declIndex: next, deps: make(map[string]bool)}
				next++
			}
			node.deps[dep] = true
		}
	}

	for addr, node := range g.nodes {
		for dep := range node.deps {
			g.nodes[dep].dependents = append(g.nodes[dep].dependents, addr)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CyclicDependencyError{Path: cycle}
	}

	g.order = g.topoSort()
	return g, nil
}

// Order returns addresses in dependency-respecting creation order.
// Resources with no path between them appear in declaration order.
func (g *Graph) Order() []string {
	return g.order
}

// ReverseOrder returns addresses in reverse dependency order, safe for
// deletion: dependents come before their dependencies.
func (g *Graph) ReverseOrder() []string {
	out := make([]string, len(g.order))
	for i, addr := range g.order {
		out[len(g.order)-1-i] = addr
	}
	return out
}

// Dependencies returns the direct dependency addresses of addr.
func (g *Graph) Dependencies(addr string) []string {
	node, ok := g.nodes[addr]
	if !ok {
		return nil
	}
	deps := make([]string, 0, len(node.deps))
	for dep := range node.deps {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}

// Dependents returns the addresses that directly depend on addr.
func (g *Graph) Dependents(addr string) []string {
	node, ok := g.nodes[addr]
	if !ok {
		return nil
	}
	out := append([]string(nil), node.dependents...)
	sort.Strings(out)
	return out
}

// topoSort is Kahn's algorithm with a declaration-order tie-break: among
// ready nodes the earliest-declared is emitted first, so plans are
// deterministic across runs.
func (g *Graph) topoSort() []string {
	inDegree := make(map[string]int, len(g.nodes))
	for addr, node := range g.nodes {
		inDegree[addr] = len(node.deps)
	}

	var ready []*graphNode
	for addr, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, g.nodes[addr])
		}
	}

	sorted := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return ready[i].declIndex < ready[j].declIndex
		})
		node := ready[0]
		ready = ready[1:]
		sorted = append(sorted, node.addr)

		for _, dependent := range node.dependents {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, g.nodes[dependent])
			}
		}
	}

	return sorted
}

// findCycle runs a depth-first traversal with a recursion-stack set and
// returns the full cycle path if one exists, nil otherwise.
func (g *Graph) findCycle() []string {
	const (
		unvisited = iota
		inStack
		done
	)
	status := make(map[string]int, len(g.nodes))

	var stack []string
	var cycle []string

	var visit func(addr string) bool
	visit = func(addr string) bool {
		status[addr] = inStack
		stack = append(stack, addr)

		deps := g.Dependencies(addr)
		for _, dep := range deps {
			switch status[dep] {
			case inStack:
				// Found a back edge; slice out the cycle path.
				start := 0
				for i, a := range stack {
					if a == dep {
						start = i
						break
					}
				}
				cycle = append(append([]string(nil), stack[start:]...), dep)
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		status[addr] = done
		return false
	}

	addrs := make([]string, 0, len(g.nodes))
	for addr := range g.nodes {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	for _, addr := range addrs {
		if status[addr] == unvisited {
			if visit(addr) {
				return cycle
			}
		}
	}
	return nil
}
