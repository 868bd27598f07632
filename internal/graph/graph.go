// Package graph assembles recipe specs into a dependency DAG.
package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/goplus/lpm/recipe"
)

// Edge points from a node to one of its dependencies.
type Edge struct {
	To   *Node
	Type recipe.DepType
}

// Node is one package instance in the DAG. Nodes carry no build state;
// a DAG may be scheduled more than once.
type Node struct {
	ID   string
	Spec *recipe.Spec

	deps       []Edge  // declaration order
	dependents []*Node // sorted by ID
}

// Deps returns the direct dependencies of n in declaration order.
func (n *Node) Deps() []Edge {
	return slices.Clone(n.deps)
}

// Dependents returns the nodes that directly depend on n, sorted by ID.
func (n *Node) Dependents() []*Node {
	return slices.Clone(n.dependents)
}

func (n *Node) String() string {
	return n.ID
}

// DAG is an acyclic dependency graph. It is read-only once built.
type DAG struct {
	nodes map[string]*Node
	ids   []string // sorted
}

// Len returns the number of nodes.
func (g *DAG) Len() int {
	return len(g.ids)
}

// Node returns the node with the given ID, or nil.
func (g *DAG) Node(id string) *Node {
	return g.nodes[id]
}

// Nodes returns every node sorted by ID.
func (g *DAG) Nodes() []*Node {
	nodes := make([]*Node, len(g.ids))
	for i, id := range g.ids {
		nodes[i] = g.nodes[id]
	}
	return nodes
}

// Roots returns the nodes nothing depends on, sorted by ID.
func (g *DAG) Roots() []*Node {
	var roots []*Node
	for _, id := range g.ids {
		if n := g.nodes[id]; len(n.dependents) == 0 {
			roots = append(roots, n)
		}
	}
	return roots
}

// TopologicalOrder returns the nodes with every dependency before its
// dependents. Among nodes that are ready at the same time the smaller ID
// comes first.
func (g *DAG) TopologicalOrder() []*Node {
	pending := make(map[*Node]int, len(g.nodes))
	var ready []*Node
	for _, n := range g.Nodes() {
		pending[n] = len(n.deps)
		if len(n.deps) == 0 {
			ready = append(ready, n)
		}
	}
	order := make([]*Node, 0, len(g.nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, d := range n.dependents {
			if pending[d]--; pending[d] == 0 {
				i, _ := slices.BinarySearchFunc(ready, d, byID)
				ready = slices.Insert(ready, i, d)
			}
		}
	}
	return order
}

// Descendants returns every node that transitively depends on id, sorted
// by ID. It returns nil for an unknown ID.
func (g *DAG) Descendants(id string) []*Node {
	return g.walk(id, func(n *Node) []*Node { return n.dependents })
}

// Ancestors returns every node id transitively depends on, sorted by ID.
// It returns nil for an unknown ID.
func (g *DAG) Ancestors(id string) []*Node {
	return g.walk(id, func(n *Node) []*Node {
		out := make([]*Node, len(n.deps))
		for i, e := range n.deps {
			out[i] = e.To
		}
		return out
	})
}

func (g *DAG) walk(id string, next func(*Node) []*Node) []*Node {
	start := g.nodes[id]
	if start == nil {
		return nil
	}
	seen := map[*Node]bool{start: true}
	stack := []*Node{start}
	var out []*Node
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, m := range next(n) {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
				stack = append(stack, m)
			}
		}
	}
	slices.SortFunc(out, byID)
	return out
}

// Select returns the sub-DAG made of targets and everything they depend
// on. The returned DAG has its own nodes; specs are shared.
func (g *DAG) Select(targets ...string) (*DAG, error) {
	keep := make(map[string]bool)
	for _, id := range targets {
		if g.nodes[id] == nil {
			return nil, fmt.Errorf("select %s: no such node", id)
		}
		keep[id] = true
		for _, a := range g.Ancestors(id) {
			keep[a.ID] = true
		}
	}
	sub := &DAG{nodes: make(map[string]*Node, len(keep))}
	for _, id := range g.ids {
		if keep[id] {
			sub.nodes[id] = &Node{ID: id, Spec: g.nodes[id].Spec}
			sub.ids = append(sub.ids, id)
		}
	}
	for _, id := range sub.ids {
		n := sub.nodes[id]
		for _, e := range g.nodes[id].deps {
			to := sub.nodes[e.To.ID]
			n.deps = append(n.deps, Edge{To: to, Type: e.Type})
			to.dependents = append(to.dependents, n)
		}
	}
	return sub, nil
}

// Lookup resolves a "name" or "name@range" reference the way dependency
// references are resolved.
func (g *DAG) Lookup(name string, r recipe.Range) (*Node, error) {
	ref := recipe.Dependency{Name: name, Range: r}
	if n := g.resolve(ref); n != nil {
		return n, nil
	}
	return nil, &UnresolvedError{Ref: ref}
}

// resolve returns the highest version matching ref by name, or failing
// that, the highest version providing it.
func (g *DAG) resolve(ref recipe.Dependency) *Node {
	var named, provided *Node
	for _, id := range g.ids {
		n := g.nodes[id]
		if !n.Spec.Satisfies(ref) {
			continue
		}
		if n.Spec.Name == ref.Name {
			if named == nil || newer(n, named) {
				named = n
			}
		} else if provided == nil || newer(n, provided) {
			provided = n
		}
	}
	if named != nil {
		return named
	}
	return provided
}

func newer(a, b *Node) bool {
	return recipe.Compare(a.Spec.Version, b.Spec.Version) > 0
}

func byID(a, b *Node) int {
	return strings.Compare(a.ID, b.ID)
}
