package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/goplus/lpm/recipe"
)

// PlatformPolicy decides what happens to specs that do not apply to the
// target platform.
type PlatformPolicy int

const (
	// PlatformSkip drops inapplicable specs before nodes are created.
	// References that only they could satisfy fail as unresolved.
	PlatformSkip PlatformPolicy = iota

	// PlatformError fails the build on the first inapplicable spec.
	PlatformError
)

func (p PlatformPolicy) String() string {
	switch p {
	case PlatformSkip:
		return "skip"
	case PlatformError:
		return "error"
	}
	return fmt.Sprintf("PlatformPolicy(%d)", int(p))
}

// ParsePlatformPolicy parses "skip" or "error".
func ParsePlatformPolicy(s string) (PlatformPolicy, error) {
	switch strings.ToLower(s) {
	case "", "skip":
		return PlatformSkip, nil
	case "error":
		return PlatformError, nil
	}
	return 0, fmt.Errorf("unknown platform policy %q", s)
}

type options struct {
	platform string
	policy   PlatformPolicy
}

// Option configures Build.
type Option func(*options)

// WithPlatform sets the platform specs are evaluated against, e.g.
// "linux". Without it no spec is filtered.
func WithPlatform(platform string) Option {
	return func(o *options) {
		o.platform = platform
	}
}

// WithPlatformPolicy sets the policy for inapplicable specs. The default
// is PlatformSkip.
func WithPlatformPolicy(p PlatformPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// Build assembles specs into a DAG. Every spec is cloned; the caller's
// values are never referenced by the result. References are resolved
// against the full set, so specs may appear in any order.
func Build(specs []*recipe.Spec, opts ...Option) (*DAG, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var dropped []*recipe.Spec
	g := &DAG{nodes: make(map[string]*Node, len(specs))}
	for _, s := range specs {
		if o.platform != "" && !s.AppliesTo(o.platform) {
			if o.policy == PlatformError {
				return nil, fmt.Errorf("%w: %s supports %s, not %s",
					ErrUnsupportedPlatform, s.Key(), strings.Join(s.Platforms, ", "), o.platform)
			}
			dropped = append(dropped, s)
			continue
		}
		id := s.Key()
		if _, ok := g.nodes[id]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSpec, id)
		}
		g.nodes[id] = &Node{ID: id, Spec: s.Clone()}
		g.ids = append(g.ids, id)
	}
	slices.Sort(g.ids)

	for _, id := range g.ids {
		n := g.nodes[id]
		for _, ref := range n.Spec.Deps {
			to := g.resolve(ref)
			if to == nil {
				err := &UnresolvedError{Spec: id, Ref: ref}
				if slices.ContainsFunc(dropped, func(s *recipe.Spec) bool { return s.Satisfies(ref) }) {
					err.Platform = o.platform
				}
				return nil, err
			}
			if slices.ContainsFunc(n.deps, func(e Edge) bool { return e.To == to }) {
				continue
			}
			n.deps = append(n.deps, Edge{To: to, Type: ref.Type})
			to.dependents = append(to.dependents, n)
		}
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkAcyclic runs a three-colour depth-first search over the nodes in
// ID order and reports the first back edge as a cycle.
func (g *DAG) checkAcyclic() error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[*Node]int, len(g.nodes))
	var path []*Node

	var visit func(n *Node) error
	visit = func(n *Node) error {
		color[n] = grey
		path = append(path, n)
		for _, e := range n.deps {
			switch color[e.To] {
			case grey:
				i := slices.Index(path, e.To)
				chain := make([]string, 0, len(path)-i+1)
				for _, p := range path[i:] {
					chain = append(chain, p.ID)
				}
				return &CycleError{Chain: append(chain, e.To.ID)}
			case white:
				if err := visit(e.To); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		color[n] = black
		return nil
	}

	for _, id := range g.ids {
		if n := g.nodes[id]; color[n] == white {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}
