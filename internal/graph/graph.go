// Package graph models a resolved dependency closure.
//
// A Graph is built from node specifications, validated (unique ids, known
// requirements, no cycles) and then annotated with package identities in
// dependency-first order, so every node's identity covers the identities of
// its whole closure. A virtual root sits above the requested nodes and is
// never part of Nodes().
package graph

import (
	"sort"

	"pkgcache/internal/identity"
	"pkgcache/internal/ref"
)

// Binary says where a node's package comes from.
type Binary string

const (
	BinaryBuild    Binary = "build"
	BinaryCache    Binary = "cache"
	BinaryDownload Binary = "download"
	BinarySkip     Binary = "skip"
	BinaryMissing  Binary = "missing"
	// BinaryVirtual is reserved for the root.
	BinaryVirtual Binary = "virtual"
)

func (b Binary) valid() bool {
	switch b {
	case BinaryBuild, BinaryCache, BinaryDownload, BinarySkip, BinaryMissing:
		return true
	}
	return false
}

// NodeSpec is the declared form of a node.
type NodeSpec struct {
	ID       string              `json:"id"`
	Ref      ref.RecipeReference `json:"ref"`
	Binary   Binary              `json:"binary,omitempty"`
	Settings map[string]string   `json:"settings,omitempty"`
	Options  map[string]string   `json:"options,omitempty"`
	Requires []string            `json:"requires,omitempty"`
	// PackageID, if declared, must equal the computed identity.
	PackageID  ref.PackageID `json:"package_id,omitempty"`
	Prev       string        `json:"prev,omitempty"`
	ShortPaths bool          `json:"short_paths,omitempty"`
}

// Node is one resolved package configuration.
//
// Nodes are read-only once the graph is built.
type Node struct {
	ID         string
	Ref        ref.RecipeReference
	PackageID  ref.PackageID
	Binary     Binary
	Prev       string
	Settings   map[string]string
	Options    map[string]string
	ShortPaths bool

	deps  []*Node // sorted by ID
	index int     // canonical index, -1 for the root
	topo  int     // position in dependency-first order
}

// Dependencies returns the direct requirements, sorted by id.
func (n *Node) Dependencies() []*Node {
	out := make([]*Node, len(n.deps))
	copy(out, n.deps)
	return out
}

// IsVirtual reports whether n is the graph's root.
func (n *Node) IsVirtual() bool { return n.Binary == BinaryVirtual }

// Graph is an immutable, validated dependency closure.
type Graph struct {
	root  *Node
	nodes []*Node // canonical order (by id)
	byID  map[string]*Node

	outgoing [][]int // requirement -> dependents, sorted
	indeg    []int
	order    []int // dependency-first topological order
}

// Build validates specs and computes package identities. rootRequires are
// the ids the virtual root depends on.
//
// Validation rejects:
//   - empty or duplicate node ids
//   - invalid references or binary kinds
//   - requirements naming unknown nodes, self-requirements and duplicates
//   - any cycle (direct or indirect)
//   - declared package ids that differ from the computed identity
func Build(specs []NodeSpec, rootRequires []string) (*Graph, error) {
	if len(specs) == 0 {
		return nil, invalidf("no nodes")
	}

	byID := make(map[string]*Node, len(specs))
	nodes := make([]*Node, 0, len(specs))
	specByID := make(map[string]NodeSpec, len(specs))
	for _, s := range specs {
		if s.ID == "" {
			return nil, invalidf("node id is required")
		}
		if _, exists := byID[s.ID]; exists {
			return nil, invalidf("duplicate node id: %q", s.ID)
		}
		if err := s.Ref.Validate(); err != nil {
			return nil, invalidf("node %q: %v", s.ID, err)
		}
		bin := s.Binary
		if bin == "" {
			bin = BinaryCache
		}
		if !bin.valid() {
			return nil, invalidf("node %q: unknown binary %q", s.ID, s.Binary)
		}
		n := &Node{
			ID:         s.ID,
			Ref:        s.Ref,
			Binary:     bin,
			Prev:       s.Prev,
			Settings:   s.Settings,
			Options:    s.Options,
			ShortPaths: s.ShortPaths,
		}
		byID[s.ID] = n
		nodes = append(nodes, n)
		specByID[s.ID] = s
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	for i, n := range nodes {
		n.index = i
	}

	g := &Graph{
		nodes:    nodes,
		byID:     byID,
		outgoing: make([][]int, len(nodes)),
		indeg:    make([]int, len(nodes)),
	}

	for _, n := range nodes {
		seen := map[string]bool{}
		for _, reqID := range specByID[n.ID].Requires {
			dep, ok := byID[reqID]
			if !ok {
				return nil, invalidf("node %q requires unknown node %q", n.ID, reqID)
			}
			if dep == n {
				return nil, invalidf("node %q requires itself", n.ID)
			}
			if seen[reqID] {
				return nil, invalidf("node %q requires %q twice", n.ID, reqID)
			}
			seen[reqID] = true
			n.deps = append(n.deps, dep)
			g.outgoing[dep.index] = append(g.outgoing[dep.index], n.index)
			g.indeg[n.index]++
		}
		sort.Slice(n.deps, func(i, j int) bool { return n.deps[i].ID < n.deps[j].ID })
	}
	for i := range g.outgoing {
		sort.Ints(g.outgoing[i])
	}

	g.order = g.topoOrderIndices()
	if len(g.order) != len(nodes) {
		return nil, cycleError(g.findCycleDeterministic())
	}
	for pos, idx := range g.order {
		nodes[idx].topo = pos
	}

	root := &Node{ID: "", Binary: BinaryVirtual, index: -1, topo: len(nodes)}
	for _, id := range rootRequires {
		dep, ok := byID[id]
		if !ok {
			return nil, invalidf("root requires unknown node %q", id)
		}
		root.deps = append(root.deps, dep)
	}
	sort.Slice(root.deps, func(i, j int) bool { return root.deps[i].ID < root.deps[j].ID })
	g.root = root

	if err := g.assignIdentities(specByID); err != nil {
		return nil, err
	}
	return g, nil
}

// assignIdentities walks dependency-first so every requirement already has
// its identity when a dependent is hashed.
func (g *Graph) assignIdentities(specs map[string]NodeSpec) error {
	for _, idx := range g.order {
		n := g.nodes[idx]
		closure := g.Closure(n)
		reqs := make([]identity.Requirement, 0, len(closure))
		for _, d := range closure {
			reqs = append(reqs, identity.Requirement{Ref: d.Ref, PackageID: d.PackageID})
		}
		id, err := identity.Compute(identity.Info{
			Settings: n.Settings,
			Options:  n.Options,
			Requires: reqs,
		})
		if err != nil {
			return invalidf("node %q: identity: %v", n.ID, err)
		}
		if declared := specs[n.ID].PackageID; declared != "" && declared != id {
			return invalidf("node %q: declared package id %s does not match computed %s", n.ID, declared, id)
		}
		n.PackageID = id
	}
	return nil
}

// Root returns the virtual root.
func (g *Graph) Root() *Node { return g.root }

// Node returns a node by id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.byID[id]
	return n, ok
}

// Nodes returns every non-root node in dependency-first order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, idx := range g.order {
		out = append(out, g.nodes[idx])
	}
	return out
}

// Closure returns the transitive requirements of n in dependency-first
// order. n itself is not included.
func (g *Graph) Closure(n *Node) []*Node {
	seen := map[*Node]bool{}
	var visit func(*Node)
	visit = func(u *Node) {
		for _, d := range u.deps {
			if !seen[d] {
				seen[d] = true
				visit(d)
			}
		}
	}
	visit(n)

	out := make([]*Node, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].topo < out[j].topo })
	return out
}
