// Package lock implements lockfiles: a snapshot of a resolved closure that
// pins every node's package identity and content revision.
//
// Export only ever writes one field of one node (the package revision of
// the exported node) and then re-checks the lock against the graph the
// export resolved.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"pkgcache/internal/fsutil"
	"pkgcache/internal/graph"
	"pkgcache/internal/ref"
)

// ErrInconsistent means the lock and the resolved graph disagree.
var ErrInconsistent = errors.New("lockfile inconsistent with dependency graph")

// Version is the lockfile format written by Save.
const Version = 1

// Node is the locked state of one graph node.
type Node struct {
	Ref       ref.RecipeReference `json:"ref"`
	PackageID ref.PackageID       `json:"package_id,omitempty"`
	Prev      string              `json:"prev,omitempty"`
	Requires  []string            `json:"requires,omitempty"`
	// Modified is set on nodes whose revision was written by this lock's
	// owner rather than resolved from a remote.
	Modified bool `json:"modified,omitempty"`
}

// Lock is a lockfile document.
type Lock struct {
	Version int              `json:"version"`
	Nodes   map[string]*Node `json:"nodes"`
}

func inconsistentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInconsistent, fmt.Sprintf(format, args...))
}

// Load reads a lockfile. Comments are allowed.
func Load(path string) (*Lock, error) {
	var l Lock
	if err := fsutil.ReadJSONC(path, &l); err != nil {
		return nil, fmt.Errorf("load lockfile %s: %w", path, err)
	}
	if l.Version != Version {
		return nil, fmt.Errorf("load lockfile %s: unsupported version %d", path, l.Version)
	}
	if l.Nodes == nil {
		l.Nodes = map[string]*Node{}
	}
	return &l, nil
}

// FromGraph snapshots every node of g.
func FromGraph(g *graph.Graph) *Lock {
	l := &Lock{Version: Version, Nodes: map[string]*Node{}}
	for _, n := range g.Nodes() {
		ln := &Node{Ref: n.Ref, PackageID: n.PackageID, Prev: n.Prev}
		for _, d := range n.Dependencies() {
			ln.Requires = append(ln.Requires, d.ID)
		}
		l.Nodes[n.ID] = ln
	}
	return l
}

// Save writes the lock atomically.
func (l *Lock) Save(path string) error {
	for _, n := range l.Nodes {
		sort.Strings(n.Requires)
	}
	if err := fsutil.WriteJSON(path, l); err != nil {
		return fmt.Errorf("save lockfile %s: %w", path, err)
	}
	return nil
}

// SetPackageRevision pins pref on node nodeID.
//
// It fails when the node is unknown, names another recipe, carries another
// identity or recipe revision, or already pins a different revision that
// was not written by this lock's owner.
func (l *Lock) SetPackageRevision(nodeID string, pref ref.PackageReference) error {
	n, ok := l.Nodes[nodeID]
	if !ok {
		return inconsistentf("node %q is not locked", nodeID)
	}
	if !n.Ref.SameRecipe(pref.Ref) {
		return inconsistentf("node %q locks %s, not %s", nodeID, n.Ref.WithoutRevision(), pref.Ref.WithoutRevision())
	}
	if n.Ref.Revision != "" && pref.Ref.Revision != "" && n.Ref.Revision != pref.Ref.Revision {
		return inconsistentf("node %q locks recipe revision %s, export used %s", nodeID, n.Ref.Revision, pref.Ref.Revision)
	}
	if n.PackageID != "" && n.PackageID != pref.ID {
		return inconsistentf("node %q locks package id %s, export produced %s", nodeID, n.PackageID, pref.ID)
	}
	if n.Prev != "" && n.Prev != pref.Revision && !n.Modified {
		return inconsistentf("node %q locks package revision %s, export produced %s", nodeID, n.Prev, pref.Revision)
	}
	if n.Ref.Revision == "" {
		n.Ref = n.Ref.WithRevision(pref.Ref.Revision)
	}
	n.PackageID = pref.ID
	n.Prev = pref.Revision
	n.Modified = true
	return nil
}

// Check verifies that every node of g is locked with the same recipe,
// identity and requirements.
func (l *Lock) Check(g *graph.Graph) error {
	for _, n := range g.Nodes() {
		ln, ok := l.Nodes[n.ID]
		if !ok {
			return inconsistentf("node %q (%s) is not locked", n.ID, n.Ref)
		}
		if !ln.Ref.SameRecipe(n.Ref) {
			return inconsistentf("node %q locks %s, graph has %s", n.ID, ln.Ref.WithoutRevision(), n.Ref.WithoutRevision())
		}
		if ln.PackageID != "" && ln.PackageID != n.PackageID {
			return inconsistentf("node %q locks package id %s, graph computed %s", n.ID, ln.PackageID, n.PackageID)
		}
		var want []string
		for _, d := range n.Dependencies() {
			want = append(want, d.ID)
		}
		got := append([]string(nil), ln.Requires...)
		sort.Strings(got)
		if !equalStrings(got, want) {
			return inconsistentf("node %q locks requirements %v, graph has %v", n.ID, got, want)
		}
	}
	return nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// File binds a Lock to its path. It is the lock updater handed to exports:
// the revision is pinned, the lock re-checked against the export's graph,
// and the file rewritten only when both succeed.
type File struct {
	Path string
	Lock *Lock
}

// Open loads the lockfile at path.
func Open(path string) (*File, error) {
	l, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &File{Path: path, Lock: l}, nil
}

// UpdatePackageRevision pins pref on node nodeID and persists the lock.
func (f *File) UpdatePackageRevision(ctx context.Context, g *graph.Graph, nodeID string, pref ref.PackageReference) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.Lock.SetPackageRevision(nodeID, pref); err != nil {
		return err
	}
	if err := f.Lock.Check(g); err != nil {
		return err
	}
	return f.Lock.Save(f.Path)
}
