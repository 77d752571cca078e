package graph

import (
	"context"
	"fmt"

	"pkgcache/internal/fsutil"
	"pkgcache/internal/ref"
)

// LoadOptions tune how a closure is resolved.
type LoadOptions struct {
	// BuildMode lists recipe names whose binaries are produced locally.
	// Their nodes get BinaryBuild regardless of what the file declares.
	BuildMode []string
}

// FileLoader resolves closures from a graph file.
//
// File format (JSON, comments and trailing commas allowed):
//
//	{
//	  "root": ["libfoo"],
//	  "nodes": [
//	    {"id": "libfoo", "ref": "libfoo/1.0", "requires": ["zlib"],
//	     "settings": {"os": "Linux"}, "options": {"shared": "False"}},
//	    {"id": "zlib", "ref": "zlib/1.2.13", "binary": "cache"}
//	  ]
//	}
//
// When "root" is omitted, the root requires every node whose reference
// names the requested recipe.
//
// The loader is deterministic: it disallows unknown fields and never
// consults the environment.
type FileLoader struct {
	Path string
}

type graphFile struct {
	Root  []string   `json:"root,omitempty"`
	Nodes []NodeSpec `json:"nodes"`
}

// LoadGraph reads the file and builds the closure for r.
func (l *FileLoader) LoadGraph(ctx context.Context, r ref.RecipeReference, opts LoadOptions) (*Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var gf graphFile
	if err := fsutil.ReadJSONC(l.Path, &gf); err != nil {
		return nil, fmt.Errorf("load graph %s: %w", l.Path, err)
	}

	build := make(map[string]bool, len(opts.BuildMode))
	for _, name := range opts.BuildMode {
		build[name] = true
	}
	for i := range gf.Nodes {
		if build[gf.Nodes[i].Ref.Name] {
			gf.Nodes[i].Binary = BinaryBuild
		}
	}

	root := gf.Root
	if root == nil {
		for _, s := range gf.Nodes {
			if s.Ref.SameRecipe(r) {
				root = append(root, s.ID)
			}
		}
	}

	g, err := Build(gf.Nodes, root)
	if err != nil {
		return nil, fmt.Errorf("load graph %s: %w", l.Path, err)
	}
	if err := g.checkBinaries(); err != nil {
		return nil, fmt.Errorf("load graph %s: %w", l.Path, err)
	}
	return g, nil
}

// checkBinaries rejects closures in which a requirement of the root has no
// binary available.
func (g *Graph) checkBinaries() error {
	for _, top := range g.root.deps {
		for _, n := range g.Closure(top) {
			if n.Binary == BinaryMissing {
				return unresolvedf("%s (required by %s) has no binary for package id %s", n.Ref, top.Ref, n.PackageID)
			}
		}
	}
	return nil
}
