package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"pkgcache/internal/cache"
	"pkgcache/internal/graph"
	"pkgcache/internal/ref"
)

// DepsInfoFileName is the dependency information file an install step
// leaves in its install folder.
const DepsInfoFileName = "deps_info.json"

// bind builds the BuildContext of node. It reads the recipe manifest once
// and, when installFolder holds DepsInfoFileName, that file.
func bind(l *cache.Layout, g *graph.Graph, node *graph.Node, r ref.RecipeReference, installFolder string) (*BuildContext, error) {
	bc := &BuildContext{Ref: r, Node: node, Develop: true}

	seen := map[string]bool{}
	for _, d := range g.Closure(node) {
		bc.Requires = append(bc.Requires, ref.PackageReference{Ref: d.Ref, ID: d.PackageID, Revision: d.Prev})
		if d.Binary == graph.BinarySkip || seen[d.Ref.Name] {
			continue
		}
		seen[d.Ref.Name] = true
		bc.SubtreeNames = append(bc.SubtreeNames, d.Ref.Name)
	}

	if installFolder != "" {
		raw, err := loadDepsInfo(installFolder)
		if err != nil {
			return nil, newError(ErrInvalidRequest, err, "install folder %s", installFolder)
		}
		bc.DepsInfo = raw
	}

	m, err := l.RecipeManifest()
	if errors.Is(err, cache.ErrRecipeNotFound) {
		return nil, newError(ErrRecipeNotFound, err, "recipe %s has no exported manifest", r.WithoutRevision())
	}
	if err != nil {
		return nil, err
	}
	bc.RecipeHash = m.ContentHash()
	return bc, nil
}

// loadDepsInfo returns nil when the file is absent. Once present it must
// be a valid JSON document.
func loadDepsInfo(installFolder string) (json.RawMessage, error) {
	data, err := os.ReadFile(filepath.Join(installFolder, DepsInfoFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s is not valid JSON", DepsInfoFileName)
	}
	return json.RawMessage(data), nil
}
