package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"pkgcache/internal/fsutil"
	"pkgcache/internal/ref"
)

// RecipeMetadata is stored once per recipe.
type RecipeMetadata struct {
	Revision string    `json:"revision"`
	Time     time.Time `json:"time"`
}

// PackageMetadata is stored once per package identity, in its own file, so
// updates for distinct identities never touch the same document.
type PackageMetadata struct {
	Revision       string    `json:"revision"`
	RecipeRevision string    `json:"recipe_revision"`
	Time           time.Time `json:"time"`
}

// RecipeMetadata loads the recipe's metadata. A recipe without metadata
// yields the zero value.
func (l *Layout) RecipeMetadata() (RecipeMetadata, error) {
	var md RecipeMetadata
	err := fsutil.ReadJSONStrict(l.recipeMetadataPath(), &md)
	if errors.Is(err, fs.ErrNotExist) {
		return RecipeMetadata{}, nil
	}
	if err != nil {
		return RecipeMetadata{}, fmt.Errorf("recipe metadata %s: %w", l.ref, err)
	}
	return md, nil
}

// SetRecipeRevision records rev as the recipe's current revision.
func (l *Layout) SetRecipeRevision(rev string) error {
	md := RecipeMetadata{Revision: rev, Time: l.cache.clock().Now().UTC()}
	return fsutil.WriteJSON(l.recipeMetadataPath(), md)
}

// PackageMetadata loads the metadata of package id. The boolean is false
// when no metadata was ever written for it.
func (l *Layout) PackageMetadata(id ref.PackageID) (PackageMetadata, bool, error) {
	var md PackageMetadata
	err := fsutil.ReadJSONStrict(l.packageMetadataPath(id), &md)
	if errors.Is(err, fs.ErrNotExist) {
		return PackageMetadata{}, false, nil
	}
	if err != nil {
		return PackageMetadata{}, false, fmt.Errorf("package metadata %s:%s: %w", l.ref, id, err)
	}
	return md, true, nil
}

// SetPackageRevision records the content revision of package id along with
// the recipe revision it was built from.
func (l *Layout) SetPackageRevision(id ref.PackageID, rev, recipeRev string) error {
	md := PackageMetadata{
		Revision:       rev,
		RecipeRevision: recipeRev,
		Time:           l.cache.clock().Now().UTC(),
	}
	return fsutil.WriteJSON(l.packageMetadataPath(id), md)
}

// PackageIDs lists every identity known to the recipe: those with
// metadata and those with a folder (complete or not) in the packages dir.
func (l *Layout) PackageIDs() ([]ref.PackageID, error) {
	seen := map[ref.PackageID]bool{}

	entries, err := os.ReadDir(l.packageMetadataDir())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	for _, e := range entries {
		if id := ref.PackageID(strings.TrimSuffix(e.Name(), ".json")); id.Valid() {
			seen[id] = true
		}
	}

	entries, err = os.ReadDir(l.PackagesDir())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	for _, e := range entries {
		if id := ref.PackageID(strings.TrimSuffix(e.Name(), dirtySuffix)); id.Valid() {
			seen[id] = true
		}
	}

	ids := make([]ref.PackageID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
