package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"pkgcache/internal/fsutil"
	"pkgcache/internal/manifest"
)

// ErrRecipeNotFound means the recipe was never exported into the cache.
var ErrRecipeNotFound = errors.New("recipe not found in cache")

// HasRecipe reports whether the recipe file is present.
func (l *Layout) HasRecipe() (bool, error) {
	return fsutil.Exists(l.RecipeFilePath())
}

// RecipeManifest loads the manifest of the exported recipe files.
func (l *Layout) RecipeManifest() (*manifest.Manifest, error) {
	m, err := manifest.Load(l.ExportDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s has no manifest", ErrRecipeNotFound, l.ref)
	}
	if err != nil {
		return nil, fmt.Errorf("recipe manifest %s: %w", l.ref, err)
	}
	return m, nil
}

// ImportRecipe copies an exported recipe folder into the cache and records
// its revision. An empty rev uses the folder's content hash. Existing
// recipe files are replaced.
//
// srcDir must contain RecipeFileName.
func (l *Layout) ImportRecipe(srcDir, rev string) (string, error) {
	ok, err := fsutil.Exists(filepath.Join(srcDir, RecipeFileName))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("import %s: %s has no %s", l.ref, srcDir, RecipeFileName)
	}

	export := l.ExportDir()
	err = WithDirty(export, func() error {
		if err := fsutil.RemoveDurable(export); err != nil {
			return err
		}
		if _, err := fsutil.CopyTree(srcDir, export); err != nil {
			return err
		}
		m, err := manifest.Create(export)
		if err != nil {
			return err
		}
		if rev == "" {
			rev = m.ContentHash()
		}
		return m.Save(export)
	})
	if err != nil {
		return "", fmt.Errorf("import %s: %w", l.ref, err)
	}
	if err := l.SetRecipeRevision(rev); err != nil {
		return "", fmt.Errorf("import %s: %w", l.ref, err)
	}
	return rev, nil
}
