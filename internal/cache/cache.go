// Package cache implements the on-disk layout of the package cache.
//
// Structure:
//
//	{Root}/
//	  data/
//	    {name}/{version}/{user|_}/{channel|_}/
//	      metadata.json            (recipe revision)
//	      export/                  (recipe files + manifest.txt)
//	      package/
//	        {package_id}/          (package folder)
//	        {package_id}.dirty     (present while the folder is being written)
//	      metadata/packages/
//	        {package_id}.json      (package revision metadata)
//	  locks/
//	    {hash}.lock               (per-recipe export lock files)
//	{ShortRoot}/
//	  {hash}/                      (package folders of short-path recipes)
//
// A package folder is valid only when it exists and has no dirty marker.
package cache

import (
	"path/filepath"

	"pkgcache/internal/clock"
	"pkgcache/internal/identity"
	"pkgcache/internal/ref"
)

// Cache is the root of a package cache.
type Cache struct {
	// Root is the cache's base directory.
	Root string

	// ShortRoot hosts the package folders of recipes that ask for short
	// paths. Defaults to {Root}/short.
	ShortRoot string

	// Clock stamps metadata. Defaults to the real clock.
	Clock clock.Clock
}

// New creates a Cache rooted at root. An empty shortRoot selects the
// default location.
func New(root, shortRoot string) *Cache {
	if shortRoot == "" {
		shortRoot = filepath.Join(root, "short")
	}
	return &Cache{Root: root, ShortRoot: shortRoot, Clock: clock.Real()}
}

func (c *Cache) clock() clock.Clock {
	if c.Clock == nil {
		return clock.Real()
	}
	return c.Clock
}

// Layout returns the layout of recipe r. The revision of r is ignored.
func (c *Cache) Layout(r ref.RecipeReference, shortPaths bool) *Layout {
	r = r.WithoutRevision()
	return &Layout{
		cache:      c,
		ref:        r,
		base:       filepath.Join(c.Root, "data", r.Name, r.Version, orUnderscore(r.User), orUnderscore(r.Channel)),
		shortPaths: shortPaths,
	}
}

// LockPath is the file serializing exports of recipe r across processes.
func (c *Cache) LockPath(r ref.RecipeReference) string {
	d := identity.Sum(identity.DomainShortPath, []byte("lock:"+r.WithoutRevision().String()))
	return filepath.Join(c.Root, "locks", d.Short(8)+".lock")
}

func orUnderscore(s string) string {
	if s == "" {
		return "_"
	}
	return s
}

// Layout addresses the folders of one recipe.
type Layout struct {
	cache      *Cache
	ref        ref.RecipeReference
	base       string
	shortPaths bool
}

// Ref is the recipe this layout belongs to, without revision.
func (l *Layout) Ref() ref.RecipeReference { return l.ref }

// BaseDir is the recipe's root folder.
func (l *Layout) BaseDir() string { return l.base }

// ExportDir holds the exported recipe files.
func (l *Layout) ExportDir() string { return filepath.Join(l.base, "export") }

// RecipeFilePath is the recipe file whose presence marks an exported recipe.
func (l *Layout) RecipeFilePath() string { return filepath.Join(l.ExportDir(), RecipeFileName) }

// RecipeFileName is the name of the recipe file inside ExportDir.
const RecipeFileName = "recipe.yaml"

// PackagesDir holds package folders in normal mode.
func (l *Layout) PackagesDir() string { return filepath.Join(l.base, "package") }

// PackagePath is the destination folder for package id.
//
// In short-path mode the folder lives under the cache's ShortRoot with a
// fixed-length name derived from the reference and the id.
func (l *Layout) PackagePath(id ref.PackageID) string {
	if l.shortPaths {
		d := identity.Sum(identity.DomainShortPath, []byte(l.ref.String()+":"+string(id)))
		return filepath.Join(l.cache.ShortRoot, d.Short(8))
	}
	return filepath.Join(l.PackagesDir(), string(id))
}

func (l *Layout) recipeMetadataPath() string { return filepath.Join(l.base, "metadata.json") }

func (l *Layout) packageMetadataDir() string { return filepath.Join(l.base, "metadata", "packages") }

func (l *Layout) packageMetadataPath(id ref.PackageID) string {
	return filepath.Join(l.packageMetadataDir(), string(id)+".json")
}
