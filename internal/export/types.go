package export

import (
	"context"
	"encoding/json"

	"pkgcache/internal/graph"
	"pkgcache/internal/packager"
	"pkgcache/internal/ref"
)

// GraphLoader resolves the dependency closure of a recipe.
type GraphLoader interface {
	LoadGraph(ctx context.Context, r ref.RecipeReference, opts graph.LoadOptions) (*graph.Graph, error)
}

// BuildMethod populates a package folder by running the recipe's package
// step. It returns the content revision of the folder.
type BuildMethod interface {
	RunBuildMethod(ctx context.Context, req BuildRequest) (string, error)
}

// Packager copies a prebuilt folder into a package folder and returns the
// content revision.
type Packager interface {
	CopyPrebuilt(ctx context.Context, src, dest string, info packager.Info) (string, error)
}

// LockUpdater is owned by the caller. It pins the exported package on node
// nodeID of its lock and re-validates the lock against g.
type LockUpdater interface {
	UpdatePackageRevision(ctx context.Context, g *graph.Graph, nodeID string, pref ref.PackageReference) error
}

// Request describes one export.
//
// Exactly one source of content is used: PackageFolder when set (copy
// mode), otherwise the build method runs against SourceFolder and
// BuildFolder (build mode).
type Request struct {
	// Ref may carry a recipe revision; it is recorded as the package's
	// recipe revision.
	Ref           ref.RecipeReference
	SourceFolder  string
	BuildFolder   string
	PackageFolder string
	// InstallFolder optionally holds deps_info.json from a prior install.
	InstallFolder string
	Force         bool
	// Lock is optional.
	Lock LockUpdater
}

// BuildContext is everything the package step may consult about the
// package being exported.
type BuildContext struct {
	Ref  ref.RecipeReference
	Node *graph.Node
	// Requires are the closure's package references, dependency-first.
	Requires []ref.PackageReference
	// SubtreeNames are the distinct recipe names of the closure, skipped
	// nodes excluded, in closure order.
	SubtreeNames []string
	// DepsInfo is the raw content of the install folder's deps_info.json.
	DepsInfo   json.RawMessage
	RecipeHash string
	Develop    bool
}

// PackageID is the identity being exported.
func (c *BuildContext) PackageID() ref.PackageID { return c.Node.PackageID }

// PackageInfo renders the context as the package info document.
func (c *BuildContext) PackageInfo() packager.Info {
	info := packager.Info{
		Ref:          c.Ref.WithoutRevision(),
		PackageID:    c.Node.PackageID,
		Settings:     c.Node.Settings,
		Options:      c.Node.Options,
		Dependencies: c.SubtreeNames,
		DepsInfo:     c.DepsInfo,
		RecipeHash:   c.RecipeHash,
		Develop:      c.Develop,
	}
	for _, p := range c.Requires {
		p.Ref = p.Ref.WithoutRevision()
		p.Revision = ""
		info.Requires = append(info.Requires, p.String())
	}
	return info
}

// BuildRequest is handed to BuildMethod.
type BuildRequest struct {
	Context       *BuildContext
	SourceFolder  string
	BuildFolder   string
	PackageFolder string
	InstallFolder string
}

// NodeUpdate is the lock-relevant outcome of an export.
type NodeUpdate struct {
	NodeID    string
	PackageID ref.PackageID
	Revision  string
}

// Result of a successful export.
type Result struct {
	Ref         ref.PackageReference
	Destination string
	Update      NodeUpdate
	// Recovered is set when an interrupted earlier export was purged.
	Recovered bool
	// Replaced is set when an existing package was overwritten by force.
	Replaced bool
}
