// Package export stores locally built packages in the package cache.
//
// An export resolves the package's identity from its dependency closure,
// derives the destination folder from that identity, applies the collision
// policy and writes the folder inside a dirty-marker critical section:
//
//  1. Check the recipe is in the cache
//  2. Load the closure with the recipe in build mode
//  3. Bind the build context (subtree names, recipe hash, develop mode)
//  4. Resolve the destination from the package identity
//  5. Arbitrate collisions, purging interrupted earlier exports
//  6. Materialize: copy a prebuilt folder or run the build method
//  7. Finalize: record the revision, update the lock, audit
//
// A destination is always absent, complete, or marked dirty. Nothing is
// retried; every failure is returned to the caller as an *Error.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pkgcache/internal/audit"
	"pkgcache/internal/cache"
	"pkgcache/internal/clock"
	"pkgcache/internal/graph"
	"pkgcache/internal/logfields"
	"pkgcache/internal/metrics"
	"pkgcache/internal/packager"
)

// Exporter runs exports against one cache. Cache and Loader are required;
// Builder is required for build-mode requests. The other collaborators
// have defaults.
//
// Exports of distinct package identities may run concurrently. Concurrent
// exports of the same identity are not arbitrated; callers serialize them
// (see internal/filelock).
type Exporter struct {
	Cache    *cache.Cache
	Loader   GraphLoader
	Builder  BuildMethod
	Packager Packager
	Audit    audit.Sink
	Metrics  metrics.Recorder
	Logger   *slog.Logger
	Clock    clock.Clock
}

// Export stores one package. On success the returned Result names the
// package reference and destination.
//
// If the package was stored but the audit sink failed, both the Result
// and the error are returned.
func (e *Exporter) Export(ctx context.Context, req Request) (*Result, error) {
	mode := "build"
	if req.PackageFolder != "" {
		mode = "prebuilt"
	}
	start := e.now()
	res, err := e.export(ctx, req)
	e.metrics().ObserveExportDuration(mode, e.now().Sub(start))

	log := e.logger().With(logfields.Ref(req.Ref.String()), logfields.Mode(mode))
	if err != nil {
		e.metrics().IncExportOutcome(KindName(err))
		log.Error("Export failed", slog.String("kind", KindName(err)), logfields.Error(err))
		return res, err
	}
	e.metrics().IncExportOutcome(string(audit.OutcomeExported))
	log.Info("Package exported",
		logfields.PackageID(string(res.Ref.ID)),
		logfields.Revision(res.Ref.Revision),
		logfields.Path(res.Destination))
	return res, nil
}

func (e *Exporter) export(ctx context.Context, req Request) (*Result, error) {
	if err := e.validate(req); err != nil {
		return nil, err
	}
	r := req.Ref.WithoutRevision()
	log := e.logger().With(logfields.Ref(r.String()))

	recipeLayout := e.Cache.Layout(r, false)
	ok, err := recipeLayout.HasRecipe()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(ErrRecipeNotFound, nil, "package recipe %s does not exist in the cache", r)
	}

	// The recipe is never fetched: its package comes from this export.
	t := e.now()
	g, err := e.Loader.LoadGraph(ctx, r, graph.LoadOptions{BuildMode: []string{r.Name}})
	if err != nil {
		return nil, newError(ErrUnresolvedClosure, err, "resolve %s", r)
	}
	deps := g.Root().Dependencies()
	if len(deps) != 1 {
		return nil, newError(ErrUnresolvedClosure, nil, "resolve %s: expected the root to require exactly one package, got %d", r, len(deps))
	}
	node := deps[0]
	if !node.Ref.SameRecipe(r) {
		return nil, newError(ErrUnresolvedClosure, nil, "resolve %s: root requires %s", r, node.Ref)
	}

	bc, err := bind(recipeLayout, g, node, req.Ref, req.InstallFolder)
	if err != nil {
		return nil, err
	}
	e.step("bind", t)

	id := node.PackageID
	log.Info("Packaging to "+string(id), logfields.Node(node.ID), logfields.PackageID(string(id)))

	layout := e.Cache.Layout(r, node.ShortPaths)
	dest := layout.PackagePath(id)

	t = e.now()
	verdict, err := Arbitrate(dest, req.Force)
	if err != nil {
		return nil, newError(ErrMaterializationFailure, err, "prepare %s", dest)
	}
	if verdict.Recovered {
		e.metrics().IncRecovered()
		log.Warn("Removed incomplete package left by an interrupted export", logfields.Path(dest))
	}
	if verdict.Decision == Reject {
		return nil, newError(ErrDestinationCollision, nil, "package %s:%s already exists; use force to overwrite it", r, id)
	}
	if verdict.Replaced {
		log.Info("Overwriting existing package", logfields.Path(dest))
	}
	e.step("arbitrate", t)

	t = e.now()
	prev, err := e.materialize(ctx, bc, req, dest)
	if err != nil {
		return nil, err
	}
	e.step("materialize", t)

	t = e.now()
	pref, err := e.finalize(ctx, finalizeInput{
		layout:         layout,
		graph:          g,
		node:           node,
		prev:           prev,
		recipeRevision: req.Ref.Revision,
		recovered:      verdict.Recovered,
		lock:           req.Lock,
	})
	e.step("finalize", t)

	res := &Result{
		Ref:         pref,
		Destination: dest,
		Update:      NodeUpdate{NodeID: node.ID, PackageID: id, Revision: prev},
		Recovered:   verdict.Recovered,
		Replaced:    verdict.Replaced,
	}
	if err != nil {
		if pref.ID == "" {
			return nil, err
		}
		return res, err
	}
	return res, nil
}

func (e *Exporter) validate(req Request) error {
	if err := req.Ref.Validate(); err != nil {
		return newError(ErrInvalidRequest, err, "reference")
	}
	if e.Cache == nil || e.Loader == nil {
		return fmt.Errorf("export: exporter needs a cache and a graph loader")
	}
	if req.PackageFolder != "" {
		if req.SourceFolder != "" || req.BuildFolder != "" {
			return newError(ErrInvalidRequest, nil, "a package folder cannot be combined with source or build folders")
		}
		return nil
	}
	if e.Builder == nil {
		return newError(ErrInvalidRequest, nil, "no package folder given and no build method configured")
	}
	return nil
}

func (e *Exporter) step(name string, start time.Time) {
	e.metrics().ObserveStepDuration(name, e.now().Sub(start))
}

func (e *Exporter) now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock.Now()
}

func (e *Exporter) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Exporter) metrics() metrics.Recorder {
	if e.Metrics == nil {
		return metrics.NoopRecorder{}
	}
	return e.Metrics
}

func (e *Exporter) packager() Packager {
	if e.Packager == nil {
		return packager.New(e.logger())
	}
	return e.Packager
}

func (e *Exporter) audit() audit.Sink {
	if e.Audit == nil {
		return audit.NopSink{}
	}
	return e.Audit
}
