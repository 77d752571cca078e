package export

import (
	"context"
	"fmt"

	"pkgcache/internal/audit"
	"pkgcache/internal/cache"
	"pkgcache/internal/graph"
	"pkgcache/internal/ref"
)

type finalizeInput struct {
	layout         *cache.Layout
	graph          *graph.Graph
	node           *graph.Node
	prev           string
	recipeRevision string
	recovered      bool
	lock           LockUpdater
}

// finalize records the revision, updates the caller's lock and appends the
// audit record, in that order.
func (e *Exporter) finalize(ctx context.Context, in finalizeInput) (ref.PackageReference, error) {
	id := in.node.PackageID
	rrev := in.recipeRevision
	if rrev == "" {
		md, err := in.layout.RecipeMetadata()
		if err != nil {
			return ref.PackageReference{}, err
		}
		rrev = md.Revision
	}

	if err := in.layout.SetPackageRevision(id, in.prev, rrev); err != nil {
		return ref.PackageReference{}, newError(ErrMaterializationFailure, err, "record revision of %s:%s", in.layout.Ref(), id)
	}
	pref := ref.PackageReference{Ref: in.layout.Ref().WithRevision(rrev), ID: id, Revision: in.prev}

	if in.lock != nil {
		if err := in.lock.UpdatePackageRevision(ctx, in.graph, in.node.ID, pref); err != nil {
			return pref, &Error{Kind: ErrLockInconsistency, Err: err}
		}
	}

	rec := audit.Record{
		Ref:       pref.String(),
		Outcome:   audit.OutcomeExported,
		Recovered: in.recovered,
		Time:      e.now(),
	}
	if err := e.audit().Record(ctx, rec); err != nil {
		return pref, fmt.Errorf("audit %s: %w", pref, err)
	}
	return pref, nil
}
