package export

import (
	"context"
	"errors"

	"pkgcache/internal/cache"
)

var errNoRevision = errors.New("package step returned no revision")

// materialize fills dest inside the dirty-marker critical section and
// returns the content revision. The marker outlives any failure.
func (e *Exporter) materialize(ctx context.Context, bc *BuildContext, req Request, dest string) (string, error) {
	var prev string
	err := cache.WithDirty(dest, func() error {
		var err error
		if req.PackageFolder != "" {
			prev, err = e.packager().CopyPrebuilt(ctx, req.PackageFolder, dest, bc.PackageInfo())
		} else {
			prev, err = e.Builder.RunBuildMethod(ctx, BuildRequest{
				Context:       bc,
				SourceFolder:  req.SourceFolder,
				BuildFolder:   req.BuildFolder,
				PackageFolder: dest,
				InstallFolder: req.InstallFolder,
			})
		}
		if err == nil && prev == "" {
			err = errNoRevision
		}
		return err
	})
	if err != nil {
		return "", newError(ErrMaterializationFailure, err, "package %s:%s", bc.Ref.WithoutRevision(), bc.PackageID())
	}
	return prev, nil
}
