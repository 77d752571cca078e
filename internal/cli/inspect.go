package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"pkgcache/internal/cache"
	"pkgcache/internal/filelock"
	"pkgcache/internal/logfields"
	"pkgcache/internal/ref"
)

// InspectCmd implements 'inspect'.
type InspectCmd struct {
	Reference  string `arg:"" help:"Recipe reference."`
	Verify     bool   `help:"Re-hash every package and compare it to its recorded revision."`
	ShortPaths bool   `name:"short-paths" help:"The recipe stores its packages under the short paths root."`
}

func (c *InspectCmd) Run(app *App) error {
	r, err := ref.ParseRecipe(c.Reference)
	if err != nil {
		return invalidInvocationf("%v", err)
	}
	layout := app.Cache().Layout(r, c.ShortPaths)
	ok, err := layout.HasRecipe()
	if err != nil {
		return err
	}
	if !ok {
		return &InvocationError{ExitCode: ExitExportFailure, Message: fmt.Sprintf("package recipe %s does not exist in the cache", r.WithoutRevision())}
	}
	// States read while an export runs may be transient.
	held, err := filelock.TryAcquire(app.Cache().LockPath(r))
	if err != nil {
		return err
	}
	if held == nil {
		app.Logger.Warn("An export of this recipe is in progress", logfields.Ref(r.WithoutRevision().String()))
	} else {
		defer held.Release()
	}

	rmd, err := layout.RecipeMetadata()
	if err != nil {
		return err
	}
	ids, err := layout.PackageIDs()
	if err != nil {
		return err
	}

	fmt.Fprintf(app.Stdout, "%s#%s\n", r.WithoutRevision(), rmd.Revision)
	tw := tabwriter.NewWriter(app.Stdout, 0, 4, 2, ' ', 0)
	corrupt := 0
	for _, id := range ids {
		var st cache.PackageStatus
		if c.Verify {
			st, err = layout.Verify(id)
		} else {
			st, err = layout.Status(id)
		}
		if err != nil {
			return err
		}
		rev := "-"
		if st.HasMetadata {
			rev = st.Metadata.Revision
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", id, st.State, rev)
		if len(st.Changed) > 0 {
			fmt.Fprintf(tw, "\tchanged: %s\t\n", strings.Join(st.Changed, ", "))
		}
		if st.State == cache.StateCorrupt {
			corrupt++
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if corrupt > 0 {
		return &InvocationError{ExitCode: ExitExportFailure, Message: fmt.Sprintf("%d corrupt package(s)", corrupt)}
	}
	return nil
}
