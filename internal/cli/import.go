package cli

import (
	"fmt"

	"pkgcache/internal/logfields"
	"pkgcache/internal/ref"
)

// ImportRecipeCmd implements 'import-recipe'. The reference's revision, if
// any, is recorded; otherwise the recipe's content hash is.
type ImportRecipeCmd struct {
	Reference string `arg:"" help:"Recipe reference."`
	Folder    string `arg:"" help:"Folder holding recipe.yaml." type:"existingdir"`
}

func (c *ImportRecipeCmd) Run(app *App) error {
	r, err := ref.ParseRecipe(c.Reference)
	if err != nil {
		return invalidInvocationf("%v", err)
	}
	pc := app.Cache()
	held, err := app.lockRecipe(pc, r)
	if err != nil {
		return err
	}
	defer held.Release()

	rev, err := pc.Layout(r, false).ImportRecipe(c.Folder, r.Revision)
	if err != nil {
		return err
	}
	app.Logger.Info("Recipe imported", logfields.Ref(r.WithoutRevision().String()), logfields.Revision(rev))
	fmt.Fprintf(app.Stdout, "%s#%s\n", r.WithoutRevision(), rev)
	return nil
}
