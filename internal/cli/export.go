package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"pkgcache/internal/audit"
	"pkgcache/internal/buildstep"
	"pkgcache/internal/export"
	"pkgcache/internal/graph"
	"pkgcache/internal/lock"
	"pkgcache/internal/logfields"
	"pkgcache/internal/ref"
)

// ExportCmd implements 'export'.
type ExportCmd struct {
	Reference     string   `arg:"" help:"Recipe reference: name/version[@user/channel][#revision]."`
	Graph         string   `required:"" help:"Resolved dependency graph file." type:"existingfile"`
	PackageFolder string   `name:"package-folder" short:"p" help:"Copy this prebuilt folder instead of running the build step." type:"path"`
	SourceFolder  string   `name:"source-folder" help:"Source folder for the build step." type:"path"`
	BuildFolder   string   `name:"build-folder" help:"Build folder for the build step." type:"path"`
	InstallFolder string   `name:"install-folder" help:"Folder holding deps_info.json from a previous install." type:"path"`
	Lockfile      string   `name:"lockfile" help:"Lockfile to update with the exported revision." type:"path"`
	NewLockfile   bool     `name:"new-lockfile" help:"Create --lockfile from the graph if it does not exist."`
	Force         bool     `short:"f" help:"Overwrite an existing package."`
	PackageCmd    string   `name:"package-cmd" help:"Shell command run in the build folder before copying."`
	Copy          []string `name:"copy" help:"Copy rule pattern[:src[:dst]]; repeatable." sep:"none"`
}

func (c *ExportCmd) Run(app *App) error {
	r, err := ref.ParseRecipe(c.Reference)
	if err != nil {
		return invalidInvocationf("%v", err)
	}
	if c.PackageFolder != "" && (c.PackageCmd != "" || len(c.Copy) > 0) {
		return invalidInvocationf("--package-folder cannot be combined with --package-cmd or --copy")
	}
	if c.PackageFolder == "" && c.PackageCmd == "" && len(c.Copy) == 0 {
		return invalidInvocationf("nothing to package: give --package-folder, or --package-cmd and/or --copy")
	}
	rules := make([]buildstep.Rule, 0, len(c.Copy))
	for _, s := range c.Copy {
		rule, err := buildstep.ParseRule(s)
		if err != nil {
			return invalidInvocationf("%v", err)
		}
		rules = append(rules, rule)
	}

	req := export.Request{
		Ref:           r,
		SourceFolder:  c.SourceFolder,
		BuildFolder:   c.BuildFolder,
		PackageFolder: c.PackageFolder,
		InstallFolder: c.InstallFolder,
		Force:         c.Force,
	}
	if c.NewLockfile && c.Lockfile == "" {
		return invalidInvocationf("--new-lockfile requires --lockfile")
	}
	if c.Lockfile != "" {
		if c.NewLockfile {
			if err := createLockfile(app, c.Lockfile, c.Graph, r); err != nil {
				return err
			}
		}
		lf, err := lock.Open(c.Lockfile)
		if err != nil {
			return invalidInvocationf("%v", err)
		}
		req.Lock = lf
	}

	sink, closeSink, err := app.AuditSink()
	if err != nil {
		return configErrorf("audit database: %v", err)
	}
	defer closeSink()

	pc := app.Cache()
	held, err := app.lockRecipe(pc, r)
	if err != nil {
		return err
	}
	defer held.Release()

	exp := &export.Exporter{
		Cache:  pc,
		Loader: &graph.FileLoader{Path: c.Graph},
		Builder: &buildstep.Runner{
			Shell:   app.Config.Build.Shell,
			Command: c.PackageCmd,
			Copy:    rules,
			Env:     app.Config.Build.Env,
			PassEnv: app.Config.Build.PassEnv,
			Logger:  app.Logger,
		},
		Audit:   sink,
		Metrics: app.Metrics,
		Logger:  app.Logger,
	}
	res, err := exp.Export(app.Context(), req)
	if err != nil {
		recordFailure(app, sink, r, res, err)
		return err
	}
	fmt.Fprintf(app.Stdout, "%s\t%s\n", res.Ref, res.Destination)
	return nil
}

// createLockfile snapshots the resolved graph of r into path unless path
// already exists.
func createLockfile(app *App, path, graphPath string, r ref.RecipeReference) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return invalidInvocationf("lockfile: %v", err)
	}
	g, err := (&graph.FileLoader{Path: graphPath}).LoadGraph(app.Context(), r, graph.LoadOptions{})
	if err != nil {
		return invalidInvocationf("create lockfile: %v", err)
	}
	if err := lock.FromGraph(g).Save(path); err != nil {
		return err
	}
	app.Logger.Info("Created lockfile", slog.String("path", path))
	return nil
}

// recordFailure appends a failed record unless the exporter already
// audited the package.
func recordFailure(app *App, sink audit.Sink, r ref.RecipeReference, res *export.Result, err error) {
	if res != nil && !errors.Is(err, export.ErrLockInconsistency) {
		return
	}
	name := r.String()
	if res != nil {
		name = res.Ref.String()
	}
	rec := audit.Record{
		Ref:       name,
		Outcome:   audit.OutcomeFailed,
		ErrorKind: export.KindName(err),
		Message:   err.Error(),
		Time:      time.Now(),
	}
	if res != nil {
		rec.Recovered = res.Recovered
	}
	if aerr := sink.Record(app.Context(), rec); aerr != nil {
		app.Logger.Warn("Failed to audit export failure", logfields.Ref(name), slog.String("audit_error", aerr.Error()))
	}
}
