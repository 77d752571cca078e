// Package cli is pkgcache's command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/alecthomas/kong"

	"pkgcache/internal/audit"
	"pkgcache/internal/cache"
	"pkgcache/internal/config"
	"pkgcache/internal/filelock"
	"pkgcache/internal/metrics"
	"pkgcache/internal/ref"
)

// CLI is the root of the command tree.
type CLI struct {
	Config      string `short:"c" help:"Configuration file path (default: $PKGCACHE_CONFIG)." type:"path"`
	CacheDir    string `name:"cache-dir" help:"Cache root; overrides cache_dir." type:"path"`
	Verbose     bool   `short:"v" help:"Enable debug logging."`
	MetricsFile string `name:"metrics-file" help:"Write Prometheus metrics to this file after the command." type:"path"`

	Export       ExportCmd       `cmd:"" help:"Store a locally built package in the cache."`
	Inspect      InspectCmd      `cmd:"" help:"List the packages of a recipe and their state."`
	ImportRecipe ImportRecipeCmd `cmd:"" name:"import-recipe" help:"Copy a recipe folder into the cache."`
}

// App is what commands run against. It is built once flags are parsed.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.PrometheusRecorder
	Stdout  io.Writer
	Stderr  io.Writer
	ctx     context.Context
}

// Context of the invocation.
func (a *App) Context() context.Context { return a.ctx }

// Cache opens the configured cache.
func (a *App) Cache() *cache.Cache {
	return cache.New(a.Config.CacheDir, a.Config.ShortPathsDir)
}

// AuditSink opens the configured audit database. The returned close
// function is never nil.
func (a *App) AuditSink() (audit.Sink, func() error, error) {
	if a.Config.AuditDB == "" {
		return audit.NopSink{}, func() error { return nil }, nil
	}
	s, err := audit.NewSQLiteSink(a.Config.AuditDB)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

// lockRecipe serializes writers of one recipe across processes.
func (a *App) lockRecipe(pc *cache.Cache, r ref.RecipeReference) (*filelock.Lock, error) {
	return (&filelock.Locker{}).Acquire(a.ctx, pc.LockPath(r))
}

type exitRequest struct{ code int }

// Run parses args (without argv[0]), runs the selected command and
// returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) (code int) {
	var root CLI
	parser, err := kong.New(&root,
		kong.Name("pkgcache"),
		kong.Description("Crash-safe export of locally built packages into a package cache."),
		kong.Writers(stdout, stderr),
		kong.Exit(func(c int) { panic(exitRequest{code: c}) }),
	)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitInternalError
	}

	defer func() {
		if r := recover(); r != nil {
			req, ok := r.(exitRequest)
			if !ok {
				panic(r)
			}
			code = req.code
		}
	}()

	kctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitInvalidInvocation
	}

	app, err := root.newApp(ctx, stdout, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitCode(err)
	}

	runErr := kctx.Run(app)
	if root.MetricsFile != "" || app.Config.MetricsFile != "" {
		path := root.MetricsFile
		if path == "" {
			path = app.Config.MetricsFile
		}
		if err := app.Metrics.WriteTextfile(path); err != nil {
			app.Logger.Warn("Failed to write metrics", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	if runErr != nil {
		fmt.Fprintln(stderr, runErr)
		return ExitCode(runErr)
	}
	return ExitSuccess
}

func (c *CLI) newApp(ctx context.Context, stdout, stderr io.Writer) (*App, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, configErrorf("%v", err)
	}
	if c.CacheDir != "" {
		cfg.CacheDir = c.CacheDir
	}
	if c.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, configErrorf("%v", err)
	}
	return &App{
		Config:  cfg,
		Logger:  cfg.Log.NewLogger(stderr),
		Metrics: metrics.NewPrometheusRecorder(nil),
		Stdout:  stdout,
		Stderr:  stderr,
		ctx:     ctx,
	}, nil
}
