// Package buildstep runs a package's build method in develop mode: an
// optional shell command followed by copy rules, after which the package
// folder is sealed with its info file and manifest.
package buildstep

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"

	"pkgcache/internal/export"
	"pkgcache/internal/logfields"
	"pkgcache/internal/packager"
)

// DefaultShell interprets Runner.Command.
const DefaultShell = "sh"

// Runner implements export.BuildMethod.
//
// The command sees an allow-listed environment: the variables in Env, the
// host variables named in PassEnv, and the PKG_* variables describing the
// export. Nothing else from the host is visible.
type Runner struct {
	Shell   string
	Command string
	Copy    []Rule
	Env     map[string]string
	PassEnv []string
	Logger  *slog.Logger
}

// Result of the shell command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// RunBuildMethod fills req.PackageFolder and returns its revision.
func (r *Runner) RunBuildMethod(ctx context.Context, req export.BuildRequest) (string, error) {
	if req.Context == nil {
		return "", errors.New("build step: missing build context")
	}
	if err := os.MkdirAll(req.PackageFolder, 0o755); err != nil {
		return "", fmt.Errorf("build step: %w", err)
	}
	log := r.logger().With(logfields.Ref(req.Context.Ref.String()), logfields.PackageID(string(req.Context.PackageID())))

	if r.Command != "" {
		res, err := r.run(ctx, req)
		if err != nil {
			return "", err
		}
		if res.ExitCode != 0 {
			return "", fmt.Errorf("build step: %q exited with code %d: %s", r.Command, res.ExitCode, tail(res.Stderr))
		}
		log.Debug("Build command finished", slog.Int("stdout_bytes", len(res.Stdout)))
	}

	copied := 0
	for _, rule := range r.Copy {
		for _, base := range []string{req.BuildFolder, req.SourceFolder} {
			if base == "" {
				continue
			}
			n, err := rule.Apply(base, req.PackageFolder)
			if err != nil {
				return "", fmt.Errorf("build step: copy %s: %w", rule, err)
			}
			copied += n
		}
	}
	if len(r.Copy) > 0 {
		log.Info("Copied package files", logfields.Files(copied))
	}

	return packager.Seal(req.PackageFolder, req.Context.PackageInfo())
}

func (r *Runner) run(ctx context.Context, req export.BuildRequest) (*Result, error) {
	shell := r.Shell
	if shell == "" {
		shell = DefaultShell
	}
	cmd := exec.Command(shell, "-c", r.Command)
	cmd.Dir = req.BuildFolder
	if cmd.Dir == "" {
		cmd.Dir = req.SourceFolder
	}
	if cmd.Dir == "" {
		cmd.Dir = req.PackageFolder
	}
	cmd.Env = r.environ(req)
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("build step: start %s: %w", shell, err)
	}
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		killProcessGroup(cmd)
		<-done
		return nil, fmt.Errorf("build step cancelled: %w", ctx.Err())
	case err = <-done:
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("build step: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}
	return &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: exitCode}, nil
}

// environ builds the command environment, sorted by name.
func (r *Runner) environ(req export.BuildRequest) []string {
	env := make(map[string]string, len(r.Env)+len(r.PassEnv)+8)
	for _, name := range r.PassEnv {
		if v, ok := os.LookupEnv(name); ok {
			env[name] = v
		}
	}
	for k, v := range r.Env {
		env[k] = v
	}
	bc := req.Context
	env["PKG_NAME"] = bc.Ref.Name
	env["PKG_VERSION"] = bc.Ref.Version
	env["PKG_REFERENCE"] = bc.Ref.WithoutRevision().String()
	env["PKG_ID"] = string(bc.PackageID())
	env["PKG_PACKAGE_FOLDER"] = req.PackageFolder
	env["PKG_SOURCE_FOLDER"] = req.SourceFolder
	env["PKG_BUILD_FOLDER"] = req.BuildFolder
	env["PKG_INSTALL_FOLDER"] = req.InstallFolder

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// tail returns the last lines of a command's stderr.
func tail(b []byte) string {
	s := strings.TrimSpace(string(b))
	lines := strings.Split(s, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, "\n")
}
