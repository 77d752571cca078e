// Package packager fills package folders from already-built content and
// seals them with a package info file and a manifest.
package packager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"pkgcache/internal/fsutil"
	"pkgcache/internal/logfields"
	"pkgcache/internal/manifest"
	"pkgcache/internal/ref"
)

// InfoFileName is the package info document written into every package.
const InfoFileName = "pkginfo.json"

// ErrInvalidPrebuilt is returned when a prebuilt folder cannot be exported.
var ErrInvalidPrebuilt = errors.New("invalid prebuilt package folder")

// Info describes how a package was produced. It contains no timestamps,
// so identical builds give identical info files.
type Info struct {
	Ref       ref.RecipeReference `json:"ref"`
	PackageID ref.PackageID       `json:"package_id"`
	Settings  map[string]string   `json:"settings,omitempty"`
	Options   map[string]string   `json:"options,omitempty"`
	// Requires lists the closure as package references without revisions.
	Requires []string `json:"requires,omitempty"`
	// Dependencies are the recipe names of the closure, skipped nodes
	// excluded.
	Dependencies []string `json:"dependencies,omitempty"`
	// DepsInfo is dependency information loaded from an install folder.
	DepsInfo   json.RawMessage `json:"deps_info,omitempty"`
	RecipeHash string          `json:"recipe_hash"`
	Develop    bool            `json:"develop"`
}

// Seal writes info and a fresh manifest into dir and returns the content
// revision of the result.
func Seal(dir string, info Info) (string, error) {
	if err := fsutil.WriteJSON(filepath.Join(dir, InfoFileName), info); err != nil {
		return "", fmt.Errorf("write %s: %w", InfoFileName, err)
	}
	m, err := manifest.Create(dir)
	if err != nil {
		return "", fmt.Errorf("manifest %s: %w", dir, err)
	}
	if err := m.Save(dir); err != nil {
		return "", fmt.Errorf("save manifest %s: %w", dir, err)
	}
	return m.ContentHash(), nil
}

// Packager copies prebuilt folders into the cache.
type Packager struct {
	Logger *slog.Logger
}

// New creates a Packager. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Packager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Packager{Logger: logger}
}

// CopyPrebuilt validates src, copies it verbatim into dest and seals dest.
// It returns the content revision.
func (p *Packager) CopyPrebuilt(ctx context.Context, src, dest string, info Info) (string, error) {
	if err := ValidatePrebuilt(src); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	n, err := fsutil.CopyTree(src, dest)
	if err != nil {
		return "", fmt.Errorf("copy %s to %s: %w", src, dest, err)
	}
	prev, err := Seal(dest, info)
	if err != nil {
		return "", err
	}
	p.logger().Info("Copied prebuilt package",
		logfields.Path(dest),
		logfields.Files(n),
		logfields.Revision(prev))
	return prev, nil
}

func (p *Packager) logger() *slog.Logger {
	if p == nil || p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// ValidatePrebuilt checks that src is an existing, non-empty directory and
// that any manifest it carries matches its content.
func ValidatePrebuilt(src string) error {
	fi, err := os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s does not exist", ErrInvalidPrebuilt, src)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPrebuilt, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidPrebuilt, src)
	}

	current, err := manifest.Create(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPrebuilt, err)
	}
	payload := 0
	for _, e := range current.Entries {
		if e.Path != InfoFileName {
			payload++
		}
	}
	if payload == 0 {
		return fmt.Errorf("%w: %s is empty", ErrInvalidPrebuilt, src)
	}

	saved, err := manifest.Load(src)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPrebuilt, manifest.FileName, err)
	}
	if !saved.Equal(current) {
		return fmt.Errorf("%w: %s does not match content (changed: %v)", ErrInvalidPrebuilt, manifest.FileName, saved.Diff(current))
	}
	return nil
}
