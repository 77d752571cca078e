package cache

import (
	"fmt"

	"pkgcache/internal/fsutil"
	"pkgcache/internal/manifest"
	"pkgcache/internal/ref"
)

// State is the observable condition of a package folder.
type State string

const (
	StateMissing State = "missing"
	StateDirty   State = "dirty"
	StateValid   State = "valid"
	// StateCorrupt is only reported by Verify: the folder's content no
	// longer matches its recorded revision.
	StateCorrupt State = "corrupt"
)

// PackageStatus describes one package of a recipe.
type PackageStatus struct {
	ID       ref.PackageID
	Path     string
	State    State
	Metadata PackageMetadata
	// HasMetadata is false when no revision was ever recorded.
	HasMetadata bool
	// Changed lists paths that differ from the saved manifest, set by
	// Verify only.
	Changed []string
}

// Status inspects package id without reading its content.
func (l *Layout) Status(id ref.PackageID) (PackageStatus, error) {
	st := PackageStatus{ID: id, Path: l.PackagePath(id)}
	md, ok, err := l.PackageMetadata(id)
	if err != nil {
		return st, err
	}
	st.Metadata, st.HasMetadata = md, ok

	dirty, err := IsDirty(st.Path)
	if err != nil {
		return st, err
	}
	exists, err := fsutil.Exists(st.Path)
	if err != nil {
		return st, err
	}
	switch {
	case dirty:
		st.State = StateDirty
	case !exists:
		st.State = StateMissing
	default:
		st.State = StateValid
	}
	return st, nil
}

// Verify is Status plus a re-hash of a valid folder, checked against both
// the recorded revision and the manifest saved inside the folder.
func (l *Layout) Verify(id ref.PackageID) (PackageStatus, error) {
	st, err := l.Status(id)
	if err != nil || st.State != StateValid {
		return st, err
	}

	current, err := manifest.Create(st.Path)
	if err != nil {
		return st, fmt.Errorf("verify %s:%s: %w", l.ref, id, err)
	}
	saved, err := manifest.Load(st.Path)
	if err != nil {
		st.State = StateCorrupt
		return st, nil
	}
	if !saved.Equal(current) {
		st.State = StateCorrupt
		st.Changed = saved.Diff(current)
		return st, nil
	}
	if st.HasMetadata && st.Metadata.Revision != current.ContentHash() {
		st.State = StateCorrupt
	}
	return st, nil
}
