package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"pkgcache/internal/fsutil"
)

const dirtySuffix = ".dirty"

// DirtyMarkerPath is the sibling marker file of folder.
func DirtyMarkerPath(folder string) string {
	return filepath.Clean(folder) + dirtySuffix
}

// SetDirty durably creates the marker of folder. It must be called before
// anything is written into folder.
func SetDirty(folder string) error {
	marker := DirtyMarkerPath(folder)
	if err := os.MkdirAll(filepath.Dir(marker), 0o755); err != nil {
		return fmt.Errorf("set dirty %s: %w", folder, err)
	}
	if err := fsutil.WriteFileAtomic(marker, nil, 0o644); err != nil {
		return fmt.Errorf("set dirty %s: %w", folder, err)
	}
	return nil
}

// CleanDirty durably removes the marker of folder. A missing marker is not
// an error.
func CleanDirty(folder string) error {
	marker := DirtyMarkerPath(folder)
	if err := os.Remove(marker); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clean dirty %s: %w", folder, err)
	}
	if err := fsutil.SyncDir(filepath.Dir(marker)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clean dirty %s: %w", folder, err)
	}
	return nil
}

// IsDirty reports whether folder carries a dirty marker.
func IsDirty(folder string) (bool, error) {
	return fsutil.Exists(DirtyMarkerPath(folder))
}

// WithDirty runs fn between SetDirty and CleanDirty. If fn fails or panics
// the marker stays and the next writer purges the partial folder.
func WithDirty(folder string, fn func() error) error {
	if err := SetDirty(folder); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	return CleanDirty(folder)
}

// PurgeDirty removes folder if it carries a dirty marker, then the marker.
// It reports whether anything was purged.
func PurgeDirty(folder string) (bool, error) {
	dirty, err := IsDirty(folder)
	if err != nil || !dirty {
		return false, err
	}
	if err := fsutil.RemoveDurable(folder); err != nil {
		return false, fmt.Errorf("purge %s: %w", folder, err)
	}
	if err := CleanDirty(folder); err != nil {
		return false, err
	}
	return true, nil
}
