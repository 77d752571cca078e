package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic_ReplacesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")

	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0o600))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not survive")
}

func TestReadJSONStrict_RejectsUnknownAndTrailing(t *testing.T) {
	dir := t.TempDir()
	type doc struct {
		Name string `json:"name"`
	}

	good := filepath.Join(dir, "good.json")
	require.NoError(t, WriteJSON(good, doc{Name: "x"}))
	var d doc
	require.NoError(t, ReadJSONStrict(good, &d))
	assert.Equal(t, "x", d.Name)

	unknown := filepath.Join(dir, "unknown.json")
	require.NoError(t, os.WriteFile(unknown, []byte(`{"name":"x","extra":1}`), 0o644))
	assert.Error(t, ReadJSONStrict(unknown, &d))

	trailing := filepath.Join(dir, "trailing.json")
	require.NoError(t, os.WriteFile(trailing, []byte(`{"name":"x"} {}`), 0o644))
	assert.Error(t, ReadJSONStrict(trailing, &d))
}

func TestReadJSONC_AcceptsComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.jsonc")
	require.NoError(t, os.WriteFile(path, []byte("{\n  // the name\n  \"name\": \"y\",\n}\n"), 0o644))

	var d struct {
		Name string `json:"name"`
	}
	require.NoError(t, ReadJSONC(path, &d))
	assert.Equal(t, "y", d.Name)
}

func TestCopyTree_CopiesFilesAndLinks(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "lib", "libfoo.a"), []byte("archive"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "run.sh"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.Symlink("lib/libfoo.a", filepath.Join(src, "current")))

	dst := filepath.Join(t.TempDir(), "out")
	n, err := CopyTree(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := os.ReadFile(filepath.Join(dst, "lib", "libfoo.a"))
	require.NoError(t, err)
	assert.Equal(t, "archive", string(got))

	fi, err := os.Stat(filepath.Join(dst, "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), fi.Mode().Perm())

	link, err := os.Readlink(filepath.Join(dst, "current"))
	require.NoError(t, err)
	assert.Equal(t, "lib/libfoo.a", link)
}

func TestRemoveDurable_MissingIsFine(t *testing.T) {
	assert.NoError(t, RemoveDurable(filepath.Join(t.TempDir(), "absent")))

	ok, err := Exists(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.False(t, ok)
}
