package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkgcache/internal/audit"
	"pkgcache/internal/cache"
	"pkgcache/internal/clock"
	"pkgcache/internal/graph"
	"pkgcache/internal/lock"
	"pkgcache/internal/manifest"
	"pkgcache/internal/packager"
	"pkgcache/internal/ref"
)

var libfoo = ref.MustParseRecipe("libfoo/1.0")

type fixture struct {
	cache    *cache.Cache
	audit    *audit.MemorySink
	exporter *Exporter
	graph    string
	prebuilt string
	rrev     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := cache.New(t.TempDir(), filepath.Join(t.TempDir(), "short"))
	c.Clock = clock.Fake(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	recipe := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(recipe, cache.RecipeFileName), []byte("name: libfoo\nversion: \"1.0\"\n"), 0o644))
	rrev, err := c.Layout(libfoo, false).ImportRecipe(recipe, "")
	require.NoError(t, err)

	f := &fixture{cache: c, audit: audit.NewMemorySink(), rrev: rrev}
	f.graph = writeGraph(t, `{"nodes": [
  {"id": "libfoo", "ref": "libfoo/1.0", "requires": ["zlib"], "settings": {"os": "Linux", "arch": "x86_64"}},
  {"id": "zlib", "ref": "zlib/1.2.13", "options": {"shared": "False"}}
]}`)
	f.prebuilt = prebuiltFolder(t, "archive-v1")
	f.exporter = &Exporter{
		Cache:  c,
		Loader: &graph.FileLoader{Path: f.graph},
		Audit:  f.audit,
		Clock:  c.Clock,
	}
	return f
}

func writeGraph(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func prebuiltFolder(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib", "libfoo.a"), []byte(content), 0o644))
	return dir
}

func (f *fixture) exportPrebuilt(t *testing.T, force bool) (*Result, error) {
	t.Helper()
	return f.exporter.Export(context.Background(), Request{Ref: libfoo, PackageFolder: f.prebuilt, Force: force})
}

func TestExport_FirstExport(t *testing.T) {
	f := newFixture(t)

	res, err := f.exportPrebuilt(t, false)
	require.NoError(t, err)

	assert.True(t, res.Ref.ID.Valid())
	assert.Equal(t, f.rrev, res.Ref.Ref.Revision, "recipe revision falls back to the cached recipe's")
	assert.Equal(t, f.cache.Layout(libfoo, false).PackagePath(res.Ref.ID), res.Destination)
	assert.Equal(t, NodeUpdate{NodeID: "libfoo", PackageID: res.Ref.ID, Revision: res.Ref.Revision}, res.Update)
	assert.False(t, res.Recovered)

	got, err := os.ReadFile(filepath.Join(res.Destination, "lib", "libfoo.a"))
	require.NoError(t, err)
	assert.Equal(t, "archive-v1", string(got))

	m, err := manifest.Load(res.Destination)
	require.NoError(t, err)
	assert.Equal(t, m.ContentHash(), res.Ref.Revision)

	dirty, err := cache.IsDirty(res.Destination)
	require.NoError(t, err)
	assert.False(t, dirty)

	md, ok, err := f.cache.Layout(libfoo, false).PackageMetadata(res.Ref.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.Ref.Revision, md.Revision)
	assert.Equal(t, f.rrev, md.RecipeRevision)

	records := f.audit.Snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, audit.OutcomeExported, records[0].Outcome)
	assert.Equal(t, res.Ref.String(), records[0].Ref)
}

func TestExport_RepeatWithoutForceIsRejected(t *testing.T) {
	f := newFixture(t)
	first, err := f.exportPrebuilt(t, false)
	require.NoError(t, err)

	f.prebuilt = prebuiltFolder(t, "archive-v2")
	_, err = f.exportPrebuilt(t, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDestinationCollision)
	assert.Equal(t, "DestinationCollision", KindName(err))

	got, err := os.ReadFile(filepath.Join(first.Destination, "lib", "libfoo.a"))
	require.NoError(t, err)
	assert.Equal(t, "archive-v1", string(got), "rejected export must not touch the existing package")
	assert.Len(t, f.audit.Snapshot(), 1)
}

func TestExport_RepeatWithForceReplaces(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.prebuilt, "lib", "stale.o"), []byte("old"), 0o644))
	first, err := f.exportPrebuilt(t, false)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(first.Destination, "lib", "stale.o"))

	again, err := f.exportPrebuilt(t, true)
	require.NoError(t, err)
	assert.True(t, again.Replaced)
	assert.Equal(t, first.Destination, again.Destination)
	assert.Equal(t, first.Ref.Revision, again.Ref.Revision, "same content gives the same revision")

	f.prebuilt = prebuiltFolder(t, "archive-v2")
	changed, err := f.exportPrebuilt(t, true)
	require.NoError(t, err)
	assert.Equal(t, first.Ref.ID, changed.Ref.ID)
	assert.NotEqual(t, first.Ref.Revision, changed.Ref.Revision)

	got, err := os.ReadFile(filepath.Join(changed.Destination, "lib", "libfoo.a"))
	require.NoError(t, err)
	assert.Equal(t, "archive-v2", string(got))
	assert.NoFileExists(t, filepath.Join(changed.Destination, "lib", "stale.o"), "forced export must drop the previous contents")

	m, err := manifest.Load(changed.Destination)
	require.NoError(t, err)
	assert.Equal(t, changed.Ref.Revision, m.ContentHash())
}

func TestExport_RecipeNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.exporter.Export(context.Background(), Request{Ref: ref.MustParseRecipe("libbar/1.0"), PackageFolder: f.prebuilt})
	assert.ErrorIs(t, err, ErrRecipeNotFound)
	assert.Empty(t, f.audit.Snapshot())
}

func TestExport_UnresolvedClosure(t *testing.T) {
	tests := map[string]string{
		"no root node": `{"nodes": [{"id": "zlib", "ref": "zlib/1.2.13"}]}`,
		"two root nodes": `{"root": ["a", "b"], "nodes": [
  {"id": "a", "ref": "libfoo/1.0"}, {"id": "b", "ref": "libfoo/1.0", "settings": {"os": "Windows"}}]}`,
		"root is another recipe": `{"root": ["z"], "nodes": [{"id": "z", "ref": "zlib/1.2.13"}]}`,
		"cycle": `{"nodes": [
  {"id": "libfoo", "ref": "libfoo/1.0", "requires": ["zlib"]},
  {"id": "zlib", "ref": "zlib/1.2.13", "requires": ["libfoo"]}]}`,
		"missing dependency binary": `{"nodes": [
  {"id": "libfoo", "ref": "libfoo/1.0", "requires": ["zlib"]},
  {"id": "zlib", "ref": "zlib/1.2.13", "binary": "missing"}]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.exporter.Loader = &graph.FileLoader{Path: writeGraph(t, body)}
			_, err := f.exportPrebuilt(t, false)
			assert.ErrorIs(t, err, ErrUnresolvedClosure)
		})
	}
}

func TestExport_IdentityIgnoresClosureOrder(t *testing.T) {
	a := newFixture(t)
	resA, err := a.exportPrebuilt(t, false)
	require.NoError(t, err)

	b := newFixture(t)
	b.exporter.Loader = &graph.FileLoader{Path: writeGraph(t, `{"nodes": [
  {"id": "zlib", "ref": "zlib/1.2.13", "options": {"shared": "False"}},
  {"id": "libfoo", "ref": "libfoo/1.0", "settings": {"arch": "x86_64", "os": "Linux"}, "requires": ["zlib"]}
]}`)}
	resB, err := b.exportPrebuilt(t, false)
	require.NoError(t, err)

	assert.Equal(t, resA.Ref.ID, resB.Ref.ID)
	assert.Equal(t, resA.Ref.Revision, resB.Ref.Revision)
	relA, _ := filepath.Rel(a.cache.Root, resA.Destination)
	relB, _ := filepath.Rel(b.cache.Root, resB.Destination)
	assert.Equal(t, relA, relB)
}

func TestExport_DependencyChangeChangesIdentity(t *testing.T) {
	f := newFixture(t)
	first, err := f.exportPrebuilt(t, false)
	require.NoError(t, err)

	f.exporter.Loader = &graph.FileLoader{Path: writeGraph(t, `{"nodes": [
  {"id": "libfoo", "ref": "libfoo/1.0", "requires": ["zlib"], "settings": {"os": "Linux", "arch": "x86_64"}},
  {"id": "zlib", "ref": "zlib/1.2.13", "options": {"shared": "True"}}
]}`)}
	second, err := f.exportPrebuilt(t, false)
	require.NoError(t, err, "a new identity never collides with an old one")
	assert.NotEqual(t, first.Ref.ID, second.Ref.ID)
	assert.NotEqual(t, first.Destination, second.Destination)
}

type fakeBuilder struct {
	files map[string]string
	err   error
	got   BuildRequest
}

func (b *fakeBuilder) RunBuildMethod(_ context.Context, req BuildRequest) (string, error) {
	b.got = req
	for rel, content := range b.files {
		p := filepath.Join(req.PackageFolder, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return "", err
		}
	}
	if b.err != nil {
		return "", b.err
	}
	return packager.Seal(req.PackageFolder, req.Context.PackageInfo())
}

func TestExport_BuildModeHandsContextToBuilder(t *testing.T) {
	f := newFixture(t)
	b := &fakeBuilder{files: map[string]string{"include/foo.h": "int foo();"}}
	f.exporter.Builder = b

	src, bld := t.TempDir(), t.TempDir()
	res, err := f.exporter.Export(context.Background(), Request{Ref: libfoo.WithRevision("r9"), SourceFolder: src, BuildFolder: bld})
	require.NoError(t, err)

	assert.Equal(t, src, b.got.SourceFolder)
	assert.Equal(t, bld, b.got.BuildFolder)
	assert.Equal(t, res.Destination, b.got.PackageFolder)
	bc := b.got.Context
	require.NotNil(t, bc)
	assert.True(t, bc.Develop)
	assert.Equal(t, []string{"zlib"}, bc.SubtreeNames)
	assert.Equal(t, f.rrev, bc.RecipeHash)
	assert.Equal(t, "r9", res.Ref.Ref.Revision, "an explicit recipe revision wins")
}

func TestExport_FailedBuildLeavesMarkerAndNextExportRecovers(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("compiler exploded")
	f.exporter.Builder = &fakeBuilder{files: map[string]string{"half.o": "partial"}, err: boom}

	_, err := f.exporter.Export(context.Background(), Request{Ref: libfoo, BuildFolder: t.TempDir()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaterializationFailure)
	assert.ErrorIs(t, err, boom)

	g, err := (&graph.FileLoader{Path: f.graph}).LoadGraph(context.Background(), libfoo, graph.LoadOptions{})
	require.NoError(t, err)
	node, _ := g.Node("libfoo")
	dest := f.cache.Layout(libfoo, false).PackagePath(node.PackageID)
	dirty, err := cache.IsDirty(dest)
	require.NoError(t, err)
	assert.True(t, dirty, "a failed body must leave the destination marked")
	assert.Empty(t, f.audit.Snapshot())

	// Without force: the dirty destination is not a collision.
	res, err := f.exportPrebuilt(t, false)
	require.NoError(t, err)
	assert.True(t, res.Recovered)
	_, err = os.Stat(filepath.Join(dest, "half.o"))
	assert.True(t, os.IsNotExist(err), "partial content must be purged")
	dirty, err = cache.IsDirty(dest)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.True(t, f.audit.Snapshot()[0].Recovered)
}

func TestExport_EmptyRevisionIsAFailure(t *testing.T) {
	f := newFixture(t)
	f.exporter.Builder = builderFunc(func(context.Context, BuildRequest) (string, error) { return "", nil })
	_, err := f.exporter.Export(context.Background(), Request{Ref: libfoo, BuildFolder: t.TempDir()})
	assert.ErrorIs(t, err, ErrMaterializationFailure)
}

type builderFunc func(context.Context, BuildRequest) (string, error)

func (f builderFunc) RunBuildMethod(ctx context.Context, req BuildRequest) (string, error) {
	return f(ctx, req)
}

func TestExport_InvalidRequests(t *testing.T) {
	f := newFixture(t)
	_, err := f.exporter.Export(context.Background(), Request{Ref: libfoo, PackageFolder: f.prebuilt, BuildFolder: t.TempDir()})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.exporter.Export(context.Background(), Request{Ref: libfoo, BuildFolder: t.TempDir()})
	assert.ErrorIs(t, err, ErrInvalidRequest, "build mode needs a builder")

	_, err = f.exporter.Export(context.Background(), Request{Ref: libfoo, PackageFolder: t.TempDir()})
	assert.ErrorIs(t, err, ErrMaterializationFailure, "empty prebuilt folder")
}

func TestExport_DepsInfo(t *testing.T) {
	f := newFixture(t)
	b := &fakeBuilder{files: map[string]string{"f": "x"}}
	f.exporter.Builder = b

	install := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(install, DepsInfoFileName), []byte(`{"zlib": {"libs": ["z"]}}`), 0o644))
	_, err := f.exporter.Export(context.Background(), Request{Ref: libfoo, BuildFolder: t.TempDir(), InstallFolder: install})
	require.NoError(t, err)
	assert.JSONEq(t, `{"zlib": {"libs": ["z"]}}`, string(b.got.Context.DepsInfo))

	require.NoError(t, os.WriteFile(filepath.Join(install, DepsInfoFileName), []byte(`{broken`), 0o644))
	_, err = f.exporter.Export(context.Background(), Request{Ref: libfoo, BuildFolder: t.TempDir(), InstallFolder: install, Force: true})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestExport_ShortPaths(t *testing.T) {
	f := newFixture(t)
	f.exporter.Loader = &graph.FileLoader{Path: writeGraph(t, `{"nodes": [
  {"id": "libfoo", "ref": "libfoo/1.0", "short_paths": true}]}`)}
	res, err := f.exportPrebuilt(t, false)
	require.NoError(t, err)
	assert.Equal(t, f.cache.ShortRoot, filepath.Dir(res.Destination))

	md, ok, err := f.cache.Layout(libfoo, true).PackageMetadata(res.Ref.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.Ref.Revision, md.Revision)
}

func TestExport_LockUpdated(t *testing.T) {
	f := newFixture(t)
	g, err := (&graph.FileLoader{Path: f.graph}).LoadGraph(context.Background(), libfoo, graph.LoadOptions{BuildMode: []string{"libfoo"}})
	require.NoError(t, err)
	lockPath := filepath.Join(t.TempDir(), "deps.lock")
	require.NoError(t, lock.FromGraph(g).Save(lockPath))
	lf, err := lock.Open(lockPath)
	require.NoError(t, err)

	res, err := f.exporter.Export(context.Background(), Request{Ref: libfoo, PackageFolder: f.prebuilt, Lock: lf})
	require.NoError(t, err)

	reloaded, err := lock.Load(lockPath)
	require.NoError(t, err)
	assert.Equal(t, res.Ref.Revision, reloaded.Nodes["libfoo"].Prev)
}

func TestExport_LockInconsistencySurfacesVerbatim(t *testing.T) {
	f := newFixture(t)
	lockPath := filepath.Join(t.TempDir(), "deps.lock")
	require.NoError(t, (&lock.Lock{Version: lock.Version, Nodes: map[string]*lock.Node{}}).Save(lockPath))
	lf, err := lock.Open(lockPath)
	require.NoError(t, err)

	res, err := f.exporter.Export(context.Background(), Request{Ref: libfoo, PackageFolder: f.prebuilt, Lock: lf})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockInconsistency)
	assert.ErrorIs(t, err, lock.ErrInconsistent)
	assert.Equal(t, `lockfile inconsistent with dependency graph: node "libfoo" is not locked`, err.Error())

	require.NotNil(t, res, "the package itself was stored")
	dirty, derr := cache.IsDirty(res.Destination)
	require.NoError(t, derr)
	assert.False(t, dirty)
	assert.Empty(t, f.audit.Snapshot())
}

func TestExport_DistinctIdentitiesConcurrently(t *testing.T) {
	f := newFixture(t)
	const n = 4
	var wg sync.WaitGroup
	results := make([]*Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		loader := &graph.FileLoader{Path: writeGraph(t, fmt.Sprintf(`{"nodes": [
  {"id": "libfoo", "ref": "libfoo/1.0", "options": {"variant": "%d"}}]}`, i))}
		exp := *f.exporter
		exp.Loader = loader
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = exp.Export(context.Background(), Request{Ref: libfoo, PackageFolder: f.prebuilt})
		}()
	}
	wg.Wait()

	seen := map[ref.PackageID]bool{}
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		seen[results[i].Ref.ID] = true
		md, ok, err := f.cache.Layout(libfoo, false).PackageMetadata(results[i].Ref.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, results[i].Ref.Revision, md.Revision)
	}
	assert.Len(t, seen, n)
	assert.Len(t, f.audit.Snapshot(), n)
}

func TestArbitrate(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "pkg")

	a, err := Arbitrate(dest, false)
	require.NoError(t, err)
	assert.Equal(t, Arbitration{Decision: Proceed}, a)

	require.NoError(t, os.MkdirAll(dest, 0o755))
	a, err = Arbitrate(dest, false)
	require.NoError(t, err)
	assert.Equal(t, Reject, a.Decision)
	assert.DirExists(t, dest)

	a, err = Arbitrate(dest, true)
	require.NoError(t, err)
	assert.Equal(t, Arbitration{Decision: Proceed, Replaced: true}, a)
	assert.NoDirExists(t, dest)

	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, cache.SetDirty(dest))
	a, err = Arbitrate(dest, false)
	require.NoError(t, err)
	assert.Equal(t, Arbitration{Decision: Proceed, Recovered: true}, a)
	assert.NoDirExists(t, dest)
}

func TestKindName(t *testing.T) {
	assert.Equal(t, "", KindName(nil))
	assert.Equal(t, "Internal", KindName(errors.New("x")))
	wrapped := fmt.Errorf("outer: %w", newError(ErrLockInconsistency, nil, "inner"))
	assert.Equal(t, "LockInconsistency", KindName(wrapped))
}

func TestBind_SubtreeNamesSkipAndDeduplicate(t *testing.T) {
	f := newFixture(t)
	specs := []graph.NodeSpec{
		{ID: "libfoo", Ref: libfoo, Requires: []string{"openssl", "tool", "zlib_a"}},
		{ID: "openssl", Ref: ref.MustParseRecipe("openssl/3.0"), Requires: []string{"zlib_b"}},
		{ID: "tool", Ref: ref.MustParseRecipe("cmake/3.27"), Binary: graph.BinarySkip},
		{ID: "zlib_a", Ref: ref.MustParseRecipe("zlib/1.2.13"), Options: map[string]string{"shared": "False"}},
		{ID: "zlib_b", Ref: ref.MustParseRecipe("zlib/1.2.13"), Options: map[string]string{"shared": "True"}},
	}
	g, err := graph.Build(specs, []string{"libfoo"})
	require.NoError(t, err)
	node, ok := g.Node("libfoo")
	require.True(t, ok)

	bc, err := bind(f.cache.Layout(libfoo, false), g, node, libfoo, "")
	require.NoError(t, err)

	// Closure order is tool, zlib_a, zlib_b, openssl.
	assert.Equal(t, []string{"zlib", "openssl"}, bc.SubtreeNames)

	var got []string
	for _, p := range bc.Requires {
		got = append(got, p.Ref.Name+":"+string(p.ID))
	}
	var want []string
	for _, id := range []string{"tool", "zlib_a", "zlib_b", "openssl"} {
		n, _ := g.Node(id)
		want = append(want, n.Ref.Name+":"+string(n.PackageID))
	}
	assert.Equal(t, want, got, "skipped and duplicate-name nodes stay in the requirements")
	assert.True(t, bc.Develop)
	assert.Equal(t, f.rrev, bc.RecipeHash)
}

func TestFinalize_MetadataWriteFailureIsMaterializationFailure(t *testing.T) {
	f := newFixture(t)
	g, err := f.exporter.Loader.LoadGraph(context.Background(), libfoo, graph.LoadOptions{})
	require.NoError(t, err)
	node, ok := g.Node("libfoo")
	require.True(t, ok)

	l := f.cache.Layout(libfoo, false)
	blocked := filepath.Join(l.BaseDir(), "metadata", "packages")
	require.NoError(t, os.MkdirAll(filepath.Dir(blocked), 0o755))
	require.NoError(t, os.WriteFile(blocked, []byte("not a directory"), 0o644))

	_, err = f.exporter.finalize(context.Background(), finalizeInput{
		layout:         l,
		graph:          g,
		node:           node,
		prev:           "0123456789abcdef",
		recipeRevision: f.rrev,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaterializationFailure)
	assert.Equal(t, "MaterializationFailure", KindName(err))
	assert.Empty(t, f.audit.Snapshot())
}
