package bundle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ngbundle/internal/backend"
	"github.com/roach88/ngbundle/internal/externals"
	"github.com/roach88/ngbundle/internal/filecache"
	"github.com/roach88/ngbundle/internal/testutil"
)

type fixture struct {
	root   string
	out    string
	files  *filecache.Memory
	fake   *testutil.FakeBackend
	bridge *testutil.MemoryBridge
	sink   *testutil.RecordingSink
	orch   *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		root:   t.TempDir(),
		files:  filecache.NewMemory(),
		fake:   testutil.NewFakeBackend(),
		bridge: testutil.NewMemoryBridge(),
		sink:   &testutil.RecordingSink{},
	}
	f.out = filepath.Join(t.TempDir(), "dist")
	f.orch = f.orchestrator()
	return f
}

func (f *fixture) orchestrator(opts ...Option) *Orchestrator {
	base := []Option{
		WithSelector(backend.Fixed(f.fake)),
		WithBridge(f.bridge),
		WithWarningSink(f.sink),
		WithLogger(zerolog.Nop()),
		WithClassifier(externals.Classifier{FirstPartyScopes: []string{"@acme/"}}),
	}
	return New(append(base, opts...)...)
}

func (f *fixture) path(name string) string {
	return filepath.Join(f.root, name)
}

// module puts a file in the file cache and on disk.
func (f *fixture) module(t *testing.T, name, code string) string {
	t.Helper()
	p := f.path(name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(code), 0o644))
	f.files.Put(p, []byte(code))
	return p
}

func (f *fixture) request() *Request {
	return &Request{
		ModuleName:        "acme.lib",
		EntryPath:         f.path("index.mjs"),
		EntryArtifactName: "lib",
		OutputDir:         f.out,
		SourceRoot:        f.root,
		CacheDir:          "/cache",
		CacheKey:          "key-1",
		FileCache:         f.files,
	}
}

func TestRequestValidate(t *testing.T) {
	valid := func() *Request {
		return &Request{
			ModuleName:        "m",
			EntryPath:         filepath.Join(string(filepath.Separator), "src", "index.mjs"),
			EntryArtifactName: "lib",
			OutputDir:         "dist",
			SourceRoot:        filepath.Join(string(filepath.Separator), "src"),
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Request)
		want   string
	}{
		{"module name", func(r *Request) { r.ModuleName = "" }, "module name is required"},
		{"relative entry", func(r *Request) { r.EntryPath = "index.mjs" }, "entry path must be absolute"},
		{"entry outside root", func(r *Request) { r.EntryPath = filepath.Join(string(filepath.Separator), "other", "index.mjs") }, "inside the source root"},
		{"artifact path", func(r *Request) { r.EntryArtifactName = "a/b" }, "base name"},
		{"missing out dir", func(r *Request) { r.OutputDir = " " }, "output directory is required"},
		{"cache key", func(r *Request) { r.CacheDir = "/cache" }, "cache key is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(r)
			err := r.Validate()
			require.Error(t, err)
			assert.True(t, IsRequestError(err))
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, string(ErrCodeInvalidRequest), Code(err))
		})
	}

	r := valid()
	r.CacheDir, r.CacheDisabled = "/cache", true
	assert.NoError(t, r.Validate(), "a disabled cache needs no key")
}

func TestBundleBackendUnavailable(t *testing.T) {
	f := newFixture(t)
	f.module(t, "index.mjs", "export {};")
	orch := f.orchestrator(WithSelector(testutil.UnavailableSelector()))

	res, err := orch.Bundle(context.Background(), f.request())
	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrUnavailable)
	assert.Equal(t, backend.CodeUnavailable, Code(err))
	assert.Equal(t, 0, f.bridge.Loads(), "no work before a backend exists")
	assert.NoDirExists(t, f.out)
}

func TestBundleTransformsAndWrites(t *testing.T) {
	f := newFixture(t)
	entry := f.module(t, "index.mjs", "export const cmp = i0.ɵɵngDeclareComponent({ minVersion: \"14.0.0\", version: \"14.2.0\" });\n")
	f.fake.Modules = []string{entry}

	res, err := f.orch.Bundle(context.Background(), f.request())
	require.NoError(t, err)

	require.Len(t, res.Files, 1)
	e := res.Entry()
	assert.Equal(t, KindChunk, e.Kind)
	assert.True(t, e.IsEntry)
	assert.Equal(t, "lib.mjs", e.FileName)
	assert.Equal(t, "lib.mjs.map", e.MapFileName())
	assert.Contains(t, string(e.Code), `minVersion: "12.0.0"`)
	assert.Contains(t, string(e.Code), "//# sourceMappingURL=data:application/json")

	written, err := os.ReadFile(filepath.Join(f.out, "lib.mjs"))
	require.NoError(t, err)
	assert.Equal(t, e.Code, written)
	assert.FileExists(t, filepath.Join(f.out, "lib.mjs.map"))

	assert.Equal(t, 1, res.Stats.ModulesTransformed)
	assert.Equal(t, 1, res.Graph.Len())
	assert.Equal(t, 1, f.fake.Closes())
	assert.Equal(t, backend.KindNative, res.Backend)

	opts := f.fake.LastOptions()
	assert.Equal(t, "lib", opts.EntryName)
	assert.Equal(t, "json", opts.Settings.Loaders[".json"])
	assert.Equal(t, []string{"module", "main"}, opts.Settings.MainFields)
}

func TestBundleClassifiesImports(t *testing.T) {
	f := newFixture(t)
	f.module(t, "index.mjs", "export {};")
	f.fake.Imports = []string{"foo", "./bar.mjs", "@acme/core", "/abs/x.mjs"}

	res, err := f.orch.Bundle(context.Background(), f.request())
	require.NoError(t, err)

	r, ok := f.fake.Resolved("foo")
	require.True(t, ok)
	assert.True(t, r.External)
	assert.Equal(t, "foo", r.Path)
	for _, id := range []string{"./bar.mjs", "@acme/core", "/abs/x.mjs"} {
		_, ok := f.fake.Resolved(id)
		assert.False(t, ok, "%s falls through to backend resolution", id)
	}
	assert.Equal(t, 1, res.Stats.Externals)
}

func TestBundleReusesCachedGraph(t *testing.T) {
	f := newFixture(t)
	entry := f.module(t, "index.mjs", "export const a = 1;\n")
	dep := f.module(t, "dep.mjs", "export const b = 2;\n")
	f.fake.Modules = []string{entry, dep}

	first, err := f.orch.Bundle(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Stats.ModulesTransformed)
	assert.Equal(t, 0, first.Stats.ModulesReused)
	_, saved := f.bridge.Get("/cache", "key-1")
	require.True(t, saved)

	f.files.Put(dep, []byte("export const b = 3;\n"))
	second, err := f.orchestrator().Bundle(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Stats.ModulesReused, "unchanged entry comes from the cached graph")
	assert.Equal(t, 1, second.Stats.ModulesTransformed, "changed dependency is transformed again")
	assert.Contains(t, string(second.Entry().Code), "b = 3")
}

func TestBundlePreviousGraphWinsOverCache(t *testing.T) {
	f := newFixture(t)
	entry := f.module(t, "index.mjs", "export const a = 1;\n")
	f.fake.Modules = []string{entry}

	first, err := f.orch.Bundle(context.Background(), f.request())
	require.NoError(t, err)

	req := f.request()
	req.PreviousGraph = first.Graph
	req.CacheDisabled = true
	loads := f.bridge.Loads()

	second, err := f.orch.Bundle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Stats.ModulesReused)
	assert.Equal(t, loads, f.bridge.Loads(), "no cache read when a graph is supplied")
	assert.NotSame(t, first.Graph, second.Graph)
}

func TestBundleGraphInUse(t *testing.T) {
	f := newFixture(t)
	f.module(t, "index.mjs", "export {};")

	g := newGraph(f.fake)
	require.True(t, g.acquire())
	req := f.request()
	req.PreviousGraph = g

	_, err := f.orch.Bundle(context.Background(), req)
	assert.ErrorIs(t, err, ErrGraphInUse)
	assert.Equal(t, 0, f.fake.Builds())

	g.release()
	_, err = f.orch.Bundle(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, g.acquire(), "graph is released after the build")
}

func TestBundleDiscardsForeignGraphs(t *testing.T) {
	f := newFixture(t)
	entry := f.module(t, "index.mjs", "export {};")
	f.fake.Modules = []string{entry}

	other := &testutil.FakeBackend{KindValue: backend.KindVM, VersionValue: "fake"}
	g := newGraph(other)
	g.put(entry, GraphModule{Digest: "whatever", Contents: "stale", Loader: "js"})
	data, err := g.Encode()
	require.NoError(t, err)
	f.bridge.Put("/cache", "key-1", data)

	res, err := f.orch.Bundle(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Stats.ModulesReused)
	assert.NotContains(t, string(res.Entry().Code), "stale")
}

func TestBundleIgnoresUnreadableCache(t *testing.T) {
	tests := map[string]func(f *fixture){
		"corrupt entry": func(f *fixture) { f.bridge.Put("/cache", "key-1", []byte("{not json")) },
		"read error":    func(f *fixture) { f.bridge.LoadErr = testutil.ErrInjected },
	}
	for name, setup := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			entry := f.module(t, "index.mjs", "export {};")
			f.fake.Modules = []string{entry}
			setup(f)

			res, err := f.orch.Bundle(context.Background(), f.request())
			require.NoError(t, err)
			assert.Equal(t, 1, res.Stats.ModulesTransformed)
		})
	}
}

func TestBundleCachePersistError(t *testing.T) {
	f := newFixture(t)
	entry := f.module(t, "index.mjs", "export {};")
	f.fake.Modules = []string{entry}
	f.bridge.SaveErr = testutil.ErrInjected

	res, err := f.orch.Bundle(context.Background(), f.request())
	require.Error(t, err)
	require.NotNil(t, res, "artifacts stay valid")
	assert.True(t, IsCachePersistError(err))
	assert.ErrorIs(t, err, testutil.ErrInjected)
	assert.Equal(t, string(ErrCodeCachePersistFailed), Code(err))
	assert.Len(t, res.Files, 1)
	assert.FileExists(t, filepath.Join(f.out, "lib.mjs"))
	assert.Equal(t, 1, f.fake.Closes(), "backend released despite the failed save")
}

func TestBundleCacheDisabled(t *testing.T) {
	f := newFixture(t)
	f.module(t, "index.mjs", "export {};")
	req := f.request()
	req.CacheDisabled = true

	_, err := f.orch.Bundle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, f.bridge.Loads())
	assert.Equal(t, 0, f.bridge.Saves())
}

func TestBundleWriteError(t *testing.T) {
	f := newFixture(t)
	f.module(t, "index.mjs", "export {};")
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	req := f.request()
	req.OutputDir = filepath.Join(blocker, "dist")

	res, err := f.orch.Bundle(context.Background(), req)
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, IsWriteError(err))
	assert.Equal(t, 1, f.fake.Closes())
	assert.Equal(t, 0, f.bridge.Saves(), "nothing persisted after a failed write")
}

func TestBundleBuildError(t *testing.T) {
	f := newFixture(t)
	f.module(t, "index.mjs", "export {};")
	f.fake.Modules = []string{f.path("missing.mjs")}

	res, err := f.orch.Bundle(context.Background(), f.request())
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, IsBuildError(err))
	assert.Contains(t, err.Error(), "Could not resolve")
	assert.Equal(t, 0, f.fake.Closes())

	f.fake.Modules = nil
	f.fake.Err = testutil.ErrInjected
	_, err = f.orch.Bundle(context.Background(), f.request())
	assert.True(t, IsBuildError(err))
	assert.ErrorIs(t, err, testutil.ErrInjected)
}

func TestBundleSourceMapMissingFromFileCache(t *testing.T) {
	f := newFixture(t)
	entry := f.module(t, "index.mjs", "export {};\n//# sourceMappingURL=index.mjs.map\n")
	f.fake.Modules = []string{entry}

	res, err := f.orch.Bundle(context.Background(), f.request())
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, IsSourceMapFileMissing(err))
	assert.Contains(t, err.Error(), "file not found in memory")

	var se *SourceMapFileMissingError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, filecache.NormalizePath(f.path("index.mjs.map")), se.Path)
	assert.Equal(t, entry, se.Module)
}

func TestBundleSourceMapOnDiskOnlyIsMissing(t *testing.T) {
	f := newFixture(t)
	entry := f.module(t, "index.mjs", "export {};\n//# sourceMappingURL=index.mjs.map\n")
	mapPath := f.path("index.mjs.map")
	require.NoError(t, os.WriteFile(mapPath, []byte(`{"version":3,"sources":["../src/index.ts"],"names":[],"mappings":"AAAA"}`), 0o644))
	f.fake.Modules = []string{entry}

	res, err := f.orch.Bundle(context.Background(), f.request())
	assert.Nil(t, res)
	var se *SourceMapFileMissingError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, filecache.NormalizePath(mapPath), se.Path)
	assert.Empty(t, f.sink.Messages())
}

func TestSourceLoaderLeavesUncachedModulesToBackend(t *testing.T) {
	f := newFixture(t)
	p := f.path("dep.mjs")
	require.NoError(t, os.WriteFile(p, []byte("export {};\n//# sourceMappingURL=dep.mjs.map\n"), 0o644))
	require.NoError(t, os.WriteFile(p+".map", []byte(`{"version":3,"sources":["dep.ts"],"names":[],"mappings":"AAAA"}`), 0o644))

	var warned []Diagnostic
	l := &sourceLoader{
		files:   f.files,
		loaders: map[string]string{".mjs": "js"},
		warn:    func(d Diagnostic) { warned = append(warned, d) },
	}
	src, ok, err := l.Load(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, src)
	assert.Empty(t, warned)

	l.files = nil
	_, ok, err = l.Load(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBundleComposesInputMaps(t *testing.T) {
	f := newFixture(t)
	f.module(t, "index.mjs.map", `{"version":3,"sources":["../src/index.ts"],"names":[],"mappings":"AAAA;AACA"}`)
	entry := f.module(t, "index.mjs", "ɵɵngDeclareDirective({ minVersion: \"14.0.0\", x: 1 });\nexport {};\n//# sourceMappingURL=index.mjs.map\n")
	f.fake.Modules = []string{entry}

	res, err := f.orch.Bundle(context.Background(), f.request())
	require.NoError(t, err)

	m, ok := res.Graph.Module(entry)
	require.True(t, ok)
	assert.Contains(t, m.Contents, `minVersion: "12.0.0"`)
	assert.NotContains(t, m.Contents, "sourceMappingURL=index.mjs.map", "input map reference replaced by the composed map")
	assert.Contains(t, m.Contents, "sourceMappingURL=data:")
}

func TestBundleFiltersWarnings(t *testing.T) {
	f := newFixture(t)
	f.module(t, "index.mjs", "export {};")
	f.fake.Warnings = []backend.Message{
		{ID: "this-is-undefined-in-esm", Text: "Top-level \"this\" will be replaced with undefined"},
		{ID: "empty-import-meta", Text: "\"import.meta\" is not available\nin the configured target", File: "index.mjs", Line: 2, Column: 4},
		{Text: "plain warning"},
	}
	f.fake.Metafile = `{
		"inputs": {
			"a.mjs": {"bytes": 1, "imports": [{"path": "b.mjs", "kind": "import-statement"}, {"path": "unused-pkg", "kind": "import-statement", "external": true}]},
			"b.mjs": {"bytes": 1, "imports": [{"path": "a.mjs", "kind": "import-statement"}]}
		},
		"outputs": {}
	}`

	res, err := f.orch.Bundle(context.Background(), f.request())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"EMPTY_IMPORT_META: index.mjs:2:4: \"import.meta\" is not available in the configured target",
		"BUNDLER_WARNING: plain warning",
	}, f.sink.Messages())
	assert.Equal(t, 2, res.Stats.Warnings)
	assert.Equal(t, 3, res.Stats.Suppressed, "top-level this, the cycle and the unused external")
}

func TestBundleBuildIDs(t *testing.T) {
	f := newFixture(t)
	f.module(t, "index.mjs", "export {};")
	orch := f.orchestrator(WithIDGenerator(NewFixedGenerator("build-1", "build-2")))

	r1, err := orch.Bundle(context.Background(), f.request())
	require.NoError(t, err)
	r2, err := orch.Bundle(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, "build-1", r1.BuildID)
	assert.Equal(t, "build-2", r2.BuildID)
}

func TestCacheKeyStable(t *testing.T) {
	k1, err := CacheKey("/src/index.mjs", map[string]any{"target": "es2022", "strict": true})
	require.NoError(t, err)
	k2, err := CacheKey("/src/./index.mjs", map[string]any{"strict": true, "target": "es2022"})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := CacheKey("/src/index.mjs", map[string]any{"target": "es2020", "strict": true})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestGraphRoundTrip(t *testing.T) {
	g := newGraph(testutil.NewFakeBackend())
	g.put("/src/a.mjs", GraphModule{Digest: "d1", Contents: "export {};", Loader: "js"})

	data, err := g.Encode()
	require.NoError(t, err)
	back, err := DecodeGraph(data)
	require.NoError(t, err)
	assert.Equal(t, g.Modules, back.Modules)
	assert.Equal(t, backend.KindNative, back.Backend)

	_, err = DecodeGraph([]byte(`{"format": 99}`))
	assert.Error(t, err)
}

func TestCodeOfForeignError(t *testing.T) {
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, "", Code(errors.New("x")))
}
