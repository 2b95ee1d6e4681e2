package backend

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func outputsByName(files []OutputFile) map[string]string {
	out := make(map[string]string, len(files))
	for _, f := range files {
		out[filepath.Base(f.Path)] = string(f.Contents)
	}
	return out
}

func TestNativeBuildSplitsAndKeepsExternals(t *testing.T) {
	src := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "dist")
	writeFiles(t, src, map[string]string{
		"index.mjs": "import { foo } from 'foo';\nimport { bar } from './bar.mjs';\nexport const run = () => foo(bar);\nexport const later = () => import('./lazy.mjs');\n",
		"bar.mjs":   "export const bar = 'BAR_VALUE';\n",
		"lazy.mjs":  "export const lazy = 'LAZY_VALUE';\n",
	})

	n, err := NewNative()
	require.NoError(t, err)

	opts := testOptions(mapHooks{external: map[string]bool{"foo": true}})
	opts.EntryPath = filepath.Join(src, "index.mjs")
	opts.EntryName = "lib"
	opts.OutputDir = outDir
	opts.WorkingDir = src

	b, err := n.Build(context.Background(), opts)
	require.NoError(t, err)
	defer b.Close()

	files := outputsByName(b.Files)
	entry, ok := files["lib.mjs"]
	require.True(t, ok, "entry chunk named from the entry name: %v", keys(files))
	assert.Contains(t, entry, `from "foo"`)
	assert.Contains(t, entry, "BAR_VALUE")
	assert.NotContains(t, entry, "LAZY_VALUE", "dynamic imports stay in their own chunk")
	assert.Contains(t, entry, "//# sourceMappingURL=lib.mjs.map")
	assert.Contains(t, files, "lib.mjs.map")

	var chunks []string
	for name := range files {
		if strings.HasSuffix(name, ".mjs") && name != "lib.mjs" {
			chunks = append(chunks, name)
		}
	}
	require.Len(t, chunks, 1)
	assert.True(t, strings.HasPrefix(chunks[0], "lib-lazy-"), chunks[0])
	assert.Contains(t, files[chunks[0]], "LAZY_VALUE")
	assert.Contains(t, files, chunks[0]+".map")
	for _, f := range b.Files {
		assert.Equal(t, outDir, filepath.Dir(f.Path))
	}

	var meta struct {
		Inputs map[string]json.RawMessage `json:"inputs"`
	}
	require.NoError(t, json.Unmarshal([]byte(b.Metafile), &meta))
	assert.Contains(t, meta.Inputs, "bar.mjs")
}

func TestNativeBuildUsesLoadHook(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, map[string]string{"index.mjs": "export const v = 'FROM_DISK';\n"})

	n, err := NewNative()
	require.NoError(t, err)

	entry := filepath.Join(src, "index.mjs")
	opts := testOptions(mapHooks{modules: map[string]string{entry: "export const v = 'FROM_HOOK';\n"}})
	opts.EntryPath = entry
	opts.OutputDir = filepath.Join(src, "out")
	opts.WorkingDir = src

	b, err := n.Build(context.Background(), opts)
	require.NoError(t, err)
	defer b.Close()

	entryOut := outputsByName(b.Files)["lib.mjs"]
	assert.Contains(t, entryOut, "FROM_HOOK")
	assert.NotContains(t, entryOut, "FROM_DISK")
}

func TestNativeBuildFailure(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, map[string]string{"index.mjs": "import './missing.mjs';\n"})

	n, err := NewNative()
	require.NoError(t, err)

	opts := testOptions(mapHooks{})
	opts.EntryPath = filepath.Join(src, "index.mjs")
	opts.OutputDir = filepath.Join(src, "out")
	opts.WorkingDir = src

	b, err := n.Build(context.Background(), opts)
	assert.Nil(t, b)
	require.Error(t, err)
	assert.True(t, IsFailure(err))

	var f *Failure
	require.ErrorAs(t, err, &f)
	require.NotEmpty(t, f.Errors)
	assert.Contains(t, f.Errors[0].Text, "missing.mjs")
}

func TestNativeBuildHookError(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, map[string]string{"index.mjs": "export {};\n"})

	n, err := NewNative()
	require.NoError(t, err)

	opts := testOptions(mapHooks{failLoad: filepath.Join(src, "index.mjs")})
	opts.EntryPath = filepath.Join(src, "index.mjs")
	opts.OutputDir = filepath.Join(src, "out")
	opts.WorkingDir = src

	_, err = n.Build(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found in memory")
}

func TestBuildOptionsValidate(t *testing.T) {
	n := &Native{}
	_, err := n.Build(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry path")
	assert.Contains(t, err.Error(), "hooks")
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
