package filecache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/src/lib/index.mjs", "/src/lib/index.mjs"},
		{"/src/lib/../lib/./index.mjs", "/src/lib/index.mjs"},
		{`C:\work\lib\index.mjs`, "c:/work/lib/index.mjs"},
		{"c:/work//lib/index.mjs", "c:/work/lib/index.mjs"},
		{"/src/cafe\u0301.mjs", "/src/caf\u00e9.mjs"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePath(tt.in), tt.in)
	}
}

func TestMemoryGetUsesNormalizedKey(t *testing.T) {
	m := NewMemory()
	m.Put(`C:\work\a.mjs.map`, []byte("{}"))

	e, ok := m.Get("c:/work/./a.mjs.map")
	require.True(t, ok)
	assert.Equal(t, "{}", string(e.Content))

	_, ok = m.Get("c:/work/b.mjs.map")
	assert.False(t, ok)
	assert.Equal(t, 1, m.Len())
}

func TestLoadDirFiltersExtensions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "x"), 0o755))
	write := func(rel, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, rel), []byte(content), 0o644))
	}
	write("index.mjs", "export {}")
	write("index.mjs.map", "{}")
	write("sub/util.js", "1")
	write("README.md", "# no")
	write("node_modules/x/index.js", "skip")

	m := NewMemory()
	n, err := m.LoadDir(dir, ".js", ".mjs", ".map")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, ok := m.Get(filepath.Join(dir, "sub", "util.js"))
	assert.True(t, ok)
	_, ok = m.Get(filepath.Join(dir, "README.md"))
	assert.False(t, ok)
	_, ok = m.Get(filepath.Join(dir, "node_modules", "x", "index.js"))
	assert.False(t, ok)
}
