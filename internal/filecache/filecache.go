// Package filecache is the in-memory view of compiler output that the
// bundler reads instead of the filesystem.
package filecache

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// Entry is one cached file.
type Entry struct {
	Content []byte
}

// Cache looks files up by path. Implementations normalize the path with
// NormalizePath before lookup.
type Cache interface {
	Get(path string) (Entry, bool)
}

// NormalizePath returns the platform-independent key for p: forward
// slashes, lexically cleaned, NFC-normalized. Windows drive letters are
// lower-cased so "C:/x" and "c:\x" share a key.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = path.Clean(p)
	if len(p) >= 2 && p[1] == ':' {
		p = strings.ToLower(p[:1]) + p[1:]
	}
	return norm.NFC.String(p)
}

// Memory is a concurrency-safe Cache backed by a map.
type Memory struct {
	mu    sync.RWMutex
	files map[string]Entry
}

// NewMemory returns an empty Memory cache.
func NewMemory() *Memory {
	return &Memory{files: make(map[string]Entry)}
}

// Put stores content under the normalized form of p.
func (m *Memory) Put(p string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[NormalizePath(p)] = Entry{Content: content}
}

// Get implements Cache.
func (m *Memory) Get(p string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.files[NormalizePath(p)]
	return e, ok
}

// Len returns the number of cached files.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

// Paths returns the cached keys in sorted order.
func (m *Memory) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// LoadDir walks root and caches every file whose extension is in exts
// under its absolute path. It returns the number of files added.
func (m *Memory) LoadDir(root string, exts ...string) (int, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return 0, err
	}
	n := 0
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "node_modules" && p != abs {
				return filepath.SkipDir
			}
			return nil
		}
		if !hasExt(p, exts) {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		m.Put(p, data)
		n++
		return nil
	})
	return n, err
}

func hasExt(p string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	for _, e := range exts {
		if strings.HasSuffix(p, e) {
			return true
		}
	}
	return false
}
