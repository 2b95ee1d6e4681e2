package bundle

import (
	"path/filepath"
	"strings"

	"github.com/roach88/ngbundle/internal/digest"
	"github.com/roach88/ngbundle/internal/filecache"
)

// Request describes one entry module to bundle.
type Request struct {
	// ModuleName is the global name for UMD-style consumers. It is required
	// although the output format is ES modules.
	ModuleName string
	// EntryPath is the absolute path of the compiled entry module.
	EntryPath string
	// EntryArtifactName is the base name of the output files.
	EntryArtifactName string
	OutputDir         string
	// SourceRoot must contain EntryPath.
	SourceRoot string

	// PreviousGraph, when set, seeds the build instead of the cache.
	PreviousGraph *Graph

	// CacheDir enables graph persistence unless CacheDisabled is set.
	CacheDir      string
	CacheDisabled bool
	// CacheKey names the persisted graph. Required when caching is on.
	CacheKey string

	// FileCache holds compiled modules and their maps. Modules it lacks
	// are loaded by the backend untouched. Nil leaves every module to the
	// backend.
	FileCache filecache.Cache
}

// CachingEnabled reports whether the request reads and writes the graph
// cache.
func (r *Request) CachingEnabled() bool {
	return r.CacheDir != "" && !r.CacheDisabled
}

// Validate checks the request and reports every problem at once.
func (r *Request) Validate() error {
	var problems []string
	require := func(v, name string) {
		if strings.TrimSpace(v) == "" {
			problems = append(problems, name+" is required")
		}
	}
	require(r.ModuleName, "module name")
	require(r.EntryPath, "entry path")
	require(r.EntryArtifactName, "entry artifact name")
	require(r.OutputDir, "output directory")
	require(r.SourceRoot, "source root")

	if r.EntryArtifactName != "" && strings.ContainsAny(r.EntryArtifactName, `/\`) {
		problems = append(problems, "entry artifact name must be a base name")
	}
	if r.EntryPath != "" {
		if !filepath.IsAbs(r.EntryPath) {
			problems = append(problems, "entry path must be absolute")
		} else if r.SourceRoot != "" && !within(r.SourceRoot, r.EntryPath) {
			problems = append(problems, "entry path must be inside the source root")
		}
	}
	if r.CachingEnabled() && r.CacheKey == "" {
		problems = append(problems, "cache key is required when caching is enabled")
	}

	if len(problems) > 0 {
		return &RequestError{Code: ErrCodeInvalidRequest, Problems: problems}
	}
	return nil
}

func within(root, path string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// CacheKey derives the cache key for an entry compiled with options. The
// entry path is normalized first, so the key is the same on every host.
func CacheKey(entryPath string, options map[string]any) (string, error) {
	return digest.CacheKey(filecache.NormalizePath(entryPath), options)
}
