package bundle

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/roach88/ngbundle/internal/digest"
	"github.com/roach88/ngbundle/internal/filecache"
	"github.com/roach88/ngbundle/internal/pipeline"
	"github.com/roach88/ngbundle/internal/sourcemap"
)

// sourceLoader reads modules and their input source maps from the file
// cache. It never touches the filesystem: a module missing from the cache
// is left to the backend, and a map referenced by a module it did load
// must be in the cache or the build fails with SourceMapFileMissingError.
type sourceLoader struct {
	files   filecache.Cache
	loaders map[string]string
	warn    func(Diagnostic)
}

func (*sourceLoader) Name() string { return "sourcemaps" }

func (l *sourceLoader) get(p string) ([]byte, bool) {
	if l.files == nil {
		return nil, false
	}
	e, ok := l.files.Get(p)
	return e.Content, ok
}

// Load implements pipeline.Loader.
func (l *sourceLoader) Load(_ context.Context, p string) (*pipeline.Source, bool, error) {
	loader, ok := l.loaders[filepath.Ext(p)]
	if !ok {
		return nil, false, nil
	}

	data, ok := l.get(p)
	if !ok {
		return nil, false, nil
	}

	src := &pipeline.Source{Path: p, Code: string(data), Loader: loader}
	if loader != "js" {
		src.Digest = digest.ModuleSum(data, nil)
		return src, true, nil
	}

	comment, ok := sourcemap.FindComment(src.Code)
	if !ok {
		src.Digest = digest.ModuleSum(data, nil)
		return src, true, nil
	}
	src.Code = sourcemap.StripComment(src.Code, comment)

	raw, mapPath, err := l.readMap(p, comment.URL)
	if err != nil {
		return nil, false, err
	}
	src.Digest = digest.ModuleSum(data, raw)
	if raw == nil {
		return src, true, nil
	}

	m, err := sourcemap.Parse(raw)
	if err != nil {
		l.warn(Diagnostic{Code: CodeInvalidSourceMap, Message: fmt.Sprintf("%s: ignoring source map: %v", p, err)})
		return src, true, nil
	}
	absolutizeSources(m, mapPath)
	src.Map = m
	return src, true, nil
}

// readMap returns the raw map referenced by ref and the path it was read
// from ("" for inline maps). A nil map with a nil error means there is no
// usable map.
func (l *sourceLoader) readMap(module, ref string) ([]byte, string, error) {
	if sourcemap.IsDataURL(ref) {
		raw, err := sourcemap.DecodeDataURL(ref)
		if err != nil {
			l.warn(Diagnostic{Code: CodeInvalidSourceMap, Message: fmt.Sprintf("%s: ignoring inline source map: %v", module, err)})
			return nil, "", nil
		}
		return raw, module, nil
	}

	rel, err := url.PathUnescape(ref)
	if err != nil || strings.Contains(rel, "://") {
		l.warn(Diagnostic{Code: CodeInvalidSourceMap, Message: fmt.Sprintf("%s: unsupported sourceMappingURL %q", module, ref)})
		return nil, "", nil
	}
	mapPath := rel
	if !filepath.IsAbs(mapPath) {
		mapPath = filepath.Join(filepath.Dir(module), filepath.FromSlash(rel))
	}

	raw, ok := l.get(mapPath)
	if !ok {
		return nil, "", &SourceMapFileMissingError{
			Code:   ErrCodeSourceMapFileMissing,
			Path:   filecache.NormalizePath(mapPath),
			Module: module,
		}
	}
	return raw, mapPath, nil
}

// absolutizeSources rewrites relative sources against the map's location
// and sourceRoot, so the map stays valid wherever its text is inlined.
func absolutizeSources(m *sourcemap.Map, mapPath string) {
	base := filepath.Dir(mapPath)
	root := m.SourceRoot
	if strings.Contains(root, "://") {
		return
	}
	if path.IsAbs(root) || filepath.IsAbs(root) {
		base, root = filepath.FromSlash(root), ""
	}
	for i, s := range m.Sources {
		if s == "" || strings.Contains(s, "://") || path.IsAbs(s) || filepath.IsAbs(s) {
			continue
		}
		m.Sources[i] = filepath.Join(base, filepath.FromSlash(root), filepath.FromSlash(s))
	}
	m.SourceRoot = ""
}
