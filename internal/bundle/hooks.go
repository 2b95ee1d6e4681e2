package bundle

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/ngbundle/internal/pipeline"
)

// Stats counts what a build did.
type Stats struct {
	// ModulesLoaded counts modules read through the pipeline.
	ModulesLoaded int `json:"modules_loaded"`
	// ModulesReused counts modules whose contents came from the starting
	// graph.
	ModulesReused int `json:"modules_reused"`
	// ModulesTransformed counts modules run through the transforms.
	ModulesTransformed int `json:"modules_transformed"`
	// Externals counts imports left unresolved.
	Externals int `json:"externals"`
	// Warnings counts diagnostics forwarded to the sink.
	Warnings int `json:"warnings"`
	// Suppressed counts diagnostics filtered out.
	Suppressed int `json:"suppressed"`
}

// buildHooks serves backend callbacks for one build. The backend may call
// them concurrently; mu guards the stats, the diagnostics and the first
// hook error.
type buildHooks struct {
	pipeline *pipeline.Pipeline
	start    *Graph
	next     *Graph

	mu    sync.Mutex
	stats Stats
	diags []Diagnostic
	err   error
}

// Resolve implements backend.Hooks.
func (h *buildHooks) Resolve(ctx context.Context, args pipeline.ResolveArgs) (pipeline.ResolveResult, bool, error) {
	res, ok, err := h.pipeline.Resolve(ctx, args)
	if err != nil {
		h.fail(err)
		return res, false, err
	}
	if ok && res.External {
		h.mu.Lock()
		h.stats.Externals++
		h.mu.Unlock()
	}
	return res, ok, nil
}

// Load implements backend.Hooks. A module whose digest matches the
// starting graph reuses its contents and skips the transforms.
func (h *buildHooks) Load(ctx context.Context, path string) (*pipeline.Module, bool, error) {
	src, ok, err := h.pipeline.Load(ctx, path)
	if err != nil {
		h.fail(err)
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	if h.start != nil {
		if prev, found := h.start.Module(path); found && prev.Digest == src.Digest && prev.Loader == src.Loader {
			h.next.put(path, prev)
			h.count(func(s *Stats) { s.ModulesLoaded++; s.ModulesReused++ })
			return &pipeline.Module{Path: path, Contents: prev.Contents, Loader: prev.Loader, Digest: prev.Digest}, true, nil
		}
	}

	mod, err := h.pipeline.Transform(src)
	if err != nil {
		h.fail(err)
		return nil, false, err
	}
	h.next.put(path, GraphModule{Digest: mod.Digest, Contents: mod.Contents, Loader: mod.Loader})
	h.count(func(s *Stats) { s.ModulesLoaded++; s.ModulesTransformed++ })
	return mod, true, nil
}

func (h *buildHooks) count(f func(*Stats)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f(&h.stats)
}

func (h *buildHooks) warn(d Diagnostic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.diags = append(h.diags, d)
}

// fail records the first hook error. A missing source map always wins,
// since it is what the caller must act on.
func (h *buildHooks) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err == nil || (IsSourceMapFileMissing(err) && !IsSourceMapFileMissing(h.err)) {
		h.err = err
	}
}

func (h *buildHooks) result() (Stats, []Diagnostic, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats, h.diags, h.err
}

// hookError returns the typed error behind a failed build, if a hook
// caused it.
func hookError(err error) (*SourceMapFileMissingError, bool) {
	var se *SourceMapFileMissingError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
