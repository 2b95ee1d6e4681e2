// Package pipeline composes the plugin stages a build runs through.
//
// A stage is any value with a Name. It takes part in a hook by also
// implementing Resolver, Configurer, Loader or Transformer. The pipeline
// walks stages in the order they were given: the first resolver or loader
// to claim a path wins, every configurer runs, and transformers run in
// sequence with their source maps composed onto the loader's input map.
package pipeline

import (
	"context"
	"fmt"

	"github.com/roach88/ngbundle/internal/sourcemap"
)

// Stage is one named unit of the pipeline.
type Stage interface {
	Name() string
}

// ResolveArgs describes an import to resolve.
type ResolveArgs struct {
	Path       string
	Importer   string
	ResolveDir string
	Kind       string
}

// ResolveResult is a resolver's answer.
type ResolveResult struct {
	Path     string
	External bool
}

// Resolver claims imports. ok=false passes the import to the next
// resolver and finally to the backend's own resolution.
type Resolver interface {
	Stage
	Resolve(ctx context.Context, args ResolveArgs) (res ResolveResult, ok bool, err error)
}

// Settings are the backend options stages may adjust.
type Settings struct {
	MainFields        []string
	ResolveExtensions []string
	// Loaders maps a file extension to a loader name ("js", "json").
	Loaders map[string]string
}

// Configurer adjusts backend settings before the build starts.
type Configurer interface {
	Stage
	Configure(s *Settings)
}

// Source is a module's text as read, before transforms.
type Source struct {
	Path   string
	Code   string
	Loader string
	// Map relates Code to the original sources. Nil means Code is itself
	// the original.
	Map *sourcemap.Map
	// Digest identifies Code plus its input map.
	Digest string
}

// Loader reads modules. ok=false leaves the path to the backend.
type Loader interface {
	Stage
	Load(ctx context.Context, path string) (src *Source, ok bool, err error)
}

// Output is a transformer's result. A nil Map means the code is unchanged.
type Output struct {
	Code string
	Map  *sourcemap.Map
}

// Transformer rewrites JavaScript module text.
type Transformer interface {
	Stage
	Transform(path, code string) (Output, error)
}

// Module is a loaded and transformed module ready for the backend.
type Module struct {
	Path     string
	Contents string
	Loader   string
	Digest   string
}

// Pipeline is an ordered list of stages.
type Pipeline struct {
	stages []Stage
}

// New returns a pipeline running stages in the given order.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Names returns the stage names in order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Settings runs every Configurer over a fresh Settings value.
func (p *Pipeline) Settings() Settings {
	s := Settings{Loaders: map[string]string{".js": "js", ".mjs": "js"}}
	for _, st := range p.stages {
		if c, ok := st.(Configurer); ok {
			c.Configure(&s)
		}
	}
	return s
}

// Resolve asks each Resolver in turn.
func (p *Pipeline) Resolve(ctx context.Context, args ResolveArgs) (ResolveResult, bool, error) {
	for _, st := range p.stages {
		r, ok := st.(Resolver)
		if !ok {
			continue
		}
		res, handled, err := r.Resolve(ctx, args)
		if err != nil {
			return ResolveResult{}, false, fmt.Errorf("%s: %w", st.Name(), err)
		}
		if handled {
			return res, true, nil
		}
	}
	return ResolveResult{}, false, nil
}

// Load asks each Loader in turn.
func (p *Pipeline) Load(ctx context.Context, path string) (*Source, bool, error) {
	for _, st := range p.stages {
		l, ok := st.(Loader)
		if !ok {
			continue
		}
		src, handled, err := l.Load(ctx, path)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", st.Name(), err)
		}
		if handled {
			return src, true, nil
		}
	}
	return nil, false, nil
}

// Transform runs every Transformer over a JavaScript source and returns
// the module with its composed map inlined. Non-JavaScript sources pass
// through unchanged.
func (p *Pipeline) Transform(src *Source) (*Module, error) {
	mod := &Module{Path: src.Path, Loader: src.Loader, Digest: src.Digest}
	code, m := src.Code, src.Map
	if src.Loader == "js" {
		for _, st := range p.stages {
			t, ok := st.(Transformer)
			if !ok {
				continue
			}
			out, err := t.Transform(src.Path, code)
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", st.Name(), src.Path, err)
			}
			if out.Map == nil {
				continue
			}
			if m == nil {
				m = out.Map
			} else if m, err = sourcemap.Compose(out.Map, m); err != nil {
				return nil, fmt.Errorf("%s: %s: %w", st.Name(), src.Path, err)
			}
			code = out.Code
		}
	}
	if m == nil || src.Loader != "js" {
		mod.Contents = code
		return mod, nil
	}
	contents, err := sourcemap.AppendInline(code, m)
	if err != nil {
		return nil, fmt.Errorf("inline source map: %s: %w", src.Path, err)
	}
	mod.Contents = contents
	return mod, nil
}
