package bundle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/roach88/ngbundle/internal/backend"
	"github.com/roach88/ngbundle/internal/cache"
	"github.com/roach88/ngbundle/internal/externals"
	"github.com/roach88/ngbundle/internal/logging"
	"github.com/roach88/ngbundle/internal/pipeline"
	"github.com/roach88/ngbundle/internal/transform"
)

// Result is a successful build.
type Result struct {
	// Graph seeds the next build of the same entry.
	Graph *Graph
	// Files lists the artifacts, entry chunk first.
	Files   []Artifact
	Stats   Stats
	BuildID string
	Backend backend.Kind
}

// Entry returns the entry chunk.
func (r *Result) Entry() Artifact {
	return r.Files[0]
}

// Orchestrator drives builds: it picks the backend, assembles the
// pipeline, reuses and persists graphs, writes output and filters
// diagnostics. It is safe for concurrent use by requests with distinct
// cache keys and output directories.
type Orchestrator struct {
	selector   *backend.Selector
	bridge     cache.Bridge
	classifier pipeline.ExternalPredicate
	sink       WarningSink
	logger     zerolog.Logger
	ids        IDGenerator
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSelector sets the backend selector. The default is backend.Default().
func WithSelector(s *backend.Selector) Option {
	return func(o *Orchestrator) { o.selector = s }
}

// WithBridge sets the graph cache. The default is a cache.FileBridge.
func WithBridge(b cache.Bridge) Option {
	return func(o *Orchestrator) { o.bridge = b }
}

// WithClassifier sets the external-module predicate.
func WithClassifier(c pipeline.ExternalPredicate) Option {
	return func(o *Orchestrator) { o.classifier = c }
}

// WithWarningSink sets where unsuppressed diagnostics go. The default
// logs them at warn level.
func WithWarningSink(s WarningSink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithLogger sets the progress logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithIDGenerator sets the build ID source.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *Orchestrator) { o.ids = g }
}

// New returns an Orchestrator.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		classifier: externals.Classifier{},
		logger:     log.Logger,
		ids:        UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.selector == nil {
		o.selector = backend.Default()
	}
	if o.bridge == nil {
		o.bridge = cache.NewFileBridge()
	}
	if o.sink == nil {
		o.sink = logging.WarnSink{Logger: o.logger}
	}
	return o
}

// Bundle builds req.
//
// The returned error is one of *RequestError, *backend.UnavailableError,
// ErrGraphInUse, *SourceMapFileMissingError, *BuildError or *WriteError,
// with a nil Result. A *CachePersistError comes with a valid Result.
func (o *Orchestrator) Bundle(ctx context.Context, req *Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	buildID := o.ids.Generate()
	l := o.logger.With().
		Str("build_id", buildID).
		Str("entry", req.EntryPath).
		Str("module", req.ModuleName).
		Logger()

	be, err := o.selector.Ensure(ctx)
	if err != nil {
		return nil, err
	}
	l = l.With().Str("backend", string(be.Kind())).Logger()

	if g := req.PreviousGraph; g != nil {
		if !g.acquire() {
			return nil, ErrGraphInUse
		}
		defer g.release()
	}
	start := o.startGraph(ctx, req, be, l)

	hooks := &buildHooks{start: start, next: newGraph(be)}
	loader := &sourceLoader{files: req.FileCache, warn: hooks.warn}
	hooks.pipeline = pipeline.New(
		pipeline.ExternalResolver{Predicate: o.classifier},
		pipeline.CommonJS{},
		pipeline.JSON{},
		transform.DeclarationVersion{},
		loader,
	)
	settings := hooks.pipeline.Settings()
	loader.loaders = settings.Loaders

	outDir, err := filepath.Abs(req.OutputDir)
	if err != nil {
		return nil, &RequestError{Code: ErrCodeInvalidRequest, Problems: []string{fmt.Sprintf("output directory: %v", err)}}
	}
	workDir, err := filepath.Abs(req.SourceRoot)
	if err != nil {
		return nil, &RequestError{Code: ErrCodeInvalidRequest, Problems: []string{fmt.Sprintf("source root: %v", err)}}
	}

	l.Debug().Strs("stages", hooks.pipeline.Names()).Bool("reuse", start != nil).Msg("Starting build")
	b, err := be.Build(ctx, backend.Options{
		EntryPath:  req.EntryPath,
		EntryName:  req.EntryArtifactName,
		OutputDir:  outDir,
		WorkingDir: workDir,
		Settings:   settings,
		Hooks:      hooks,
	})
	stats, diags, hookErr := hooks.result()
	if err != nil {
		return nil, o.buildFailure(err, hookErr, diags, l)
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			l.Warn().Err(cerr).Msg("Releasing backend resources failed")
		}
	}()

	meta, err := parseMetafile(b.Metafile)
	if err != nil {
		return nil, &BuildError{Code: ErrCodeBuildFailed, Err: err}
	}
	for _, m := range b.Warnings {
		diags = append(diags, fromMessage(m))
	}
	diags = append(diags, meta.analyze()...)
	stats.Warnings, stats.Suppressed = filter(o.sink, diags)

	artifacts, err := collectArtifacts(b.Files, outDir, req.EntryArtifactName, meta.exports(workDir))
	if err != nil {
		return nil, &BuildError{Code: ErrCodeBuildFailed, Err: err}
	}
	if err := writeArtifacts(artifacts); err != nil {
		return nil, err
	}

	res := &Result{Graph: hooks.next, Files: artifacts, Stats: stats, BuildID: buildID, Backend: be.Kind()}
	l.Info().
		Int("files", len(artifacts)).
		Int("reused", stats.ModulesReused).
		Int("transformed", stats.ModulesTransformed).
		Int("warnings", stats.Warnings).
		Msg("Bundle written")

	if req.CachingEnabled() {
		if err := o.persist(ctx, req, res.Graph); err != nil {
			l.Warn().Err(err).Str("cache_key", req.CacheKey).Msg("Saving build graph failed")
			return res, err
		}
		l.Debug().Str("cache_key", req.CacheKey).Int("modules", res.Graph.Len()).Msg("Build graph saved")
	}
	return res, nil
}

// startGraph picks the graph to reuse: the caller's, else the cached one.
// Anything unusable means a build from scratch.
func (o *Orchestrator) startGraph(ctx context.Context, req *Request, be backend.Backend, l zerolog.Logger) *Graph {
	if g := req.PreviousGraph; g != nil {
		if !g.compatible(be) {
			l.Debug().Str("graph_backend", string(g.Backend)).Str("graph_version", g.BackendVersion).Msg("Previous graph belongs to another backend; building from scratch")
			return nil
		}
		return g
	}
	if !req.CachingEnabled() {
		return nil
	}

	l = l.With().Str("cache_key", req.CacheKey).Logger()
	data, ok, err := o.bridge.Load(ctx, req.CacheDir, req.CacheKey)
	switch {
	case err != nil:
		l.Warn().Err(err).Msg("Reading build graph cache failed; building from scratch")
		return nil
	case !ok:
		l.Debug().Msg("No cached build graph")
		return nil
	}
	g, err := DecodeGraph(data)
	if err != nil {
		l.Debug().Err(err).Msg("Cached build graph unreadable; building from scratch")
		return nil
	}
	if !g.compatible(be) {
		l.Debug().Str("graph_backend", string(g.Backend)).Msg("Cached build graph belongs to another backend; building from scratch")
		return nil
	}
	l.Debug().Int("modules", len(g.Modules)).Msg("Reusing cached build graph")
	return g
}

func (o *Orchestrator) buildFailure(err, hookErr error, diags []Diagnostic, l zerolog.Logger) error {
	if _, ok := hookError(hookErr); ok {
		return hookErr
	}
	var f *backend.Failure
	if errors.As(err, &f) {
		for _, m := range f.Warnings {
			diags = append(diags, fromMessage(m))
		}
		filter(o.sink, diags)
		if hookErr != nil {
			return &BuildError{Code: ErrCodeBuildFailed, Messages: f.Errors, Err: hookErr}
		}
		return &BuildError{Code: ErrCodeBuildFailed, Messages: f.Errors, Err: err}
	}
	l.Debug().Err(err).Msg("Backend build failed")
	return &BuildError{Code: ErrCodeBuildFailed, Err: err}
}

func (o *Orchestrator) persist(ctx context.Context, req *Request, g *Graph) error {
	data, err := g.Encode()
	if err == nil {
		err = o.bridge.Save(ctx, req.CacheDir, req.CacheKey, data)
	}
	if err != nil {
		return &CachePersistError{Code: ErrCodeCachePersistFailed, Key: req.CacheKey, Err: err}
	}
	return nil
}
