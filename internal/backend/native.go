package backend

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/roach88/ngbundle/internal/pipeline"
)

// Native runs esbuild in-process.
type Native struct{}

// NewNative checks that the linked esbuild can transform code.
func NewNative() (*Native, error) {
	res := api.Transform("export const ok = true;", api.TransformOptions{
		Loader:   api.LoaderJS,
		Format:   api.FormatESModule,
		LogLevel: api.LogLevelSilent,
	})
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("esbuild smoke transform: %s", res.Errors[0].Text)
	}
	return &Native{}, nil
}

// NativeProbe loads the native variant unless NGBUNDLE_BACKEND=vm.
func NativeProbe() Probe {
	return Probe{Kind: KindNative, Load: func(context.Context) (Backend, error) {
		if forcedVM() {
			return nil, fmt.Errorf("disabled by %s=%s", EnvBackend, KindVM)
		}
		return NewNative()
	}}
}

func (*Native) Kind() Kind { return KindNative }
func (*Native) Version() string { return EsbuildVersion }

// Build implements Backend.
func (n *Native) Build(ctx context.Context, opts Options) (*Bundle, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	bc, cerr := api.Context(buildOptions(ctx, opts))
	if cerr != nil {
		return nil, &Failure{Errors: convertMessages(cerr.Errors)}
	}

	stop := context.AfterFunc(ctx, bc.Cancel)
	res := bc.Rebuild()
	stop()

	if err := ctx.Err(); err != nil {
		bc.Dispose()
		return nil, err
	}
	if len(res.Errors) > 0 {
		bc.Dispose()
		return nil, &Failure{Errors: convertMessages(res.Errors), Warnings: convertMessages(res.Warnings)}
	}

	files := make([]OutputFile, len(res.OutputFiles))
	for i, f := range res.OutputFiles {
		files[i] = OutputFile{Path: f.Path, Contents: f.Contents}
	}
	return NewBundle(files, res.Metafile, convertMessages(res.Warnings), func() error {
		bc.Dispose()
		return nil
	}), nil
}

func buildOptions(ctx context.Context, opts Options) api.BuildOptions {
	loaders := make(map[string]api.Loader, len(opts.Settings.Loaders))
	for ext, name := range opts.Settings.Loaders {
		loaders[ext] = loaderFor(name)
	}
	return api.BuildOptions{
		AbsWorkingDir: opts.WorkingDir,
		EntryPointsAdvanced: []api.EntryPoint{
			{InputPath: opts.EntryPath, OutputPath: opts.EntryName},
		},
		Bundle:            true,
		Write:             false,
		Outdir:            opts.OutputDir,
		Format:            api.FormatESModule,
		Platform:          api.PlatformNeutral,
		Splitting:         true,
		ChunkNames:        opts.chunkNames(),
		OutExtension:      map[string]string{".js": ".mjs"},
		Sourcemap:         api.SourceMapLinked,
		SourcesContent:    api.SourcesContentInclude,
		Banner:            map[string]string{"js": ""},
		TreeShaking:       api.TreeShakingFalse,
		PreserveSymlinks:  true,
		Metafile:          true,
		Charset:           api.CharsetUTF8,
		LogLevel:          api.LogLevelSilent,
		MainFields:        opts.Settings.MainFields,
		ResolveExtensions: opts.Settings.ResolveExtensions,
		Loader:            loaders,
		Plugins:           []api.Plugin{hookPlugin(ctx, opts.Hooks)},
	}
}

// hookPlugin forwards esbuild's resolve and load callbacks to hooks.
// Returning an empty result lets esbuild continue with its own handling.
func hookPlugin(ctx context.Context, hooks Hooks) api.Plugin {
	return api.Plugin{
		Name: "ngbundle",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `.*`},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					res, ok, err := hooks.Resolve(ctx, pipeline.ResolveArgs{
						Path:       args.Path,
						Importer:   args.Importer,
						ResolveDir: args.ResolveDir,
						Kind:       resolveKind(args.Kind),
					})
					if err != nil || !ok {
						return api.OnResolveResult{}, err
					}
					return api.OnResolveResult{Path: res.Path, External: res.External}, nil
				})

			build.OnLoad(api.OnLoadOptions{Filter: LoadFilter, Namespace: "file"},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					mod, ok, err := hooks.Load(ctx, args.Path)
					if err != nil || !ok {
						return api.OnLoadResult{}, err
					}
					contents := mod.Contents
					return api.OnLoadResult{
						Contents:   &contents,
						Loader:     loaderFor(mod.Loader),
						ResolveDir: filepath.Dir(args.Path),
					}, nil
				})
		},
	}
}

func loaderFor(name string) api.Loader {
	switch name {
	case "json":
		return api.LoaderJSON
	default:
		return api.LoaderJS
	}
}

func resolveKind(k api.ResolveKind) string {
	switch k {
	case api.ResolveEntryPoint:
		return "entry-point"
	case api.ResolveJSImportStatement:
		return "import-statement"
	case api.ResolveJSRequireCall:
		return "require-call"
	case api.ResolveJSDynamicImport:
		return "dynamic-import"
	case api.ResolveJSRequireResolve:
		return "require-resolve"
	default:
		return "other"
	}
}

func convertMessages(msgs []api.Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = Message{ID: m.ID, Plugin: m.PluginName, Text: m.Text}
		if m.Location != nil {
			out[i].File = m.Location.File
			out[i].Line = m.Location.Line
			out[i].Column = m.Location.Column
		}
	}
	return out
}

// IsFailure reports whether err is a bundler-reported build failure.
func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}
