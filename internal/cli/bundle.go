package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ngbundle/internal/bundle"
	"github.com/roach88/ngbundle/internal/cache"
	"github.com/roach88/ngbundle/internal/config"
	"github.com/roach88/ngbundle/internal/externals"
	"github.com/roach88/ngbundle/internal/filecache"
	"github.com/roach88/ngbundle/internal/logging"
)

// BundleOptions holds flags for the bundle command. Set flags override
// the config file.
type BundleOptions struct {
	*RootOptions
	ModuleName         string
	Name               string
	OutDir             string
	SourceRoot         string
	CacheDir           string
	Store              string
	NoCache            bool
	FailOnPersistError bool
}

// compiledExts are the file cache contents: compiled modules, their maps
// and JSON modules.
var compiledExts = []string{".js", ".mjs", ".cjs", ".map", ".json"}

// BundleSummary is the bundle command's result.
type BundleSummary struct {
	BuildID  string        `json:"build_id"`
	Module   string        `json:"module"`
	Backend  string        `json:"backend"`
	OutDir   string        `json:"out_dir"`
	CacheKey string        `json:"cache_key,omitempty"`
	Files    []FileSummary `json:"files"`
	Stats    bundle.Stats  `json:"stats"`
}

// FileSummary describes one written artifact.
type FileSummary struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Bytes   int      `json:"bytes"`
	Entry   bool     `json:"entry,omitempty"`
	Exports []string `json:"exports,omitempty"`
}

// NewBundleCommand creates the bundle command.
func NewBundleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BundleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bundle [entry]",
		Short: "Bundle a compiled library entry point",
		Long: `Bundle the compiled entry module of a library into ES module chunks.

Relative imports are inlined; bare imports of other packages stay external
unless they match a configured first-party scope or adapter package. The
build graph is cached per entry and compiler options, so a rebuild only
transforms modules that changed.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			entry := ""
			if len(args) == 1 {
				entry = args[0]
			}
			return runBundle(opts, entry, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ModuleName, "module-name", "", "module name of the library")
	cmd.Flags().StringVarP(&opts.Name, "name", "n", "", "base name of the entry artifact (default: entry file name)")
	cmd.Flags().StringVarP(&opts.OutDir, "out-dir", "o", "", "output directory")
	cmd.Flags().StringVar(&opts.SourceRoot, "source-root", "", "directory holding the compiled modules")
	cmd.Flags().StringVar(&opts.CacheDir, "cache-dir", "", "build graph cache directory")
	cmd.Flags().StringVar(&opts.Store, "store", "", "cache store (file|sqlite)")
	cmd.Flags().BoolVar(&opts.NoCache, "no-cache", false, "neither read nor write the build graph cache")
	cmd.Flags().BoolVar(&opts.FailOnPersistError, "fail-on-persist-error", false, "fail when the build graph cannot be saved")

	return cmd
}

func runBundle(opts *BundleOptions, entry string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeInvalidConfig, err.Error(), nil)
	}
	if err := opts.apply(cmd, cfg, entry); err != nil {
		return formatter.fail(ExitCommandError, ErrCodeInvalidConfig, err.Error(), nil)
	}
	if err := cfg.Validate(); err != nil {
		var ve *config.ValidationError
		if errors.As(err, &ve) {
			return formatter.fail(ExitCommandError, ErrCodeInvalidConfig, "invalid configuration", ve.Problems)
		}
		return formatter.fail(ExitCommandError, ErrCodeInvalidConfig, err.Error(), nil)
	}
	if cfg.Path != "" {
		formatter.VerboseLog("Using config %s", cfg.Path)
	}

	level := cfg.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	logger := logging.New(cmd.ErrOrStderr(), level, opts.Format != "json")

	files := filecache.NewMemory()
	n, err := files.LoadDir(cfg.SourceRoot, compiledExts...)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeFileCache, fmt.Sprintf("reading %s: %v", cfg.SourceRoot, err), nil)
	}
	formatter.VerboseLog("Loaded %d compiled file(s) from %s", n, cfg.SourceRoot)

	key, err := bundle.CacheKey(cfg.Entry, cfg.CompilerOptions)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeInvalidConfig, fmt.Sprintf("compiler_options: %v", err), nil)
	}

	store, err := cache.New(cfg.Cache.Store)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeCacheStore, err.Error(), nil)
	}
	defer store.Close()

	orch := bundle.New(
		bundle.WithBridge(store),
		bundle.WithLogger(logger),
		bundle.WithClassifier(externals.Classifier{
			FirstPartyScopes: cfg.Externals.FirstPartyScopes,
			AdapterPackages:  cfg.Externals.AdapterPackages,
		}),
	)
	res, err := orch.Bundle(cmd.Context(), &bundle.Request{
		ModuleName:        cfg.ModuleName,
		EntryPath:         cfg.Entry,
		EntryArtifactName: cfg.ArtifactName(),
		OutputDir:         cfg.OutDir,
		SourceRoot:        cfg.SourceRoot,
		CacheDir:          cfg.Cache.Dir,
		CacheDisabled:     cfg.Cache.Disabled,
		CacheKey:          key,
		FileCache:         files,
	})

	var warnings []string
	if err != nil {
		if res == nil || !bundle.IsCachePersistError(err) {
			return bundleFailure(formatter, err)
		}
		if cfg.Cache.FailOnPersistError {
			return formatter.fail(ExitFailure, bundle.Code(err), err.Error(), nil)
		}
		warnings = append(warnings, err.Error())
	}

	summary := summarize(res, cfg, key)
	if formatter.Format == "json" {
		return formatter.Success(summary, warnings...)
	}
	printSummary(formatter, summary)
	for _, w := range warnings {
		formatter.Warn("%s", w)
	}
	return nil
}

// loadConfig reads the selected or discovered config file. Without one it
// returns an empty config rooted at the working directory.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	path := opts.Config
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		path = config.Find(wd)
		if path == "" {
			cfg := &config.Config{}
			cfg.Resolve(wd)
			return cfg, nil
		}
	}
	return config.Load(path)
}

// apply overrides cfg with the flags that were set. Flag paths are
// relative to the working directory.
func (o *BundleOptions) apply(cmd *cobra.Command, cfg *config.Config, entry string) error {
	abs := func(p string) (string, error) {
		if p == "" {
			return "", nil
		}
		return filepath.Abs(p)
	}
	paths := []struct {
		flag  string
		value string
		dst   *string
	}{
		{"out-dir", o.OutDir, &cfg.OutDir},
		{"source-root", o.SourceRoot, &cfg.SourceRoot},
		{"cache-dir", o.CacheDir, &cfg.Cache.Dir},
	}
	for _, p := range paths {
		if !cmd.Flags().Changed(p.flag) {
			continue
		}
		v, err := abs(p.value)
		if err != nil {
			return fmt.Errorf("--%s: %w", p.flag, err)
		}
		*p.dst = v
	}
	if entry != "" {
		v, err := abs(entry)
		if err != nil {
			return fmt.Errorf("entry: %w", err)
		}
		cfg.Entry = v
	}

	flags := cmd.Flags()
	if flags.Changed("module-name") {
		cfg.ModuleName = o.ModuleName
	}
	if flags.Changed("name") {
		cfg.EntryArtifactName = o.Name
	}
	if flags.Changed("store") {
		cfg.Cache.Store = o.Store
	}
	if flags.Changed("no-cache") {
		cfg.Cache.Disabled = o.NoCache
	}
	if flags.Changed("fail-on-persist-error") {
		cfg.Cache.FailOnPersistError = o.FailOnPersistError
	}
	return nil
}

func bundleFailure(formatter *OutputFormatter, err error) error {
	code := bundle.Code(err)
	if code == "" {
		code = ErrCodeGeneric
	}
	exit := ExitFailure
	if bundle.IsRequestError(err) {
		exit = ExitCommandError
	}

	var details any
	var be *bundle.BuildError
	if errors.As(err, &be) && len(be.Messages) > 0 {
		msgs := make([]string, len(be.Messages))
		for i, m := range be.Messages {
			msgs[i] = m.String()
		}
		details = msgs
	}
	return formatter.fail(exit, code, err.Error(), details)
}

func summarize(res *bundle.Result, cfg *config.Config, key string) BundleSummary {
	s := BundleSummary{
		BuildID: res.BuildID,
		Module:  cfg.ModuleName,
		Backend: string(res.Backend),
		OutDir:  cfg.OutDir,
		Stats:   res.Stats,
	}
	if cfg.CachingEnabled() {
		s.CacheKey = key
	}
	for _, a := range res.Files {
		s.Files = append(s.Files, FileSummary{
			Name:    a.FileName,
			Kind:    string(a.Kind),
			Bytes:   len(a.Code),
			Entry:   a.IsEntry,
			Exports: a.Exports,
		})
	}
	return s
}

func printSummary(formatter *OutputFormatter, s BundleSummary) {
	w := formatter.Writer
	fmt.Fprintf(w, "✓ Bundled %s with the %s backend (%d file(s))\n\n", s.Module, s.Backend, len(s.Files))
	for _, f := range s.Files {
		var notes []string
		if f.Entry {
			notes = append(notes, "entry")
		}
		if f.Kind != string(bundle.KindChunk) {
			notes = append(notes, f.Kind)
		}
		notes = append(notes, fmt.Sprintf("%d bytes", f.Bytes))
		fmt.Fprintf(w, "  %s (%s)\n", f.Name, strings.Join(notes, ", "))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Modules: %d loaded, %d reused, %d transformed\n",
		s.Stats.ModulesLoaded, s.Stats.ModulesReused, s.Stats.ModulesTransformed)
	fmt.Fprintf(w, "Wrote %s\n", s.OutDir)
}
