package cli

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ngbundle/internal/cache"
)

// CacheOptions holds flags for the cache commands.
type CacheOptions struct {
	*RootOptions
	Dir   string
	Store string
}

// CacheEntry is one listed cache entry.
type CacheEntry struct {
	Key      string    `json:"key"`
	Size     int64     `json:"size"`
	Seq      int64     `json:"seq"`
	Modified time.Time `json:"modified"`
}

// CacheListResult is the cache list command's result.
type CacheListResult struct {
	Dir     string       `json:"dir"`
	Store   string       `json:"store"`
	Entries []CacheEntry `json:"entries"`
}

// CacheClearResult is the cache clear command's result.
type CacheClearResult struct {
	Dir     string `json:"dir"`
	Store   string `json:"store"`
	Removed int    `json:"removed"`
}

// NewCacheCommand creates the cache command and its subcommands.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CacheOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the build graph cache",
		Long: `Inspect or clear the build graph cache.

The directory and store default to cache.dir and cache.store from the
config file.`,
	}
	cmd.PersistentFlags().StringVar(&opts.Dir, "dir", "", "cache directory")
	cmd.PersistentFlags().StringVar(&opts.Store, "store", "", "cache store (file|sqlite)")

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List cached build graphs, oldest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheList(opts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "clear",
		Short:         "Remove every cached build graph",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheClear(opts, cmd)
		},
	})

	return cmd
}

// target resolves the cache directory and store from flags, falling back
// to the config file.
func (o *CacheOptions) target() (dir, store string, err error) {
	dir, store = o.Dir, o.Store
	if dir == "" || store == "" {
		cfg, err := loadConfig(o.RootOptions)
		if err != nil {
			return "", "", err
		}
		if dir == "" {
			dir = cfg.Cache.Dir
		}
		if store == "" {
			store = cfg.Cache.Store
		}
	}
	if dir == "" {
		return "", "", fmt.Errorf("no cache directory: pass --dir or set cache.dir")
	}
	if dir, err = filepath.Abs(dir); err != nil {
		return "", "", err
	}
	if store == "" {
		store = cache.KindFile
	}
	return dir, store, nil
}

func (o *CacheOptions) open(formatter *OutputFormatter) (cache.Store, string, string, error) {
	dir, kind, err := o.target()
	if err != nil {
		return nil, "", "", formatter.fail(ExitCommandError, ErrCodeInvalidConfig, err.Error(), nil)
	}
	store, err := cache.New(kind)
	if err != nil {
		return nil, "", "", formatter.fail(ExitCommandError, ErrCodeCacheStore, err.Error(), nil)
	}
	return store, dir, kind, nil
}

func runCacheList(opts *CacheOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	store, dir, kind, err := opts.open(formatter)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(cmd.Context(), dir)
	if err != nil {
		return formatter.fail(ExitFailure, ErrCodeCacheStore, err.Error(), nil)
	}

	result := CacheListResult{Dir: dir, Store: kind, Entries: make([]CacheEntry, len(entries))}
	for i, e := range entries {
		result.Entries[i] = CacheEntry{Key: e.Key, Size: e.Size, Seq: e.Seq, Modified: e.ModTime}
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	if len(entries) == 0 {
		fmt.Fprintf(formatter.Writer, "No cached build graphs in %s\n", dir)
		return nil
	}
	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSIZE\tSEQ\tMODIFIED")
	for _, e := range result.Entries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", e.Key, e.Size, e.Seq, e.Modified.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runCacheClear(opts *CacheOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	store, dir, kind, err := opts.open(formatter)
	if err != nil {
		return err
	}
	defer store.Close()

	removed, err := store.Clear(cmd.Context(), dir)
	if err != nil {
		return formatter.fail(ExitFailure, ErrCodeCacheStore, err.Error(), nil)
	}

	result := CacheClearResult{Dir: dir, Store: kind, Removed: removed}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Removed %d cached build graph(s) from %s\n", removed, dir)
	return nil
}
