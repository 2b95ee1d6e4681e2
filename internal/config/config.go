// Package config loads the bundler's project configuration from
// ngbundle.yaml or ngbundle.cue.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// File names searched by Find, in order.
var FileNames = []string{"ngbundle.yaml", "ngbundle.yml", "ngbundle.cue"}

// Cache store kinds.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Config is a project configuration. Paths are absolute after Load.
type Config struct {
	ModuleName        string          `yaml:"module_name" json:"module_name"`
	Entry             string          `yaml:"entry" json:"entry"`
	EntryArtifactName string          `yaml:"entry_artifact_name" json:"entry_artifact_name"`
	OutDir            string          `yaml:"out_dir" json:"out_dir"`
	SourceRoot        string          `yaml:"source_root" json:"source_root"`
	Cache             CacheConfig     `yaml:"cache" json:"cache"`
	Externals         ExternalsConfig `yaml:"externals" json:"externals"`
	// CompilerOptions are hashed into the cache key and otherwise unused.
	CompilerOptions map[string]any `yaml:"compiler_options" json:"compiler_options"`
	LogLevel        string         `yaml:"log_level" json:"log_level"`

	// Path is the file the configuration was read from, if any.
	Path string `yaml:"-" json:"-"`
}

// CacheConfig controls graph persistence.
type CacheConfig struct {
	Dir      string `yaml:"dir" json:"dir"`
	Disabled bool   `yaml:"disabled" json:"disabled"`
	// Store is "file" (default) or "sqlite".
	Store string `yaml:"store" json:"store"`
	// FailOnPersistError turns a failed graph save into a failed build.
	FailOnPersistError bool `yaml:"fail_on_persist_error" json:"fail_on_persist_error"`
}

// ExternalsConfig lists the import markers that are bundled rather than
// left external.
type ExternalsConfig struct {
	FirstPartyScopes []string `yaml:"first_party_scopes" json:"first_party_scopes"`
	AdapterPackages  []string `yaml:"adapter_packages" json:"adapter_packages"`
}

// ValidationError reports every problem with a configuration.
type ValidationError struct {
	Path     string
	Problems []string
}

func (e *ValidationError) Error() string {
	where := "config"
	if e.Path != "" {
		where = e.Path
	}
	return fmt.Sprintf("%s: %s", where, strings.Join(e.Problems, "; "))
}

// IsValidationError returns true if err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Find returns the first configuration file in dir, or "" when there is
// none.
func Find(dir string) string {
	for _, name := range FileNames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// Load reads the configuration at path, choosing the decoder by extension,
// and resolves relative paths against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg *Config
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		cfg, err = parseYAML(data)
	case ".cue":
		cfg, err = parseCUE(path, data)
	default:
		return nil, fmt.Errorf("read config: unsupported extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg.Path = abs
	cfg.Resolve(filepath.Dir(abs))
	return cfg, nil
}

func parseYAML(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return &cfg, nil
}

func parseCUE(path string, data []byte) (*Config, error) {
	v := cuecontext.New().CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile cue: %w", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate cue: %w", err)
	}
	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode cue: %w", err)
	}
	return &cfg, nil
}

// Resolve makes relative paths absolute against dir and fills defaults:
// the source root is dir and the store is "file".
func (c *Config) Resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	if c.SourceRoot == "" {
		c.SourceRoot = dir
	}
	c.SourceRoot = abs(c.SourceRoot)
	c.Entry = abs(c.Entry)
	c.OutDir = abs(c.OutDir)
	c.Cache.Dir = abs(c.Cache.Dir)
	if c.Cache.Store == "" {
		c.Cache.Store = StoreFile
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.ModuleName) == "" {
		problems = append(problems, "module_name is required")
	}
	if c.Entry == "" {
		problems = append(problems, "entry is required")
	}
	if c.OutDir == "" {
		problems = append(problems, "out_dir is required")
	}
	switch c.Cache.Store {
	case StoreFile, StoreSQLite:
	default:
		problems = append(problems, fmt.Sprintf("cache.store must be %q or %q, got %q", StoreFile, StoreSQLite, c.Cache.Store))
	}
	for i, s := range c.Externals.FirstPartyScopes {
		if strings.TrimSpace(s) == "" {
			problems = append(problems, fmt.Sprintf("externals.first_party_scopes[%d] is empty", i))
		}
	}
	for i, s := range c.Externals.AdapterPackages {
		if strings.TrimSpace(s) == "" {
			problems = append(problems, fmt.Sprintf("externals.adapter_packages[%d] is empty", i))
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		problems = append(problems, fmt.Sprintf("log_level %q is not a level", c.LogLevel))
	}

	if len(problems) > 0 {
		return &ValidationError{Path: c.Path, Problems: problems}
	}
	return nil
}

// ArtifactName returns the configured entry artifact name, or the entry's
// base name without extension.
func (c *Config) ArtifactName() string {
	if c.EntryArtifactName != "" || c.Entry == "" {
		return c.EntryArtifactName
	}
	base := filepath.Base(c.Entry)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// CachingEnabled reports whether the graph cache is in use.
func (c *Config) CachingEnabled() bool {
	return c.Cache.Dir != "" && !c.Cache.Disabled
}
