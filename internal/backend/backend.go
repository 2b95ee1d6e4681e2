// Package backend drives the bundler that does module resolution, parsing
// and code generation.
//
// Two variants exist. The native backend links esbuild into the process.
// The VM backend runs the same esbuild release on the Deno JavaScript VM
// and serves its plugin hooks from Go over a line-delimited JSON protocol.
// Both produce the same output for the same Options.
package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/ngbundle/internal/pipeline"
)

// EsbuildVersion is the esbuild release both variants run. It must match
// the github.com/evanw/esbuild requirement in go.mod.
const EsbuildVersion = "0.27.2"

// Kind identifies a backend variant.
type Kind string

const (
	KindNative Kind = "native"
	KindVM     Kind = "vm"
)

// Backend builds bundles.
type Backend interface {
	Kind() Kind
	Version() string
	// Build runs one build. On failure the backend has already released
	// its resources and the error is a *Failure when the bundler itself
	// reported errors.
	Build(ctx context.Context, opts Options) (*Bundle, error)
}

// Hooks serve the plugin callbacks of a build. They may be called
// concurrently.
type Hooks interface {
	Resolve(ctx context.Context, args pipeline.ResolveArgs) (pipeline.ResolveResult, bool, error)
	Load(ctx context.Context, path string) (*pipeline.Module, bool, error)
}

// Options describe one build. Every variant applies the same fixed
// policies: ES module output with code splitting, linked source maps, an
// empty banner, no tree shaking and preserved symlinks.
type Options struct {
	EntryPath string
	// EntryName names the entry chunk and prefixes split chunks.
	EntryName  string
	OutputDir  string
	WorkingDir string
	Settings   pipeline.Settings
	Hooks      Hooks
}

// LoadFilter selects the files whose loading goes through Hooks.Load.
const LoadFilter = `\.(js|mjs|cjs|json)$`

func (o Options) chunkNames() string {
	return o.EntryName + "-[name]-[hash]"
}

func (o Options) validate() error {
	var missing []string
	if o.EntryPath == "" {
		missing = append(missing, "entry path")
	}
	if o.EntryName == "" {
		missing = append(missing, "entry name")
	}
	if o.OutputDir == "" {
		missing = append(missing, "output dir")
	}
	if o.Hooks == nil {
		missing = append(missing, "hooks")
	}
	if len(missing) > 0 {
		return fmt.Errorf("build options: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Message is a bundler diagnostic.
type Message struct {
	// ID is the bundler's own diagnostic identifier, if any.
	ID     string
	Plugin string
	Text   string
	File   string
	// Line is one-based; zero means no location.
	Line   int
	Column int
}

// String renders the message on a single line.
func (m Message) String() string {
	var sb strings.Builder
	if m.File != "" {
		sb.WriteString(m.File)
		if m.Line > 0 {
			fmt.Fprintf(&sb, ":%d:%d", m.Line, m.Column)
		}
		sb.WriteString(": ")
	}
	sb.WriteString(strings.Join(strings.Fields(m.Text), " "))
	if m.ID != "" {
		fmt.Fprintf(&sb, " [%s]", m.ID)
	}
	return sb.String()
}

// OutputFile is one emitted file with an absolute path.
type OutputFile struct {
	Path     string
	Contents []byte
}

// Bundle is a successful build. Close releases the backend resources
// behind it; it is safe to call more than once.
type Bundle struct {
	Files    []OutputFile
	Metafile string
	Warnings []Message

	once    sync.Once
	release func() error
	err     error
}

// NewBundle returns a bundle whose Close calls release.
func NewBundle(files []OutputFile, metafile string, warnings []Message, release func() error) *Bundle {
	return &Bundle{Files: files, Metafile: metafile, Warnings: warnings, release: release}
}

// Close releases backend resources.
func (b *Bundle) Close() error {
	b.once.Do(func() {
		if b.release != nil {
			b.err = b.release()
		}
	})
	return b.err
}

// Failure is a build the bundler rejected.
type Failure struct {
	Errors   []Message
	Warnings []Message
}

func (f *Failure) Error() string {
	if len(f.Errors) == 0 {
		return "build failed"
	}
	lines := make([]string, len(f.Errors))
	for i, m := range f.Errors {
		lines[i] = m.String()
	}
	return "build failed: " + strings.Join(lines, "; ")
}
