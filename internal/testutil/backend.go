package testutil

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/roach88/ngbundle/internal/backend"
	"github.com/roach88/ngbundle/internal/pipeline"
)

// FakeBackend is a scriptable backend.Backend.
//
// Build resolves each of Imports and loads each of Modules through the
// hooks, in order, then emits an entry chunk holding the loaded contents
// joined by newlines, plus its map. Outputs, when set, replaces that
// default with files named relative to the output directory.
type FakeBackend struct {
	KindValue    backend.Kind
	VersionValue string

	Imports  []string
	Modules  []string
	Outputs  map[string]string
	Warnings []backend.Message
	Metafile string
	// Err fails every build after the hooks ran.
	Err error
	// CloseErr is returned by Bundle.Close.
	CloseErr error

	mu       sync.Mutex
	builds   int
	closes   int
	last     backend.Options
	resolved map[string]pipeline.ResolveResult
}

// NewFakeBackend returns a native-kind fake at version "fake".
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{KindValue: backend.KindNative, VersionValue: "fake"}
}

func (f *FakeBackend) Kind() backend.Kind { return f.KindValue }

func (f *FakeBackend) Version() string { return f.VersionValue }

// Build implements backend.Backend.
func (f *FakeBackend) Build(ctx context.Context, opts backend.Options) (*backend.Bundle, error) {
	f.mu.Lock()
	f.builds++
	f.last = opts
	f.resolved = make(map[string]pipeline.ResolveResult)
	f.mu.Unlock()

	var msgs []backend.Message
	for _, id := range f.Imports {
		res, ok, err := opts.Hooks.Resolve(ctx, pipeline.ResolveArgs{Path: id, Kind: "import-statement"})
		if err != nil {
			msgs = append(msgs, backend.Message{Plugin: "ngbundle", Text: err.Error()})
			continue
		}
		if ok {
			f.mu.Lock()
			f.resolved[id] = res
			f.mu.Unlock()
		}
	}

	var contents []string
	for _, p := range f.Modules {
		mod, ok, err := opts.Hooks.Load(ctx, p)
		if err != nil {
			msgs = append(msgs, backend.Message{Plugin: "ngbundle", Text: err.Error(), File: p})
			continue
		}
		if !ok {
			msgs = append(msgs, backend.Message{Text: "Could not resolve " + p})
			continue
		}
		contents = append(contents, mod.Contents)
	}
	if len(msgs) > 0 {
		return nil, &backend.Failure{Errors: msgs, Warnings: f.Warnings}
	}
	if f.Err != nil {
		return nil, f.Err
	}

	outputs := f.Outputs
	if outputs == nil {
		entry := opts.EntryName + ".mjs"
		outputs = map[string]string{
			entry:          strings.Join(contents, "\n"),
			entry + ".map": `{"version":3,"sources":[],"names":[],"mappings":""}`,
		}
	}
	files := make([]backend.OutputFile, 0, len(outputs))
	for name, text := range outputs {
		files = append(files, backend.OutputFile{Path: filepath.Join(opts.OutputDir, filepath.FromSlash(name)), Contents: []byte(text)})
	}
	return backend.NewBundle(files, f.Metafile, f.Warnings, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.closes++
		return f.CloseErr
	}), nil
}

// Builds returns how many builds ran.
func (f *FakeBackend) Builds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds
}

// Closes returns how many bundles were released.
func (f *FakeBackend) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// LastOptions returns the options of the most recent build.
func (f *FakeBackend) LastOptions() backend.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Resolved returns what the hooks answered for id in the last build.
func (f *FakeBackend) Resolved(id string) (pipeline.ResolveResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.resolved[id]
	return r, ok
}

// UnavailableSelector returns a selector whose every probe fails.
func UnavailableSelector() *backend.Selector {
	fail := func(kind backend.Kind) backend.Probe {
		return backend.Probe{Kind: kind, Load: func(context.Context) (backend.Backend, error) {
			return nil, fmt.Errorf("%s backend disabled in test", kind)
		}}
	}
	return backend.NewSelector(fail(backend.KindNative), fail(backend.KindVM))
}

// ErrInjected is a generic failure for fakes.
var ErrInjected = errors.New("injected failure")
