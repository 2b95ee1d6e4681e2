package bundle

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/roach88/ngbundle/internal/backend"
)

// graphFormat versions the serialized graph layout.
const graphFormat = 1

// Graph is the reusable state of a build: every module that entered the
// bundle, keyed by path, with the contents handed to the backend. A later
// build reuses a module's contents when its source digest is unchanged.
//
// A Graph belongs to one build at a time. It is only valid for the backend
// kind and version that produced it.
type Graph struct {
	Format         int                    `json:"format"`
	Backend        backend.Kind           `json:"backend"`
	BackendVersion string                 `json:"backend_version"`
	Modules        map[string]GraphModule `json:"modules"`

	inUse atomic.Bool
	mu    sync.Mutex
}

// GraphModule is one module's cached state.
type GraphModule struct {
	// Digest identifies the source text and input map that produced
	// Contents.
	Digest   string `json:"digest"`
	Contents string `json:"contents"`
	Loader   string `json:"loader"`
}

func newGraph(b backend.Backend) *Graph {
	return &Graph{
		Format:         graphFormat,
		Backend:        b.Kind(),
		BackendVersion: b.Version(),
		Modules:        make(map[string]GraphModule),
	}
}

// DecodeGraph parses a serialized graph.
func DecodeGraph(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	if g.Format != graphFormat {
		return nil, fmt.Errorf("decode graph: unsupported format %d", g.Format)
	}
	if g.Modules == nil {
		g.Modules = make(map[string]GraphModule)
	}
	return &g, nil
}

// Encode serializes the graph. Module keys are sorted, so equal graphs
// encode to equal bytes.
func (g *Graph) Encode() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encode graph: %w", err)
	}
	return data, nil
}

// Len returns the number of modules in the graph.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Modules)
}

// Module returns the cached state for path.
func (g *Graph) Module(path string) (GraphModule, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.Modules[path]
	return m, ok
}

func (g *Graph) put(path string, m GraphModule) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Modules[path] = m
}

// compatible reports whether b can reuse the graph.
func (g *Graph) compatible(b backend.Backend) bool {
	return g.Backend == b.Kind() && g.BackendVersion == b.Version()
}

func (g *Graph) acquire() bool {
	return g.inUse.CompareAndSwap(false, true)
}

func (g *Graph) release() {
	g.inUse.Store(false)
}
