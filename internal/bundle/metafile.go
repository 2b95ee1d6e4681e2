package bundle

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Metafile is the bundler's build metadata. Paths are relative to the
// build's working directory.
type Metafile struct {
	Inputs  map[string]MetafileInput  `json:"inputs"`
	Outputs map[string]MetafileOutput `json:"outputs"`
}

// MetafileInput is one module that took part in the build.
type MetafileInput struct {
	Bytes   int              `json:"bytes"`
	Imports []MetafileImport `json:"imports"`
	Format  string           `json:"format,omitempty"`
}

// MetafileImport is one import edge.
type MetafileImport struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external,omitempty"`
	Original string `json:"original,omitempty"`
}

// MetafileOutput is one emitted file.
type MetafileOutput struct {
	Bytes      int              `json:"bytes"`
	Imports    []MetafileImport `json:"imports"`
	Exports    []string         `json:"exports"`
	EntryPoint string           `json:"entryPoint,omitempty"`
}

func parseMetafile(data string) (*Metafile, error) {
	var m Metafile
	if data == "" {
		return &m, nil
	}
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("parse metafile: %w", err)
	}
	return &m, nil
}

// exports returns the export names of every output, keyed by absolute
// path.
func (m *Metafile) exports(workingDir string) map[string][]string {
	out := make(map[string][]string, len(m.Outputs))
	for p, o := range m.Outputs {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(workingDir, filepath.FromSlash(p))
		}
		out[abs] = o.Exports
	}
	return out
}

// analyze derives the diagnostics the bundler does not raise itself:
// static import cycles and external imports no output references.
func (m *Metafile) analyze() []Diagnostic {
	var diags []Diagnostic
	for _, cycle := range m.cycles() {
		diags = append(diags, Diagnostic{
			Code:    CodeCircularDependency,
			Message: "Circular dependency: " + strings.Join(cycle, " -> "),
		})
	}
	for _, u := range m.unusedExternals() {
		diags = append(diags, Diagnostic{
			Code:    CodeUnusedExternalImport,
			Message: fmt.Sprintf("%q is imported by %s but never used", u.path, u.importer),
		})
	}
	return diags
}

// importGraph maps an input to the inputs it statically imports.
type importGraph map[string][]string

func (m *Metafile) graph() importGraph {
	g := make(importGraph, len(m.Inputs))
	for p, in := range m.Inputs {
		g[p] = []string{}
		for _, imp := range in.Imports {
			if imp.External || imp.Kind == "dynamic-import" {
				continue
			}
			if _, ok := m.Inputs[imp.Path]; ok {
				g[p] = append(g[p], imp.Path)
			}
		}
		sort.Strings(g[p])
	}
	return g
}

// cycles returns each strongly connected component that forms a cycle,
// rotated to start at its smallest path and closed back on itself.
func (m *Metafile) cycles() [][]string {
	g := m.graph()
	var out [][]string
	for _, scc := range tarjanSCC(g) {
		if len(scc) == 1 && !hasSelfLoop(scc[0], g) {
			continue
		}
		sort.Strings(scc)
		out = append(out, append(scc, scc[0]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func hasSelfLoop(node string, g importGraph) bool {
	for _, n := range g[node] {
		if n == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so the result is deterministic.
func tarjanSCC(g importGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(v string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g[v] {
			if _, seen := indices[w]; !seen {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(g))
	for n := range g {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	for _, n := range nodes {
		if _, seen := indices[n]; !seen {
			strongConnect(n)
		}
	}
	return sccs
}

type unusedImport struct {
	path, importer string
}

// unusedExternals lists external imports of inputs that no output
// imports.
func (m *Metafile) unusedExternals() []unusedImport {
	used := make(map[string]bool)
	for _, o := range m.Outputs {
		for _, imp := range o.Imports {
			if imp.External {
				used[imp.Path] = true
			}
		}
	}
	var out []unusedImport
	for p, in := range m.Inputs {
		for _, imp := range in.Imports {
			if imp.External && !used[imp.Path] {
				out = append(out, unusedImport{path: imp.Path, importer: p})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].importer != out[j].importer {
			return out[i].importer < out[j].importer
		}
		return out[i].path < out[j].path
	})
	return out
}
