package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/ngbundle/internal/backend"
)

// ArtifactKind distinguishes chunks from assets.
type ArtifactKind string

const (
	KindChunk ArtifactKind = "chunk"
	KindAsset ArtifactKind = "asset"
)

// Artifact is one output of a build. Chunks carry code and a source map;
// assets carry opaque bytes in Code.
type Artifact struct {
	Kind ArtifactKind
	// FileName is relative to the output directory.
	FileName string
	// Path is the absolute output path.
	Path    string
	Code    []byte
	Map     []byte
	IsEntry bool
	// Exports lists the names the chunk exports.
	Exports []string
}

// MapFileName is the file name of a chunk's source map.
func (a Artifact) MapFileName() string {
	if a.Kind != KindChunk {
		return ""
	}
	return a.FileName + ".map"
}

const chunkExt = ".mjs"

// collectArtifacts pairs chunks with their maps. Files that are neither
// become assets. The entry chunk comes first; the rest sort by name.
func collectArtifacts(files []backend.OutputFile, outDir, entryName string, exports map[string][]string) ([]Artifact, error) {
	byPath := make(map[string][]byte, len(files))
	for _, f := range files {
		byPath[f.Path] = f.Contents
	}

	var out []Artifact
	used := make(map[string]bool)
	for _, f := range files {
		if !strings.HasSuffix(f.Path, chunkExt) {
			continue
		}
		m, ok := byPath[f.Path+".map"]
		if !ok {
			return nil, fmt.Errorf("chunk %s has no source map", f.Path)
		}
		used[f.Path], used[f.Path+".map"] = true, true
		name, err := relName(outDir, f.Path)
		if err != nil {
			return nil, err
		}
		out = append(out, Artifact{
			Kind:     KindChunk,
			FileName: name,
			Path:     f.Path,
			Code:     f.Contents,
			Map:      m,
			IsEntry:  name == entryName+chunkExt,
			Exports:  exports[f.Path],
		})
	}
	for _, f := range files {
		if used[f.Path] {
			continue
		}
		name, err := relName(outDir, f.Path)
		if err != nil {
			return nil, err
		}
		out = append(out, Artifact{Kind: KindAsset, FileName: name, Path: f.Path, Code: f.Contents})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsEntry != out[j].IsEntry {
			return out[i].IsEntry
		}
		return out[i].FileName < out[j].FileName
	})
	if len(out) == 0 || !out[0].IsEntry {
		return nil, fmt.Errorf("no entry chunk %s%s among outputs", entryName, chunkExt)
	}
	return out, nil
}

func relName(outDir, p string) (string, error) {
	rel, err := filepath.Rel(outDir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("output %s escapes %s", p, outDir)
	}
	return filepath.ToSlash(rel), nil
}

// writeArtifacts writes every artifact, and every chunk's map, to disk.
func writeArtifacts(artifacts []Artifact) error {
	for _, a := range artifacts {
		if err := writeFile(a.Path, a.Code); err != nil {
			return err
		}
		if a.Kind == KindChunk {
			if err := writeFile(a.Path+".map", a.Map); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeFile(p string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return &WriteError{Code: ErrCodeWriteFailed, Path: p, Err: err}
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return &WriteError{Code: ErrCodeWriteFailed, Path: p, Err: err}
	}
	return nil
}
