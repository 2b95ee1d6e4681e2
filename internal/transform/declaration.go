// Package transform holds source rewrites applied to modules before they
// enter the bundle graph.
package transform

import (
	"regexp"

	"github.com/roach88/ngbundle/internal/pipeline"
	"github.com/roach88/ngbundle/internal/sourcemap"
)

const (
	// FromVersion is the minVersion the compiler emits.
	FromVersion = `"14.0.0"`
	// ToVersion is the minVersion the packaged output declares.
	ToVersion = `"12.0.0"`
)

// declarationCall matches the start of a partial declaration call and
// captures its minVersion literal.
var declarationCall = regexp.MustCompile(
	`ɵɵngDeclare(?:Component|Directive|NgModule)\(\s*\{\s*minVersion\s*:\s*("14\.0\.0")\s*,`)

// DeclarationVersion lowers the minVersion of partial component, directive
// and NgModule declarations from 14.0.0 to 12.0.0.
type DeclarationVersion struct{}

var _ pipeline.Transformer = DeclarationVersion{}

func (DeclarationVersion) Name() string { return "declaration-version" }

// Transform implements pipeline.Transformer. Modules without a declaration
// are returned unchanged with a nil map.
func (DeclarationVersion) Transform(path, code string) (pipeline.Output, error) {
	edits := Edits(code)
	if len(edits) == 0 {
		return pipeline.Output{Code: code}, nil
	}
	out, m, err := Apply(path, code, edits)
	if err != nil {
		return pipeline.Output{}, err
	}
	return pipeline.Output{Code: out, Map: m}, nil
}

// Edits returns one edit per declaration call, replacing only the version
// literal.
func Edits(code string) []Edit {
	matches := declarationCall.FindAllStringSubmatchIndex(code, -1)
	if len(matches) == 0 {
		return nil
	}
	edits := make([]Edit, len(matches))
	for i, m := range matches {
		edits[i] = Edit{Start: m[2], End: m[3], Text: ToVersion}
	}
	return edits
}

// Rewrite applies DeclarationVersion to code and always returns a map,
// the identity map when nothing matched.
func Rewrite(path, code string) (string, *sourcemap.Map) {
	out, m, err := Apply(path, code, Edits(code))
	if err != nil {
		// Edits are produced sorted and in range.
		panic(err)
	}
	return out, m
}
