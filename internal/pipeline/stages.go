package pipeline

import (
	"context"
	"slices"
)

// ExternalPredicate decides whether an import stays unresolved.
type ExternalPredicate interface {
	IsExternal(id string) bool
}

// ExternalResolver marks imports its predicate rejects as external and
// leaves all others to node-style resolution.
type ExternalResolver struct {
	Predicate ExternalPredicate
}

func (ExternalResolver) Name() string { return "resolve" }

func (r ExternalResolver) Resolve(_ context.Context, args ResolveArgs) (ResolveResult, bool, error) {
	if args.Kind == "entry-point" || r.Predicate == nil || !r.Predicate.IsExternal(args.Path) {
		return ResolveResult{}, false, nil
	}
	return ResolveResult{Path: args.Path, External: true}, true, nil
}

// CommonJS lets CommonJS packages take part in the bundle.
type CommonJS struct{}

func (CommonJS) Name() string { return "commonjs" }

func (CommonJS) Configure(s *Settings) {
	s.MainFields = appendMissing(s.MainFields, "module", "main")
	s.ResolveExtensions = appendMissing(s.ResolveExtensions, ".mjs", ".js", ".cjs")
	s.Loaders[".cjs"] = "js"
}

// JSON enables importing .json files as modules.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Configure(s *Settings) {
	s.ResolveExtensions = appendMissing(s.ResolveExtensions, ".json")
	s.Loaders[".json"] = "json"
}

func appendMissing(list []string, items ...string) []string {
	for _, it := range items {
		if !slices.Contains(list, it) {
			list = append(list, it)
		}
	}
	return list
}
