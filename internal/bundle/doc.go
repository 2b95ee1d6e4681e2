// Package bundle orchestrates one library build.
//
// Orchestrator.Bundle validates a Request, selects a backend, assembles
// the plugin pipeline (resolve, commonjs, json, declaration-version,
// sourcemaps), runs the build, writes the chunks and their maps, and
// persists the resulting Graph under the request's cache key.
//
// Builds are incremental: a module whose source and input map are
// unchanged since the starting graph reuses its transformed contents.
// Diagnostics are filtered: circular dependencies, unused external imports
// and top-level this rewrites are dropped, everything else goes to the
// WarningSink as one line.
package bundle
