// Package sourcemap reads, writes and composes v3 source maps.
//
// Composition treats every segment of the outer map as the start of a run
// that maps generated columns one-to-one onto the intermediate text until the
// next segment. Text that a transform leaves untouched is therefore traced
// through the inner map at full resolution, not just at segment starts.
package sourcemap
