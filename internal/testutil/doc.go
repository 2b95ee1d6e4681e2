// Package testutil provides test doubles for the bundler: a scriptable
// backend, a recording warning sink and an in-memory cache bridge.
package testutil
