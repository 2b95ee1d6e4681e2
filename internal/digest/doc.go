// Package digest provides canonical JSON encoding and content digests.
//
// Cache keys and module digests must be stable across processes and hosts, so
// every digest is computed over RFC 8785 canonical JSON (sorted keys, NFC
// strings, no floats) with a versioned domain prefix.
//
// This package imports nothing internal.
package digest
