// Package cache persists serialized build graphs between runs.
//
// A cache lives in a caller-chosen directory and maps caller-chosen keys
// to opaque bytes. An absent key is not an error: Load reports ok=false.
// Saves overwrite.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Bridge loads and saves serialized graphs.
type Bridge interface {
	Load(ctx context.Context, dir, key string) (data []byte, ok bool, err error)
	Save(ctx context.Context, dir, key string, data []byte) error
}

// Entry describes one stored graph.
type Entry struct {
	Key  string
	Size int64
	// Seq orders writes within one cache directory; newer is larger.
	Seq     int64
	ModTime time.Time
}

// Maintainer inspects and empties a cache directory.
type Maintainer interface {
	List(ctx context.Context, dir string) ([]Entry, error)
	Clear(ctx context.Context, dir string) (removed int, err error)
}

// Store is a Bridge that can also be maintained.
type Store interface {
	Bridge
	Maintainer
	Close() error
}

// Store kinds accepted by New.
const (
	KindFile   = "file"
	KindSQLite = "sqlite"
)

// New returns the store of the given kind. An empty kind means file.
func New(kind string) (Store, error) {
	switch kind {
	case "", KindFile:
		return NewFileBridge(), nil
	case KindSQLite:
		return NewSQLiteBridge(), nil
	default:
		return nil, fmt.Errorf("unknown cache store %q (want %s or %s)", kind, KindFile, KindSQLite)
	}
}

// maxNameLen bounds file names derived from keys.
const maxNameLen = 100

// fileName maps a key to a portable file name stem. Safe keys map to
// themselves; anything else is cleaned and suffixed with a digest of the
// original key so distinct keys never collide.
func fileName(key string) string {
	var sb strings.Builder
	changed := false
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
			changed = true
		}
	}
	name := sb.String()
	if !changed && len(name) <= maxNameLen && strings.Trim(name, ".") != "" {
		return name
	}
	sum := sha256.Sum256([]byte(key))
	if len(name) > maxNameLen-17 {
		name = name[:maxNameLen-17]
	}
	return name + "-" + hex.EncodeToString(sum[:8])
}
