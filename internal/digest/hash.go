package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainCacheKey = "ngbundle/cache-key/v1"
	DomainModule   = "ngbundle/module/v1"
)

// Sum computes SHA-256 with domain separation: SHA256(domain + 0x00 + data).
// The null separator keeps the domain/data boundary unambiguous.
func Sum(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CacheKey derives a stable key for an entry module compiled with the given
// options. Identical (entry, options) pairs always produce the same key, on
// any host, regardless of map iteration order.
func CacheKey(entryPath string, options map[string]any) (string, error) {
	if options == nil {
		options = map[string]any{}
	}
	canonical, err := MarshalCanonical(map[string]any{
		"entry":   entryPath,
		"options": options,
	})
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	return Sum(DomainCacheKey, canonical), nil
}

// ModuleSum digests a module's source text together with its input source
// map (empty when the module has none).
func ModuleSum(code, inputMap []byte) string {
	h := sha256.New()
	h.Write([]byte(DomainModule))
	h.Write([]byte{0x00})
	fmt.Fprintf(h, "%d:", len(code))
	h.Write(code)
	h.Write(inputMap)
	return hex.EncodeToString(h.Sum(nil))
}
