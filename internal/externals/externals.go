// Package externals decides which module identifiers stay unresolved in a
// library bundle.
//
// Local sources and first-party packages are inlined. Everything else is a
// runtime dependency the consumer installs, so it is left as a bare import.
package externals

import "strings"

// Classifier holds the first-party markers. A zero Classifier inlines only
// relative and absolute paths.
type Classifier struct {
	// FirstPartyScopes are substrings identifying first-party packages,
	// e.g. "@acme/".
	FirstPartyScopes []string

	// AdapterPackages are substrings identifying adapter packages that are
	// shipped inside the bundle.
	AdapterPackages []string
}

// IsExternal reports whether id should be left unresolved.
//
// An identifier is bundled when it is relative, absolute, or contains any
// first-party scope or adapter marker. It is side-effect free and safe for
// concurrent use.
func (c Classifier) IsExternal(id string) bool {
	if strings.HasPrefix(id, ".") || isAbsolute(id) {
		return false
	}
	return !containsAny(id, c.FirstPartyScopes) && !containsAny(id, c.AdapterPackages)
}

// isAbsolute accepts POSIX paths and Windows drive paths regardless of the
// host OS; the identifiers come from compiled output that may have been
// produced elsewhere.
func isAbsolute(id string) bool {
	if strings.HasPrefix(id, "/") || strings.HasPrefix(id, `\\`) {
		return true
	}
	if len(id) >= 3 && id[1] == ':' && (id[2] == '/' || id[2] == '\\') {
		c := id[0] | 0x20
		return c >= 'a' && c <= 'z'
	}
	return false
}

func containsAny(id string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(id, m) {
			return true
		}
	}
	return false
}
