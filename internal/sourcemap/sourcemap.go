package sourcemap

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
)

// Map is a v3 source map.
type Map struct {
	Version        int       `json:"version"`
	File           string    `json:"file,omitempty"`
	SourceRoot     string    `json:"sourceRoot,omitempty"`
	Sources        []string  `json:"sources"`
	SourcesContent []*string `json:"sourcesContent,omitempty"`
	Names          []string  `json:"names"`
	Mappings       string    `json:"mappings"`
}

// Parse decodes a JSON source map. Index maps (with "sections") are not
// supported.
func Parse(data []byte) (*Map, error) {
	var raw struct {
		Map
		Sections json.RawMessage `json:"sections"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse source map: %w", err)
	}
	if len(raw.Sections) > 0 {
		return nil, fmt.Errorf("parse source map: indexed source maps are not supported")
	}
	if raw.Version != 3 {
		return nil, fmt.Errorf("parse source map: unsupported version %d", raw.Version)
	}
	m := raw.Map
	if m.Names == nil {
		m.Names = []string{}
	}
	return &m, nil
}

// New builds a single-source map from decoded mappings.
func New(source, content string, mappings Mappings) *Map {
	return &Map{
		Version:        3,
		Sources:        []string{source},
		SourcesContent: []*string{&content},
		Names:          []string{},
		Mappings:       mappings.Encode(),
	}
}

// Identity returns a map that sends every line of content to itself.
func Identity(source, content string) *Map {
	lines := strings.Count(content, "\n") + 1
	mappings := make(Mappings, lines)
	for i := range mappings {
		mappings[i] = []Segment{{GenColumn: 0, Source: 0, OrigLine: i, OrigColumn: 0, Name: -1}}
	}
	return New(source, content, mappings)
}

// JSON encodes the map.
func (m *Map) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// DataURL returns the map as a base64 data URL suitable for an inline
// sourceMappingURL comment.
func (m *Map) DataURL() (string, error) {
	data, err := m.JSON()
	if err != nil {
		return "", err
	}
	return "data:application/json;charset=utf-8;base64," + base64.StdEncoding.EncodeToString(data), nil
}

// Original returns the source position for a zero-based generated position.
func (m *Map) Original(line, col int) (source string, origLine, origCol int, ok bool) {
	mappings, err := DecodeMappings(m.Mappings)
	if err != nil {
		return "", 0, 0, false
	}
	seg, found := mappings.Lookup(line, col)
	if !found || !seg.HasSource() || seg.Source >= len(m.Sources) {
		return "", 0, 0, false
	}
	return m.Sources[seg.Source], seg.OrigLine, seg.OrigColumn, true
}

// Compose returns a map from outer's generated text straight to inner's
// sources. outer must describe a transform of the text that inner's
// generated side describes; outer's own source list is ignored.
func Compose(outer, inner *Map) (*Map, error) {
	om, err := DecodeMappings(outer.Mappings)
	if err != nil {
		return nil, fmt.Errorf("compose: outer: %w", err)
	}
	im, err := DecodeMappings(inner.Mappings)
	if err != nil {
		return nil, fmt.Errorf("compose: inner: %w", err)
	}

	out := make(Mappings, len(om))
	for gl, segs := range om {
		var line []Segment
		for si, s := range segs {
			if !s.HasSource() || s.OrigLine >= len(im) {
				line = append(line, unmapped(s.GenColumn))
				continue
			}
			span := math.MaxInt
			if si+1 < len(segs) {
				next := segs[si+1]
				span = next.GenColumn - s.GenColumn
				// A replaced span covers fewer (or more) intermediate columns
				// than generated ones; never read past the next run's start.
				if next.HasSource() && next.OrigLine == s.OrigLine && next.OrigColumn > s.OrigColumn {
					span = min(span, next.OrigColumn-s.OrigColumn)
				}
			}

			if at, ok := im.Lookup(s.OrigLine, s.OrigColumn); ok && at.HasSource() {
				line = append(line, moved(at, s.GenColumn))
			} else {
				line = append(line, unmapped(s.GenColumn))
			}
			for _, is := range im[s.OrigLine] {
				if is.GenColumn <= s.OrigColumn {
					continue
				}
				off := is.GenColumn - s.OrigColumn
				if off >= span {
					break
				}
				line = append(line, moved(is, s.GenColumn+off))
			}
		}
		out[gl] = line
	}

	return &Map{
		Version:        3,
		File:           outer.File,
		SourceRoot:     inner.SourceRoot,
		Sources:        inner.Sources,
		SourcesContent: inner.SourcesContent,
		Names:          inner.Names,
		Mappings:       out.Encode(),
	}, nil
}

func moved(s Segment, genCol int) Segment {
	s.GenColumn = genCol
	return s
}

func unmapped(genCol int) Segment {
	return Segment{GenColumn: genCol, Source: -1, OrigLine: -1, OrigColumn: -1, Name: -1}
}

var urlComment = regexp.MustCompile(`(?m)^[ \t]*//[#@][ \t]*sourceMappingURL=([^\s'"]+)[ \t]*\r?$`)

// Comment locates the last sourceMappingURL comment in code.
type Comment struct {
	URL        string
	Start, End int
}

// FindComment returns the last sourceMappingURL comment in code, if any.
func FindComment(code string) (Comment, bool) {
	all := urlComment.FindAllStringSubmatchIndex(code, -1)
	if len(all) == 0 {
		return Comment{}, false
	}
	m := all[len(all)-1]
	return Comment{URL: code[m[2]:m[3]], Start: m[0], End: m[1]}, true
}

// StripComment removes the comment text but keeps the line break, so the
// positions of everything before it are unchanged.
func StripComment(code string, c Comment) string {
	return code[:c.Start] + code[c.End:]
}

// IsDataURL reports whether a sourceMappingURL is an inline data URL.
func IsDataURL(u string) bool {
	return strings.HasPrefix(u, "data:")
}

// DecodeDataURL extracts the payload of a data URL.
func DecodeDataURL(u string) ([]byte, error) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URL")
	}
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode data URL: %w", err)
		}
		return data, nil
	}
	text, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data URL: %w", err)
	}
	return []byte(text), nil
}

// AppendInline appends a sourceMappingURL comment carrying m inline.
func AppendInline(code string, m *Map) (string, error) {
	u, err := m.DataURL()
	if err != nil {
		return "", err
	}
	if code != "" && !strings.HasSuffix(code, "\n") {
		code += "\n"
	}
	return code + "//# sourceMappingURL=" + u + "\n", nil
}
