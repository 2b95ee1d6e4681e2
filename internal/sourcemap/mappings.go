package sourcemap

import (
	"fmt"
	"sort"
	"strings"
)

// Segment is one decoded mapping. Source, OrigLine, OrigColumn and Name are
// -1 when absent; lines and columns are zero-based.
type Segment struct {
	GenColumn  int
	Source     int
	OrigLine   int
	OrigColumn int
	Name       int
}

// HasSource reports whether the segment points into a source file.
func (s Segment) HasSource() bool { return s.Source >= 0 }

// Mappings holds the decoded segments of each generated line, sorted by
// generated column.
type Mappings [][]Segment

// DecodeMappings parses the "mappings" field of a v3 source map.
func DecodeMappings(s string) (Mappings, error) {
	var (
		lines                           Mappings
		line                            []Segment
		source, origLine, origCol, name int
	)
	i := 0
	for i <= len(s) {
		if i == len(s) || s[i] == ';' {
			sort.SliceStable(line, func(a, b int) bool { return line[a].GenColumn < line[b].GenColumn })
			lines = append(lines, line)
			line = nil
			i++
			continue
		}
		if s[i] == ',' {
			i++
			continue
		}

		var fields [5]int
		n := 0
		for i < len(s) && s[i] != ',' && s[i] != ';' {
			if n == 5 {
				return nil, fmt.Errorf("segment on line %d has more than 5 fields", len(lines))
			}
			v, next, err := decodeVLQ(s, i)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", len(lines), err)
			}
			fields[n] = v
			n++
			i = next
		}

		genCol := fields[0]
		if len(line) > 0 {
			genCol += line[len(line)-1].GenColumn
		}
		seg := Segment{GenColumn: genCol, Source: -1, OrigLine: -1, OrigColumn: -1, Name: -1}
		switch n {
		case 1:
		case 4, 5:
			source += fields[1]
			origLine += fields[2]
			origCol += fields[3]
			seg.Source, seg.OrigLine, seg.OrigColumn = source, origLine, origCol
			if n == 5 {
				name += fields[4]
				seg.Name = name
			}
		default:
			return nil, fmt.Errorf("segment on line %d has %d fields", len(lines), n)
		}
		line = append(line, seg)
	}
	return lines, nil
}

// Encode serializes the mappings back into the v3 "mappings" format.
func (m Mappings) Encode() string {
	var (
		sb                              strings.Builder
		source, origLine, origCol, name int
	)
	for li, line := range m {
		if li > 0 {
			sb.WriteByte(';')
		}
		prevCol := 0
		for si, seg := range line {
			if si > 0 {
				sb.WriteByte(',')
			}
			encodeVLQ(&sb, seg.GenColumn-prevCol)
			prevCol = seg.GenColumn
			if !seg.HasSource() {
				continue
			}
			encodeVLQ(&sb, seg.Source-source)
			encodeVLQ(&sb, seg.OrigLine-origLine)
			encodeVLQ(&sb, seg.OrigColumn-origCol)
			source, origLine, origCol = seg.Source, seg.OrigLine, seg.OrigColumn
			if seg.Name >= 0 {
				encodeVLQ(&sb, seg.Name-name)
				name = seg.Name
			}
		}
	}
	return sb.String()
}

// Lookup returns the segment in effect at the given zero-based generated
// position: the last segment on that line whose column is <= col.
func (m Mappings) Lookup(line, col int) (Segment, bool) {
	if line < 0 || line >= len(m) {
		return Segment{}, false
	}
	segs := m[line]
	i := sort.Search(len(segs), func(i int) bool { return segs[i].GenColumn > col })
	if i == 0 {
		return Segment{}, false
	}
	return segs[i-1], true
}
