package transform

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/roach88/ngbundle/internal/sourcemap"
)

// Edit replaces the byte range [Start, End) of the original text with Text.
type Edit struct {
	Start int
	End   int
	Text  string
}

// Apply applies edits to code in one pass and returns the new text with a
// map back to code. Edits must be sorted and non-overlapping.
//
// Columns are counted in UTF-16 code units. Every generated line starts
// with a segment, and so does each edit boundary: text inside an edit maps
// to the start of the span it replaced, text after it maps to its own
// original position. With no edits the map is the identity map.
func Apply(source, code string, edits []Edit) (string, *sourcemap.Map, error) {
	prev := 0
	for i, e := range edits {
		if e.Start < prev || e.End < e.Start || e.End > len(code) {
			return "", nil, fmt.Errorf("edit %d [%d,%d) out of order or out of range", i, e.Start, e.End)
		}
		prev = e.End
	}

	a := applier{mappings: sourcemap.Mappings{nil}}
	a.mark()
	pos := 0
	for _, e := range edits {
		a.copy(code[pos:e.Start])
		a.mark()
		a.replace(e.Text, code[e.Start:e.End])
		pos = e.End
		a.mark()
	}
	a.copy(code[pos:])

	return a.out.String(), sourcemap.New(source, code, a.mappings), nil
}

type applier struct {
	out      strings.Builder
	mappings sourcemap.Mappings

	genCol            int
	origLine, origCol int
}

// mark records a segment at the current positions unless one already
// exists at this generated column.
func (a *applier) mark() {
	line := &a.mappings[len(a.mappings)-1]
	seg := sourcemap.Segment{GenColumn: a.genCol, Source: 0, OrigLine: a.origLine, OrigColumn: a.origCol, Name: -1}
	if n := len(*line); n > 0 && (*line)[n-1].GenColumn == a.genCol {
		(*line)[n-1] = seg
		return
	}
	*line = append(*line, seg)
}

// copy emits unchanged text, advancing both positions.
func (a *applier) copy(s string) {
	a.out.WriteString(s)
	for _, r := range s {
		if r == '\n' {
			a.mappings = append(a.mappings, nil)
			a.genCol = 0
			a.origLine++
			a.origCol = 0
			a.mark()
			continue
		}
		w := utf16Len(r)
		a.genCol += w
		a.origCol += w
	}
}

// replace emits text in place of old. Generated lines opened by text map
// to the start of old; the original position then moves past old.
func (a *applier) replace(text, old string) {
	a.out.WriteString(text)
	startLine, startCol := a.origLine, a.origCol
	for _, r := range text {
		if r == '\n' {
			a.mappings = append(a.mappings, nil)
			a.genCol = 0
			a.origLine, a.origCol = startLine, startCol
			a.mark()
			continue
		}
		a.genCol += utf16Len(r)
	}
	a.origLine, a.origCol = startLine, startCol
	for _, r := range old {
		if r == '\n' {
			a.origLine++
			a.origCol = 0
			continue
		}
		a.origCol += utf16Len(r)
	}
}

func utf16Len(r rune) int {
	if r >= 0x10000 && r <= utf8.MaxRune {
		return 2
	}
	return 1
}
