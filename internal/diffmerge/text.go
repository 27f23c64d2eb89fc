package diffmerge

import (
	"bytes"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Conflict markers written into merged content that could not be resolved.
const (
	MarkerOurs   = "<<<<<<< mine"
	MarkerBase   = "||||||| base"
	MarkerSep    = "======="
	MarkerTheirs = ">>>>>>> theirs"
)

// binarySniffLen is how much of a file is inspected for NUL bytes.
const binarySniffLen = 8000

// TextMerger merges file contents line by line.
type TextMerger struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewTextMerger returns a merger backed by go-diff line diffs.
func NewTextMerger() *TextMerger {
	return &TextMerger{dmp: diffmatchpatch.New()}
}

// IsBinary reports whether data looks like binary content.
func IsBinary(data []byte) bool {
	if len(data) > binarySniffLen {
		data = data[:binarySniffLen]
	}
	return bytes.IndexByte(data, 0) >= 0
}

// hunk replaces base lines [start, end) with lines.
type hunk struct {
	start, end int
	lines      []string
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// hunks returns the edits turning base into side.
func (m *TextMerger) hunks(base, side string) []hunk {
	sideLines := splitLines(side)
	r1, r2, _ := m.dmp.DiffLinesToRunes(base, side)
	diffs := m.dmp.DiffMainRunes(r1, r2, false)

	var out []hunk
	var cur *hunk
	var bi, si int
	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}
	for _, d := range diffs {
		n := len([]rune(d.Text))
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			bi += n
			si += n
		case diffmatchpatch.DiffDelete:
			if cur == nil {
				cur = &hunk{start: bi, end: bi}
			}
			bi += n
			cur.end = bi
		case diffmatchpatch.DiffInsert:
			if cur == nil {
				cur = &hunk{start: bi, end: bi}
			}
			cur.lines = append(cur.lines, sideLines[si:si+n]...)
			si += n
		}
	}
	flush()
	return out
}

// Merge2Way merges two versions that have no common base. It succeeds when
// both are equal or when one side only adds lines to the other. On failure
// the returned content holds both versions between conflict markers.
func (m *TextMerger) Merge2Way(ours, theirs []byte) ([]byte, bool) {
	if bytes.Equal(ours, theirs) {
		return ours, true
	}
	if IsBinary(ours) || IsBinary(theirs) {
		return nil, false
	}

	r1, r2, _ := m.dmp.DiffLinesToRunes(string(ours), string(theirs))
	var inserts, deletes bool
	for _, d := range m.dmp.DiffMainRunes(r1, r2, false) {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			inserts = true
		case diffmatchpatch.DiffDelete:
			deletes = true
		}
	}
	switch {
	case inserts && !deletes:
		return theirs, true
	case deletes && !inserts:
		return ours, true
	}

	var buf bytes.Buffer
	writeConflict(&buf, splitLines(string(ours)), nil, splitLines(string(theirs)), false)
	return buf.Bytes(), false
}

// Merge3Way merges ours and theirs against their common base. Changes that
// touch disjoint line ranges are combined; identical changes are applied
// once. Overlapping or adjacent changes that differ make the merge fail, in
// which case the returned content carries conflict markers around each
// unresolved region.
func (m *TextMerger) Merge3Way(base, ours, theirs []byte) ([]byte, bool) {
	switch {
	case bytes.Equal(ours, theirs):
		return ours, true
	case bytes.Equal(base, ours):
		return theirs, true
	case bytes.Equal(base, theirs):
		return ours, true
	}
	if IsBinary(base) || IsBinary(ours) || IsBinary(theirs) {
		return nil, false
	}

	baseLines := splitLines(string(base))
	oursH := m.hunks(string(base), string(ours))
	theirsH := m.hunks(string(base), string(theirs))

	var (
		buf   bytes.Buffer
		clean = true
		pos   int
		i, j  int
	)
	for i < len(oursH) || j < len(theirsH) {
		// Start a group with the hunk that begins first.
		var groupO, groupT []hunk
		var start, end int
		if j >= len(theirsH) || (i < len(oursH) && oursH[i].start <= theirsH[j].start) {
			start, end = oursH[i].start, oursH[i].end
			groupO = append(groupO, oursH[i])
			i++
		} else {
			start, end = theirsH[j].start, theirsH[j].end
			groupT = append(groupT, theirsH[j])
			j++
		}
		// Absorb every hunk that overlaps or touches the group.
		for {
			if i < len(oursH) && oursH[i].start <= end {
				groupO = append(groupO, oursH[i])
				end = max(end, oursH[i].end)
				i++
				continue
			}
			if j < len(theirsH) && theirsH[j].start <= end {
				groupT = append(groupT, theirsH[j])
				end = max(end, theirsH[j].end)
				j++
				continue
			}
			break
		}

		for _, l := range baseLines[pos:start] {
			buf.WriteString(l)
		}
		pos = end

		switch {
		case len(groupT) == 0:
			writeLines(&buf, apply(baseLines, start, end, groupO))
		case len(groupO) == 0:
			writeLines(&buf, apply(baseLines, start, end, groupT))
		default:
			o := apply(baseLines, start, end, groupO)
			t := apply(baseLines, start, end, groupT)
			if equalLines(o, t) {
				writeLines(&buf, o)
				continue
			}
			clean = false
			writeConflict(&buf, o, baseLines[start:end], t, true)
		}
	}
	for _, l := range baseLines[pos:] {
		buf.WriteString(l)
	}
	return buf.Bytes(), clean
}

// apply returns base[start:end] with the given hunks applied.
func apply(base []string, start, end int, hunks []hunk) []string {
	var out []string
	pos := start
	for _, h := range hunks {
		out = append(out, base[pos:h.start]...)
		out = append(out, h.lines...)
		pos = h.end
	}
	return append(out, base[pos:end]...)
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func writeLines(buf *bytes.Buffer, lines []string) {
	for _, l := range lines {
		buf.WriteString(l)
	}
}

func writeConflict(buf *bytes.Buffer, ours, base, theirs []string, withBase bool) {
	section := func(marker string, lines []string) {
		buf.WriteString(marker + "\n")
		writeLines(buf, lines)
		if n := len(lines); n > 0 && !strings.HasSuffix(lines[n-1], "\n") {
			buf.WriteString("\n")
		}
	}
	section(MarkerOurs, ours)
	if withBase {
		section(MarkerBase, base)
	}
	section(MarkerSep, theirs)
	buf.WriteString(MarkerTheirs + "\n")
}
