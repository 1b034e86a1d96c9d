// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"sort"
	"strings"
)

// SpanRecord is one indexed glyph run on a page: its geometry, raw glyph
// text, and the normalized form used for matching.
type SpanRecord struct {
	ID    int
	Page  int
	Block int
	Line  int
	Font  string
	Size  float64
	BBox  Rect
	Chars []Char
	Raw   string
	Norm  string
	// NormToRaw maps each rune of Norm to the index of the glyph in Chars
	// it came from.
	NormToRaw []int
}

// GlyphRef addresses one glyph by span index and char index within it.
type GlyphRef struct {
	Span int
	Char int
}

// SpanIndex is the per-page ordered span table with the concatenated
// normalized page text. Spans keep container order (block, line, span);
// offsets into Text are rune offsets.
type SpanIndex struct {
	Page  int
	Spans []SpanRecord
	Text  string

	starts []int
	lens   []int
}

// wordGapRatio decides whether two spans on one line are separated by a
// visual space: gap wider than this fraction of the font size.
const wordGapRatio = 0.25

// yTolerance is the baseline slack when comparing span verticals, in
// points.
const yTolerance = 5.0

// spansByReading orders spans top-to-bottom then left-to-right.
type spansByReading []SpanRecord

func (x spansByReading) Len() int { return len(x) }
func (x spansByReading) Less(i, j int) bool {
	if d := x[i].BBox.Y1 - x[j].BBox.Y1; d > yTolerance || d < -yTolerance {
		return x[i].BBox.Y1 > x[j].BBox.Y1
	}
	return x[i].BBox.X0 < x[j].BBox.X0
}
func (x spansByReading) Swap(i, j int) { x[i], x[j] = x[j], x[i] }

// SortSpansReading sorts span records into geometric reading order.
func SortSpansReading(spans []SpanRecord) {
	sort.Stable(spansByReading(spans))
}

// buildSpanIndex flattens a page's glyph blocks into the ordered span
// table and assembles the page-wide normalized text. Spans on the same
// line join directly unless a visual gap separates them; line and block
// breaks join with a single space.
func buildSpanIndex(page int, blocks []Block) *SpanIndex {
	si := &SpanIndex{Page: page}
	var text strings.Builder
	textLen := 0
	var last *SpanRecord

	for bi, block := range blocks {
		for li, line := range block.Lines {
			for _, gs := range line.Spans {
				rec := SpanRecord{
					ID:    len(si.Spans),
					Page:  page,
					Block: bi,
					Line:  li,
					Font:  gs.Font,
					Size:  gs.Size,
					BBox:  gs.BBox,
					Chars: gs.Chars,
				}
				var raw strings.Builder
				for _, ch := range gs.Chars {
					raw.WriteRune(ch.R)
				}
				rec.Raw = raw.String()
				rec.Norm, rec.NormToRaw = BuildNormalizedMap(rec.Raw)
				if rec.BBox.Empty() {
					for _, ch := range gs.Chars {
						rec.BBox = rec.BBox.Union(ch.BBox)
					}
				}

				normLen := len([]rune(rec.Norm))
				if normLen > 0 {
					if j := si.joiner(last, &rec); j != "" {
						text.WriteString(j)
						textLen += len([]rune(j))
					}
					last = &rec
				}
				si.starts = append(si.starts, textLen)
				si.lens = append(si.lens, normLen)
				text.WriteString(rec.Norm)
				textLen += normLen

				si.Spans = append(si.Spans, rec)
			}
		}
	}
	si.Text = text.String()
	return si
}

// joiner decides the separator between two consecutive non-empty spans.
func (si *SpanIndex) joiner(prev, cur *SpanRecord) string {
	if prev == nil {
		return ""
	}
	if prev.Block != cur.Block || prev.Line != cur.Line {
		return " "
	}
	size := prev.Size
	if cur.Size > size {
		size = cur.Size
	}
	if size <= 0 {
		size = 1
	}
	if cur.BBox.X0-prev.BBox.X1 > wordGapRatio*size {
		return " "
	}
	return ""
}

// SpanAt returns the index of the span containing the Text offset, or -1
// when the offset falls on a joiner.
func (si *SpanIndex) SpanAt(off int) int {
	i := sort.Search(len(si.starts), func(k int) bool {
		return si.starts[k] > off
	}) - 1
	for ; i >= 0; i-- {
		if si.lens[i] == 0 {
			continue
		}
		if off >= si.starts[i] && off < si.starts[i]+si.lens[i] {
			return i
		}
		return -1
	}
	return -1
}

// RangeRefs resolves a Text range to its glyphs, in order. Joiner
// positions contribute nothing.
func (si *SpanIndex) RangeRefs(start, end int) []GlyphRef {
	var refs []GlyphRef
	for off := start; off < end; off++ {
		s := si.SpanAt(off)
		if s < 0 {
			continue
		}
		local := off - si.starts[s]
		refs = append(refs, GlyphRef{Span: s, Char: si.Spans[s].NormToRaw[local]})
	}
	return refs
}

// RangeSpanIDs returns the distinct span IDs a Text range crosses, in
// order.
func (si *SpanIndex) RangeSpanIDs(start, end int) []int {
	var ids []int
	for off := start; off < end; off++ {
		s := si.SpanAt(off)
		if s < 0 {
			continue
		}
		if len(ids) == 0 || ids[len(ids)-1] != si.Spans[s].ID {
			ids = append(ids, si.Spans[s].ID)
		}
	}
	return ids
}

// RangeBBox returns the union of the glyph boxes covered by a Text range.
func (si *SpanIndex) RangeBBox(start, end int) Rect {
	var r Rect
	for _, ref := range si.RangeRefs(start, end) {
		sp := &si.Spans[ref.Span]
		if ref.Char >= 0 && ref.Char < len(sp.Chars) {
			r = r.Union(sp.Chars[ref.Char].BBox)
		}
	}
	return r
}

// RangeQuads returns one quad per crossed line, each covering that line's
// matched glyphs.
func (si *SpanIndex) RangeQuads(start, end int) []Quad {
	type lineKey struct{ block, line int }
	var order []lineKey
	rects := make(map[lineKey]Rect)
	for _, ref := range si.RangeRefs(start, end) {
		sp := &si.Spans[ref.Span]
		if ref.Char < 0 || ref.Char >= len(sp.Chars) {
			continue
		}
		k := lineKey{sp.Block, sp.Line}
		r, ok := rects[k]
		if !ok {
			order = append(order, k)
		}
		rects[k] = r.Union(sp.Chars[ref.Char].BBox)
	}
	quads := make([]Quad, 0, len(order))
	for _, k := range order {
		quads = append(quads, QuadFromRect(rects[k]))
	}
	return quads
}

// SpanByID returns the record with the given ID, or nil.
func (si *SpanIndex) SpanByID(id int) *SpanRecord {
	if id < 0 || id >= len(si.Spans) {
		return nil
	}
	return &si.Spans[id]
}
