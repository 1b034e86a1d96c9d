// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Adjacent spans on one line join without a separator, gapped spans get a
// synthetic space.
func TestBuildSpanIndexJoiner(t *testing.T) {
	adjacent := fakeBlockOf(fakeLineOf(
		fakeGlyphSpan("F1", 10, 72, 700, "index"),
		fakeGlyphSpan("F1", 10, 102, 700, "i"),
	))
	si := buildSpanIndex(1, []Block{adjacent})
	assert.Equal(t, "indexi", si.Text)

	gapped := fakeBlockOf(fakeLineOf(
		fakeGlyphSpan("F1", 10, 72, 700, "index"),
		fakeGlyphSpan("F1", 10, 108, 700, "i"),
	))
	si = buildSpanIndex(1, []Block{gapped})
	assert.Equal(t, "index i", si.Text)
}

// Line breaks inside a block and block breaks both join with one space.
func TestBuildSpanIndexBreaks(t *testing.T) {
	b1 := fakeBlockOf(
		fakeLineOf(fakeGlyphSpan("F1", 10, 72, 700, "first")),
		fakeLineOf(fakeGlyphSpan("F1", 10, 72, 686, "second")),
	)
	b2 := fakeBlockOf(fakeLineOf(fakeGlyphSpan("F1", 10, 72, 650, "third")))
	si := buildSpanIndex(1, []Block{b1, b2})
	assert.Equal(t, "first second third", si.Text)
	assert.Len(t, si.Spans, 3)
	assert.Equal(t, 0, si.Spans[0].Block)
	assert.Equal(t, 1, si.Spans[1].Line)
	assert.Equal(t, 1, si.Spans[2].Block)
}

func TestSpanAt(t *testing.T) {
	si := buildSpanIndex(1, []Block{
		fakeBlockOf(fakeLineOf(fakeGlyphSpan("F1", 10, 72, 700, "ab"))),
		fakeBlockOf(fakeLineOf(fakeGlyphSpan("F1", 10, 72, 650, "cd"))),
	})
	assert.Equal(t, "ab cd", si.Text)
	assert.Equal(t, 0, si.SpanAt(0))
	assert.Equal(t, 0, si.SpanAt(1))
	assert.Equal(t, -1, si.SpanAt(2), "joiner offset belongs to no span")
	assert.Equal(t, 1, si.SpanAt(3))
	assert.Equal(t, -1, si.SpanAt(5))
}

// Empty spans take no text but keep their slot in the table.
func TestSpanAtSkipsEmptySpans(t *testing.T) {
	si := buildSpanIndex(1, []Block{fakeBlockOf(fakeLineOf(
		fakeGlyphSpan("F1", 10, 72, 700, "index"),
		GlyphSpan{Font: "F1", Size: 10, BBox: Rect{X0: 102, Y0: 690, X1: 102, Y1: 700}},
		fakeGlyphSpan("F1", 10, 102, 700, "abc"),
	))})
	assert.Equal(t, "indexabc", si.Text)
	assert.Equal(t, 0, si.SpanAt(4))
	assert.Equal(t, 2, si.SpanAt(5))
}

// Ligature glyphs expand in the normalized text but map back to the one
// source glyph.
func TestRangeRefsLigature(t *testing.T) {
	si := buildSpanIndex(1, []Block{
		fakeBlockOf(fakeLineOf(fakeGlyphSpan("F1", 10, 72, 700, "ﬁle"))),
	})
	assert.Equal(t, "file", si.Text)
	refs := si.RangeRefs(0, 4)
	assert.Equal(t, []GlyphRef{{0, 0}, {0, 0}, {0, 1}, {0, 2}}, refs)
}

func TestRangeSpanIDs(t *testing.T) {
	si := buildSpanIndex(1, []Block{fakeBlockOf(fakeLineOf(
		fakeGlyphSpan("F1", 10, 72, 700, "fir"),
		fakeGlyphSpan("F1", 10, 90, 700, "st"),
	))})
	assert.Equal(t, "first", si.Text)
	assert.Equal(t, []int{0, 1}, si.RangeSpanIDs(0, 5))
	assert.Equal(t, []int{0}, si.RangeSpanIDs(0, 3))
	assert.Equal(t, []int{1}, si.RangeSpanIDs(3, 5))
}

func TestRangeBBoxAndQuads(t *testing.T) {
	si := buildSpanIndex(1, []Block{
		fakeBlockOf(fakeLineOf(fakeGlyphSpan("F1", 10, 72, 700, "ab"))),
		fakeBlockOf(fakeLineOf(fakeGlyphSpan("F1", 10, 72, 686, "cd"))),
	})
	assert.Equal(t, "ab cd", si.Text)

	bbox := si.RangeBBox(0, 5)
	assert.Equal(t, Rect{X0: 72, Y0: 676, X1: 84, Y1: 700}, bbox)

	quads := si.RangeQuads(0, 5)
	assert.Len(t, quads, 2, "one quad per crossed line")
	assert.Equal(t, Rect{X0: 72, Y0: 690, X1: 84, Y1: 700}, quads[0].Bounds())
	assert.Equal(t, Rect{X0: 72, Y0: 676, X1: 84, Y1: 686}, quads[1].Bounds())
}

// Reading order sorts by descending baseline with tolerance, then left to
// right.
func TestSortSpansReading(t *testing.T) {
	a := SpanRecord{ID: 0, BBox: Rect{X0: 72, Y0: 690, X1: 100, Y1: 700}}
	b := SpanRecord{ID: 1, BBox: Rect{X0: 40, Y0: 687, X1: 60, Y1: 697}}
	c := SpanRecord{ID: 2, BBox: Rect{X0: 10, Y0: 640, X1: 30, Y1: 650}}
	spans := []SpanRecord{a, c, b}
	SortSpansReading(spans)
	assert.Equal(t, []int{1, 0, 2}, []int{spans[0].ID, spans[1].ID, spans[2].ID})
}

func TestSpanByID(t *testing.T) {
	si := buildSpanIndex(1, []Block{
		fakeBlockOf(fakeLineOf(fakeGlyphSpan("F1", 10, 72, 700, "ab"))),
	})
	assert.NotNil(t, si.SpanByID(0))
	assert.Equal(t, "ab", si.SpanByID(0).Raw)
	assert.Nil(t, si.SpanByID(1))
	assert.Nil(t, si.SpanByID(-1))
}
