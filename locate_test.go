// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func locatePage(t *testing.T, p *fakePage) *SpanIndex {
	t.Helper()
	si := buildSpanIndex(1, p.blocks)
	return si
}

func TestLocateSingleOccurrence(t *testing.T) {
	si := locatePage(t, fakeTextPage("The quick brown fox"))
	entry := &MappingEntry{QLabel: "q1", Original: "quick", Replacement: "slow"}

	res, reason := locateSubstring(si, entry, newPageClaims())
	require.NotNil(t, res, reason)
	assert.Equal(t, "quick", res.Matched)
	assert.Equal(t, NormalizeForMatch(entry.Original), NormalizeForMatch(res.Matched))
	assert.Equal(t, 4, res.NormStart)
	assert.Equal(t, 9, res.NormEnd)
	assert.Equal(t, []int{0}, res.SpanIDs)
	assert.Equal(t, Rect{X0: 96, Y0: 690, X1: 126, Y1: 700}, res.BBox)
	assert.Equal(t, 10.0, res.Size)
	assert.Len(t, res.GlyphPath, 5)
}

func TestLocateCaseInsensitive(t *testing.T) {
	si := locatePage(t, fakeTextPage("The quick brown fox"))
	entry := &MappingEntry{QLabel: "q1", Original: "Quick", Replacement: "slow"}

	res, reason := locateSubstring(si, entry, newPageClaims())
	require.NotNil(t, res, reason)
	assert.Equal(t, "quick", res.Matched, "matched text keeps the page casing")
}

// Two identical occurrences with distinct surroundings resolve through the
// prefix fingerprint.
func TestLocatePrefixFingerprintTwins(t *testing.T) {
	si := locatePage(t, fakeTextPage("alpha target one beta target two"))

	first := &MappingEntry{QLabel: "q1", Original: "target", Replacement: "x", Prefix: "alpha "}
	res, reason := locateSubstring(si, first, newPageClaims())
	require.NotNil(t, res, reason)
	assert.Equal(t, 6, res.NormStart)

	second := &MappingEntry{QLabel: "q2", Original: "target", Replacement: "x", Prefix: "beta "}
	res, reason = locateSubstring(si, second, newPageClaims())
	require.NotNil(t, res, reason)
	assert.Equal(t, 22, res.NormStart)
	assert.Equal(t, 1, res.Occurrence)

	miss := &MappingEntry{QLabel: "q3", Original: "target", Replacement: "x", Prefix: "gamma "}
	res, reason = locateSubstring(si, miss, newPageClaims())
	assert.Nil(t, res)
	assert.Contains(t, reason, "fingerprint")
}

// Two separate single-glyph runs "2 2": locating the second occurrence
// must return exactly the second run's glyphs.
func twoTwosPage() []Block {
	return []Block{fakeBlockOf(fakeLineOf(
		fakeGlyphSpan("F1", 10, 72, 700, "2"),
		fakeGlyphSpan("F1", 10, 90, 700, "2"),
	))}
}

func TestLocateSecondOccurrenceBySpanHint(t *testing.T) {
	si := buildSpanIndex(1, twoTwosPage())
	require.Equal(t, "2 2", si.Text)

	entry := &MappingEntry{QLabel: "q1", Original: "2", Replacement: "3", SelectionSpanIDs: []int{1}}
	res, reason := locateSubstring(si, entry, newPageClaims())
	require.NotNil(t, res, reason)
	assert.Equal(t, []GlyphRef{{1, 0}}, res.GlyphPath)
	assert.Equal(t, Rect{X0: 90, Y0: 690, X1: 96, Y1: 700}, res.BBox)
	assert.Equal(t, 2, res.NormStart)
}

func TestLocateSecondOccurrenceByOrdinal(t *testing.T) {
	si := buildSpanIndex(1, twoTwosPage())

	entry := &MappingEntry{QLabel: "q1", Original: "2", Replacement: "3", Occurrence: 1}
	res, reason := locateSubstring(si, entry, newPageClaims())
	require.NotNil(t, res, reason)
	assert.Equal(t, 2, res.NormStart)
	assert.Equal(t, 1, res.Occurrence)
	assert.Equal(t, []GlyphRef{{1, 0}}, res.GlyphPath)
}

// A target with the joiner space missing still matches across adjacent
// spans through the compact search, touching every glyph.
func TestLocateCompactAcrossSpans(t *testing.T) {
	si := buildSpanIndex(1, []Block{fakeBlockOf(fakeLineOf(
		fakeGlyphSpan("F1", 10, 72, 700, "index"),
		fakeGlyphSpan("F1", 10, 108, 700, "i"),
	))})
	require.Equal(t, "index i", si.Text)

	entry := &MappingEntry{QLabel: "q1", Original: "indexi", Replacement: "title", SelectionSpanIDs: []int{0, 1}}
	res, reason := locateSubstring(si, entry, newPageClaims())
	require.NotNil(t, res, reason)
	assert.Equal(t, "index i", res.Matched)
	assert.Equal(t, 0, res.NormStart)
	assert.Equal(t, 7, res.NormEnd)
	assert.Len(t, res.GlyphPath, 6, "all six glyphs claimed")
	assert.Equal(t, []int{0, 1}, res.SpanIDs)
}

func TestLocateSelectionBBox(t *testing.T) {
	si := locatePage(t, fakeTextPage("target alpha", "target beta"))

	entry := &MappingEntry{
		QLabel:        "q1",
		Original:      "target",
		Replacement:   "x",
		SelectionBBox: &Rect{X0: 70, Y0: 670, X1: 130, Y1: 689},
	}
	res, reason := locateSubstring(si, entry, newPageClaims())
	require.NotNil(t, res, reason)
	assert.Equal(t, 13, res.NormStart, "second line occurrence selected by region")
}

func TestLocateStemBBoxFallback(t *testing.T) {
	si := locatePage(t, fakeTextPage("target alpha", "target beta"))

	entry := &MappingEntry{
		QLabel:      "q1",
		Original:    "target",
		Replacement: "x",
		StemBBox:    &Rect{X0: 70, Y0: 670, X1: 130, Y1: 689},
	}
	res, reason := locateSubstring(si, entry, newPageClaims())
	require.NotNil(t, res, reason)
	assert.Equal(t, 13, res.NormStart, "stem region narrows the scan when no selection geometry is set")
}

func TestLocateRejectsClaims(t *testing.T) {
	si := buildSpanIndex(1, twoTwosPage())
	entry := &MappingEntry{QLabel: "q1", Original: "2", Replacement: "3"}

	// claimed fingerprint key blocks the entry outright
	claims := newPageClaims()
	claims.claim(Rect{}, entry.FingerprintKey())
	res, reason := locateSubstring(si, entry, claims)
	assert.Nil(t, res)
	assert.Contains(t, reason, "fingerprint already claimed")

	// claimed rect drops that candidate, the other still matches
	claims = newPageClaims()
	claims.claim(Rect{X0: 72, Y0: 690, X1: 78, Y1: 700}, "other")
	res, reason = locateSubstring(si, entry, claims)
	require.NotNil(t, res, reason)
	assert.Equal(t, 2, res.NormStart)

	// both claimed leaves nothing
	claims.claim(Rect{X0: 90, Y0: 690, X1: 96, Y1: 700}, "other2")
	res, reason = locateSubstring(si, entry, claims)
	assert.Nil(t, res)
	assert.Contains(t, reason, "claimed")
}

func TestLocateMiss(t *testing.T) {
	si := locatePage(t, fakeTextPage("The quick brown fox"))
	entry := &MappingEntry{QLabel: "q1", Original: "zebra", Replacement: "x"}

	res, reason := locateSubstring(si, entry, newPageClaims())
	assert.Nil(t, res)
	assert.Contains(t, reason, "no occurrence")
}

func TestLocateAnnotatesContext(t *testing.T) {
	si := locatePage(t, fakeTextPage("alpha target omega"))
	entry := &MappingEntry{QLabel: "q1", Original: "target", Replacement: "x"}

	res, reason := locateSubstring(si, entry, newPageClaims())
	require.NotNil(t, res, reason)
	assert.Equal(t, "alpha ", res.Prefix)
	assert.Equal(t, " omega", res.Suffix)
	assert.Equal(t, entry.FingerprintKey(), res.Key)
}
