// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"fmt"
	"sort"
	"unicode"

	"github.com/sassoftware/viya-pdf-rewrite/logger"
)

// LocateResult is the match metadata attached to a mapping entry once its
// target has been found on a page. Offsets address the page's normalized
// text; the glyph path addresses the span index.
type LocateResult struct {
	Page       int
	NormStart  int
	NormEnd    int
	Matched    string
	SpanIDs    []int
	GlyphPath  []GlyphRef
	BBox       Rect
	Quads      []Quad
	Size       float64
	Prefix     string
	Suffix     string
	Occurrence int
	Key        string
}

// textMatch is one candidate occurrence in page text rune offsets.
type textMatch struct {
	start   int
	end     int
	compact bool
}

func lowerRunes(s string) []rune {
	r := []rune(s)
	for i, c := range r {
		r[i] = unicode.ToLower(c)
	}
	return r
}

// findOccurrences returns every start offset of needle in hay.
func findOccurrences(hay, needle []rune) []int {
	var starts []int
	if len(needle) == 0 || len(needle) > len(hay) {
		return starts
	}
	for i := 0; i+len(needle) <= len(hay); i++ {
		match := true
		for j := range needle {
			if hay[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			starts = append(starts, i)
		}
	}
	return starts
}

// locateSubstring finds the best occurrence of the entry's original text
// on the indexed page. A nil result is a recoverable miss; the reason
// describes it for the entry report.
func locateSubstring(si *SpanIndex, entry *MappingEntry, claims *pageClaims) (*LocateResult, string) {
	needle := lowerRunes(NormalizeForMatch(entry.Original))
	if len(needle) == 0 {
		return nil, "target empty after normalization"
	}
	key := entry.FingerprintKey()
	if claims.keyUsed(key) {
		return nil, "fingerprint already claimed on page"
	}
	hay := lowerRunes(si.Text)

	var cands []textMatch
	if len(entry.SelectionSpanIDs) > 0 {
		cands = hintCandidates(si, entry.SelectionSpanIDs, hay, needle)
	}
	if len(cands) == 0 {
		if region, ok := selectionRegion(entry); ok {
			cands = regionCandidates(si, region, hay, needle)
		}
	}
	if len(cands) == 0 && entry.StemBBox != nil && !entry.StemBBox.Empty() {
		cands = regionCandidates(si, *entry.StemBBox, hay, needle)
	}
	if len(cands) == 0 {
		cands = scanCandidates(hay, needle)
	}
	if len(cands) == 0 {
		return nil, fmt.Sprintf("no occurrence of %q on page %d", entry.Original, si.Page)
	}

	sortCandidatesReading(si, cands)

	unclaimed := cands[:0:0]
	for _, c := range cands {
		if claims.rectUsed(si.RangeBBox(c.start, c.end)) {
			continue
		}
		unclaimed = append(unclaimed, c)
	}
	if len(unclaimed) == 0 {
		return nil, "all candidate rectangles already claimed"
	}
	cands = unclaimed

	if len(cands) > 1 && (entry.Prefix != "" || entry.Suffix != "") {
		filtered := cands[:0:0]
		for _, c := range cands {
			if contextMatches(si, c, entry) {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) == 0 {
			return nil, "no occurrence matches the prefix/suffix fingerprint"
		}
		cands = filtered
	}

	chosen := cands[0]
	if len(cands) > 1 && entry.Occurrence > 0 && entry.Occurrence < len(cands) {
		chosen = cands[entry.Occurrence]
	}

	text := []rune(si.Text)
	res := &LocateResult{
		Page:       si.Page,
		NormStart:  chosen.start,
		NormEnd:    chosen.end,
		Matched:    string(text[chosen.start:chosen.end]),
		SpanIDs:    si.RangeSpanIDs(chosen.start, chosen.end),
		GlyphPath:  si.RangeRefs(chosen.start, chosen.end),
		BBox:       si.RangeBBox(chosen.start, chosen.end),
		Quads:      si.RangeQuads(chosen.start, chosen.end),
		Prefix:     clipTail(string(text[:chosen.start]), fingerprintClip),
		Suffix:     clipHead(string(text[chosen.end:]), fingerprintClip),
		Occurrence: pageOrdinal(hay, needle, chosen),
		Key:        key,
	}
	if len(res.GlyphPath) > 0 {
		res.Size = si.Spans[res.GlyphPath[0].Span].Size
	}
	logger.Debug(fmt.Sprintf("located %q on page %d: range=[%d,%d) occurrence=%d",
		entry.Original, si.Page, res.NormStart, res.NormEnd, res.Occurrence))
	return res, ""
}

// hintCandidates searches the hinted spans. The first span wholly
// containing the target wins; otherwise the contiguous page-text range
// covering the hinted spans is searched directly, then compacted.
func hintCandidates(si *SpanIndex, ids []int, hay, needle []rune) []textMatch {
	ordered := append([]int(nil), ids...)
	sort.Ints(ordered)

	lo, hi := -1, -1
	for _, id := range ordered {
		sp := si.SpanByID(id)
		if sp == nil {
			continue
		}
		start, end := si.starts[id], si.starts[id]+si.lens[id]
		if lo < 0 || start < lo {
			lo = start
		}
		if end > hi {
			hi = end
		}
		var cands []textMatch
		for _, off := range findOccurrences(hay[start:end], needle) {
			cands = append(cands, textMatch{start: start + off, end: start + off + len(needle)})
		}
		if len(cands) > 0 {
			return cands
		}
	}
	if lo < 0 || hi <= lo {
		return nil
	}

	var cands []textMatch
	for _, off := range findOccurrences(hay[lo:hi], needle) {
		cands = append(cands, textMatch{start: lo + off, end: lo + off + len(needle)})
	}
	if len(cands) > 0 {
		return cands
	}
	return compactMatches(hay[lo:hi], needle, lo)
}

// selectionRegion unions the entry's selection bbox and quads.
func selectionRegion(entry *MappingEntry) (Rect, bool) {
	var region Rect
	if entry.SelectionBBox != nil {
		region = *entry.SelectionBBox
	}
	for _, q := range entry.SelectionQuads {
		region = region.Union(q.Bounds())
	}
	return region, !region.Empty()
}

// regionCandidates keeps the occurrences whose glyph boxes intersect the
// selection region.
func regionCandidates(si *SpanIndex, region Rect, hay, needle []rune) []textMatch {
	var cands []textMatch
	for _, c := range scanCandidates(hay, needle) {
		if si.RangeBBox(c.start, c.end).Intersects(region) {
			cands = append(cands, c)
		}
	}
	return cands
}

// scanCandidates finds every page-wide occurrence, falling back to the
// alphanumeric compact form when the exact text does not appear.
func scanCandidates(hay, needle []rune) []textMatch {
	var cands []textMatch
	for _, off := range findOccurrences(hay, needle) {
		cands = append(cands, textMatch{start: off, end: off + len(needle)})
	}
	if len(cands) > 0 {
		return cands
	}
	return compactMatches(hay, needle, 0)
}

// compactMatches searches with whitespace and punctuation removed from
// both sides, mapping hits back to page text offsets.
func compactMatches(hay, needle []rune, base int) []textMatch {
	chay, cmap := compactText(string(hay))
	cneedle, _ := compactText(string(needle))
	cn := []rune(cneedle)
	if len(cn) == 0 {
		return nil
	}
	var cands []textMatch
	for _, off := range findOccurrences([]rune(chay), cn) {
		start := cmap[off]
		end := cmap[off+len(cn)-1] + 1
		cands = append(cands, textMatch{start: base + start, end: base + end, compact: true})
	}
	return cands
}

// sortCandidatesReading orders candidates top-to-bottom then left-to-right
// by their glyph boxes.
func sortCandidatesReading(si *SpanIndex, cands []textMatch) {
	type ranked struct {
		m   textMatch
		box Rect
	}
	rs := make([]ranked, len(cands))
	for i, c := range cands {
		rs[i] = ranked{c, si.RangeBBox(c.start, c.end)}
	}
	sort.SliceStable(rs, func(i, j int) bool {
		if d := rs[i].box.Y1 - rs[j].box.Y1; d > yTolerance || d < -yTolerance {
			return rs[i].box.Y1 > rs[j].box.Y1
		}
		return rs[i].box.X0 < rs[j].box.X0
	})
	for i, r := range rs {
		cands[i] = r.m
	}
}

// contextMatches compares the candidate's surrounding text against the
// entry's fingerprint context on the overlapping length.
func contextMatches(si *SpanIndex, c textMatch, entry *MappingEntry) bool {
	text := []rune(si.Text)
	if entry.Prefix != "" {
		want := lowerRunes(clipTail(NormalizeForMatch(entry.Prefix), fingerprintClip))
		lo := c.start - fingerprintClip
		if lo < 0 {
			lo = 0
		}
		if !overlapSuffix(lowerRunes(string(text[lo:c.start])), want) {
			return false
		}
	}
	if entry.Suffix != "" {
		want := lowerRunes(clipHead(NormalizeForMatch(entry.Suffix), fingerprintClip))
		hi := c.end + fingerprintClip
		if hi > len(text) {
			hi = len(text)
		}
		if !overlapPrefix(lowerRunes(string(text[c.end:hi])), want) {
			return false
		}
	}
	return true
}

// overlapSuffix reports whether the shorter of the two rune slices equals
// the tail of the longer one.
func overlapSuffix(actual, want []rune) bool {
	n := len(actual)
	if len(want) < n {
		n = len(want)
	}
	for i := 1; i <= n; i++ {
		if actual[len(actual)-i] != want[len(want)-i] {
			return false
		}
	}
	return true
}

// overlapPrefix reports whether the shorter of the two rune slices equals
// the head of the longer one.
func overlapPrefix(actual, want []rune) bool {
	n := len(actual)
	if len(want) < n {
		n = len(want)
	}
	for i := 0; i < n; i++ {
		if actual[i] != want[i] {
			return false
		}
	}
	return true
}

// pageOrdinal places the chosen match among all page occurrences of its
// own search family.
func pageOrdinal(hay, needle []rune, m textMatch) int {
	var starts []int
	if m.compact {
		for _, c := range compactMatches(hay, needle, 0) {
			starts = append(starts, c.start)
		}
	} else {
		starts = findOccurrences(hay, needle)
	}
	ord := 0
	for _, s := range starts {
		if s < m.start {
			ord++
		}
	}
	return ord
}
