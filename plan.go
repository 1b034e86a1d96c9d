// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"fmt"
	"strings"

	"github.com/sassoftware/viya-pdf-rewrite/logger"
)

// PlanMethod names how a record's stream range was derived.
type PlanMethod string

const (
	// AlignedPlan projects the glyph range through the geometry-to-stream
	// alignment.
	AlignedPlan PlanMethod = "aligned"
	// DirectPlan searches the linearized segment text for the matched
	// text.
	DirectPlan PlanMethod = "direct"
	// CompactPlan searches with whitespace and punctuation stripped.
	CompactPlan PlanMethod = "compact"
)

// ReplacementRecord is one accepted edit: a half-open rune range in the
// linearized segment text plus the width the replacement must occupy.
// Applied, Strategy and Emitted are filled in by the rewriter; Emitted is
// the text actually drawn, which differs from the requested replacement
// when it was abbreviated or dropped markers.
type ReplacementRecord struct {
	Entry     *MappingEntry
	Loc       *LocateResult
	Start     int
	End       int
	Method    PlanMethod
	OrigWidth float64
	Applied   bool
	Strategy  RewriteStrategy
	Emitted   string
}

// locatedEntry pairs a mapping entry with its location on the page.
type locatedEntry struct {
	entry *MappingEntry
	loc   *LocateResult
}

// planContext holds the page's linearized text and its normalized view,
// shared by every entry planned on the page.
type planContext struct {
	segs    []Segment
	lin     []rune
	linNorm []rune
	linMap  []int
	cfg     Config
}

func newPlanContext(segs []Segment, cfg Config) *planContext {
	var b strings.Builder
	for _, s := range segs {
		b.WriteString(s.Text)
	}
	norm, m := BuildNormalizedMap(b.String())
	return &planContext{
		segs:    segs,
		lin:     []rune(b.String()),
		linNorm: lowerRunes(norm),
		linMap:  m,
		cfg:     cfg,
	}
}

// planReplacements derives a stream range for every located entry and
// rejects conflicts. Rejections are per-entry failures, never fatal.
func planReplacements(located []locatedEntry, segs []Segment, a alignment, cfg Config) ([]*ReplacementRecord, []Failure) {
	pc := newPlanContext(segs, cfg)
	var recs []*ReplacementRecord
	var fails []Failure

	for _, le := range located {
		rec, reason := pc.planOne(le, a)
		if rec == nil {
			logger.Warn(fmt.Sprintf("dropping %s on page %d: %s", le.entry.QLabel, le.loc.Page, reason))
			fails = append(fails, Failure{Class: EntryFailure, Page: le.loc.Page, QLabel: le.entry.QLabel, Reason: reason})
			continue
		}
		if prev := overlapping(recs, rec); prev != nil {
			reason := fmt.Sprintf("range [%d,%d) overlaps accepted entry %s", rec.Start, rec.End, prev.Entry.QLabel)
			logger.Warn(fmt.Sprintf("dropping %s on page %d: %s", le.entry.QLabel, le.loc.Page, reason))
			fails = append(fails, Failure{Class: EntryFailure, Page: le.loc.Page, QLabel: le.entry.QLabel, Reason: reason})
			continue
		}
		recs = append(recs, rec)
	}
	return recs, fails
}

func overlapping(recs []*ReplacementRecord, r *ReplacementRecord) *ReplacementRecord {
	for _, prev := range recs {
		if r.Start < prev.End && prev.Start < r.End {
			return prev
		}
	}
	return nil
}

func (pc *planContext) planOne(le locatedEntry, a alignment) (*ReplacementRecord, string) {
	loc := le.loc
	method := AlignedPlan
	var lo, hi int
	ok := false

	if a.confidence >= pc.cfg.MinAlignConfidence {
		lo, hi, ok = a.segmentRange(loc.NormStart, loc.NormEnd)
		if ok && !pc.sliceMatches(lo, hi, loc.Matched) {
			ok = false
		}
	}
	if !ok {
		lo, hi, ok = pc.directRange(loc)
		method = DirectPlan
	}
	if !ok {
		lo, hi, ok = pc.compactRange(loc)
		method = CompactPlan
	}
	if !ok {
		return nil, fmt.Sprintf("no stream range found for %q", loc.Matched)
	}

	if lo < 0 {
		lo = 0
	}
	if hi > len(pc.lin) {
		hi = len(pc.lin)
	}
	if lo >= hi {
		return nil, "empty stream range after clamping"
	}

	return &ReplacementRecord{
		Entry:     le.entry,
		Loc:       loc,
		Start:     lo,
		End:       hi,
		Method:    method,
		OrigWidth: pc.originalWidth(loc, lo),
	}, ""
}

// sliceMatches checks that the aligned slice still reads as the matched
// text, up to whitespace and punctuation.
func (pc *planContext) sliceMatches(lo, hi int, matched string) bool {
	if lo < 0 || hi > len(pc.lin) || lo >= hi {
		return false
	}
	got, _ := compactText(NormalizeForMatch(string(pc.lin[lo:hi])))
	want, _ := compactText(NormalizeForMatch(matched))
	return strings.EqualFold(got, want)
}

// directRange searches the normalized linearized text for the matched
// text, honoring the annotated context and occurrence.
func (pc *planContext) directRange(loc *LocateResult) (int, int, bool) {
	needle := lowerRunes(NormalizeForMatch(loc.Matched))
	occs := findOccurrences(pc.linNorm, needle)
	if len(occs) == 0 {
		return 0, 0, false
	}
	if len(occs) > 1 && (loc.Prefix != "" || loc.Suffix != "") {
		var kept []int
		for _, i := range occs {
			if pc.contextFits(i, i+len(needle), loc) {
				kept = append(kept, i)
			}
		}
		if len(kept) > 0 {
			occs = kept
		}
	}
	i := occs[0]
	if loc.Occurrence > 0 && loc.Occurrence < len(occs) {
		i = occs[loc.Occurrence]
	}
	return pc.linMap[i], pc.linMap[i+len(needle)-1] + 1, true
}

func (pc *planContext) contextFits(start, end int, loc *LocateResult) bool {
	if loc.Prefix != "" {
		lo := start - fingerprintClip
		if lo < 0 {
			lo = 0
		}
		if !overlapSuffix(pc.linNorm[lo:start], lowerRunes(loc.Prefix)) {
			return false
		}
	}
	if loc.Suffix != "" {
		hi := end + fingerprintClip
		if hi > len(pc.linNorm) {
			hi = len(pc.linNorm)
		}
		if !overlapPrefix(pc.linNorm[end:hi], lowerRunes(loc.Suffix)) {
			return false
		}
	}
	return true
}

// compactRange retries the search with whitespace and punctuation
// stripped from both sides.
func (pc *planContext) compactRange(loc *LocateResult) (int, int, bool) {
	clin, cmap := compactText(string(pc.linNorm))
	cneedle, _ := compactText(string(lowerRunes(NormalizeForMatch(loc.Matched))))
	cn := []rune(cneedle)
	if len(cn) == 0 {
		return 0, 0, false
	}
	occs := findOccurrences([]rune(clin), cn)
	if len(occs) == 0 {
		return 0, 0, false
	}
	i := occs[0]
	if loc.Occurrence > 0 && loc.Occurrence < len(occs) {
		i = occs[loc.Occurrence]
	}
	return pc.linMap[cmap[i]], pc.linMap[cmap[i+len(cn)-1]] + 1, true
}

// originalWidth is the page-space width the replacement must fill, from
// the located quads when present.
func (pc *planContext) originalWidth(loc *LocateResult, lo int) float64 {
	w := 0.0
	for _, q := range loc.Quads {
		w += q.Bounds().Width()
	}
	if w == 0 {
		w = loc.BBox.Width()
	}
	if w == 0 {
		w = estimateTextWidth(loc.Matched, pc.sizeAt(lo, loc.Size), pc.cfg.FixedWidthRatio)
	}
	return w
}

// sizeAt is the font size of the segment containing the offset.
func (pc *planContext) sizeAt(off int, fallback float64) float64 {
	for _, s := range pc.segs {
		if off >= s.Start && off < s.End && s.Size > 0 {
			return s.Size
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 12
}
