// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/sassoftware/viya-pdf-rewrite/logger"
)

// SpanRewriteEntry is one non-overlapping edit against a visual span,
// addressed in the span's normalized text. Scale factors never exceed 1;
// RequiresScaling marks replacements wider than the original slice.
type SpanRewriteEntry struct {
	SpanID          int     `json:"span_id"`
	QLabel          string  `json:"q_label"`
	Start           int     `json:"start"`
	End             int     `json:"end"`
	Original        string  `json:"original"`
	Replacement     string  `json:"replacement"`
	Font            string  `json:"font,omitempty"`
	Size            float64 `json:"size,omitempty"`
	BBox            Rect    `json:"bbox"`
	ScaleFactor     float64 `json:"scale_factor"`
	RequiresScaling bool    `json:"requires_scaling"`
}

// PageSpanPlan is the accepted span edits of one page.
type PageSpanPlan struct {
	Page    int                `json:"page"`
	Entries []SpanRewriteEntry `json:"entries"`
}

// SpanRewritePlan is the whole-document plan keyed by the render session
// token.
type SpanRewritePlan struct {
	Session string         `json:"session"`
	Pages   []PageSpanPlan `json:"pages"`
}

// WriteJSON writes the plan ordered by page index.
func (p *SpanRewritePlan) WriteJSON(w io.Writer) error {
	sort.Slice(p.Pages, func(i, j int) bool { return p.Pages[i].Page < p.Pages[j].Page })
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

// spanPlanBuilder accumulates edits per span and resolves conflicts:
// a new edit containing an existing one supersedes it, an edit contained
// in or partially overlapping an existing one is dropped.
type spanPlanBuilder struct {
	si      *SpanIndex
	cfg     Config
	entries map[int][]SpanRewriteEntry
}

func newSpanPlanBuilder(si *SpanIndex, cfg Config) *spanPlanBuilder {
	return &spanPlanBuilder{si: si, cfg: cfg, entries: make(map[int][]SpanRewriteEntry)}
}

// addRecord slices a planned replacement across the spans it crosses. The
// first span carries the replacement text, later spans get deletions.
func (b *spanPlanBuilder) addRecord(rec *ReplacementRecord) {
	loc := rec.Loc
	if loc == nil {
		return
	}
	first := true
	text := []rune(b.si.Text)
	for _, id := range loc.SpanIDs {
		sp := b.si.SpanByID(id)
		if sp == nil {
			continue
		}
		spanStart := b.si.starts[id]
		spanEnd := spanStart + b.si.lens[id]
		lo := loc.NormStart
		if spanStart > lo {
			lo = spanStart
		}
		hi := loc.NormEnd
		if spanEnd < hi {
			hi = spanEnd
		}
		if lo >= hi {
			continue
		}
		repl := ""
		if first {
			repl = rec.Entry.Replacement
			first = false
		}
		b.add(id, lo-spanStart, hi-spanStart, rec.Entry.QLabel, string(text[lo:hi]), repl)
	}
}

func (b *spanPlanBuilder) add(spanID, lo, hi int, qLabel, original, replacement string) {
	existing := b.entries[spanID]
	for _, e := range existing {
		if e.Start <= lo && hi <= e.End {
			logger.Debug(fmt.Sprintf("span %d: %s dropped, contained in %s", spanID, qLabel, e.QLabel))
			return
		}
		if lo <= e.Start && e.End <= hi {
			continue
		}
		if lo < e.End && e.Start < hi {
			logger.Debug(fmt.Sprintf("span %d: %s dropped, overlaps earlier edit %s", spanID, qLabel, e.QLabel))
			return
		}
	}
	kept := existing[:0]
	for _, e := range existing {
		if lo <= e.Start && e.End <= hi {
			logger.Debug(fmt.Sprintf("span %d: %s superseded by containing edit %s", spanID, e.QLabel, qLabel))
			continue
		}
		kept = append(kept, e)
	}
	b.entries[spanID] = append(kept, SpanRewriteEntry{
		SpanID:      spanID,
		QLabel:      qLabel,
		Start:       lo,
		End:         hi,
		Original:    original,
		Replacement: replacement,
	})
}

// finalize validates every accumulated edit against the span text,
// recovering drifted offsets by a direct then a compact search, and
// computes the scale factors.
func (b *spanPlanBuilder) finalize() ([]SpanRewriteEntry, []Failure) {
	var out []SpanRewriteEntry
	var fails []Failure

	ids := make([]int, 0, len(b.entries))
	for id := range b.entries {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		sp := b.si.SpanByID(id)
		if sp == nil {
			continue
		}
		es := b.entries[id]
		sort.Slice(es, func(i, j int) bool { return es[i].Start < es[j].Start })
		for _, e := range es {
			ok := b.revalidate(sp, &e)
			if !ok {
				fails = append(fails, Failure{
					Class:  SpanFailure,
					Page:   b.si.Page,
					QLabel: e.QLabel,
					Reason: fmt.Sprintf("span %d slice [%d,%d) does not read %q", id, e.Start, e.End, e.Original),
				})
				continue
			}
			b.finish(sp, &e)
			out = append(out, e)
		}
	}
	return out, fails
}

// revalidate checks the claimed slice, then tries the two recovery
// searches before giving up.
func (b *spanPlanBuilder) revalidate(sp *SpanRecord, e *SpanRewriteEntry) bool {
	norm := []rune(sp.Norm)
	want := lowerRunes(NormalizeForMatch(e.Original))
	if sliceReads(norm, e.Start, e.End, want) {
		return true
	}
	if idx := indexRunesFrom(lowerRunes(sp.Norm), want, 0); idx >= 0 {
		e.Start, e.End = idx, idx+len(want)
		return true
	}
	for _, m := range compactMatches(lowerRunes(sp.Norm), want, 0) {
		e.Start, e.End = m.start, m.end
		return true
	}
	return false
}

// sliceReads compares a normalized slice to the expected text, tolerating
// whitespace and punctuation drift.
func sliceReads(norm []rune, lo, hi int, want []rune) bool {
	if lo < 0 || hi > len(norm) || lo >= hi {
		return false
	}
	got, _ := compactText(string(lowerRunes(string(norm[lo:hi]))))
	exp, _ := compactText(string(want))
	return got == exp
}

// finish fills the geometry-derived fields of a validated entry.
func (b *spanPlanBuilder) finish(sp *SpanRecord, e *SpanRewriteEntry) {
	e.Font = sp.Font
	e.Size = sp.Size
	spanStart := b.si.starts[sp.ID]
	e.BBox = b.si.RangeBBox(spanStart+e.Start, spanStart+e.End)

	e.ScaleFactor = 1
	if e.Replacement != "" {
		origW := e.BBox.Width()
		replW := estimateTextWidth(e.Replacement, sp.Size, b.cfg.FixedWidthRatio)
		if origW > 0 && replW > origW {
			e.ScaleFactor = origW / replW
		}
	}
	e.RequiresScaling = e.ScaleFactor < 0.999
}

// buildPageSpanPlan turns a page's replacement records into the span
// plan consumed by out-of-band renderers.
func buildPageSpanPlan(si *SpanIndex, cfg Config, recs []*ReplacementRecord) (PageSpanPlan, []Failure) {
	b := newSpanPlanBuilder(si, cfg)
	for _, rec := range recs {
		b.addRecord(rec)
	}
	entries, fails := b.finalize()
	return PageSpanPlan{Page: si.Page, Entries: entries}, fails
}
