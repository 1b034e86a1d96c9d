// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"errors"
	"fmt"

	"github.com/sassoftware/viya-pdf-rewrite/logger"
)

// RewriteOutcome is the result of applying a page's replacement records.
type RewriteOutcome struct {
	Ops             []TextOp
	Applied         int
	Failures        []Failure
	LiteralFallback bool
}

// rewriteEnv carries the page-scoped collaborators the rewriter needs:
// the font table, the lazily ensured substitute font, and an optional
// exact text measurer.
type rewriteEnv struct {
	cfg     Config
	fonts   map[string]FontCodec
	subFont func() (string, error)
	measure func(font string, size float64, text string) (float64, bool)
}

type tokenRewriter struct {
	env rewriteEnv

	subName string
}

func newTokenRewriter(env rewriteEnv) *tokenRewriter {
	return &tokenRewriter{env: env}
}

// segEdit is one record's slice of one segment in local rune offsets.
// Only the record's first touched segment carries the insertion; later
// segments are deletions that keep their advance.
type segEdit struct {
	rec    *ReplacementRecord
	lo     int
	hi     int
	insert bool
}

// Apply rewrites the operator list according to the records, using the
// configured strategy order. A failed substitute-font split retries the
// whole page with the literal strategy; records are marked applied only
// on the attempt that sticks.
func (tr *tokenRewriter) Apply(ops []TextOp, segs []Segment, recs []*ReplacementRecord) RewriteOutcome {
	if len(recs) == 0 {
		return RewriteOutcome{Ops: ops}
	}
	primary := LiteralStrategy
	literalAvailable := false
	for i, s := range tr.env.cfg.Strategies {
		if i == 0 {
			primary = s
		}
		if s == LiteralStrategy {
			literalAvailable = true
		}
	}

	out, err := tr.applyWith(primary, ops, segs, recs)
	if err == nil {
		return out
	}
	if primary == SubstituteFontStrategy && literalAvailable && errors.Is(err, ErrSplitFailed) {
		logger.Warn(fmt.Sprintf("substitute-font split failed, retrying page literally: %v", err))
		for _, r := range recs {
			r.Applied = false
			r.Strategy = ""
			r.Emitted = ""
		}
		out, lerr := tr.applyWith(LiteralStrategy, ops, segs, recs)
		if lerr == nil {
			out.LiteralFallback = true
			return out
		}
		err = lerr
	}
	fail := Failure{Class: PageFailure, Page: pageOf(recs), Reason: err.Error()}
	logger.Error(fmt.Sprintf("page rewrite failed, original content retained: %v", err))
	return RewriteOutcome{Ops: ops, Failures: []Failure{fail}}
}

func pageOf(recs []*ReplacementRecord) int {
	for _, r := range recs {
		if r.Loc != nil {
			return r.Loc.Page
		}
	}
	return 0
}

// applyWith builds the rewritten operator list for one strategy. It never
// mutates the input ops; an error means nothing was applied.
func (tr *tokenRewriter) applyWith(strategy RewriteStrategy, ops []TextOp, segs []Segment, recs []*ReplacementRecord) (RewriteOutcome, error) {
	out := RewriteOutcome{}
	edits := make(map[int][]segEdit)
	segByOp := make(map[int]*Segment, len(segs))
	for i := range segs {
		segByOp[segs[i].OpIndex] = &segs[i]
	}

	for _, rec := range recs {
		segEdits, fail := tr.editsFor(strategy, segs, rec)
		if fail != nil {
			out.Failures = append(out.Failures, *fail)
			continue
		}
		for opIdx, e := range segEdits {
			edits[opIdx] = append(edits[opIdx], e)
		}
	}

	newOps := make([]TextOp, 0, len(ops))
	for i, op := range ops {
		es, ok := edits[i]
		if !ok {
			newOps = append(newOps, op)
			continue
		}
		seg := segByOp[i]
		built, err := tr.buildSegmentOps(strategy, op, seg, es)
		if err != nil {
			return RewriteOutcome{}, fmt.Errorf("splitting op %d: %w", i, err)
		}
		newOps = append(newOps, built...)
	}

	for _, rec := range recs {
		if rec.Applied {
			rec.Strategy = strategy
			out.Applied++
		}
	}
	out.Ops = newOps
	return out, nil
}

// editsFor slices one record across its touched segments. The literal
// strategy needs the replacement encodable in the first segment's font;
// failing that is a per-entry failure, not a page failure.
func (tr *tokenRewriter) editsFor(strategy RewriteStrategy, segs []Segment, rec *ReplacementRecord) (map[int]segEdit, *Failure) {
	touched := make(map[int]segEdit)
	first := true
	for _, seg := range segs {
		lo, hi, ok := seg.textRange(rec.Start, rec.End)
		if !ok {
			continue
		}
		e := segEdit{rec: rec, lo: lo, hi: hi}
		if first {
			e.insert = true
			if strategy == LiteralStrategy && rec.Entry.Replacement != "" {
				codec := codecFor(tr.env.fonts, seg.Font)
				if _, _, ok := encodeReplacement(codec, rec.Entry.Replacement); !ok {
					return nil, &Failure{
						Class:  EntryFailure,
						Page:   rec.Loc.Page,
						QLabel: rec.Entry.QLabel,
						Reason: fmt.Sprintf("replacement not encodable in font %s", seg.Font),
					}
				}
			}
			first = false
		}
		touched[seg.OpIndex] = e
	}
	if len(touched) == 0 {
		return nil, &Failure{
			Class:  EntryFailure,
			Page:   rec.Loc.Page,
			QLabel: rec.Entry.QLabel,
			Reason: "stream range touches no segment",
		}
	}
	return touched, nil
}

// encodeReplacement encodes text in the segment's font, retrying with
// invisible markers stripped before giving up. The second return is the
// text variant that encoded.
func encodeReplacement(codec FontCodec, text string) ([]byte, string, bool) {
	if b, ok := codec.Encode(text); ok {
		return b, text, true
	}
	if stripped := StripMarkers(text); stripped != text {
		if b, ok := codec.Encode(stripped); ok {
			logger.Debug(fmt.Sprintf("markers dropped for font %s", codec.Name()))
			return b, stripped, true
		}
	}
	return nil, "", false
}

// substituteFont resolves the page's substitute font once.
func (tr *tokenRewriter) substituteFont() (string, error) {
	if tr.subName != "" {
		return tr.subName, nil
	}
	if tr.env.subFont == nil {
		return "", fmt.Errorf("no substitute font source: %w", ErrSplitFailed)
	}
	name, err := tr.env.subFont()
	if err != nil || name == "" {
		return "", fmt.Errorf("ensuring substitute font: %v: %w", err, ErrSplitFailed)
	}
	tr.subName = name
	return name, nil
}

// widthOf measures text through the exact measurer when available, else
// the fixed-ratio model.
func (tr *tokenRewriter) widthOf(font string, size float64, text string) float64 {
	if tr.env.measure != nil {
		if w, ok := tr.env.measure(font, size, text); ok {
			return w
		}
	}
	return estimateTextWidth(text, size, tr.env.cfg.FixedWidthRatio)
}

// fitReplacement sizes the replacement into the original width: keep the
// original size while it fits, shrink toward the minimum readable size,
// then abbreviate.
func (tr *tokenRewriter) fitReplacement(rec *ReplacementRecord, seg *Segment) (string, float64) {
	text := StripMarkers(rec.Entry.Replacement)
	if text == "" {
		return "", seg.Size
	}
	origW := rec.OrigWidth
	if origW <= 0 {
		return text, seg.Size
	}
	w := tr.widthOf(substituteFontBase, seg.Size, text)
	if w <= origW {
		return text, seg.Size
	}
	size := seg.Size * origW / w
	if size >= tr.env.cfg.MinFontSize {
		return text, size
	}

	size = tr.env.cfg.MinFontSize
	maxChars := int(origW / (size * tr.env.cfg.FixedWidthRatio))
	runes := []rune(text)
	switch {
	case maxChars >= 3:
		keep := maxChars - 3
		if keep > len(runes) {
			keep = len(runes)
		}
		text = string(runes[:keep]) + "..."
	case maxChars >= 1:
		text = string(runes[:1])
	default:
		text = ""
	}
	return text, size
}

// coveredBytes concatenates the raw code bytes of the segment's runes in
// [lo,hi). Synthetic runes contribute nothing.
func coveredBytes(seg *Segment, lo, hi int) []byte {
	var out []byte
	for _, e := range seg.elems {
		if e.kern || len(e.codes) == 0 {
			continue
		}
		for r := e.runeStart; r < e.runeEnd; r++ {
			if r < lo || r >= hi {
				continue
			}
			c := e.codes[r-e.runeStart]
			out = append(out, e.raw[c.Start:c.End]...)
		}
	}
	return out
}

// opBuilder accumulates the rewritten operator sequence for one segment,
// grouping surviving show elements into TJ arrays between substitutions.
type opBuilder struct {
	origOp TextOp
	ops    []TextOp
	group  []Arg
}

func (b *opBuilder) pushArg(a Arg) {
	b.group = append(b.group, a)
}

// pushBytes merges adjacent string bytes into one array element.
func (b *opBuilder) pushBytes(raw []byte) {
	if len(raw) == 0 {
		return
	}
	if n := len(b.group); n > 0 && b.group[n-1].Kind == ArgString {
		merged := append(append([]byte{}, b.group[n-1].Str...), raw...)
		b.group[n-1] = strArg(merged)
		return
	}
	b.pushArg(strArg(raw))
}

func (b *opBuilder) flush() {
	if len(b.group) == 0 {
		return
	}
	if len(b.group) == 1 && b.group[0].Kind == ArgString && b.origOp.Op != "TJ" {
		b.ops = append(b.ops, opTj(b.group[0].Str))
	} else {
		b.ops = append(b.ops, opTJ(b.group))
	}
	b.group = nil
}

func (b *opBuilder) pushOp(op TextOp) {
	b.flush()
	b.ops = append(b.ops, op)
}

// buildSegmentOps rewrites one show operator with its edits, ordered by
// offset. The original operator is never modified in place.
func (tr *tokenRewriter) buildSegmentOps(strategy RewriteStrategy, op TextOp, seg *Segment, es []segEdit) ([]TextOp, error) {
	if seg == nil || len(seg.elems) == 0 {
		return nil, fmt.Errorf("segment has no elements: %w", ErrSplitFailed)
	}
	edits := append([]segEdit(nil), es...)
	for i := 0; i < len(edits); i++ {
		for j := i + 1; j < len(edits); j++ {
			if edits[j].lo < edits[i].lo {
				edits[i], edits[j] = edits[j], edits[i]
			}
		}
	}

	b := &opBuilder{origOp: op}
	switch op.Op {
	case "'":
		b.ops = append(b.ops, opTStar())
	case "\"":
		if len(op.Args) == 3 {
			b.ops = append(b.ops,
				opNum("Tw", op.Args[0].Num),
				opNum("Tc", op.Args[1].Num),
				opTStar())
		}
	}

	var pendingKern float64
	emitPending := func() {
		if pendingKern != 0 {
			b.pushArg(numArg(pendingKern))
			pendingKern = 0
		}
	}

	covering := func(r int) *segEdit {
		for i := range edits {
			if r >= edits[i].lo && r < edits[i].hi {
				return &edits[i]
			}
		}
		return nil
	}
	strictlyInside := func(p int) bool {
		for i := range edits {
			if p > edits[i].lo && p < edits[i].hi {
				return true
			}
		}
		return false
	}

	emitSubstitution := func(e *segEdit) error {
		if !e.insert {
			if strategy == SubstituteFontStrategy {
				// continuation slice: keep the advance, drop the glyphs
				w := tr.widthOf(seg.Font, seg.Size, string([]rune(seg.Text)[e.lo:e.hi]))
				if w > 0 && seg.Size > 0 {
					pendingKern += -w * 1000 / seg.Size
				}
			}
			e.rec.Applied = true
			return nil
		}
		switch strategy {
		case SubstituteFontStrategy:
			sub, err := tr.substituteFont()
			if err != nil {
				return err
			}
			text, size := tr.fitReplacement(e.rec, seg)
			origW := e.rec.OrigWidth
			if text == "" {
				if origW > 0 && seg.Size > 0 {
					pendingKern += -origW * 1000 / seg.Size
				}
				e.rec.Applied = true
				return nil
			}
			raw, _, ok := encodeReplacement(NewLatin1Codec(sub), text)
			if !ok {
				return fmt.Errorf("replacement %q not encodable in substitute font: %w", text, ErrSplitFailed)
			}
			e.rec.Emitted = text
			emitPending()
			b.pushOp(opTf(sub, size))
			b.ops = append(b.ops, opTj(raw))
			b.ops = append(b.ops, opTf(seg.Font, seg.Size))
			actualW := tr.widthOf(sub, size, text)
			if tr.env.cfg.KeepInvisibleOriginal {
				orig := coveredBytes(seg, e.lo, e.hi)
				if len(orig) > 0 && seg.Size > 0 {
					b.ops = append(b.ops, opTJ([]Arg{numArg(actualW * 1000 / seg.Size)}))
					b.ops = append(b.ops, opTr(3))
					b.ops = append(b.ops, opTj(orig))
					b.ops = append(b.ops, opTr(0))
				}
			} else if d := origW - actualW; d > 0.01 || d < -0.01 {
				if seg.Size > 0 {
					pendingKern += -d * 1000 / seg.Size
				}
			}
			e.rec.Applied = true
			return nil
		default:
			codec := codecFor(tr.env.fonts, seg.Font)
			raw, used, ok := encodeReplacement(codec, e.rec.Entry.Replacement)
			if !ok && e.rec.Entry.Replacement != "" {
				// filtered earlier; kept as a guard
				return fmt.Errorf("replacement not encodable in font %s: %w", seg.Font, ErrSplitFailed)
			}
			emitPending()
			b.pushBytes(raw)
			e.rec.Emitted = used
			e.rec.Applied = true
			return nil
		}
	}

	for _, e := range seg.elems {
		if e.kern {
			if e.space {
				if ed := covering(e.runeStart); ed != nil {
					if e.runeStart == editAnchor(ed) {
						if err := emitSubstitution(ed); err != nil {
							return nil, err
						}
					}
					continue
				}
				if e.elem >= 0 {
					emitPending()
					b.pushArg(numArg(e.val))
				}
				continue
			}
			if strictlyInside(e.runeStart) {
				continue
			}
			if e.elem >= 0 {
				emitPending()
				b.pushArg(numArg(e.val))
			}
			continue
		}

		for r := e.runeStart; r < e.runeEnd; r++ {
			ed := covering(r)
			if ed == nil {
				c := e.codes[r-e.runeStart]
				emitPending()
				b.pushBytes(e.raw[c.Start:c.End])
				continue
			}
			if r == editAnchor(ed) {
				if err := emitSubstitution(ed); err != nil {
					return nil, err
				}
			}
		}
	}
	emitPending()
	b.flush()
	return b.ops, nil
}

// editAnchor is the first covered rune of an edit, where its substitution
// is emitted.
func editAnchor(e *segEdit) int {
	return e.lo
}
