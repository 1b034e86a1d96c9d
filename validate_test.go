// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appliedRecord(qLabel, matched, emitted string) *ReplacementRecord {
	return &ReplacementRecord{
		Entry:    &MappingEntry{QLabel: qLabel, Original: matched, Replacement: emitted},
		Loc:      &LocateResult{Page: 1, Matched: matched},
		Applied:  true,
		Strategy: LiteralStrategy,
		Emitted:  emitted,
	}
}

func checksFor(t *testing.T, p *fakePage, cfg Config, recs ...*ReplacementRecord) []rewriteCheck {
	t.Helper()
	segs, _, _ := ExtractSegments(p.ops, p.fonts, cfg.SpaceKernThreshold)
	checks := buildChecks(linearizeSegments(segs), recs, cfg)
	require.Len(t, checks, len(recs))
	return checks
}

func TestValidateCleanRewrite(t *testing.T) {
	cfg := NewDefaultConfig()
	p := &fakePage{ops: []TextOp{opTf("F1", 10), opTj([]byte("Hello world"))}, fonts: latinFonts()}
	doc := newFakeDocument(p)

	checks := checksFor(t, p, cfg, appliedRecord("q1", "world", "earth"))
	assert.Equal(t, 1, checks[0].origBefore)

	require.NoError(t, doc.WritePageOps(1, []TextOp{opTf("F1", 10), opTj([]byte("Hello earth"))}))
	assert.NoError(t, validateRender(doc, cfg, checks))
}

func TestValidateOriginalStillPresent(t *testing.T) {
	cfg := NewDefaultConfig()
	p := &fakePage{ops: []TextOp{opTf("F1", 10), opTj([]byte("Hello world"))}, fonts: latinFonts()}
	doc := newFakeDocument(p)

	checks := checksFor(t, p, cfg, appliedRecord("q1", "world", "earth"))

	// Nothing written back: the original survives and the replacement is
	// missing.
	err := validateRender(doc, cfg, checks)
	require.Error(t, err)
	verr := &ValidationError{}
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 2, verr.Total)
	assert.Contains(t, verr.Mismatches[0], "original \"world\"")
	assert.Contains(t, verr.Mismatches[1], "replacement \"earth\"")
}

// Replacing the second of two equal tokens must leave the first alone.
func TestValidateSecondOccurrenceKept(t *testing.T) {
	cfg := NewDefaultConfig()
	p := &fakePage{ops: []TextOp{opTf("F1", 10), opTj([]byte("2 2"))}, fonts: latinFonts()}
	doc := newFakeDocument(p)

	checks := checksFor(t, p, cfg, appliedRecord("q1", "2", "3"))
	assert.Equal(t, 2, checks[0].origBefore)

	require.NoError(t, doc.WritePageOps(1, []TextOp{opTf("F1", 10), opTj([]byte("2 3"))}))
	assert.NoError(t, validateRender(doc, cfg, checks))
}

func TestValidateInvisibleOriginal(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.KeepInvisibleOriginal = true
	p := &fakePage{ops: []TextOp{opTf("F1", 10), opTj([]byte("Hello world"))}, fonts: latinFonts()}
	doc := newFakeDocument(p)

	rec := appliedRecord("q1", "world", "hi")
	rec.Strategy = SubstituteFontStrategy
	checks := checksFor(t, p, cfg, rec)
	assert.True(t, checks[0].invisible)

	// The substitute shows "hi" and re-emits "world" in invisible mode.
	require.NoError(t, doc.WritePageOps(1, []TextOp{
		opTf("F1", 10), opTj([]byte("Hello ")),
		opTf("Frw0", 10), opTj([]byte("hi")),
		opTf("F1", 10), opTr(3), opTj([]byte("world")), opTr(0),
	}))
	assert.NoError(t, validateRender(doc, cfg, checks))
}

func TestValidateMismatchCap(t *testing.T) {
	cfg := NewDefaultConfig()
	p := &fakePage{ops: []TextOp{opTf("F1", 10), opTj([]byte("a b c d e f"))}, fonts: latinFonts()}
	doc := newFakeDocument(p)

	var recs []*ReplacementRecord
	for i, tok := range []string{"a", "b", "c", "d", "e", "f"} {
		recs = append(recs, appliedRecord(fmt.Sprintf("q%d", i+1), tok, ""))
	}
	checks := checksFor(t, p, cfg, recs...)

	err := validateRender(doc, cfg, checks)
	verr := &ValidationError{}
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 6, verr.Total)
	assert.Len(t, verr.Mismatches, 5, "descriptions capped at five")
}

func TestValidateReextractionFailure(t *testing.T) {
	cfg := NewDefaultConfig()
	doc := newFakeDocument(fakeTextPage("Hello world"))

	rec := appliedRecord("q1", "world", "earth")
	rec.Loc.Page = 9
	checks := buildChecks("hello world", []*ReplacementRecord{rec}, cfg)

	err := validateRender(doc, cfg, checks)
	verr := &ValidationError{}
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, verr.Total)
	assert.Contains(t, verr.Mismatches[0], "re-extraction failed")
}

func TestCountTextOverlapping(t *testing.T) {
	assert.Equal(t, 2, countText("aaa", "aa"))
	assert.Equal(t, 0, countText("abc", ""))
	assert.Equal(t, 1, countText("index i", "index"))
}
