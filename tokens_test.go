// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rewriterFor(cfg Config, fonts map[string]FontCodec) *tokenRewriter {
	return newTokenRewriter(rewriteEnv{
		cfg:     cfg,
		fonts:   fonts,
		subFont: func() (string, error) { return "Frw0", nil },
	})
}

func literalConfig() Config {
	cfg := NewDefaultConfig()
	cfg.Strategies = []RewriteStrategy{LiteralStrategy}
	return cfg
}

func helloWorldPage() ([]TextOp, []Segment, map[string]FontCodec) {
	fonts := latinFonts()
	ops := []TextOp{opTf("F1", 10), opTj([]byte("Hello world"))}
	segs, _, _ := ExtractSegments(ops, fonts, -80)
	return ops, segs, fonts
}

func worldRecord(repl string, width float64) *ReplacementRecord {
	return &ReplacementRecord{
		Entry:     &MappingEntry{QLabel: "q1", Original: "world", Replacement: repl},
		Loc:       &LocateResult{Page: 1},
		Start:     6,
		End:       11,
		OrigWidth: width,
	}
}

func TestRewriteLiteral(t *testing.T) {
	ops, segs, fonts := helloWorldPage()
	rec := worldRecord("earth", 30)

	out := rewriterFor(literalConfig(), fonts).Apply(ops, segs, []*ReplacementRecord{rec})
	assert.Equal(t, 1, out.Applied)
	assert.Empty(t, out.Failures)
	assert.True(t, rec.Applied)
	assert.Equal(t, LiteralStrategy, rec.Strategy)

	body := string(WriteContentStream(out.Ops))
	assert.Contains(t, body, "(Hello earth) Tj")
	assert.NotContains(t, body, "world")
}

// Kerns outside the replaced range survive, kerns strictly inside are
// dropped.
func TestRewriteLiteralTJKerns(t *testing.T) {
	fonts := latinFonts()
	ops := []TextOp{
		opTf("F1", 10),
		opTJ([]Arg{
			strArg([]byte("foo")),
			numArg(-40),
			strArg([]byte("bar")),
			numArg(-120),
			strArg([]byte("baz")),
		}),
	}
	segs, _, _ := ExtractSegments(ops, fonts, -80)
	require.Equal(t, "foobar baz", segs[0].Text)

	// replace "bar": both kerns are outside the range
	rec := &ReplacementRecord{
		Entry: &MappingEntry{QLabel: "q1", Original: "bar", Replacement: "qux"},
		Loc:   &LocateResult{Page: 1},
		Start: 3, End: 6, OrigWidth: 18,
	}
	out := rewriterFor(literalConfig(), fonts).Apply(ops, segs, []*ReplacementRecord{rec})
	body := string(WriteContentStream(out.Ops))
	assert.Contains(t, body, "[(foo) -40 (qux) -120 (baz)] TJ")

	// replace "ooba": the -40 kern is strictly inside and goes away
	segs, _, _ = ExtractSegments(ops, fonts, -80)
	rec = &ReplacementRecord{
		Entry: &MappingEntry{QLabel: "q2", Original: "ooba", Replacement: "X"},
		Loc:   &LocateResult{Page: 1},
		Start: 1, End: 5, OrigWidth: 24,
	}
	out = rewriterFor(literalConfig(), fonts).Apply(ops, segs, []*ReplacementRecord{rec})
	body = string(WriteContentStream(out.Ops))
	assert.Contains(t, body, "[(fXr) -120 (baz)] TJ")
}

func TestRewriteSubstituteFont(t *testing.T) {
	ops, segs, fonts := helloWorldPage()
	rec := worldRecord("hi", 30)

	out := rewriterFor(NewDefaultConfig(), fonts).Apply(ops, segs, []*ReplacementRecord{rec})
	assert.Equal(t, 1, out.Applied)
	assert.False(t, out.LiteralFallback)
	assert.Equal(t, SubstituteFontStrategy, rec.Strategy)

	body := string(WriteContentStream(out.Ops))
	assert.Contains(t, body, "(Hello ) Tj")
	assert.Contains(t, body, "/Frw0 10 Tf")
	assert.Contains(t, body, "(hi) Tj")
	assert.Contains(t, body, "/F1 10 Tf", "original font restored")
	// leftover width: 30 - 2*10*0.6 = 18pt at 10pt font
	assert.Contains(t, body, "[-1800] TJ")
}

// Too wide for the slot even at minimum size: shrink, then abbreviate
// with an ellipsis.
func TestRewriteSubstituteAbbreviates(t *testing.T) {
	ops, segs, fonts := helloWorldPage()
	rec := worldRecord("extraordinarily long replacement", 30)

	out := rewriterFor(NewDefaultConfig(), fonts).Apply(ops, segs, []*ReplacementRecord{rec})
	require.Equal(t, 1, out.Applied)

	body := string(WriteContentStream(out.Ops))
	assert.Contains(t, body, "/Frw0 4 Tf", "shrunk to the minimum readable size")
	assert.Contains(t, body, "(extraordi...) Tj")
}

func TestRewriteSubstituteEmptyReplacement(t *testing.T) {
	ops, segs, fonts := helloWorldPage()
	rec := worldRecord("", 30)

	out := rewriterFor(NewDefaultConfig(), fonts).Apply(ops, segs, []*ReplacementRecord{rec})
	require.Equal(t, 1, out.Applied)

	body := string(WriteContentStream(out.Ops))
	assert.NotContains(t, body, "Frw0", "no substitute font for a pure spacing edit")
	assert.Contains(t, body, "[(Hello ) -3000] TJ", "original width consumed by spacing")
}

func TestRewriteInvisibleOriginal(t *testing.T) {
	ops, segs, fonts := helloWorldPage()
	cfg := NewDefaultConfig()
	cfg.KeepInvisibleOriginal = true
	rec := worldRecord("hi", 30)

	out := rewriterFor(cfg, fonts).Apply(ops, segs, []*ReplacementRecord{rec})
	require.Equal(t, 1, out.Applied)

	body := string(WriteContentStream(out.Ops))
	assert.Contains(t, body, "(hi) Tj")
	assert.Contains(t, body, "[1200] TJ", "rewind over the replacement width")
	assert.Contains(t, body, "3 Tr\n(world) Tj\n0 Tr", "original re-emitted invisibly")
	assert.NotContains(t, body, "[-1800] TJ", "no residual kern in invisible mode")
}

// Substitute-font failure falls back to rewriting the page literally.
func TestRewriteSplitFailureFallsBack(t *testing.T) {
	ops, segs, fonts := helloWorldPage()
	rec := worldRecord("earth", 30)

	tr := newTokenRewriter(rewriteEnv{
		cfg:     NewDefaultConfig(),
		fonts:   fonts,
		subFont: func() (string, error) { return "", errors.New("no font resources") },
	})
	out := tr.Apply(ops, segs, []*ReplacementRecord{rec})
	assert.True(t, out.LiteralFallback)
	assert.Equal(t, 1, out.Applied)
	assert.Equal(t, LiteralStrategy, rec.Strategy)
	assert.Contains(t, string(WriteContentStream(out.Ops)), "(Hello earth) Tj")
}

// A replacement the font cannot encode is a per-entry failure; the page
// is otherwise untouched.
func TestRewriteLiteralUnencodable(t *testing.T) {
	fonts := map[string]FontCodec{"F2": NewCmapCodec("F2", []byte(sampleCMap))}
	ops := []TextOp{opTf("F2", 10), opTj([]byte{0x00, 0x61, 0x00, 0x62, 0x00, 0x63})}
	segs, _, _ := ExtractSegments(ops, fonts, -80)
	require.Equal(t, "abc", segs[0].Text)

	rec := &ReplacementRecord{
		Entry: &MappingEntry{QLabel: "q1", Original: "abc", Replacement: "zzz"},
		Loc:   &LocateResult{Page: 3},
		Start: 0, End: 3, OrigWidth: 18,
	}
	out := rewriterFor(literalConfig(), fonts).Apply(ops, segs, []*ReplacementRecord{rec})
	assert.Equal(t, 0, out.Applied)
	assert.False(t, rec.Applied)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, EntryFailure, out.Failures[0].Class)
	assert.Equal(t, 3, out.Failures[0].Page)
	assert.Contains(t, out.Failures[0].Reason, "not encodable")
	assert.Equal(t, string(WriteContentStream(ops)), string(WriteContentStream(out.Ops)))
}

// A range spanning two show ops puts the replacement in the first and
// kerns out the rest.
func TestRewriteAcrossSegments(t *testing.T) {
	fonts := latinFonts()
	ops := []TextOp{
		opTf("F1", 10),
		opTj([]byte("foo ba")),
		opNum("Td", 0, -14),
		opTj([]byte("r baz")),
	}
	segs, _, _ := ExtractSegments(ops, fonts, -80)
	require.Len(t, segs, 2)
	require.Equal(t, " r baz", segs[1].Text)

	// linearized "foo ba r baz": replace "ba r" at [4,8)
	rec := &ReplacementRecord{
		Entry: &MappingEntry{QLabel: "q1", Original: "ba r", Replacement: "XY"},
		Loc:   &LocateResult{Page: 1},
		Start: 4, End: 8, OrigWidth: 24,
	}
	out := rewriterFor(NewDefaultConfig(), fonts).Apply(jointOps(ops), segs, []*ReplacementRecord{rec})
	require.Equal(t, 1, out.Applied)

	body := string(WriteContentStream(out.Ops))
	assert.Contains(t, body, "(XY) Tj")
	assert.Contains(t, body, "[-1200 ( baz)] TJ", "deleted glyphs keep their advance")
	assert.NotContains(t, body, "(r baz)")
}

func jointOps(ops []TextOp) []TextOp {
	return append([]TextOp(nil), ops...)
}

func TestRewriteQuoteConversion(t *testing.T) {
	fonts := latinFonts()
	ops := []TextOp{
		opTf("F1", 10),
		opTj([]byte("head")),
		{Op: "'", Args: []Arg{strArg([]byte("hello world"))}},
	}
	segs, _, _ := ExtractSegments(ops, fonts, -80)
	require.Equal(t, " hello world", segs[1].Text)

	rec := &ReplacementRecord{
		Entry: &MappingEntry{QLabel: "q1", Original: "world", Replacement: "earth"},
		Loc:   &LocateResult{Page: 1},
		Start: 11, End: 16, OrigWidth: 30,
	}
	out := rewriterFor(literalConfig(), fonts).Apply(ops, segs, []*ReplacementRecord{rec})
	require.Equal(t, 1, out.Applied)

	body := string(WriteContentStream(out.Ops))
	assert.Contains(t, body, "T*\n(hello earth) Tj", "quote operator becomes an explicit line move")
}

func TestFitReplacement(t *testing.T) {
	tr := rewriterFor(NewDefaultConfig(), latinFonts())
	seg := &Segment{Font: "F1", Size: 10}

	rec := worldRecord("hi", 30)
	text, size := tr.fitReplacement(rec, seg)
	assert.Equal(t, "hi", text)
	assert.Equal(t, 10.0, size, "short replacement keeps the original size")

	rec = worldRecord("longer text", 30)
	text, size = tr.fitReplacement(rec, seg)
	assert.Equal(t, "longer text", text)
	assert.InDelta(t, 30.0/(11*0.6), size, 0.001, "scaled so widths match")
	assert.GreaterOrEqual(t, size, NewDefaultConfig().MinFontSize)

	// 2 characters of room: single character survives
	rec = worldRecord("anything", 4.8)
	text, size = tr.fitReplacement(rec, seg)
	assert.Equal(t, "a", text)
	assert.Equal(t, NewDefaultConfig().MinFontSize, size)

	// no room at all
	rec = worldRecord("anything", 1)
	text, _ = tr.fitReplacement(rec, seg)
	assert.Equal(t, "", text)
}

func TestFitReplacementExactMeasurer(t *testing.T) {
	cfg := NewDefaultConfig()
	tr := newTokenRewriter(rewriteEnv{
		cfg:   cfg,
		fonts: latinFonts(),
		measure: func(font string, size float64, text string) (float64, bool) {
			// a wide metric forces scaling where the ratio model would not
			return float64(len(text)) * size * 2, true
		},
	})
	seg := &Segment{Font: "F1", Size: 10}
	rec := worldRecord("hi", 30)

	text, size := tr.fitReplacement(rec, seg)
	assert.Equal(t, "hi", text)
	assert.InDelta(t, 7.5, size, 0.001, fmt.Sprintf("40pt measured into 30pt slot: %f", size))
}
