// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// alignment maps each rune of the page's normalized geometry text to its
// rune offset in the linearized segment text, -1 where no segment rune
// could be attributed. The confidence grades how well the two texts agree
// overall.
type alignment struct {
	gToS       []int
	confidence float64
}

// indexRunesFrom returns the first occurrence of needle in hay at or
// after from, or -1.
func indexRunesFrom(hay, needle []rune, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i+len(needle) <= len(hay); i++ {
		match := true
		for j := range needle {
			if hay[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// alignGeometry anchors each span's normalized text inside the normalized
// linearized segment text, walking a cursor forward so repeated spans land
// on successive stream positions.
func alignGeometry(si *SpanIndex, segs []Segment) alignment {
	var lin strings.Builder
	for _, s := range segs {
		lin.WriteString(s.Text)
	}
	linNorm, linMap := BuildNormalizedMap(lin.String())
	linRunes := lowerRunes(linNorm)
	a := alignment{gToS: make([]int, len([]rune(si.Text)))}
	for i := range a.gToS {
		a.gToS[i] = -1
	}

	cursor := 0
	for id := range si.Spans {
		span := lowerRunes(si.Spans[id].Norm)
		if len(span) == 0 {
			continue
		}
		idx := indexRunesFrom(linRunes, span, cursor)
		if idx < 0 {
			// out-of-order stream, retry from the top
			idx = indexRunesFrom(linRunes, span, 0)
		}
		if idx < 0 {
			continue
		}
		for k := range span {
			a.gToS[si.starts[id]+k] = linMap[idx+k]
		}
		cursor = idx + len(span)
	}
	a.confidence = textSimilarity(si.Text, linNorm)
	return a
}

// textSimilarity is the Levenshtein similarity of the compacted texts,
// in [0,1].
func textSimilarity(a, b string) float64 {
	ca, _ := compactText(a)
	cb, _ := compactText(b)
	ca = strings.ToLower(ca)
	cb = strings.ToLower(cb)
	la := len([]rune(ca))
	lb := len([]rune(cb))
	if la == 0 && lb == 0 {
		return 1
	}
	max := la
	if lb > max {
		max = lb
	}
	sim := 1 - float64(fuzzy.LevenshteinDistance(ca, cb))/float64(max)
	if sim < 0 {
		return 0
	}
	return sim
}

// segmentRange projects a page text range into linearized segment
// offsets, skipping unattributed runes. False when nothing in the range
// was aligned.
func (a alignment) segmentRange(normStart, normEnd int) (int, int, bool) {
	lo, hi := -1, -1
	for off := normStart; off < normEnd && off < len(a.gToS); off++ {
		if off < 0 {
			continue
		}
		s := a.gToS[off]
		if s < 0 {
			continue
		}
		if lo < 0 || s < lo {
			lo = s
		}
		if s >= hi {
			hi = s + 1
		}
	}
	if lo < 0 {
		return 0, 0, false
	}
	return lo, hi, true
}
