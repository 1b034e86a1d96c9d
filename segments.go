// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"fmt"

	"github.com/sassoftware/viya-pdf-rewrite/logger"
)

// segElem is one element of a show operator as it contributes to the
// segment text. String elements keep their raw bytes and per-rune code
// ranges so a splice can re-emit untouched parts verbatim. Kern elements
// cover one rune when they stand for a visual space and zero runes
// otherwise. A synthetic element (elem < 0) marks the space inserted for
// a line move before the operator and re-emits nothing.
type segElem struct {
	elem      int
	kern      bool
	space     bool
	runeStart int
	runeEnd   int
	codes     []DecodedRune
	raw       []byte
	val       float64
}

// Segment is the decoded text of one show operator. Start and End are
// rune offsets into the page's linearized text, which is the
// concatenation of all segment texts in operator order.
type Segment struct {
	OpIndex   int
	Font      string
	Size      float64
	Text      string
	Start     int
	End       int
	LineBreak bool
	// Kerns records the local rune offset of each synthetic space with
	// the kern value that produced it.
	Kerns map[int]float64

	elems []segElem
}

// codecFor returns the codec registered for a font name, falling back to
// a byte-per-glyph view when the font carries no usable mapping.
func codecFor(fonts map[string]FontCodec, name string) FontCodec {
	if c, ok := fonts[name]; ok && c != nil {
		return c
	}
	return NewLatin1Codec(name)
}

// fontState is the text state tracked across operators: q/Q save and
// restore it, Tf replaces it.
type fontState struct {
	name string
	size float64
}

// ExtractSegments walks a page's operators and decodes every show
// operator into a segment. It returns the segments, the show operator
// count, and the rune length of the linearized text.
func ExtractSegments(ops []TextOp, fonts map[string]FontCodec, spaceKern float64) ([]Segment, int, int) {
	var segs []Segment
	var stack []fontState
	cur := fontState{}
	offset := 0
	showOps := 0
	pendingBreak := false

	for i, op := range ops {
		switch op.Op {
		case "Tf":
			if len(op.Args) == 2 && op.Args[0].Kind == ArgName && op.Args[1].Kind == ArgNumber {
				cur = fontState{op.Args[0].Name, op.Args[1].Num}
			}
		case "q":
			stack = append(stack, cur)
		case "Q":
			if n := len(stack); n > 0 {
				cur = stack[n-1]
				stack = stack[:n-1]
			}
		case "Td", "TD", "Tm", "T*":
			pendingBreak = true
		case "Tj", "'", "\"", "TJ":
			showOps++
			seg := buildSegment(i, op, cur, codecFor(fonts, cur.name), spaceKern)
			if op.Op == "'" || op.Op == "\"" {
				pendingBreak = true
			}
			if pendingBreak && len(segs) > 0 {
				seg.leadingSpace()
			}
			pendingBreak = false
			seg.Start = offset
			seg.End = offset + len([]rune(seg.Text))
			offset = seg.End
			segs = append(segs, seg)
		}
	}
	return segs, showOps, offset
}

// leadingSpace prefixes the segment with a synthetic space standing for
// the line move before its operator.
func (s *Segment) leadingSpace() {
	s.LineBreak = true
	s.Text = " " + s.Text
	for i := range s.elems {
		s.elems[i].runeStart++
		s.elems[i].runeEnd++
	}
	kerns := make(map[int]float64, len(s.Kerns))
	for k, v := range s.Kerns {
		kerns[k+1] = v
	}
	s.Kerns = kerns
	s.elems = append([]segElem{{elem: -1, kern: true, space: true, runeStart: 0, runeEnd: 1}}, s.elems...)
}

// buildSegment decodes one show operator. TJ concatenates its strings
// into a single segment and turns kerns at or below the space threshold
// into synthetic spaces.
func buildSegment(opIndex int, op TextOp, cur fontState, codec FontCodec, spaceKern float64) Segment {
	seg := Segment{OpIndex: opIndex, Font: cur.name, Size: cur.size, Kerns: map[int]float64{}}
	var text []rune

	addString := func(elem int, raw []byte) {
		codes := codec.Decode(raw)
		e := segElem{elem: elem, runeStart: len(text), codes: codes, raw: raw}
		for _, dr := range codes {
			text = append(text, dr.R)
		}
		e.runeEnd = len(text)
		seg.elems = append(seg.elems, e)
	}
	addKern := func(elem int, v float64) {
		e := segElem{elem: elem, kern: true, runeStart: len(text), runeEnd: len(text), val: v}
		if v <= spaceKern {
			e.space = true
			seg.Kerns[len(text)] = v
			text = append(text, ' ')
			e.runeEnd = len(text)
		}
		seg.elems = append(seg.elems, e)
	}

	switch op.Op {
	case "Tj":
		if len(op.Args) == 1 && op.Args[0].Kind == ArgString {
			addString(0, op.Args[0].Str)
		}
	case "'":
		if len(op.Args) == 1 && op.Args[0].Kind == ArgString {
			addString(0, op.Args[0].Str)
		}
	case "\"":
		if len(op.Args) == 3 && op.Args[2].Kind == ArgString {
			addString(2, op.Args[2].Str)
		}
	case "TJ":
		if len(op.Args) != 1 || op.Args[0].Kind != ArgArray {
			logger.Debug(fmt.Sprintf("skipping malformed TJ at op %d", opIndex))
			break
		}
		for ei, a := range op.Args[0].Arr {
			switch a.Kind {
			case ArgString:
				addString(ei, a.Str)
			case ArgNumber:
				addKern(ei, a.Num)
			}
		}
	}
	seg.Text = string(text)
	return seg
}

// textRange returns the local rune range of the segment inside the
// linearized interval [start, end), clamped to the segment.
func (s *Segment) textRange(start, end int) (int, int, bool) {
	lo := start - s.Start
	hi := end - s.Start
	n := len([]rune(s.Text))
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	if lo >= hi {
		return 0, 0, false
	}
	return lo, hi, true
}
