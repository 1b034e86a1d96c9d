// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"encoding/hex"
	"fmt"
	"unicode/utf16"

	"github.com/sassoftware/viya-pdf-rewrite/logger"
)

// byteRange is one codespace range; low and high are raw code bytes of
// equal length, compared lexically.
type byteRange struct {
	low  string
	high string
}

// bfrange maps a contiguous code range to either a base target string
// (incremented per code) or an explicit per-code target array.
type bfrange struct {
	lo  string
	hi  string
	dst string
	arr []string
}

// cmap is a parsed ToUnicode mapping: codespace ranges split by code byte
// length, exact char mappings, and range mappings. Targets are raw UTF-16BE
// byte strings, decoded at resolve time.
type cmap struct {
	space  [4][]byteRange
	chars  map[string]string
	ranges []bfrange
	lens   [4]bool
}

// codeLen returns how many bytes the next code occupies, preferring the
// declared codespace ranges and falling back to mapping key lengths.
func (m *cmap) codeLen(raw []byte) int {
	for n := 1; n <= 4 && n <= len(raw); n++ {
		code := string(raw[:n])
		for _, r := range m.space[n-1] {
			if len(r.low) == n && r.low <= code && code <= r.high {
				return n
			}
		}
	}
	for n := 1; n <= 4 && n <= len(raw); n++ {
		if m.lens[n-1] && m.resolvable(string(raw[:n])) {
			return n
		}
	}
	return 1
}

// resolvable reports whether code has an exact or range mapping.
func (m *cmap) resolvable(code string) bool {
	if _, ok := m.chars[code]; ok {
		return true
	}
	for _, r := range m.ranges {
		if len(r.lo) == len(code) && r.lo <= code && code <= r.hi {
			return true
		}
	}
	return false
}

// resolve maps one code to its Unicode text, or "" when unmapped.
func (m *cmap) resolve(code string) string {
	if repl, ok := m.chars[code]; ok {
		return utf16Decode(repl)
	}
	for _, r := range m.ranges {
		if len(r.lo) != len(code) || code < r.lo || code > r.hi {
			continue
		}
		off := byteStringDiff(code, r.lo)
		if r.arr != nil {
			if off < len(r.arr) {
				return utf16Decode(r.arr[off])
			}
			return ""
		}
		return utf16Decode(addToByteString(r.dst, off))
	}
	return ""
}

// eachMapping enumerates every (code, text) pair of the cmap. Ranges wider
// than 1<<16 codes are skipped; no real ToUnicode range exceeds that.
func (m *cmap) eachMapping(fn func(code, text string)) {
	for code, repl := range m.chars {
		fn(code, utf16Decode(repl))
	}
	for _, r := range m.ranges {
		n := byteStringDiff(r.hi, r.lo)
		if n < 0 || n >= 1<<16 {
			continue
		}
		for off := 0; off <= n; off++ {
			code := addToByteString(r.lo, off)
			if r.arr != nil {
				if off < len(r.arr) {
					fn(code, utf16Decode(r.arr[off]))
				}
				continue
			}
			fn(code, utf16Decode(addToByteString(r.dst, off)))
		}
	}
}

// byteStringDiff treats a and b as big-endian integers and returns a-b.
func byteStringDiff(a, b string) int {
	if len(a) != len(b) {
		return -1
	}
	d := 0
	for i := 0; i < len(a); i++ {
		d = d<<8 + int(a[i]) - int(b[i])
	}
	return d
}

// addToByteString adds n to s interpreted as a big-endian integer,
// carrying across bytes.
func addToByteString(s string, n int) string {
	b := []byte(s)
	for i := len(b) - 1; i >= 0 && n != 0; i-- {
		n += int(b[i])
		b[i] = byte(n & 0xFF)
		n >>= 8
	}
	return string(b)
}

// utf16Decode interprets s as UTF-16BE bytes. A single byte is taken
// literally, as some producers emit single-byte bfchar targets.
func utf16Decode(s string) string {
	if len(s) == 1 {
		return s
	}
	var u []uint16
	for i := 0; i+1 < len(s); i += 2 {
		u = append(u, uint16(s[i])<<8|uint16(s[i+1]))
	}
	return string(utf16.Decode(u))
}

// cmap stream token kinds.
const (
	tokHex = iota
	tokWord
	tokArrayOpen
	tokArrayClose
)

type cmapToken struct {
	kind int
	hex  string
	word string
}

// cmapLexer produces the token stream of a ToUnicode CMap. Everything the
// parser does not care about (dicts, names, numbers, strings) comes through
// as words and is ignored upstream.
type cmapLexer struct {
	data []byte
	pos  int
}

func (l *cmapLexer) next() (cmapToken, bool) {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == 0:
			l.pos++
		case c == '%':
			for l.pos < len(l.data) && l.data[l.pos] != '\n' {
				l.pos++
			}
		case c == '[':
			l.pos++
			return cmapToken{kind: tokArrayOpen}, true
		case c == ']':
			l.pos++
			return cmapToken{kind: tokArrayClose}, true
		case c == '<':
			if l.pos+1 < len(l.data) && l.data[l.pos+1] == '<' {
				l.pos += 2
				return cmapToken{kind: tokWord, word: "<<"}, true
			}
			start := l.pos + 1
			end := start
			for end < len(l.data) && l.data[end] != '>' {
				end++
			}
			l.pos = end
			if l.pos < len(l.data) {
				l.pos++
			}
			return cmapToken{kind: tokHex, hex: string(l.data[start:end])}, true
		case c == '>':
			l.pos++
			if l.pos < len(l.data) && l.data[l.pos] == '>' {
				l.pos++
			}
			return cmapToken{kind: tokWord, word: ">>"}, true
		default:
			start := l.pos
			for l.pos < len(l.data) && !isCmapDelim(l.data[l.pos]) {
				l.pos++
			}
			if l.pos == start {
				l.pos++
				continue
			}
			return cmapToken{kind: tokWord, word: string(l.data[start:l.pos])}, true
		}
	}
	return cmapToken{}, false
}

func isCmapDelim(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0, '<', '>', '[', ']', '%', '(', ')':
		return true
	}
	return false
}

// decodeCmapHex decodes the inside of a <...> token, padding odd digit
// counts with a trailing zero as PDF requires.
func decodeCmapHex(s string) (string, bool) {
	clean := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			continue
		}
		clean = append(clean, c)
	}
	if len(clean)%2 == 1 {
		clean = append(clean, '0')
	}
	out := make([]byte, len(clean)/2)
	if _, err := hex.Decode(out, clean); err != nil {
		return "", false
	}
	return string(out), true
}

// parseToUnicodeCMap parses the decoded bytes of a /ToUnicode stream.
// Unparseable sections are skipped so a partially damaged cmap still
// yields its usable mappings.
func parseToUnicodeCMap(data []byte) *cmap {
	m := &cmap{chars: make(map[string]string)}
	lex := &cmapLexer{data: data}

	var pending []string
	var inArray bool
	var arr []string
	section := ""

	flush := func() {
		switch section {
		case "codespace":
			for i := 0; i+1 < len(pending); i += 2 {
				lo, hi := pending[i], pending[i+1]
				if len(lo) >= 1 && len(lo) <= 4 && len(lo) == len(hi) {
					m.space[len(lo)-1] = append(m.space[len(lo)-1], byteRange{low: lo, high: hi})
				}
			}
		case "bfchar":
			for i := 0; i+1 < len(pending); i += 2 {
				code := pending[i]
				if len(code) >= 1 && len(code) <= 4 {
					m.chars[code] = pending[i+1]
					m.lens[len(code)-1] = true
				}
			}
		}
		pending = pending[:0]
	}

	// bfrange rows are consumed eagerly: lo, hi, then either a hex base or
	// an array of per-code targets.
	var rangeRow []string
	endRangeRow := func(arrDst []string) {
		if len(rangeRow) != 2 {
			rangeRow = rangeRow[:0]
			return
		}
		lo, hi := rangeRow[0], rangeRow[1]
		rangeRow = rangeRow[:0]
		if len(lo) < 1 || len(lo) > 4 || len(lo) != len(hi) {
			return
		}
		r := bfrange{lo: lo, hi: hi, arr: arrDst}
		m.lens[len(lo)-1] = true
		m.ranges = append(m.ranges, r)
	}

	for {
		tok, ok := lex.next()
		if !ok {
			break
		}
		switch tok.kind {
		case tokArrayOpen:
			inArray = true
			arr = arr[:0]
		case tokArrayClose:
			if inArray && section == "bfrange" {
				dst := make([]string, len(arr))
				copy(dst, arr)
				endRangeRow(dst)
			}
			inArray = false
		case tokHex:
			hx, okHex := decodeCmapHex(tok.hex)
			if !okHex {
				logger.Debug(fmt.Sprintf("Skipping malformed cmap hex: %q", tok.hex))
				continue
			}
			if inArray {
				arr = append(arr, hx)
				continue
			}
			switch section {
			case "bfrange":
				if len(rangeRow) == 2 {
					lo, hi := rangeRow[0], rangeRow[1]
					rangeRow = rangeRow[:0]
					if len(lo) >= 1 && len(lo) <= 4 && len(lo) == len(hi) {
						m.lens[len(lo)-1] = true
						m.ranges = append(m.ranges, bfrange{lo: lo, hi: hi, dst: hx})
					}
				} else {
					rangeRow = append(rangeRow, hx)
				}
			default:
				pending = append(pending, hx)
			}
		case tokWord:
			switch tok.word {
			case "begincodespacerange":
				section = "codespace"
				pending = pending[:0]
			case "endcodespacerange":
				flush()
				section = ""
			case "beginbfchar":
				section = "bfchar"
				pending = pending[:0]
			case "endbfchar":
				flush()
				section = ""
			case "beginbfrange":
				section = "bfrange"
				rangeRow = rangeRow[:0]
			case "endbfrange":
				rangeRow = rangeRow[:0]
				section = ""
			}
		}
	}
	flush()
	return m
}
