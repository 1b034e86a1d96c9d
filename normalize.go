// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ligatures maps single presentation-form code points to their expansions.
var ligatures = map[rune]string{
	'ﬀ': "ff",
	'ﬁ': "fi",
	'ﬂ': "fl",
	'ﬃ': "ffi",
	'ﬄ': "ffl",
	'ﬅ': "ft",
	'ﬆ': "st",
	'æ': "ae",
	'Æ': "AE",
	'œ': "oe",
	'Œ': "OE",
}

// variants maps typographic quote, dash, space and ellipsis variants to
// their plain equivalents.
var variants = map[rune]string{
	'‘': "'",
	'’': "'",
	'‚': "'",
	'‛': "'",
	'′': "'",
	'“': `"`,
	'”': `"`,
	'„': `"`,
	'‟': `"`,
	'″': `"`,
	'«': `"`,
	'»': `"`,
	'‐': "-",
	'‑': "-",
	'‒': "-",
	'–': "-",
	'—': "-",
	'―': "-",
	'−': "-",
	'…': "...",
	' ': " ",
	' ': " ",
	' ': " ",
	' ': " ",
	' ': " ",
	' ': " ",
	' ': " ",
	' ': " ",
	' ': " ",
	' ': " ",
	' ': " ",
	' ': " ",
	' ': " ",
	' ': " ",
	'　': " ",
}

// zeroWidth is the strip set: these code points never survive
// normalization. The marker alphabet is a subset, so stripping also removes
// any embedded context markers.
var zeroWidth = map[rune]bool{
	'­':      true,
	'͏':      true,
	'​':      true,
	'‌':      true,
	'‍':      true,
	'‎':      true,
	'‏':      true,
	'⁠':      true,
	'⁡':      true,
	'⁢':      true,
	'⁣':      true,
	'⁤':      true,
	'\uFEFF': true,
}

// NormalizeForMatch folds s into the canonical matching form: NFC, ligature
// and quote/dash/space variant expansion, zero-width removal, and collapse
// of whitespace runs to a single space. Total; never fails; idempotent.
func NormalizeForMatch(s string) string {
	out, _ := BuildNormalizedMap(norm.NFC.String(s))
	return out
}

// NormalizeForCompare is NormalizeForMatch plus case folding.
func NormalizeForCompare(s string) string {
	return strings.ToLower(NormalizeForMatch(s))
}

// BuildNormalizedMap folds s rune by rune and returns the normalized string
// together with, for each normalized rune, the index of the source rune it
// came from. Ligature expansions map several normalized runes to one source
// index; collapsed whitespace maps to the first space of the run; stripped
// runes have no entry.
func BuildNormalizedMap(s string) (string, []int) {
	var b strings.Builder
	idx := make([]int, 0, len(s))
	lastSpace := false
	i := -1
	for _, r := range s {
		i++
		if zeroWidth[r] {
			continue
		}
		rep, ok := ligatures[r]
		if !ok {
			rep, ok = variants[r]
		}
		if !ok {
			rep = string(r)
		}
		for _, rr := range rep {
			if unicode.IsSpace(rr) {
				if lastSpace {
					continue
				}
				b.WriteRune(' ')
				idx = append(idx, i)
				lastSpace = true
				continue
			}
			b.WriteRune(rr)
			idx = append(idx, i)
			lastSpace = false
		}
	}
	return b.String(), idx
}

// compactText strips everything but letters and digits, returning the
// compact string and a map from each compact rune to its source rune index.
// Used for whitespace-insensitive and punctuation-insensitive matching.
func compactText(s string) (string, []int) {
	var b strings.Builder
	idx := make([]int, 0, len(s))
	i := -1
	for _, r := range s {
		i++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		b.WriteRune(r)
		idx = append(idx, i)
	}
	return b.String(), idx
}
