// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"crypto/sha256"
	"strings"
)

// markerAlphabet is the fixed eight-symbol zero-width alphabet markers are
// drawn from. Every symbol is in the normalization strip set, so marked
// text normalizes identically to unmarked text.
var markerAlphabet = [8]rune{
	'​',
	'‌',
	'‍',
	'⁠',
	'⁡',
	'⁢',
	'⁣',
	'⁤',
}

// markerLen is the number of code points in every marker.
const markerLen = 6

// EncodeMarker derives the zero-width marker for a context string. The
// marker is exactly six code points chosen from the alphabet by the leading
// bytes of the context's SHA-256, so equal contexts always produce equal
// markers. Decoding is strip-only: the context is not recoverable.
func EncodeMarker(context string) string {
	sum := sha256.Sum256([]byte(context))
	var b strings.Builder
	for i := 0; i < markerLen; i++ {
		b.WriteRune(markerAlphabet[int(sum[i])%len(markerAlphabet)])
	}
	return b.String()
}

// StripMarkers removes every marker-alphabet code point from s, restoring
// the unmarked original.
func StripMarkers(s string) string {
	return strings.Map(func(r rune) rune {
		for _, m := range markerAlphabet {
			if r == m {
				return -1
			}
		}
		return r
	}, s)
}

// HasMarker reports whether s contains any marker-alphabet code point.
func HasMarker(s string) bool {
	return strings.ContainsFunc(s, func(r rune) bool {
		for _, m := range markerAlphabet {
			if r == m {
				return true
			}
		}
		return false
	})
}
