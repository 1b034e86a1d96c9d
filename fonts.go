// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// DecodedRune is one decoded rune together with the byte range of the code
// that produced it inside the raw string. Multi-rune targets (ligature
// mappings) share one byte range.
type DecodedRune struct {
	R     rune
	Start int
	End   int
}

// FontCodec maps between a font's code bytes and Unicode text.
type FontCodec interface {
	Name() string
	// Decode maps raw string bytes to runes with their code byte ranges.
	Decode(raw []byte) []DecodedRune
	// Encode maps text back to code bytes; false when any rune has no
	// reverse mapping in this font.
	Encode(text string) ([]byte, bool)
}

// decodedText concatenates the runes of a decode result.
func decodedText(runes []DecodedRune) string {
	var b strings.Builder
	for _, dr := range runes {
		b.WriteRune(dr.R)
	}
	return b.String()
}

// latin1Codec is the fallback for simple fonts without a usable ToUnicode
// map: one byte per code, code value taken as the code point.
type latin1Codec struct {
	name string
}

// NewLatin1Codec returns the single-byte passthrough codec.
func NewLatin1Codec(name string) FontCodec {
	return &latin1Codec{name: name}
}

func (c *latin1Codec) Name() string {
	return c.name
}

func (c *latin1Codec) Decode(raw []byte) []DecodedRune {
	out := make([]DecodedRune, len(raw))
	for i, b := range raw {
		out[i] = DecodedRune{R: rune(b), Start: i, End: i + 1}
	}
	return out
}

func (c *latin1Codec) Encode(text string) ([]byte, bool) {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		if r > 0xFF {
			return nil, false
		}
		out = append(out, byte(r))
	}
	return out, true
}

// cmapCodec decodes through a parsed ToUnicode cmap and re-encodes through
// the reverse mapping built from it.
type cmapCodec struct {
	name   string
	m      *cmap
	rev    map[string]string
	revMax int
}

// NewCmapCodec builds a codec from decoded /ToUnicode stream bytes. When
// two codes map to the same text the first one wins for encoding; decoding
// the chosen code still round-trips.
func NewCmapCodec(name string, toUnicode []byte) FontCodec {
	m := parseToUnicodeCMap(toUnicode)
	c := &cmapCodec{name: name, m: m, rev: make(map[string]string)}
	m.eachMapping(func(code, text string) {
		if text == "" {
			return
		}
		if _, ok := c.rev[text]; ok {
			return
		}
		c.rev[text] = code
		if n := len([]rune(text)); n > c.revMax {
			c.revMax = n
		}
	})
	return c
}

func (c *cmapCodec) Name() string {
	return c.name
}

func (c *cmapCodec) Decode(raw []byte) []DecodedRune {
	var out []DecodedRune
	for i := 0; i < len(raw); {
		n := c.m.codeLen(raw[i:])
		text := c.m.resolve(string(raw[i : i+n]))
		if text == "" {
			out = append(out, DecodedRune{R: '�', Start: i, End: i + n})
		} else {
			for _, r := range text {
				out = append(out, DecodedRune{R: r, Start: i, End: i + n})
			}
		}
		i += n
	}
	return out
}

func (c *cmapCodec) Encode(text string) ([]byte, bool) {
	var out []byte
	r := []rune(text)
	for i := 0; i < len(r); {
		limit := c.revMax
		if limit > len(r)-i {
			limit = len(r) - i
		}
		matched := false
		// longest-first so ligature targets win over their prefixes
		for n := limit; n >= 1; n-- {
			if code, ok := c.rev[string(r[i:i+n])]; ok {
				out = append(out, code...)
				i += n
				matched = true
				break
			}
		}
		if !matched {
			return nil, false
		}
	}
	return out, true
}

// substituteFontBase is the standard fixed-width font the substitute-font
// strategy switches to. Standard-14, so viewers supply it without
// embedding.
const substituteFontBase = "Courier"

// estimateTextWidth returns the advance width of text in points under the
// fixed-ratio width model. Wide (CJK) runes count as two cells.
func estimateTextWidth(text string, size, ratio float64) float64 {
	return float64(runewidth.StringWidth(text)) * size * ratio
}
