// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
)

// MappingEntry is one requested replacement together with the context hints
// that pin it to a single occurrence on a single page.
type MappingEntry struct {
	QLabel      string `json:"q_label" validate:"required"`
	Original    string `json:"original" validate:"required"`
	Replacement string `json:"replacement" validate:"required"`
	Page        int    `json:"page" validate:"gte=1"`

	// Hints, in descending priority: explicit span IDs, selection
	// geometry, stem bbox of the surrounding text.
	SelectionSpanIDs []int  `json:"selection_span_ids,omitempty"`
	SelectionBBox    *Rect  `json:"selection_bbox,omitempty"`
	SelectionQuads   []Quad `json:"selection_quads,omitempty"`
	StemBBox         *Rect  `json:"stem_bbox,omitempty"`

	// Fingerprint context captured when the substring was first found in
	// the stem text. Prefix and suffix are clipped to fingerprintClip runes.
	Prefix     string `json:"prefix,omitempty"`
	Suffix     string `json:"suffix,omitempty"`
	Occurrence int    `json:"occurrence,omitempty" validate:"gte=0"`

	// Half-open rune offsets of the substring in the stem text.
	StartPos int `json:"start_pos" validate:"gte=0"`
	EndPos   int `json:"end_pos" validate:"gtfield=StartPos"`
}

// fingerprintClip bounds the prefix/suffix context kept in a fingerprint.
const fingerprintClip = 32

// Validate checks the entry's structural invariants. The returned error
// names the offending entry.
func (e *MappingEntry) Validate() error {
	validate := validator.New()
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("mapping entry %q: %w", e.QLabel, err)
	}
	if NormalizeForMatch(e.Original) == "" {
		return fmt.Errorf("mapping entry %q: original empty after normalization", e.QLabel)
	}
	return nil
}

// FingerprintKey identifies the occurrence this entry was captured against.
func (e *MappingEntry) FingerprintKey() string {
	return fingerprintKey(e.Prefix, e.Original, e.Suffix, e.Occurrence)
}

// fingerprintKey hashes a normalized occurrence context into a stable key.
// Prefix and suffix are clipped so drifting far context cannot change the
// key.
func fingerprintKey(prefix, original, suffix string, occurrence int) string {
	prefix = clipTail(NormalizeForMatch(prefix), fingerprintClip)
	suffix = clipHead(NormalizeForMatch(suffix), fingerprintClip)
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d", prefix, NormalizeForMatch(original), suffix, occurrence)
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// clipTail keeps the last n runes of s.
func clipTail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// clipHead keeps the first n runes of s.
func clipHead(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ParseMappings decodes a JSON array of mapping entries and validates each
// one.
func ParseMappings(r io.Reader) ([]MappingEntry, error) {
	var entries []MappingEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding mapping entries: %w", err)
	}
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// LoadMappingFile reads mapping entries from a JSON file.
func LoadMappingFile(path string) ([]MappingEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening mapping file: %w", err)
	}
	defer f.Close()
	return ParseMappings(f)
}
