// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEntry() MappingEntry {
	return MappingEntry{
		QLabel:      "q1",
		Original:    "total",
		Replacement: "sum",
		Page:        1,
		StartPos:    10,
		EndPos:      15,
	}
}

func TestMappingEntry_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*MappingEntry)
		shouldErr bool
	}{
		{"valid", func(e *MappingEntry) {}, false},
		{"missing label", func(e *MappingEntry) { e.QLabel = "" }, true},
		{"missing original", func(e *MappingEntry) { e.Original = "" }, true},
		{"missing replacement", func(e *MappingEntry) { e.Replacement = "" }, true},
		{"zero page", func(e *MappingEntry) { e.Page = 0 }, true},
		{"end before start", func(e *MappingEntry) { e.StartPos = 15; e.EndPos = 10 }, true},
		{"end equals start", func(e *MappingEntry) { e.EndPos = e.StartPos }, true},
		{"original only zero width", func(e *MappingEntry) { e.Original = "​⁠" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEntry()
			tt.mutate(&e)
			err := e.Validate()
			if tt.shouldErr {
				assert.Error(t, err, "expected validation error")
			} else {
				assert.NoError(t, err, "expected valid entry")
			}
		})
	}
}

func TestMappingEntry_ValidateNamesEntry(t *testing.T) {
	e := validEntry()
	e.EndPos = 0
	err := e.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "q1")
}

func TestFingerprintKey(t *testing.T) {
	k1 := fingerprintKey("the first ", "2", " of two", 0)
	k2 := fingerprintKey("the first ", "2", " of two", 0)
	assert.Equal(t, k1, k2, "key must be deterministic")

	// occurrence ordinal separates otherwise identical contexts
	k3 := fingerprintKey("the first ", "2", " of two", 1)
	assert.NotEqual(t, k1, k3)

	// context beyond the clip window is ignored
	long := strings.Repeat("x", 100) + "near context "
	k4 := fingerprintKey(long, "2", " of two", 0)
	k5 := fingerprintKey("IGNORED"+long, "2", " of two", 0)
	assert.Equal(t, k4, k5)
}

func TestParseMappings(t *testing.T) {
	src := `[{"q_label":"q1","original":"total","replacement":"sum","page":2,"start_pos":4,"end_pos":9,"occurrence":1}]`
	entries, err := ParseMappings(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "q1", entries[0].QLabel)
	assert.Equal(t, 2, entries[0].Page)
	assert.Equal(t, 1, entries[0].Occurrence)
}

func TestParseMappings_Invalid(t *testing.T) {
	src := `[{"q_label":"q1","original":"total","replacement":"sum","page":2,"start_pos":9,"end_pos":4}]`
	_, err := ParseMappings(strings.NewReader(src))
	assert.Error(t, err, "expected validation error")
}
