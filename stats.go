// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"encoding/json"
	"io"
)

// RewriteStats aggregates the counters of one render. Failures lists the
// recoverable problems the render continued past.
type RewriteStats struct {
	Pages               int       `json:"pages"`
	TextShowOps         int       `json:"text_show_ops"`
	TokensScanned       int       `json:"tokens_scanned"`
	MatchesFound        int       `json:"matches_found"`
	ReplacementsApplied int       `json:"replacements_applied"`
	PlanEntries         int       `json:"plan_entries"`
	OverlayPatches      int       `json:"overlay_patches"`
	Failures            []Failure `json:"failures,omitempty"`
}

// WriteJSON writes the stats indented for CLI and log consumers.
func (s *RewriteStats) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// failuresOf filters the recorded failures by class.
func (s *RewriteStats) failuresOf(class FailureClass) []Failure {
	var out []Failure
	for _, f := range s.Failures {
		if f.Class == class {
			out = append(out, f)
		}
	}
	return out
}
