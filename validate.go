// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"fmt"
	"sort"
	"strings"
)

// maxValidationMismatches caps the mismatch descriptions carried in a
// ValidationError; Total still counts all of them.
const maxValidationMismatches = 5

// ValidationError aggregates the post-render mismatches.
type ValidationError struct {
	Mismatches []string
	Total      int
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("post-render validation: %d mismatches", e.Total)
	if len(e.Mismatches) > 0 {
		msg += ": " + strings.Join(e.Mismatches, "; ")
	}
	return msg
}

// rewriteCheck is the before-state of one applied entry: normalized
// original and emitted text plus their occurrence counts in the page's
// pre-rewrite stream text. An invisible check left the original
// extractable underneath the replacement.
type rewriteCheck struct {
	qLabel      string
	page        int
	original    string
	replacement string
	origBefore  int
	replBefore  int
	invisible   bool
}

// buildChecks captures a before-count for every applied record against the
// page's linearized stream text.
func buildChecks(lin string, recs []*ReplacementRecord, cfg Config) []rewriteCheck {
	before := NormalizeForCompare(lin)
	var checks []rewriteCheck
	for _, rec := range recs {
		if !rec.Applied || rec.Loc == nil {
			continue
		}
		orig := NormalizeForCompare(rec.Loc.Matched)
		if orig == "" {
			continue
		}
		repl := NormalizeForCompare(rec.Emitted)
		checks = append(checks, rewriteCheck{
			qLabel:      rec.Entry.QLabel,
			page:        rec.Loc.Page,
			original:    orig,
			replacement: repl,
			origBefore:  countText(before, orig),
			replBefore:  countText(before, repl),
			invisible:   cfg.KeepInvisibleOriginal && rec.Strategy == SubstituteFontStrategy,
		})
	}
	return checks
}

// validateRender re-extracts every rewritten page and checks each applied
// entry: the original occurrence is gone and the emitted replacement
// appears exactly once more. Expected counts account for entries whose
// original and replacement texts contain each other.
func validateRender(doc DocumentContainer, cfg Config, checks []rewriteCheck) error {
	if len(checks) == 0 {
		return nil
	}

	byPage := make(map[int][]rewriteCheck)
	for _, c := range checks {
		byPage[c.page] = append(byPage[c.page], c)
	}
	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	var mismatches []string
	total := 0
	record := func(format string, args ...interface{}) {
		total++
		if len(mismatches) < maxValidationMismatches {
			mismatches = append(mismatches, fmt.Sprintf(format, args...))
		}
	}

	for _, page := range pages {
		pageChecks := byPage[page]
		after, err := extractPageText(doc, cfg, page)
		if err != nil {
			for _, c := range pageChecks {
				record("%s on page %d: re-extraction failed: %v", c.qLabel, page, err)
			}
			continue
		}
		for _, c := range pageChecks {
			wantOrig := c.origBefore
			for _, d := range pageChecks {
				wantOrig += countText(d.replacement, c.original)
				if !d.invisible {
					wantOrig -= countText(d.original, c.original)
				}
			}
			if got := countText(after, c.original); got != wantOrig {
				record("%s on page %d: original %q seen %d times, want %d", c.qLabel, page, c.original, got, wantOrig)
			}
			if c.replacement == "" {
				continue
			}
			wantRepl := c.replBefore
			for _, d := range pageChecks {
				wantRepl += countText(d.replacement, c.replacement)
				if !d.invisible {
					wantRepl -= countText(d.original, c.replacement)
				}
			}
			if got := countText(after, c.replacement); got != wantRepl {
				record("%s on page %d: replacement %q seen %d times, want %d", c.qLabel, page, c.replacement, got, wantRepl)
			}
		}
	}

	if total == 0 {
		return nil
	}
	return &ValidationError{Mismatches: mismatches, Total: total}
}

// extractPageText reads the page's current operators back and linearizes
// them the same way the rewrite pipeline did.
func extractPageText(doc DocumentContainer, cfg Config, page int) (string, error) {
	ops, err := doc.PageOps(page)
	if err != nil {
		return "", err
	}
	fonts, err := doc.PageFonts(page)
	if err != nil {
		return "", err
	}
	segs, _, _ := ExtractSegments(ops, fonts, cfg.SpaceKernThreshold)
	return NormalizeForCompare(linearizeSegments(segs)), nil
}

// linearizeSegments joins the extracted segment text in stream order.
func linearizeSegments(segs []Segment) string {
	var sb strings.Builder
	for _, seg := range segs {
		sb.WriteString(seg.Text)
	}
	return sb.String()
}

// countText counts the occurrences of needle in hay, both already
// normalized. Overlapping occurrences all count.
func countText(hay, needle string) int {
	if needle == "" {
		return 0
	}
	return len(findOccurrences([]rune(hay), []rune(needle)))
}
