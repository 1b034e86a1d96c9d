// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"errors"
)

var (
	// ErrNoGeometry marks a page whose glyph layer is structurally absent.
	// It is fatal for the whole render.
	ErrNoGeometry = errors.New("page glyph geometry absent")

	// ErrSplitFailed marks a text-show op the substitute-font strategy
	// could not split cleanly.
	ErrSplitFailed = errors.New("text-show split failed")

	// ErrRasterUnavailable marks a container without a raster source.
	ErrRasterUnavailable = errors.New("raster source unavailable")
)

// FailureClass labels a recoverable failure in the run report.
type FailureClass string

const (
	EntryFailure   FailureClass = "entry"
	SpanFailure    FailureClass = "span"
	PageFailure    FailureClass = "page"
	OverlayFailure FailureClass = "overlay"
)

// Failure is one recoverable failure recorded during a render. The render
// continues past it; callers inspect the list on the final stats.
type Failure struct {
	Class  FailureClass `json:"class"`
	Page   int          `json:"page"`
	QLabel string       `json:"q_label,omitempty"`
	Reason string       `json:"reason"`
}
