// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/sassoftware/viya-pdf-rewrite/logger"
)

// overlayPad widens each patched region so antialiased glyph edges at the
// clip boundary are covered.
const overlayPad = 1.0

// OverlayPatch records one raster patch composited over a page region.
type OverlayPatch struct {
	Page int
	Clip Rect
	Img  image.Image
}

// overlayCompositor pastes rasters of the original page over regions the
// text rewrite could not render faithfully. It patches appearance only and
// never replaces a text rewrite.
type overlayCompositor struct {
	doc DocumentContainer
	cfg Config
}

func newOverlayCompositor(doc DocumentContainer, cfg Config) *overlayCompositor {
	return &overlayCompositor{doc: doc, cfg: cfg}
}

// overlayRegions picks the rects to patch on one page: every span edit
// flagged for scaling, plus every located region when the applied share of
// the page's records falls below floor. Overlapping rects are merged.
func overlayRegions(entries []SpanRewriteEntry, recs []*ReplacementRecord, floor float64) []Rect {
	var regions []Rect
	for _, e := range entries {
		if e.RequiresScaling && !e.BBox.Empty() {
			regions = append(regions, padRect(e.BBox))
		}
	}

	planned, applied := 0, 0
	for _, rec := range recs {
		if rec.Loc == nil {
			continue
		}
		planned++
		if rec.Applied {
			applied++
		}
	}
	if planned > 0 && float64(applied)/float64(planned) < floor {
		for _, rec := range recs {
			if rec.Loc != nil && !rec.Loc.BBox.Empty() {
				regions = append(regions, padRect(rec.Loc.BBox))
			}
		}
	}
	return mergeRects(regions)
}

// apply rasterizes and composites every region. A missing raster source
// records one skip for the page; other failures are recorded per region.
func (oc *overlayCompositor) apply(page int, regions []Rect) ([]OverlayPatch, []Failure) {
	var patches []OverlayPatch
	var fails []Failure
	for _, clip := range regions {
		img, err := oc.doc.RasterizeRect(page, clip, oc.cfg.OverlayDPI)
		if err != nil {
			if errors.Is(err, ErrRasterUnavailable) {
				logger.Debug(fmt.Sprintf("overlay skipped on page %d: %v", page, err))
				fails = append(fails, Failure{Class: OverlayFailure, Page: page, Reason: err.Error()})
				break
			}
			logger.Warn(fmt.Sprintf("overlay raster failed on page %d: %v", page, err))
			fails = append(fails, Failure{Class: OverlayFailure, Page: page, Reason: err.Error()})
			continue
		}
		img = scaleToRect(img, clip, oc.cfg.OverlayDPI)
		if err := oc.doc.ApplyOverlay(page, clip, img); err != nil {
			logger.Warn(fmt.Sprintf("overlay composite failed on page %d: %v", page, err))
			fails = append(fails, Failure{Class: OverlayFailure, Page: page, Reason: err.Error()})
			continue
		}
		patches = append(patches, OverlayPatch{Page: page, Clip: clip, Img: img})
	}
	return patches, fails
}

// scaleToRect resamples img to the pixel size of clip at the given DPI.
// Images already at that size pass through untouched.
func scaleToRect(img image.Image, clip Rect, dpi int) image.Image {
	w := int(math.Round(clip.Width() * float64(dpi) / 72))
	h := int(math.Round(clip.Height() * float64(dpi) / 72))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func padRect(r Rect) Rect {
	return Rect{X0: r.X0 - overlayPad, Y0: r.Y0 - overlayPad, X1: r.X1 + overlayPad, Y1: r.Y1 + overlayPad}
}

// mergeRects unions intersecting rects until none overlap.
func mergeRects(rs []Rect) []Rect {
	for {
		merged := false
		for i := 0; i < len(rs) && !merged; i++ {
			for j := i + 1; j < len(rs); j++ {
				if rs[i].Intersects(rs[j]) {
					rs[i] = rs[i].Union(rs[j])
					rs = append(rs[:j], rs[j+1:]...)
					merged = true
					break
				}
			}
		}
		if !merged {
			return rs
		}
	}
}
