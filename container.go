// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"image"
)

// Rect is an axis-aligned rectangle in page space, origin bottom-left.
type Rect struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Width returns the horizontal extent of the rectangle.
func (r Rect) Width() float64 {
	return r.X1 - r.X0
}

// Height returns the vertical extent of the rectangle.
func (r Rect) Height() float64 {
	return r.Y1 - r.Y0
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.X1 <= r.X0 || r.Y1 <= r.Y0
}

// Intersects reports whether r and o share any area.
func (r Rect) Intersects(o Rect) bool {
	return r.X0 < o.X1 && o.X0 < r.X1 && r.Y0 < o.Y1 && o.Y0 < r.Y1
}

// Union returns the smallest rectangle covering both r and o.
func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	if o.X0 < r.X0 {
		r.X0 = o.X0
	}
	if o.Y0 < r.Y0 {
		r.Y0 = o.Y0
	}
	if o.X1 > r.X1 {
		r.X1 = o.X1
	}
	if o.Y1 > r.Y1 {
		r.Y1 = o.Y1
	}
	return r
}

// Quad is one glyph-run quadrilateral in PDF QuadPoints order:
// upper-left, upper-right, lower-left, lower-right (x,y pairs).
type Quad [8]float64

// QuadFromRect builds the axis-aligned quad covering r.
func QuadFromRect(r Rect) Quad {
	return Quad{r.X0, r.Y1, r.X1, r.Y1, r.X0, r.Y0, r.X1, r.Y0}
}

// Bounds returns the bounding rectangle of the quad.
func (q Quad) Bounds() Rect {
	r := Rect{X0: q[0], Y0: q[1], X1: q[0], Y1: q[1]}
	for i := 2; i < 8; i += 2 {
		if q[i] < r.X0 {
			r.X0 = q[i]
		}
		if q[i] > r.X1 {
			r.X1 = q[i]
		}
		if q[i+1] < r.Y0 {
			r.Y0 = q[i+1]
		}
		if q[i+1] > r.Y1 {
			r.Y1 = q[i+1]
		}
	}
	return r
}

// Char is one rendered glyph with its code point and bounding box.
type Char struct {
	R    rune
	BBox Rect
}

// GlyphSpan is a run of chars sharing font and size within one line.
type GlyphSpan struct {
	Font  string
	Size  float64
	BBox  Rect
	Chars []Char
}

// Line groups the spans sharing a baseline.
type Line struct {
	BBox  Rect
	Spans []GlyphSpan
}

// Block groups the lines of one layout region.
type Block struct {
	BBox  Rect
	Lines []Line
}

// DocumentContainer is the narrow surface the rewrite pipeline needs from a
// PDF library. Page numbers are 1-based throughout.
type DocumentContainer interface {
	// NumPage returns the number of pages in the document.
	NumPage() int

	// PageBlocks returns the rendered glyph layer of a page as
	// blocks -> lines -> spans -> chars. A page with no text returns an
	// empty slice; ErrNoGeometry means the layer cannot be produced at all.
	PageBlocks(page int) ([]Block, error)

	// PageOps returns the parsed content stream operations of a page.
	PageOps(page int) ([]TextOp, error)

	// WritePageOps replaces the page's content stream with the given ops.
	WritePageOps(page int, ops []TextOp) error

	// PageFonts returns a codec per font resource name used on the page.
	PageFonts(page int) (map[string]FontCodec, error)

	// EnsureSubstituteFont makes a fixed-width substitute font available in
	// the page's resources and returns its resource name.
	EnsureSubstituteFont(page int) (string, error)

	// RasterizeRect renders the clipped region of the original page at the
	// given DPI. ErrRasterUnavailable when no raster source is attached.
	RasterizeRect(page int, clip Rect, dpi int) (image.Image, error)

	// ApplyOverlay composites an image over the region of the page.
	ApplyOverlay(page int, clip Rect, img image.Image) error

	// Bytes serializes the document, including any rewritten pages and
	// applied overlays.
	Bytes() ([]byte, error)
}

// TextMeasurer is an optional container capability. When the container
// implements it, the rewriter uses measured widths instead of the
// fixed-ratio estimate.
type TextMeasurer interface {
	// MeasureText returns the advance width of text in points at the given
	// size, and false when the font has no usable metrics.
	MeasureText(font string, size float64, text string) (float64, bool)
}

// ArgKind tags the operand variants of a content stream operation.
type ArgKind int

const (
	ArgNumber ArgKind = iota
	ArgString
	ArgName
	ArgArray
	ArgRaw
)

// Arg is a single content stream operand.
type Arg struct {
	Kind ArgKind
	Num  float64
	Str  []byte
	Name string
	Arr  []Arg
	Raw  []byte
}

// TextOp is one parsed content stream operation. Ops the rewriter does not
// touch round-trip through Raw byte-exact; rewritten ops leave Raw nil and
// are serialized from their operands.
type TextOp struct {
	Op   string
	Args []Arg
	Raw  []byte
}

// IsShow reports whether the op paints text.
func (op TextOp) IsShow() bool {
	switch op.Op {
	case "Tj", "TJ", "'", "\"":
		return true
	}
	return false
}
