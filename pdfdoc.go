// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/image/draw"

	"github.com/sassoftware/viya-pdf-rewrite/logger"
)

// Glyph grouping tolerances, in points unless noted.
const (
	// glyphRowTolerance is the baseline slack for putting two glyphs on
	// the same line.
	glyphRowTolerance = 2.0
	// blockGapFactor times the font size is the vertical step between
	// lines that starts a new block.
	blockGapFactor = 1.8
)

// Document is the production DocumentContainer. pdfcpu carries the
// document structure and content streams, ledongthuc/pdf supplies the
// rendered glyph layer, and an optional directory of page images acts
// as the raster source for visual fallback overlays.
type Document struct {
	mu       sync.Mutex
	ctx      *model.Context
	glyphs   *pdf.Reader
	glyphErr error
	imageDir string
	subFonts map[int]string
	codecs   map[int]map[string]FontCodec
	metrics  map[string]*fontMetrics
	patches  []OverlayPatch
}

// DocumentOption adjusts how a document is opened.
type DocumentOption func(*Document)

// WithPageImages attaches a directory of full-page renders of the
// original document (page_1.png, page_2.png, ...). Without it,
// RasterizeRect reports ErrRasterUnavailable and overlays become
// recorded skips.
func WithPageImages(dir string) DocumentOption {
	return func(d *Document) { d.imageDir = dir }
}

// OpenDocument reads and parses the PDF at path.
func OpenDocument(path string, opts ...DocumentOption) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return OpenDocumentBytes(data, opts...)
}

// OpenDocumentBytes parses an in-memory PDF. A document whose structure
// cannot be parsed is an error; a document whose glyph layer cannot be
// parsed opens, but every PageBlocks call reports ErrNoGeometry.
func OpenDocumentBytes(data []byte, opts ...DocumentOption) (*Document, error) {
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	d := &Document{
		ctx:      ctx,
		subFonts: make(map[int]string),
		codecs:   make(map[int]map[string]FontCodec),
	}
	d.glyphs, d.glyphErr = openGlyphReader(data)
	if d.glyphErr != nil {
		logger.Warn(fmt.Sprintf("glyph layer unavailable: %v", d.glyphErr))
	}
	for _, opt := range opts {
		opt(d)
	}
	logger.Debug(fmt.Sprintf("Document opened: pages=%d glyphs=%v page_images=%q",
		ctx.PageCount, d.glyphErr == nil, d.imageDir), true)
	return d, nil
}

// openGlyphReader absorbs the panics the glyph parser throws on exotic
// font programs.
func openGlyphReader(data []byte) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r, err = nil, fmt.Errorf("glyph reader panic: %v", rec)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

// NumPage returns the page count of the document.
func (d *Document) NumPage() int {
	return d.ctx.PageCount
}

// PageBlocks returns the rendered glyph layer of a page grouped into
// blocks, lines, and spans.
func (d *Document) PageBlocks(page int) (blocks []Block, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.glyphErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoGeometry, d.glyphErr)
	}
	defer func() {
		if rec := recover(); rec != nil {
			blocks, err = nil, fmt.Errorf("%w: page %d glyph decode: %v", ErrNoGeometry, page, rec)
		}
	}()
	p := d.glyphs.Page(page)
	if p.V.IsNull() {
		return nil, fmt.Errorf("%w: page %d", ErrNoGeometry, page)
	}
	return glyphBlocks(p.Content().Text), nil
}

// glyphChar is one positioned glyph before grouping.
type glyphChar struct {
	r       rune
	x, y, w float64
	size    float64
	font    string
}

// glyphCharsOf splits a text item into per-rune glyphs. Multi-rune
// items distribute the advance evenly.
func glyphCharsOf(t pdf.Text) []glyphChar {
	runes := []rune(t.S)
	w := t.W
	if len(runes) > 1 {
		w /= float64(len(runes))
	}
	out := make([]glyphChar, 0, len(runes))
	x := t.X
	for _, r := range runes {
		if r == '\n' || r == '\r' {
			continue
		}
		out = append(out, glyphChar{r, x, t.Y, w, t.FontSize, t.Font})
		x += w
	}
	return out
}

// glyphBlocks groups the flat glyph list into blocks, lines, and spans.
// Glyphs sort into reading order first. A new line starts when the
// baseline moves past the row tolerance, a new span when the font
// changes or a horizontal gap opens, and a new block when the vertical
// step between lines exceeds the block gap.
func glyphBlocks(texts []pdf.Text) []Block {
	var chars []glyphChar
	for _, t := range texts {
		chars = append(chars, glyphCharsOf(t)...)
	}
	if len(chars) == 0 {
		return nil
	}
	sort.SliceStable(chars, func(i, j int) bool {
		if dy := chars[i].y - chars[j].y; dy > glyphRowTolerance || dy < -glyphRowTolerance {
			return chars[i].y > chars[j].y
		}
		return chars[i].x < chars[j].x
	})

	var lines [][]glyphChar
	cur := []glyphChar{chars[0]}
	curY := chars[0].y
	for _, ch := range chars[1:] {
		if math.Abs(ch.y-curY) > glyphRowTolerance {
			lines = append(lines, cur)
			cur = nil
			curY = ch.y
		}
		cur = append(cur, ch)
	}
	lines = append(lines, cur)

	var blocks []Block
	var blk Block
	lastBase := 0.0
	lastSize := 0.0
	for i, lc := range lines {
		ln := lineOf(lc)
		if i > 0 && lastBase-lc[0].y > blockGapFactor*math.Max(lastSize, lc[0].size) {
			blocks = append(blocks, blk)
			blk = Block{}
		}
		blk.BBox = blk.BBox.Union(ln.BBox)
		blk.Lines = append(blk.Lines, ln)
		lastBase, lastSize = lc[0].y, lc[0].size
	}
	return append(blocks, blk)
}

// lineOf splits one line's glyphs into spans.
func lineOf(chars []glyphChar) Line {
	var ln Line
	start := 0
	for i := 1; i <= len(chars); i++ {
		if i < len(chars) && !splitSpan(chars[i-1], chars[i]) {
			continue
		}
		gs := spanOf(chars[start:i])
		ln.Spans = append(ln.Spans, gs)
		ln.BBox = ln.BBox.Union(gs.BBox)
		start = i
	}
	return ln
}

// splitSpan reports whether b starts a new span after a: a font or size
// change, a gap wide enough to read as a space, or a backward jump.
func splitSpan(a, b glyphChar) bool {
	if b.font != a.font || b.size != a.size {
		return true
	}
	gap := b.x - (a.x + a.w)
	return gap > wordGapRatio*a.size || gap < -0.5*a.size
}

func spanOf(chars []glyphChar) GlyphSpan {
	gs := GlyphSpan{Font: chars[0].font, Size: chars[0].size}
	for _, ch := range chars {
		c := Char{ch.r, charBox(ch)}
		gs.Chars = append(gs.Chars, c)
		gs.BBox = gs.BBox.Union(c.BBox)
	}
	return gs
}

// charBox approximates the glyph box from the baseline origin: 20% of
// the size below, 80% above.
func charBox(ch glyphChar) Rect {
	return Rect{ch.x, ch.y - 0.2*ch.size, ch.x + ch.w, ch.y + 0.8*ch.size}
}

// PageOps parses the page's content streams into operations.
func (d *Document) PageOps(page int) ([]TextOp, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, err := pdfcpu.ExtractPageContent(d.ctx, page)
	if err != nil {
		return nil, fmt.Errorf("page %d content: %w", page, err)
	}
	if r == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("page %d content: %w", page, err)
	}
	return ParseContentStream(data), nil
}

// WritePageOps serializes ops and swaps them in as the page's content.
// A page with a content array keeps its object structure: the first
// stream receives the full content, the rest are emptied.
func (d *Document) WritePageOps(page int, ops []TextOp) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	pageDict, _, _, err := d.ctx.PageDict(page, false)
	if err != nil {
		return fmt.Errorf("page %d dict: %w", page, err)
	}
	obj, found := pageDict.Find("Contents")
	if !found {
		return fmt.Errorf("page %d has no content stream", page)
	}
	data := WriteContentStream(ops)
	logger.Debug(fmt.Sprintf("Writing page content: page=%d bytes=%d", page, len(data)), true)
	switch o := obj.(type) {
	case types.IndirectRef:
		return d.replaceStream(o, data)
	case types.Array:
		for i, item := range o {
			ref, ok := item.(types.IndirectRef)
			if !ok {
				return fmt.Errorf("page %d contents[%d] is not a stream ref", page, i)
			}
			part := data
			if i > 0 {
				part = []byte{}
			}
			if err := d.replaceStream(ref, part); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("page %d contents: unsupported %T", page, obj)
	}
}

// replaceStream swaps the stream body behind ref for data, dropping the
// filter pipeline so the writer emits it as-is.
func (d *Document) replaceStream(ref types.IndirectRef, data []byte) error {
	entry, ok := d.ctx.Table[ref.ObjectNumber.Value()]
	if !ok || entry == nil || entry.Object == nil {
		return fmt.Errorf("stream object %d missing from xref table", ref.ObjectNumber.Value())
	}
	sd, ok := entry.Object.(types.StreamDict)
	if !ok {
		return fmt.Errorf("object %d is not a stream", ref.ObjectNumber.Value())
	}
	sd.Content = data
	sd.Raw = data
	sd.FilterPipeline = nil
	length := int64(len(data))
	sd.StreamLength = &length
	sd.StreamLengthObjNr = nil
	sd.Dict["Length"] = types.Integer(len(data))
	sd.Dict.Delete("Filter")
	sd.Dict.Delete("DecodeParms")
	entry.Object = sd
	return nil
}

// PageFonts returns a codec per font resource name on the page. Fonts
// with a ToUnicode map decode through it, everything else falls back to
// the byte codec.
func (d *Document) PageFonts(page int) (map[string]FontCodec, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pageFontsLocked(page)
}

func (d *Document) pageFontsLocked(page int) (map[string]FontCodec, error) {
	if m, ok := d.codecs[page]; ok {
		return m, nil
	}
	fd, err := d.fontResources(page, false)
	if err != nil {
		return nil, err
	}
	m := make(map[string]FontCodec, len(fd))
	for name, obj := range fd {
		codec, err := d.codecFor(name, obj)
		if err != nil {
			logger.Warn(fmt.Sprintf("font %s on page %d: %v, using byte codec", name, page, err))
			codec = NewLatin1Codec(name)
		}
		m[name] = codec
	}
	d.codecs[page] = m
	return m, nil
}

// fontResources returns the Font dict of the page's resources,
// following inheritance. With create set, missing levels are built so
// an entry can be inserted.
func (d *Document) fontResources(page int, create bool) (types.Dict, error) {
	pageDict, _, inh, err := d.ctx.PageDict(page, false)
	if err != nil {
		return nil, fmt.Errorf("page %d dict: %w", page, err)
	}
	var res types.Dict
	if inh != nil {
		res = inh.Resources
	}
	if res == nil {
		if !create {
			return types.Dict{}, nil
		}
		res = types.Dict{}
		pageDict["Resources"] = res
	}
	obj, found := res.Find("Font")
	if !found {
		if !create {
			return types.Dict{}, nil
		}
		fd := types.Dict{}
		res["Font"] = fd
		return fd, nil
	}
	fd := d.dictOf(obj)
	if fd == nil {
		if !create {
			return types.Dict{}, nil
		}
		fd = types.Dict{}
		res["Font"] = fd
	}
	return fd, nil
}

func (d *Document) codecFor(name string, obj types.Object) (FontCodec, error) {
	fd := d.dictOf(obj)
	if fd == nil {
		return nil, fmt.Errorf("font dict unresolvable")
	}
	tu, found := fd.Find("ToUnicode")
	if !found {
		return NewLatin1Codec(name), nil
	}
	sd, _, err := d.ctx.DereferenceStreamDict(tu)
	if err != nil || sd == nil {
		return nil, fmt.Errorf("ToUnicode stream: %v", err)
	}
	if err := sd.Decode(); err != nil {
		return nil, fmt.Errorf("decoding ToUnicode: %w", err)
	}
	return NewCmapCodec(name, sd.Content), nil
}

// EnsureSubstituteFont makes a fixed-width Type1 font available in the
// page's resources and returns its resource name. Names count up from
// Frw0 until one is free; repeated calls for a page reuse the first.
func (d *Document) EnsureSubstituteFont(page int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if name, ok := d.subFonts[page]; ok {
		return name, nil
	}
	fd, err := d.fontResources(page, true)
	if err != nil {
		return "", err
	}
	var name string
	for i := 0; ; i++ {
		name = fmt.Sprintf("Frw%d", i)
		if _, found := fd.Find(name); !found {
			break
		}
	}
	fd[name] = types.Dict{
		"Type":     types.Name("Font"),
		"Subtype":  types.Name("Type1"),
		"BaseFont": types.Name("Courier"),
		"Encoding": types.Name("WinAnsiEncoding"),
	}
	d.subFonts[page] = name
	if m, ok := d.codecs[page]; ok {
		m[name] = NewLatin1Codec(name)
	}
	logger.Debug(fmt.Sprintf("Substitute font added: page=%d name=%s", page, name), true)
	return name, nil
}

// RasterizeRect cuts the clip region out of the page's attached image
// and scales it to the requested DPI.
func (d *Document) RasterizeRect(page int, clip Rect, dpi int) (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.imageDir == "" {
		return nil, ErrRasterUnavailable
	}
	path := filepath.Join(d.imageDir, fmt.Sprintf("page_%d.png", page))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no image for page %d", ErrRasterUnavailable, page)
		}
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	mb, err := d.mediaBox(page)
	if err != nil {
		return nil, err
	}
	return cropPageImage(img, mb, clip, dpi), nil
}

func (d *Document) mediaBox(page int) (*types.Rectangle, error) {
	_, _, inh, err := d.ctx.PageDict(page, false)
	if err != nil {
		return nil, fmt.Errorf("page %d dict: %w", page, err)
	}
	if inh == nil || inh.MediaBox == nil {
		return nil, fmt.Errorf("page %d has no media box", page)
	}
	return inh.MediaBox, nil
}

// cropPageImage maps the clip from page space into the source render's
// pixel space and rescales the cut to the requested DPI. The source's
// own scale comes from its pixel size against the media box.
func cropPageImage(img image.Image, mb *types.Rectangle, clip Rect, dpi int) image.Image {
	b := img.Bounds()
	sx := float64(b.Dx()) / mb.Width()
	sy := float64(b.Dy()) / mb.Height()
	src := image.Rect(
		b.Min.X+int(math.Floor((clip.X0-mb.LL.X)*sx)),
		b.Min.Y+int(math.Floor((mb.UR.Y-clip.Y1)*sy)),
		b.Min.X+int(math.Ceil((clip.X1-mb.LL.X)*sx)),
		b.Min.Y+int(math.Ceil((mb.UR.Y-clip.Y0)*sy)),
	).Intersect(b)
	w := int(math.Round(clip.Width() * float64(dpi) / 72))
	h := int(math.Round(clip.Height() * float64(dpi) / 72))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if !src.Empty() {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	}
	return dst
}

// ApplyOverlay records a patch for compositing. Patches are burned in
// when the document serializes.
func (d *Document) ApplyOverlay(page int, clip Rect, img image.Image) error {
	if img == nil || clip.Empty() {
		return fmt.Errorf("overlay on page %d: empty patch", page)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if page < 1 || page > d.ctx.PageCount {
		return fmt.Errorf("overlay page %d out of range", page)
	}
	d.patches = append(d.patches, OverlayPatch{page, clip, img})
	return nil
}

// Bytes serializes the document with all rewritten pages, then stamps
// any recorded overlay patches onto the result.
func (d *Document) Bytes() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	if err := api.WriteContext(d.ctx, &buf); err != nil {
		return nil, fmt.Errorf("writing document: %w", err)
	}
	if len(d.patches) == 0 {
		return buf.Bytes(), nil
	}
	return d.stampPatches(buf.Bytes())
}

// stampPatches applies the overlay patches as image stamps, one
// watermark pass per patch. The stamp API is file based, so the
// document round-trips through a scratch directory.
func (d *Document) stampPatches(data []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "pdfrewrite-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	doc := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(doc, data, 0o600); err != nil {
		return nil, err
	}
	for i, p := range d.patches {
		imgPath := filepath.Join(dir, fmt.Sprintf("patch_%d.png", i))
		if err := writePNG(imgPath, p.Img); err != nil {
			return nil, err
		}
		sc := p.Clip.Width() / float64(p.Img.Bounds().Dx())
		desc := fmt.Sprintf("pos:bl, off:%.2f %.2f, sc:%.4f abs, rot:0", p.Clip.X0, p.Clip.Y0, sc)
		wm, err := api.ImageWatermark(imgPath, desc, true, false, types.POINTS)
		if err != nil {
			return nil, fmt.Errorf("patch %d on page %d: %w", i, p.Page, err)
		}
		if err := api.AddWatermarksFile(doc, "", []string{strconv.Itoa(p.Page)}, wm, nil); err != nil {
			return nil, fmt.Errorf("stamping page %d: %w", p.Page, err)
		}
	}
	logger.Debug(fmt.Sprintf("Overlay patches stamped: count=%d", len(d.patches)), true)
	return os.ReadFile(doc)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// fontMetrics caches a simple font's width table.
type fontMetrics struct {
	first   int
	widths  []float64
	missing float64
	codec   FontCodec
}

// widthOf returns the advance of one code in thousandths of an em.
func (fm *fontMetrics) widthOf(code byte) (float64, bool) {
	i := int(code) - fm.first
	if i >= 0 && i < len(fm.widths) {
		return fm.widths[i], true
	}
	if fm.missing > 0 {
		return fm.missing, true
	}
	return 0, false
}

// MeasureText sums the font's Widths entries for the encoded text.
// Fonts without a usable width table report false and the caller falls
// back to the fixed-ratio estimate.
func (d *Document) MeasureText(font string, size float64, text string) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fm := d.metricsFor(font)
	if fm == nil {
		return 0, false
	}
	raw, ok := fm.codec.Encode(text)
	if !ok {
		return 0, false
	}
	total := 0.0
	for _, code := range raw {
		w, ok := fm.widthOf(code)
		if !ok {
			return 0, false
		}
		total += w
	}
	return total * size / 1000, true
}

// metricsFor resolves a font resource name to its width table, scanning
// every page's resources on first use. The same name on two pages is
// assumed to mean the same font program.
func (d *Document) metricsFor(name string) *fontMetrics {
	if d.metrics == nil {
		d.metrics = make(map[string]*fontMetrics)
		for page := 1; page <= d.ctx.PageCount; page++ {
			d.collectMetrics(page)
		}
	}
	return d.metrics[name]
}

func (d *Document) collectMetrics(page int) {
	fd, err := d.fontResources(page, false)
	if err != nil {
		return
	}
	for name, obj := range fd {
		if _, seen := d.metrics[name]; seen {
			continue
		}
		if fm := d.metricsOf(name, obj); fm != nil {
			d.metrics[name] = fm
		}
	}
}

// metricsOf reads FirstChar and Widths from a simple font dict.
// Composite fonts keep their widths elsewhere and report no metrics.
func (d *Document) metricsOf(name string, obj types.Object) *fontMetrics {
	fd := d.dictOf(obj)
	if fd == nil {
		return nil
	}
	firstObj, found := fd.Find("FirstChar")
	if !found {
		return nil
	}
	first, ok := d.numberOf(firstObj)
	if !ok {
		return nil
	}
	arrObj, found := fd.Find("Widths")
	if !found {
		return nil
	}
	arr := d.arrayOf(arrObj)
	if len(arr) == 0 {
		return nil
	}
	fm := &fontMetrics{first: int(first)}
	for _, it := range arr {
		v, ok := d.numberOf(it)
		if !ok {
			return nil
		}
		fm.widths = append(fm.widths, v)
	}
	if descObj, found := fd.Find("FontDescriptor"); found {
		if desc := d.dictOf(descObj); desc != nil {
			if mwObj, found := desc.Find("MissingWidth"); found {
				if mw, ok := d.numberOf(mwObj); ok {
					fm.missing = mw
				}
			}
		}
	}
	codec, err := d.codecFor(name, obj)
	if err != nil {
		codec = NewLatin1Codec(name)
	}
	fm.codec = codec
	return fm
}

// dictOf dereferences obj to a dict, nil when it is anything else.
func (d *Document) dictOf(obj types.Object) types.Dict {
	o, err := d.ctx.Dereference(obj)
	if err != nil {
		return nil
	}
	dict, _ := o.(types.Dict)
	return dict
}

// arrayOf dereferences obj to an array, nil when it is anything else.
func (d *Document) arrayOf(obj types.Object) types.Array {
	o, err := d.ctx.Dereference(obj)
	if err != nil {
		return nil
	}
	arr, _ := o.(types.Array)
	return arr
}

// numberOf dereferences obj to a number.
func (d *Document) numberOf(obj types.Object) (float64, bool) {
	o, err := d.ctx.Dereference(obj)
	if err != nil {
		return 0, false
	}
	switch v := o.(type) {
	case types.Integer:
		return float64(v.Value()), true
	case types.Float:
		return v.Value(), true
	}
	return 0, false
}
