// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/sassoftware/viya-pdf-rewrite/logger"
	"golang.org/x/sync/semaphore"
)

// Rewriter defines the contract for rewriting located substrings in a
// document's text layer.
type Rewriter interface {
	Rewrite(ctx context.Context, doc DocumentContainer, entries []MappingEntry) (*RewriteResult, error)
}

// Renderer runs one page through the mode's pipeline. The interface is
// closed; the three implementations are selected by Config.RewriteMode.
type Renderer interface {
	renderPage(ctx context.Context, s *RenderSession, page int, entries []*MappingEntry) (pageOutcome, error)
}

// EntryReport is the per-entry outcome of a render.
type EntryReport struct {
	QLabel   string          `json:"q_label"`
	Page     int             `json:"page"`
	Applied  bool            `json:"applied"`
	Strategy RewriteStrategy `json:"strategy,omitempty"`
	Method   PlanMethod      `json:"method,omitempty"`
	Emitted  string          `json:"emitted,omitempty"`
	Reason   string          `json:"reason,omitempty"`
}

// RewriteResult is the output of one render: the serialized document, the
// run statistics, the span plan when the mode produces one, and the
// post-render validation verdict. Validation is nil when every applied
// entry checked out.
type RewriteResult struct {
	Token      string
	Output     []byte
	Stats      RewriteStats
	Plan       *SpanRewritePlan
	Reports    []EntryReport
	Validation error
}

// streamRenderer rewrites the text-show operators in place.
type streamRenderer struct{}

func (streamRenderer) renderPage(ctx context.Context, s *RenderSession, page int, entries []*MappingEntry) (pageOutcome, error) {
	pp, err := newPagePipeline(ctx, s, page, entries)
	if err != nil {
		return pageOutcome{page: page}, err
	}
	pp.planStreams()
	pp.rewriteStreams()
	pp.buildReports()
	return pp.out, nil
}

// spanPlanRenderer builds the declarative span plan and leaves the content
// streams untouched.
type spanPlanRenderer struct{}

func (spanPlanRenderer) renderPage(ctx context.Context, s *RenderSession, page int, entries []*MappingEntry) (pageOutcome, error) {
	pp, err := newPagePipeline(ctx, s, page, entries)
	if err != nil {
		return pageOutcome{page: page}, err
	}
	for _, le := range pp.located {
		pp.recs = append(pp.recs, &ReplacementRecord{Entry: le.entry, Loc: le.loc})
	}
	pp.buildPlan()
	pp.buildReports()
	return pp.out, nil
}

// hybridRenderer rewrites the streams, builds the span plan, and marks the
// regions needing a raster fallback.
type hybridRenderer struct{}

func (hybridRenderer) renderPage(ctx context.Context, s *RenderSession, page int, entries []*MappingEntry) (pageOutcome, error) {
	pp, err := newPagePipeline(ctx, s, page, entries)
	if err != nil {
		return pageOutcome{page: page}, err
	}
	pp.planStreams()
	pp.rewriteStreams()
	pp.buildPlan()
	pp.markOverlays()
	pp.buildReports()
	return pp.out, nil
}

// pageOutcome is everything one page worker hands back to the merge loop.
// The merge loop applies ops, plan and overlay regions serially in page
// order.
type pageOutcome struct {
	page     int
	ops      []TextOp
	wrote    bool
	plan     *PageSpanPlan
	regions  []Rect
	reports  []EntryReport
	checks   []rewriteCheck
	failures []Failure
	showOps  int
	tokens   int
	matches  int
	applied  int
}

// pagePipeline carries one page through locate, plan, and rewrite.
type pagePipeline struct {
	s       *RenderSession
	cfg     Config
	page    int
	entries []*MappingEntry

	si      *SpanIndex
	ops     []TextOp
	fonts   map[string]FontCodec
	segs    []Segment
	align   alignment
	located []locatedEntry
	recs    []*ReplacementRecord

	out pageOutcome
}

// newPagePipeline indexes the page, extracts its segments and locates
// every entry, claiming each hit so later entries cannot reuse it.
func newPagePipeline(ctx context.Context, s *RenderSession, page int, entries []*MappingEntry) (*pagePipeline, error) {
	s.resetClaims(page)

	si, err := s.SpansFor(page)
	if err != nil {
		return nil, err
	}
	ops, err := s.doc.PageOps(page)
	if err != nil {
		return nil, fmt.Errorf("reading page %d ops: %w", page, err)
	}
	fonts, err := s.doc.PageFonts(page)
	if err != nil {
		return nil, fmt.Errorf("reading page %d fonts: %w", page, err)
	}
	segs, showOps, tokens := ExtractSegments(ops, fonts, s.cfg.SpaceKernThreshold)

	pp := &pagePipeline{
		s:       s,
		cfg:     s.cfg,
		page:    page,
		entries: entries,
		si:      si,
		ops:     ops,
		fonts:   fonts,
		segs:    segs,
	}
	pp.out.page = page
	pp.out.showOps = showOps
	pp.out.tokens = tokens

	claims := s.claimsFor(page)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, reason := locateSubstring(si, e, claims)
		if res == nil {
			logger.Warn(fmt.Sprintf("skipping %s on page %d: %s", e.QLabel, page, reason))
			pp.out.failures = append(pp.out.failures, Failure{Class: EntryFailure, Page: page, QLabel: e.QLabel, Reason: reason})
			continue
		}
		claims.claim(res.BBox, res.Key)
		pp.located = append(pp.located, locatedEntry{e, res})
	}
	pp.out.matches = len(pp.located)
	return pp, nil
}

// planStreams aligns the glyph layer to the segments and derives the
// stream range of every located entry.
func (pp *pagePipeline) planStreams() {
	pp.align = alignGeometry(pp.si, pp.segs)
	recs, fails := planReplacements(pp.located, pp.segs, pp.align, pp.cfg)
	pp.recs = recs
	pp.out.failures = append(pp.out.failures, fails...)
}

// rewriteStreams applies the planned records to the page's operators.
func (pp *pagePipeline) rewriteStreams() {
	if len(pp.recs) == 0 {
		return
	}
	var measure func(string, float64, string) (float64, bool)
	if tm, ok := pp.s.doc.(TextMeasurer); ok {
		measure = tm.MeasureText
	}
	env := rewriteEnv{
		cfg:     pp.cfg,
		fonts:   pp.fonts,
		subFont: func() (string, error) { return pp.s.doc.EnsureSubstituteFont(pp.page) },
		measure: measure,
	}
	outc := newTokenRewriter(env).Apply(pp.ops, pp.segs, pp.recs)
	pp.out.failures = append(pp.out.failures, outc.Failures...)
	pp.out.applied = outc.Applied
	if outc.Applied > 0 {
		pp.out.ops = outc.Ops
		pp.out.wrote = true
	}
	pp.out.checks = buildChecks(linearizeSegments(pp.segs), pp.recs, pp.cfg)
}

// buildPlan folds the page's records into the span rewrite plan.
func (pp *pagePipeline) buildPlan() {
	plan, fails := buildPageSpanPlan(pp.si, pp.cfg, pp.recs)
	pp.out.failures = append(pp.out.failures, fails...)
	if len(plan.Entries) > 0 {
		pp.out.plan = &plan
	}
}

// markOverlays picks the regions the merge loop patches with rasters of
// the original page.
func (pp *pagePipeline) markOverlays() {
	var entries []SpanRewriteEntry
	if pp.out.plan != nil {
		entries = pp.out.plan.Entries
	}
	pp.out.regions = overlayRegions(entries, pp.recs, pp.cfg.OverlayCoverage)
}

// buildReports summarizes every entry's fate for the caller.
func (pp *pagePipeline) buildReports() {
	reasons := make(map[string]string)
	for _, f := range pp.out.failures {
		if f.QLabel == "" {
			continue
		}
		if _, ok := reasons[f.QLabel]; !ok {
			reasons[f.QLabel] = f.Reason
		}
	}
	planned := make(map[string]bool)
	if pp.out.plan != nil {
		for _, e := range pp.out.plan.Entries {
			planned[e.QLabel] = true
		}
	}
	byEntry := make(map[*MappingEntry]*ReplacementRecord)
	for _, rec := range pp.recs {
		byEntry[rec.Entry] = rec
	}
	for _, e := range pp.entries {
		rep := EntryReport{QLabel: e.QLabel, Page: pp.page}
		if rec, ok := byEntry[e]; ok {
			rep.Applied = rec.Applied || planned[e.QLabel]
			rep.Strategy = rec.Strategy
			rep.Method = rec.Method
			rep.Emitted = rec.Emitted
		}
		if r, ok := reasons[e.QLabel]; ok {
			rep.Reason = r
		}
		pp.out.reports = append(pp.out.reports, rep)
	}
}

// rewriter manages document renders with concurrency control and delegates
// page-level work to the mode's Renderer.
type rewriter struct {
	cfg  Config
	sem  *semaphore.Weighted
	rend Renderer
}

// NewRewriter validates the config and creates a new rewriter. Selects the
// Renderer for the configured mode.
func NewRewriter(cfg Config) *rewriter {
	var rend Renderer
	switch cfg.RewriteMode {
	case StreamMode:
		rend = streamRenderer{}
	case SpanPlanMode:
		rend = spanPlanRenderer{}
	case HybridMode:
		rend = hybridRenderer{}
	}

	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	if cfg.Logger != nil {
		logger.SetLogger(cfg.Logger)
	}

	logger.Debug(fmt.Sprintf("Rewriter initialized: rewrite_mode=%v, max_concurrent_docs=%d, max_page_workers=%d",
		cfg.RewriteMode, cfg.MaxConcurrentDocs, cfg.MaxPageWorkers), true)

	return &rewriter{
		cfg:  cfg,
		sem:  semaphore.NewWeighted(int64(cfg.MaxConcurrentDocs)),
		rend: rend,
	}
}

// Rewrite locates every entry on its page and rewrites the document's text
// layer. Pages run on bounded workers; results merge deterministically in
// page order. The render is atomic: any fatal error discards the output.
func (r *rewriter) Rewrite(ctx context.Context, doc DocumentContainer, entries []MappingEntry) (*RewriteResult, error) {
	logger.Debug(fmt.Sprintf("Starting rewrite: entries=%d", len(entries)), true)

	if err := r.acquireSlot(ctx); err != nil {
		logger.Debug(fmt.Sprintf("Failed to acquire slot: err=%v", err), true)
		return nil, err
	}
	defer r.sem.Release(1)

	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return nil, err
		}
	}

	total := doc.NumPage()
	logger.Debug(fmt.Sprintf("Total pages detected: pages=%d", total), true)
	if total == 0 {
		logger.Debug("No pages found in document", true)
		return &RewriteResult{}, nil
	}

	s := NewRenderSession(r.cfg, doc)
	logger.Debug(fmt.Sprintf("Render session started: token=%s", s.Token), true)

	byPage, skipped := groupEntries(entries, total)
	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	numWorkers := r.adjustWorkerCount(r.cfg.MaxPageWorkers)
	logger.Debug(fmt.Sprintf("Starting workers: count=%d", numWorkers), true)

	jobs, results := make(chan int, len(pages)), make(chan pageResult, len(pages))

	var wg sync.WaitGroup
	r.startWorkers(ctx, s, byPage, jobs, results, numWorkers, &wg)
	r.feedJobs(ctx, pages, jobs)
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	res, err := r.mergeInOrder(ctx, s, doc, pages, results)
	if err != nil {
		return nil, err
	}
	res.Stats.Pages = total
	res.Stats.Failures = append(skipped, res.Stats.Failures...)

	out, err := doc.Bytes()
	if err != nil {
		return nil, fmt.Errorf("serializing document: %w", err)
	}
	res.Output = out

	logger.Debug(fmt.Sprintf("Rewrite completed: applied=%d matches=%d failures=%d",
		res.Stats.ReplacementsApplied, res.Stats.MatchesFound, len(res.Stats.Failures)), true)
	return res, nil
}

// mergeInOrder drains worker results, applying each page's ops, plan and
// overlays serially in ascending page order. A geometry failure is fatal;
// any other page error retains the original content and is recorded.
func (r *rewriter) mergeInOrder(ctx context.Context, s *RenderSession, doc DocumentContainer, pages []int, results chan pageResult) (*RewriteResult, error) {
	res := &RewriteResult{Token: s.Token}
	plan := &SpanRewritePlan{Session: s.Token}
	oc := newOverlayCompositor(doc, r.cfg)
	var checks []rewriteCheck

	buffer := make(map[int]pageOutcome)
	next := 0
	for pr := range results {
		if pr.err != nil {
			if errors.Is(pr.err, ErrNoGeometry) {
				logger.Error(fmt.Sprintf("fatal: page %d has no glyph geometry", pr.index))
				return nil, pr.err
			}
			logger.Error(fmt.Sprintf("page render failed, original content retained: page=%d err=%v", pr.index, pr.err))
			res.Stats.Failures = append(res.Stats.Failures, Failure{Class: PageFailure, Page: pr.index, Reason: pr.err.Error()})
			buffer[pr.index] = pageOutcome{page: pr.index}
		} else {
			buffer[pr.index] = pr.out
		}

		// Apply in-order pages immediately
		for next < len(pages) {
			out, ok := buffer[pages[next]]
			if !ok {
				break
			}
			checks = append(checks, r.applyOutcome(doc, oc, out, res, plan)...)
			delete(buffer, pages[next])
			next++
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if r.cfg.RewriteMode != StreamMode && len(plan.Pages) > 0 {
		res.Plan = plan
	}
	if r.cfg.RewriteMode != SpanPlanMode {
		if verr := validateRender(doc, r.cfg, checks); verr != nil {
			logger.Error(fmt.Sprintf("post-render validation failed: %v", verr))
			res.Validation = verr
		}
	}
	return res, nil
}

// applyOutcome folds one page outcome into the result, writing the ops and
// compositing the overlays. Returns the validation checks that survived
// the write.
func (r *rewriter) applyOutcome(doc DocumentContainer, oc *overlayCompositor, out pageOutcome, res *RewriteResult, plan *SpanRewritePlan) []rewriteCheck {
	res.Stats.TextShowOps += out.showOps
	res.Stats.TokensScanned += out.tokens
	res.Stats.MatchesFound += out.matches
	res.Stats.Failures = append(res.Stats.Failures, out.failures...)
	res.Reports = append(res.Reports, out.reports...)

	if out.plan != nil {
		res.Stats.PlanEntries += len(out.plan.Entries)
		plan.Pages = append(plan.Pages, *out.plan)
	}

	var checks []rewriteCheck
	if out.wrote {
		if err := doc.WritePageOps(out.page, out.ops); err != nil {
			logger.Error(fmt.Sprintf("writing page %d failed, original content retained: %v", out.page, err))
			res.Stats.Failures = append(res.Stats.Failures, Failure{Class: PageFailure, Page: out.page, Reason: err.Error()})
		} else {
			res.Stats.ReplacementsApplied += out.applied
			checks = out.checks
		}
	}

	if len(out.regions) > 0 {
		patches, fails := oc.apply(out.page, out.regions)
		res.Stats.OverlayPatches += len(patches)
		res.Stats.Failures = append(res.Stats.Failures, fails...)
	}
	return checks
}

type pageResult struct {
	index int
	out   pageOutcome
	err   error
}

func (r *rewriter) startWorkers(ctx context.Context, s *RenderSession, byPage map[int][]*MappingEntry, jobs <-chan int, results chan<- pageResult, numWorkers int, wg *sync.WaitGroup) {
	logger.Debug(fmt.Sprintf("Spawning workers: num_workers=%d", numWorkers), true)
	for w := 1; w <= numWorkers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			logger.Debug(fmt.Sprintf("Worker started: id=%d", id), true)
			for page := range jobs {
				out, err := r.renderPageWithRetries(ctx, s, page, byPage[page])
				results <- pageResult{page, out, err}
				if err != nil {
					logger.Debug(fmt.Sprintf("Worker: page render error: worker_id=%d page=%d err=%v", id, page, err), true)
				} else {
					logger.Debug(fmt.Sprintf("Worker: page rendered: worker_id=%d page=%d applied=%d", id, page, out.applied), true)
				}
			}
			logger.Debug(fmt.Sprintf("Worker finished: id=%d", id), true)
		}(w)
	}
}

func (r *rewriter) renderPageWithRetries(ctx context.Context, s *RenderSession, page int, entries []*MappingEntry) (pageOutcome, error) {
	var out pageOutcome
	var err error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		ctxPage, cancel := context.WithTimeout(ctx, r.cfg.WorkerTimeout)
		out, err = r.renderPageOnce(ctxPage, s, page, entries)
		cancel()
		if err == nil || errors.Is(err, ErrNoGeometry) || ctx.Err() != nil {
			break
		}
		logger.Debug(fmt.Sprintf("Retrying page render: page=%d attempt=%d err=%v", page, attempt, err), true)
	}
	return out, err
}

// renderPageOnce recovers a panicking page into a per-page error so one
// bad page cannot take down the whole render.
func (r *rewriter) renderPageOnce(ctx context.Context, s *RenderSession, page int, entries []*MappingEntry) (out pageOutcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("page %d render panic: %v", page, rec)
		}
	}()
	return r.rend.renderPage(ctx, s, page, entries)
}

func (r *rewriter) feedJobs(ctx context.Context, pages []int, jobs chan<- int) {
	for _, p := range pages {
		select {
		case <-ctx.Done():
			logger.Debug("Context cancelled while feeding jobs", true)
			return
		case jobs <- p:
			logger.Debug(fmt.Sprintf("Job queued: page=%d", p), true)
		}
	}
	logger.Debug(fmt.Sprintf("All jobs queued: pages=%d", len(pages)), true)
}

func (r *rewriter) acquireSlot(ctx context.Context) error {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire slot: %w", err)
	}
	logger.Debug("Slot acquired successfully", true)
	return nil
}

func (r *rewriter) adjustWorkerCount(maxWorkers int) int {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if maxWorkers > runtime.NumCPU()/2 {
		maxWorkers = runtime.NumCPU()
	}
	logger.Debug(fmt.Sprintf("Adjusted worker count: workers=%d", maxWorkers), true)
	return maxWorkers
}

// groupEntries buckets the entries by page, recording the ones addressing
// pages the document does not have.
func groupEntries(entries []MappingEntry, total int) (map[int][]*MappingEntry, []Failure) {
	byPage := make(map[int][]*MappingEntry)
	var skipped []Failure
	for i := range entries {
		e := &entries[i]
		if e.Page < 1 || e.Page > total {
			logger.Warn(fmt.Sprintf("skipping %s: page %d out of range (document has %d pages)", e.QLabel, e.Page, total))
			skipped = append(skipped, Failure{
				Class:  EntryFailure,
				Page:   e.Page,
				QLabel: e.QLabel,
				Reason: fmt.Sprintf("page %d out of range", e.Page),
			})
			continue
		}
		byPage[e.Page] = append(byPage[e.Page], e)
	}
	return byPage, skipped
}
