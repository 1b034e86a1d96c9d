// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// pageClaims tracks the rectangles and fingerprint keys already consumed
// on one page, enforcing at most one claim per target. Pages are handled
// by a single worker each, so the set needs no lock of its own.
type pageClaims struct {
	rects []Rect
	keys  map[string]bool
}

func newPageClaims() *pageClaims {
	return &pageClaims{keys: make(map[string]bool)}
}

func (c *pageClaims) claim(r Rect, key string) {
	if !r.Empty() {
		c.rects = append(c.rects, r)
	}
	if key != "" {
		c.keys[key] = true
	}
}

func (c *pageClaims) rectUsed(r Rect) bool {
	for _, u := range c.rects {
		if u.Intersects(r) {
			return true
		}
	}
	return false
}

func (c *pageClaims) keyUsed(key string) bool {
	return c.keys[key]
}

// RenderSession holds the per-run state shared across pages: the run
// token, the span index cache, and the per-page claim sets. A new session
// is created for every render invocation; a token change invalidates all
// cached spans by construction.
type RenderSession struct {
	Token string

	cfg Config
	doc DocumentContainer

	mu        sync.Mutex
	spanCache map[int]*SpanIndex
	claims    map[int]*pageClaims
}

// NewRenderSession opens a session over the document with a fresh run
// token.
func NewRenderSession(cfg Config, doc DocumentContainer) *RenderSession {
	return &RenderSession{
		Token:     uuid.NewString(),
		cfg:       cfg,
		doc:       doc,
		spanCache: make(map[int]*SpanIndex),
		claims:    make(map[int]*pageClaims),
	}
}

// SpansFor returns the cached span index for a page, building it on first
// use. The build runs outside the session lock so distinct pages can
// index concurrently.
func (s *RenderSession) SpansFor(page int) (*SpanIndex, error) {
	s.mu.Lock()
	if si, ok := s.spanCache[page]; ok {
		s.mu.Unlock()
		return si, nil
	}
	s.mu.Unlock()

	blocks, err := s.doc.PageBlocks(page)
	if err != nil {
		return nil, fmt.Errorf("indexing page %d: %w", page, err)
	}
	si := buildSpanIndex(page, blocks)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.spanCache[page]; ok {
		return cached, nil
	}
	s.spanCache[page] = si
	return si, nil
}

// claimsFor returns the claim set for a page, creating it on first use.
func (s *RenderSession) claimsFor(page int) *pageClaims {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[page]
	if !ok {
		c = newPageClaims()
		s.claims[page] = c
	}
	return c
}

// resetClaims discards a page's claim set so a retried render attempt does
// not collide with its own earlier claims.
func (s *RenderSession) resetClaims(page int) {
	s.mu.Lock()
	s.claims[page] = newPageClaims()
	s.mu.Unlock()
}
