// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sassoftware/viya-pdf-rewrite/logger"
)

type RewriteMode string

const (
	// StreamMode rewrites the text-show operators in place.
	StreamMode RewriteMode = "stream"
	// SpanPlanMode builds the declarative span plan without touching the
	// content streams.
	SpanPlanMode RewriteMode = "span-plan"
	// HybridMode rewrites the streams and composites visual fallbacks for
	// flagged or low-coverage pages.
	HybridMode RewriteMode = "hybrid"
)

type RewriteStrategy string

const (
	SubstituteFontStrategy RewriteStrategy = "substitute-font"
	LiteralStrategy        RewriteStrategy = "literal"
)

type Config struct {
	MaxConcurrentDocs  int               `validate:"min=1,max=10"`
	MaxPageWorkers     int               `validate:"min=1,max=16"`
	WorkerTimeout      time.Duration     `validate:"required"`
	RewriteMode        RewriteMode       `validate:"oneof=stream span-plan hybrid"`
	Strategies         []RewriteStrategy `validate:"min=1,dive,oneof=substitute-font literal"`
	MaxRetries         int               `validate:"min=0,max=3"`
	MinFontSize        float64           `validate:"min=1"`
	FixedWidthRatio    float64           `validate:"min=0.3,max=1"`
	SpaceKernThreshold float64           `validate:"lt=0"`
	MinAlignConfidence float64           `validate:"min=0,max=1"`
	OverlayDPI         int               `validate:"min=36,max=600"`
	OverlayCoverage    float64           `validate:"min=0,max=1"`

	// KeepInvisibleOriginal re-emits replaced text in render mode 3 so
	// forensic extraction still sees the original.
	KeepInvisibleOriginal bool

	DebugOn bool
	Logger  logger.LogFunc
}

func NewDefaultConfig() Config {
	return Config{
		MaxConcurrentDocs:  5,
		MaxPageWorkers:     4,
		WorkerTimeout:      30 * time.Second,
		RewriteMode:        StreamMode,
		Strategies:         []RewriteStrategy{SubstituteFontStrategy, LiteralStrategy},
		MaxRetries:         1,
		MinFontSize:        4,
		FixedWidthRatio:    0.6,
		SpaceKernThreshold: -80,
		MinAlignConfidence: 0.8,
		OverlayDPI:         144,
		OverlayCoverage:    0.5,
		DebugOn:            false,
	}
}

func (cfg *Config) Validate() error {
	logger.Debug("Validating Config Object")
	validate := validator.New()
	return validate.Struct(cfg)
}
