// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		shouldErr bool
	}{
		{
			name:      "default config is valid",
			mutate:    func(cfg *Config) {},
			shouldErr: false,
		},
		{
			name:      "invalid MaxConcurrentDocs (too low)",
			mutate:    func(cfg *Config) { cfg.MaxConcurrentDocs = 0 },
			shouldErr: true,
		},
		{
			name:      "invalid MaxPageWorkers (too high)",
			mutate:    func(cfg *Config) { cfg.MaxPageWorkers = 64 },
			shouldErr: true,
		},
		{
			name:      "missing WorkerTimeout",
			mutate:    func(cfg *Config) { cfg.WorkerTimeout = 0 },
			shouldErr: true,
		},
		{
			name:      "invalid RewriteMode",
			mutate:    func(cfg *Config) { cfg.RewriteMode = "invalid-mode" },
			shouldErr: true,
		},
		{
			name:      "empty strategy list",
			mutate:    func(cfg *Config) { cfg.Strategies = nil },
			shouldErr: true,
		},
		{
			name:      "unknown strategy",
			mutate:    func(cfg *Config) { cfg.Strategies = []RewriteStrategy{"overlay"} },
			shouldErr: true,
		},
		{
			name:      "invalid MaxRetries (too high)",
			mutate:    func(cfg *Config) { cfg.MaxRetries = 10 },
			shouldErr: true,
		},
		{
			name:      "MinFontSize below one point",
			mutate:    func(cfg *Config) { cfg.MinFontSize = 0.5 },
			shouldErr: true,
		},
		{
			name:      "FixedWidthRatio out of range",
			mutate:    func(cfg *Config) { cfg.FixedWidthRatio = 1.5 },
			shouldErr: true,
		},
		{
			name:      "SpaceKernThreshold must be negative",
			mutate:    func(cfg *Config) { cfg.SpaceKernThreshold = 10 },
			shouldErr: true,
		},
		{
			name:      "MinAlignConfidence above one",
			mutate:    func(cfg *Config) { cfg.MinAlignConfidence = 1.2 },
			shouldErr: true,
		},
		{
			name:      "OverlayDPI too low",
			mutate:    func(cfg *Config) { cfg.OverlayDPI = 10 },
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.shouldErr {
				assert.Error(t, err, "expected validation error")
			} else {
				assert.NoError(t, err, "expected validation to pass")
			}
		})
	}
}
