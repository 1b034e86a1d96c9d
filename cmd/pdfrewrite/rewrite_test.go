// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rewrite "github.com/sassoftware/viya-pdf-rewrite"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMappingArray(t *testing.T) {
	path := writeTemp(t, "mapping.json",
		`[{"q_label":"q1","original":"alpha","replacement":"beta","page":2,"start_pos":0,"end_pos":5}]`)
	entries, err := loadMapping(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "q1", entries[0].QLabel)
	assert.Equal(t, "alpha", entries[0].Original)
	assert.Equal(t, "beta", entries[0].Replacement)
	assert.Equal(t, 2, entries[0].Page)
}

func TestLoadMappingWrapped(t *testing.T) {
	path := writeTemp(t, "mapping.json",
		`{"entries":[{"q_label":"q1","original":"a","replacement":"b","page":1,"start_pos":0,"end_pos":1},
		            {"q_label":"q2","original":"c","replacement":"d","page":1,"start_pos":2,"end_pos":3}]}`)
	entries, err := loadMapping(path)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestLoadMappingInvalid(t *testing.T) {
	path := writeTemp(t, "mapping.json", `{"entries": [}`)
	_, err := loadMapping(path)
	assert.Error(t, err)

	_, err = loadMapping(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	def := rewrite.NewDefaultConfig()
	assert.Equal(t, def.MaxPageWorkers, cfg.MaxPageWorkers)
	assert.Equal(t, def.RewriteMode, cfg.RewriteMode)
	assert.Equal(t, def.Strategies, cfg.Strategies)
	assert.Equal(t, def.OverlayDPI, cfg.OverlayDPI)
}

// A partial file overrides only the keys it names.
func TestLoadConfigFile(t *testing.T) {
	path := writeTemp(t, "conf.yaml",
		"max_page_workers: 8\nrewrite_mode: hybrid\nworker_timeout: 5s\nstrategies:\n  - literal\n")
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.MaxPageWorkers)
	assert.Equal(t, rewrite.HybridMode, cfg.RewriteMode)
	assert.Equal(t, 5*time.Second, cfg.WorkerTimeout)
	assert.Equal(t, []rewrite.RewriteStrategy{rewrite.LiteralStrategy}, cfg.Strategies)

	def := rewrite.NewDefaultConfig()
	assert.Equal(t, def.MinFontSize, cfg.MinFontSize)
	assert.Equal(t, def.OverlayCoverage, cfg.OverlayCoverage)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestParseStrategies(t *testing.T) {
	got := parseStrategies([]string{" literal", "substitute-font "})
	assert.Equal(t, []rewrite.RewriteStrategy{rewrite.LiteralStrategy, rewrite.SubstituteFontStrategy}, got)
}
