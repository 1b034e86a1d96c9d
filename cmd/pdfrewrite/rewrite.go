// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	rewrite "github.com/sassoftware/viya-pdf-rewrite"
	"github.com/sassoftware/viya-pdf-rewrite/logger"
	"github.com/sassoftware/viya-pdf-rewrite/tracer"
)

var (
	cfgFile     string
	mappingPath string
	outPath     string
	imageDir    string
	planPath    string
	statsPath   string
	mode        string
	workers     int
	overlayDPI  int
	pageTimeout time.Duration
	keepOrig    bool
	debugMode   bool
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite [flags] input.pdf",
	Short: "Apply a replacement mapping to a document",
	Long: `Apply a replacement mapping to a document and write the rewritten PDF.

Examples:
  # Rewrite with a mapping file
  pdfrewrite rewrite --mapping mapping.json report.pdf

  # Hybrid mode with rasterized fallbacks from pre-rendered page images
  pdfrewrite rewrite --mapping mapping.json --mode hybrid --page-images render/ report.pdf

  # Keep the span plan and run statistics
  pdfrewrite rewrite --mapping mapping.json --plan-out plan.json --stats-out stats.json report.pdf
`,
	Args: cobra.ExactArgs(1),
	RunE: runRewrite,
}

func init() {
	fl := rewriteCmd.Flags()
	fl.StringVarP(&cfgFile, "config", "c", "", "Path to configuration file (default .pdfrewrite.yaml)")
	fl.StringVarP(&mappingPath, "mapping", "m", "", "Path to the JSON replacement mapping (required)")
	fl.StringVarP(&outPath, "out", "o", "", "Output PDF path (default <input>.rewritten.pdf)")
	fl.StringVar(&imageDir, "page-images", "", "Directory of page_N.png renders used as the raster source")
	fl.StringVar(&planPath, "plan-out", "", "Write the span rewrite plan as JSON")
	fl.StringVar(&statsPath, "stats-out", "", "Write the run statistics as JSON")
	fl.StringVar(&mode, "mode", "", "Rewrite mode: stream, span-plan, or hybrid")
	fl.IntVar(&workers, "workers", 0, "Page workers per document")
	fl.IntVar(&overlayDPI, "dpi", 0, "Raster DPI for fallback overlays")
	fl.DurationVar(&pageTimeout, "timeout", 0, "Per-page render timeout")
	fl.BoolVar(&keepOrig, "keep-invisible", false, "Re-emit replaced text invisibly for extraction tools")
	fl.BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rewriteCmd.MarkFlagRequired("mapping")
}

func runRewrite(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	zl, err := buildLogger(debugMode)
	if err != nil {
		return err
	}
	defer zl.Sync()
	cfg.Logger = logger.NewZapLogFunc(zl)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	entries, err := loadMapping(mappingPath)
	if err != nil {
		return fmt.Errorf("loading mapping: %w", err)
	}

	input := args[0]
	var opts []rewrite.DocumentOption
	if imageDir != "" {
		opts = append(opts, rewrite.WithPageImages(imageDir))
	}
	doc, err := rewrite.OpenDocument(input, opts...)
	if err != nil {
		return err
	}

	res, err := rewrite.NewRewriter(cfg).Rewrite(context.Background(), doc, entries)
	if err != nil {
		tracer.Flush()
		return err
	}

	if len(res.Output) > 0 {
		out := outPath
		if out == "" {
			out = strings.TrimSuffix(input, filepath.Ext(input)) + ".rewritten.pdf"
		}
		if err := os.WriteFile(out, res.Output, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
	}
	if planPath != "" && res.Plan != nil {
		if err := writePlan(planPath, res.Plan); err != nil {
			return err
		}
	}
	if statsPath != "" {
		if err := writeStats(statsPath, &res.Stats); err != nil {
			return err
		}
	}
	printReports(cmd, res.Reports)
	fmt.Fprintf(cmd.OutOrStdout(), "pages=%d matches=%d applied=%d failures=%d\n",
		res.Stats.Pages, res.Stats.MatchesFound, res.Stats.ReplacementsApplied, len(res.Stats.Failures))

	if res.Validation != nil {
		return fmt.Errorf("rewrite finished with validation errors: %w", res.Validation)
	}
	return nil
}

// buildConfig layers the configuration: library defaults, then the
// config file, then explicit flags.
func buildConfig(cmd *cobra.Command) (rewrite.Config, error) {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	if cmd.Flags().Changed("workers") {
		cfg.MaxPageWorkers = workers
	}
	if cmd.Flags().Changed("mode") {
		cfg.RewriteMode = rewrite.RewriteMode(mode)
	}
	if cmd.Flags().Changed("dpi") {
		cfg.OverlayDPI = overlayDPI
	}
	if cmd.Flags().Changed("timeout") {
		cfg.WorkerTimeout = pageTimeout
	}
	if keepOrig {
		cfg.KeepInvisibleOriginal = true
	}
	cfg.DebugOn = debugMode
	return cfg, nil
}

// loadConfig reads the optional YAML config. Every key defaults to the
// library default, so a partial file only overrides what it names.
func loadConfig(path string) (rewrite.Config, error) {
	cfg := rewrite.NewDefaultConfig()
	v := viper.New()
	v.SetDefault("max_concurrent_docs", cfg.MaxConcurrentDocs)
	v.SetDefault("max_page_workers", cfg.MaxPageWorkers)
	v.SetDefault("worker_timeout", cfg.WorkerTimeout)
	v.SetDefault("rewrite_mode", string(cfg.RewriteMode))
	v.SetDefault("strategies", strategyNames(cfg.Strategies))
	v.SetDefault("max_retries", cfg.MaxRetries)
	v.SetDefault("min_font_size", cfg.MinFontSize)
	v.SetDefault("fixed_width_ratio", cfg.FixedWidthRatio)
	v.SetDefault("space_kern_threshold", cfg.SpaceKernThreshold)
	v.SetDefault("min_align_confidence", cfg.MinAlignConfidence)
	v.SetDefault("overlay_dpi", cfg.OverlayDPI)
	v.SetDefault("overlay_coverage", cfg.OverlayCoverage)
	v.SetDefault("keep_invisible_original", cfg.KeepInvisibleOriginal)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(".pdfrewrite")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return cfg, err
		}
	}

	cfg.MaxConcurrentDocs = v.GetInt("max_concurrent_docs")
	cfg.MaxPageWorkers = v.GetInt("max_page_workers")
	cfg.WorkerTimeout = v.GetDuration("worker_timeout")
	cfg.RewriteMode = rewrite.RewriteMode(v.GetString("rewrite_mode"))
	cfg.Strategies = parseStrategies(v.GetStringSlice("strategies"))
	cfg.MaxRetries = v.GetInt("max_retries")
	cfg.MinFontSize = v.GetFloat64("min_font_size")
	cfg.FixedWidthRatio = v.GetFloat64("fixed_width_ratio")
	cfg.SpaceKernThreshold = v.GetFloat64("space_kern_threshold")
	cfg.MinAlignConfidence = v.GetFloat64("min_align_confidence")
	cfg.OverlayDPI = v.GetInt("overlay_dpi")
	cfg.OverlayCoverage = v.GetFloat64("overlay_coverage")
	cfg.KeepInvisibleOriginal = v.GetBool("keep_invisible_original")
	return cfg, nil
}

func strategyNames(ss []rewrite.RewriteStrategy) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func parseStrategies(names []string) []rewrite.RewriteStrategy {
	out := make([]rewrite.RewriteStrategy, len(names))
	for i, n := range names {
		out[i] = rewrite.RewriteStrategy(strings.TrimSpace(n))
	}
	return out
}

// loadMapping reads a mapping file: either a bare JSON array of entries
// or an object with an "entries" key.
func loadMapping(path string) ([]rewrite.MappingEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var entries []rewrite.MappingEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return entries, nil
	}
	var wrapped struct {
		Entries []rewrite.MappingEntry `json:"entries"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wrapped.Entries, nil
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func writePlan(path string, plan *rewrite.SpanRewritePlan) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := plan.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeStats(path string, stats *rewrite.RewriteStats) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := stats.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printReports(cmd *cobra.Command, reports []rewrite.EntryReport) {
	for _, r := range reports {
		status := "applied"
		if !r.Applied {
			status = "skipped"
		}
		line := fmt.Sprintf("%-7s %s page %d", status, r.QLabel, r.Page)
		if r.Applied && r.Strategy != "" {
			line += fmt.Sprintf(" (%s)", r.Strategy)
		}
		if r.Reason != "" {
			line += ": " + r.Reason
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
}
