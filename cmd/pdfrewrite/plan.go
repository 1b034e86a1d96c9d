// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	rewrite "github.com/sassoftware/viya-pdf-rewrite"
	"github.com/sassoftware/viya-pdf-rewrite/logger"
	"github.com/sassoftware/viya-pdf-rewrite/tracer"
)

var planCmd = &cobra.Command{
	Use:   "plan [flags] input.pdf",
	Short: "Build the span rewrite plan without touching the document",
	Long: `Build the declarative span rewrite plan for a mapping and print it as
JSON. The document itself is left untouched; the plan names the spans,
ranges, and scale factors a renderer would apply.

Examples:
  # Print the plan for a mapping
  pdfrewrite plan --mapping mapping.json report.pdf

  # Write it to a file
  pdfrewrite plan --mapping mapping.json --out plan.json report.pdf
`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	fl := planCmd.Flags()
	fl.StringVarP(&cfgFile, "config", "c", "", "Path to configuration file (default .pdfrewrite.yaml)")
	fl.StringVarP(&mappingPath, "mapping", "m", "", "Path to the JSON replacement mapping (required)")
	fl.StringVarP(&planPath, "out", "o", "", "Plan output path (default stdout)")
	fl.BoolVar(&debugMode, "debug", false, "Enable debug logging")
	planCmd.MarkFlagRequired("mapping")
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	cfg.RewriteMode = rewrite.SpanPlanMode

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
	doc, err := rewrite.OpenDocument(args[0])
	if err != nil {
		return err
	}

	res, err := rewrite.NewRewriter(cfg).Rewrite(context.Background(), doc, entries)
	if err != nil {
		tracer.Flush()
		return err
	}
	if res.Plan == nil {
		printReports(cmd, res.Reports)
		return fmt.Errorf("no entry produced a plan")
	}
	if planPath != "" {
		return writePlan(planPath, res.Plan)
	}
	return res.Plan.WriteJSON(cmd.OutOrStdout())
}
