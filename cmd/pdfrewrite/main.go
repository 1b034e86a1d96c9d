// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sassoftware/viya-pdf-rewrite/tracer"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		tracer.Flush()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pdfrewrite",
	Short: "Locate and rewrite text in the visual layer of PDF documents",
	Long: `pdfrewrite applies a replacement mapping to the rendered text of a PDF:
each mapping entry names a substring, where to look for it, and what to
draw in its place. Layout is preserved by substituting a fixed-width
font, kerning the remainder, or falling back to a literal in-place edit.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(rewriteCmd)
	rootCmd.AddCommand(planCmd)
}
