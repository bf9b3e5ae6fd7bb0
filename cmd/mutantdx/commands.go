// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/AleutianAI/MutantDX/services/mutant"
	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. Each call returns fresh commands so
// tests can execute them independently.
func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "mutantdx",
		Short: "Classify DNA grids as mutant or human",
		Long: `mutantdx detects mutant DNA: a square grid of A, T, C, G is mutant when
it contains more than one run of four identical letters horizontally,
vertically or diagonally.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	var (
		classifyFile    string
		classifyExplain bool
	)
	classifyCmd := &cobra.Command{
		Use:   "classify [row...]",
		Short: "Classify a grid offline without storing it",
		Example: `  mutantdx classify ATGCGA CAGTGC TTATGT AGAAGG CCCCTA TCACTG
  mutantdx classify --file grid.txt --explain`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(cmd, args, classifyFile, classifyExplain)
		},
	}
	classifyCmd.Flags().StringVarP(&classifyFile, "file", "f", "", "read rows from a file, one per line (- for stdin)")
	classifyCmd.Flags().BoolVar(&classifyExplain, "explain", false, "print the number of runs found")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print aggregate statistics from the configured store as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, configPath)
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	var initForce bool
	configInitCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd, args, configPath, initForce)
		},
	}
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mutantdx %s\n", mutant.Version)
		},
	}

	rootCmd.AddCommand(serveCmd, classifyCmd, statsCmd, configCmd, versionCmd)
	return rootCmd
}
