// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AleutianAI/MutantDX/services/mutant/detector"
	"github.com/spf13/cobra"
)

var errNoRows = errors.New("no rows given: pass rows as arguments or use --file")

func runClassify(cmd *cobra.Command, args []string, file string, explain bool) error {
	rows := args
	if file != "" {
		if len(args) > 0 {
			return errors.New("pass rows as arguments or --file, not both")
		}
		var err error
		rows, err = readRows(cmd, file)
		if err != nil {
			return err
		}
	}
	if len(rows) == 0 {
		return errNoRows
	}

	grid, mutant, err := detector.ClassifyGrid(rows)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if mutant {
		fmt.Fprintln(out, "mutant")
	} else {
		fmt.Fprintln(out, "human")
	}
	if explain {
		fmt.Fprintf(out, "size: %dx%d\n", grid.Size(), grid.Size())
		fmt.Fprintf(out, "runs: %d\n", detector.CountRuns(grid, 0))
	}
	return nil
}

// readRows reads one row per line, trimming whitespace and skipping blank
// lines. "-" reads the command's stdin.
func readRows(cmd *cobra.Command, file string) ([]string, error) {
	var r io.Reader
	if file == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("open rows file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var rows []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			rows = append(rows, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows, nil
}
