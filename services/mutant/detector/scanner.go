// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detector

const (
	// RunLength is the number of identical consecutive characters in a run.
	RunLength = 4

	// MutantThreshold is the number of runs that makes a sample mutant.
	MutantThreshold = 2
)

// direction is a (row, column) step between consecutive cells of a run.
type direction struct {
	dr, dc int
}

// directions only moves forward. Every run is visited from its first cell
// in row-major order, so the reverse directions would count it twice.
var directions = [...]direction{
	{0, 1},  // right
	{1, 0},  // down
	{1, 1},  // down-right
	{1, -1}, // down-left
}

// IsMutant reports whether g contains at least MutantThreshold runs.
//
// # Description
//
// Scans the grid once in row-major order and stops as soon as the second
// run is confirmed. IsMutant never fails; a grid smaller than RunLength
// returns false immediately.
//
// # Inputs
//
//   - g: Grid to scan. Expected to come from Validate.
//
// # Outputs
//
//   - bool: true when the sample is mutant.
//
// # Examples
//
//	g, _ := detector.Validate([]string{
//	    "ATGCGA", "CAGTGC", "TTATGT", "AGAAGG", "CCCCTA", "TCACTG",
//	})
//	detector.IsMutant(g) // true
func IsMutant(g Grid) bool {
	return CountRuns(g, MutantThreshold) >= MutantThreshold
}

// CountRuns counts runs of RunLength identical characters in g.
//
// # Description
//
// Visits every cell (i, j) exactly once and, for each of the four forward
// directions, checks whether the run starting at (i, j) stays in bounds and
// repeats the starting character. Overlapping runs are counted
// independently. Cells holding a character outside the alphabet are
// skipped.
//
// # Inputs
//
//   - g: Grid to scan.
//   - limit: Stop scanning once this many runs are found. Zero or a
//     negative value scans the full grid.
//
// # Outputs
//
//   - int: Number of runs found, never more than limit when limit > 0.
//
// # Thread Safety
//
// The counter is local to the call. Concurrent calls do not interact.
func CountRuns(g Grid, limit int) int {
	n := len(g)
	if n < RunLength {
		return 0
	}

	found := 0
	for i := 0; i < n; i++ {
		row := g[i]
		for j := 0; j < len(row); j++ {
			c := row[j]
			if !IsNucleotide(c) {
				continue
			}
			for _, d := range directions {
				if !runAt(g, i, j, d, c) {
					continue
				}
				found++
				if limit > 0 && found >= limit {
					return found
				}
			}
		}
	}
	return found
}

// runAt reports whether the RunLength cells starting at (i, j) along d all
// hold c. The start cell is assumed to hold c already.
func runAt(g Grid, i, j int, d direction, c byte) bool {
	n := len(g)
	endR := i + (RunLength-1)*d.dr
	endC := j + (RunLength-1)*d.dc
	if endR < 0 || endR >= n || endC < 0 || endC >= n {
		return false
	}

	for k := 1; k < RunLength; k++ {
		r, col := i+k*d.dr, j+k*d.dc
		// Hand-built grids may be ragged.
		if col >= len(g[r]) || g[r][col] != c {
			return false
		}
	}
	return true
}
