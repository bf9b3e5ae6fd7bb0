// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package detector classifies DNA samples as mutant or human.
//
// # Description
//
// A DNA sample is a square grid of nucleotide characters drawn from the
// alphabet {A, T, C, G}. A sample is classified as mutant when the grid
// holds at least two runs of four identical characters along any of the
// four principal directions (horizontal, vertical and both diagonals).
//
// The package has three layers:
//
//   - Validate: checks shape and alphabet, producing a Grid
//   - IsMutant / CountRuns: single-pass scanner with early exit
//   - Classify: Validate followed by IsMutant
//
// # Thread Safety
//
// Every function in this package is pure. Callers may classify from any
// number of goroutines without coordination.
package detector

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInvalidShape is returned when the grid is empty or not square.
	ErrInvalidShape = errors.New("invalid shape: grid must be square")

	// ErrInvalidAlphabet is returned when a cell holds a character outside
	// the nucleotide alphabet {A, T, C, G}.
	ErrInvalidAlphabet = errors.New("invalid alphabet: only A, T, C and G are allowed")
)

// =============================================================================
// Grid
// =============================================================================

// Grid is a validated square matrix of nucleotide rows.
//
// A Grid obtained from Validate is guaranteed to be square and to contain
// only characters from the nucleotide alphabet. A Grid built by hand (for
// instance in tests) carries no such guarantee; the scanner tolerates
// foreign characters by skipping the cells that hold them.
type Grid []string

// Size returns N, the number of rows (and columns) in the grid.
func (g Grid) Size() int {
	return len(g)
}

// Sequence returns the flattened, order-preserving concatenation of the rows.
//
// # Description
//
// The sequence text is the unique key under which a sample is persisted.
// Two grids with identical rows always produce the same sequence text.
//
// # Examples
//
//	Grid{"ATGC", "CAGT", "TTAT", "AGAA"}.Sequence() // "ATGCCAGTTTATAGAA"
func (g Grid) Sequence() string {
	return strings.Join(g, "")
}

// IsNucleotide reports whether b belongs to the alphabet {A, T, C, G}.
//
// Matching is case-sensitive.
func IsNucleotide(b byte) bool {
	switch b {
	case 'A', 'T', 'C', 'G':
		return true
	}
	return false
}

// Validate confirms that rows form a well-formed DNA grid.
//
// # Description
//
// Checks, in order:
//  1. The grid has at least one row.
//  2. Every row is exactly as long as the number of rows (square).
//  3. Every character is one of A, T, C, G.
//
// Shape is checked for every row before the alphabet is inspected, so a
// grid that is both ragged and contains foreign characters reports
// ErrInvalidShape.
//
// # Inputs
//
//   - rows: Candidate grid rows in top-to-bottom order.
//
// # Outputs
//
//   - Grid: The validated grid (shares the backing array of rows).
//   - error: Wraps ErrInvalidShape or ErrInvalidAlphabet with position
//     details. Use errors.Is to match.
//
// # Examples
//
//	_, err := detector.Validate([]string{"ATGC", "ATG"})
//	errors.Is(err, detector.ErrInvalidShape) // true
//
// # Limitations
//
//   - Grids smaller than 4x4 are valid but can never be mutant.
func Validate(rows []string) (Grid, error) {
	n := len(rows)
	if n == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrInvalidShape)
	}

	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("%w: row %d has %d characters, expected %d",
				ErrInvalidShape, i, len(row), n)
		}
	}

	for i, row := range rows {
		for j := 0; j < len(row); j++ {
			if !IsNucleotide(row[j]) {
				return nil, fmt.Errorf("%w: row %d column %d holds %q",
					ErrInvalidAlphabet, i, j, row[j])
			}
		}
	}

	return Grid(rows), nil
}
