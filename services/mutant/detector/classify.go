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

// Classify validates rows and reports whether they describe a mutant.
//
// # Description
//
// Classify is the single decision entry point used by the API layer.
// Validation errors are returned unchanged; the scanner only sees grids
// that passed validation.
//
// # Inputs
//
//   - rows: Candidate grid rows.
//
// # Outputs
//
//   - bool: true for mutant, false for human.
//   - error: Wraps ErrInvalidShape or ErrInvalidAlphabet.
//
// # Examples
//
//	mutant, err := detector.Classify(req.DNA)
//	if errors.Is(err, detector.ErrInvalidAlphabet) {
//	    // reject the request
//	}
//
// # Assumptions
//
//   - The result depends only on rows, so storing it keyed by the
//     sequence text is safe.
func Classify(rows []string) (bool, error) {
	g, err := Validate(rows)
	if err != nil {
		return false, err
	}
	return IsMutant(g), nil
}

// ClassifyGrid is Classify for callers that also need the validated Grid,
// typically to derive the storage key with Grid.Sequence.
func ClassifyGrid(rows []string) (Grid, bool, error) {
	g, err := Validate(rows)
	if err != nil {
		return nil, false, err
	}
	return g, IsMutant(g), nil
}
