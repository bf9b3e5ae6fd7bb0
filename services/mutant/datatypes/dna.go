// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the JSON request and response bodies of the
// mutant HTTP API.
package datatypes

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/MutantDX/services/mutant/stats"
	"github.com/go-openapi/strfmt"
	"github.com/go-playground/validator/v10"
)

// DefaultMaxRows bounds the grid size accepted by the API.
const DefaultMaxRows = 1000

// =============================================================================
// Shared Validator Instance
// =============================================================================

var dnaValidate = validator.New()

// =============================================================================
// Request Types
// =============================================================================

// DnaRequest is the body of POST /api/mutant.
//
// # Fields
//
//   - DNA: Required. Grid rows, top to bottom. 1 to maxRows rows, each
//     non-empty.
//
// # Validation
//
// Field tags cover presence and row count only. Shape and alphabet are
// left to detector.Validate in the service, which checks squareness
// before letters, so ["XXXX","AT"] is reported as a shape error.
//
// # Examples
//
//	{"dna": ["ATGCGA", "CAGTGC", "TTATGT", "AGAAGG", "CCCCTA", "TCACTG"]}
type DnaRequest struct {
	DNA []string `json:"dna" validate:"required,min=1,dive,required"`
}

// Validate checks field tags and the maxRows limit. maxRows <= 0 disables
// the limit.
//
// # Outputs
//
//   - error: ErrTooManyRows, or a ValidationError describing the first
//     failed field.
func (r *DnaRequest) Validate(maxRows int) error {
	if err := dnaValidate.Struct(r); err != nil {
		return newValidationError(err)
	}
	if maxRows > 0 && len(r.DNA) > maxRows {
		return fmt.Errorf("%w: %d rows, limit %d", ErrTooManyRows, len(r.DNA), maxRows)
	}
	return nil
}

// ErrTooManyRows is returned by Validate when the grid exceeds maxRows.
var ErrTooManyRows = errors.New("too many rows")

// ValidationError is a request that failed field validation.
type ValidationError struct {
	msg string
	err error
}

func (e *ValidationError) Error() string { return e.msg }
func (e *ValidationError) Unwrap() error { return e.err }

func newValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{msg: "invalid request: " + err.Error(), err: err}
	}
	fe := verrs[0]
	field := strings.ToLower(strings.TrimPrefix(fe.Namespace(), "DnaRequest."))
	var msg string
	switch fe.Tag() {
	case "required":
		msg = fmt.Sprintf("%s is required", field)
	case "min":
		msg = fmt.Sprintf("%s must contain at least %s row", field, fe.Param())
	default:
		msg = fmt.Sprintf("%s failed %q validation", field, fe.Tag())
	}
	return &ValidationError{msg: msg, err: err}
}

// =============================================================================
// Response Types
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// MutantResponse is the body of a 200 new-mutant response.
type MutantResponse struct {
	Status   string `json:"status"`
	RecordID string `json:"record_id"`
	Detail   string `json:"detail"`
}

// StatsResponse is the body of GET /api/stats. Days are "YYYY-MM-DD" or
// null when no records exist.
type StatsResponse struct {
	CountMutantDNA int64        `json:"count_mutant_dna"`
	CountHumanDNA  int64        `json:"count_human_dna"`
	Ratio          float64      `json:"ratio"`
	MostMutantsDay *strfmt.Date `json:"most_mutants_day"`
	MostHumansDay  *strfmt.Date `json:"most_humans_day"`
}

// NewStatsResponse converts aggregator output to the wire format.
func NewStatsResponse(s stats.Stats) StatsResponse {
	return StatsResponse{
		CountMutantDNA: s.MutantCount,
		CountHumanDNA:  s.HumanCount,
		Ratio:          s.Ratio,
		MostMutantsDay: toDate(s.MostMutantsDay),
		MostHumansDay:  toDate(s.MostHumansDay),
	}
}

func toDate(t *time.Time) *strfmt.Date {
	if t == nil {
		return nil
	}
	d := strfmt.Date(*t)
	return &d
}
