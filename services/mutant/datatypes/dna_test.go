// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/AleutianAI/MutantDX/services/mutant/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDnaRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     DnaRequest
		wantErr string
	}{
		{"valid", DnaRequest{DNA: []string{"ATGC", "CAGT", "TTAT", "AGAA"}}, ""},
		{"ragged rows pass field validation", DnaRequest{DNA: []string{"ATGC", "ATG"}}, ""},
		{"missing dna", DnaRequest{}, "dna is required"},
		{"empty dna", DnaRequest{DNA: []string{}}, "dna must contain at least 1 row"},
		{"empty row", DnaRequest{DNA: []string{"AT", ""}}, "dna[1] is required"},
		{"foreign letters left to the detector", DnaRequest{DNA: []string{"XXXX", "AT"}}, ""},
		{"lowercase left to the detector", DnaRequest{DNA: []string{"atgc"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate(0)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestDnaRequest_ValidateMaxRows(t *testing.T) {
	req := DnaRequest{DNA: []string{"A", "C", "G"}}
	assert.NoError(t, req.Validate(3))
	assert.ErrorIs(t, req.Validate(2), ErrTooManyRows)
}

func TestDnaRequest_DecodesJSON(t *testing.T) {
	var req DnaRequest
	require.NoError(t, json.Unmarshal([]byte(`{"dna":["ATGC","CAGT"]}`), &req))
	assert.Equal(t, []string{"ATGC", "CAGT"}, req.DNA)
}

func TestNewStatsResponse_JSON(t *testing.T) {
	d1 := time.Date(2024, 11, 8, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 11, 9, 0, 0, 0, 0, time.UTC)
	resp := NewStatsResponse(stats.Stats{
		MutantCount:    4,
		HumanCount:     7,
		Ratio:          400.0 / 11.0,
		MostMutantsDay: &d1,
		MostHumansDay:  &d2,
	})

	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, float64(4), out["count_mutant_dna"])
	assert.Equal(t, float64(7), out["count_human_dna"])
	assert.InDelta(t, 36.36, out["ratio"], 0.01)
	assert.Equal(t, "2024-11-08", out["most_mutants_day"])
	assert.Equal(t, "2024-11-09", out["most_humans_day"])
}

func TestNewStatsResponse_EmptyUsesNull(t *testing.T) {
	raw, err := json.Marshal(NewStatsResponse(stats.Stats{}))
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"count_mutant_dna":0,"count_human_dna":0,"ratio":0,"most_mutants_day":null,"most_humans_day":null}`,
		string(raw))
}
