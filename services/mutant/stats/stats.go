// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stats aggregates per-day record counts into service statistics.
package stats

import (
	"sort"
	"time"

	"github.com/AleutianAI/MutantDX/services/mutant/storage"
)

// Stats summarises every stored record.
type Stats struct {
	MutantCount int64
	HumanCount  int64

	// Ratio is MutantCount as a percentage of all records. Zero when there
	// are no records.
	Ratio float64

	// MostMutantsDay is the date with the most mutant records, nil when
	// the store is empty. Ties go to the earliest date.
	MostMutantsDay *time.Time

	// MostHumansDay is the date with the most human records, nil when
	// the store is empty. Ties go to the earliest date.
	MostHumansDay *time.Time
}

// Total returns the number of records.
func (s Stats) Total() int64 {
	return s.MutantCount + s.HumanCount
}

// Aggregate computes Stats from per-day counts.
//
// # Description
//
// Sums both classifications and picks the busiest day for each. The input
// order does not matter: days are sorted by date before selection, and a
// later date replaces the current best only with a strictly greater count.
// Both days are set whenever days is non-empty, even if every count for one
// classification is zero.
//
// # Inputs
//
//   - days: Per-day counts. Not modified.
//
// # Outputs
//
//   - Stats: Zero value with nil days for empty input.
func Aggregate(days []storage.DailyCount) Stats {
	sorted := make([]storage.DailyCount, len(days))
	copy(sorted, days)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	var s Stats
	bestMutants, bestHumans := int64(-1), int64(-1)
	for i := range sorted {
		d := sorted[i]
		s.MutantCount += d.Mutants
		s.HumanCount += d.Humans
		if d.Mutants > bestMutants {
			bestMutants = d.Mutants
			s.MostMutantsDay = datePtr(d.Date)
		}
		if d.Humans > bestHumans {
			bestHumans = d.Humans
			s.MostHumansDay = datePtr(d.Date)
		}
	}
	s.Ratio = Ratio(s.MutantCount, s.HumanCount)
	return s
}

// Ratio returns mutants as a percentage of mutants+humans, or 0 when both
// are zero.
func Ratio(mutants, humans int64) float64 {
	total := mutants + humans
	if total == 0 {
		return 0
	}
	return float64(mutants) / float64(total) * 100
}

func datePtr(t time.Time) *time.Time {
	d := storage.DateOf(t)
	return &d
}
