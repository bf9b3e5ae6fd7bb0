// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package service

import "fmt"

// OutcomeKind enumerates the four results of a successful submission.
type OutcomeKind int

const (
	OutcomeNewMutant OutcomeKind = iota + 1
	OutcomeNewHuman
	OutcomeExistingMutant
	OutcomeExistingHuman
)

// String returns the metric label of k.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNewMutant:
		return "new_mutant"
	case OutcomeNewHuman:
		return "new_human"
	case OutcomeExistingMutant:
		return "existing_mutant"
	case OutcomeExistingHuman:
		return "existing_human"
	default:
		return "unknown"
	}
}

// Outcome describes a successful submission.
type Outcome struct {
	Kind OutcomeKind

	// RecordID is the ID of the stored record, new or pre-existing.
	RecordID string

	// Sequence is the flattened grid text.
	Sequence string

	// IsMutant is the stored classification. For existing records this is
	// the classification recorded first.
	IsMutant bool
}

// Created reports whether this submission created the record.
func (o Outcome) Created() bool {
	return o.Kind == OutcomeNewMutant || o.Kind == OutcomeNewHuman
}

// Detail is the human-readable message returned to API clients.
func (o Outcome) Detail() string {
	switch o.Kind {
	case OutcomeNewMutant:
		return fmt.Sprintf("The DNA sequence '%s' is identified as a new mutant.", o.Sequence)
	case OutcomeNewHuman:
		return fmt.Sprintf("The DNA sequence '%s' is identified as a new human.", o.Sequence)
	case OutcomeExistingMutant:
		return fmt.Sprintf("The DNA sequence '%s' is already recorded as mutant.", o.Sequence)
	case OutcomeExistingHuman:
		return fmt.Sprintf("The DNA sequence '%s' is already recorded as human.", o.Sequence)
	default:
		return fmt.Sprintf("The DNA sequence '%s' has an unknown outcome.", o.Sequence)
	}
}

func outcomeKind(alreadyExisted, isMutant bool) OutcomeKind {
	switch {
	case !alreadyExisted && isMutant:
		return OutcomeNewMutant
	case !alreadyExisted:
		return OutcomeNewHuman
	case isMutant:
		return OutcomeExistingMutant
	default:
		return OutcomeExistingHuman
	}
}
