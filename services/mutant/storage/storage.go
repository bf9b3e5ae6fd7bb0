// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines the record store contract for classified DNA
// sequences.
//
// # Description
//
// Every distinct sequence text is stored exactly once together with its
// classification and creation date. Records are never updated or deleted.
// Two backends implement RecordStore:
//
//   - storage/sqlite: modernc.org/sqlite with a UNIQUE constraint
//   - storage/badger: BadgerDB with optimistic transactions
//
// # Concurrency Contract
//
// UpsertIfAbsent is a single atomic conditional write. When several
// callers race on a never-seen sequence, exactly one creates the record
// and every other caller observes AlreadyExisted=true together with the
// winner's record.
package storage

import (
	"context"
	"errors"
	"time"
)

// DateLayout is the calendar-date format used for CreatedOn values.
const DateLayout = "2006-01-02"

var (
	// ErrStoreUnavailable wraps any failure of the underlying database.
	ErrStoreUnavailable = errors.New("record store unavailable")

	// ErrEmptySequence is returned when UpsertIfAbsent receives "".
	ErrEmptySequence = errors.New("sequence text must not be empty")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("record store closed")
)

// Record is a persisted, classified DNA sequence.
type Record struct {
	// ID is generated when the record is created.
	ID string `json:"id"`

	// Sequence is the flattened grid text. Unique across the store.
	Sequence string `json:"dna_sequence"`

	// IsMutant is the classification stored at creation time.
	IsMutant bool `json:"is_mutant"`

	// CreatedOn is the UTC calendar date of creation (time of day is zero).
	CreatedOn time.Time `json:"created_on"`
}

// UpsertResult is the outcome of UpsertIfAbsent.
type UpsertResult struct {
	// AlreadyExisted is true when the sequence was stored before this call.
	AlreadyExisted bool

	// Record is the stored record: newly created, or the pre-existing one.
	Record Record
}

// DailyCount holds the number of mutant and human records created on Date.
type DailyCount struct {
	Date    time.Time
	Mutants int64
	Humans  int64
}

// RecordStore persists classified sequences.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type RecordStore interface {
	// UpsertIfAbsent stores sequence with its classification unless the
	// sequence is already present.
	//
	// # Inputs
	//
	//   - ctx: Cancels the write (and any busy/conflict retries).
	//   - sequence: Flattened grid text. Must not be empty.
	//   - isMutant: Classification to store if the sequence is new.
	//
	// # Outputs
	//
	//   - UpsertResult: AlreadyExisted and the stored record. For an
	//     existing record the stored classification wins over isMutant.
	//   - error: Wraps ErrStoreUnavailable on database failure.
	UpsertIfAbsent(ctx context.Context, sequence string, isMutant bool) (UpsertResult, error)

	// DailyCounts returns per-day mutant and human counts, ordered by
	// date ascending. Days without records are omitted.
	DailyCounts(ctx context.Context) ([]DailyCount, error)

	// Close releases the underlying database.
	Close() error
}

// Clock returns the current time. Stores truncate it to a UTC date.
type Clock func() time.Time

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a DateLayout string into a UTC date.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}
