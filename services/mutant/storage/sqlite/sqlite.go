// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlite implements storage.RecordStore on modernc.org/sqlite.
//
// # Description
//
// Records live in a single dna_records table whose dna_sequence column
// carries a UNIQUE constraint. UpsertIfAbsent runs
// INSERT ... ON CONFLICT(dna_sequence) DO NOTHING followed by a SELECT of
// the stored row inside one transaction, so racing callers converge on the
// row written by whichever insert committed first.
//
// # Thread Safety
//
// Store is safe for concurrent use. Concurrency control is delegated to
// SQLite's write lock and the busy timeout.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/MutantDX/pkg/idgen"
	"github.com/AleutianAI/MutantDX/services/mutant/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS dna_records (
	id           TEXT PRIMARY KEY,
	dna_sequence TEXT NOT NULL UNIQUE,
	is_mutant    INTEGER NOT NULL,
	created_on   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dna_records_created_on ON dna_records(created_on);
`

const (
	insertRecord = `INSERT INTO dna_records (id, dna_sequence, is_mutant, created_on)
VALUES (?, ?, ?, ?)
ON CONFLICT(dna_sequence) DO NOTHING`

	selectRecord = `SELECT id, dna_sequence, is_mutant, created_on
FROM dna_records WHERE dna_sequence = ?`

	selectDailyCounts = `SELECT created_on,
	SUM(CASE WHEN is_mutant = 1 THEN 1 ELSE 0 END),
	SUM(CASE WHEN is_mutant = 0 THEN 1 ELSE 0 END)
FROM dna_records
GROUP BY created_on
ORDER BY created_on ASC`
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for creation dates.
func WithClock(c storage.Clock) Option { return func(s *Store) { s.clock = c } }

// WithIDGenerator overrides the record ID generator.
func WithIDGenerator(g idgen.Generator) Option { return func(s *Store) { s.ids = g } }

// Store is a storage.RecordStore backed by SQLite.
type Store struct {
	db    *sql.DB
	clock storage.Clock
	ids   idgen.Generator

	mu     sync.RWMutex
	closed bool
}

var _ storage.RecordStore = (*Store)(nil)

// New wraps db, creating the dna_records schema if it does not exist.
// The Store takes ownership of db and closes it on Close.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:    db,
		clock: time.Now,
		ids:   idgen.Default,
	}
	for _, o := range opts {
		o(s)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("%w: create schema: %v", storage.ErrStoreUnavailable, err)
	}
	return s, nil
}

// Open opens the database described by cfg and returns a ready Store.
func Open(cfg OpenConfig, opts ...Option) (*Store, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
	}
	s, err := New(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// UpsertIfAbsent implements storage.RecordStore.
func (s *Store) UpsertIfAbsent(ctx context.Context, sequence string, isMutant bool) (storage.UpsertResult, error) {
	if sequence == "" {
		return storage.UpsertResult{}, storage.ErrEmptySequence
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.UpsertResult{}, storage.ErrClosed
	}

	var res storage.UpsertResult
	err := runTx(ctx, s.db, func(tx *sql.Tx) error {
		created := storage.DateOf(s.clock())
		out, err := tx.ExecContext(ctx, insertRecord,
			s.ids(), sequence, boolToInt(isMutant), created.Format(storage.DateLayout))
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		n, err := out.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		rec, err := scanRecord(tx.QueryRowContext(ctx, selectRecord, sequence))
		if err != nil {
			return err
		}
		res = storage.UpsertResult{AlreadyExisted: n == 0, Record: rec}
		return nil
	})
	if err != nil {
		return storage.UpsertResult{}, wrapErr("upsert", err)
	}
	return res, nil
}

// DailyCounts implements storage.RecordStore.
func (s *Store) DailyCounts(ctx context.Context) ([]storage.DailyCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, selectDailyCounts)
	if err != nil {
		return nil, wrapErr("daily counts", err)
	}
	defer rows.Close()

	var out []storage.DailyCount
	for rows.Next() {
		var (
			day string
			dc  storage.DailyCount
		)
		if err := rows.Scan(&day, &dc.Mutants, &dc.Humans); err != nil {
			return nil, wrapErr("daily counts: scan", err)
		}
		if dc.Date, err = storage.ParseDate(day); err != nil {
			return nil, wrapErr("daily counts: parse date", err)
		}
		out = append(out, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("daily counts", err)
	}
	return out, nil
}

// Close closes the underlying database. Calling Close twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func scanRecord(row *sql.Row) (storage.Record, error) {
	var (
		rec     storage.Record
		mutant  int64
		created string
	)
	if err := row.Scan(&rec.ID, &rec.Sequence, &mutant, &created); err != nil {
		return storage.Record{}, fmt.Errorf("select: %w", err)
	}
	day, err := storage.ParseDate(created)
	if err != nil {
		return storage.Record{}, fmt.Errorf("parse created_on %q: %w", created, err)
	}
	rec.IsMutant = mutant == 1
	rec.CreatedOn = day
	return rec, nil
}

// wrapErr tags database failures with ErrStoreUnavailable. Context errors
// pass through so callers can tell cancellation from an outage.
func wrapErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("sqlite: %s: %w", op, err)
	}
	return fmt.Errorf("%w: sqlite: %s: %v", storage.ErrStoreUnavailable, op, err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
