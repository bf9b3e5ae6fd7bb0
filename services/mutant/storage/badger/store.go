// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/MutantDX/pkg/idgen"
	"github.com/AleutianAI/MutantDX/services/mutant/storage"
	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	seq/<sha256 hex of sequence>              -> JSON recordValue
//	day/<YYYY-MM-DD>/<m|h>/<sha256 hex>       -> empty
//
// Sequences are hashed because a large grid exceeds Badger's key size
// limit. The full text is kept in the value and compared on read.
//
// Each record gets its own day index key instead of bumping a shared
// per-day counter, so writers of distinct sequences never touch the same
// key and never conflict.
const (
	seqPrefix = "seq/"
	dayPrefix = "day/"

	kindMutant = "m"
	kindHuman  = "h"
)

type recordValue struct {
	ID        string `json:"id"`
	Sequence  string `json:"dna_sequence"`
	IsMutant  bool   `json:"is_mutant"`
	CreatedOn string `json:"created_on"`
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for creation dates.
func WithClock(c storage.Clock) Option { return func(s *Store) { s.clock = c } }

// WithIDGenerator overrides the record ID generator.
func WithIDGenerator(g idgen.Generator) Option { return func(s *Store) { s.ids = g } }

// Store is a storage.RecordStore backed by BadgerDB.
//
// # Description
//
// UpsertIfAbsent reads the sequence key and, when absent, writes the record
// and its day index key in the same optimistic transaction. The only key
// read is the sequence key, so only a concurrent writer of the same
// sequence makes the commit fail with badger.ErrConflict; the replay then
// finds the winner's record.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	db    *DB
	clock storage.Clock
	ids   idgen.Generator

	mu     sync.RWMutex
	closed bool
}

var _ storage.RecordStore = (*Store)(nil)

// New wraps an open DB. The Store owns db and closes it on Close.
func New(db *DB, opts ...Option) *Store {
	s := &Store{db: db, clock: time.Now, ids: idgen.Default}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open opens BadgerDB per cfg and returns a ready Store.
func Open(cfg Config, opts ...Option) (*Store, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
	}
	return New(db, opts...), nil
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

	hash := sequenceHash(sequence)
	key := []byte(seqPrefix + hash)
	var res storage.UpsertResult
	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		existing, found, err := getRecord(txn, key, sequence)
		if err != nil {
			return err
		}
		if found {
			res = storage.UpsertResult{AlreadyExisted: true, Record: existing}
			return nil
		}

		created := storage.DateOf(s.clock())
		rec := storage.Record{
			ID:        s.ids(),
			Sequence:  sequence,
			IsMutant:  isMutant,
			CreatedOn: created,
		}
		if err := putJSON(txn, key, recordValue{
			ID:        rec.ID,
			Sequence:  rec.Sequence,
			IsMutant:  rec.IsMutant,
			CreatedOn: created.Format(storage.DateLayout),
		}); err != nil {
			return err
		}
		if err := txn.Set(dayKey(created, isMutant, hash), nil); err != nil {
			return fmt.Errorf("set day index: %w", err)
		}
		res = storage.UpsertResult{Record: rec}
		return nil
	})
	if err != nil {
		return storage.UpsertResult{}, wrapErr("upsert", err)
	}
	return res, nil
}

// DailyCounts implements storage.RecordStore. It walks the day index keys
// without loading values; keys sort lexicographically in date order.
func (s *Store) DailyCounts(ctx context.Context) ([]storage.DailyCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	var out []storage.DailyCount
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(dayPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var cur *storage.DailyCount
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().Key()
			day, kind, err := parseDayKey(key)
			if err != nil {
				return err
			}
			if cur == nil || !cur.Date.Equal(day) {
				out = append(out, storage.DailyCount{Date: day})
				cur = &out[len(out)-1]
			}
			if kind == kindMutant {
				cur.Mutants++
			} else {
				cur.Humans++
			}
		}
		return nil
	})
	if err != nil {
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

func sequenceHash(sequence string) string {
	sum := sha256.Sum256([]byte(sequence))
	return hex.EncodeToString(sum[:])
}

func dayKey(day time.Time, isMutant bool, hash string) []byte {
	kind := kindHuman
	if isMutant {
		kind = kindMutant
	}
	return []byte(dayPrefix + day.Format(storage.DateLayout) + "/" + kind + "/" + hash)
}

// parseDayKey splits day/<date>/<kind>/<hash> into its date and kind.
func parseDayKey(key []byte) (time.Time, string, error) {
	parts := strings.Split(strings.TrimPrefix(string(key), dayPrefix), "/")
	if len(parts) != 3 || (parts[1] != kindMutant && parts[1] != kindHuman) {
		return time.Time{}, "", fmt.Errorf("malformed day key %q", key)
	}
	day, err := storage.ParseDate(parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parse day key %q: %w", key, err)
	}
	return day, parts[1], nil
}

func getRecord(txn *badger.Txn, key []byte, sequence string) (storage.Record, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return storage.Record{}, false, nil
	}
	if err != nil {
		return storage.Record{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	var v recordValue
	if err := item.Value(func(b []byte) error { return json.Unmarshal(b, &v) }); err != nil {
		return storage.Record{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	if v.Sequence != sequence {
		return storage.Record{}, false, fmt.Errorf("sequence hash collision on %s", key)
	}
	created, err := storage.ParseDate(v.CreatedOn)
	if err != nil {
		return storage.Record{}, false, fmt.Errorf("decode %s created_on: %w", key, err)
	}
	return storage.Record{
		ID:        v.ID,
		Sequence:  v.Sequence,
		IsMutant:  v.IsMutant,
		CreatedOn: created,
	}, true, nil
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := txn.Set(key, b); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func wrapErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("badger: %s: %w", op, err)
	}
	return fmt.Errorf("%w: badger: %s: %v", storage.ErrStoreUnavailable, op, err)
}
