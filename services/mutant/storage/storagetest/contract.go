// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storagetest holds the behavioural test suite shared by every
// storage.RecordStore backend.
package storagetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/MutantDX/pkg/idgen"
	"github.com/AleutianAI/MutantDX/services/mutant/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// Factory opens a fresh, empty store for one test. The store must use
// clock for creation dates and ids for record identifiers. The factory is
// responsible for registering cleanup with t.
type Factory func(t *testing.T, clock storage.Clock, ids idgen.Generator) storage.RecordStore

// FakeClock is a settable clock safe for concurrent use.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a FakeClock set to now.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Sequence returns a distinct 4x4 sequence text for i.
func Sequence(i int) string {
	const alphabet = "ATCG"
	b := make([]byte, 16)
	for k := range b {
		b[k] = alphabet[(i>>(2*(k%8)))&3]
	}
	// Keep the suffix unique past 2^16 distinct values.
	return string(b) + fmt.Sprintf("%08d", i)
}

// Run executes the RecordStore contract against stores produced by open.
func Run(t *testing.T, open Factory) {
	t.Run("creates new record", func(t *testing.T) { testCreatesNewRecord(t, open) })
	t.Run("second upsert reports existing", func(t *testing.T) { testSecondUpsertReportsExisting(t, open) })
	t.Run("rejects empty sequence", func(t *testing.T) { testRejectsEmptySequence(t, open) })
	t.Run("concurrent identical upserts create one record", func(t *testing.T) { testConcurrentIdenticalUpserts(t, open) })
	t.Run("concurrent distinct upserts all create", func(t *testing.T) { testConcurrentDistinctUpserts(t, open) })
	t.Run("many concurrent distinct writers all succeed", func(t *testing.T) { ManyConcurrentWriters(t, open) })
	t.Run("daily counts grouped and ordered", func(t *testing.T) { testDailyCounts(t, open) })
	t.Run("daily counts empty store", func(t *testing.T) { testDailyCountsEmpty(t, open) })
	t.Run("cancelled context", func(t *testing.T) { testCancelledContext(t, open) })
	t.Run("operations after close fail", func(t *testing.T) { testAfterClose(t, open) })
}

var day1 = time.Date(2024, 11, 8, 15, 4, 5, 0, time.UTC)

func testCreatesNewRecord(t *testing.T, open Factory) {
	clock := NewFakeClock(day1)
	store := open(t, clock.Now, idgen.Sequential("rec-"))

	res, err := store.UpsertIfAbsent(context.Background(), "ATGCCAGTTTATAGAA", true)
	require.NoError(t, err)

	assert.False(t, res.AlreadyExisted)
	assert.Equal(t, "rec-1", res.Record.ID)
	assert.Equal(t, "ATGCCAGTTTATAGAA", res.Record.Sequence)
	assert.True(t, res.Record.IsMutant)
	assert.Equal(t, storage.DateOf(day1), res.Record.CreatedOn)
}

func testSecondUpsertReportsExisting(t *testing.T, open Factory) {
	clock := NewFakeClock(day1)
	store := open(t, clock.Now, idgen.Sequential("rec-"))
	ctx := context.Background()

	first, err := store.UpsertIfAbsent(ctx, "AAAACCCCGGGGTTTT", false)
	require.NoError(t, err)

	clock.Set(day1.Add(48 * time.Hour))
	second, err := store.UpsertIfAbsent(ctx, "AAAACCCCGGGGTTTT", true)
	require.NoError(t, err)

	assert.True(t, second.AlreadyExisted)
	assert.Equal(t, first.Record, second.Record, "stored record must not change")
	assert.False(t, second.Record.IsMutant, "first classification wins")

	days, err := store.DailyCounts(ctx)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, int64(1), days[0].Humans)
	assert.Equal(t, int64(0), days[0].Mutants)
}

func testRejectsEmptySequence(t *testing.T, open Factory) {
	store := open(t, NewFakeClock(day1).Now, idgen.Sequential("rec-"))
	_, err := store.UpsertIfAbsent(context.Background(), "", true)
	assert.ErrorIs(t, err, storage.ErrEmptySequence)
}

func testConcurrentIdenticalUpserts(t *testing.T, open Factory) {
	store := open(t, NewFakeClock(day1).Now, idgen.Sequential("rec-"))
	const callers = 16

	results := make([]storage.UpsertResult, callers)
	g, ctx := errgroup.WithContext(context.Background())
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			<-start
			res, err := store.UpsertIfAbsent(ctx, "GGGGAAAACCCCTTTT", true)
			results[i] = res
			return err
		})
	}
	close(start)
	require.NoError(t, g.Wait())

	created := 0
	for _, res := range results {
		if !res.AlreadyExisted {
			created++
		}
		assert.Equal(t, results[0].Record.ID, res.Record.ID, "all callers converge on one record")
		assert.True(t, res.Record.IsMutant)
	}
	assert.Equal(t, 1, created, "exactly one caller creates the record")

	days, err := store.DailyCounts(context.Background())
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, int64(1), days[0].Mutants)
}

func testConcurrentDistinctUpserts(t *testing.T, open Factory) {
	store := open(t, NewFakeClock(day1).Now, idgen.UUIDv7())
	const callers = 24

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			res, err := store.UpsertIfAbsent(ctx, Sequence(i), i%3 == 0)
			if err != nil {
				return err
			}
			if res.AlreadyExisted {
				return fmt.Errorf("sequence %d reported as existing", i)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	days, err := store.DailyCounts(context.Background())
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, int64(8), days[0].Mutants)
	assert.Equal(t, int64(16), days[0].Humans)
}

// ManyWriters is the number of goroutines ManyConcurrentWriters runs.
const ManyWriters = 300

// ManyConcurrentWriters upserts ManyWriters distinct sequences at once and
// requires every one to succeed. All writes land on the same calendar day,
// so a backend that serialises on a shared per-day key or a single writer
// lock sees full contention. Backends run it from Run and may run it again
// against their production configuration.
func ManyConcurrentWriters(t *testing.T, open Factory) {
	store := open(t, NewFakeClock(day1).Now, idgen.UUIDv7())
	// Rows of a realistic matrix are long enough that commits take time.
	pad := strings.Repeat("ACGT", 2048)

	ids := make([]string, ManyWriters)
	g, ctx := errgroup.WithContext(context.Background())
	start := make(chan struct{})
	for i := 0; i < ManyWriters; i++ {
		g.Go(func() error {
			<-start
			res, err := store.UpsertIfAbsent(ctx, Sequence(i)+pad, i%3 == 0)
			if err != nil {
				return fmt.Errorf("writer %d: %w", i, err)
			}
			if res.AlreadyExisted {
				return fmt.Errorf("writer %d: reported as existing", i)
			}
			ids[i] = res.Record.ID
			return nil
		})
	}
	close(start)
	require.NoError(t, g.Wait())

	seen := make(map[string]struct{}, ManyWriters)
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, ManyWriters, "every writer gets its own record")

	days, err := store.DailyCounts(context.Background())
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, int64(ManyWriters/3), days[0].Mutants)
	assert.Equal(t, int64(ManyWriters-ManyWriters/3), days[0].Humans)
}

func testDailyCounts(t *testing.T, open Factory) {
	clock := NewFakeClock(day1)
	store := open(t, clock.Now, idgen.Sequential("rec-"))
	ctx := context.Background()

	day2 := day1.Add(24 * time.Hour)
	seq := 0
	insert := func(at time.Time, mutants, humans int) {
		clock.Set(at)
		for i := 0; i < mutants; i++ {
			_, err := store.UpsertIfAbsent(ctx, Sequence(seq), true)
			require.NoError(t, err)
			seq++
		}
		for i := 0; i < humans; i++ {
			_, err := store.UpsertIfAbsent(ctx, Sequence(seq), false)
			require.NoError(t, err)
			seq++
		}
	}
	// Later day first, so ordering cannot come from insertion order.
	insert(day2, 1, 5)
	insert(day1, 3, 2)

	days, err := store.DailyCounts(ctx)
	require.NoError(t, err)
	require.Len(t, days, 2)

	assert.Equal(t, storage.DateOf(day1), days[0].Date)
	assert.Equal(t, int64(3), days[0].Mutants)
	assert.Equal(t, int64(2), days[0].Humans)

	assert.Equal(t, storage.DateOf(day2), days[1].Date)
	assert.Equal(t, int64(1), days[1].Mutants)
	assert.Equal(t, int64(5), days[1].Humans)
}

func testDailyCountsEmpty(t *testing.T, open Factory) {
	store := open(t, NewFakeClock(day1).Now, idgen.Sequential("rec-"))
	days, err := store.DailyCounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, days)
}

func testCancelledContext(t *testing.T, open Factory) {
	store := open(t, NewFakeClock(day1).Now, idgen.Sequential("rec-"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.UpsertIfAbsent(ctx, "ATGCATGCATGCATGC", true)
	assert.Error(t, err)

	days, err := store.DailyCounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, days, "cancelled write must not persist")
}

func testAfterClose(t *testing.T, open Factory) {
	store := open(t, NewFakeClock(day1).Now, idgen.Sequential("rec-"))
	require.NoError(t, store.Close())

	_, err := store.UpsertIfAbsent(context.Background(), "ATGCATGCATGCATGC", true)
	assert.ErrorIs(t, err, storage.ErrClosed)

	_, err = store.DailyCounts(context.Background())
	assert.ErrorIs(t, err, storage.ErrClosed)

	assert.NoError(t, store.Close(), "Close is idempotent")
}
