// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/MutantDX/pkg/extensions"
	"github.com/AleutianAI/MutantDX/pkg/idgen"
	"github.com/AleutianAI/MutantDX/services/mutant/detector"
	"github.com/AleutianAI/MutantDX/services/mutant/observability"
	"github.com/AleutianAI/MutantDX/services/mutant/storage"
	"github.com/AleutianAI/MutantDX/services/mutant/storage/sqlite"
	"github.com/AleutianAI/MutantDX/services/mutant/storage/storagetest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Fixtures
// =============================================================================

var (
	mutantRows = []string{"ATGCGA", "CAGTGC", "TTATGT", "AGAAGG", "CCCCTA", "TCACTG"}
	humanRows  = []string{"ATGCGA", "CAGTGC", "TTATTT", "AGACGG", "GCGTCA", "TCACTG"}
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newSQLiteStore(t *testing.T, clock storage.Clock) storage.RecordStore {
	t.Helper()
	s, err := sqlite.Open(sqlite.OpenConfig{Path: ":memory:"},
		sqlite.WithClock(clock), sqlite.WithIDGenerator(idgen.Sequential("rec-")))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestService(t *testing.T, store storage.RecordStore, opts ...Option) (*Service, *observability.Metrics) {
	t.Helper()
	m := observability.NewMetrics(prometheus.NewRegistry())
	opts = append([]Option{WithMetrics(m), WithLogger(quietLogger)}, opts...)
	svc, err := New(store, opts...)
	require.NoError(t, err)
	return svc, m
}

// fakeStore is a scriptable RecordStore.
type fakeStore struct {
	upsertErr  error
	dailyErr   error
	days       []storage.DailyCount
	release    chan struct{}
	upserts    atomic.Int64
	dailyCalls atomic.Int64
}

func (f *fakeStore) UpsertIfAbsent(ctx context.Context, seq string, mutant bool) (storage.UpsertResult, error) {
	f.upserts.Add(1)
	if f.upsertErr != nil {
		return storage.UpsertResult{}, f.upsertErr
	}
	return storage.UpsertResult{Record: storage.Record{ID: "fake", Sequence: seq, IsMutant: mutant}}, nil
}

func (f *fakeStore) DailyCounts(ctx context.Context) ([]storage.DailyCount, error) {
	f.dailyCalls.Add(1)
	if f.release != nil {
		<-f.release
	}
	return f.days, f.dailyErr
}

func (f *fakeStore) Close() error { return nil }

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestNew_Defaults(t *testing.T) {
	svc, err := New(&fakeStore{})
	require.NoError(t, err)
	assert.NotNil(t, svc.metrics)
	assert.NotNil(t, svc.logger)
	assert.NotNil(t, svc.tracer)
	assert.NotNil(t, svc.ext.AuditLogger)
}

// =============================================================================
// Submit Tests
// =============================================================================

func TestSubmit_FourOutcomes(t *testing.T) {
	store := newSQLiteStore(t, time.Now)
	svc, m := newTestService(t, store)
	ctx := context.Background()

	out, err := svc.Submit(ctx, mutantRows)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNewMutant, out.Kind)
	assert.Equal(t, "rec-1", out.RecordID)
	assert.Equal(t, "The DNA sequence 'ATGCGACAGTGCTTATGTAGAAGGCCCCTATCACTG' is identified as a new mutant.", out.Detail())

	out, err = svc.Submit(ctx, mutantRows)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExistingMutant, out.Kind)
	assert.Equal(t, "rec-1", out.RecordID)

	out, err = svc.Submit(ctx, humanRows)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNewHuman, out.Kind)
	assert.False(t, out.IsMutant)

	out, err = svc.Submit(ctx, humanRows)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExistingHuman, out.Kind)
	assert.Equal(t, "The DNA sequence 'ATGCGACAGTGCTTATTTAGACGGGCGTCATCACTG' is already recorded as human.", out.Detail())

	for _, kind := range []OutcomeKind{OutcomeNewMutant, OutcomeExistingMutant, OutcomeNewHuman, OutcomeExistingHuman} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassifyRequests.WithLabelValues(kind.String())), kind.String())
	}
}

func TestSubmit_ValidationErrorsSkipStore(t *testing.T) {
	store := &fakeStore{}
	svc, m := newTestService(t, store)

	_, err := svc.Submit(context.Background(), []string{"ATGC", "ATG"})
	assert.ErrorIs(t, err, detector.ErrInvalidShape)

	_, err = svc.Submit(context.Background(), []string{"ATGX", "ATGC", "ATGC", "ATGC"})
	assert.ErrorIs(t, err, detector.ErrInvalidAlphabet)

	assert.Zero(t, store.upserts.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassifyErrors.WithLabelValues(CodeInvalidShape)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassifyErrors.WithLabelValues(CodeInvalidAlphabet)))
}

func TestSubmit_StoreUnavailablePassesThrough(t *testing.T) {
	cause := fmt.Errorf("%w: disk full", storage.ErrStoreUnavailable)
	svc, m := newTestService(t, &fakeStore{upsertErr: cause})

	_, err := svc.Submit(context.Background(), mutantRows)
	assert.ErrorIs(t, err, storage.ErrStoreUnavailable)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassifyErrors.WithLabelValues(CodeStoreUnavailable)))
}

func TestSubmit_SmallGridIsHuman(t *testing.T) {
	svc, _ := newTestService(t, newSQLiteStore(t, time.Now))
	out, err := svc.Submit(context.Background(), []string{"AAA", "AAA", "AAA"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNewHuman, out.Kind)
}

func TestSubmit_ConcurrentIdenticalCreatesOnce(t *testing.T) {
	svc, _ := newTestService(t, newSQLiteStore(t, time.Now))
	const callers = 12

	var created atomic.Int64
	ids := make([]string, callers)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			out, err := svc.Submit(ctx, mutantRows)
			if err != nil {
				return err
			}
			if out.Created() {
				created.Add(1)
			} else if out.Kind != OutcomeExistingMutant {
				return fmt.Errorf("unexpected outcome %s", out.Kind)
			}
			ids[i] = out.RecordID
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(1), created.Load())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestSubmit_AuditsNewRecordsOnly(t *testing.T) {
	audit := extensions.NewSlogAuditLoggerWithCapacity(quietLogger, 16)
	svc, _ := newTestService(t, newSQLiteStore(t, time.Now),
		WithExtensions(extensions.DefaultOptions().WithAudit(audit)))
	ctx := context.Background()

	first, err := svc.Submit(ctx, mutantRows)
	require.NoError(t, err)
	_, err = svc.Submit(ctx, mutantRows)
	require.NoError(t, err)

	events, err := audit.Query(ctx, extensions.AuditFilter{EventTypes: []string{extensions.EventRecordCreated}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, first.RecordID, events[0].ResourceID)
	assert.Equal(t, "mutant", events[0].Outcome)
	assert.NotContains(t, fmt.Sprint(events[0].Metadata), first.Sequence)
}

type failingAudit struct{ *extensions.NopAuditLogger }

func (failingAudit) Log(context.Context, extensions.AuditEvent) error { return errors.New("sink down") }

func TestSubmit_AuditFailureDoesNotFailRequest(t *testing.T) {
	svc, _ := newTestService(t, newSQLiteStore(t, time.Now),
		WithExtensions(extensions.ServiceOptions{AuditLogger: failingAudit{&extensions.NopAuditLogger{}}}))
	out, err := svc.Submit(context.Background(), mutantRows)
	require.NoError(t, err)
	assert.True(t, out.Created())
}

// =============================================================================
// Stats Tests
// =============================================================================

func TestStats_AggregatesStore(t *testing.T) {
	d1 := time.Date(2024, 11, 8, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	svc, _ := newTestService(t, &fakeStore{days: []storage.DailyCount{
		{Date: d1, Mutants: 3, Humans: 2},
		{Date: d2, Mutants: 1, Humans: 5},
	}})

	st, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.MutantCount)
	assert.Equal(t, int64(7), st.HumanCount)
	assert.InDelta(t, 36.36, st.Ratio, 0.01)
	assert.Equal(t, d1, *st.MostMutantsDay)
	assert.Equal(t, d2, *st.MostHumansDay)
}

func TestStats_EndToEndWithStore(t *testing.T) {
	clock := storagetest.NewFakeClock(time.Date(2024, 11, 8, 10, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, newSQLiteStore(t, clock.Now))
	ctx := context.Background()

	_, err := svc.Submit(ctx, mutantRows)
	require.NoError(t, err)
	clock.Set(clock.Now().AddDate(0, 0, 1))
	_, err = svc.Submit(ctx, humanRows)
	require.NoError(t, err)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.MutantCount)
	assert.Equal(t, int64(1), st.HumanCount)
	assert.Equal(t, 50.0, st.Ratio)
	assert.Equal(t, "2024-11-08", st.MostMutantsDay.Format(storage.DateLayout))
	assert.Equal(t, "2024-11-09", st.MostHumansDay.Format(storage.DateLayout))
}

func TestStats_Empty(t *testing.T) {
	svc, _ := newTestService(t, &fakeStore{})
	st, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Total())
	assert.Nil(t, st.MostMutantsDay)
}

func TestStats_StoreErrorPassesThrough(t *testing.T) {
	svc, _ := newTestService(t, &fakeStore{dailyErr: fmt.Errorf("%w: gone", storage.ErrStoreUnavailable)})
	_, err := svc.Stats(context.Background())
	assert.ErrorIs(t, err, storage.ErrStoreUnavailable)
}

func TestStats_ConcurrentCallsShareOneQuery(t *testing.T) {
	store := &fakeStore{release: make(chan struct{})}
	svc, _ := newTestService(t, store)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Stats(context.Background())
			errs <- err
		}()
	}
	// Let every caller join the in-flight query before it completes.
	require.Eventually(t, func() bool { return store.dailyCalls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(store.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(1), store.dailyCalls.Load())
}

func TestStats_CallerCancellation(t *testing.T) {
	store := &fakeStore{release: make(chan struct{})}
	defer close(store.release)
	svc, _ := newTestService(t, store)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.Stats(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// =============================================================================
// Outcome and ErrorCode Tests
// =============================================================================

func TestOutcome_Detail(t *testing.T) {
	tests := []struct {
		kind OutcomeKind
		want string
	}{
		{OutcomeNewMutant, "The DNA sequence 'AAAA' is identified as a new mutant."},
		{OutcomeNewHuman, "The DNA sequence 'AAAA' is identified as a new human."},
		{OutcomeExistingMutant, "The DNA sequence 'AAAA' is already recorded as mutant."},
		{OutcomeExistingHuman, "The DNA sequence 'AAAA' is already recorded as human."},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Outcome{Kind: tt.kind, Sequence: "AAAA"}.Detail())
		})
	}
	assert.Equal(t, "unknown", OutcomeKind(0).String())
}

func TestOutcomeKind_ReportsStoredClassification(t *testing.T) {
	assert.Equal(t, OutcomeNewMutant, outcomeKind(false, true))
	assert.Equal(t, OutcomeNewHuman, outcomeKind(false, false))
	assert.Equal(t, OutcomeExistingMutant, outcomeKind(true, true))
	assert.Equal(t, OutcomeExistingHuman, outcomeKind(true, false))
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", detector.ErrInvalidShape), CodeInvalidShape},
		{fmt.Errorf("x: %w", detector.ErrInvalidAlphabet), CodeInvalidAlphabet},
		{fmt.Errorf("x: %w", storage.ErrStoreUnavailable), CodeStoreUnavailable},
		{storage.ErrClosed, CodeStoreUnavailable},
		{context.Canceled, CodeCanceled},
		{errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err), tt.err.Error())
	}
}
