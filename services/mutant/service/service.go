// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package service coordinates classification, persistence and statistics.
//
// # Description
//
// Service is the single entry point used by the HTTP handlers and the CLI:
//
//	rows ──► detector.ClassifyGrid ──► RecordStore.UpsertIfAbsent ──► Outcome
//	                                   RecordStore.DailyCounts ──► stats.Aggregate
//
// Validation errors from the detector and ErrStoreUnavailable from the
// store are returned unchanged so callers can match them with errors.Is.
//
// # Thread Safety
//
// Service is safe for concurrent use.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AleutianAI/MutantDX/pkg/extensions"
	"github.com/AleutianAI/MutantDX/services/mutant/detector"
	"github.com/AleutianAI/MutantDX/services/mutant/observability"
	"github.com/AleutianAI/MutantDX/services/mutant/stats"
	"github.com/AleutianAI/MutantDX/services/mutant/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// ErrNilStore is returned by New when no RecordStore is given.
var ErrNilStore = errors.New("record store must not be nil")

// Error codes used for the classify_errors_total metric.
const (
	CodeInvalidShape     = "invalid_shape"
	CodeInvalidAlphabet  = "invalid_alphabet"
	CodeStoreUnavailable = "store_unavailable"
	CodeCanceled         = "canceled"
	CodeInternal         = "internal"
)

// ErrorCode classifies err into one of the Code constants.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, detector.ErrInvalidShape):
		return CodeInvalidShape
	case errors.Is(err, detector.ErrInvalidAlphabet):
		return CodeInvalidAlphabet
	case errors.Is(err, storage.ErrStoreUnavailable), errors.Is(err, storage.ErrClosed):
		return CodeStoreUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	default:
		return CodeInternal
	}
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics sets the Prometheus collectors. Default: a private registry.
func WithMetrics(m *observability.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithTracer sets the tracer. Default: observability.Tracer().
func WithTracer(t trace.Tracer) Option { return func(s *Service) { s.tracer = t } }

// WithExtensions sets the extension hooks. Default: extensions.DefaultOptions().
func WithExtensions(ext extensions.ServiceOptions) Option {
	return func(s *Service) { s.ext = ext }
}

// Service classifies submitted grids and reports statistics.
type Service struct {
	store   storage.RecordStore
	metrics *observability.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	ext     extensions.ServiceOptions

	statsGroup singleflight.Group
}

// New creates a Service on store.
//
// # Inputs
//
//   - store: Record store. Required. Not closed by the Service.
//   - opts: Optional collaborators.
//
// # Outputs
//
//   - *Service: Ready for use.
//   - error: ErrNilStore if store is nil.
func New(store storage.RecordStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	s := &Service{store: store, ext: extensions.DefaultOptions()}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observability.NewMetrics(prometheus.NewRegistry())
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = observability.Tracer()
	}
	s.ext = s.ext.Normalize()
	return s, nil
}

// Submit classifies rows and stores the sequence unless already present.
//
// # Description
//
// Validation failures return detector.ErrInvalidShape or
// detector.ErrInvalidAlphabet and nothing is stored. For a sequence that
// is already stored, the Outcome reports the stored classification.
//
// # Inputs
//
//   - ctx: Carries cancellation into the store call.
//   - rows: Grid rows as submitted.
//
// # Outputs
//
//   - Outcome: Which of the four outcomes occurred.
//   - error: Validation error, or a store error wrapping
//     storage.ErrStoreUnavailable.
func (s *Service) Submit(ctx context.Context, rows []string) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "mutant.Submit",
		trace.WithAttributes(attribute.Int("dna.rows", len(rows))))
	defer span.End()

	scanStart := time.Now()
	grid, mutant, err := detector.ClassifyGrid(rows)
	s.metrics.ObserveScan(time.Since(scanStart))
	if err != nil {
		return Outcome{}, s.fail(ctx, span, err)
	}
	span.SetAttributes(attribute.Bool("dna.mutant", mutant))

	storeStart := time.Now()
	res, err := s.store.UpsertIfAbsent(ctx, grid.Sequence(), mutant)
	s.metrics.ObserveStore(observability.OpUpsert, time.Since(storeStart))
	if err != nil {
		return Outcome{}, s.fail(ctx, span, err)
	}

	out := Outcome{
		Kind:     outcomeKind(res.AlreadyExisted, res.Record.IsMutant),
		RecordID: res.Record.ID,
		Sequence: res.Record.Sequence,
		IsMutant: res.Record.IsMutant,
	}
	s.metrics.RecordOutcome(out.Kind.String())
	span.SetAttributes(
		attribute.String("dna.outcome", out.Kind.String()),
		attribute.String("dna.record_id", out.RecordID),
	)
	s.logger.DebugContext(ctx, "submission classified",
		"outcome", out.Kind.String(),
		"record_id", out.RecordID,
		"size", grid.Size(),
	)

	if out.Created() {
		s.audit(ctx, extensions.AuditEvent{
			EventType:    extensions.EventRecordCreated,
			Action:       "create",
			ResourceType: "dna_record",
			ResourceID:   out.RecordID,
			Outcome:      classification(out.IsMutant),
			Metadata:     map[string]any{"size": grid.Size()},
		})
	}
	return out, nil
}

// Stats returns aggregate statistics over all stored records.
//
// # Description
//
// Concurrent calls share one store query. Each caller still honours its
// own ctx: a cancelled caller returns ctx.Err() while the shared query
// continues for the others.
func (s *Service) Stats(ctx context.Context) (stats.Stats, error) {
	ctx, span := s.tracer.Start(ctx, "mutant.Stats")
	defer span.End()

	ch := s.statsGroup.DoChan("stats", func() (any, error) {
		start := time.Now()
		days, err := s.store.DailyCounts(context.WithoutCancel(ctx))
		s.metrics.ObserveStore(observability.OpDailyCounts, time.Since(start))
		if err != nil {
			return nil, err
		}
		return stats.Aggregate(days), nil
	})

	select {
	case <-ctx.Done():
		err := ctx.Err()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stats.Stats{}, err
	case r := <-ch:
		if r.Err != nil {
			span.RecordError(r.Err)
			span.SetStatus(codes.Error, r.Err.Error())
			s.logger.ErrorContext(ctx, "stats query failed", "error", r.Err.Error())
			return stats.Stats{}, r.Err
		}
		st := r.Val.(stats.Stats)
		span.SetAttributes(
			attribute.Int64("dna.mutants", st.MutantCount),
			attribute.Int64("dna.humans", st.HumanCount),
			attribute.Bool("dna.shared", r.Shared),
		)
		s.audit(ctx, extensions.AuditEvent{
			EventType:    extensions.EventStatsRead,
			Action:       "read",
			ResourceType: "stats",
			Outcome:      "success",
		})
		return st, nil
	}
}

func (s *Service) fail(ctx context.Context, span trace.Span, err error) error {
	code := ErrorCode(err)
	s.metrics.RecordError(code)
	span.RecordError(err)
	span.SetStatus(codes.Error, code)
	switch code {
	case CodeInvalidShape, CodeInvalidAlphabet, CodeCanceled:
		s.logger.DebugContext(ctx, "submission rejected", "code", code, "error", err.Error())
	default:
		s.logger.ErrorContext(ctx, "submission failed", "code", code, "error", err.Error())
	}
	return err
}

func (s *Service) audit(ctx context.Context, event extensions.AuditEvent) {
	if err := s.ext.AuditLogger.Log(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			"event_type", event.EventType,
			"error", err.Error(),
		)
	}
}

func classification(mutant bool) string {
	if mutant {
		return "mutant"
	}
	return "human"
}
