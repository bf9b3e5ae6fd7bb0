// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability holds the Prometheus metrics and OpenTelemetry
// tracing setup of the mutant service.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mutantdx"

// Store operation labels for StoreDuration.
const (
	OpUpsert      = "upsert"
	OpDailyCounts = "daily_counts"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

// Metrics groups the service's Prometheus collectors.
//
// # Description
//
// Collectors are registered on the Registerer passed to NewMetrics, so
// tests can use a private prometheus.NewRegistry() and several services can
// coexist in one process.
//
// # Thread Safety
//
// Safe for concurrent use.
type Metrics struct {
	// ClassifyRequests counts completed submissions.
	// Labels: outcome (new_mutant, new_human, existing_mutant, existing_human)
	ClassifyRequests *prometheus.CounterVec

	// ClassifyErrors counts failed submissions.
	// Labels: code (invalid_shape, invalid_alphabet, store_unavailable, internal)
	ClassifyErrors *prometheus.CounterVec

	// ScanDuration measures the pattern scan alone.
	ScanDuration prometheus.Histogram

	// StoreDuration measures record store calls.
	// Labels: op (upsert, daily_counts)
	StoreDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors on reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ClassifyRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classify_requests_total",
			Help:      "Completed DNA submissions by outcome",
		}, []string{"outcome"}),
		ClassifyErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classify_errors_total",
			Help:      "Failed DNA submissions by error code",
		}, []string{"code"}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Time spent validating and scanning a grid",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		StoreDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_duration_seconds",
			Help:      "Record store call latency by operation",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}),
	}
}

// RecordOutcome counts a completed submission.
func (m *Metrics) RecordOutcome(outcome string) {
	m.ClassifyRequests.WithLabelValues(outcome).Inc()
}

// RecordError counts a failed submission.
func (m *Metrics) RecordError(code string) {
	m.ClassifyErrors.WithLabelValues(code).Inc()
}

// ObserveScan records the duration of one scan.
func (m *Metrics) ObserveScan(d time.Duration) {
	m.ScanDuration.Observe(d.Seconds())
}

// ObserveStore records the duration of one store call.
func (m *Metrics) ObserveStore(op string, d time.Duration) {
	m.StoreDuration.WithLabelValues(op).Observe(d.Seconds())
}
