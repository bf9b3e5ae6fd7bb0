// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Audit event types emitted by the mutant service.
const (
	EventRecordCreated = "record.created"
	EventStatsRead     = "stats.read"
)

// AuditEvent is a single audit trail entry.
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    EventRecordCreated,
//	    Action:       "create",
//	    ResourceType: "dna_record",
//	    ResourceID:   rec.ID,
//	    Outcome:      "mutant",
//	    Metadata:     map[string]any{"request_id": reqID},
//	}
type AuditEvent struct {
	// EventType has the form "category.action" (e.g. "record.created").
	EventType string

	// Timestamp is set to time.Now().UTC() by loggers when zero.
	Timestamp time.Time

	// Action is the operation performed: "create", "read".
	Action string

	// ResourceType is the kind of resource touched, e.g. "dna_record".
	ResourceType string

	// ResourceID identifies the resource instance (optional).
	ResourceID string

	// Outcome is the result, e.g. "mutant", "human", "success".
	Outcome string

	// Metadata holds event-specific details. Never put full sequences here.
	Metadata map[string]any
}

// AuditFilter selects events in Query. Zero fields do not filter.
type AuditFilter struct {
	EventTypes []string
	ResourceID string
	StartTime  time.Time
	EndTime    time.Time

	// Limit caps the result size. Zero means no limit.
	Limit int
}

// Matches reports whether e satisfies every non-zero field of f.
func (f AuditFilter) Matches(e AuditEvent) bool {
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == e.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ResourceID != "" && f.ResourceID != e.ResourceID {
		return false
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && !e.Timestamp.Before(f.EndTime) {
		return false
	}
	return true
}

// AuditLogger records audit events.
//
// # Description
//
// Log is called on the request path after a record is committed, so it
// must return quickly. A Log failure is reported by the caller but never
// fails the request.
type AuditLogger interface {
	// Log records event.
	Log(ctx context.Context, event AuditEvent) error

	// Query returns events matching filter, newest first.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	// Flush persists buffered events. Called on shutdown.
	Flush(ctx context.Context) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

// Log discards event.
func (l *NopAuditLogger) Log(ctx context.Context, event AuditEvent) error { return nil }

// Query always returns an empty slice.
func (l *NopAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// Flush is a no-op.
func (l *NopAuditLogger) Flush(ctx context.Context) error { return nil }

var _ AuditLogger = (*NopAuditLogger)(nil)

// SlogAuditLogger writes each event as one structured log line and keeps
// the most recent events in memory for Query.
//
// # Thread Safety
//
// Safe for concurrent use.
type SlogAuditLogger struct {
	logger   *slog.Logger
	capacity int

	mu     sync.Mutex
	events []AuditEvent // ring buffer, oldest at head
	head   int
}

// DefaultAuditCapacity is the number of events SlogAuditLogger retains.
const DefaultAuditCapacity = 1024

// NewSlogAuditLogger returns an audit logger writing to logger with
// DefaultAuditCapacity retained events. A nil logger uses slog.Default.
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	return NewSlogAuditLoggerWithCapacity(logger, DefaultAuditCapacity)
}

// NewSlogAuditLoggerWithCapacity is NewSlogAuditLogger with an explicit
// retention size. capacity <= 0 disables retention.
func NewSlogAuditLoggerWithCapacity(logger *slog.Logger, capacity int) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity < 0 {
		capacity = 0
	}
	return &SlogAuditLogger{logger: logger, capacity: capacity}
}

// Log implements AuditLogger.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	attrs := []slog.Attr{
		slog.String("event_type", event.EventType),
		slog.String("action", event.Action),
		slog.String("resource_type", event.ResourceType),
		slog.String("resource_id", event.ResourceID),
		slog.String("outcome", event.Outcome),
		slog.Time("timestamp", event.Timestamp),
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)

	if l.capacity == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) < l.capacity {
		l.events = append(l.events, event)
	} else {
		l.events[l.head] = event
		l.head = (l.head + 1) % l.capacity
	}
	return nil
}

// Query implements AuditLogger.
func (l *SlogAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	out := []AuditEvent{}
	n := len(l.events)
	for i := n - 1; i >= 0; i-- {
		e := l.events[(l.head+i)%n]
		if !filter.Matches(e) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Flush is a no-op; Log writes synchronously.
func (l *SlogAuditLogger) Flush(ctx context.Context) error { return nil }

var _ AuditLogger = (*SlogAuditLogger)(nil)
