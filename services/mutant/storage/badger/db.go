// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger implements storage.RecordStore on BadgerDB.
//
// The embedded key-value backend needs no external service, which makes it
// the default for single-node deployments and for the classify CLI.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dgraph-io/badger/v4"
)

// Conflict replay policy for Update: at most maxConflictRetries attempts,
// separated by jittered exponential waits between conflictBackoffMin and
// conflictBackoffMax.
const (
	maxConflictRetries = 32
	conflictBackoffMin = time.Millisecond
	conflictBackoffMax = 25 * time.Millisecond
)

// Config holds configuration for the BadgerDB instance behind a Store.
type Config struct {
	// Path is the data directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps all data in RAM. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Nil silences them.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio that triggers a rewrite. Must be
	// in (0,1) when GC is enabled.
	GCDiscardRatio float64
}

// DefaultConfig returns the production configuration for a database at path.
//
// # Description
//
// Synchronous writes, 5-minute GC interval, 0.5 discard ratio.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: no disk, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type slogAdapter struct {
	logger *slog.Logger
}

func (l *slogAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *slogAdapter) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *slogAdapter) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *slogAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// DB wraps a BadgerDB handle with its GC loop.
type DB struct {
	*badger.DB
	gc *gcLoop
}

// OpenDB opens BadgerDB per cfg and starts value log GC when configured.
//
// # Inputs
//
//   - cfg: Path is required unless InMemory is set.
//
// # Outputs
//
//   - *DB: Caller must Close it.
//   - error: Non-nil if the directory cannot be created or Badger fails to open.
func OpenDB(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger: path is required for a persistent database")
	}
	if cfg.GCDiscardRatio < 0 || cfg.GCDiscardRatio >= 1 {
		return nil, fmt.Errorf("badger: gc discard ratio %v outside [0,1)", cfg.GCDiscardRatio)
	}
	if gcEnabled(cfg) && cfg.GCDiscardRatio == 0 {
		// RunValueLogGC rejects a zero ratio on every tick.
		return nil, fmt.Errorf("badger: gc discard ratio must be in (0,1) when gc interval is %v", cfg.GCInterval)
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badger: create %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&slogAdapter{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}

	db := &DB{DB: bdb}
	if gcEnabled(cfg) {
		db.gc = startGC(bdb, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}
	return db, nil
}

func gcEnabled(cfg Config) bool {
	return cfg.GCInterval > 0 && !cfg.InMemory
}

// Close stops GC and closes the database.
func (d *DB) Close() error {
	if d.gc != nil {
		d.gc.stop()
	}
	return d.DB.Close()
}

// Update runs fn in a read-write transaction and commits it, replaying the
// whole transaction when the commit fails with badger.ErrConflict.
//
// # Description
//
// fn may run several times and must not keep side effects outside the
// transaction between attempts. Replays wait a jittered exponential backoff
// so colliding writers spread out instead of retrying in lockstep. ctx is
// checked before every attempt and interrupts the wait.
//
// # Thread Safety
//
// Safe for concurrent use.
func (d *DB) Update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = conflictBackoffMin
	b.MaxInterval = conflictBackoffMax
	b.RandomizationFactor = 0.5
	b.Multiplier = 2

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if cerr := ctx.Err(); cerr != nil {
			return struct{}{}, backoff.Permanent(cerr)
		}
		attempts++
		err := d.updateOnce(fn)
		if err != nil && !errors.Is(err, badger.ErrConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxConflictRetries))
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("badger: gave up after %d conflicting commits: %w", attempts, err)
	}
	return err
}

func (d *DB) updateOnce(fn func(txn *badger.Txn) error) error {
	txn := d.DB.NewTransaction(true)
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// View runs fn in a read-only transaction.
func (d *DB) View(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := d.DB.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}

// gcLoop periodically triggers value log garbage collection.
type gcLoop struct {
	db       *badger.DB
	ratio    float64
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

func startGC(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcLoop {
	g := &gcLoop{
		db:     db,
		ratio:  ratio,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go g.run(interval)
	return g
}

func (g *gcLoop) run(interval time.Duration) {
	defer close(g.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.collect()
		}
	}
}

func (g *gcLoop) collect() {
	err := g.db.RunValueLogGC(g.ratio)
	if g.logger == nil {
		return
	}
	switch {
	case err == nil:
		g.logger.Debug("badger value log GC completed")
	case errors.Is(err, badger.ErrNoRewrite):
		// nothing to reclaim
	default:
		g.logger.Warn("badger value log GC failed", slog.String("error", err.Error()))
	}
}

func (g *gcLoop) stop() {
	g.stopOnce.Do(func() { close(g.stopCh) })
	<-g.doneCh
}
