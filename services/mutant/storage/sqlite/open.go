// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultBusyTimeout is applied when OpenConfig.BusyTimeout is zero.
const DefaultBusyTimeout = 5 * time.Second

const maxBusyRetries = 3

// OpenConfig controls how the database file is opened.
type OpenConfig struct {
	// Path of the database file. ":memory:" opens a private in-memory
	// database pinned to a single connection.
	Path string

	// BusyTimeout sets PRAGMA busy_timeout.
	BusyTimeout time.Duration
}

// OpenDB opens the database at cfg.Path. The connection pragmas (busy
// timeout, foreign keys, WAL journal, NORMAL synchronous) are passed in the
// DSN so every connection the pool opens applies them. Parent directories of
// the file are created when missing.
func OpenDB(cfg OpenConfig) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if strings.ContainsRune(cfg.Path, '?') {
		return nil, fmt.Errorf("sqlite: path %q must not contain '?'", cfg.Path)
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = DefaultBusyTimeout
	}

	memory := cfg.Path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if memory {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return db, nil
}

// dsn appends the per-connection pragmas to cfg.Path. busy_timeout comes
// first so the journal_mode switch already waits on a locked file.
// Transactions begin IMMEDIATE so the write lock is taken through the busy
// handler instead of failing on a read-to-write upgrade.
func dsn(cfg OpenConfig) string {
	q := url.Values{}
	q.Set("_txlock", "immediate")
	for _, p := range []string{
		fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()),
		"foreign_keys(1)",
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
	} {
		q.Add("_pragma", p)
	}
	return cfg.Path + "?" + q.Encode()
}

// isBusy reports whether err is an SQLITE_BUSY or lock condition.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// runTx executes fn in a transaction, retrying on SQLITE_BUSY with
// 100/200/300 ms backoff.
func runTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	var err error
	for i := range maxBusyRetries {
		err = runOnce(ctx, db, fn)
		if err == nil || !isBusy(err) || i == maxBusyRetries-1 {
			return err
		}
		if serr := sleepCtx(ctx, time.Duration(100*(i+1))*time.Millisecond); serr != nil {
			return serr
		}
	}
	return err
}

func runOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
