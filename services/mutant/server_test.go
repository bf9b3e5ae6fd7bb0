// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mutant

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/MutantDX/pkg/extensions"
	"github.com/AleutianAI/MutantDX/services/mutant/config"
	"github.com/AleutianAI/MutantDX/services/mutant/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const mutantBody = `{"dna":["ATGCGA","CAGTGC","TTATGT","AGAAGG","CCCCTA","TCACTG"]}`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(driver, path string) Config {
	cfg := config.DefaultConfig()
	cfg.Server.GinMode = "test"
	cfg.Storage.Driver = driver
	cfg.Storage.Path = path
	return Config{MutantConfig: cfg, Logger: quietLogger()}
}

func submit(t *testing.T, h http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/mutant", strings.NewReader(mutantBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// =============================================================================
// applyConfigDefaults Tests
// =============================================================================

func TestApplyConfigDefaults_ZeroConfig(t *testing.T) {
	cfg := applyConfigDefaults(Config{})
	def := config.DefaultConfig()

	assert.Equal(t, def.Server.Port, cfg.Server.Port)
	assert.Equal(t, def.Storage.Driver, cfg.Storage.Driver)
	assert.Equal(t, def.Storage.Path, cfg.Storage.Path)
	assert.Equal(t, def.Logging.Level, cfg.Logging.Level)
	assert.Equal(t, def.Telemetry.TraceExporter, cfg.Telemetry.TraceExporter)
	assert.NoError(t, config.Validate(cfg.MutantConfig))
}

func TestApplyConfigDefaults_KeepsExplicitValues(t *testing.T) {
	var in Config
	in.Server.Port = 9999
	in.Storage.Driver = config.DriverBadger
	cfg := applyConfigDefaults(in)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, config.DriverBadger, cfg.Storage.Driver)
	assert.Empty(t, cfg.Storage.Path, "badger without a path stays in-memory")
}

// =============================================================================
// New Tests
// =============================================================================

func TestNew_SQLiteEndToEnd(t *testing.T) {
	srv, err := New(testConfig(config.DriverSQLite, ":memory:"), nil)
	require.NoError(t, err)
	defer srv.Close()

	w := submit(t, srv.Router())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = submit(t, srv.Router())
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestNew_BadgerEndToEnd(t *testing.T) {
	srv, err := New(testConfig(config.DriverBadger, ""), nil)
	require.NoError(t, err)
	defer srv.Close()

	require.Equal(t, http.StatusOK, submit(t, srv.Router()).Code)

	s, err := srv.Service().Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.MutantCount)
}

func TestNew_UsesClockAndAudit(t *testing.T) {
	cfg := testConfig(config.DriverSQLite, ":memory:")
	cfg.Clock = storagetest.NewFakeClock(time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)).Now
	audit := extensions.NewSlogAuditLogger(quietLogger())
	opts := extensions.DefaultOptions().WithAudit(audit)

	srv, err := New(cfg, &opts)
	require.NoError(t, err)
	defer srv.Close()

	require.Equal(t, http.StatusOK, submit(t, srv.Router()).Code)

	events, err := audit.Query(context.Background(), extensions.AuditFilter{EventTypes: []string{extensions.EventRecordCreated}})
	require.NoError(t, err)
	require.Len(t, events, 1)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Contains(t, w.Body.String(), `"most_mutants_day":"2023-01-02"`)
}

// Shape is checked before the alphabet, end to end.
func TestNew_RejectsBadGrids(t *testing.T) {
	srv, err := New(testConfig(config.DriverSQLite, ":memory:"), nil)
	require.NoError(t, err)
	defer srv.Close()

	tests := []struct {
		name   string
		body   string
		detail string
	}{
		{"ragged with foreign letters", `{"dna":["XXXX","AT"]}`,
			"invalid shape: grid must be square: row 0 has 4 characters, expected 2"},
		{"square with a foreign letter", `{"dna":["AXA","AAA","AAA"]}`,
			"invalid alphabet: only A, T, C and G are allowed: row 0 column 1 holds 'X'"},
		{"lower case", `{"dna":["atcg","ATCG","ATCG","ATCG"]}`,
			"invalid alphabet: only A, T, C and G are allowed: row 0 column 0 holds 'a'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/mutant", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			srv.Router().ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.detail)
		})
	}

	s, err := srv.Service().Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, s.MutantCount+s.HumanCount, "rejected grids are not stored")
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig("postgres", "x")
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestNew_UnknownExporter(t *testing.T) {
	cfg := testConfig(config.DriverSQLite, ":memory:")
	cfg.Telemetry.TraceExporter = "zipkin"
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestNew_MetricsRoute(t *testing.T) {
	srv, err := New(testConfig(config.DriverSQLite, ":memory:"), nil)
	require.NoError(t, err)
	defer srv.Close()

	submit(t, srv.Router())
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "mutantdx_classify_requests_total")
	assert.Contains(t, body, "go_goroutines")
}

func TestClose_Idempotent(t *testing.T) {
	srv, err := New(testConfig(config.DriverSQLite, ":memory:"), nil)
	require.NoError(t, err)
	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())
}

// =============================================================================
// Run Tests
// =============================================================================

func TestRun_ServesAndShutsDown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := testConfig(config.DriverSQLite, filepath.Join(t.TempDir(), "mutantdx.db"))
	cfg.Listener = ln
	srv, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}
	base := "http://" + ln.Addr().String()

	require.Eventually(t, func() bool {
		resp, err := client.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := client.Post(base+"/api/mutant", "application/json", bytes.NewBufferString(mutantBody))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, err = srv.Service().Stats(context.Background())
	assert.Error(t, err, "store is closed after Run returns")
}

func TestRun_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(config.DriverSQLite, ":memory:")
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port
	srv, err := New(cfg, nil)
	require.NoError(t, err)

	err = srv.Run(context.Background())
	assert.Error(t, err)
}
