// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mutantdx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_NoPathUsesDefaults(t *testing.T) {
	cfg, err := load("", noEnv)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9090
  max_rows: 50
  rate_limit:
    rps: 5
    burst: 10
storage:
  driver: badger
  path: /var/lib/mutantdx
logging:
  level: debug
  format: json
`)
	cfg, err := load(path, noEnv)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Server.MaxRows)
	assert.Equal(t, RateLimitConfig{RPS: 5, Burst: 10}, cfg.Server.RateLimit)
	assert.Equal(t, DriverBadger, cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/mutantdx", cfg.Storage.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Untouched fields keep their defaults.
	assert.Equal(t, "release", cfg.Server.GinMode)
	assert.Equal(t, 5*time.Second, cfg.Storage.BusyTimeout())
	assert.Equal(t, "none", cfg.Telemetry.TraceExporter)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := load(writeFile(t, ""), noEnv)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "server:\n  port: 9090\n")
	cfg, err := load(path, envMap(map[string]string{
		"MUTANTDX_PORT":               "7070",
		"MUTANTDX_STORAGE_DRIVER":     "BADGER",
		"MUTANTDX_STORAGE_PATH":       "",
		"MUTANTDX_LOG_LEVEL":          "warn",
		"OTEL_TRACES_EXPORTER":        "stdout",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "collector:4317",
	}))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, DriverBadger, cfg.Storage.Driver)
	assert.Equal(t, "", cfg.Storage.Path, "empty badger path means in-memory")
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "stdout", cfg.Telemetry.TraceExporter)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{"unknown driver", "storage:\n  driver: postgres\n", nil},
		{"bad port", "server:\n  port: 70000\n", nil},
		{"bad level", "logging:\n  level: loud\n", nil},
		{"bad exporter", "telemetry:\n  trace_exporter: zipkin\n", nil},
		{"unknown field", "server:\n  prot: 80\n", nil},
		{"sqlite without path", "storage:\n  path: \"\"\n", nil},
		{"otlp without endpoint", "telemetry:\n  trace_exporter: otlp\n  otlp_endpoint: \"\"\n", nil},
		{"non-numeric port env", "", map[string]string{"MUTANTDX_PORT": "eighty"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(writeFile(t, tt.yaml), envMap(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestLoad_ValidationErrorsWrapSentinel(t *testing.T) {
	_, err := load(writeFile(t, "storage:\n  driver: postgres\n"), noEnv)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "Driver")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestWriteDefault_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mutantdx.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := load(path, noEnv)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
