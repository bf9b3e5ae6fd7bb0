// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import "time"

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

type MutantConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Port    int    `yaml:"port" validate:"min=1,max=65535"`
	GinMode string `yaml:"gin_mode" validate:"oneof=debug release test"`

	// MaxRows bounds accepted grids. 0 disables the limit.
	MaxRows      int   `yaml:"max_rows" validate:"min=0"`
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"min=0"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`

	ShutdownTimeoutMs int `yaml:"shutdown_timeout_ms" validate:"min=0"`
}

type RateLimitConfig struct {
	// RPS <= 0 disables rate limiting.
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst" validate:"min=0"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite badger"`

	// Path is a sqlite file (":memory:" allowed) or a badger directory
	// ("" with badger means in-memory).
	Path          string `yaml:"path"`
	BusyTimeoutMs int    `yaml:"busy_timeout_ms" validate:"min=0"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Format is auto, text or json. auto picks json when stderr is not a
	// terminal.
	Format  string `yaml:"format" validate:"oneof=auto text json"`
	LogDir  string `yaml:"log_dir"`
	Service string `yaml:"service"`
}

type TelemetryConfig struct {
	TraceExporter string `yaml:"trace_exporter" validate:"oneof=otlp stdout none"`
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	OTLPInsecure  bool   `yaml:"otlp_insecure"`
	ServiceName   string `yaml:"service_name"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() MutantConfig {
	return MutantConfig{
		Server: ServerConfig{
			Port:              8080,
			GinMode:           "release",
			MaxRows:           1000,
			MaxBodyBytes:      2 << 20,
			RateLimit:         RateLimitConfig{RPS: 100, Burst: 200},
			ShutdownTimeoutMs: 10_000,
		},
		Storage: StorageConfig{
			Driver:        DriverSQLite,
			Path:          "./data/mutantdx.db",
			BusyTimeoutMs: 5_000,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "auto",
			Service: "mutantdx",
		},
		Telemetry: TelemetryConfig{
			TraceExporter: "none",
			OTLPEndpoint:  "localhost:4317",
			OTLPInsecure:  true,
			ServiceName:   "mutantdx",
		},
	}
}

// BusyTimeout returns BusyTimeoutMs as a duration.
func (s StorageConfig) BusyTimeout() time.Duration {
	return time.Duration(s.BusyTimeoutMs) * time.Millisecond
}

// ShutdownTimeout returns ShutdownTimeoutMs as a duration.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutMs) * time.Millisecond
}
