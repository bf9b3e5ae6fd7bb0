// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the mutantdx YAML configuration.
//
// # Precedence
//
// Defaults, then the YAML file, then environment variables:
//
//	MUTANTDX_PORT                 server.port
//	MUTANTDX_STORAGE_DRIVER       storage.driver
//	MUTANTDX_STORAGE_PATH         storage.path
//	MUTANTDX_LOG_LEVEL            logging.level
//	OTEL_TRACES_EXPORTER          telemetry.trace_exporter
//	OTEL_EXPORTER_OTLP_ENDPOINT   telemetry.otlp_endpoint
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure returned by Load.
var ErrInvalidConfig = errors.New("invalid configuration")

var configValidate = validator.New()

// Load reads path over DefaultConfig and applies environment overrides.
// An empty path skips the file.
func Load(path string) (MutantConfig, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (MutantConfig, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return MutantConfig{}, fmt.Errorf("failed to read the config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return MutantConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return MutantConfig{}, err
	}
	if err := Validate(cfg); err != nil {
		return MutantConfig{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *MutantConfig, lookup func(string) (string, bool)) error {
	if v, ok := lookup("MUTANTDX_PORT"); ok {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: MUTANTDX_PORT=%q is not a number", ErrInvalidConfig, v)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup("MUTANTDX_STORAGE_DRIVER"); ok {
		cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup("MUTANTDX_STORAGE_PATH"); ok {
		cfg.Storage.Path = v
	}
	if v, ok := lookup("MUTANTDX_LOG_LEVEL"); ok {
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup("OTEL_TRACES_EXPORTER"); ok {
		cfg.Telemetry.TraceExporter = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok {
		cfg.Telemetry.OTLPEndpoint = v
	}
	return nil
}

// Validate checks field constraints and cross-field rules.
func Validate(cfg MutantConfig) error {
	if err := configValidate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q (got %v)", ErrInvalidConfig, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Storage.Driver == DriverSQLite && cfg.Storage.Path == "" {
		return fmt.Errorf("%w: storage.path is required for sqlite", ErrInvalidConfig)
	}
	if cfg.Telemetry.TraceExporter == "otlp" && cfg.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("%w: telemetry.otlp_endpoint is required for otlp", ErrInvalidConfig)
	}
	return nil
}

// WriteDefault writes DefaultConfig to path, creating parent directories.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
