// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/MutantDX/pkg/extensions"
	"github.com/AleutianAI/MutantDX/pkg/logging"
	"github.com/AleutianAI/MutantDX/services/mutant"
	"github.com/AleutianAI/MutantDX/services/mutant/config"
	"github.com/spf13/cobra"
)

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := newServeLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	opts := extensions.DefaultOptions().
		WithAudit(extensions.NewSlogAuditLogger(logger.With("component", "audit").Slog()))
	srv, err := mutant.New(mutant.Config{MutantConfig: cfg, Logger: logger.Slog()}, &opts)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// newServeLogger builds the process logger from the logging section.
func newServeLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	format, err := logging.ParseFormat(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	return logging.New(logging.Config{
		Level:   level,
		Format:  format,
		LogDir:  cfg.LogDir,
		Service: cfg.Service,
	}), nil
}
