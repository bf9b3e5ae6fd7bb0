// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/MutantDX/pkg/logging"
	"github.com/AleutianAI/MutantDX/services/mutant"
	"github.com/AleutianAI/MutantDX/services/mutant/config"
	"github.com/AleutianAI/MutantDX/services/mutant/datatypes"
	"github.com/AleutianAI/MutantDX/services/mutant/service"
	"github.com/spf13/cobra"
)

// runStats reads the configured store directly; it must not run while a
// badger-backed server holds the same directory.
func runStats(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{Level: logging.LevelWarn, Output: cmd.ErrOrStderr(), Format: logging.FormatText})
	defer logger.Close()

	store, err := mutant.OpenStore(cfg.Storage, logger.Slog(), nil)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := service.New(store, service.WithLogger(logger.Slog()))
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := svc.Stats(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(datatypes.NewStatsResponse(s)); err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	return nil
}
