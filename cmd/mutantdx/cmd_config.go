// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/AleutianAI/MutantDX/services/mutant/config"
	"github.com/spf13/cobra"
)

const defaultConfigFile = "mutantdx.yaml"

var errConfigExists = errors.New("config file already exists")

// runConfigInit writes the default configuration. The target is the
// positional argument, else --config, else mutantdx.yaml.
func runConfigInit(cmd *cobra.Command, args []string, configPath string, force bool) error {
	path := defaultConfigFile
	switch {
	case len(args) == 1:
		path = args[0]
	case configPath != "":
		path = configPath
	}

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s (use --force to overwrite)", errConfigExists, path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to check %s: %w", path, err)
		}
	}
	if err := config.WriteDefault(path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
