// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Kodiak/pkg/ux"
	"github.com/AleutianAI/Kodiak/services/kodiak/config"
)

func runConfigInit(cmd *cobra.Command, args []string) {
	path := defaultConfigPath()
	if len(args) == 1 {
		path = args[0]
	}

	if err := config.WriteDefault(path); err != nil {
		ux.Error(fmt.Sprintf("Write config: %v", err))
		os.Exit(1)
	}

	ux.Success(fmt.Sprintf("Wrote %s", path))
	ux.Muted("Point kodiakd at it with --config. The file never holds credentials;")
	ux.Muted("set OPENAI_API_KEY in the daemon environment instead.")
}

// defaultConfigPath is ~/.kodiak/config.yaml, falling back to the
// working directory when the home directory is unknown.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "kodiak.yaml"
	}
	return filepath.Join(home, ".kodiak", "config.yaml")
}

func runVersion(cmd *cobra.Command, args []string) {
	ux.KeyValue("Client", version)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := newClient().Health(ctx)
	if err != nil {
		ux.Muted("Server unreachable")
		return
	}
	ux.KeyValue("Server", health.Version)
	ux.KeyValue("Status", health.Status)
}
