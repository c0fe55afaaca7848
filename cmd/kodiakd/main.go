// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command kodiakd is the Kodiak server daemon.
//
// It assembles the full engine (metadata store, vector index, embedder,
// retriever, reasoner, ingestion service, agent) and serves the HTTP and
// websocket API until SIGINT or SIGTERM.
//
// Configuration comes from an optional YAML file layered with KODIAK_*
// environment variables; run "kodiak config init" to write a starter
// file. The OpenAI API key is read from the OPENAI_API_KEY environment
// variable or the /run/secrets/openai_api_key mount, never from YAML.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"

	"github.com/AleutianAI/Kodiak/pkg/logging"
	"github.com/AleutianAI/Kodiak/services/kodiak/config"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logDir := flag.String("log-dir", "", "directory for dated JSON log files")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("kodiakd: %v", err)
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  *logDir,
		Service: "kodiakd",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("kodiakd: load config: %v", err)
	}

	// Wipe enclave-held key material when the process exits cleanly.
	defer memguard.Purge()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	daemon, err := newDaemon(ctx, cfg, logger.Slog())
	if err != nil {
		log.Fatalf("kodiakd: %v", err)
	}
	if err := daemon.run(ctx); err != nil {
		log.Fatalf("kodiakd: %v", err)
	}
}
