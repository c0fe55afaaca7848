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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/Kodiak/pkg/ux"
)

// --- Global Command Variables ---
var (
	serverURL        string
	configPath       string
	personalityLevel string // UX personality level (full/standard/minimal/machine)
	repoID           string
	ingestBranch     string
	includeFlow      bool
	impactDiffPath   string
	flowDepth        int
	deleteYes        bool

	rootCmd = &cobra.Command{
		Use:   "kodiak",
		Short: "Ask questions about your codebase",
		Long: `Kodiak answers natural-language questions about ingested source
repositories, grounded in specific code locations. It talks to a
running kodiakd server.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}

	// --- Ingestion ---
	ingestCmd = &cobra.Command{
		Use:   "ingest <repo-url>",
		Short: "Clone, parse, and index a repository",
		Args:  cobra.ExactArgs(1),
		Run:   runIngest, // Defined in cmd_ingest.go
	}

	// --- Questions ---
	queryCmd = &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a one-shot question about an ingested repository",
		Args:  cobra.MinimumNArgs(1),
		Run:   runQuery, // Defined in cmd_query.go
	}
	askCmd = &cobra.Command{
		Use:   "ask",
		Short: "Start an interactive question session with streamed answers",
		Run:   runAsk, // Defined in cmd_ask.go
	}

	// --- Analysis ---
	impactCmd = &cobra.Command{
		Use:   "impact [identifier]",
		Short: "Analyze the blast radius of changing a function or type",
		Args:  cobra.MaximumNArgs(1),
		Run:   runImpact, // Defined in cmd_query.go
	}
	flowCmd = &cobra.Command{
		Use:   "flow <entry-point>",
		Short: "Trace execution flow from an entry point",
		Args:  cobra.ExactArgs(1),
		Run:   runFlow, // Defined in cmd_query.go
	}

	// --- Repository Administration ---
	repoCmd = &cobra.Command{
		Use:   "repo",
		Short: "Manage ingested repositories",
	}
	repoListCmd = &cobra.Command{
		Use:   "list",
		Short: "List every ingested repository",
		Run:   runRepoList, // Defined in cmd_repo.go
	}
	repoDeleteCmd = &cobra.Command{
		Use:   "delete <repo-id>",
		Short: "Delete a repository's vectors, metadata, and checkout",
		Args:  cobra.ExactArgs(1),
		Run:   runRepoDelete, // Defined in cmd_repo.go
	}

	// --- Index ---
	indexCmd = &cobra.Command{
		Use:   "index",
		Short: "Inspect the vector index",
	}
	indexStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show vector index contents",
		Run:   runIndexStats, // Defined in cmd_repo.go
	}

	// --- Configuration ---
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the kodiak configuration file",
	}
	configInitCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		Run:   runConfigInit, // Defined in cmd_init.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show client and server versions",
		Run:   runVersion, // Defined in cmd_init.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "",
		"kodiakd base URL (default: KODIAK_SERVER env, then http://localhost:8000)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to a kodiak config file; its server section supplies the address")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default), standard, minimal, or machine (scripting)")

	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestBranch, "branch", "main", "Branch to ingest")

	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVar(&repoID, "repo", "", "Repository ID to query (required)")
	queryCmd.Flags().BoolVar(&includeFlow, "flow", true,
		"Allow execution-flow analysis for flow-like questions")

	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&repoID, "repo", "", "Repository ID to query (required)")

	rootCmd.AddCommand(impactCmd)
	impactCmd.Flags().StringVar(&repoID, "repo", "", "Repository ID to analyze (required)")
	impactCmd.Flags().StringVar(&impactDiffPath, "diff", "",
		"Analyze a unified diff file instead of a single identifier ('-' reads stdin)")

	rootCmd.AddCommand(flowCmd)
	flowCmd.Flags().StringVar(&repoID, "repo", "", "Repository ID to trace (required)")
	flowCmd.Flags().IntVar(&flowDepth, "depth", 0,
		"Maximum traversal depth (0 uses the server default)")

	rootCmd.AddCommand(repoCmd)
	repoCmd.AddCommand(repoListCmd)
	repoCmd.AddCommand(repoDeleteCmd)
	repoDeleteCmd.Flags().BoolVar(&deleteYes, "yes", false, "Skip the confirmation prompt")

	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexStatsCmd)

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(versionCmd)
}
