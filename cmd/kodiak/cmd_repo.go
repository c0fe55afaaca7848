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
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/Kodiak/pkg/ux"
)

// =============================================================================
// repo list
// =============================================================================

func runRepoList(cmd *cobra.Command, args []string) {
	client := newClient()
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	list, err := client.ListRepositories(ctx)
	if err != nil {
		ux.Error(fmt.Sprintf("List repositories: %v", err))
		os.Exit(1)
	}

	if list.Count == 0 {
		ux.Info("No repositories ingested yet. Start with: kodiak ingest <repo-url>")
		return
	}

	if ux.GetPersonality().Level == ux.PersonalityMachine {
		for _, repo := range list.Repositories {
			fmt.Printf("REPO: %s url=%s branch=%s files=%d functions=%d ingested=%s\n",
				repo.ID, repo.URL, repo.Branch, repo.FilesProcessed,
				repo.FunctionsExtracted, repo.IngestedAt.Format(time.RFC3339))
		}
		fmt.Printf("COUNT: %d\n", list.Count)
		return
	}

	for _, repo := range list.Repositories {
		fmt.Printf("%s %s\n", ux.Styles.Bold.Render(repo.ID),
			ux.Styles.Muted.Render("("+repo.Branch+")"))
		ux.KeyValue("URL", repo.URL)
		if repo.Module != "" {
			ux.KeyValue("Module", repo.Module)
		}
		ux.KeyValue("Indexed", fmt.Sprintf("%d files, %d functions",
			repo.FilesProcessed, repo.FunctionsExtracted))
		ux.KeyValue("Ingested", ux.FormatRelativeTime(repo.IngestedAt))
		fmt.Println()
	}
	ux.Muted(fmt.Sprintf("%d repositories", list.Count))
}

// =============================================================================
// repo delete
// =============================================================================

func runRepoDelete(cmd *cobra.Command, args []string) {
	repo := args[0]

	if !deleteYes {
		var confirm bool
		prompt := huh.NewConfirm().
			Title(fmt.Sprintf("Delete repository %q?", repo)).
			Description("Removes its vectors, metadata, and cloned checkout. This cannot be undone.").
			Affirmative("Delete").
			Negative("Cancel").
			Value(&confirm)
		if err := prompt.Run(); err != nil {
			ux.Error(fmt.Sprintf("Confirmation failed: %v (use --yes to skip the prompt)", err))
			os.Exit(1)
		}
		if !confirm {
			ux.Info("Nothing deleted.")
			return
		}
	}

	client := newClient()
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	var summary *DeleteSummary
	err := ux.WithSpinner(fmt.Sprintf("Deleting %s", repo), func() error {
		var callErr error
		summary, callErr = client.DeleteRepository(ctx, repo)
		return callErr
	})
	if err != nil {
		ux.Error(fmt.Sprintf("Delete failed: %v", err))
		os.Exit(1)
	}

	ux.Success(fmt.Sprintf("Deleted %s", summary.DeletedRepoID))
	ux.KeyValue("Records removed", strconv.Itoa(summary.RecordsDeleted))
	ux.KeyValue("Vectors removed", strconv.Itoa(summary.VectorsDeleted))
}

// =============================================================================
// index stats
// =============================================================================

func runIndexStats(cmd *cobra.Command, args []string) {
	client := newClient()
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	stats, err := client.IndexStats(ctx)
	if err != nil {
		ux.Error(fmt.Sprintf("Index stats: %v", err))
		os.Exit(1)
	}

	ux.Title("Vector index")
	ux.KeyValue("Vectors", strconv.Itoa(stats.TotalVectors))
	ux.KeyValue("Dimension", strconv.Itoa(stats.Dimension))
	ux.KeyValue("Repositories", strconv.Itoa(stats.Repositories))

	ids := make([]string, 0, len(stats.VectorsPerRepo))
	for id := range stats.VectorsPerRepo {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ux.KeyValue(id, strconv.Itoa(stats.VectorsPerRepo[id]))
	}
}
