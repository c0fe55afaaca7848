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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Kodiak/pkg/ux"
	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
)

// ingestTimeout bounds one ingestion request. Cloning and embedding a
// large repository is minutes of work, so this is generous.
const ingestTimeout = 30 * time.Minute

func runIngest(cmd *cobra.Command, args []string) {
	repoURL := args[0]
	client := newClient()

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	var resp *datatypes.RepositoryIngestResponse
	err := ux.WithSpinner(fmt.Sprintf("Ingesting %s (%s)", repoURL, ingestBranch), func() error {
		var callErr error
		resp, callErr = client.Ingest(ctx, repoURL, ingestBranch)
		return callErr
	})
	if err != nil {
		ux.Error(fmt.Sprintf("Ingestion failed: %v", err))
		os.Exit(1)
	}

	if resp.Status == "already_exists" {
		ux.Info(fmt.Sprintf("Repository %s is already ingested. Delete it first to re-ingest.", resp.RepoID))
		return
	}

	ux.IngestSummary(resp.RepoID, resp.FilesProcessed, resp.FunctionsExtracted)
	elapsed := time.Duration(resp.IngestionTime * float64(time.Second))
	ux.KeyValue("Ingestion time", ux.FormatDuration(elapsed))
	ux.Muted(fmt.Sprintf("Ask away: kodiak ask --repo %s", resp.RepoID))
}
