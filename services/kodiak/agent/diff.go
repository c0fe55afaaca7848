// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
	"github.com/AleutianAI/Kodiak/services/kodiak/reason"
)

// lineRange is an inclusive 1-indexed line span touched by a hunk.
type lineRange struct {
	start int
	end   int
}

// AnalyzeDiffImpact aggregates change impact across a unified diff.
//
// Description:
//
//	Parses the diff, maps each hunk's line range onto the chunks
//	extracted from that file, and runs impact analysis for every touched
//	definition. Files that were never ingested and identifiers with no
//	record are skipped rather than failing the whole diff. The overall
//	risk level is the worst per-identifier risk.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	unifiedDiff - Diff text in unified format, as produced by git diff.
//	repoID - Repository the diff applies to.
//
// Outputs:
//
//	*datatypes.DiffImpactResponse - Per-identifier reports, overall risk,
//	   and a summary line.
//	error - Unparseable diff or storage failure.
func (a *Agent) AnalyzeDiffImpact(ctx context.Context, unifiedDiff, repoID string) (*datatypes.DiffImpactResponse, error) {
	ctx, span := startOperationSpan(ctx, "AnalyzeDiffImpact")
	defer span.End()
	start := time.Now()

	fileDiffs, err := diff.ParseMultiFileDiff([]byte(unifiedDiff))
	if err != nil {
		recordOperation(ctx, "analyze_diff_impact", time.Since(start), false)
		return nil, fmt.Errorf("parse diff: %w", err)
	}

	identifiers := make([]string, 0)
	seen := make(map[string]struct{})
	touchedFiles := 0

	for _, fd := range fileDiffs {
		path, ranges := changedRanges(fd)
		if path == "" || len(ranges) == 0 {
			continue
		}

		chunks, err := a.chunks.ListChunksByFile(ctx, repoID, path)
		if err != nil {
			recordOperation(ctx, "analyze_diff_impact", time.Since(start), false)
			return nil, fmt.Errorf("list chunks for %s: %w", path, err)
		}
		if len(chunks) == 0 {
			continue
		}

		touched := false
		for i := range chunks {
			chunk := &chunks[i]
			if chunk.Identifier == "" || !overlapsAny(chunk, ranges) {
				continue
			}
			touched = true
			if _, dup := seen[chunk.Identifier]; dup {
				continue
			}
			seen[chunk.Identifier] = struct{}{}
			identifiers = append(identifiers, chunk.Identifier)
		}
		if touched {
			touchedFiles++
		}
	}

	reports := make([]datatypes.ImpactReport, 0, len(identifiers))
	risk := datatypes.RiskLow
	for _, identifier := range identifiers {
		report, err := a.reasoner.AnalyzeImpact(ctx, identifier, repoID)
		if errors.Is(err, reason.ErrNotFound) {
			continue
		}
		if err != nil {
			recordOperation(ctx, "analyze_diff_impact", time.Since(start), false)
			return nil, fmt.Errorf("analyze impact of %s: %w", identifier, err)
		}
		report.Summary = impactSummary(identifier, report)
		reports = append(reports, *report)
		if riskRank(report.RiskLevel) > riskRank(risk) {
			risk = report.RiskLevel
		}
	}

	summary := fmt.Sprintf("%d definitions affected across %d changed files.\nOverall Risk Level: %s",
		len(reports), touchedFiles, strings.ToUpper(string(risk)))
	if len(reports) == 0 {
		summary = "No indexed code is affected by this diff."
	}

	recordOperation(ctx, "analyze_diff_impact", time.Since(start), true)
	return &datatypes.DiffImpactResponse{
		Reports:   reports,
		RiskLevel: risk,
		Summary:   summary,
	}, nil
}

// changedRanges extracts the file path and touched line ranges from one
// file diff. Deleted files report their old-side ranges; everything else
// reports new-side ranges.
func changedRanges(fd *diff.FileDiff) (string, []lineRange) {
	name := fd.NewName
	useOrig := false
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
		useOrig = true
	}
	name = strings.TrimPrefix(name, "b/")
	name = strings.TrimPrefix(name, "a/")
	if name == "" || name == "/dev/null" {
		return "", nil
	}

	ranges := make([]lineRange, 0, len(fd.Hunks))
	for _, hunk := range fd.Hunks {
		startLine, lines := int(hunk.NewStartLine), int(hunk.NewLines)
		if useOrig {
			startLine, lines = int(hunk.OrigStartLine), int(hunk.OrigLines)
		}
		if startLine <= 0 {
			continue
		}
		end := startLine + lines - 1
		if end < startLine {
			// Pure deletion; the surrounding position is still touched.
			end = startLine
		}
		ranges = append(ranges, lineRange{start: startLine, end: end})
	}
	return name, ranges
}

// overlapsAny reports whether the chunk's line span intersects any range.
func overlapsAny(chunk *datatypes.ChunkRecord, ranges []lineRange) bool {
	for _, r := range ranges {
		if chunk.StartLine <= r.end && chunk.EndLine >= r.start {
			return true
		}
	}
	return false
}

// riskRank orders risk levels for aggregation.
func riskRank(level datatypes.RiskLevel) int {
	switch level {
	case datatypes.RiskHigh:
		return 2
	case datatypes.RiskMedium:
		return 1
	default:
		return 0
	}
}
