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
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Kodiak/pkg/ux"
	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
)

// queryTimeout bounds one-shot question and analysis requests.
const queryTimeout = 2 * time.Minute

// =============================================================================
// query
// =============================================================================

func runQuery(cmd *cobra.Command, args []string) {
	requireRepo()
	question := strings.Join(args, " ")
	client := newClient()

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	var resp *datatypes.QueryResponse
	err := ux.WithSpinner("Thinking", func() error {
		var callErr error
		resp, callErr = client.Query(ctx, question, repoID, includeFlow)
		return callErr
	})
	if err != nil {
		ux.Error(fmt.Sprintf("Query failed: %v", err))
		os.Exit(1)
	}

	// Render through the same UI the ask session uses so machine-mode
	// output stays line-oriented for scripting.
	ui := ux.NewChatUI()
	ui.Response(resp.Answer)
	if len(resp.Citations) > 0 {
		ui.Citations(toUXCitations(resp.Citations))
	} else {
		ui.NoCitations()
	}
	ui.Confidence(resp.Confidence)

	if len(resp.ExecutionFlow) > 0 {
		fmt.Println()
		ux.Title("Execution flow")
		printFlowSteps(resp.ExecutionFlow)
	}
}

// =============================================================================
// impact
// =============================================================================

func runImpact(cmd *cobra.Command, args []string) {
	requireRepo()
	client := newClient()

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if impactDiffPath != "" {
		runDiffImpact(ctx, client)
		return
	}

	if len(args) == 0 {
		ux.Error("Provide an identifier to analyze, or --diff for a patch")
		os.Exit(1)
	}
	identifier := args[0]

	var report *datatypes.ImpactReport
	err := ux.WithSpinner(fmt.Sprintf("Analyzing impact of %s", identifier), func() error {
		var callErr error
		report, callErr = client.AnalyzeImpact(ctx, identifier, repoID)
		return callErr
	})
	if err != nil {
		ux.Error(fmt.Sprintf("Impact analysis failed: %v", err))
		os.Exit(1)
	}

	printImpactReport(report)
}

func runDiffImpact(ctx context.Context, client *Client) {
	diff, err := readDiffInput(impactDiffPath)
	if err != nil {
		ux.Error(fmt.Sprintf("Read diff: %v", err))
		os.Exit(1)
	}

	var resp *datatypes.DiffImpactResponse
	err = ux.WithSpinner("Analyzing diff impact", func() error {
		var callErr error
		resp, callErr = client.AnalyzeDiffImpact(ctx, diff, repoID)
		return callErr
	})
	if err != nil {
		ux.Error(fmt.Sprintf("Impact analysis failed: %v", err))
		os.Exit(1)
	}

	for i := range resp.Reports {
		printImpactReport(&resp.Reports[i])
		fmt.Println()
	}
	if ux.GetPersonality().Level == ux.PersonalityMachine {
		fmt.Printf("OVERALL_RISK: %s\n", resp.RiskLevel)
		if resp.Summary != "" {
			fmt.Printf("SUMMARY: %s\n", resp.Summary)
		}
		return
	}
	fmt.Printf("%s %s\n", riskBadge(resp.RiskLevel), resp.Summary)
}

// readDiffInput loads the diff to analyze: "-" reads stdin, anything
// else is a file path.
func readDiffInput(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// =============================================================================
// flow
// =============================================================================

func runFlow(cmd *cobra.Command, args []string) {
	requireRepo()
	entryPoint := args[0]
	client := newClient()

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	var resp *datatypes.FlowResponse
	err := ux.WithSpinner(fmt.Sprintf("Tracing %s", entryPoint), func() error {
		var callErr error
		resp, callErr = client.AnalyzeFlow(ctx, entryPoint, repoID, flowDepth)
		return callErr
	})
	if err != nil {
		ux.Error(fmt.Sprintf("Flow analysis failed: %v", err))
		os.Exit(1)
	}

	if len(resp.Steps) == 0 {
		ux.Info(fmt.Sprintf("No calls recorded from %s", resp.EntryPoint))
		return
	}
	ux.Title(fmt.Sprintf("Execution flow from %s", resp.EntryPoint))
	printFlowSteps(resp.Steps)
}

// =============================================================================
// Shared Rendering
// =============================================================================

// requireRepo exits when --repo was not provided.
func requireRepo() {
	if repoID == "" {
		ux.Error("--repo is required (see 'kodiak repo list')")
		os.Exit(1)
	}
}

// toUXCitations converts API citations for the ux formatting helpers.
func toUXCitations(citations []datatypes.Citation) []ux.Citation {
	out := make([]ux.Citation, len(citations))
	for i, c := range citations {
		out[i] = ux.Citation{
			FilePath:     c.FilePath,
			StartLine:    c.StartLine,
			EndLine:      c.EndLine,
			FunctionName: c.FunctionName,
			Score:        c.Score,
		}
	}
	return out
}

// printFlowSteps renders trace steps indented by call depth.
func printFlowSteps(steps []datatypes.FlowStep) {
	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	for _, s := range steps {
		location := s.FilePath
		if s.StartLine > 0 {
			location = fmt.Sprintf("%s:%d", s.FilePath, s.StartLine)
		}
		if machine {
			fmt.Printf("STEP: %d depth=%d %s %s\n", s.Step, s.Depth, s.FunctionName, location)
			continue
		}
		indent := strings.Repeat("  ", s.Depth)
		fmt.Printf("  %s%d. %s %s\n", indent, s.Step,
			ux.Styles.Code.Render(s.FunctionName), ux.Styles.Muted.Render(location))
	}
}

// printImpactReport renders one impact report.
func printImpactReport(report *datatypes.ImpactReport) {
	if ux.GetPersonality().Level == ux.PersonalityMachine {
		fmt.Printf("IDENTIFIER: %s\n", report.ModifiedCode.Identifier)
		fmt.Printf("RISK: %s\n", report.RiskLevel)
		fmt.Printf("DIRECT: %d\n", len(report.DirectImpact))
		fmt.Printf("INDIRECT: %d\n", len(report.IndirectImpact))
		for _, c := range report.DirectImpact {
			fmt.Printf("CALLER: %s %s\n", c.Identifier, c.FilePath)
		}
		for _, c := range report.IndirectImpact {
			fmt.Printf("INDIRECT_CALLER: %s %s\n", c.Identifier, c.FilePath)
		}
		if report.Summary != "" {
			fmt.Printf("SUMMARY: %s\n", report.Summary)
		}
		return
	}

	ux.Title(fmt.Sprintf("Impact of changing %s", report.ModifiedCode.Identifier))
	if report.ModifiedCode.FilePath != "" {
		ux.Muted("  " + report.ModifiedCode.FilePath)
	}
	fmt.Println()

	printImpactedList("Direct callers", report.DirectImpact)
	printImpactedList("Indirect callers", report.IndirectImpact)

	fmt.Printf("%s %s\n", riskBadge(report.RiskLevel), report.Summary)
}

func printImpactedList(label string, impacted []datatypes.ImpactedCode) {
	fmt.Printf("  %s %d\n", ux.Styles.Muted.Render(label+":"), len(impacted))
	for i, c := range impacted {
		fmt.Printf("    %d. %s %s\n", i+1,
			ux.Styles.Code.Render(c.Identifier), ux.Styles.Muted.Render(c.FilePath))
	}
	if len(impacted) > 0 {
		fmt.Println()
	}
}

// riskBadge colors a risk level. Higher risk renders hotter, the
// inverse of confidence badges.
func riskBadge(level datatypes.RiskLevel) string {
	text := fmt.Sprintf("[risk: %s]", level)
	switch level {
	case datatypes.RiskHigh:
		return ux.Styles.Error.Render(text)
	case datatypes.RiskMedium:
		return ux.Styles.Warning.Render(text)
	default:
		return ux.Styles.Success.Render(text)
	}
}
