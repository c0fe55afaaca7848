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
	"fmt"
	"strings"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
)

// systemPrompt grounds the model in the retrieved context and citation
// duties for every answer.
const systemPrompt = `You are an expert code analyst helping developers understand codebases.

Your role is to:
- Answer questions about code using ONLY the provided code snippets
- Always cite exact file paths and line numbers
- Be precise and technical
- Never hallucinate or make assumptions about code you haven't seen
- If the answer isn't in the provided context, say so clearly

Format your responses with:
1. Direct answer to the question
2. Specific code references with file paths
3. Explanation of how the code works
`

const qaPromptTemplate = `Based on the following code snippets from the repository, answer the user's question.

User Question: %s

Retrieved Code Context:
%s

Instructions:
- Answer ONLY based on the code provided above
- Always include file paths and line numbers when referencing code
- If you reference a function or class, mention its exact location
- If the information isn't in the provided context, state that clearly
- Be concise but thorough

Answer:`

const flowPromptTemplate = `Analyze the execution flow for the following code segments.

User Question: %s

Code Segments (in execution order):
%s

Call Graph Information:
%s

Instructions:
- Describe the execution flow step by step
- Mention each function/method in the flow with its file location
- Explain what each step does
- Include data flow between functions
- Cite exact file paths and line numbers

Execution Flow Analysis:`

const contextBlockTemplate = `
File: %s
Lines: %d-%d
Function/Class: %s

Code:
` + "```%s\n%s\n```" + `

Dependencies: %s
Called by: %s
Calls: %s
---
`

// formatCodeContext renders retrieved records as context blocks for the
// prompt templates.
func formatCodeContext(records []datatypes.ScoredRecord) string {
	blocks := make([]string, 0, len(records))
	for i := range records {
		r := &records[i]

		filePath := r.FilePath
		if filePath == "" {
			filePath = "unknown"
		}
		identifier := r.Identifier
		if identifier == "" {
			identifier = "N/A"
		}
		language := r.Language
		if language == "" {
			language = "text"
		}

		blocks = append(blocks, fmt.Sprintf(contextBlockTemplate,
			filePath,
			r.StartLine, r.EndLine,
			identifier,
			language,
			r.Code,
			joinOrNone(r.Dependencies),
			joinOrNone(r.Callers),
			joinOrNone(r.Callees),
		))
	}
	return strings.Join(blocks, "\n")
}

// joinOrNone joins names with commas, or "None" for an empty list.
func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "None"
	}
	return strings.Join(names, ", ")
}

// buildQAPrompt creates the question-answering prompt from the retrieved
// context.
func buildQAPrompt(question string, records []datatypes.ScoredRecord) string {
	return fmt.Sprintf(qaPromptTemplate, question, formatCodeContext(records))
}

// buildFlowPrompt creates the execution-flow prompt from the retrieved
// context and the call graph of the traced flow.
func buildFlowPrompt(question string, records []datatypes.ScoredRecord, graph []datatypes.CallEdge) string {
	lines := make([]string, 0, len(graph))
	for _, edge := range graph {
		lines = append(lines, edge.Caller+" -> "+edge.Callee)
	}
	return fmt.Sprintf(flowPromptTemplate, question, formatCodeContext(records), strings.Join(lines, "\n"))
}
