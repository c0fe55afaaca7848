// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent orchestrates retrieval, reasoning, and generation into
// grounded answers about an ingested codebase.
//
// The agent retrieves relevant chunks for a question, decides whether the
// question asks about execution flow, optionally traces that flow through
// the call graph, and prompts the LLM with the retrieved context so every
// answer cites real files and lines.
//
// Thread Safety:
//
//	Agent is safe for concurrent use; it holds no per-request state.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
	"github.com/AleutianAI/Kodiak/services/kodiak/llm"
)

const (
	// DefaultMaxFlowDepth bounds execution flow traces.
	DefaultMaxFlowDepth = 5

	// contextBlockLimit is how many retrieved records go into the
	// prompt. Citations still cover the full retrieval set.
	contextBlockLimit = 5

	// Token budgets per answer shape.
	answerMaxTokens     = 1000
	flowAnswerMaxTokens = 1500

	// answerTemperature keeps generation factual.
	answerTemperature float32 = 0.1

	// noResultsAnswer is returned when retrieval finds nothing.
	noResultsAnswer = "I couldn't find any relevant code for your question. " +
		"Please try rephrasing or asking about a different aspect of the codebase."
)

// flowKeywords mark questions that ask about execution order.
var flowKeywords = []string{
	"flow", "execution", "process", "workflow", "step",
	"sequence", "order", "how does", "what happens when",
}

// Retriever supplies scored code context for a question.
type Retriever interface {
	Retrieve(ctx context.Context, question, repoID string) ([]datatypes.ScoredRecord, error)
}

// Reasoner supplies call-graph analysis over ingested code.
type Reasoner interface {
	AnalyzeExecutionFlow(ctx context.Context, entryPoint, repoID string, maxDepth int) ([]datatypes.FlowStep, error)
	BuildCallGraph(ctx context.Context, identifiers []string, repoID string) ([]datatypes.CallEdge, error)
	AnalyzeImpact(ctx context.Context, identifier, repoID string) (*datatypes.ImpactReport, error)
}

// Generator produces text from prompts, optionally streaming tokens.
type Generator interface {
	Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error)
	GenerateStream(ctx context.Context, prompt string, params llm.GenerationParams, onToken llm.TokenFunc) (string, error)
}

// ChunkLister maps source files to their extracted chunks, used by diff
// impact analysis.
type ChunkLister interface {
	ListChunksByFile(ctx context.Context, repoID, filePath string) ([]datatypes.ChunkRecord, error)
}

// Options configures an Agent.
type Options struct {
	// MaxFlowDepth bounds execution flow traces.
	MaxFlowDepth int

	// Logger receives agent logs. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// DefaultOptions returns the default Agent configuration.
func DefaultOptions() Options {
	return Options{MaxFlowDepth: DefaultMaxFlowDepth}
}

// Option modifies Options.
type Option func(*Options)

// WithMaxFlowDepth bounds execution flow traces.
func WithMaxFlowDepth(depth int) Option {
	return func(o *Options) {
		if depth > 0 {
			o.MaxFlowDepth = depth
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// Agent answers questions about ingested codebases.
type Agent struct {
	retriever Retriever
	reasoner  Reasoner
	generator Generator
	chunks    ChunkLister

	maxFlowDepth int
	logger       *slog.Logger
}

// New creates an Agent from its collaborators.
func New(retriever Retriever, reasoner Reasoner, generator Generator, chunks ChunkLister, opts ...Option) (*Agent, error) {
	if retriever == nil {
		return nil, errors.New("agent: retriever is required")
	}
	if reasoner == nil {
		return nil, errors.New("agent: reasoner is required")
	}
	if generator == nil {
		return nil, errors.New("agent: generator is required")
	}
	if chunks == nil {
		return nil, errors.New("agent: chunk lister is required")
	}

	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	return &Agent{
		retriever:    retriever,
		reasoner:     reasoner,
		generator:    generator,
		chunks:       chunks,
		maxFlowDepth: options.MaxFlowDepth,
		logger:       options.Logger,
	}, nil
}

// AnswerQuestion produces a grounded answer for a codebase question.
//
// Description:
//
//	Retrieves relevant chunks, detects whether the question asks about
//	execution flow, and prompts the LLM with the retrieved context. Flow
//	questions additionally get an execution trace from the best entry
//	point, included in the response and summarized for the prompt.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	question - Natural-language question.
//	repoID - Repository to answer about.
//	includeFlow - Enables flow analysis for flow-like questions.
//
// Outputs:
//
//	*datatypes.QueryResponse - Answer with citations, confidence, best
//	   snippet, and the execution flow when traced.
//	error - Retrieval, reasoning, or generation failure.
func (a *Agent) AnswerQuestion(ctx context.Context, question, repoID string, includeFlow bool) (*datatypes.QueryResponse, error) {
	return a.answer(ctx, question, repoID, includeFlow, nil)
}

// AnswerQuestionStream behaves like AnswerQuestion but feeds answer
// tokens to onToken as they are generated. The returned response carries
// the full accumulated answer.
func (a *Agent) AnswerQuestionStream(ctx context.Context, question, repoID string, includeFlow bool, onToken llm.TokenFunc) (*datatypes.QueryResponse, error) {
	return a.answer(ctx, question, repoID, includeFlow, onToken)
}

func (a *Agent) answer(ctx context.Context, question, repoID string, includeFlow bool, onToken llm.TokenFunc) (*datatypes.QueryResponse, error) {
	ctx, span := startOperationSpan(ctx, "AnswerQuestion")
	defer span.End()
	start := time.Now()

	records, err := a.retriever.Retrieve(ctx, question, repoID)
	if err != nil {
		recordOperation(ctx, "answer_question", time.Since(start), false)
		return nil, fmt.Errorf("retrieve context: %w", err)
	}

	if len(records) == 0 {
		a.logger.Info("no relevant code found",
			slog.String("repo_id", repoID),
		)
		recordOperation(ctx, "answer_question", time.Since(start), true)
		recordConfidence(ctx, datatypes.ConfidenceLow)
		return &datatypes.QueryResponse{
			Answer:     noResultsAnswer,
			Citations:  []datatypes.Citation{},
			Confidence: datatypes.ConfidenceLow,
		}, nil
	}

	var resp *datatypes.QueryResponse
	if includeFlow && detectFlowQuestion(question) {
		resp, err = a.answerWithFlow(ctx, question, repoID, records, onToken)
	} else {
		resp, err = a.answerSimple(ctx, question, records, onToken)
	}
	if err != nil {
		recordOperation(ctx, "answer_question", time.Since(start), false)
		return nil, err
	}

	recordOperation(ctx, "answer_question", time.Since(start), true)
	recordConfidence(ctx, resp.Confidence)
	return resp, nil
}

// answerSimple generates an answer from retrieved context alone.
func (a *Agent) answerSimple(ctx context.Context, question string, records []datatypes.ScoredRecord, onToken llm.TokenFunc) (*datatypes.QueryResponse, error) {
	prompt := buildQAPrompt(question, contextRecords(records))
	text, err := a.generate(ctx, prompt, answerMaxTokens, onToken)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	return &datatypes.QueryResponse{
		Answer:      strings.TrimSpace(text),
		Citations:   extractCitations(records),
		Confidence:  assessConfidence(records),
		CodeSnippet: selectBestSnippet(records),
	}, nil
}

// answerWithFlow traces execution from the question's entry point and
// folds the trace into the prompt and the response.
func (a *Agent) answerWithFlow(ctx context.Context, question, repoID string, records []datatypes.ScoredRecord, onToken llm.TokenFunc) (*datatypes.QueryResponse, error) {
	entryPoint := identifyEntryPoint(question, records)
	if entryPoint == "" {
		return a.answerSimple(ctx, question, records, onToken)
	}

	steps, err := a.reasoner.AnalyzeExecutionFlow(ctx, entryPoint, repoID, a.maxFlowDepth)
	if err != nil {
		return nil, fmt.Errorf("trace execution flow: %w", err)
	}

	names := make([]string, len(steps))
	for i := range steps {
		names[i] = steps[i].FunctionName
	}
	graph, err := a.reasoner.BuildCallGraph(ctx, names, repoID)
	if err != nil {
		return nil, fmt.Errorf("build call graph: %w", err)
	}

	a.logger.Debug("flow traced",
		slog.String("entry_point", entryPoint),
		slog.Int("steps", len(steps)),
	)

	prompt := buildFlowPrompt(question, contextRecords(records), graph)
	text, err := a.generate(ctx, prompt, flowAnswerMaxTokens, onToken)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	return &datatypes.QueryResponse{
		Answer:        strings.TrimSpace(text),
		Citations:     extractCitations(records),
		Confidence:    assessConfidence(records),
		CodeSnippet:   selectBestSnippet(records),
		ExecutionFlow: steps,
	}, nil
}

// generate runs one completion, streaming when a token callback is given.
func (a *Agent) generate(ctx context.Context, prompt string, maxTokens int, onToken llm.TokenFunc) (string, error) {
	temp := answerTemperature
	tokens := maxTokens
	params := llm.GenerationParams{
		SystemPrompt: systemPrompt,
		Temperature:  &temp,
		MaxTokens:    &tokens,
	}
	if onToken != nil {
		return a.generator.GenerateStream(ctx, prompt, params, onToken)
	}
	return a.generator.Generate(ctx, prompt, params)
}

// AnalyzeImpact reports the blast radius of changing one unit, with a
// human-readable summary attached.
func (a *Agent) AnalyzeImpact(ctx context.Context, identifier, repoID string) (*datatypes.ImpactReport, error) {
	ctx, span := startOperationSpan(ctx, "AnalyzeImpact")
	defer span.End()
	start := time.Now()

	report, err := a.reasoner.AnalyzeImpact(ctx, identifier, repoID)
	if err != nil {
		recordOperation(ctx, "analyze_impact", time.Since(start), false)
		return nil, err
	}

	report.Summary = impactSummary(identifier, report)
	recordOperation(ctx, "analyze_impact", time.Since(start), true)
	return report, nil
}

// impactSummary renders the impact counts as display text.
func impactSummary(identifier string, report *datatypes.ImpactReport) string {
	return fmt.Sprintf("Modifying '%s' would affect:\n- %d direct callers\n- %d indirect callers\nRisk Level: %s",
		identifier,
		len(report.DirectImpact),
		len(report.IndirectImpact),
		strings.ToUpper(string(report.RiskLevel)),
	)
}

// detectFlowQuestion reports whether the question asks about execution
// order.
func detectFlowQuestion(question string) bool {
	lower := strings.ToLower(question)
	for _, keyword := range flowKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// identifyEntryPoint picks the flow entry point: the first retrieved unit
// the question mentions by name, else the top-scored unit.
func identifyEntryPoint(question string, records []datatypes.ScoredRecord) string {
	lower := strings.ToLower(question)
	for i := range records {
		id := records[i].Identifier
		if id != "" && strings.Contains(lower, strings.ToLower(id)) {
			return id
		}
	}
	if len(records) > 0 {
		return records[0].Identifier
	}
	return ""
}

// contextRecords caps the records that go into the prompt.
func contextRecords(records []datatypes.ScoredRecord) []datatypes.ScoredRecord {
	if len(records) > contextBlockLimit {
		return records[:contextBlockLimit]
	}
	return records
}

// extractCitations converts the full retrieval set into citations.
func extractCitations(records []datatypes.ScoredRecord) []datatypes.Citation {
	citations := make([]datatypes.Citation, 0, len(records))
	for i := range records {
		r := &records[i]
		citations = append(citations, datatypes.Citation{
			FilePath:     r.FilePath,
			StartLine:    r.StartLine,
			EndLine:      r.EndLine,
			FunctionName: r.Identifier,
			Score:        r.Score,
		})
	}
	return citations
}

// selectBestSnippet returns the top-scored record as a display snippet.
func selectBestSnippet(records []datatypes.ScoredRecord) *datatypes.CodeSnippet {
	if len(records) == 0 {
		return nil
	}
	best := &records[0]
	return &datatypes.CodeSnippet{
		FilePath: best.FilePath,
		Code:     best.Code,
		Language: best.Language,
	}
}

// assessConfidence grades answer confidence from the top retrieval score.
func assessConfidence(records []datatypes.ScoredRecord) string {
	if len(records) == 0 {
		return datatypes.ConfidenceLow
	}
	switch top := records[0].Score; {
	case top > 0.85:
		return datatypes.ConfidenceHigh
	case top > 0.70:
		return datatypes.ConfidenceMedium
	default:
		return datatypes.ConfidenceLow
	}
}
