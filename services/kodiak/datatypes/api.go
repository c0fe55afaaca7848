// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains request and response types for the HTTP API.
package datatypes

import (
	"errors"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrDiffTooLarge indicates a submitted diff exceeded MaxDiffBytes.
var ErrDiffTooLarge = errors.New("diff exceeds maximum size")

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxQuestionBytes bounds a single question body.
	MaxQuestionBytes = 8 * 1024

	// MaxDiffBytes bounds a unified diff submitted for impact analysis.
	MaxDiffBytes = 512 * 1024

	// MaxFlowDepthLimit is the largest accepted max_depth for flow traces.
	MaxFlowDepthLimit = 20
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// apiValidate is the validator instance for API datatypes, with custom
// validators registered in init.
var apiValidate *validator.Validate

var repoIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@:-]*$`)

func init() {
	apiValidate = validator.New()
	_ = apiValidate.RegisterValidation("repoid", validateRepoID)
}

// validateRepoID accepts alphanumeric identifiers with dots,
// underscores, hyphens, and the @/: of ssh-style IDs, as produced by
// deriving repository IDs from git URLs. Case is preserved.
func validateRepoID(fl validator.FieldLevel) bool {
	return repoIDPattern.MatchString(fl.Field().String())
}

// =============================================================================
// Repository Endpoints
// =============================================================================

// RepositoryIngestRequest asks the service to clone and index a repository.
type RepositoryIngestRequest struct {
	RepoURL string `json:"repo_url" validate:"required,url"`
	Branch  string `json:"branch" validate:"omitempty,max=100"`
}

// Validate checks the request fields after JSON binding.
func (r *RepositoryIngestRequest) Validate() error {
	return apiValidate.Struct(r)
}

// EnsureDefaults fills optional fields the client omitted.
func (r *RepositoryIngestRequest) EnsureDefaults() {
	if r.Branch == "" {
		r.Branch = "main"
	}
}

// RepositoryIngestResponse reports the outcome of an ingestion run.
type RepositoryIngestResponse struct {
	RepoID             string  `json:"repo_id"`
	Status             string  `json:"status"`
	Message            string  `json:"message"`
	FilesProcessed     int     `json:"files_processed"`
	FunctionsExtracted int     `json:"functions_extracted"`
	IngestionTime      float64 `json:"ingestion_time"`
}

// =============================================================================
// Query Endpoints
// =============================================================================

// QueryRequest asks a natural-language question about an ingested repository.
type QueryRequest struct {
	Question string `json:"question" validate:"required,min=1,max=8192"`
	RepoID   string `json:"repo_id" validate:"required,repoid"`

	// IncludeExecutionFlow enables flow analysis for flow-like questions.
	// Omitted means enabled.
	IncludeExecutionFlow *bool `json:"include_execution_flow"`
}

// Validate checks the request fields after JSON binding.
func (r *QueryRequest) Validate() error {
	return apiValidate.Struct(r)
}

// FlowEnabled resolves the optional flow flag, defaulting to enabled.
func (r *QueryRequest) FlowEnabled() bool {
	return r.IncludeExecutionFlow == nil || *r.IncludeExecutionFlow
}

// Citation points an answer at a specific code location.
type Citation struct {
	FilePath     string  `json:"file_path"`
	StartLine    int     `json:"start_line"`
	EndLine      int     `json:"end_line"`
	FunctionName string  `json:"function_name,omitempty"`
	Score        float64 `json:"score,omitempty"`
}

// CodeSnippet carries the most relevant code excerpt for an answer.
type CodeSnippet struct {
	FilePath string `json:"file_path"`
	Code     string `json:"code"`
	Language string `json:"language"`
}

// Confidence levels returned with answers.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// QueryResponse is the grounded answer to a codebase question.
type QueryResponse struct {
	Answer        string       `json:"answer"`
	Citations     []Citation   `json:"citations"`
	Confidence    string       `json:"confidence"`
	CodeSnippet   *CodeSnippet `json:"code_snippet,omitempty"`
	ExecutionFlow []FlowStep   `json:"execution_flow,omitempty"`
}

// =============================================================================
// Impact and Flow Endpoints
// =============================================================================

// ImpactAnalysisRequest names the unit whose change impact to analyze.
type ImpactAnalysisRequest struct {
	Identifier string `json:"identifier" validate:"required,min=1,max=255"`
	RepoID     string `json:"repo_id" validate:"required,repoid"`
}

// Validate checks the request fields after JSON binding.
func (r *ImpactAnalysisRequest) Validate() error {
	return apiValidate.Struct(r)
}

// DiffImpactRequest submits a unified diff for aggregated impact analysis.
type DiffImpactRequest struct {
	Diff   string `json:"diff" validate:"required,min=1"`
	RepoID string `json:"repo_id" validate:"required,repoid"`
}

// Validate checks the request fields after JSON binding.
func (r *DiffImpactRequest) Validate() error {
	if len(r.Diff) > MaxDiffBytes {
		return ErrDiffTooLarge
	}
	return apiValidate.Struct(r)
}

// DiffImpactResponse aggregates per-identifier impact reports for one diff.
type DiffImpactResponse struct {
	Reports   []ImpactReport `json:"reports"`
	RiskLevel RiskLevel      `json:"risk_level"`
	Summary   string         `json:"summary"`
}

// FlowRequest asks for an execution-flow trace from one entry point.
type FlowRequest struct {
	EntryPoint string `json:"entry_point" validate:"required,min=1,max=255"`
	RepoID     string `json:"repo_id" validate:"required,repoid"`
	MaxDepth   int    `json:"max_depth" validate:"gte=0,lte=20"`
}

// Validate checks the request fields after JSON binding.
func (r *FlowRequest) Validate() error {
	return apiValidate.Struct(r)
}

// FlowResponse carries the ordered steps of one trace.
type FlowResponse struct {
	EntryPoint string     `json:"entry_point"`
	Steps      []FlowStep `json:"steps"`
}

// =============================================================================
// File and Health Endpoints
// =============================================================================

// FileContentResponse returns a file slice with its metadata.
type FileContentResponse struct {
	FilePath   string `json:"file_path"`
	Content    string `json:"content"`
	Language   string `json:"language"`
	TotalLines int    `json:"total_lines"`
	RepoID     string `json:"repo_id"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// ErrorResponse is the JSON body for failed requests.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// =============================================================================
// Websocket Frames
// =============================================================================

// WSQuery is the inbound websocket frame for a streamed question.
type WSQuery struct {
	Question string `json:"question"`
	RepoID   string `json:"repo_id"`
}

// Websocket frame types for WSFrame.Type.
const (
	WSFrameToken = "token"
	WSFrameFinal = "final"
	WSFrameError = "error"
)

// WSFrame is one outbound websocket frame. Token frames carry answer text
// incrementally; the final frame carries citations and confidence.
type WSFrame struct {
	Type       string     `json:"type"`
	Token      string     `json:"token,omitempty"`
	Answer     string     `json:"answer,omitempty"`
	Citations  []Citation `json:"citations,omitempty"`
	Confidence string     `json:"confidence,omitempty"`
	Error      string     `json:"error,omitempty"`
}
