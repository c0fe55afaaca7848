// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the shared data structures for the Kodiak
// service: code chunk records, reasoning results, persistent records, and
// API request/response types.
package datatypes

import "time"

// =============================================================================
// Chunk Types
// =============================================================================

// Chunk type values stored in ChunkRecord.ChunkType.
const (
	ChunkTypeFunction = "function"
	ChunkTypeMethod   = "method"
	ChunkTypeClass    = "class"
)

// Language tags stored in ChunkRecord.Language.
const (
	LanguageGo         = "go"
	LanguagePython     = "python"
	LanguageJavaScript = "javascript"
)

// ChunkRecord identifies one indexed code unit (function, method, or class).
//
// # Description
//
// A ChunkRecord is the unit of retrieval: one symbol with its source range,
// documentation, and the structural relations extracted at ingestion time.
// Records are owned by the metadata store; the retriever and reasoner only
// read them.
//
// # Fields
//
//   - ID: Unique within a repository (hash of repo:path:identifier).
//   - RepoID: Repository the chunk belongs to.
//   - FilePath: Path relative to the repository root.
//   - Identifier: Symbol name (function, method, or class name).
//   - ChunkType: One of the ChunkType* constants.
//   - Language: One of the Language* constants.
//   - Code: Source text of the unit.
//   - DocString: Documentation text, empty when the unit has none.
//   - StartLine, EndLine: 1-indexed inclusive source range.
//   - Dependencies: Ordered names the unit depends on (modules, bases).
//   - Callers: Ordered names of units that call this one.
//   - Callees: Ordered names this unit calls, in call-site order.
//
// # Thread Safety
//
// Treated as immutable after creation. Safe to share across goroutines.
type ChunkRecord struct {
	ID         string `json:"id"`
	RepoID     string `json:"repo_id"`
	FilePath   string `json:"file_path"`
	Identifier string `json:"identifier"`
	ChunkType  string `json:"chunk_type"`
	Language   string `json:"language"`

	Code      string `json:"code"`
	DocString string `json:"docstring,omitempty"`

	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`

	Dependencies []string `json:"dependencies,omitempty"`
	Callers      []string `json:"callers,omitempty"`
	Callees      []string `json:"callees,omitempty"`

	// Params holds parameter names for functions and methods.
	Params []string `json:"params,omitempty"`

	// Decorators holds decorator or annotation names, when the language
	// has them.
	Decorators []string `json:"decorators,omitempty"`

	// ClassName is the enclosing class for methods, empty otherwise.
	ClassName string `json:"class_name,omitempty"`
}

// ScoredRecord pairs a ChunkRecord with a relevance score assigned during
// ranking. Instances live for the duration of one retrieval call.
type ScoredRecord struct {
	ChunkRecord

	// Score is the adjusted similarity score, non-negative.
	Score float64 `json:"score"`
}

// =============================================================================
// Persistent Records
// =============================================================================

// RepositoryRecord is the stored metadata for one ingested repository.
type RepositoryRecord struct {
	ID                 string    `json:"id"`
	URL                string    `json:"url"`
	Branch             string    `json:"branch"`
	FilesProcessed     int       `json:"files_processed"`
	FunctionsExtracted int       `json:"functions_extracted"`
	IngestedAt         time.Time `json:"ingested_at"`
	UpdatedAt          time.Time `json:"updated_at"`

	// Module is the Go module path from the repository's go.mod, empty
	// when the repository has none.
	Module string `json:"module,omitempty"`
}

// FileRecord is the stored metadata and content for one source file.
type FileRecord struct {
	RepoID    string    `json:"repo_id"`
	FilePath  string    `json:"file_path"`
	Language  string    `json:"language"`
	Content   string    `json:"content"`
	SizeBytes int       `json:"size_bytes"`
	LineCount int       `json:"line_count"`
	Imports   []string  `json:"imports,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Call edge types stored in CallEdgeRecord.CallType.
const (
	CallTypeDirect   = "direct"
	CallTypeImported = "imported"
	CallTypeDynamic  = "dynamic"
)

// CallEdgeRecord is one stored caller→callee relationship.
type CallEdgeRecord struct {
	RepoID           string `json:"repo_id"`
	CallerIdentifier string `json:"caller_identifier"`
	CallerFile       string `json:"caller_file,omitempty"`
	CalleeIdentifier string `json:"callee_identifier"`
	CalleeFile       string `json:"callee_file,omitempty"`
	CallType         string `json:"call_type"`
	Line             int    `json:"line,omitempty"`
}
