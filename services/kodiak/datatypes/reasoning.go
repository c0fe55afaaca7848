// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// =============================================================================
// Execution Flow
// =============================================================================

// FlowStep is one step in an execution-flow trace.
//
// Steps are appended in pre-order during traversal and are immutable once
// appended. Step numbers are 1-based and strictly increasing within a trace.
type FlowStep struct {
	// Step is the 1-based position of this step in the trace.
	Step int `json:"step"`

	// FunctionName is the identifier of the unit at this step.
	FunctionName string `json:"function_name"`

	// FilePath locates the unit's source file.
	FilePath string `json:"file_path"`

	// StartLine is the unit's first source line.
	StartLine int `json:"start_line,omitempty"`

	// Depth is the traversal depth; the entry point has depth 0.
	Depth int `json:"depth"`

	// Path is the ordered identifier sequence from the entry point to
	// this step, inclusive.
	Path []string `json:"path"`

	// Description is a human-readable summary of the step.
	Description string `json:"description,omitempty"`
}

// =============================================================================
// Dependencies
// =============================================================================

// DependencyReport lists the direct and indirect dependencies of one unit.
//
// Found is false when the identifier did not resolve; the report is then
// empty rather than an error.
type DependencyReport struct {
	Identifier string   `json:"identifier"`
	Found      bool     `json:"found"`
	Direct     []string `json:"direct"`
	Indirect   []string `json:"indirect,omitempty"`
}

// =============================================================================
// Impact Analysis
// =============================================================================

// RiskLevel classifies the blast radius of a change.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ImpactedCode describes one unit affected by a change.
type ImpactedCode struct {
	Identifier string `json:"identifier"`
	FilePath   string `json:"file_path"`
	ChunkType  string `json:"chunk_type,omitempty"`
}

// ImpactReport is the result of change-impact analysis for one unit.
//
// DirectImpact holds the unit's recorded callers. IndirectImpact holds the
// callers of direct callers, excluding the modified unit and every direct
// caller. RiskLevel is derived from the total affected count.
type ImpactReport struct {
	ModifiedCode   ImpactedCode   `json:"modified_code"`
	DirectImpact   []ImpactedCode `json:"direct_impact"`
	IndirectImpact []ImpactedCode `json:"indirect_impact"`
	RiskLevel      RiskLevel      `json:"risk_level"`
	Summary        string         `json:"summary,omitempty"`
}

// TotalAffected returns the combined direct and indirect impact count.
func (r *ImpactReport) TotalAffected() int {
	return len(r.DirectImpact) + len(r.IndirectImpact)
}

// =============================================================================
// Call Graph
// =============================================================================

// CallEdge is an ordered caller→callee pair produced by call-graph
// construction. Edges are transient; they are not persisted by the core.
type CallEdge struct {
	Caller string `json:"caller"`
	Callee string `json:"callee"`
}
