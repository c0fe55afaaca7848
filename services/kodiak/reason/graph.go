// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reason

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
)

// riskHighThreshold is the total affected count at which risk becomes high.
// Below it a non-zero impact is medium; zero impact is low.
const riskHighThreshold = 5

// FindDependencies reports what one unit depends on.
//
// Description:
//
//	Direct dependencies are the unit's recorded dependency list. When
//	includeIndirect is set, the indirect list is the union of the
//	dependency lists of each direct dependency, minus the direct set and
//	minus the unit itself, in first-seen order. An unresolved identifier
//	yields an empty report with Found unset, not an error.
//
// Inputs:
//
//	ctx - Context passed through to the resolver.
//	identifier - Symbol name to analyze.
//	repoID - Repository to analyze.
//	includeIndirect - Whether to resolve one level of transitive deps.
//
// Outputs:
//
//	*datatypes.DependencyReport - The report; lists are never nil.
//	error - Resolver failure.
//
// Thread Safety: Safe for concurrent use.
func (r *Reasoner) FindDependencies(ctx context.Context, identifier, repoID string, includeIndirect bool) (*datatypes.DependencyReport, error) {
	ctx, span := startOperationSpan(ctx, "FindDependencies")
	defer span.End()
	start := time.Now()

	report := &datatypes.DependencyReport{
		Identifier: identifier,
		Direct:     []string{},
		Indirect:   []string{},
	}

	record, found, err := r.resolver.RetrieveByIdentifier(ctx, identifier, repoID)
	if err != nil {
		recordOperation(ctx, "find_dependencies", time.Since(start), false)
		return nil, fmt.Errorf("resolve %q: %w", identifier, err)
	}
	if !found {
		recordOperation(ctx, "find_dependencies", time.Since(start), true)
		return report, nil
	}

	report.Found = true
	report.Direct = append(report.Direct, record.Dependencies...)

	if includeIndirect {
		directSet := toSet(record.Dependencies)
		seen := make(map[string]struct{})
		for _, dep := range record.Dependencies {
			depRecord, depFound, err := r.resolver.RetrieveByIdentifier(ctx, dep, repoID)
			if err != nil {
				recordOperation(ctx, "find_dependencies", time.Since(start), false)
				return nil, fmt.Errorf("resolve dependency %q: %w", dep, err)
			}
			if !depFound {
				continue
			}
			for _, indirect := range depRecord.Dependencies {
				if indirect == identifier {
					continue
				}
				if _, isDirect := directSet[indirect]; isDirect {
					continue
				}
				if _, dup := seen[indirect]; dup {
					continue
				}
				seen[indirect] = struct{}{}
				report.Indirect = append(report.Indirect, indirect)
			}
		}
	}

	recordOperation(ctx, "find_dependencies", time.Since(start), true)
	return report, nil
}

// AnalyzeImpact reports what breaks when one unit changes.
//
// Description:
//
//	Direct impact is the unit's recorded callers. Indirect impact is the
//	union of the callers of each direct caller, minus the direct-caller
//	set and minus the unit itself, in first-seen order. Each impacted
//	entry carries the file path of its unit when it resolves, or
//	"unknown" when it does not. Risk is low at zero total impact, medium
//	below riskHighThreshold, high at or above it.
//
// Inputs:
//
//	ctx - Context passed through to the resolver.
//	identifier - Symbol name whose modification to assess.
//	repoID - Repository to analyze.
//
// Outputs:
//
//	*datatypes.ImpactReport - The report; lists are never nil.
//	error - ErrNotFound when the identifier does not resolve, or a
//	        resolver failure.
//
// Thread Safety: Safe for concurrent use.
func (r *Reasoner) AnalyzeImpact(ctx context.Context, identifier, repoID string) (*datatypes.ImpactReport, error) {
	ctx, span := startOperationSpan(ctx, "AnalyzeImpact")
	defer span.End()
	start := time.Now()

	record, found, err := r.resolver.RetrieveByIdentifier(ctx, identifier, repoID)
	if err != nil {
		recordOperation(ctx, "analyze_impact", time.Since(start), false)
		return nil, fmt.Errorf("resolve %q: %w", identifier, err)
	}
	if !found {
		recordOperation(ctx, "analyze_impact", time.Since(start), false)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, identifier)
	}

	directSet := toSet(record.Callers)
	direct := make([]datatypes.ImpactedCode, 0, len(record.Callers))
	indirectNames := make([]string, 0)
	indirectSeen := make(map[string]struct{})

	for _, caller := range record.Callers {
		callerRecord, callerFound, err := r.resolver.RetrieveByIdentifier(ctx, caller, repoID)
		if err != nil {
			recordOperation(ctx, "analyze_impact", time.Since(start), false)
			return nil, fmt.Errorf("resolve caller %q: %w", caller, err)
		}
		direct = append(direct, impactedCode(caller, callerRecord))
		if !callerFound {
			continue
		}
		for _, upstream := range callerRecord.Callers {
			if upstream == identifier {
				continue
			}
			if _, isDirect := directSet[upstream]; isDirect {
				continue
			}
			if _, dup := indirectSeen[upstream]; dup {
				continue
			}
			indirectSeen[upstream] = struct{}{}
			indirectNames = append(indirectNames, upstream)
		}
	}

	indirect := make([]datatypes.ImpactedCode, 0, len(indirectNames))
	for _, name := range indirectNames {
		upstreamRecord, _, err := r.resolver.RetrieveByIdentifier(ctx, name, repoID)
		if err != nil {
			recordOperation(ctx, "analyze_impact", time.Since(start), false)
			return nil, fmt.Errorf("resolve caller %q: %w", name, err)
		}
		indirect = append(indirect, impactedCode(name, upstreamRecord))
	}

	report := &datatypes.ImpactReport{
		ModifiedCode: datatypes.ImpactedCode{
			Identifier: identifier,
			FilePath:   record.FilePath,
			ChunkType:  record.ChunkType,
		},
		DirectImpact:   direct,
		IndirectImpact: indirect,
		RiskLevel:      assessRisk(len(direct) + len(indirect)),
	}

	recordOperation(ctx, "analyze_impact", time.Since(start), true)
	return report, nil
}

// BuildCallGraph extracts caller→callee edges for a set of units.
//
// Edges follow the input order of identifiers and each unit's recorded
// callee order. Unresolved identifiers contribute no edges.
func (r *Reasoner) BuildCallGraph(ctx context.Context, identifiers []string, repoID string) ([]datatypes.CallEdge, error) {
	ctx, span := startOperationSpan(ctx, "BuildCallGraph")
	defer span.End()
	start := time.Now()

	edges := make([]datatypes.CallEdge, 0)
	for _, identifier := range identifiers {
		record, found, err := r.resolver.RetrieveByIdentifier(ctx, identifier, repoID)
		if err != nil {
			recordOperation(ctx, "build_call_graph", time.Since(start), false)
			return nil, fmt.Errorf("resolve %q: %w", identifier, err)
		}
		if !found {
			continue
		}
		for _, callee := range record.Callees {
			edges = append(edges, datatypes.CallEdge{Caller: identifier, Callee: callee})
		}
	}

	recordOperation(ctx, "build_call_graph", time.Since(start), true)
	return edges, nil
}

// FindCommonCallers intersects the caller sets of all given units.
//
// An empty input yields an empty result. An identifier that does not
// resolve contributes an empty caller set, which collapses the whole
// intersection: unknown code has no known callers. Results keep the caller
// order recorded on the first identifier.
func (r *Reasoner) FindCommonCallers(ctx context.Context, identifiers []string, repoID string) ([]string, error) {
	ctx, span := startOperationSpan(ctx, "FindCommonCallers")
	defer span.End()
	start := time.Now()

	common := make([]string, 0)
	if len(identifiers) == 0 {
		recordOperation(ctx, "find_common_callers", time.Since(start), true)
		return common, nil
	}

	var firstCallers []string
	sets := make([]map[string]struct{}, 0, len(identifiers))
	for i, identifier := range identifiers {
		record, found, err := r.resolver.RetrieveByIdentifier(ctx, identifier, repoID)
		if err != nil {
			recordOperation(ctx, "find_common_callers", time.Since(start), false)
			return nil, fmt.Errorf("resolve %q: %w", identifier, err)
		}
		var callers []string
		if found {
			callers = record.Callers
		}
		sets = append(sets, toSet(callers))
		if i == 0 {
			firstCallers = callers
		}
	}

	seen := make(map[string]struct{})
	for _, caller := range firstCallers {
		if _, dup := seen[caller]; dup {
			continue
		}
		seen[caller] = struct{}{}
		if containedInAll(sets[1:], caller) {
			common = append(common, caller)
		}
	}

	recordOperation(ctx, "find_common_callers", time.Since(start), true)
	return common, nil
}

// impactedCode builds an ImpactedCode entry, falling back to "unknown" for
// the file path when the unit did not resolve.
func impactedCode(identifier string, record *datatypes.ChunkRecord) datatypes.ImpactedCode {
	impacted := datatypes.ImpactedCode{Identifier: identifier, FilePath: "unknown"}
	if record != nil {
		impacted.FilePath = record.FilePath
		impacted.ChunkType = record.ChunkType
	}
	return impacted
}

// assessRisk classifies a total affected count.
func assessRisk(total int) datatypes.RiskLevel {
	switch {
	case total == 0:
		return datatypes.RiskLow
	case total < riskHighThreshold:
		return datatypes.RiskMedium
	default:
		return datatypes.RiskHigh
	}
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

func containedInAll(sets []map[string]struct{}, name string) bool {
	for _, set := range sets {
		if _, ok := set[name]; !ok {
			return false
		}
	}
	return true
}
