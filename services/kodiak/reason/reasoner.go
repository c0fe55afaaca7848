// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reason implements graph analysis over the call and dependency
// relations of indexed code: execution-flow tracing, dependency resolution,
// change-impact analysis, call-graph extraction, and common-caller
// intersection.
//
// All lookups go through a single CodeResolver, so the reasoner never
// touches storage directly and stays pure graph logic. Traversals are
// depth-bounded and visit each symbol at most once, which guarantees
// termination even over cyclic call graphs.
package reason

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
)

const (
	// DefaultMaxDepth is the flow-trace depth used when callers do not
	// specify one.
	DefaultMaxDepth = 5

	// maxDescribedDeps caps how many dependency names a step description
	// lists.
	maxDescribedDeps = 3
)

// CodeResolver resolves symbol names to chunk records.
// *retrieve.Retriever satisfies this interface.
type CodeResolver interface {
	// RetrieveByIdentifier returns the record for an exact symbol name
	// within a repository. The found flag is false when the symbol does
	// not resolve; that is not an error.
	RetrieveByIdentifier(ctx context.Context, identifier, repoID string) (*datatypes.ChunkRecord, bool, error)
}

// Options configures Reasoner behavior.
type Options struct {
	// Logger receives structured reasoning logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{Logger: slog.Default()}
}

// Option is a functional option for configuring Reasoner.
type Option func(*Options)

// WithLogger sets the structured logger used by the reasoner.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// Reasoner performs call-graph and dependency analysis.
//
// Thread Safety:
//
//	Reasoner holds no mutable state beyond construction-time options. It
//	is safe for concurrent use as long as its resolver is.
type Reasoner struct {
	resolver CodeResolver
	options  Options
}

// New creates a Reasoner over the given resolver.
func New(resolver CodeResolver, opts ...Option) (*Reasoner, error) {
	if resolver == nil {
		return nil, fmt.Errorf("reason: resolver is required")
	}

	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &Reasoner{resolver: resolver, options: options}, nil
}

// flowFrame is one unit of pending traversal work. The path holds the
// identifier sequence leading to this frame's parent; frames never mutate
// it, so siblings can share the backing array.
type flowFrame struct {
	identifier string
	depth      int
	path       []string
}

// AnalyzeExecutionFlow traces the call chain from one entry point.
//
// Description:
//
//	Depth-first traversal over the callee relation, driven by an explicit
//	work stack so adversarially deep call graphs cannot exhaust goroutine
//	stack space. The visited set is global to the whole traversal: once a
//	symbol has been expanded at any depth it is never expanded again, even
//	when reached over a different call path. Steps are appended in
//	pre-order; each carries its 1-based step number, depth, the full path
//	from the entry point, and a one-line description. A symbol beyond
//	maxDepth, already visited, or unresolvable ends its branch silently.
//
// Inputs:
//
//	ctx - Context passed through to the resolver.
//	entryPoint - Symbol name to start from.
//	repoID - Repository to analyze.
//	maxDepth - Maximum traversal depth; the entry point is depth 0, and
//	           negative values yield an empty trace.
//
// Outputs:
//
//	[]datatypes.FlowStep - Steps in execution order. Never nil.
//	error - Resolver failure.
//
// Thread Safety: Safe for concurrent use.
func (r *Reasoner) AnalyzeExecutionFlow(ctx context.Context, entryPoint, repoID string, maxDepth int) ([]datatypes.FlowStep, error) {
	ctx, span := startOperationSpan(ctx, "AnalyzeExecutionFlow")
	defer span.End()
	start := time.Now()

	flow := make([]datatypes.FlowStep, 0)
	visited := make(map[string]struct{})
	stack := []flowFrame{{identifier: entryPoint, depth: 0}}

	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if frame.depth > maxDepth {
			continue
		}
		if _, seen := visited[frame.identifier]; seen {
			continue
		}
		// Unresolvable symbols are marked too: retrying them on another
		// path cannot succeed and would only repeat the lookup.
		visited[frame.identifier] = struct{}{}

		record, found, err := r.resolver.RetrieveByIdentifier(ctx, frame.identifier, repoID)
		if err != nil {
			recordOperation(ctx, "analyze_flow", time.Since(start), false)
			return nil, fmt.Errorf("resolve %q: %w", frame.identifier, err)
		}
		if !found {
			continue
		}

		path := make([]string, len(frame.path)+1)
		copy(path, frame.path)
		path[len(frame.path)] = frame.identifier

		flow = append(flow, datatypes.FlowStep{
			Step:         len(flow) + 1,
			FunctionName: frame.identifier,
			FilePath:     record.FilePath,
			StartLine:    record.StartLine,
			Depth:        frame.depth,
			Path:         path,
			Description:  describeStep(record),
		})

		// Callees are pushed in reverse so the first callee is expanded
		// next, preserving pre-order.
		for i := len(record.Callees) - 1; i >= 0; i-- {
			stack = append(stack, flowFrame{
				identifier: record.Callees[i],
				depth:      frame.depth + 1,
				path:       path,
			})
		}
	}

	r.options.Logger.Debug("execution flow traced",
		slog.String("entry_point", entryPoint),
		slog.String("repo_id", repoID),
		slog.Int("steps", len(flow)),
	)
	recordOperation(ctx, "analyze_flow", time.Since(start), true)
	recordFlowSteps(ctx, len(flow))
	return flow, nil
}

// describeStep renders a one-line summary of a flow step's unit, naming up
// to maxDescribedDeps of its dependencies.
func describeStep(record *datatypes.ChunkRecord) string {
	identifier := record.Identifier
	if identifier == "" {
		identifier = "unknown"
	}
	filePath := record.FilePath
	if filePath == "" {
		filePath = "unknown"
	}

	description := fmt.Sprintf("Function '%s' in %s", identifier, filePath)
	if len(record.Dependencies) > 0 {
		deps := record.Dependencies
		if len(deps) > maxDescribedDeps {
			deps = deps[:maxDescribedDeps]
		}
		description += fmt.Sprintf(" (uses: %s)", strings.Join(deps, ", "))
	}
	return description
}
