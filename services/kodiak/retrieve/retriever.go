// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieve turns natural-language questions into ranked,
// metadata-enriched code records.
//
// The Retriever combines three collaborators: an Embedder that maps the
// question into vector space, a VectorSearcher that finds the nearest code
// chunks, and a MetadataStore that holds the full chunk records with their
// call-graph relations. Ranking applies lexical boosts on top of vector
// similarity; see Rerank.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
	"github.com/AleutianAI/Kodiak/services/kodiak/index"
)

// DefaultTopK is the number of records Retrieve returns by default.
const DefaultTopK = 10

// rerankOverfetch widens the candidate pool fed to the re-ranker relative
// to the final result size, so lexical boosts can promote candidates that
// plain vector similarity left just below the cut.
const rerankOverfetch = 2

// VectorSearcher finds the nearest stored vectors for a query vector.
// *index.Index satisfies this interface.
type VectorSearcher interface {
	// Search returns up to k hits scoped to repoScope, best first.
	Search(ctx context.Context, query []float32, k int, repoScope string) ([]index.SearchHit, error)
}

// MetadataStore provides chunk records by ID or symbol name.
//
// All lookups report a missing record as (nil, nil); a non-nil error means
// the lookup itself failed, not that the record is absent.
type MetadataStore interface {
	// GetChunkByID returns the record for a chunk ID within a repository.
	GetChunkByID(ctx context.Context, chunkID, repoID string) (*datatypes.ChunkRecord, error)

	// GetChunkByIdentifier returns the record whose symbol name matches
	// identifier exactly within a repository.
	GetChunkByIdentifier(ctx context.Context, repoID, identifier string) (*datatypes.ChunkRecord, error)

	// GetChunkWithGraph returns the record with its dependencies, callers,
	// and callees populated.
	GetChunkWithGraph(ctx context.Context, chunkID, repoID string) (*datatypes.ChunkRecord, error)
}

// Embedder maps question text into the index vector space.
type Embedder interface {
	// EmbedQuery returns the embedding vector for one query text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Options configures Retriever behavior.
type Options struct {
	// TopK is the maximum number of records Retrieve returns.
	// Default: DefaultTopK.
	TopK int

	// Logger receives structured retrieval logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		TopK:   DefaultTopK,
		Logger: slog.Default(),
	}
}

// Option is a functional option for configuring Retriever.
type Option func(*Options)

// WithTopK sets the maximum result count. Values below 1 are clamped to 1.
func WithTopK(k int) Option {
	return func(o *Options) {
		if k < 1 {
			k = 1
		}
		o.TopK = k
	}
}

// WithLogger sets the structured logger used by the retriever.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// Retriever answers "what code is relevant to this question" with a ranked
// record list, and supports exact lookup by symbol name.
//
// Thread Safety:
//
//	Retriever holds no mutable state beyond construction-time options. It
//	is safe for concurrent use as long as its collaborators are.
type Retriever struct {
	searcher VectorSearcher
	store    MetadataStore
	embedder Embedder
	options  Options
}

// New creates a Retriever over the given collaborators.
//
// Inputs:
//
//	searcher - Vector index used for semantic search.
//	store - Metadata store holding full chunk records.
//	embedder - Embedder for question text.
//	opts - Functional options.
//
// Outputs:
//
//	*Retriever - The configured retriever.
//	error - When any collaborator is nil.
func New(searcher VectorSearcher, store MetadataStore, embedder Embedder, opts ...Option) (*Retriever, error) {
	if searcher == nil {
		return nil, fmt.Errorf("retrieve: searcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("retrieve: store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("retrieve: embedder is required")
	}

	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &Retriever{
		searcher: searcher,
		store:    store,
		embedder: embedder,
		options:  options,
	}, nil
}

// Retrieve returns the most relevant code records for a question.
//
// Description:
//
//	Embeds the question, searches the vector index scoped to the
//	repository with a candidate pool twice the final result size, enriches
//	each hit with its full record from the metadata store, re-ranks with
//	lexical boosts, and returns the top TopK records. Hits whose record
//	cannot be found are dropped silently; an empty result means "no
//	relevant code," not failure.
//
// Inputs:
//
//	ctx - Context passed through to collaborators.
//	question - Natural-language question.
//	repoID - Repository to search.
//
// Outputs:
//
//	[]datatypes.ScoredRecord - Up to TopK records, best first. Never nil.
//	error - Embedding, search, or store failure.
//
// Thread Safety: Safe for concurrent use.
func (r *Retriever) Retrieve(ctx context.Context, question, repoID string) ([]datatypes.ScoredRecord, error) {
	ctx, span := startOperationSpan(ctx, "Retrieve")
	defer span.End()
	start := time.Now()

	vector, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		recordOperation(ctx, "retrieve", time.Since(start), false)
		return nil, fmt.Errorf("embed question: %w", err)
	}

	hits, err := r.searcher.Search(ctx, vector, rerankOverfetch*r.options.TopK, repoID)
	if err != nil {
		recordOperation(ctx, "retrieve", time.Since(start), false)
		return nil, fmt.Errorf("vector search: %w", err)
	}

	candidates := make([]datatypes.ScoredRecord, 0, len(hits))
	for _, hit := range hits {
		record, err := r.store.GetChunkWithGraph(ctx, hit.Meta.ChunkID, repoID)
		if err != nil {
			recordOperation(ctx, "retrieve", time.Since(start), false)
			return nil, fmt.Errorf("enrich chunk %s: %w", hit.Meta.ChunkID, err)
		}
		if record == nil {
			// Index and store can briefly disagree while an ingestion
			// is replacing a repository. Stale hits are not an error.
			continue
		}
		candidates = append(candidates, datatypes.ScoredRecord{
			ChunkRecord: *record,
			Score:       hit.Similarity,
		})
	}

	ranked := Rerank(question, candidates)
	if len(ranked) > r.options.TopK {
		ranked = ranked[:r.options.TopK]
	}

	r.options.Logger.Debug("retrieval complete",
		slog.String("repo_id", repoID),
		slog.Int("hits", len(hits)),
		slog.Int("returned", len(ranked)),
	)
	recordOperation(ctx, "retrieve", time.Since(start), true)
	recordResultCount(ctx, len(ranked))
	return ranked, nil
}

// RetrieveByIdentifier looks up one record by exact symbol name.
//
// Description:
//
//	Exact-match lookup within a repository. A missing symbol is reported
//	through the found flag, not an error, so callers can distinguish "no
//	such symbol" from a failed lookup.
//
// Inputs:
//
//	ctx - Context passed through to the store.
//	identifier - Symbol name to look up.
//	repoID - Repository to search.
//
// Outputs:
//
//	*datatypes.ChunkRecord - The record, or nil when absent.
//	bool - Whether the symbol resolved.
//	error - Store failure.
//
// Thread Safety: Safe for concurrent use.
func (r *Retriever) RetrieveByIdentifier(ctx context.Context, identifier, repoID string) (*datatypes.ChunkRecord, bool, error) {
	ctx, span := startOperationSpan(ctx, "RetrieveByIdentifier")
	defer span.End()
	start := time.Now()

	record, err := r.store.GetChunkByIdentifier(ctx, repoID, identifier)
	if err != nil {
		recordOperation(ctx, "retrieve_by_identifier", time.Since(start), false)
		return nil, false, fmt.Errorf("lookup %q: %w", identifier, err)
	}

	recordOperation(ctx, "retrieve_by_identifier", time.Since(start), true)
	return record, record != nil, nil
}

// RetrieveRelatedCode expands the callee relation around one chunk.
//
// Description:
//
//	Breadth-first traversal over callees starting at chunkID. Each
//	distinct chunk is visited at most once, expansion stops at depth hops
//	from the start, and every visited record is returned in first-visit
//	order, the start record included. Callees that do not resolve to a
//	record are skipped.
//
// Inputs:
//
//	ctx - Context passed through to the store.
//	chunkID - Starting chunk.
//	repoID - Repository to search.
//	depth - Maximum number of hops from the start; negative yields empty.
//
// Outputs:
//
//	[]datatypes.ChunkRecord - Visited records in first-visit order.
//	error - Store failure.
//
// Thread Safety: Safe for concurrent use.
func (r *Retriever) RetrieveRelatedCode(ctx context.Context, chunkID, repoID string, depth int) ([]datatypes.ChunkRecord, error) {
	ctx, span := startOperationSpan(ctx, "RetrieveRelatedCode")
	defer span.End()
	start := time.Now()

	type pending struct {
		chunkID string
		depth   int
	}

	related := make([]datatypes.ChunkRecord, 0)
	visited := make(map[string]struct{})
	queue := []pending{{chunkID: chunkID, depth: 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if _, seen := visited[current.chunkID]; seen || current.depth > depth {
			continue
		}
		visited[current.chunkID] = struct{}{}

		record, err := r.store.GetChunkByID(ctx, current.chunkID, repoID)
		if err != nil {
			recordOperation(ctx, "retrieve_related", time.Since(start), false)
			return nil, fmt.Errorf("fetch chunk %s: %w", current.chunkID, err)
		}
		if record == nil {
			continue
		}
		related = append(related, *record)

		if current.depth == depth {
			continue
		}
		for _, callee := range record.Callees {
			calleeRecord, found, err := r.RetrieveByIdentifier(ctx, callee, repoID)
			if err != nil {
				recordOperation(ctx, "retrieve_related", time.Since(start), false)
				return nil, err
			}
			if !found {
				continue
			}
			queue = append(queue, pending{chunkID: calleeRecord.ID, depth: current.depth + 1})
		}
	}

	recordOperation(ctx, "retrieve_related", time.Since(start), true)
	return related, nil
}

// TopK returns the configured maximum result count.
func (r *Retriever) TopK() int {
	return r.options.TopK
}
