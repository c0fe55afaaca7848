// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

// Default configuration values.
const (
	// DefaultScopeOverfetch is the multiplier applied to k when a scoped
	// search selects its global candidate pool. A scoped search examines
	// min(k*overfetch, total) globally nearest entries before filtering,
	// so small repositories are less likely to under-fill k results.
	DefaultScopeOverfetch = 3

	// searchCheckInterval is how often Search checks for context
	// cancellation while scanning the backing store.
	searchCheckInterval = 1024

	// similarityDecay divides the squared distance inside the exponential
	// similarity transform: similarity = exp(-distance/similarityDecay).
	similarityDecay = 10.0
)

// Options configures Index behavior.
type Options struct {
	// Logger receives structured index logs. Defaults to slog.Default().
	Logger *slog.Logger

	// ScopeOverfetch is the candidate-pool multiplier for scoped search.
	// Default: DefaultScopeOverfetch.
	ScopeOverfetch int
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		Logger:         slog.Default(),
		ScopeOverfetch: DefaultScopeOverfetch,
	}
}

// Option is a functional option for configuring Index.
type Option func(*Options)

// WithLogger sets the structured logger used by the index.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithScopeOverfetch sets the candidate-pool multiplier for scoped search.
// Values below 1 are clamped to 1.
func WithScopeOverfetch(multiplier int) Option {
	return func(o *Options) {
		if multiplier < 1 {
			multiplier = 1
		}
		o.ScopeOverfetch = multiplier
	}
}

// EntryMeta is the metadata stored alongside one vector.
//
// ChunkID links the entry back to its chunk record; RepoID assigns the entry
// to a repository scope. Entries with an empty RepoID belong to no scope and
// are only reachable through unscoped search.
type EntryMeta struct {
	ChunkID    string `json:"chunk_id"`
	RepoID     string `json:"repo_id"`
	FilePath   string `json:"file_path,omitempty"`
	Identifier string `json:"identifier,omitempty"`
}

// SearchHit is one nearest-neighbor result.
type SearchHit struct {
	// Position is the entry's position in the backing store at the time
	// of the search. Positions are invalidated by DeleteScope and Load.
	Position int

	// Meta is the metadata stored with the vector.
	Meta EntryMeta

	// Similarity is exp(-squaredDistance/10), in (0, 1].
	Similarity float64
}

// Stats describes the index contents.
type Stats struct {
	// TotalVectors is the number of stored vectors.
	TotalVectors int `json:"total_vectors"`

	// Dimension is the fixed vector dimension.
	Dimension int `json:"dimension"`

	// Repositories is the number of distinct repository scopes.
	Repositories int `json:"num_repositories"`

	// VectorsPerRepo maps each repository scope to its entry count.
	VectorsPerRepo map[string]int `json:"vectors_per_repo"`
}

// Index is an exact nearest-neighbor index over fixed-dimension embedding
// vectors with repository-scoped filtering and deletion.
//
// The backing store is a flat float32 buffer with stride equal to the
// dimension; entry i occupies data[i*dimension : (i+1)*dimension]. The scope
// map holds ascending live positions per repository and is reconstructed in
// full whenever the store is rebuilt.
//
// Thread Safety:
//
//	Index is safe for concurrent use. Insert, DeleteScope, and the snapshot
//	Load take the exclusive lock; Search and Stats take the shared lock.
type Index struct {
	mu sync.RWMutex

	dimension int
	data      []float32
	metadata  []EntryMeta

	// scopes maps repository ID → ascending live positions.
	scopes map[string][]int

	options Options
}

// New creates an empty index for vectors of the given dimension.
//
// Description:
//
//	The dimension is fixed for the lifetime of the index; only Load may
//	replace it, together with the rest of the index state.
//
// Inputs:
//
//	dimension - Vector length, must be positive.
//	opts - Functional options.
//
// Outputs:
//
//	*Index - The empty index.
//	error - ErrInvalidDimension when dimension < 1.
func New(dimension int, opts ...Option) (*Index, error) {
	if dimension < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDimension, dimension)
	}

	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &Index{
		dimension: dimension,
		scopes:    make(map[string][]int),
		options:   options,
	}, nil
}

// Dimension returns the fixed vector dimension.
func (idx *Index) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dimension
}

// Count returns the number of stored vectors.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.metadata)
}

// Insert appends vectors with their metadata to the index.
//
// Description:
//
//	Validates the whole batch before mutating: if any vector has the wrong
//	dimension or the two lists differ in length, nothing is inserted.
//	Positions are assigned contiguously starting at the current count, and
//	the scope map is extended for every metadata entry with a repository ID.
//
// Inputs:
//
//	ctx - Context for tracing.
//	vectors - Embedding vectors, each of the index dimension.
//	metas - Metadata entries, one per vector.
//
// Outputs:
//
//	error - ErrArityMismatch when the lists differ in length,
//	        ErrDimensionMismatch when any vector has the wrong length.
//
// Thread Safety: Safe for concurrent use.
func (idx *Index) Insert(ctx context.Context, vectors [][]float32, metas []EntryMeta) error {
	ctx, span := startOperationSpan(ctx, "Insert")
	defer span.End()
	start := time.Now()

	if len(vectors) != len(metas) {
		recordOperation(ctx, "insert", time.Since(start), false)
		return fmt.Errorf("%w: %d vectors, %d metadata entries",
			ErrArityMismatch, len(vectors), len(metas))
	}

	idx.mu.Lock()

	// Validate the whole batch against the locked-in dimension before any
	// mutation, so a failed insert leaves the index untouched.
	for i, v := range vectors {
		if len(v) != idx.dimension {
			dim := idx.dimension
			idx.mu.Unlock()
			recordOperation(ctx, "insert", time.Since(start), false)
			return fmt.Errorf("%w: vector %d has %d components, want %d",
				ErrDimensionMismatch, i, len(v), dim)
		}
	}

	base := len(idx.metadata)
	for i, v := range vectors {
		idx.data = append(idx.data, v...)
		idx.metadata = append(idx.metadata, metas[i])
		if repo := metas[i].RepoID; repo != "" {
			idx.scopes[repo] = append(idx.scopes[repo], base+i)
		}
	}
	total := len(idx.metadata)
	idx.mu.Unlock()

	idx.options.Logger.Debug("vectors inserted",
		slog.Int("count", len(vectors)),
		slog.Int("total", total),
	)
	recordOperation(ctx, "insert", time.Since(start), true)
	recordVectorCount(ctx, total)
	return nil
}

// Search returns up to k nearest neighbors of the query vector.
//
// Description:
//
//	Results are ordered by descending similarity, ties broken by ascending
//	insertion position. Similarity is exp(-d/10) of the squared Euclidean
//	distance d, so an exact match scores 1.0 and scores decay toward 0.
//
//	When repoScope is non-empty, the search examines the
//	min(k*overfetch, total) globally nearest entries and filters them by
//	scope; if fewer than k scoped entries remain in that pool, the smaller
//	result is returned as-is. An unknown or empty scope yields an empty
//	result, not an error.
//
// Inputs:
//
//	ctx - Context, checked periodically for cancellation.
//	query - Query vector of the index dimension.
//	k - Maximum number of results; k < 1 yields an empty result.
//	repoScope - Repository scope, or "" for a global search.
//
// Outputs:
//
//	[]SearchHit - Up to k hits, best first.
//	error - ErrDimensionMismatch when the query has the wrong length, or
//	        the context error on cancellation.
//
// Thread Safety: Safe for concurrent use.
func (idx *Index) Search(ctx context.Context, query []float32, k int, repoScope string) ([]SearchHit, error) {
	ctx, span := startOperationSpan(ctx, "Search")
	defer span.End()
	start := time.Now()

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(query) != idx.dimension {
		recordOperation(ctx, "search", time.Since(start), false)
		return nil, fmt.Errorf("%w: query has %d components, want %d",
			ErrDimensionMismatch, len(query), idx.dimension)
	}

	total := len(idx.metadata)
	if total == 0 || k < 1 {
		recordOperation(ctx, "search", time.Since(start), true)
		return []SearchHit{}, nil
	}

	var scopeSet map[int]struct{}
	if repoScope != "" {
		positions, ok := idx.scopes[repoScope]
		if !ok || len(positions) == 0 {
			recordOperation(ctx, "search", time.Since(start), true)
			return []SearchHit{}, nil
		}
		scopeSet = make(map[int]struct{}, len(positions))
		for _, p := range positions {
			scopeSet[p] = struct{}{}
		}
	}

	type candidate struct {
		pos  int
		dist float64
	}

	candidates := make([]candidate, total)
	for i := 0; i < total; i++ {
		if i%searchCheckInterval == 0 && ctx.Err() != nil {
			recordOperation(ctx, "search", time.Since(start), false)
			return nil, ctx.Err()
		}
		candidates[i] = candidate{pos: i, dist: idx.squaredDistance(i, query)}
	}

	// Ascending distance is descending similarity; the transform is
	// monotone. Position breaks ties for determinism.
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].dist != candidates[b].dist {
			return candidates[a].dist < candidates[b].dist
		}
		return candidates[a].pos < candidates[b].pos
	})

	pool := candidates
	if scopeSet != nil {
		poolSize := k * idx.options.ScopeOverfetch
		if poolSize > total {
			poolSize = total
		}
		pool = candidates[:poolSize]
	}

	hits := make([]SearchHit, 0, k)
	for _, c := range pool {
		if scopeSet != nil {
			if _, ok := scopeSet[c.pos]; !ok {
				continue
			}
		}
		hits = append(hits, SearchHit{
			Position:   c.pos,
			Meta:       idx.metadata[c.pos],
			Similarity: distanceToSimilarity(c.dist),
		})
		if len(hits) == k {
			break
		}
	}

	recordOperation(ctx, "search", time.Since(start), true)
	recordSearchResults(ctx, len(hits))
	return hits, nil
}

// DeleteScope removes every entry belonging to the given repository.
//
// Description:
//
//	The backing store has no in-place deletion, so the index rebuilds:
//	surviving vectors are copied forward in their original relative order,
//	positions are renumbered contiguously, and the scope map is
//	reconstructed from scratch over the new positions. The new state is
//	built off to the side and published atomically under the write lock.
//
//	An unknown scope is a no-op, not an error. This is an O(n) maintenance
//	operation, not a hot path.
//
// Inputs:
//
//	ctx - Context for tracing.
//	repoID - Repository scope to remove.
//
// Outputs:
//
//	int - Number of entries removed.
//	error - Reserved for rebuild failures; currently always nil.
//
// Thread Safety: Safe for concurrent use; excludes all reads for the
// duration of the rebuild.
func (idx *Index) DeleteScope(ctx context.Context, repoID string) (int, error) {
	ctx, span := startOperationSpan(ctx, "DeleteScope")
	defer span.End()
	start := time.Now()

	idx.mu.Lock()
	defer idx.mu.Unlock()

	doomed, ok := idx.scopes[repoID]
	if !ok || len(doomed) == 0 {
		recordOperation(ctx, "delete_scope", time.Since(start), true)
		return 0, nil
	}

	removeSet := make(map[int]struct{}, len(doomed))
	for _, p := range doomed {
		removeSet[p] = struct{}{}
	}

	total := len(idx.metadata)
	newData := make([]float32, 0, (total-len(doomed))*idx.dimension)
	newMeta := make([]EntryMeta, 0, total-len(doomed))
	newScopes := make(map[string][]int)

	for pos := 0; pos < total; pos++ {
		if _, gone := removeSet[pos]; gone {
			continue
		}
		newPos := len(newMeta)
		newData = append(newData, idx.vectorAt(pos)...)
		newMeta = append(newMeta, idx.metadata[pos])
		if repo := idx.metadata[pos].RepoID; repo != "" {
			newScopes[repo] = append(newScopes[repo], newPos)
		}
	}

	idx.data = newData
	idx.metadata = newMeta
	idx.scopes = newScopes

	idx.options.Logger.Info("repository scope deleted",
		slog.String("repo_id", repoID),
		slog.Int("removed", len(doomed)),
		slog.Int("remaining", len(newMeta)),
	)
	recordOperation(ctx, "delete_scope", time.Since(start), true)
	recordVectorCount(ctx, len(newMeta))
	return len(doomed), nil
}

// Stats returns the index statistics with per-scope counts.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	perRepo := make(map[string]int, len(idx.scopes))
	for repo, positions := range idx.scopes {
		perRepo[repo] = len(positions)
	}

	return Stats{
		TotalVectors:   len(idx.metadata),
		Dimension:      idx.dimension,
		Repositories:   len(idx.scopes),
		VectorsPerRepo: perRepo,
	}
}

// vectorAt returns the backing-store window of entry pos. The caller must
// hold at least the read lock; the slice aliases the store.
func (idx *Index) vectorAt(pos int) []float32 {
	off := pos * idx.dimension
	return idx.data[off : off+idx.dimension]
}

// squaredDistance computes the squared Euclidean distance between entry pos
// and the query, accumulating in float64.
func (idx *Index) squaredDistance(pos int, query []float32) float64 {
	off := pos * idx.dimension
	var sum float64
	for i, q := range query {
		d := float64(idx.data[off+i]) - float64(q)
		sum += d * d
	}
	return sum
}

// distanceToSimilarity maps a squared distance to the (0, 1] similarity band
// used by ranking consumers. Distance 0 maps to 1.0.
func distanceToSimilarity(dist float64) float64 {
	return math.Exp(-dist / similarityDecay)
}
