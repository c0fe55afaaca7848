// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
	"github.com/AleutianAI/Kodiak/services/kodiak/index"
)

// DefaultParallelism is the number of files parsed concurrently.
const DefaultParallelism = 4

// RepoLoader provides repository checkouts and their files.
type RepoLoader interface {
	CloneOrUpdate(ctx context.Context, repoURL, repoID, branch string) (string, error)
	ListFiles(repoID string, extensions []string) ([]string, error)
	ReadFile(repoID, filePath string) (string, error)
	Path(repoID string) (string, bool)
	Delete(repoID string) (bool, error)
}

// Embedder turns chunk records into vectors.
type Embedder interface {
	EmbedChunks(ctx context.Context, chunks []datatypes.ChunkRecord) ([][]float32, error)
}

// VectorIndex receives chunk vectors and persists itself to disk.
type VectorIndex interface {
	Insert(ctx context.Context, vectors [][]float32, metas []index.EntryMeta) error
	DeleteScope(ctx context.Context, repoID string) (int, error)
	Save(ctx context.Context, dir string) error
}

// MetadataStore persists chunks, call edges, file records, and
// repository metadata.
type MetadataStore interface {
	PutChunks(ctx context.Context, chunks []datatypes.ChunkRecord) error
	PutCallEdges(ctx context.Context, edges []datatypes.CallEdgeRecord) error
	PutFile(ctx context.Context, record datatypes.FileRecord) error
	PutRepository(ctx context.Context, record datatypes.RepositoryRecord) error
	GetRepository(ctx context.Context, repoID string) (*datatypes.RepositoryRecord, error)
	DeleteRepository(ctx context.Context, repoID string) (int, error)
}

// Result summarizes one completed ingestion.
type Result struct {
	RepoID             string
	FilesProcessed     int
	FunctionsExtracted int
	ChunksIndexed      int
	CallRelationships  int
	Elapsed            time.Duration
}

// DeleteResult summarizes one repository deletion.
type DeleteResult struct {
	RecordsDeleted int
	VectorsDeleted int
}

// ServiceOption configures the ingestion service.
type ServiceOption func(*Service)

// WithParsers replaces the default parser set.
func WithParsers(parsers ...Parser) ServiceOption {
	return func(s *Service) {
		if len(parsers) > 0 {
			s.parsers = parsers
		}
	}
}

// WithChunker replaces the default chunker.
func WithChunker(chunker *Chunker) ServiceOption {
	return func(s *Service) {
		if chunker != nil {
			s.chunker = chunker
		}
	}
}

// WithParallelism bounds how many files are parsed concurrently.
func WithParallelism(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// WithSnapshotDir sets the directory the vector index is saved to after
// each ingestion. Empty disables saving.
func WithSnapshotDir(dir string) ServiceOption {
	return func(s *Service) { s.snapshotDir = dir }
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service runs the full ingestion pipeline for one repository at a
// time: clone, parse, chunk, embed, index, persist.
//
// Thread Safety:
//
//	Safe for concurrent use across distinct repositories. Concurrent
//	ingestion of the same repository is not coordinated.
type Service struct {
	loader   RepoLoader
	embedder Embedder
	idx      VectorIndex
	store    MetadataStore

	parsers     []Parser
	byExtension map[string]Parser
	chunker     *Chunker
	parallelism int
	snapshotDir string
	logger      *slog.Logger
}

// NewService creates the ingestion service over the given collaborators.
//
// Inputs:
//
//	loader - Git repository loader.
//	embedder - Chunk embedder.
//	idx - Vector index receiving chunk vectors.
//	store - Metadata store for chunks, edges, files, and repos.
//	opts - Functional options.
//
// Outputs:
//
//	*Service - The configured service.
//	error - When any collaborator is nil.
func NewService(loader RepoLoader, embedder Embedder, idx VectorIndex, store MetadataStore, opts ...ServiceOption) (*Service, error) {
	if loader == nil {
		return nil, fmt.Errorf("ingest: loader is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("ingest: embedder is required")
	}
	if idx == nil {
		return nil, fmt.Errorf("ingest: index is required")
	}
	if store == nil {
		return nil, fmt.Errorf("ingest: store is required")
	}

	s := &Service{
		loader:      loader,
		embedder:    embedder,
		idx:         idx,
		store:       store,
		parallelism: DefaultParallelism,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.parsers) == 0 {
		s.parsers = []Parser{NewGoParser(), NewPythonParser(), NewJavaScriptParser()}
	}
	if s.chunker == nil {
		s.chunker = NewChunker()
	}

	s.byExtension = make(map[string]Parser)
	for _, p := range s.parsers {
		for _, ext := range p.Extensions() {
			s.byExtension[strings.ToLower(ext)] = p
		}
	}
	return s, nil
}

// Extensions returns the file extensions the service parses.
func (s *Service) Extensions() []string {
	exts := make([]string, 0, len(s.byExtension))
	for ext := range s.byExtension {
		exts = append(exts, ext)
	}
	return exts
}

// fileResult carries one file's extraction output between the parse
// workers and the aggregation step.
type fileResult struct {
	filePath    string
	definitions int
	chunks      []datatypes.ChunkRecord
	edges       []datatypes.CallEdgeRecord
	record      datatypes.FileRecord
}

// Ingest runs the full pipeline for one repository.
//
// Description:
//
//	Clones or updates the checkout, parses every supported file with
//	bounded parallelism, chunks and embeds the definitions, replaces
//	the repository's previous vectors and records, and saves an index
//	snapshot when a snapshot directory is configured. Files that fail
//	to read or parse are logged and skipped; the pipeline fails only
//	on clone, embedding, indexing, or persistence errors.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	repoURL - Git URL to clone.
//	repoID - Repository ID; derived from the URL when empty.
//	branch - Branch to check out; DefaultBranch when empty.
//
// Outputs:
//
//	*Result - Counts and elapsed time for the ingestion.
//	error - When the pipeline fails.
func (s *Service) Ingest(ctx context.Context, repoURL, repoID, branch string) (*Result, error) {
	start := time.Now()
	ctx, span := startOperationSpan(ctx, "Ingest")
	defer span.End()

	if repoID == "" {
		repoID = RepoIDFromURL(repoURL)
	}
	if branch == "" {
		branch = DefaultBranch
	}

	s.logger.Info("starting ingestion",
		slog.String("repo_id", repoID),
		slog.String("url", repoURL),
		slog.String("branch", branch),
	)

	repoPath, err := s.loader.CloneOrUpdate(ctx, repoURL, repoID, branch)
	if err != nil {
		recordOperation(ctx, "ingest", time.Since(start), false)
		return nil, err
	}

	files, err := s.loader.ListFiles(repoID, s.Extensions())
	if err != nil {
		recordOperation(ctx, "ingest", time.Since(start), false)
		return nil, err
	}

	results, err := s.parseFiles(ctx, repoID, files)
	if err != nil {
		recordOperation(ctx, "ingest", time.Since(start), false)
		return nil, err
	}

	var (
		allChunks []datatypes.ChunkRecord
		allEdges  []datatypes.CallEdgeRecord
		functions int
	)
	for _, fr := range results {
		allChunks = append(allChunks, fr.chunks...)
		allEdges = append(allEdges, fr.edges...)
		functions += fr.definitions
	}

	if err := s.persist(ctx, repoID, repoURL, branch, repoPath, results, allChunks, allEdges, functions); err != nil {
		recordOperation(ctx, "ingest", time.Since(start), false)
		return nil, err
	}

	elapsed := time.Since(start)
	recordOperation(ctx, "ingest", elapsed, true)
	recordChunkCount(ctx, len(allChunks))

	s.logger.Info("ingestion complete",
		slog.String("repo_id", repoID),
		slog.Int("files", len(results)),
		slog.Int("functions", functions),
		slog.Int("chunks", len(allChunks)),
		slog.Int("call_edges", len(allEdges)),
		slog.Duration("elapsed", elapsed),
	)

	return &Result{
		RepoID:             repoID,
		FilesProcessed:     len(results),
		FunctionsExtracted: functions,
		ChunksIndexed:      len(allChunks),
		CallRelationships:  len(allEdges),
		Elapsed:            elapsed,
	}, nil
}

// parseFiles reads, parses, and chunks the listed files with bounded
// parallelism. Results keep the input file order so downstream writes
// are deterministic. Unreadable or unparsable files are skipped.
func (s *Service) parseFiles(ctx context.Context, repoID string, files []string) ([]*fileResult, error) {
	slots := make([]*fileResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)

	for i, filePath := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fr := s.processFile(gctx, repoID, filePath)
			slots[i] = fr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]*fileResult, 0, len(files))
	for _, fr := range slots {
		if fr != nil {
			results = append(results, fr)
		}
	}
	return results, nil
}

// processFile handles one file end to end. A nil return means the file
// was skipped.
func (s *Service) processFile(ctx context.Context, repoID, filePath string) *fileResult {
	content, err := s.loader.ReadFile(repoID, filePath)
	if err != nil {
		s.logger.Warn("skipping unreadable file",
			slog.String("file", filePath),
			slog.String("error", err.Error()),
		)
		return nil
	}

	parser, ok := s.byExtension[strings.ToLower(filepath.Ext(filePath))]
	if !ok {
		return nil
	}

	parsed, err := parser.Parse(ctx, []byte(content), filePath)
	if err != nil {
		s.logger.Warn("skipping unparsable file",
			slog.String("file", filePath),
			slog.String("error", err.Error()),
		)
		return nil
	}

	chunks, edges, err := s.chunker.ChunkFile(repoID, parsed, content)
	if err != nil {
		s.logger.Warn("skipping unchunkable file",
			slog.String("file", filePath),
			slog.String("error", err.Error()),
		)
		return nil
	}

	return &fileResult{
		filePath:    filePath,
		definitions: len(parsed.Definitions),
		chunks:      chunks,
		edges:       edges,
		record: datatypes.FileRecord{
			RepoID:    repoID,
			FilePath:  filePath,
			Language:  parsed.Language,
			Content:   content,
			SizeBytes: len(content),
			LineCount: strings.Count(content, "\n") + 1,
			Imports:   parsed.Imports,
			UpdatedAt: time.Now().UTC(),
		},
	}
}

// persist embeds the chunks, replaces the repository's previous state
// in the index and the store, and saves an index snapshot.
func (s *Service) persist(ctx context.Context, repoID, repoURL, branch, repoPath string, results []*fileResult, chunks []datatypes.ChunkRecord, edges []datatypes.CallEdgeRecord, functions int) error {
	ingestedAt := time.Now().UTC()
	if existing, err := s.store.GetRepository(ctx, repoID); err == nil {
		ingestedAt = existing.IngestedAt
	}

	// Re-ingestion replaces: previous vectors and records for this
	// repository go away before the new state is written.
	if _, err := s.idx.DeleteScope(ctx, repoID); err != nil {
		return fmt.Errorf("clear index scope: %w", err)
	}
	if _, err := s.store.DeleteRepository(ctx, repoID); err != nil {
		return fmt.Errorf("clear repository records: %w", err)
	}

	if len(chunks) > 0 {
		vectors, err := s.embedder.EmbedChunks(ctx, chunks)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}

		metas := make([]index.EntryMeta, len(chunks))
		for i, c := range chunks {
			metas[i] = index.EntryMeta{
				ChunkID:    c.ID,
				RepoID:     c.RepoID,
				FilePath:   c.FilePath,
				Identifier: c.Identifier,
			}
		}
		if err := s.idx.Insert(ctx, vectors, metas); err != nil {
			return fmt.Errorf("index chunks: %w", err)
		}

		if err := s.store.PutChunks(ctx, chunks); err != nil {
			return fmt.Errorf("store chunks: %w", err)
		}
	}
	if len(edges) > 0 {
		if err := s.store.PutCallEdges(ctx, edges); err != nil {
			return fmt.Errorf("store call edges: %w", err)
		}
	}
	for _, fr := range results {
		if err := s.store.PutFile(ctx, fr.record); err != nil {
			return fmt.Errorf("store file %s: %w", fr.filePath, err)
		}
	}

	record := datatypes.RepositoryRecord{
		ID:                 repoID,
		URL:                repoURL,
		Branch:             branch,
		FilesProcessed:     len(results),
		FunctionsExtracted: functions,
		IngestedAt:         ingestedAt,
		UpdatedAt:          time.Now().UTC(),
		Module:             s.modulePath(repoPath),
	}
	if err := s.store.PutRepository(ctx, record); err != nil {
		return fmt.Errorf("store repository: %w", err)
	}

	if s.snapshotDir != "" {
		if err := s.idx.Save(ctx, s.snapshotDir); err != nil {
			return fmt.Errorf("save index snapshot: %w", err)
		}
	}
	return nil
}

// modulePath reads the repository's go.mod module path, empty when the
// repository has none.
func (s *Service) modulePath(repoPath string) string {
	if repoPath == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(repoPath, "go.mod"))
	if err != nil {
		return ""
	}
	return GoModulePath(data)
}

// Delete removes a repository's records, vectors, and checkout.
//
// Outputs:
//
//	*DeleteResult - Counts of deleted records and vectors.
//	error - storage.ErrNotFound (wrapped) when the repository is
//	unknown; other errors when deletion fails partway.
func (s *Service) Delete(ctx context.Context, repoID string) (*DeleteResult, error) {
	start := time.Now()
	ctx, span := startOperationSpan(ctx, "Delete")
	defer span.End()

	if _, err := s.store.GetRepository(ctx, repoID); err != nil {
		recordOperation(ctx, "delete", time.Since(start), false)
		return nil, err
	}

	records, err := s.store.DeleteRepository(ctx, repoID)
	if err != nil {
		recordOperation(ctx, "delete", time.Since(start), false)
		return nil, fmt.Errorf("delete repository records: %w", err)
	}

	vectors, err := s.idx.DeleteScope(ctx, repoID)
	if err != nil {
		recordOperation(ctx, "delete", time.Since(start), false)
		return nil, fmt.Errorf("delete repository vectors: %w", err)
	}

	if _, err := s.loader.Delete(repoID); err != nil {
		s.logger.Warn("failed to remove checkout",
			slog.String("repo_id", repoID),
			slog.String("error", err.Error()),
		)
	}

	if s.snapshotDir != "" {
		if err := s.idx.Save(ctx, s.snapshotDir); err != nil {
			recordOperation(ctx, "delete", time.Since(start), false)
			return nil, fmt.Errorf("save index snapshot: %w", err)
		}
	}

	recordOperation(ctx, "delete", time.Since(start), true)
	s.logger.Info("repository deleted",
		slog.String("repo_id", repoID),
		slog.Int("records", records),
		slog.Int("vectors", vectors),
	)
	return &DeleteResult{RecordsDeleted: records, VectorsDeleted: vectors}, nil
}
