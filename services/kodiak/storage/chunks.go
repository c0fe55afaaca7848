// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
)

// PutChunks stores a batch of chunk records with their identifier index
// entries.
//
// Description:
//
//	Writes each record under its chunk key and, for records with a symbol
//	name, an ident pointer for exact-name lookup. Large batches roll over
//	transaction boundaries transparently; records committed before a
//	rollover stay committed if a later record fails.
//
// Inputs:
//
//	ctx - Context, checked before the write starts.
//	chunks - Records to store. Records without an ID are rejected.
//
// Outputs:
//
//	error - Validation or write failure.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) PutChunks(ctx context.Context, chunks []datatypes.ChunkRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return ErrClosed
	}

	txn := s.newRollingTxn()
	defer txn.Discard()

	for i := range chunks {
		chunk := &chunks[i]
		if chunk.ID == "" {
			return fmt.Errorf("chunk %d has no ID", i)
		}
		val, err := json.Marshal(chunk)
		if err != nil {
			return fmt.Errorf("encode chunk %s: %w", chunk.ID, err)
		}
		if err := txn.Set(chunkKey(chunk.ID), val); err != nil {
			return fmt.Errorf("store chunk %s: %w", chunk.ID, err)
		}
		if chunk.Identifier != "" && chunk.RepoID != "" {
			if err := txn.Set(identKey(chunk.RepoID, chunk.Identifier), []byte(chunk.ID)); err != nil {
				return fmt.Errorf("index chunk %s: %w", chunk.ID, err)
			}
		}
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}
	s.logger.Debug("chunks stored", slog.Int("count", len(chunks)))
	return nil
}

// PutCallEdges stores the call-graph edges for a repository.
//
// Description:
//
//	Each edge is written twice: once under the caller's callee namespace
//	and once under the callee's caller namespace, so both directions scan
//	with a single prefix. Sequence numbers preserve call-site order.
//	Ingestion writes a repository's full edge set in one call; partial
//	rewrites would leave stale higher sequences behind.
//
// Inputs:
//
//	ctx - Context, checked before the write starts.
//	edges - Edges to store, in call-site order.
//
// Outputs:
//
//	error - Write failure.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) PutCallEdges(ctx context.Context, edges []datatypes.CallEdgeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return ErrClosed
	}

	txn := s.newRollingTxn()
	defer txn.Discard()

	for i := range edges {
		edge := &edges[i]
		val, err := json.Marshal(edge)
		if err != nil {
			return fmt.Errorf("encode edge %d: %w", i, err)
		}
		if err := txn.Set(calleeEdgeKey(edge.RepoID, edge.CallerIdentifier, i), val); err != nil {
			return fmt.Errorf("store callee edge %d: %w", i, err)
		}
		if err := txn.Set(callerEdgeKey(edge.RepoID, edge.CalleeIdentifier, i), val); err != nil {
			return fmt.Errorf("store caller edge %d: %w", i, err)
		}
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit edges: %w", err)
	}
	s.logger.Debug("call edges stored", slog.Int("count", len(edges)))
	return nil
}

// GetChunkByID returns the stored record for a chunk ID, without graph
// overlay. A missing chunk, or one belonging to another repository, is
// (nil, nil).
func (s *Store) GetChunkByID(ctx context.Context, chunkID, repoID string) (*datatypes.ChunkRecord, error) {
	var record *datatypes.ChunkRecord
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		record, err = getChunkLocked(txn, chunkID, repoID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// GetChunkByIdentifier returns the record for an exact symbol name, with
// its caller and callee relations populated from the call edges. A symbol
// with no record is (nil, nil).
func (s *Store) GetChunkByIdentifier(ctx context.Context, repoID, identifier string) (*datatypes.ChunkRecord, error) {
	var record *datatypes.ChunkRecord
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(identKey(repoID, identifier))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var chunkID string
		if err := item.Value(func(val []byte) error {
			chunkID = string(val)
			return nil
		}); err != nil {
			return err
		}

		record, err = getChunkLocked(txn, chunkID, repoID)
		if err != nil || record == nil {
			return err
		}
		return attachGraphLocked(txn, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// GetChunkWithGraph returns the record for a chunk ID with its caller and
// callee relations populated from the call edges. A missing chunk is
// (nil, nil).
func (s *Store) GetChunkWithGraph(ctx context.Context, chunkID, repoID string) (*datatypes.ChunkRecord, error) {
	var record *datatypes.ChunkRecord
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		record, err = getChunkLocked(txn, chunkID, repoID)
		if err != nil || record == nil {
			return err
		}
		return attachGraphLocked(txn, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListChunksByFile returns every chunk extracted from one source file, in
// start-line order.
//
// Description:
//
//	Chunk keys carry no file information, so this scans the full chunk
//	namespace and filters. Diff impact analysis is the only caller; it
//	runs per reviewed diff, not per query, so the scan cost is
//	acceptable.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	repoID - Owning repository.
//	filePath - Path relative to the repository root.
//
// Outputs:
//
//	[]datatypes.ChunkRecord - Matching chunks sorted by start line.
//	   Never nil.
//	error - Scan failure.
func (s *Store) ListChunksByFile(ctx context.Context, repoID, filePath string) ([]datatypes.ChunkRecord, error) {
	chunks := make([]datatypes.ChunkRecord, 0)
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(chunkKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record datatypes.ChunkRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if record.RepoID == repoID && record.FilePath == filePath {
				chunks = append(chunks, record)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].StartLine < chunks[j].StartLine })
	return chunks, nil
}

// getChunkLocked reads one chunk inside a transaction, filtering by
// repository ownership.
func getChunkLocked(txn *badger.Txn, chunkID, repoID string) (*datatypes.ChunkRecord, error) {
	var record datatypes.ChunkRecord
	found, err := getJSON(txn, chunkKey(chunkID), &record)
	if err != nil {
		return nil, err
	}
	if !found || record.RepoID != repoID {
		return nil, nil
	}
	return &record, nil
}

// attachGraphLocked replaces the record's caller and callee lists with the
// relations recorded in the edge keys. Edges are authoritative; a unit
// with no edges gets empty lists.
func attachGraphLocked(txn *badger.Txn, record *datatypes.ChunkRecord) error {
	callers, err := scanEdgeNames(txn, edgeScanPrefix(callerKeyPrefix, record.RepoID, record.Identifier),
		func(e *datatypes.CallEdgeRecord) string { return e.CallerIdentifier })
	if err != nil {
		return fmt.Errorf("scan callers of %s: %w", record.Identifier, err)
	}
	callees, err := scanEdgeNames(txn, edgeScanPrefix(calleeKeyPrefix, record.RepoID, record.Identifier),
		func(e *datatypes.CallEdgeRecord) string { return e.CalleeIdentifier })
	if err != nil {
		return fmt.Errorf("scan callees of %s: %w", record.Identifier, err)
	}
	record.Callers = callers
	record.Callees = callees
	return nil
}

// scanEdgeNames collects distinct identifier names from the edges under a
// prefix, in sequence order.
func scanEdgeNames(txn *badger.Txn, prefix []byte, name func(*datatypes.CallEdgeRecord) string) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true

	it := txn.NewIterator(opts)
	defer it.Close()

	names := make([]string, 0)
	seen := make(map[string]struct{})
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var edge datatypes.CallEdgeRecord
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &edge)
		})
		if err != nil {
			return nil, fmt.Errorf("decode edge %s: %w", it.Item().Key(), err)
		}
		n := name(&edge)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}
	return names, nil
}
