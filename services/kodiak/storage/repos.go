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
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
)

// PutRepository stores or replaces a repository record.
func (s *Store) PutRepository(ctx context.Context, record datatypes.RepositoryRecord) error {
	if record.ID == "" {
		return fmt.Errorf("repository record has no ID")
	}
	val, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode repository %s: %w", record.ID, err)
	}
	return s.withTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(repoKey(record.ID), val)
	})
}

// GetRepository returns a repository record, or ErrNotFound.
func (s *Store) GetRepository(ctx context.Context, repoID string) (*datatypes.RepositoryRecord, error) {
	var record datatypes.RepositoryRecord
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		found, err := getJSON(txn, repoKey(repoID), &record)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: repository %s", ErrNotFound, repoID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListRepositories returns all repository records in ID order.
func (s *Store) ListRepositories(ctx context.Context) ([]datatypes.RepositoryRecord, error) {
	records := make([]datatypes.RepositoryRecord, 0)
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(repoKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record datatypes.RepositoryRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// PutFile stores or replaces a source file record.
func (s *Store) PutFile(ctx context.Context, record datatypes.FileRecord) error {
	if record.RepoID == "" || record.FilePath == "" {
		return fmt.Errorf("file record needs repo ID and path")
	}
	val, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode file %s: %w", record.FilePath, err)
	}
	return s.withTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(fileKey(record.RepoID, record.FilePath), val)
	})
}

// GetFile returns a stored source file, or ErrNotFound.
func (s *Store) GetFile(ctx context.Context, repoID, filePath string) (*datatypes.FileRecord, error) {
	var record datatypes.FileRecord
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		found, err := getJSON(txn, fileKey(repoID, filePath), &record)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: file %s in repository %s", ErrNotFound, filePath, repoID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteRepository removes a repository and everything stored for it.
//
// Description:
//
//	Collects the repository's chunk, identifier, edge, and file keys in a
//	read transaction, then deletes them in a rolling write transaction.
//	Chunk keys are not repo-prefixed, so chunks are found by decoding
//	every chunk record and matching the repo ID. Deleting a repository
//	that was never ingested is not an error.
//
// Inputs:
//
//	ctx - Context, checked before each phase.
//	repoID - Repository to delete.
//
// Outputs:
//
//	int - Number of chunk records deleted.
//	error - Scan or delete failure. Badger deletes are idempotent, so a
//	   retry after a partial failure completes the removal.
//
// Thread Safety: Safe for concurrent use. Writes that race the delete may
// leave records behind; callers serialize ingestion against deletion.
func (s *Store) DeleteRepository(ctx context.Context, repoID string) (int, error) {
	var keys [][]byte
	chunkCount := 0

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
			if record.RepoID != repoID {
				continue
			}
			keys = append(keys, it.Item().KeyCopy(nil))
			chunkCount++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan chunks: %w", err)
	}

	scoped := [][]byte{
		[]byte(identKeyPrefix + repoID + ":"),
		[]byte(calleeKeyPrefix + repoID + ":"),
		[]byte(callerKeyPrefix + repoID + ":"),
		[]byte(fileKeyPrefix + repoID + ":"),
	}
	for _, prefix := range scoped {
		scanned, err := s.collectKeys(ctx, prefix)
		if err != nil {
			return 0, fmt.Errorf("scan %s: %w", prefix, err)
		}
		keys = append(keys, scanned...)
	}
	keys = append(keys, repoKey(repoID))

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.db.IsClosed() {
		return 0, ErrClosed
	}

	txn := s.newRollingTxn()
	defer txn.Discard()
	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return 0, fmt.Errorf("delete %s: %w", key, err)
		}
	}
	if err := txn.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete: %w", err)
	}

	s.logger.Info("repository deleted",
		slog.String("repo_id", repoID),
		slog.Int("chunks", chunkCount),
		slog.Int("keys", len(keys)),
	)
	return chunkCount, nil
}

// collectKeys returns copies of every key under a prefix.
func (s *Store) collectKeys(ctx context.Context, prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
