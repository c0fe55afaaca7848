// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage implements the Badger-backed metadata store for chunk
// records, call-graph edges, file contents, and repository records.
//
// # Key scheme
//
// All values are JSON. Repository IDs and identifiers must not contain a
// colon; repository IDs are validated upstream and identifiers are parsed
// symbol names, which cannot contain one in the supported languages.
//
//	chunk:<id>                              ChunkRecord
//	ident:<repo>:<name>                     chunk ID for a symbol name
//	edge:callee:<repo>:<identifier>:<seq>   CallEdgeRecord (callees of identifier)
//	edge:caller:<repo>:<identifier>:<seq>   CallEdgeRecord (callers of identifier)
//	file:<repo>:<path>                      FileRecord
//	repo:<id>                               RepositoryRecord
//
// Call edges, not the stored chunk fields, are the source of truth for the
// caller/callee relations: graph-aware reads rebuild both lists from the
// edge keys, the same way the relational original joined its call-graph
// table at read time.
//
// # Not-found semantics
//
// Chunk getters implement the retrieval read contract and report a miss as
// (nil, nil). Repository and file getters serve admin and HTTP paths that
// need a 404 distinction and return ErrNotFound instead.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for the store's namespaces.
const (
	chunkKeyPrefix  = "chunk:"
	identKeyPrefix  = "ident:"
	calleeKeyPrefix = "edge:callee:"
	callerKeyPrefix = "edge:caller:"
	fileKeyPrefix   = "file:"
	repoKeyPrefix   = "repo:"
)

// Store is the metadata store.
//
// Thread Safety:
//
//	Safe for concurrent use; Badger provides snapshot-isolated
//	transactions. Close may be called once, concurrently with readers,
//	which then fail with ErrClosed.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
	gcDone    chan struct{}
}

// NewStore opens the metadata store.
//
// Description:
//
//	Opens the Badger database per the configuration and, for persistent
//	stores with a GC interval, starts a background value-log GC loop that
//	runs until Close.
//
// Inputs:
//
//	cfg - Store configuration.
//
// Outputs:
//
//	*Store - The open store. Caller must Close it.
//	error - Open failure.
func NewStore(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:     db,
		logger: logger,
		closed: make(chan struct{}),
		gcDone: make(chan struct{}),
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	} else {
		close(s.gcDone)
	}

	s.logger.Info("metadata store opened",
		slog.String("path", cfg.Path),
		slog.Bool("in_memory", cfg.InMemory),
	)
	return s, nil
}

// Close stops background GC and closes the database. Safe to call more
// than once.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		<-s.gcDone
		err = s.db.Close()
	})
	return err
}

// runGC triggers value log GC on a ticker until the store closes.
func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			switch {
			case err == nil:
				s.logger.Debug("value log GC completed")
			case errors.Is(err, badger.ErrNoRewrite):
				// Nothing worth collecting.
			default:
				s.logger.Warn("value log GC failed", slog.String("error", err.Error()))
			}
		}
	}
}

// withTxn runs fn in a read-write transaction and commits on success.
func (s *Store) withTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return ErrClosed
	}

	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// withReadTxn runs fn in a read-only transaction.
func (s *Store) withReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return ErrClosed
	}

	txn := s.db.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}

// rollingTxn is a read-write transaction that transparently commits and
// reopens itself when Badger reports it has grown too big, so bulk writes
// are not bounded by the transaction size limit. Entries written before a
// rollover are already committed even if a later write fails.
type rollingTxn struct {
	db  *badger.DB
	txn *badger.Txn
}

func (s *Store) newRollingTxn() *rollingTxn {
	return &rollingTxn{db: s.db, txn: s.db.NewTransaction(true)}
}

func (r *rollingTxn) Set(key, val []byte) error {
	err := r.txn.Set(key, val)
	if !errors.Is(err, badger.ErrTxnTooBig) {
		return err
	}
	if err := r.roll(); err != nil {
		return err
	}
	return r.txn.Set(key, val)
}

func (r *rollingTxn) Delete(key []byte) error {
	err := r.txn.Delete(key)
	if !errors.Is(err, badger.ErrTxnTooBig) {
		return err
	}
	if err := r.roll(); err != nil {
		return err
	}
	return r.txn.Delete(key)
}

func (r *rollingTxn) roll() error {
	if err := r.txn.Commit(); err != nil {
		return fmt.Errorf("commit full transaction: %w", err)
	}
	r.txn = r.db.NewTransaction(true)
	return nil
}

func (r *rollingTxn) Commit() error {
	return r.txn.Commit()
}

func (r *rollingTxn) Discard() {
	r.txn.Discard()
}

// getJSON reads and decodes one key within a transaction. The found flag
// is false when the key does not exist.
func getJSON(txn *badger.Txn, key []byte, out any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
	if err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Key constructors. Seq keys are zero-padded so lexicographic key order is
// numeric order.

func chunkKey(chunkID string) []byte {
	return []byte(chunkKeyPrefix + chunkID)
}

func identKey(repoID, identifier string) []byte {
	return []byte(identKeyPrefix + repoID + ":" + identifier)
}

func calleeEdgeKey(repoID, identifier string, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%08d", calleeKeyPrefix, repoID, identifier, seq))
}

func callerEdgeKey(repoID, identifier string, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%08d", callerKeyPrefix, repoID, identifier, seq))
}

func edgeScanPrefix(kind, repoID, identifier string) []byte {
	return []byte(kind + repoID + ":" + identifier + ":")
}

func fileKey(repoID, filePath string) []byte {
	return []byte(fileKeyPrefix + repoID + ":" + filePath)
}

func repoKey(repoID string) []byte {
	return []byte(repoKeyPrefix + repoID)
}
