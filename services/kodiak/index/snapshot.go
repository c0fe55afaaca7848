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
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"
)

// Snapshot artifact names inside a snapshot directory.
const (
	// VectorsFile holds the raw little-endian float32 vector payload.
	VectorsFile = "vectors.bin"

	// MetadataFile holds the metadata entries, scope map, and dimension.
	MetadataFile = "metadata.json"

	// LockFile is the advisory lock guarding concurrent snapshot writers.
	LockFile = ".kodiak.lock"
)

// snapshotMetadata is the on-disk form of everything but the vectors.
// The dimension is bundled here so Load can restore it authoritatively.
type snapshotMetadata struct {
	Dimension int              `json:"dimension"`
	Entries   []EntryMeta      `json:"entries"`
	Scopes    map[string][]int `json:"scopes"`
}

// Save persists the index state under dir as two co-located artifacts:
// the raw vector payload and the metadata payload.
//
// Description:
//
//	Both artifacts are written to temporary files and renamed into place,
//	so a crashed save never leaves a half-written artifact under its final
//	name. An advisory file lock on the directory excludes concurrent
//	writers from other processes; readers are excluded by the index lock
//	within this process only.
//
// Inputs:
//
//	ctx - Context for tracing.
//	dir - Snapshot directory, created if absent.
//
// Outputs:
//
//	error - ErrSnapshotLocked when another process holds the directory
//	        lock, otherwise the underlying I/O error.
//
// Thread Safety: Safe for concurrent use.
func (idx *Index) Save(ctx context.Context, dir string) error {
	ctx, span := startOperationSpan(ctx, "Save")
	defer span.End()
	start := time.Now()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		recordOperation(ctx, "save", time.Since(start), false)
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	lock, err := acquireDirLock(filepath.Join(dir, LockFile))
	if err != nil {
		recordOperation(ctx, "save", time.Since(start), false)
		return err
	}
	defer lock.release()

	idx.mu.RLock()
	payload := encodeVectors(idx.data)
	meta := snapshotMetadata{
		Dimension: idx.dimension,
		Entries:   append([]EntryMeta(nil), idx.metadata...),
		Scopes:    make(map[string][]int, len(idx.scopes)),
	}
	for repo, positions := range idx.scopes {
		meta.Scopes[repo] = append([]int(nil), positions...)
	}
	idx.mu.RUnlock()

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		recordOperation(ctx, "save", time.Since(start), false)
		return fmt.Errorf("marshal snapshot metadata: %w", err)
	}

	if err := writeFileAtomic(filepath.Join(dir, VectorsFile), payload); err != nil {
		recordOperation(ctx, "save", time.Since(start), false)
		return fmt.Errorf("write vector payload: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, MetadataFile), metaBytes); err != nil {
		recordOperation(ctx, "save", time.Since(start), false)
		return fmt.Errorf("write metadata payload: %w", err)
	}

	idx.options.Logger.Info("index snapshot saved",
		slog.String("dir", dir),
		slog.Int("vectors", len(meta.Entries)),
	)
	recordOperation(ctx, "save", time.Since(start), true)
	return nil
}

// Load replaces the index state from a snapshot directory.
//
// Description:
//
//	Reads both artifacts, validates that they are consistent with each
//	other, and swaps the full state, including the dimension, under the
//	write lock. On any error the index keeps its previous state.
//
// Inputs:
//
//	ctx - Context for tracing.
//	dir - Snapshot directory.
//
// Outputs:
//
//	error - ErrSnapshotNotFound when either artifact is missing,
//	        ErrSnapshotCorrupt when the artifacts disagree with each
//	        other, otherwise the underlying I/O or decode error.
//
// Thread Safety: Safe for concurrent use; excludes all reads while the
// state is swapped.
func (idx *Index) Load(ctx context.Context, dir string) error {
	ctx, span := startOperationSpan(ctx, "Load")
	defer span.End()
	start := time.Now()

	metaBytes, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		recordOperation(ctx, "load", time.Since(start), false)
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSnapshotNotFound, MetadataFile)
		}
		return fmt.Errorf("read metadata payload: %w", err)
	}

	payload, err := os.ReadFile(filepath.Join(dir, VectorsFile))
	if err != nil {
		recordOperation(ctx, "load", time.Since(start), false)
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSnapshotNotFound, VectorsFile)
		}
		return fmt.Errorf("read vector payload: %w", err)
	}

	var meta snapshotMetadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		recordOperation(ctx, "load", time.Since(start), false)
		return fmt.Errorf("%w: decode metadata: %v", ErrSnapshotCorrupt, err)
	}
	if meta.Dimension < 1 {
		recordOperation(ctx, "load", time.Since(start), false)
		return fmt.Errorf("%w: dimension %d", ErrSnapshotCorrupt, meta.Dimension)
	}
	if len(payload)%4 != 0 {
		recordOperation(ctx, "load", time.Since(start), false)
		return fmt.Errorf("%w: vector payload is %d bytes", ErrSnapshotCorrupt, len(payload))
	}

	data := decodeVectors(payload)
	if len(data) != len(meta.Entries)*meta.Dimension {
		recordOperation(ctx, "load", time.Since(start), false)
		return fmt.Errorf("%w: %d floats for %d entries of dimension %d",
			ErrSnapshotCorrupt, len(data), len(meta.Entries), meta.Dimension)
	}
	for repo, positions := range meta.Scopes {
		for _, p := range positions {
			if p < 0 || p >= len(meta.Entries) {
				recordOperation(ctx, "load", time.Since(start), false)
				return fmt.Errorf("%w: scope %q references position %d of %d",
					ErrSnapshotCorrupt, repo, p, len(meta.Entries))
			}
		}
	}
	if meta.Scopes == nil {
		meta.Scopes = make(map[string][]int)
	}

	idx.mu.Lock()
	idx.dimension = meta.Dimension
	idx.data = data
	idx.metadata = meta.Entries
	idx.scopes = meta.Scopes
	total := len(idx.metadata)
	idx.mu.Unlock()

	idx.options.Logger.Info("index snapshot loaded",
		slog.String("dir", dir),
		slog.Int("vectors", total),
		slog.Int("dimension", meta.Dimension),
	)
	recordOperation(ctx, "load", time.Since(start), true)
	recordVectorCount(ctx, total)
	return nil
}

// encodeVectors serializes the flat store as little-endian float32 bits.
func encodeVectors(data []float32) []byte {
	out := make([]byte, len(data)*4)
	for i, f := range data {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// decodeVectors is the inverse of encodeVectors. The caller must have
// checked that len(payload) is a multiple of 4.
func decodeVectors(payload []byte) []float32 {
	out := make([]float32, len(payload)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
	}
	return out
}

// writeFileAtomic writes data to a temporary file in the target's directory
// and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
