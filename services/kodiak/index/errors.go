// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index provides the exact nearest-neighbor vector index over code
// chunk embeddings.
//
// The index owns embedding vectors and their per-vector metadata. It supports
// insertion, exact similarity search (optionally scoped to one repository),
// deletion of a whole repository scope via full rebuild, snapshot
// save/load, and statistics.
//
// # Ownership Model
//
// The index copies vectors and metadata on insert and never exposes its
// backing store. Positions in the backing store are the implicit entry keys;
// a rebuild renumbers every surviving entry and reconstructs the scope map,
// so positions must never be held across a DeleteScope or Load.
//
// # Thread Safety
//
// Index is safe for concurrent use. Insert, DeleteScope, and Load take the
// exclusive lock; Search and Stats take the shared lock. A reader therefore
// observes either the state before or after a rebuild, never a partial one.
package index

import "errors"

// Sentinel errors for vector index operations.
var (
	// ErrDimensionMismatch is returned when a vector's length differs from
	// the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrArityMismatch is returned when Insert receives vector and metadata
	// lists of differing lengths.
	ErrArityMismatch = errors.New("vectors and metadata length mismatch")

	// ErrInvalidDimension is returned when an index is constructed with a
	// non-positive dimension.
	ErrInvalidDimension = errors.New("dimension must be positive")

	// ErrSnapshotNotFound is returned by Load when the vector payload or
	// the metadata payload is missing from the snapshot directory.
	ErrSnapshotNotFound = errors.New("snapshot artifact not found")

	// ErrSnapshotCorrupt is returned by Load when the snapshot artifacts
	// are present but inconsistent with each other.
	ErrSnapshotCorrupt = errors.New("snapshot corrupt")

	// ErrSnapshotLocked is returned when another process holds the
	// snapshot directory lock.
	ErrSnapshotLocked = errors.New("snapshot directory locked by another process")
)
