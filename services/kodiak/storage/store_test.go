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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testChunk(id, repoID, identifier string) datatypes.ChunkRecord {
	return datatypes.ChunkRecord{
		ID:         id,
		RepoID:     repoID,
		FilePath:   "src/" + identifier + ".py",
		Identifier: identifier,
		ChunkType:  datatypes.ChunkTypeFunction,
		Language:   datatypes.LanguagePython,
		Code:       "def " + identifier + "(): pass",
		StartLine:  1,
		EndLine:    2,
	}
}

// TestPutChunksAndGetByID verifies round-tripping chunk records by ID and
// the miss semantics for unknown and foreign chunks.
func TestPutChunksAndGetByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	chunk := testChunk("c-login", "repo-a", "login")
	chunk.Dependencies = []string{"jwt", "db"}
	require.NoError(t, store.PutChunks(ctx, []datatypes.ChunkRecord{chunk}))

	got, err := store.GetChunkByID(ctx, "c-login", "repo-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, chunk, *got)

	// Unknown chunk is a miss, not an error.
	got, err = store.GetChunkByID(ctx, "c-ghost", "repo-a")
	require.NoError(t, err)
	assert.Nil(t, got)

	// A chunk owned by another repository is also a miss.
	got, err = store.GetChunkByID(ctx, "c-login", "repo-b")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// TestPutChunksRejectsMissingID verifies the batch is validated before
// committing.
func TestPutChunksRejectsMissingID(t *testing.T) {
	store := newTestStore(t)

	err := store.PutChunks(context.Background(), []datatypes.ChunkRecord{{RepoID: "repo-a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ID")
}

// TestGetChunkByIdentifier verifies exact-name lookup resolves through the
// identifier index and carries the call graph.
func TestGetChunkByIdentifier(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutChunks(ctx, []datatypes.ChunkRecord{
		testChunk("c-login", "repo-a", "login"),
		testChunk("c-validate", "repo-a", "validate_token"),
	}))
	require.NoError(t, store.PutCallEdges(ctx, []datatypes.CallEdgeRecord{
		{RepoID: "repo-a", CallerIdentifier: "login", CalleeIdentifier: "validate_token", CallType: datatypes.CallTypeDirect},
		{RepoID: "repo-a", CallerIdentifier: "handler", CalleeIdentifier: "login", CallType: datatypes.CallTypeDirect},
	}))

	got, err := store.GetChunkByIdentifier(ctx, "repo-a", "login")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "c-login", got.ID)
	assert.Equal(t, []string{"handler"}, got.Callers)
	assert.Equal(t, []string{"validate_token"}, got.Callees)

	// Unknown identifiers are a miss, not an error.
	got, err = store.GetChunkByIdentifier(ctx, "repo-a", "logout")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Identifiers are scoped per repository.
	got, err = store.GetChunkByIdentifier(ctx, "repo-b", "login")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// TestGetChunkWithGraph verifies edge records, not the stored chunk fields,
// decide the caller and callee lists.
func TestGetChunkWithGraph(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	chunk := testChunk("c-login", "repo-a", "login")
	chunk.Callers = []string{"stale_caller"}
	chunk.Callees = []string{"stale_callee"}
	require.NoError(t, store.PutChunks(ctx, []datatypes.ChunkRecord{chunk}))
	require.NoError(t, store.PutCallEdges(ctx, []datatypes.CallEdgeRecord{
		{RepoID: "repo-a", CallerIdentifier: "login", CalleeIdentifier: "validate_token", CallType: datatypes.CallTypeDirect},
		{RepoID: "repo-a", CallerIdentifier: "login", CalleeIdentifier: "create_session", CallType: datatypes.CallTypeDirect},
		{RepoID: "repo-a", CallerIdentifier: "handler", CalleeIdentifier: "login", CallType: datatypes.CallTypeDirect},
	}))

	got, err := store.GetChunkWithGraph(ctx, "c-login", "repo-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"handler"}, got.Callers)
	assert.Equal(t, []string{"validate_token", "create_session"}, got.Callees)

	// The plain getter leaves the stored fields alone.
	got, err = store.GetChunkByID(ctx, "c-login", "repo-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"stale_caller"}, got.Callers)
}

// TestCallEdgeOrderAndDedupe verifies call-site order survives storage and
// duplicate relations collapse to their first occurrence.
func TestCallEdgeOrderAndDedupe(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutChunks(ctx, []datatypes.ChunkRecord{
		testChunk("c-main", "repo-a", "main"),
	}))
	require.NoError(t, store.PutCallEdges(ctx, []datatypes.CallEdgeRecord{
		{RepoID: "repo-a", CallerIdentifier: "main", CalleeIdentifier: "setup", CallType: datatypes.CallTypeDirect},
		{RepoID: "repo-a", CallerIdentifier: "main", CalleeIdentifier: "run", CallType: datatypes.CallTypeDirect},
		{RepoID: "repo-a", CallerIdentifier: "main", CalleeIdentifier: "setup", CallType: datatypes.CallTypeDirect},
		{RepoID: "repo-a", CallerIdentifier: "main", CalleeIdentifier: "teardown", CallType: datatypes.CallTypeDirect},
	}))

	got, err := store.GetChunkWithGraph(ctx, "c-main", "repo-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"setup", "run", "teardown"}, got.Callees)
}

// TestListChunksByFile verifies file-scoped listing filters by repository
// and path and sorts by start line.
func TestListChunksByFile(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	late := testChunk("c-late", "repo-a", "late")
	late.FilePath = "src/auth.py"
	late.StartLine, late.EndLine = 40, 60
	early := testChunk("c-early", "repo-a", "early")
	early.FilePath = "src/auth.py"
	early.StartLine, early.EndLine = 1, 20
	other := testChunk("c-other", "repo-a", "other")
	other.FilePath = "src/db.py"
	foreign := testChunk("c-foreign", "repo-b", "foreign")
	foreign.FilePath = "src/auth.py"

	require.NoError(t, store.PutChunks(ctx, []datatypes.ChunkRecord{late, early, other, foreign}))

	chunks, err := store.ListChunksByFile(ctx, "repo-a", "src/auth.py")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "c-early", chunks[0].ID)
	assert.Equal(t, "c-late", chunks[1].ID)

	chunks, err = store.ListChunksByFile(ctx, "repo-a", "src/missing.py")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

// TestRepositoryLifecycle verifies repository record round-trips, listing,
// and the not-found sentinel.
func TestRepositoryLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repoA := datatypes.RepositoryRecord{
		ID: "repo-a", URL: "https://github.com/acme/a", Branch: "main",
		FilesProcessed: 3, FunctionsExtracted: 12, IngestedAt: now, UpdatedAt: now,
	}
	repoB := datatypes.RepositoryRecord{ID: "repo-b", URL: "https://github.com/acme/b", Branch: "main"}

	require.NoError(t, store.PutRepository(ctx, repoB))
	require.NoError(t, store.PutRepository(ctx, repoA))

	got, err := store.GetRepository(ctx, "repo-a")
	require.NoError(t, err)
	assert.Equal(t, repoA, *got)

	_, err = store.GetRepository(ctx, "repo-missing")
	require.ErrorIs(t, err, ErrNotFound)

	repos, err := store.ListRepositories(ctx)
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "repo-a", repos[0].ID)
	assert.Equal(t, "repo-b", repos[1].ID)
}

// TestFileLifecycle verifies file record round-trips and the not-found
// sentinel.
func TestFileLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	file := datatypes.FileRecord{
		RepoID:    "repo-a",
		FilePath:  "src/auth.py",
		Language:  datatypes.LanguagePython,
		Content:   "def login(): pass\n",
		SizeBytes: 18,
		LineCount: 1,
		Imports:   []string{"jwt"},
	}
	require.NoError(t, store.PutFile(ctx, file))

	got, err := store.GetFile(ctx, "repo-a", "src/auth.py")
	require.NoError(t, err)
	assert.Equal(t, file, *got)

	_, err = store.GetFile(ctx, "repo-a", "src/missing.py")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetFile(ctx, "repo-b", "src/auth.py")
	require.ErrorIs(t, err, ErrNotFound)
}

// TestDeleteRepository verifies deletion removes every namespace for the
// repository and leaves other repositories alone.
func TestDeleteRepository(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutChunks(ctx, []datatypes.ChunkRecord{
		testChunk("c-a1", "repo-a", "login"),
		testChunk("c-a2", "repo-a", "logout"),
		testChunk("c-b1", "repo-b", "parse"),
	}))
	require.NoError(t, store.PutCallEdges(ctx, []datatypes.CallEdgeRecord{
		{RepoID: "repo-a", CallerIdentifier: "login", CalleeIdentifier: "logout", CallType: datatypes.CallTypeDirect},
	}))
	require.NoError(t, store.PutFile(ctx, datatypes.FileRecord{RepoID: "repo-a", FilePath: "src/auth.py"}))
	require.NoError(t, store.PutRepository(ctx, datatypes.RepositoryRecord{ID: "repo-a"}))
	require.NoError(t, store.PutRepository(ctx, datatypes.RepositoryRecord{ID: "repo-b"}))

	deleted, err := store.DeleteRepository(ctx, "repo-a")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	got, err := store.GetChunkByID(ctx, "c-a1", "repo-a")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.GetChunkByIdentifier(ctx, "repo-a", "login")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = store.GetFile(ctx, "repo-a", "src/auth.py")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetRepository(ctx, "repo-a")
	require.ErrorIs(t, err, ErrNotFound)

	// The other repository is intact.
	got, err = store.GetChunkByID(ctx, "c-b1", "repo-b")
	require.NoError(t, err)
	require.NotNil(t, got)

	_, err = store.GetRepository(ctx, "repo-b")
	require.NoError(t, err)
}

// TestDeleteRepositoryUnknown verifies deleting a repository that was never
// ingested reports zero chunks without error.
func TestDeleteRepositoryUnknown(t *testing.T) {
	store := newTestStore(t)

	deleted, err := store.DeleteRepository(context.Background(), "repo-missing")
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

// TestClosedStore verifies operations after Close fail with ErrClosed.
func TestClosedStore(t *testing.T) {
	store, err := NewStore(InMemoryConfig())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Close is idempotent.
	require.NoError(t, store.Close())

	ctx := context.Background()
	_, err = store.GetChunkByID(ctx, "c-1", "repo-a")
	require.ErrorIs(t, err, ErrClosed)

	err = store.PutChunks(ctx, []datatypes.ChunkRecord{testChunk("c-1", "repo-a", "f")})
	require.ErrorIs(t, err, ErrClosed)
}

// TestContextCancellation verifies a cancelled context short-circuits
// before touching the database.
func TestContextCancellation(t *testing.T) {
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.GetChunkByID(ctx, "c-1", "repo-a")
	require.ErrorIs(t, err, context.Canceled)
}
