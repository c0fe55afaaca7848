// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package integration exercises the real ingestion pipeline end to end:
// a git fixture repository is cloned, parsed, chunked, embedded with a
// deterministic stand-in embedder, and indexed, then queried back
// through the store and the reasoner. The OpenAI clients are the only
// components replaced by fakes.
package integration

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
	"github.com/AleutianAI/Kodiak/services/kodiak/index"
	"github.com/AleutianAI/Kodiak/services/kodiak/ingest"
	"github.com/AleutianAI/Kodiak/services/kodiak/reason"
	"github.com/AleutianAI/Kodiak/services/kodiak/retrieve"
	"github.com/AleutianAI/Kodiak/services/kodiak/storage"
)

const (
	testDimension = 8
	fixtureRepoID = "fixture_repo"
)

// fixtureSource is the single Go file committed to the fixture
// repository: Run calls Greet, giving the call graph one edge.
const fixtureSource = `package fixture

// Greet builds a greeting.
func Greet(name string) string {
	return "hello " + name
}

// Run greets the project.
func Run() string {
	return Greet("kodiak")
}
`

// fakeEmbedder produces deterministic vectors so the pipeline runs
// without the OpenAI API.
type fakeEmbedder struct{}

func (fakeEmbedder) vector(text string) []float32 {
	v := make([]float32, testDimension)
	for i, r := range text {
		v[i%testDimension] += float32(r % 13)
	}
	return v
}

func (f fakeEmbedder) EmbedChunks(_ context.Context, chunks []datatypes.ChunkRecord) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		vectors[i] = f.vector(c.Identifier + c.Code)
	}
	return vectors, nil
}

func (f fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return f.vector(text), nil
}

func requireGit(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION_TESTS") == "" {
		t.Skip("Set RUN_INTEGRATION_TESTS=1 to run this test")
	}
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// buildFixtureRepo creates a one-commit git repository on branch main.
func buildFixtureRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	git := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}

	git("init")
	git("checkout", "-b", "main")
	if err := os.WriteFile(filepath.Join(dir, "fixture.go"), []byte(fixtureSource), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	git("add", ".")
	git("-c", "user.name=kodiak", "-c", "user.email=kodiak@test", "commit", "-m", "fixture")
	return dir
}

func TestIngestionPipeline(t *testing.T) {
	requireGit(t)

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	snapshotDir := filepath.Join(t.TempDir(), "index")

	store, err := storage.NewStore(storage.Config{InMemory: true, Logger: logger})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	idx, err := index.New(testDimension, index.WithLogger(logger))
	if err != nil {
		t.Fatalf("create index: %v", err)
	}

	loader, err := ingest.NewLoader(filepath.Join(t.TempDir(), "repos"),
		ingest.WithLoaderLogger(logger))
	if err != nil {
		t.Fatalf("create loader: %v", err)
	}

	svc, err := ingest.NewService(loader, fakeEmbedder{}, idx, store,
		ingest.WithSnapshotDir(snapshotDir),
		ingest.WithServiceLogger(logger))
	if err != nil {
		t.Fatalf("create service: %v", err)
	}

	result, err := svc.Ingest(ctx, buildFixtureRepo(t), fixtureRepoID, "main")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if result.FilesProcessed != 1 {
		t.Errorf("FilesProcessed = %d, want 1", result.FilesProcessed)
	}
	if result.FunctionsExtracted != 2 {
		t.Errorf("FunctionsExtracted = %d, want 2", result.FunctionsExtracted)
	}
	if result.ChunksIndexed != 2 {
		t.Errorf("ChunksIndexed = %d, want 2", result.ChunksIndexed)
	}
	if result.CallRelationships != 1 {
		t.Errorf("CallRelationships = %d, want 1", result.CallRelationships)
	}
	if got := idx.Stats().TotalVectors; got != result.ChunksIndexed {
		t.Errorf("index holds %d vectors, want %d", got, result.ChunksIndexed)
	}

	// The snapshot lands on disk as part of ingestion.
	if _, err := os.Stat(filepath.Join(snapshotDir, index.MetadataFile)); err != nil {
		t.Errorf("snapshot metadata missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(snapshotDir, index.VectorsFile)); err != nil {
		t.Errorf("snapshot vectors missing: %v", err)
	}

	// Stored chunks resolve by exact symbol name.
	chunk, err := store.GetChunkByIdentifier(ctx, fixtureRepoID, "Greet")
	if err != nil {
		t.Fatalf("GetChunkByIdentifier() error = %v", err)
	}
	if chunk == nil {
		t.Fatal("Greet chunk not found after ingestion")
	}
	if chunk.FilePath != "fixture.go" {
		t.Errorf("chunk.FilePath = %q, want fixture.go", chunk.FilePath)
	}

	// The call graph supports a flow trace from Run down into Greet.
	retriever, err := retrieve.New(idx, store, fakeEmbedder{}, retrieve.WithLogger(logger))
	if err != nil {
		t.Fatalf("create retriever: %v", err)
	}
	reasoner, err := reason.New(retriever, reason.WithLogger(logger))
	if err != nil {
		t.Fatalf("create reasoner: %v", err)
	}

	steps, err := reasoner.AnalyzeExecutionFlow(ctx, "Run", fixtureRepoID, 5)
	if err != nil {
		t.Fatalf("AnalyzeExecutionFlow() error = %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("flow steps = %d, want 2: %+v", len(steps), steps)
	}
	if steps[0].FunctionName != "Run" || steps[1].FunctionName != "Greet" {
		t.Errorf("flow = [%s, %s], want [Run, Greet]",
			steps[0].FunctionName, steps[1].FunctionName)
	}

	// Deleting the repository clears both stores.
	deleted, err := svc.Delete(ctx, fixtureRepoID)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if deleted.VectorsDeleted != result.ChunksIndexed {
		t.Errorf("VectorsDeleted = %d, want %d", deleted.VectorsDeleted, result.ChunksIndexed)
	}
	if got := idx.Stats().TotalVectors; got != 0 {
		t.Errorf("index holds %d vectors after delete, want 0", got)
	}
}

func TestIngestionPipeline_ReingestUpdatesInPlace(t *testing.T) {
	requireGit(t)

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.NewStore(storage.Config{InMemory: true, Logger: logger})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	idx, err := index.New(testDimension, index.WithLogger(logger))
	if err != nil {
		t.Fatalf("create index: %v", err)
	}

	loader, err := ingest.NewLoader(filepath.Join(t.TempDir(), "repos"),
		ingest.WithLoaderLogger(logger))
	if err != nil {
		t.Fatalf("create loader: %v", err)
	}

	svc, err := ingest.NewService(loader, fakeEmbedder{}, idx, store,
		ingest.WithSnapshotDir(filepath.Join(t.TempDir(), "index")),
		ingest.WithServiceLogger(logger))
	if err != nil {
		t.Fatalf("create service: %v", err)
	}

	fixture := buildFixtureRepo(t)
	first, err := svc.Ingest(ctx, fixture, fixtureRepoID, "main")
	if err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}

	second, err := svc.Ingest(ctx, fixture, fixtureRepoID, "main")
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}

	if second.ChunksIndexed != first.ChunksIndexed {
		t.Errorf("reingest ChunksIndexed = %d, want %d", second.ChunksIndexed, first.ChunksIndexed)
	}
	if got := idx.Stats().TotalVectors; got != first.ChunksIndexed {
		t.Errorf("index holds %d vectors after reingest, want %d", got, first.ChunksIndexed)
	}
}
