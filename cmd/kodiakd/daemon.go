// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Kodiak/services/kodiak/agent"
	"github.com/AleutianAI/Kodiak/services/kodiak/analytics"
	"github.com/AleutianAI/Kodiak/services/kodiak/api"
	"github.com/AleutianAI/Kodiak/services/kodiak/archive"
	"github.com/AleutianAI/Kodiak/services/kodiak/config"
	"github.com/AleutianAI/Kodiak/services/kodiak/embed"
	"github.com/AleutianAI/Kodiak/services/kodiak/index"
	"github.com/AleutianAI/Kodiak/services/kodiak/ingest"
	"github.com/AleutianAI/Kodiak/services/kodiak/llm"
	"github.com/AleutianAI/Kodiak/services/kodiak/reason"
	"github.com/AleutianAI/Kodiak/services/kodiak/retrieve"
	"github.com/AleutianAI/Kodiak/services/kodiak/storage"
	"github.com/AleutianAI/Kodiak/services/kodiak/telemetry"
)

const (
	// storageGCInterval is how often the Badger value log is compacted.
	storageGCInterval = 10 * time.Minute

	// snapshotReloadTimeout bounds one watcher-triggered index reload.
	snapshotReloadTimeout = 2 * time.Minute

	// telemetryShutdownTimeout bounds the final exporter flush.
	telemetryShutdownTimeout = 5 * time.Second
)

// =============================================================================
// Daemon
// =============================================================================

// Daemon owns every long-lived component of the kodiakd process and
// tears them down in reverse construction order on shutdown.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store    *storage.Store
	idx      *index.Index
	watcher  *index.SnapshotWatcher
	usage    *analytics.Client
	archiver *archive.Archiver
	httpSrv  *http.Server

	telemetryShutdown func(context.Context) error
}

// newDaemon wires the engine from configuration.
//
// Construction order matters: telemetry first so every later component
// registers against the live providers, then storage and the index,
// then the OpenAI-backed clients, then the pipeline built from them.
// On any failure the components opened so far are closed before the
// error is returned.
func newDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	d := &Daemon{cfg: cfg, logger: logger}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "kodiakd",
		ServiceVersion: version,
		TraceExporter:  cfg.Telemetry.TraceExporter,
		MetricExporter: cfg.Telemetry.MetricExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   true,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	d.telemetryShutdown = shutdown

	d.store, err = storage.NewStore(storage.Config{
		Path:       cfg.Storage.Dir,
		InMemory:   cfg.Storage.InMemory,
		SyncWrites: cfg.Storage.SyncWrites,
		Logger:     logger,
		GCInterval: storageGCInterval,
	})
	if err != nil {
		d.close()
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	d.idx, err = index.New(cfg.Index.Dimension, index.WithLogger(logger))
	if err != nil {
		d.close()
		return nil, fmt.Errorf("create index: %w", err)
	}
	if err := d.idx.Load(ctx, cfg.Index.SnapshotDir); err != nil {
		if !errors.Is(err, index.ErrSnapshotNotFound) {
			d.close()
			return nil, fmt.Errorf("load index snapshot: %w", err)
		}
		logger.Info("no index snapshot, starting empty",
			slog.String("dir", cfg.Index.SnapshotDir))
	}

	key, err := config.OpenAIKey()
	if err != nil {
		d.close()
		return nil, err
	}

	embedOpts := []embed.Option{
		embed.WithModel(cfg.Embedding.Model, cfg.Embedding.Dimension),
		embed.WithBatchSize(cfg.Embedding.BatchSize),
		embed.WithRequestsPerSecond(float64(cfg.Embedding.RequestsPerSecond)),
		embed.WithLogger(logger),
	}
	if cfg.Embedding.BaseURL != "" {
		embedOpts = append(embedOpts, embed.WithBaseURL(cfg.Embedding.BaseURL))
	}
	embedder, err := embed.New(key, embedOpts...)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	llmOpts := []llm.Option{
		llm.WithModel(cfg.LLM.Model),
		llm.WithTemperature(cfg.LLM.Temperature),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
		llm.WithLogger(logger),
	}
	if cfg.LLM.BaseURL != "" {
		llmOpts = append(llmOpts, llm.WithBaseURL(cfg.LLM.BaseURL))
	}
	generator, err := llm.New(key, llmOpts...)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("create llm client: %w", err)
	}

	retriever, err := retrieve.New(d.idx, d.store, embedder,
		retrieve.WithTopK(cfg.Retrieval.TopK),
		retrieve.WithLogger(logger))
	if err != nil {
		d.close()
		return nil, fmt.Errorf("create retriever: %w", err)
	}

	reasoner, err := reason.New(retriever, reason.WithLogger(logger))
	if err != nil {
		d.close()
		return nil, fmt.Errorf("create reasoner: %w", err)
	}

	loader, err := ingest.NewLoader(cfg.Ingest.CloneDir,
		ingest.WithLoaderLogger(logger),
		ingest.WithLoaderMaxFileSize(cfg.Ingest.MaxFileSize))
	if err != nil {
		d.close()
		return nil, fmt.Errorf("create repo loader: %w", err)
	}

	chunker := ingest.NewChunker(
		ingest.WithSplitSize(cfg.Ingest.SplitSize),
		ingest.WithSplitOverlap(cfg.Ingest.SplitOverlap))

	ingestor, err := ingest.NewService(loader, embedder, d.idx, d.store,
		ingest.WithChunker(chunker),
		ingest.WithParallelism(cfg.Ingest.Parallelism),
		ingest.WithSnapshotDir(cfg.Index.SnapshotDir),
		ingest.WithServiceLogger(logger))
	if err != nil {
		d.close()
		return nil, fmt.Errorf("create ingest service: %w", err)
	}

	codeAgent, err := agent.New(retriever, reasoner, generator, d.store,
		agent.WithMaxFlowDepth(cfg.Reasoning.MaxFlowDepth),
		agent.WithLogger(logger))
	if err != nil {
		d.close()
		return nil, fmt.Errorf("create agent: %w", err)
	}

	var apiIngestor api.Ingestor = ingestor
	if cfg.Archive.Enabled {
		d.archiver, err = archive.New(ctx, archive.Config{
			Bucket:          cfg.Archive.Bucket,
			CredentialsFile: cfg.Archive.CredentialsFile,
		}, logger)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("create archiver: %w", err)
		}
		apiIngestor = &archivingIngestor{
			Ingestor:    ingestor,
			archiver:    d.archiver,
			snapshotDir: cfg.Index.SnapshotDir,
			logger:      logger,
		}
	}

	apiOpts := []api.Option{
		api.WithLogger(logger),
		api.WithVersion(version),
		api.WithFlowDepth(cfg.Reasoning.MaxFlowDepth),
	}
	if cfg.Analytics.Enabled {
		d.usage = analytics.New(ctx, analytics.Config{
			URL:    cfg.Analytics.URL,
			Token:  cfg.Analytics.Token,
			Org:    cfg.Analytics.Org,
			Bucket: cfg.Analytics.Bucket,
		}, logger)
		apiOpts = append(apiOpts, api.WithUsageRecorder(d.usage))
	}

	gin.SetMode(gin.ReleaseMode)
	server, err := api.NewServer(apiIngestor, codeAgent, reasoner, d.store, d.idx, apiOpts...)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("create api server: %w", err)
	}

	if cfg.Index.Watch {
		// The watcher needs the directory to exist before the first
		// snapshot lands in it.
		if err := os.MkdirAll(cfg.Index.SnapshotDir, 0o755); err != nil {
			d.close()
			return nil, fmt.Errorf("create snapshot dir: %w", err)
		}
		d.watcher, err = index.NewSnapshotWatcher(cfg.Index.SnapshotDir, d.reloadSnapshot, logger)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("create snapshot watcher: %w", err)
		}
		if err := d.watcher.Start(ctx); err != nil {
			d.close()
			return nil, fmt.Errorf("start snapshot watcher: %w", err)
		}
	}

	d.httpSrv = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}
	return d, nil
}

// run serves until the context is canceled or the listener fails, then
// drains in-flight requests within the configured shutdown window.
func (d *Daemon) run(ctx context.Context) error {
	defer d.close()

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("kodiakd listening",
			slog.String("addr", d.httpSrv.Addr),
			slog.String("version", version))
		if err := d.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	d.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(d.cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := d.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// close tears down components in reverse construction order. Nil members
// are skipped so constructor error paths can reuse it.
func (d *Daemon) close() {
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.usage != nil {
		d.usage.Close()
	}
	if d.archiver != nil {
		if err := d.archiver.Close(); err != nil {
			d.logger.Error("close archiver", slog.Any("error", err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Error("close metadata store", slog.Any("error", err))
		}
	}
	if d.telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := d.telemetryShutdown(ctx); err != nil {
			d.logger.Error("telemetry shutdown", slog.Any("error", err))
		}
	}
}

// reloadSnapshot picks up index snapshots written by another process,
// typically CLI-driven ingestion against the same data directory.
func (d *Daemon) reloadSnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotReloadTimeout)
	defer cancel()
	if err := d.idx.Load(ctx, d.cfg.Index.SnapshotDir); err != nil {
		d.logger.Error("snapshot reload failed", slog.Any("error", err))
		return
	}
	d.logger.Info("index reloaded from snapshot",
		slog.Int("vectors", d.idx.Stats().TotalVectors))
}

// =============================================================================
// Snapshot archiving
// =============================================================================

// snapshotArchiver uploads a snapshot directory to remote storage.
// *archive.Archiver satisfies this interface.
type snapshotArchiver interface {
	ArchiveSnapshot(ctx context.Context, dir string) (string, error)
}

// archivingIngestor archives the index snapshot after each successful
// ingestion so a fresh deployment can restore without re-indexing.
// Deletion passes through untouched.
type archivingIngestor struct {
	api.Ingestor
	archiver    snapshotArchiver
	snapshotDir string
	logger      *slog.Logger
}

func (a *archivingIngestor) Ingest(ctx context.Context, repoURL, repoID, branch string) (*ingest.Result, error) {
	result, err := a.Ingestor.Ingest(ctx, repoURL, repoID, branch)
	if err != nil {
		return nil, err
	}
	object, archiveErr := a.archiver.ArchiveSnapshot(ctx, a.snapshotDir)
	if archiveErr != nil {
		// The ingestion itself succeeded; the archive copy is
		// recoverable on the next ingest.
		a.logger.Error("snapshot archive failed",
			slog.String("repo_id", result.RepoID), slog.Any("error", archiveErr))
		return result, nil
	}
	a.logger.Info("snapshot archived",
		slog.String("repo_id", result.RepoID), slog.String("object", object))
	return result, nil
}
