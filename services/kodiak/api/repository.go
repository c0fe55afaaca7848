// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
	"github.com/AleutianAI/Kodiak/services/kodiak/ingest"
	"github.com/AleutianAI/Kodiak/services/kodiak/storage"
)

// handleHealth reports service liveness with the build version.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, datatypes.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   s.version,
	})
}

// handleIngestRepository clones and indexes a repository.
//
// Description:
//
//	Derives the repository ID from the URL and short-circuits with
//	status "already_exists" when that ID is already ingested; clients
//	re-ingest by deleting first. A fresh ingestion returns 201 with the
//	run's statistics.
func (s *Server) handleIngestRepository(c *gin.Context) {
	ctx, span := startHandlerSpan(c.Request.Context(), "IngestRepository")
	defer span.End()

	var req datatypes.RepositoryIngestRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	req.EnsureDefaults()

	repoID := ingest.RepoIDFromURL(req.RepoURL)
	existing, err := s.store.GetRepository(ctx, repoID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("repository lookup failed", slog.String("repo_id", repoID), slog.Any("error", err))
		respondError(c, http.StatusInternalServerError, "repository lookup failed")
		return
	}
	if existing != nil {
		c.JSON(http.StatusOK, datatypes.RepositoryIngestResponse{
			RepoID:             repoID,
			Status:             "already_exists",
			Message:            "repository already ingested",
			FilesProcessed:     existing.FilesProcessed,
			FunctionsExtracted: existing.FunctionsExtracted,
		})
		return
	}

	s.logger.Info("ingestion requested",
		slog.String("repo_url", req.RepoURL),
		slog.String("repo_id", repoID),
		slog.String("branch", req.Branch),
	)
	result, err := s.ingestor.Ingest(ctx, req.RepoURL, repoID, req.Branch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("ingestion failed", slog.String("repo_id", repoID), slog.Any("error", err))
		respondError(c, http.StatusInternalServerError, fmt.Sprintf("ingestion failed: %v", err))
		return
	}

	c.JSON(http.StatusCreated, datatypes.RepositoryIngestResponse{
		RepoID:             result.RepoID,
		Status:             "success",
		Message:            fmt.Sprintf("successfully ingested %d files", result.FilesProcessed),
		FilesProcessed:     result.FilesProcessed,
		FunctionsExtracted: result.FunctionsExtracted,
		IngestionTime:      result.Elapsed.Seconds(),
	})
}

// handleListRepositories returns every ingested repository's metadata.
func (s *Server) handleListRepositories(c *gin.Context) {
	ctx, span := startHandlerSpan(c.Request.Context(), "ListRepositories")
	defer span.End()

	repos, err := s.store.ListRepositories(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("repository listing failed", slog.Any("error", err))
		respondError(c, http.StatusInternalServerError, "failed to list repositories")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"repositories": repos,
		"count":        len(repos),
	})
}

// handleDeleteRepository removes a repository's vectors, metadata, and
// checkout. Unknown IDs return 404.
func (s *Server) handleDeleteRepository(c *gin.Context) {
	ctx, span := startHandlerSpan(c.Request.Context(), "DeleteRepository")
	defer span.End()

	repoID := c.Param("repoId")
	result, err := s.ingestor.Delete(ctx, repoID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, storage.ErrNotFound) {
			respondError(c, http.StatusNotFound, fmt.Sprintf("repository %s not found", repoID))
			return
		}
		s.logger.Error("repository deletion failed", slog.String("repo_id", repoID), slog.Any("error", err))
		respondError(c, http.StatusInternalServerError, "failed to delete repository")
		return
	}

	s.logger.Info("repository deleted",
		slog.String("repo_id", repoID),
		slog.Int("records_deleted", result.RecordsDeleted),
		slog.Int("vectors_deleted", result.VectorsDeleted),
	)
	c.JSON(http.StatusOK, gin.H{
		"status":          "success",
		"deleted_repo_id": repoID,
		"records_deleted": result.RecordsDeleted,
		"vectors_deleted": result.VectorsDeleted,
	})
}
