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
	"github.com/AleutianAI/Kodiak/services/kodiak/storage"
)

// handleQuery answers a natural-language question about a repository.
//
// Description:
//
//	Verifies the repository exists before asking the agent so unknown
//	IDs return 404 instead of an empty answer. Flow analysis defaults
//	to enabled; clients opt out with include_execution_flow: false.
func (s *Server) handleQuery(c *gin.Context) {
	ctx, span := startHandlerSpan(c.Request.Context(), "Query")
	defer span.End()

	var req datatypes.QueryRequest
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

	if _, err := s.store.GetRepository(ctx, req.RepoID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(c, http.StatusNotFound, fmt.Sprintf("repository %s not found", req.RepoID))
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		respondError(c, http.StatusInternalServerError, "repository lookup failed")
		return
	}

	start := time.Now()
	resp, err := s.agent.AnswerQuestion(ctx, req.Question, req.RepoID, req.FlowEnabled())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("question answering failed",
			slog.String("repo_id", req.RepoID), slog.Any("error", err))
		respondError(c, http.StatusInternalServerError, "failed to answer question")
		return
	}

	s.recordUsage(ctx, req.RepoID, "http", resp, len(req.Question), req.FlowEnabled(), time.Since(start))
	c.JSON(http.StatusOK, resp)
}

// handleImpactAnalysis reports the blast radius of changing one unit.
// Unresolvable identifiers return 404.
func (s *Server) handleImpactAnalysis(c *gin.Context) {
	ctx, span := startHandlerSpan(c.Request.Context(), "ImpactAnalysis")
	defer span.End()

	var req datatypes.ImpactAnalysisRequest
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

	report, err := s.agent.AnalyzeImpact(ctx, req.Identifier, req.RepoID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		respondError(c, errorStatus(err), fmt.Sprintf("impact analysis failed: %v", err))
		return
	}

	c.JSON(http.StatusOK, report)
}

// handleDiffImpact aggregates impact reports for every unit a unified
// diff touches.
func (s *Server) handleDiffImpact(c *gin.Context) {
	ctx, span := startHandlerSpan(c.Request.Context(), "DiffImpact")
	defer span.End()

	var req datatypes.DiffImpactRequest
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

	resp, err := s.agent.AnalyzeDiffImpact(ctx, req.Diff, req.RepoID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("diff impact analysis failed",
			slog.String("repo_id", req.RepoID), slog.Any("error", err))
		respondError(c, errorStatus(err), "diff impact analysis failed")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// handleFlow traces execution flow from a named entry point. A zero
// max_depth falls back to the server's configured depth.
func (s *Server) handleFlow(c *gin.Context) {
	ctx, span := startHandlerSpan(c.Request.Context(), "Flow")
	defer span.End()

	var req datatypes.FlowRequest
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

	depth := req.MaxDepth
	if depth == 0 {
		depth = s.flowDepth
	}
	steps, err := s.flows.AnalyzeExecutionFlow(ctx, req.EntryPoint, req.RepoID, depth)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("flow analysis failed",
			slog.String("entry_point", req.EntryPoint), slog.Any("error", err))
		respondError(c, http.StatusInternalServerError, "flow analysis failed")
		return
	}

	c.JSON(http.StatusOK, datatypes.FlowResponse{
		EntryPoint: req.EntryPoint,
		Steps:      steps,
	})
}
