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
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
	"github.com/AleutianAI/Kodiak/services/kodiak/storage"
)

// fileQuery binds the query parameters of the file endpoint.
type fileQuery struct {
	FilePath  string `form:"file_path" binding:"required"`
	RepoID    string `form:"repo_id" binding:"required"`
	StartLine int    `form:"start_line"`
	EndLine   int    `form:"end_line"`
}

// handleGetFile returns a stored file's content, optionally sliced to a
// line range.
//
// Description:
//
//	Line numbers are 1-based and inclusive; out-of-range bounds clamp
//	to the file rather than erroring, and total_lines always reports
//	the full file regardless of the slice.
func (s *Server) handleGetFile(c *gin.Context) {
	ctx, span := startHandlerSpan(c.Request.Context(), "GetFile")
	defer span.End()

	var q fileQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		respondError(c, http.StatusBadRequest, "file_path and repo_id are required")
		return
	}

	record, err := s.store.GetFile(ctx, q.RepoID, q.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(c, http.StatusNotFound, fmt.Sprintf("file %s not found", q.FilePath))
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		respondError(c, http.StatusInternalServerError, "file lookup failed")
		return
	}

	lines := strings.Split(record.Content, "\n")
	total := len(lines)

	content := record.Content
	if q.StartLine > 0 || q.EndLine > 0 {
		start := q.StartLine
		if start < 1 {
			start = 1
		}
		end := q.EndLine
		if end <= 0 || end > total {
			end = total
		}
		if start > end {
			content = ""
		} else {
			content = strings.Join(lines[start-1:end], "\n")
		}
	}

	language := record.Language
	if language == "" {
		language = "text"
	}

	c.JSON(http.StatusOK, datatypes.FileContentResponse{
		FilePath:   q.FilePath,
		Content:    content,
		Language:   language,
		TotalLines: total,
		RepoID:     q.RepoID,
	})
}

// handleIndexStats reports vector index contents.
func (s *Server) handleIndexStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.index.Stats())
}
