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
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
	"github.com/AleutianAI/Kodiak/services/kodiak/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// sendFrame writes one outbound frame, logging write failures. The caller
// treats a non-nil return as a dead connection.
func sendFrame(logger *slog.Logger, ws *websocket.Conn, frame datatypes.WSFrame) error {
	if err := ws.WriteJSON(frame); err != nil {
		logger.Warn("websocket write failed", slog.Any("error", err))
		return err
	}
	return nil
}

// handleQuerySocket streams answers over a websocket.
//
// Description:
//
//	Each inbound frame is one question: {question, repo_id}. The answer
//	streams back as token frames followed by a final frame carrying the
//	full answer, citations, and confidence. Per-question failures are
//	reported as error frames and keep the connection open; only write
//	failures close it. Tokens are produced synchronously on this
//	goroutine, so frame writes never interleave.
func (s *Server) handleQuerySocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer ws.Close()
	s.logger.Info("websocket client connected", slog.String("remote", ws.RemoteAddr().String()))

	for {
		var query datatypes.WSQuery
		if err := ws.ReadJSON(&query); err != nil {
			s.logger.Info("websocket client disconnected", slog.String("reason", err.Error()))
			return
		}

		ctx := c.Request.Context()
		if strings.TrimSpace(query.Question) == "" || query.RepoID == "" {
			if sendFrame(s.logger, ws, datatypes.WSFrame{
				Type:  datatypes.WSFrameError,
				Error: "question and repo_id are required",
			}) != nil {
				return
			}
			continue
		}

		if _, err := s.store.GetRepository(ctx, query.RepoID); err != nil {
			message := "repository lookup failed"
			if errors.Is(err, storage.ErrNotFound) {
				message = fmt.Sprintf("repository %s not found", query.RepoID)
			}
			if sendFrame(s.logger, ws, datatypes.WSFrame{
				Type:  datatypes.WSFrameError,
				Error: message,
			}) != nil {
				return
			}
			continue
		}

		start := time.Now()
		resp, err := s.agent.AnswerQuestionStream(ctx, query.Question, query.RepoID, true,
			func(token string) error {
				return sendFrame(s.logger, ws, datatypes.WSFrame{
					Type:  datatypes.WSFrameToken,
					Token: token,
				})
			})
		if err != nil {
			s.logger.Error("streamed answer failed",
				slog.String("repo_id", query.RepoID), slog.Any("error", err))
			if sendFrame(s.logger, ws, datatypes.WSFrame{
				Type:  datatypes.WSFrameError,
				Error: "failed to answer question",
			}) != nil {
				return
			}
			continue
		}
		s.recordUsage(ctx, query.RepoID, "websocket", resp, len(query.Question), true, time.Since(start))

		if sendFrame(s.logger, ws, datatypes.WSFrame{
			Type:       datatypes.WSFrameFinal,
			Answer:     resp.Answer,
			Citations:  resp.Citations,
			Confidence: resp.Confidence,
		}) != nil {
			return
		}
	}
}
