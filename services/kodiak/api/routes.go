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
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes mounts every endpoint on the engine. Operational routes
// live at the root; the product surface is versioned under /api/v1.
func (s *Server) registerRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.handleHealth)

		repos := v1.Group("/repository")
		{
			repos.POST("/ingest", s.handleIngestRepository)
			repos.GET("", s.handleListRepositories)
			repos.DELETE("/:repoId", s.handleDeleteRepository)
		}

		v1.POST("/query", s.handleQuery)
		v1.POST("/impact-analysis", s.handleImpactAnalysis)
		v1.POST("/impact-analysis/diff", s.handleDiffImpact)
		v1.POST("/flow", s.handleFlow)
		v1.GET("/file", s.handleGetFile)
		v1.GET("/index/stats", s.handleIndexStats)
		v1.GET("/ws", s.handleQuerySocket)
	}
}

// handleRoot describes the service for anyone probing the bare host.
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "Kodiak API",
		"version": s.version,
		"status":  "running",
	})
}
