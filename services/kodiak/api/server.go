// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the Kodiak engine over HTTP.
//
// The server wires ingestion, question answering, impact analysis, and
// execution-flow tracing into a versioned REST surface plus one websocket
// endpoint for streamed answers. Handlers stay thin: they bind and validate
// the request, call one collaborator, and map errors onto status codes.
// Anything resembling business logic belongs in the collaborator packages,
// not here.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/Kodiak/services/kodiak/analytics"
	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
	"github.com/AleutianAI/Kodiak/services/kodiak/index"
	"github.com/AleutianAI/Kodiak/services/kodiak/ingest"
	"github.com/AleutianAI/Kodiak/services/kodiak/llm"
	"github.com/AleutianAI/Kodiak/services/kodiak/reason"
	"github.com/AleutianAI/Kodiak/services/kodiak/storage"
)

// DefaultFlowDepth bounds execution-flow traces when the request leaves
// max_depth unset.
const DefaultFlowDepth = 5

// Ingestor clones, parses, and indexes repositories.
type Ingestor interface {
	Ingest(ctx context.Context, repoURL, repoID, branch string) (*ingest.Result, error)
	Delete(ctx context.Context, repoID string) (*ingest.DeleteResult, error)
}

// QueryAgent answers questions and analyzes change impact.
type QueryAgent interface {
	AnswerQuestion(ctx context.Context, question, repoID string, includeFlow bool) (*datatypes.QueryResponse, error)
	AnswerQuestionStream(ctx context.Context, question, repoID string, includeFlow bool, onToken llm.TokenFunc) (*datatypes.QueryResponse, error)
	AnalyzeImpact(ctx context.Context, identifier, repoID string) (*datatypes.ImpactReport, error)
	AnalyzeDiffImpact(ctx context.Context, unifiedDiff, repoID string) (*datatypes.DiffImpactResponse, error)
}

// FlowAnalyzer traces execution flow from a named entry point.
type FlowAnalyzer interface {
	AnalyzeExecutionFlow(ctx context.Context, entryPoint, repoID string, maxDepth int) ([]datatypes.FlowStep, error)
}

// MetadataStore reads repository and file records.
type MetadataStore interface {
	GetRepository(ctx context.Context, repoID string) (*datatypes.RepositoryRecord, error)
	ListRepositories(ctx context.Context) ([]datatypes.RepositoryRecord, error)
	GetFile(ctx context.Context, repoID, filePath string) (*datatypes.FileRecord, error)
}

// IndexStatter reports vector index contents.
type IndexStatter interface {
	Stats() index.Stats
}

// UsageRecorder receives one event per answered question. Recording must
// never block; a nil recorder disables usage analytics entirely.
type UsageRecorder interface {
	RecordQuery(ctx context.Context, e analytics.QueryEvent)
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithVersion sets the version string reported by the health endpoint.
func WithVersion(version string) Option {
	return func(s *Server) {
		if version != "" {
			s.version = version
		}
	}
}

// WithFlowDepth sets the execution-flow depth used when a flow request
// omits max_depth.
func WithFlowDepth(depth int) Option {
	return func(s *Server) {
		if depth > 0 {
			s.flowDepth = depth
		}
	}
}

// WithUsageRecorder attaches an analytics sink for answered questions.
func WithUsageRecorder(recorder UsageRecorder) Option {
	return func(s *Server) {
		s.usage = recorder
	}
}

// Server is the HTTP front end of the Kodiak engine.
//
// Thread Safety: Safe for concurrent use once constructed; gin serves each
// request on its own goroutine and the collaborators are required to be
// concurrency-safe.
type Server struct {
	ingestor Ingestor
	agent    QueryAgent
	flows    FlowAnalyzer
	store    MetadataStore
	index    IndexStatter
	usage    UsageRecorder

	router    *gin.Engine
	logger    *slog.Logger
	version   string
	flowDepth int
}

// NewServer builds the HTTP server and registers all routes.
//
// Description:
//
//	Assembles a gin engine with recovery, request-ID, access-log, CORS,
//	and OpenTelemetry middleware, then mounts the /api/v1 route group
//	alongside the operational endpoints. The engine is ready to serve as
//	soon as this returns.
//
// Inputs:
//
//	ingestor - Repository ingestion and deletion service.
//	agent - Question answering and impact analysis agent.
//	flows - Execution-flow analyzer.
//	store - Repository and file metadata reader.
//	statter - Vector index statistics source.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Server - Ready server.
//	error - Non-nil when a required collaborator is nil.
func NewServer(ingestor Ingestor, agent QueryAgent, flows FlowAnalyzer,
	store MetadataStore, statter IndexStatter, opts ...Option) (*Server, error) {

	if ingestor == nil {
		return nil, fmt.Errorf("api: ingestor is required")
	}
	if agent == nil {
		return nil, fmt.Errorf("api: agent is required")
	}
	if flows == nil {
		return nil, fmt.Errorf("api: flow analyzer is required")
	}
	if store == nil {
		return nil, fmt.Errorf("api: metadata store is required")
	}
	if statter == nil {
		return nil, fmt.Errorf("api: index statter is required")
	}

	s := &Server{
		ingestor:  ingestor,
		agent:     agent,
		flows:     flows,
		store:     store,
		index:     statter,
		logger:    slog.Default(),
		version:   "dev",
		flowDepth: DefaultFlowDepth,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(requestID())
	s.router.Use(accessLog(s.logger))
	s.router.Use(cors())
	s.router.Use(otelgin.Middleware("kodiak-api"))
	s.registerRoutes()

	return s, nil
}

// Router returns the underlying gin engine for embedding and testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the server on addr and blocks until it stops.
func (s *Server) Run(addr string) error {
	s.logger.Info("starting api server", slog.String("addr", addr))
	return s.router.Run(addr)
}

// recordUsage forwards an answered question to the analytics sink.
func (s *Server) recordUsage(ctx context.Context, repoID, transport string,
	resp *datatypes.QueryResponse, questionChars int, flowUsed bool, elapsed time.Duration) {

	if s.usage == nil || resp == nil {
		return
	}
	s.usage.RecordQuery(ctx, analytics.QueryEvent{
		RepoID:        repoID,
		Transport:     transport,
		Confidence:    resp.Confidence,
		Citations:     len(resp.Citations),
		QuestionChars: questionChars,
		FlowUsed:      flowUsed,
		Duration:      elapsed,
	})
}

// respondError writes the uniform JSON error body.
func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, datatypes.ErrorResponse{Error: message})
}

// errorStatus maps collaborator errors onto HTTP status codes. Unknown
// records map to 404, everything else to 500.
func errorStatus(err error) int {
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, reason.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
