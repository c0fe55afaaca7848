// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embed generates vector embeddings for code chunks and questions
// via the OpenAI embeddings API.
//
// Chunks are formatted with their metadata (file, name, docstring, code,
// dependencies) before embedding, which measurably improves retrieval over
// embedding raw code. Batch embedding runs batches concurrently under a
// bounded semaphore with a client-side request rate limit.
//
// Thread Safety:
//
//	Client is safe for concurrent use.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
)

const (
	// DefaultModel is the embedding model used when none is configured.
	DefaultModel = "text-embedding-ada-002"

	// DefaultDimension is the vector dimension of DefaultModel.
	DefaultDimension = 1536

	// DefaultBatchSize is how many texts go into one API request.
	DefaultBatchSize = 100

	// DefaultMaxConcurrent bounds in-flight embedding requests.
	DefaultMaxConcurrent = 4

	// DefaultRequestsPerSecond is the client-side request rate limit.
	DefaultRequestsPerSecond = 5

	// DefaultMaxTokens caps the formatted chunk text at roughly four
	// characters per token.
	DefaultMaxTokens = 512

	// maxFormattedDeps is how many dependency names the formatted text
	// carries.
	maxFormattedDeps = 5
)

// Options configures a Client.
type Options struct {
	// Model is the embedding model name.
	Model string

	// Dimension is the expected vector dimension. Responses with a
	// different dimension are rejected.
	Dimension int

	// BaseURL overrides the API endpoint, for OpenAI-compatible
	// providers. Empty uses the OpenAI default.
	BaseURL string

	// BatchSize is how many texts go into one API request.
	BatchSize int

	// MaxConcurrent bounds in-flight requests during batch embedding.
	MaxConcurrent int

	// RequestsPerSecond is the client-side request rate limit.
	RequestsPerSecond float64

	// MaxTokens caps formatted chunk text at MaxTokens*4 characters.
	MaxTokens int

	// Logger receives embedding logs. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// DefaultOptions returns the default Client configuration.
func DefaultOptions() Options {
	return Options{
		Model:             DefaultModel,
		Dimension:         DefaultDimension,
		BatchSize:         DefaultBatchSize,
		MaxConcurrent:     DefaultMaxConcurrent,
		RequestsPerSecond: DefaultRequestsPerSecond,
		MaxTokens:         DefaultMaxTokens,
	}
}

// Option modifies Options.
type Option func(*Options)

// WithModel sets the embedding model and its vector dimension.
func WithModel(model string, dimension int) Option {
	return func(o *Options) {
		o.Model = model
		o.Dimension = dimension
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Options) { o.BaseURL = url }
}

// WithBatchSize sets how many texts go into one API request.
func WithBatchSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.BatchSize = n
		}
	}
}

// WithMaxConcurrent bounds in-flight requests during batch embedding.
func WithMaxConcurrent(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxConcurrent = n
		}
	}
}

// WithRequestsPerSecond sets the client-side request rate limit.
func WithRequestsPerSecond(rps float64) Option {
	return func(o *Options) {
		if rps > 0 {
			o.RequestsPerSecond = rps
		}
	}
}

// WithMaxTokens caps formatted chunk text at n*4 characters.
func WithMaxTokens(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxTokens = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// Client generates embeddings through the OpenAI API.
type Client struct {
	api       *openai.Client
	model     string
	dimension int
	batchSize int
	maxTokens int

	sem     *semaphore.Weighted
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates an embedding client.
//
// Description:
//
//	Opens the API key enclave just long enough to construct the SDK
//	client. The string conversion copies the key out of the locked
//	buffer before it is destroyed; the SDK holds that copy for the
//	client's lifetime.
//
// Inputs:
//
//	apiKey - Enclave holding the API key. Must not be nil.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Client - The configured client.
//	error - Nil key or unreadable enclave.
func New(apiKey *memguard.Enclave, opts ...Option) (*Client, error) {
	if apiKey == nil {
		return nil, errors.New("embed: api key is required")
	}

	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	buf, err := apiKey.Open()
	if err != nil {
		return nil, fmt.Errorf("open api key enclave: %w", err)
	}
	token := string(buf.Bytes())
	buf.Destroy()

	cfg := openai.DefaultConfig(token)
	if options.BaseURL != "" {
		cfg.BaseURL = options.BaseURL
	}

	c := &Client{
		api:       openai.NewClientWithConfig(cfg),
		model:     options.Model,
		dimension: options.Dimension,
		batchSize: options.BatchSize,
		maxTokens: options.MaxTokens,
		sem:       semaphore.NewWeighted(int64(options.MaxConcurrent)),
		limiter:   rate.NewLimiter(rate.Limit(options.RequestsPerSecond), 1),
		logger:    options.Logger,
	}
	c.logger.Info("embedding client initialized",
		slog.String("model", c.model),
		slog.Int("dimension", c.dimension),
	)
	return c, nil
}

// Dimension returns the vector dimension the client produces.
func (c *Client) Dimension() int {
	return c.dimension
}

// EmbedQuery embeds a single question or search text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, span := startOperationSpan(ctx, "EmbedQuery")
	defer span.End()
	start := time.Now()

	vectors, err := c.embedBatch(ctx, []string{text})
	if err != nil {
		recordOperation(ctx, "embed_query", time.Since(start), false)
		return nil, err
	}
	recordOperation(ctx, "embed_query", time.Since(start), true)
	return vectors[0], nil
}

// EmbedChunks embeds a set of code chunks.
//
// Description:
//
//	Formats each chunk with its metadata, then embeds the texts in
//	batches. Batches run concurrently under the client's semaphore, each
//	request gated by the rate limiter. Results align with the input
//	order.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	chunks - Chunks to embed.
//
// Outputs:
//
//	[][]float32 - One vector per chunk, in input order. Never nil.
//	error - First batch failure, if any.
func (c *Client) EmbedChunks(ctx context.Context, chunks []datatypes.ChunkRecord) ([][]float32, error) {
	ctx, span := startOperationSpan(ctx, "EmbedChunks")
	defer span.End()
	start := time.Now()

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = formatChunkText(&chunks[i], c.maxTokens)
	}

	vectors := make([][]float32, len(texts))
	grp, grpCtx := errgroup.WithContext(ctx)
	for lo := 0; lo < len(texts); lo += c.batchSize {
		hi := min(lo+c.batchSize, len(texts))
		if err := c.sem.Acquire(grpCtx, 1); err != nil {
			// A worker already failed; Wait reports its error.
			break
		}
		grp.Go(func() error {
			defer c.sem.Release(1)
			batch, err := c.embedBatch(grpCtx, texts[lo:hi])
			if err != nil {
				return fmt.Errorf("batch at %d: %w", lo, err)
			}
			copy(vectors[lo:hi], batch)
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		recordOperation(ctx, "embed_chunks", time.Since(start), false)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		recordOperation(ctx, "embed_chunks", time.Since(start), false)
		return nil, err
	}

	c.logger.Debug("chunks embedded", slog.Int("count", len(chunks)))
	recordOperation(ctx, "embed_chunks", time.Since(start), true)
	recordVectorCount(ctx, len(vectors))
	return vectors, nil
}

// embedBatch sends one embeddings request and returns vectors in input
// order.
func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings API call failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings API returned %d vectors for %d texts", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embeddings API returned out-of-range index %d", item.Index)
		}
		if len(item.Embedding) != c.dimension {
			return nil, fmt.Errorf("embedding has dimension %d, want %d", len(item.Embedding), c.dimension)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// formatChunkText renders a chunk with its metadata for embedding. The
// result is capped at maxTokens*4 characters.
func formatChunkText(chunk *datatypes.ChunkRecord, maxTokens int) string {
	parts := make([]string, 0, 5)
	if chunk.FilePath != "" {
		parts = append(parts, "File: "+chunk.FilePath)
	}
	if chunk.Identifier != "" {
		parts = append(parts, "Name: "+chunk.Identifier)
	}
	if chunk.DocString != "" {
		parts = append(parts, "Description: "+chunk.DocString)
	}
	if chunk.Code != "" {
		parts = append(parts, "Code:\n"+chunk.Code)
	}
	if len(chunk.Dependencies) > 0 {
		deps := chunk.Dependencies
		if len(deps) > maxFormattedDeps {
			deps = deps[:maxFormattedDeps]
		}
		parts = append(parts, "Uses: "+strings.Join(deps, ", "))
	}

	text := strings.Join(parts, "\n")
	if limit := maxTokens * 4; len(text) > limit {
		text = text[:limit]
	}
	return text
}
