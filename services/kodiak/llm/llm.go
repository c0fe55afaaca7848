// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm wraps the OpenAI chat completions API for answer
// generation, with a streaming variant that feeds tokens to a callback as
// they arrive.
//
// The client works against any OpenAI-compatible endpoint via the base
// URL option, which covers the hosted inference providers that speak the
// same protocol.
//
// Thread Safety:
//
//	Client is safe for concurrent use.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/sashabaranov/go-openai"
)

// Defaults applied when the corresponding option is not set.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 2000

	// defaultSystemPrompt is used when a request carries no system
	// prompt of its own.
	defaultSystemPrompt = "You are a helpful assistant."
)

// GenerationParams overrides the client defaults for one request. Nil
// pointer fields keep the client's configured value.
type GenerationParams struct {
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Temperature  *float32 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	TopP         *float32 `json:"top_p,omitempty"`
	Stop         []string `json:"stop,omitempty"`
}

// TokenFunc receives one content token from a streaming generation.
// Returning an error aborts the stream.
type TokenFunc func(token string) error

// Options configures a Client.
type Options struct {
	// Model is the chat model name.
	Model string

	// BaseURL overrides the API endpoint, for OpenAI-compatible
	// providers. Empty uses the OpenAI default.
	BaseURL string

	// Temperature is the default sampling temperature.
	Temperature float32

	// MaxTokens is the default completion token limit.
	MaxTokens int

	// Logger receives generation logs. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// DefaultOptions returns the default Client configuration.
func DefaultOptions() Options {
	return Options{
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
}

// Option modifies Options.
type Option func(*Options)

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Options) {
		if model != "" {
			o.Model = model
		}
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Options) { o.BaseURL = url }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(temp float32) Option {
	return func(o *Options) { o.Temperature = temp }
}

// WithMaxTokens sets the default completion token limit.
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

// Client generates text through the OpenAI chat completions API.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *slog.Logger
}

// New creates a generation client. The API key enclave is opened just
// long enough to construct the SDK client.
func New(apiKey *memguard.Enclave, opts ...Option) (*Client, error) {
	if apiKey == nil {
		return nil, errors.New("llm: api key is required")
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
		api:         openai.NewClientWithConfig(cfg),
		model:       options.Model,
		temperature: options.Temperature,
		maxTokens:   options.MaxTokens,
		logger:      options.Logger,
	}
	c.logger.Info("generation client initialized", slog.String("model", c.model))
	return c, nil
}

// Model returns the configured chat model name.
func (c *Client) Model() string {
	return c.model
}

// Generate produces a completion for the prompt.
func (c *Client) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	ctx, span := startOperationSpan(ctx, "Generate")
	defer span.End()
	start := time.Now()

	resp, err := c.api.CreateChatCompletion(ctx, c.buildRequest(prompt, params, false))
	if err != nil {
		recordOperation(ctx, "generate", time.Since(start), false)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		recordOperation(ctx, "generate", time.Since(start), false)
		return "", errors.New("chat completion returned no choices")
	}

	recordOperation(ctx, "generate", time.Since(start), true)
	recordTokenUsage(ctx, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	c.logger.Debug("completion generated",
		slog.String("finish_reason", string(resp.Choices[0].FinishReason)),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream produces a completion, feeding each content token to
// onToken as it arrives.
//
// Description:
//
//	Opens a streaming completion and forwards every non-empty content
//	delta to the callback. The full response text is also accumulated
//	and returned, so callers get the same value Generate would have
//	produced.
//
// Inputs:
//
//	ctx - Context for cancellation; cancelling aborts the stream.
//	prompt - The user prompt.
//	params - Per-request overrides.
//	onToken - Receives each token. A non-nil return aborts the stream
//	   and is returned to the caller.
//
// Outputs:
//
//	string - The accumulated response text.
//	error - Stream or callback failure.
func (c *Client) GenerateStream(ctx context.Context, prompt string, params GenerationParams, onToken TokenFunc) (string, error) {
	ctx, span := startOperationSpan(ctx, "GenerateStream")
	defer span.End()
	start := time.Now()

	stream, err := c.api.CreateChatCompletionStream(ctx, c.buildRequest(prompt, params, true))
	if err != nil {
		recordOperation(ctx, "generate_stream", time.Since(start), false)
		return "", fmt.Errorf("open completion stream: %w", err)
	}
	defer stream.Close()

	var answer strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			recordOperation(ctx, "generate_stream", time.Since(start), false)
			return "", fmt.Errorf("read completion stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		token := resp.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		answer.WriteString(token)
		if onToken != nil {
			if err := onToken(token); err != nil {
				recordOperation(ctx, "generate_stream", time.Since(start), false)
				return "", fmt.Errorf("token callback: %w", err)
			}
		}
	}

	recordOperation(ctx, "generate_stream", time.Since(start), true)
	return answer.String(), nil
}

// buildRequest assembles the chat request from the client defaults and
// the per-request overrides.
func (c *Client) buildRequest(prompt string, params GenerationParams, stream bool) openai.ChatCompletionRequest {
	systemPrompt := params.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature:         c.temperature,
		MaxCompletionTokens: c.maxTokens,
		Stream:              stream,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}
