// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// =============================================================================
// Stream Events
// =============================================================================

// StreamEventType represents the type of a streaming event
type StreamEventType string

const (
	StreamEventToken StreamEventType = "token"
	StreamEventFinal StreamEventType = "final"
	StreamEventError StreamEventType = "error"
)

// Citation identifies the code a streamed answer is grounded on.
type Citation struct {
	FilePath     string  `json:"file_path"`
	StartLine    int     `json:"start_line"`
	EndLine      int     `json:"end_line"`
	FunctionName string  `json:"function_name,omitempty"`
	Score        float64 `json:"score,omitempty"`
}

// StreamEvent is one frame of a streamed answer. Token frames carry
// answer text incrementally; the final frame carries the complete
// answer with citations and confidence. The JSON shape matches the
// server's websocket frames so a frame decodes straight into it.
type StreamEvent struct {
	Type       StreamEventType `json:"type"`
	Token      string          `json:"token,omitempty"`
	Answer     string          `json:"answer,omitempty"`
	Citations  []Citation      `json:"citations,omitempty"`
	Confidence string          `json:"confidence,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// StreamResult contains the complete result of processing a stream
type StreamResult struct {
	Answer     string
	Citations  []Citation
	Confidence string
}

// =============================================================================
// Stream Renderers
// =============================================================================

// StreamRenderer receives stream events in arrival order and turns them
// into terminal output. Implementations decide what (if anything) to
// print per event; Finalize flushes whatever the mode buffered.
//
// Thread Safety: callers must deliver events from a single goroutine.
type StreamRenderer interface {
	// OnToken handles one incremental answer fragment.
	OnToken(token string)

	// OnFinal handles the closing frame with the complete answer.
	OnFinal(answer string, citations []Citation, confidence string)

	// OnError handles a server-reported failure for this question.
	OnError(message string)

	// Finalize flushes buffered output. Call exactly once, after the
	// last event.
	Finalize()

	// Result returns the accumulated result. Valid after the final
	// event; nil if the stream errored before completing.
	Result() *StreamResult
}

// RenderEvent dispatches one event to a renderer. It returns done=true
// when the event terminates the stream, and a non-nil error for error
// frames. Unknown event types are skipped so newer servers can add
// frame types without breaking older clients.
func RenderEvent(r StreamRenderer, event StreamEvent) (done bool, err error) {
	switch event.Type {
	case StreamEventToken:
		r.OnToken(event.Token)
		return false, nil
	case StreamEventFinal:
		r.OnFinal(event.Answer, event.Citations, event.Confidence)
		return true, nil
	case StreamEventError:
		r.OnError(event.Error)
		return true, errors.New(event.Error)
	default:
		return false, nil
	}
}

// terminalStreamRenderer prints tokens as they arrive for the live
// typing effect, or buffers everything for machine mode.
type terminalStreamRenderer struct {
	writer      io.Writer
	personality PersonalityLevel
	answer      strings.Builder
	tokensSeen  bool
	result      *StreamResult
	failed      bool
}

// NewTerminalStreamRenderer creates a renderer that writes to w with
// the given personality level.
func NewTerminalStreamRenderer(w io.Writer, personality PersonalityLevel) StreamRenderer {
	return &terminalStreamRenderer{
		writer:      w,
		personality: personality,
	}
}

func (r *terminalStreamRenderer) OnToken(token string) {
	r.tokensSeen = true
	r.answer.WriteString(token)

	if r.personality == PersonalityMachine {
		// Buffer until Finalize so output stays line-oriented
		return
	}
	fmt.Fprint(r.writer, token)
}

func (r *terminalStreamRenderer) OnFinal(answer string, citations []Citation, confidence string) {
	// The final frame's answer is authoritative; tokens are a preview
	// of the same text.
	if answer == "" {
		answer = r.answer.String()
	}
	r.result = &StreamResult{
		Answer:     answer,
		Citations:  citations,
		Confidence: confidence,
	}

	if r.personality == PersonalityMachine {
		return
	}
	if !r.tokensSeen && answer != "" {
		fmt.Fprint(r.writer, answer)
	}
	if !strings.HasSuffix(answer, "\n") {
		fmt.Fprintln(r.writer)
	}
}

func (r *terminalStreamRenderer) OnError(message string) {
	r.failed = true
	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.writer, "ERROR: %s\n", message)
		return
	}
	if r.tokensSeen {
		fmt.Fprintln(r.writer)
	}
	fmt.Fprintf(r.writer, "%s %s\n", IconError.Render(), Styles.Error.Render(message))
}

func (r *terminalStreamRenderer) Finalize() {
	if r.personality != PersonalityMachine || r.failed {
		return
	}
	if r.result == nil {
		return
	}
	fmt.Fprintf(r.writer, "ANSWER: %s\n", r.result.Answer)
	for _, c := range r.result.Citations {
		fmt.Fprintf(r.writer, "CITATION: %s\n", FormatCitation(c))
	}
	if r.result.Confidence != "" {
		fmt.Fprintf(r.writer, "CONFIDENCE: %s\n", r.result.Confidence)
	}
}

func (r *terminalStreamRenderer) Result() *StreamResult {
	return r.result
}

// BufferStreamRenderer accumulates events silently. Used by tests and
// by callers that render the result themselves after the stream ends.
type BufferStreamRenderer struct {
	mu     sync.Mutex
	events []StreamEvent
	answer strings.Builder
	result *StreamResult
}

// NewBufferStreamRenderer creates a silent renderer that records every
// event it sees.
func NewBufferStreamRenderer() *BufferStreamRenderer {
	return &BufferStreamRenderer{}
}

func (r *BufferStreamRenderer) OnToken(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, StreamEvent{Type: StreamEventToken, Token: token})
	r.answer.WriteString(token)
}

func (r *BufferStreamRenderer) OnFinal(answer string, citations []Citation, confidence string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, StreamEvent{
		Type:       StreamEventFinal,
		Answer:     answer,
		Citations:  citations,
		Confidence: confidence,
	})
	if answer == "" {
		answer = r.answer.String()
	}
	r.result = &StreamResult{
		Answer:     answer,
		Citations:  citations,
		Confidence: confidence,
	}
}

func (r *BufferStreamRenderer) OnError(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, StreamEvent{Type: StreamEventError, Error: message})
}

func (r *BufferStreamRenderer) Finalize() {}

func (r *BufferStreamRenderer) Result() *StreamResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Events returns a copy of every event seen so far.
func (r *BufferStreamRenderer) Events() []StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StreamEvent, len(r.events))
	copy(out, r.events)
	return out
}

var _ StreamRenderer = (*terminalStreamRenderer)(nil)
var _ StreamRenderer = (*BufferStreamRenderer)(nil)

// =============================================================================
// Result Formatting
// =============================================================================

// ConfidenceBadge renders a confidence level with semantic coloring.
func ConfidenceBadge(level string) string {
	switch strings.ToLower(level) {
	case "high":
		return Styles.Success.Render("confidence: high")
	case "medium":
		return Styles.Warning.Render("confidence: medium")
	case "low":
		return Styles.Error.Render("confidence: low")
	default:
		return Styles.Muted.Render("confidence: unknown")
	}
}

// FormatCitation renders one citation as "path:start-end (name, score)".
// The function name and score are omitted when absent.
func FormatCitation(c Citation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%d-%d", c.FilePath, c.StartLine, c.EndLine)

	var extras []string
	if c.FunctionName != "" {
		extras = append(extras, c.FunctionName)
	}
	if c.Score != 0 {
		extras = append(extras, fmt.Sprintf("%.2f", c.Score))
	}
	if len(extras) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(extras, ", "))
	}
	return b.String()
}
