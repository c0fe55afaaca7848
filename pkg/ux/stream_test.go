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
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

// =============================================================================
// RenderEvent Tests
// =============================================================================

func TestRenderEvent_Token(t *testing.T) {
	r := NewBufferStreamRenderer()

	done, err := RenderEvent(r, StreamEvent{Type: StreamEventToken, Token: "hi"})

	if done || err != nil {
		t.Errorf("token event: done=%v err=%v, want false/nil", done, err)
	}
	if events := r.Events(); len(events) != 1 || events[0].Token != "hi" {
		t.Errorf("unexpected events %+v", events)
	}
}

func TestRenderEvent_Final(t *testing.T) {
	r := NewBufferStreamRenderer()

	done, err := RenderEvent(r, StreamEvent{
		Type:       StreamEventFinal,
		Answer:     "done",
		Confidence: "high",
	})

	if !done || err != nil {
		t.Errorf("final event: done=%v err=%v, want true/nil", done, err)
	}
	result := r.Result()
	if result == nil || result.Answer != "done" || result.Confidence != "high" {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestRenderEvent_Error(t *testing.T) {
	r := NewBufferStreamRenderer()

	done, err := RenderEvent(r, StreamEvent{Type: StreamEventError, Error: "boom"})

	if !done {
		t.Error("error event should terminate the stream")
	}
	if err == nil || err.Error() != "boom" {
		t.Errorf("expected error 'boom', got %v", err)
	}
	if r.Result() != nil {
		t.Error("errored stream should have nil result")
	}
}

func TestRenderEvent_UnknownTypeSkipped(t *testing.T) {
	r := NewBufferStreamRenderer()

	done, err := RenderEvent(r, StreamEvent{Type: "progress"})

	if done || err != nil {
		t.Errorf("unknown event: done=%v err=%v, want false/nil", done, err)
	}
	if len(r.Events()) != 0 {
		t.Error("unknown event should not be recorded")
	}
}

// =============================================================================
// StreamEvent Decoding Tests
// =============================================================================

func TestStreamEvent_DecodesServerFrame(t *testing.T) {
	frame := `{"type":"final","answer":"Retries use backoff.","citations":[` +
		`{"file_path":"pkg/client.go","start_line":10,"end_line":42,` +
		`"function_name":"Retry","score":0.91}],"confidence":"high"}`

	var event StreamEvent
	if err := json.Unmarshal([]byte(frame), &event); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}

	if event.Type != StreamEventFinal {
		t.Errorf("type = %v, want final", event.Type)
	}
	if event.Answer != "Retries use backoff." {
		t.Errorf("answer = %q", event.Answer)
	}
	if len(event.Citations) != 1 || event.Citations[0].FunctionName != "Retry" {
		t.Errorf("citations = %+v", event.Citations)
	}
}

// =============================================================================
// Terminal Renderer Tests
// =============================================================================

func TestTerminalRenderer_StreamsTokens(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminalStreamRenderer(&buf, PersonalityFull)

	r.OnToken("The ")
	r.OnToken("answer")
	r.OnFinal("The answer", nil, "high")
	r.Finalize()

	if got := buf.String(); got != "The answer\n" {
		t.Errorf("streamed output = %q, want tokens plus newline", got)
	}

	result := r.Result()
	if result == nil || result.Answer != "The answer" {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestTerminalRenderer_FinalWithoutTokens(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminalStreamRenderer(&buf, PersonalityFull)

	r.OnFinal("Standalone answer", nil, "medium")
	r.Finalize()

	if got := buf.String(); got != "Standalone answer\n" {
		t.Errorf("output = %q, want the final answer printed once", got)
	}
}

func TestTerminalRenderer_EmptyFinalFallsBackToTokens(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminalStreamRenderer(&buf, PersonalityFull)

	r.OnToken("partial")
	r.OnFinal("", nil, "")
	r.Finalize()

	result := r.Result()
	if result == nil || result.Answer != "partial" {
		t.Errorf("expected token text as answer, got %+v", result)
	}
}

func TestTerminalRenderer_MachineMode(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminalStreamRenderer(&buf, PersonalityMachine)

	r.OnToken("The ")
	r.OnToken("answer")
	r.OnFinal("The answer", []Citation{
		{FilePath: "pkg/client.go", StartLine: 10, EndLine: 42},
	}, "high")

	if buf.Len() != 0 {
		t.Errorf("machine mode should buffer until Finalize, got %q", buf.String())
	}

	r.Finalize()
	output := buf.String()
	for _, want := range []string{
		"ANSWER: The answer",
		"CITATION: pkg/client.go:10-42",
		"CONFIDENCE: high",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in machine output, got %q", want, output)
		}
	}
}

func TestTerminalRenderer_MachineModeError(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminalStreamRenderer(&buf, PersonalityMachine)

	r.OnError("index unavailable")
	r.Finalize()

	if got := buf.String(); got != "ERROR: index unavailable\n" {
		t.Errorf("output = %q", got)
	}
	if r.Result() != nil {
		t.Error("errored stream should have nil result")
	}
}

func TestTerminalRenderer_ErrorAfterTokens(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminalStreamRenderer(&buf, PersonalityFull)

	r.OnToken("partial ")
	r.OnError("model timeout")
	r.Finalize()

	output := buf.String()
	if !strings.Contains(output, "partial ") {
		t.Errorf("streamed tokens should remain visible, got %q", output)
	}
	if !strings.Contains(output, "model timeout") {
		t.Errorf("expected error message, got %q", output)
	}
}

// =============================================================================
// Buffer Renderer Tests
// =============================================================================

func TestBufferRenderer_RecordsEvents(t *testing.T) {
	r := NewBufferStreamRenderer()

	r.OnToken("a")
	r.OnToken("b")
	r.OnFinal("ab", nil, "low")

	events := r.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != StreamEventToken || events[2].Type != StreamEventFinal {
		t.Errorf("unexpected event order %+v", events)
	}
}

func TestBufferRenderer_EmptyFinalUsesTokens(t *testing.T) {
	r := NewBufferStreamRenderer()

	r.OnToken("joined ")
	r.OnToken("text")
	r.OnFinal("", nil, "")

	result := r.Result()
	if result == nil || result.Answer != "joined text" {
		t.Errorf("expected joined tokens, got %+v", result)
	}
}

// =============================================================================
// Formatting Tests
// =============================================================================

func TestConfidenceBadge(t *testing.T) {
	tests := []struct {
		level string
		want  string
	}{
		{"high", "confidence: high"},
		{"medium", "confidence: medium"},
		{"low", "confidence: low"},
		{"HIGH", "confidence: high"},
		{"", "confidence: unknown"},
		{"weird", "confidence: unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			got := ConfidenceBadge(tt.level)
			if !strings.Contains(got, tt.want) {
				t.Errorf("ConfidenceBadge(%q) = %q, want substring %q", tt.level, got, tt.want)
			}
		})
	}
}

func TestFormatCitation(t *testing.T) {
	tests := []struct {
		name string
		c    Citation
		want string
	}{
		{
			"full",
			Citation{FilePath: "pkg/client.go", StartLine: 10, EndLine: 42, FunctionName: "Retry", Score: 0.91},
			"pkg/client.go:10-42 (Retry, 0.91)",
		},
		{
			"no score",
			Citation{FilePath: "pkg/client.go", StartLine: 10, EndLine: 42, FunctionName: "Retry"},
			"pkg/client.go:10-42 (Retry)",
		},
		{
			"bare",
			Citation{FilePath: "pkg/backoff.go", StartLine: 5, EndLine: 30},
			"pkg/backoff.go:5-30",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatCitation(tt.c)
			if got != tt.want {
				t.Errorf("FormatCitation = %q, want %q", got, tt.want)
			}
		})
	}
}
