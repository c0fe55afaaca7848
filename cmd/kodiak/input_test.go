// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"io"
	"os"
	"testing"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

// =============================================================================
// Interface Assertions
// =============================================================================

var (
	_ InputReader          = &StdinReader{}
	_ InputReader          = &MockInputReader{}
	_ PromptingInputReader = &InteractiveInputReader{}
)

// =============================================================================
// MockInputReader Tests
// =============================================================================

func TestMockInputReader_ReadLine_ReturnsInputsInOrder(t *testing.T) {
	inputs := []string{"first", "second", "third"}
	reader := NewMockInputReader(inputs)

	for i, expected := range inputs {
		got, err := reader.ReadLine()
		if err != nil {
			t.Fatalf("ReadLine() %d: unexpected error: %v", i, err)
		}
		if got != expected {
			t.Errorf("ReadLine() %d: got %q, want %q", i, got, expected)
		}
	}
}

func TestMockInputReader_ReadLine_ReturnsEOFWhenExhausted(t *testing.T) {
	reader := NewMockInputReader([]string{"only"})

	if _, err := reader.ReadLine(); err != nil {
		t.Fatalf("first ReadLine(): unexpected error: %v", err)
	}
	if _, err := reader.ReadLine(); err != io.EOF {
		t.Errorf("second ReadLine(): got error %v, want io.EOF", err)
	}
}

func TestMockInputReader_ReadLine_EmptyInputs(t *testing.T) {
	reader := NewMockInputReader(nil)

	if _, err := reader.ReadLine(); err != io.EOF {
		t.Errorf("ReadLine() on empty: got error %v, want io.EOF", err)
	}
}

// =============================================================================
// InteractiveInputReader Tests
// =============================================================================

func TestNewInteractiveInputReader_NonTTYFallsBack(t *testing.T) {
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		t.Skip("stdin is a terminal")
	}

	reader := NewInteractiveInputReader(10)
	if _, ok := reader.(*StdinReader); !ok {
		t.Errorf("expected StdinReader fallback, got %T", reader)
	}
}

func TestAddToHistory_SkipsConsecutiveDuplicates(t *testing.T) {
	r := &InteractiveInputReader{historyIndex: -1, maxHistory: 10}

	r.addToHistory("how does auth work")
	r.addToHistory("how does auth work")
	r.addToHistory("where is main")

	if len(r.history) != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", len(r.history), r.history)
	}
	if r.history[0] != "how does auth work" || r.history[1] != "where is main" {
		t.Errorf("unexpected history: %v", r.history)
	}
}

func TestAddToHistory_AllowsNonConsecutiveDuplicates(t *testing.T) {
	r := &InteractiveInputReader{historyIndex: -1, maxHistory: 10}

	r.addToHistory("a")
	r.addToHistory("b")
	r.addToHistory("a")

	if len(r.history) != 3 {
		t.Errorf("expected 3 entries, got %d: %v", len(r.history), r.history)
	}
}

func TestAddToHistory_TrimsOldestPastMax(t *testing.T) {
	r := &InteractiveInputReader{historyIndex: -1, maxHistory: 2}

	r.addToHistory("one")
	r.addToHistory("two")
	r.addToHistory("three")

	if len(r.history) != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", len(r.history), r.history)
	}
	if r.history[0] != "two" || r.history[1] != "three" {
		t.Errorf("expected oldest trimmed, got %v", r.history)
	}
}

// =============================================================================
// inputModel Tests
// =============================================================================

func newTestInputModel(history []string) inputModel {
	ti := textinput.New()
	ti.Prompt = "> "
	return inputModel{
		textInput:    ti,
		history:      history,
		historyIndex: -1,
	}
}

func keyMsg(t tea.KeyType) tea.Msg {
	return tea.KeyMsg{Type: t}
}

func TestInputModel_EnterSubmits(t *testing.T) {
	m := newTestInputModel(nil)
	m.textInput.SetValue("hello")

	updated, _ := m.Update(keyMsg(tea.KeyEnter))
	result := updated.(inputModel)

	if !result.done {
		t.Error("expected done after enter")
	}
	if result.cancelled {
		t.Error("enter must not cancel")
	}
	if result.textInput.Value() != "hello" {
		t.Errorf("value = %q, want %q", result.textInput.Value(), "hello")
	}
}

func TestInputModel_CtrlCClearsInput(t *testing.T) {
	m := newTestInputModel(nil)
	m.textInput.SetValue("partial question")

	updated, _ := m.Update(keyMsg(tea.KeyCtrlC))
	result := updated.(inputModel)

	if !result.done {
		t.Error("expected done after ctrl+c")
	}
	if result.cancelled {
		t.Error("ctrl+c clears input, it does not cancel the session")
	}
	if result.textInput.Value() != "" {
		t.Errorf("expected cleared input, got %q", result.textInput.Value())
	}
}

func TestInputModel_CtrlDCancels(t *testing.T) {
	m := newTestInputModel(nil)

	updated, _ := m.Update(keyMsg(tea.KeyCtrlD))
	result := updated.(inputModel)

	if !result.cancelled {
		t.Error("expected cancelled after ctrl+d")
	}
	if result.textInput.Value() != "" {
		t.Errorf("expected empty input, got %q", result.textInput.Value())
	}
}

func TestInputModel_UpNavigatesHistory(t *testing.T) {
	m := newTestInputModel([]string{"oldest", "newest"})
	m.textInput.SetValue("draft")

	updated, _ := m.Update(keyMsg(tea.KeyUp))
	result := updated.(inputModel)

	if result.textInput.Value() != "newest" {
		t.Errorf("first up: value = %q, want %q", result.textInput.Value(), "newest")
	}
	if result.currentInput != "draft" {
		t.Errorf("draft input not saved: %q", result.currentInput)
	}

	updated, _ = result.Update(keyMsg(tea.KeyUp))
	result = updated.(inputModel)

	if result.textInput.Value() != "oldest" {
		t.Errorf("second up: value = %q, want %q", result.textInput.Value(), "oldest")
	}

	// A third up stays at the oldest entry.
	updated, _ = result.Update(keyMsg(tea.KeyUp))
	result = updated.(inputModel)

	if result.textInput.Value() != "oldest" {
		t.Errorf("third up: value = %q, want %q", result.textInput.Value(), "oldest")
	}
}

func TestInputModel_DownReturnsToDraft(t *testing.T) {
	m := newTestInputModel([]string{"previous"})
	m.textInput.SetValue("draft")

	updated, _ := m.Update(keyMsg(tea.KeyUp))
	result := updated.(inputModel)
	if result.textInput.Value() != "previous" {
		t.Fatalf("up: value = %q, want %q", result.textInput.Value(), "previous")
	}

	updated, _ = result.Update(keyMsg(tea.KeyDown))
	result = updated.(inputModel)

	if result.textInput.Value() != "draft" {
		t.Errorf("down past newest: value = %q, want %q", result.textInput.Value(), "draft")
	}
	if result.historyIndex != -1 {
		t.Errorf("historyIndex = %d, want -1", result.historyIndex)
	}
}

func TestInputModel_UpWithEmptyHistoryIsNoop(t *testing.T) {
	m := newTestInputModel(nil)
	m.textInput.SetValue("draft")

	updated, _ := m.Update(keyMsg(tea.KeyUp))
	result := updated.(inputModel)

	if result.textInput.Value() != "draft" {
		t.Errorf("value = %q, want %q", result.textInput.Value(), "draft")
	}
}

func TestInputModel_ViewEmptyWhenDone(t *testing.T) {
	m := newTestInputModel(nil)
	m.done = true

	if view := m.View(); view != "" {
		t.Errorf("expected empty view when done, got %q", view)
	}
}

// =============================================================================
// isExitCommand Tests
// =============================================================================

func TestIsExitCommand(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"exit", true},
		{"quit", true},
		{"EXIT", false}, // case-sensitive
		{"Exit", false},
		{"hello", false},
		{"", false},
		{"exit please", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := isExitCommand(tt.input); got != tt.want {
				t.Errorf("isExitCommand(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
