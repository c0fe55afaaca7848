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
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

// =============================================================================
// InputReader Interface
// =============================================================================

// InputReader abstracts reading one line of user input so the ask loop
// can be tested without a terminal. Production sessions use
// InteractiveInputReader (or StdinReader when piped); tests use
// MockInputReader.
type InputReader interface {
	// ReadLine blocks until a line is available and returns it with
	// surrounding whitespace trimmed. Returns io.EOF when input ends.
	ReadLine() (string, error)
}

// PromptingInputReader is implemented by readers that display their own
// prompt. The ask loop checks for it before printing one itself:
//
//	if p, ok := reader.(PromptingInputReader); ok {
//	    p.SetPrompt(ui.Prompt())
//	} else {
//	    fmt.Print(ui.Prompt())
//	}
type PromptingInputReader interface {
	InputReader

	// SetPrompt sets the prompt string shown before input.
	SetPrompt(prompt string)
}

// =============================================================================
// StdinReader
// =============================================================================

// StdinReader reads newline-terminated input from os.Stdin. It is the
// fallback for piped input and CI, with no line editing or history.
//
// Not thread-safe. Single reader per stdin.
type StdinReader struct {
	reader *bufio.Reader
}

// NewStdinReader creates a reader wrapping os.Stdin.
func NewStdinReader() *StdinReader {
	return &StdinReader{
		reader: bufio.NewReader(os.Stdin),
	}
}

// ReadLine reads until newline and returns the trimmed result. Returns
// io.EOF when stdin closes.
func (r *StdinReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// =============================================================================
// InteractiveInputReader
// =============================================================================

// InteractiveInputReader reads input through a bubbletea textinput with
// up/down arrow history navigation and line editing. History lives in
// memory only and is capped at maxHistory entries.
//
// Not thread-safe. Single reader per stdin.
type InteractiveInputReader struct {
	history      []string
	historyIndex int
	maxHistory   int
	prompt       string
}

// inputModel is the bubbletea model for one ReadLine call.
type inputModel struct {
	textInput    textinput.Model
	history      []string
	historyIndex int
	currentInput string // saved when the user first navigates into history
	done         bool
	cancelled    bool
}

// NewInteractiveInputReader creates an input reader with history. When
// stdin is not a TTY (piped input, CI) it returns a StdinReader
// instead, so callers can use the result unconditionally.
//
// The reader displays the prompt itself; set it via SetPrompt.
func NewInteractiveInputReader(maxHistory int) InputReader {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return NewStdinReader()
	}

	return &InteractiveInputReader{
		history:      make([]string, 0, maxHistory),
		historyIndex: -1,
		maxHistory:   maxHistory,
		prompt:       "> ",
	}
}

// SetPrompt sets the prompt the textinput component displays.
func (r *InteractiveInputReader) SetPrompt(prompt string) {
	r.prompt = prompt
}

// ReadLine reads one line interactively. Enter submits, Ctrl+C clears
// the current input and returns an empty line, Ctrl+D on an empty line
// returns io.EOF, and up/down arrows navigate history. Non-empty
// submissions are added to history.
func (r *InteractiveInputReader) ReadLine() (string, error) {
	ti := textinput.New()
	ti.Prompt = r.prompt
	ti.Focus()
	ti.CharLimit = 4096
	ti.Width = 80

	m := inputModel{
		textInput:    ti,
		history:      r.history,
		historyIndex: -1,
	}

	p := tea.NewProgram(m, tea.WithOutput(os.Stderr))
	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}

	result, ok := finalModel.(inputModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type from bubbletea: %T", finalModel)
	}

	if result.cancelled && result.textInput.Value() == "" {
		return "", io.EOF
	}

	input := strings.TrimSpace(result.textInput.Value())
	if input != "" {
		r.addToHistory(input)
	}
	return input, nil
}

// addToHistory appends input, skipping duplicates of the most recent
// entry and trimming the oldest entry past maxHistory.
func (r *InteractiveInputReader) addToHistory(input string) {
	if len(r.history) > 0 && r.history[len(r.history)-1] == input {
		return
	}

	r.history = append(r.history, input)
	if len(r.history) > r.maxHistory {
		r.history = r.history[1:]
	}
}

// Init starts the cursor blink.
func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles key events for the input model.
func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlC:
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlD:
			m.cancelled = true
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyUp:
			if len(m.history) == 0 {
				return m, nil
			}
			if m.historyIndex == -1 {
				m.currentInput = m.textInput.Value()
				m.historyIndex = len(m.history) - 1
			} else if m.historyIndex > 0 {
				m.historyIndex--
			}
			m.textInput.SetValue(m.history[m.historyIndex])
			m.textInput.CursorEnd()
			return m, nil

		case tea.KeyDown:
			if m.historyIndex == -1 {
				return m, nil
			}
			if m.historyIndex < len(m.history)-1 {
				m.historyIndex++
				m.textInput.SetValue(m.history[m.historyIndex])
			} else {
				m.historyIndex = -1
				m.textInput.SetValue(m.currentInput)
			}
			m.textInput.CursorEnd()
			return m, nil
		}
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

// View renders the input line, or nothing once submitted so the loop
// can echo the final input itself.
func (m inputModel) View() string {
	if m.done {
		return ""
	}
	return m.textInput.View()
}

// =============================================================================
// MockInputReader
// =============================================================================

// MockInputReader returns predetermined inputs in order, then io.EOF.
// For tests.
type MockInputReader struct {
	inputs []string
	index  int
}

// NewMockInputReader creates a mock that replays inputs in order.
func NewMockInputReader(inputs []string) *MockInputReader {
	return &MockInputReader{inputs: inputs}
}

// ReadLine returns the next input, or io.EOF when exhausted.
func (m *MockInputReader) ReadLine() (string, error) {
	if m.index >= len(m.inputs) {
		return "", io.EOF
	}
	line := m.inputs[m.index]
	m.index++
	return line, nil
}

// isExitCommand reports whether input ends the ask session.
func isExitCommand(input string) bool {
	return input == "exit" || input == "quit"
}
