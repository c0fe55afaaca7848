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
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// HeaderConfig groups the optional parameters for the ask-session
// header so new fields can be added without breaking callers.
//
// # Fields
//
//   - RepoID: Required. The repository being questioned.
//   - Server: Daemon address the session is connected to.
//   - Version: Server version string, if known.
type HeaderConfig struct {
	RepoID  string
	Server  string
	Version string
}

// SessionStats aggregates metrics from an ask session for display
// when the session ends.
//
// # Fields
//
//   - Questions: Number of questions asked
//   - Citations: Total citations returned across all answers
//   - Duration: Total session duration
//   - FirstResponseLatency: Time to the first answer's first token
//   - AverageResponseTime: Average time per answer
type SessionStats struct {
	Questions            int
	Citations            int
	Duration             time.Duration
	FirstResponseLatency time.Duration
	AverageResponseTime  time.Duration
}

// ChatUI defines the interface for interactive ask-session display.
//
// # Description
//
// ChatUI abstracts terminal rendering for the interactive question
// loop: the session header, the input prompt, answers with their
// citations and confidence, and the end-of-session summary. All
// methods respect the personality level the UI was built with, so the
// same loop drives rich terminals and piped machine output.
//
// # Thread Safety
//
// Implementations are not thread-safe. Drive them from the single
// session goroutine.
type ChatUI interface {
	// Header displays the session header once at startup.
	Header(config HeaderConfig)

	// Prompt returns the styled input prompt string. The caller
	// displays it; the UI never reads input itself.
	Prompt() string

	// Response displays a complete answer. When the answer already
	// streamed token-by-token, skip this and call Citations directly.
	Response(answer string)

	// Citations displays the code citations for the last answer.
	Citations(citations []Citation)

	// NoCitations notes that the last answer cited nothing.
	NoCitations()

	// Confidence displays the confidence level of the last answer.
	Confidence(level string)

	// Error displays a per-question failure. The session continues.
	Error(err error)

	// SessionEnd displays the end-of-session summary. stats may be
	// nil when nothing was asked.
	SessionEnd(stats *SessionStats)
}

// terminalChatUI implements ChatUI for terminal output
type terminalChatUI struct {
	writer      io.Writer
	personality PersonalityLevel
}

// NewChatUI creates a ChatUI writing to stdout with the current
// personality.
func NewChatUI() ChatUI {
	return &terminalChatUI{
		writer:      os.Stdout,
		personality: GetPersonality().Level,
	}
}

// NewChatUIWithWriter creates a ChatUI with a custom writer and
// personality (for testing).
func NewChatUIWithWriter(w io.Writer, personality PersonalityLevel) ChatUI {
	return &terminalChatUI{
		writer:      w,
		personality: personality,
	}
}

func (u *terminalChatUI) write(format string, args ...interface{}) {
	fmt.Fprintf(u.writer, format, args...)
}

func (u *terminalChatUI) writeln(args ...interface{}) {
	fmt.Fprintln(u.writer, args...)
}

// Header displays the ask-session header
func (u *terminalChatUI) Header(config HeaderConfig) {
	switch u.personality {
	case PersonalityMachine:
		u.write("MODE: ask\n")
		u.write("REPO: %s\n", config.RepoID)
		if config.Server != "" {
			u.write("SERVER: %s\n", config.Server)
		}
		if config.Version != "" {
			u.write("VERSION: %s\n", config.Version)
		}
	case PersonalityMinimal:
		u.write("Asking %s", config.RepoID)
		if config.Server != "" {
			u.write(" via %s", config.Server)
		}
		u.writeln()
		u.writeln("Type 'exit' to end.")
		u.writeln()
	default:
		u.headerFull(config)
	}
}

func (u *terminalChatUI) headerFull(config HeaderConfig) {
	var content strings.Builder
	content.WriteString(Styles.Highlight.Render(string(IconMountain) + " Kodiak"))
	content.WriteString("\n")
	content.WriteString(fmt.Sprintf("Repository: %s", Styles.Success.Render(config.RepoID)))
	if config.Server != "" {
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Server: %s", Styles.Muted.Render(config.Server)))
		if config.Version != "" {
			content.WriteString(Styles.Muted.Render(" (" + config.Version + ")"))
		}
	}

	boxStyle := Styles.Box.Width(60)
	u.writeln(boxStyle.Render(content.String()))
	u.writeln()
	u.writeln(Styles.Muted.Render("Ask about the code. Type 'exit' to end."))
	u.writeln()
}

// Prompt returns the styled input prompt string
func (u *terminalChatUI) Prompt() string {
	if u.personality == PersonalityMachine {
		return "> "
	}
	return Styles.Highlight.Render("> ")
}

// Response displays a complete answer
func (u *terminalChatUI) Response(answer string) {
	if u.personality == PersonalityMachine {
		u.write("ANSWER: %s\n", answer)
		return
	}
	u.writeln()
	u.writeln(answer)
}

// Citations displays the code citations for the last answer
func (u *terminalChatUI) Citations(citations []Citation) {
	if len(citations) == 0 {
		return
	}

	if u.personality == PersonalityMachine {
		for _, c := range citations {
			u.write("CITATION: %s\n", FormatCitation(c))
		}
		return
	}

	u.writeln()
	if u.personality == PersonalityMinimal {
		u.writeln("Citations:")
		for i, c := range citations {
			u.write("  %d. %s\n", i+1, FormatCitation(c))
		}
		return
	}

	// Full personality with styled box
	var content strings.Builder
	for i, c := range citations {
		location := fmt.Sprintf("%s:%d-%d", c.FilePath, c.StartLine, c.EndLine)
		content.WriteString(fmt.Sprintf("%d. %s", i+1, location))
		if c.FunctionName != "" {
			content.WriteString(" " + Styles.Code.Render(c.FunctionName))
		}
		if c.Score != 0 {
			content.WriteString(Styles.Muted.Render(fmt.Sprintf(" (%.2f)", c.Score)))
		}
		if i < len(citations)-1 {
			content.WriteString("\n")
		}
	}

	boxStyle := Styles.InfoBox.Width(60)
	titleLine := Styles.Subtitle.Render("Citations")
	u.writeln(boxStyle.Render(titleLine + "\n" + content.String()))
}

// NoCitations notes that the last answer cited nothing
func (u *terminalChatUI) NoCitations() {
	if u.personality == PersonalityMachine {
		u.writeln("CITATIONS: none")
		return
	}
	if u.personality != PersonalityMinimal {
		u.writeln(Styles.Muted.Render("(No code citations)"))
	}
}

// Confidence displays the confidence level of the last answer
func (u *terminalChatUI) Confidence(level string) {
	if level == "" {
		return
	}
	if u.personality == PersonalityMachine {
		u.write("CONFIDENCE: %s\n", level)
		return
	}
	u.writeln(ConfidenceBadge(level))
}

// Error displays a per-question failure
func (u *terminalChatUI) Error(err error) {
	if u.personality == PersonalityMachine {
		u.write("ERROR: %v\n", err)
		return
	}
	u.write("%s %s\n", IconError.Render(), Styles.Error.Render(fmt.Sprintf("%v", err)))
}

// SessionEnd displays the end-of-session summary
func (u *terminalChatUI) SessionEnd(stats *SessionStats) {
	switch u.personality {
	case PersonalityMachine:
		u.writeln("SESSION_END")
		if stats != nil {
			u.write("QUESTIONS: %d\n", stats.Questions)
			u.write("CITATIONS: %d\n", stats.Citations)
			u.write("DURATION: %s\n", FormatDuration(stats.Duration))
		}
	case PersonalityMinimal:
		if stats != nil && stats.Questions > 0 {
			u.write("%d questions in %s\n", stats.Questions, FormatDuration(stats.Duration))
		}
		u.writeln("Session ended.")
	default:
		u.sessionEndFull(stats)
	}
}

func (u *terminalChatUI) sessionEndFull(stats *SessionStats) {
	u.writeln()
	if stats == nil || stats.Questions == 0 {
		u.writeln(Styles.Muted.Render("Session ended."))
		return
	}

	var content strings.Builder
	content.WriteString(fmt.Sprintf("Questions: %s\n",
		Styles.Success.Render(fmt.Sprintf("%d", stats.Questions))))
	content.WriteString(fmt.Sprintf("Citations: %s\n",
		Styles.Success.Render(fmt.Sprintf("%d", stats.Citations))))
	content.WriteString(fmt.Sprintf("Duration: %s", FormatDuration(stats.Duration)))
	if stats.FirstResponseLatency > 0 {
		content.WriteString(fmt.Sprintf("\nFirst answer: %s",
			FormatDuration(stats.FirstResponseLatency)))
	}
	if stats.AverageResponseTime > 0 {
		content.WriteString(fmt.Sprintf("\nAverage answer: %s",
			FormatDuration(stats.AverageResponseTime)))
	}

	boxStyle := Styles.Box.Width(40)
	titleLine := Styles.Title.Render("Session Summary")
	u.writeln(boxStyle.Render(titleLine + "\n" + content.String()))
}

// FormatDuration renders a duration in a compact human form: "850ms",
// "12.3s", "4m05s", "1h12m".
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		m := int(d.Minutes())
		s := int(d.Seconds()) - m*60
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		h := int(d.Hours())
		m := int(d.Minutes()) - h*60
		return fmt.Sprintf("%dh%02dm", h, m)
	}
}

// FormatRelativeTime renders a past time as "just now", "5m ago",
// "3h ago", "2d ago", falling back to the date for older times.
func FormatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	age := time.Since(t)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	case age < 14*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}
