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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Kodiak/pkg/ux"
)

// dialTimeout bounds the websocket handshake when the session starts.
const dialTimeout = 30 * time.Second

// QuestionStreamer abstracts the websocket session so the ask loop can
// be tested with a stub.
type QuestionStreamer interface {
	Ask(ctx context.Context, question string, renderer ux.StreamRenderer) (*ux.StreamResult, error)
	Close() error
}

// askRunner drives one interactive ask session: read a question, stream
// the answer, repeat until exit. All collaborators are interfaces so
// tests can run the loop without a terminal or server.
type askRunner struct {
	stream      QuestionStreamer
	input       InputReader
	ui          ux.ChatUI
	header      ux.HeaderConfig
	personality ux.PersonalityLevel

	// newRenderer builds the per-question stream renderer.
	newRenderer func() ux.StreamRenderer

	sessionStart    time.Time
	stats           ux.SessionStats
	totalAnswerTime time.Duration
}

func runAsk(cmd *cobra.Command, args []string) {
	requireRepo()
	client := newClient()

	// Ctrl+C cancels the session context for a clean shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	dialCtx, dialCancel := context.WithTimeout(ctx, dialTimeout)
	stream, err := client.DialStream(dialCtx, repoID)
	dialCancel()
	if err != nil {
		ux.Error(fmt.Sprintf("Connect: %v", err))
		ux.Muted("Is kodiakd running? Try: kodiak version")
		os.Exit(1)
	}
	defer stream.Close()

	// Closing the connection on cancel unblocks a pending read.
	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	var serverVersion string
	healthCtx, healthCancel := context.WithTimeout(ctx, 5*time.Second)
	if health, err := client.Health(healthCtx); err == nil {
		serverVersion = health.Version
	}
	healthCancel()

	runner := &askRunner{
		stream: stream,
		input:  NewInteractiveInputReader(50),
		ui:     ux.NewChatUI(),
		header: ux.HeaderConfig{
			RepoID:  repoID,
			Server:  resolveServerURL(),
			Version: serverVersion,
		},
		personality: ux.GetPersonality().Level,
		newRenderer: func() ux.StreamRenderer {
			return ux.NewTerminalStreamRenderer(os.Stdout, ux.GetPersonality().Level)
		},
	}
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		ux.Error(fmt.Sprintf("Session error: %v", err))
		os.Exit(1)
	}
}

// Run executes the session loop until exit, EOF, cancellation, or a
// transport failure.
func (r *askRunner) Run(ctx context.Context) error {
	r.sessionStart = time.Now()
	r.ui.Header(r.header)

	for {
		// Check for cancellation before blocking on input.
		select {
		case <-ctx.Done():
			r.endSession()
			return ctx.Err()
		default:
		}

		// Readers that render their own prompt get it set; otherwise
		// print it manually.
		if p, ok := r.input.(PromptingInputReader); ok {
			p.SetPrompt(r.ui.Prompt())
		} else {
			fmt.Print(r.ui.Prompt())
		}
		input, err := r.input.ReadLine()
		if err != nil {
			if err == io.EOF {
				r.endSession()
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		if input == "" {
			continue
		}

		// Bubbletea clears its render area on exit, so restore the
		// visual line for interactive readers.
		if _, interactive := r.input.(*InteractiveInputReader); interactive {
			fmt.Printf("%s%s\n", r.ui.Prompt(), input)
		}

		if isExitCommand(input) {
			r.endSession()
			return nil
		}

		if err := r.handleQuestion(ctx, input); err != nil {
			if ctx.Err() != nil {
				r.endSession()
				return ctx.Err()
			}
			if errors.Is(err, ErrStreamFailed) {
				// The renderer already displayed the server's message.
				continue
			}
			// Transport failure: the connection is dead.
			return err
		}
	}
}

// handleQuestion streams one answer and accumulates session stats.
func (r *askRunner) handleQuestion(ctx context.Context, question string) error {
	timer := &firstTokenTimer{
		StreamRenderer: r.newRenderer(),
		start:          time.Now(),
	}

	result, err := r.stream.Ask(ctx, question, timer)
	if err != nil {
		return err
	}
	elapsed := time.Since(timer.start)

	r.stats.Questions++
	if r.stats.Questions == 1 {
		r.stats.FirstResponseLatency = timer.latency
	}
	r.totalAnswerTime += elapsed
	r.stats.AverageResponseTime = r.totalAnswerTime / time.Duration(r.stats.Questions)

	if result != nil {
		r.stats.Citations += len(result.Citations)
		// Machine mode already emitted citations and confidence in the
		// renderer's Finalize.
		if r.personality != ux.PersonalityMachine {
			if len(result.Citations) > 0 {
				r.ui.Citations(result.Citations)
			} else {
				r.ui.NoCitations()
			}
			r.ui.Confidence(result.Confidence)
		}
	}
	fmt.Println()
	return nil
}

// endSession finalizes duration and displays the summary.
func (r *askRunner) endSession() {
	r.stats.Duration = time.Since(r.sessionStart)
	if r.stats.Questions == 0 {
		r.ui.SessionEnd(nil)
		return
	}
	r.ui.SessionEnd(&r.stats)
}

// firstTokenTimer wraps a renderer to record how long the first answer
// content took to arrive.
type firstTokenTimer struct {
	ux.StreamRenderer
	start   time.Time
	latency time.Duration
}

func (t *firstTokenTimer) OnToken(token string) {
	t.mark()
	t.StreamRenderer.OnToken(token)
}

func (t *firstTokenTimer) OnFinal(answer string, citations []ux.Citation, confidence string) {
	t.mark()
	t.StreamRenderer.OnFinal(answer, citations, confidence)
}

func (t *firstTokenTimer) mark() {
	if t.latency == 0 {
		t.latency = time.Since(t.start)
	}
}
