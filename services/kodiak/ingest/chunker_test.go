// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
)

func TestChunkID(t *testing.T) {
	// md5("repo_web:src/auth.py:validate_token")
	want := "8d88cb33a8faf34f029b751d0f2a5ae0"
	if got := ChunkID("repo_web", "src/auth.py", "validate_token"); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}

	// Stable across calls, distinct across inputs.
	a := ChunkID("r", "f.py", "x")
	b := ChunkID("r", "f.py", "x")
	c := ChunkID("r", "f.py", "y")
	if a != b {
		t.Error("expected deterministic IDs")
	}
	if a == c {
		t.Error("expected distinct IDs for distinct identifiers")
	}
}

func TestChunker_ChunkFile(t *testing.T) {
	chunker := NewChunker()

	content := "import os\n\ndef greet(name):\n    return helper(name)\n\nEND"
	pf := &ParsedFile{
		FilePath: "src/greet.py",
		Language: datatypes.LanguagePython,
		Definitions: []Definition{
			{
				Name:         "greet",
				Kind:         datatypes.ChunkTypeFunction,
				StartLine:    3,
				EndLine:      4,
				DocString:    "Say hello.",
				Params:       []string{"name"},
				Calls:        []string{"helper", "fmtmod.run"},
				Dependencies: []string{"fmtmod"},
			},
		},
	}

	chunks, edges, err := chunker.ChunkFile("repo_web", pf, content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	chunk := chunks[0]
	if chunk.ID != ChunkID("repo_web", "src/greet.py", "greet") {
		t.Errorf("unexpected chunk ID %s", chunk.ID)
	}
	if chunk.Code != "def greet(name):\n    return helper(name)" {
		t.Errorf("unexpected code slice: %q", chunk.Code)
	}
	if chunk.RepoID != "repo_web" || chunk.FilePath != "src/greet.py" {
		t.Errorf("unexpected chunk scope: %s %s", chunk.RepoID, chunk.FilePath)
	}
	if chunk.Identifier != "greet" || chunk.ChunkType != datatypes.ChunkTypeFunction {
		t.Errorf("unexpected identity: %s %s", chunk.Identifier, chunk.ChunkType)
	}
	if chunk.DocString != "Say hello." {
		t.Errorf("unexpected docstring: %q", chunk.DocString)
	}
	if len(chunk.Callers) != 0 || len(chunk.Callees) != 0 {
		t.Error("callers and callees must stay empty at ingest time")
	}

	if len(edges) != 2 {
		t.Fatalf("expected 2 call edges, got %d", len(edges))
	}
	first := edges[0]
	if first.CallerIdentifier != "greet" || first.CalleeIdentifier != "helper" {
		t.Errorf("unexpected edge: %+v", first)
	}
	if first.CallerFile != "src/greet.py" || first.RepoID != "repo_web" {
		t.Errorf("unexpected edge scope: %+v", first)
	}
	if first.CallType != datatypes.CallTypeDirect || first.Line != 3 {
		t.Errorf("unexpected edge metadata: %+v", first)
	}
	if edges[1].CalleeIdentifier != "fmtmod.run" {
		t.Errorf("expected dotted callee kept as written, got %q", edges[1].CalleeIdentifier)
	}
}

func TestChunker_ChunkFile_ClassChunk(t *testing.T) {
	chunker := NewChunker()

	content := "class Widget(Base):\n    pass"
	pf := &ParsedFile{
		FilePath: "widget.py",
		Language: datatypes.LanguagePython,
		Definitions: []Definition{
			{
				Name:         "Widget",
				Kind:         datatypes.ChunkTypeClass,
				StartLine:    1,
				EndLine:      2,
				Bases:        []string{"Base"},
				Dependencies: []string{"Base"},
			},
		},
	}

	chunks, edges, err := chunker.ChunkFile("r", pf, content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if !stringsEqual(chunks[0].Dependencies, []string{"Base"}) {
		t.Errorf("expected base classes as dependencies, got %v", chunks[0].Dependencies)
	}
	if len(edges) != 0 {
		t.Errorf("expected no edges for a class without calls, got %d", len(edges))
	}
}

func TestChunker_ChunkFile_SplitsOversized(t *testing.T) {
	chunker := NewChunker(WithSplitSize(500), WithSplitOverlap(50))

	line := strings.Repeat("a", 80)
	lines := make([]string, 30)
	for i := range lines {
		lines[i] = line
	}
	content := strings.Join(lines, "\n")

	pf := &ParsedFile{
		FilePath: "big.py",
		Language: datatypes.LanguagePython,
		Definitions: []Definition{
			{
				Name:      "big",
				Kind:      datatypes.ChunkTypeFunction,
				StartLine: 1,
				EndLine:   30,
				DocString: "Large body.",
			},
		},
	}

	chunks, _, err := chunker.ChunkFile("r", pf, content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected the definition to split, got %d chunks", len(chunks))
	}

	for i, chunk := range chunks {
		wantID := fmt.Sprintf("big#part%d", i+1)
		if chunk.Identifier != wantID {
			t.Errorf("chunk %d: expected identifier %q, got %q", i, wantID, chunk.Identifier)
		}
		if chunk.ID != ChunkID("r", "big.py", chunk.Identifier) {
			t.Errorf("chunk %d: ID does not hash the part identifier", i)
		}
		if chunk.StartLine != 1 || chunk.EndLine != 30 {
			t.Errorf("chunk %d: parts keep the definition line range, got %d-%d", i, chunk.StartLine, chunk.EndLine)
		}
		if len(chunk.Code) == 0 {
			t.Errorf("chunk %d: empty code", i)
		}
	}

	if chunks[0].DocString != "Large body." {
		t.Errorf("expected docstring on first part, got %q", chunks[0].DocString)
	}
	if chunks[1].DocString != "" {
		t.Errorf("expected no docstring on later parts, got %q", chunks[1].DocString)
	}
}

func TestSliceLines(t *testing.T) {
	content := "l1\nl2\nl3\nl4"

	tests := []struct {
		name       string
		start, end int
		want       string
	}{
		{name: "middle range", start: 2, end: 3, want: "l2\nl3"},
		{name: "single line", start: 3, end: 3, want: "l3"},
		{name: "full range", start: 1, end: 4, want: content},
		{name: "start clamped", start: 0, end: 2, want: "l1\nl2"},
		{name: "end clamped", start: 2, end: 99, want: "l2\nl3\nl4"},
		{name: "start past end of file", start: 5, end: 6, want: ""},
		{name: "inverted range", start: 3, end: 2, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sliceLines(content, tt.start, tt.end); got != tt.want {
				t.Errorf("sliceLines(%d, %d) = %q, want %q", tt.start, tt.end, got, tt.want)
			}
		})
	}
}
