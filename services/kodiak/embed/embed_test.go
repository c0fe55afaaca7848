// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embed

import (
	"strings"
	"testing"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
)

func TestFormatChunkText(t *testing.T) {
	tests := []struct {
		name  string
		chunk datatypes.ChunkRecord
		want  string
	}{
		{
			name: "all metadata",
			chunk: datatypes.ChunkRecord{
				FilePath:     "src/auth.py",
				Identifier:   "login",
				DocString:    "Authenticate a user.",
				Code:         "def login(): pass",
				Dependencies: []string{"jwt", "db"},
			},
			want: "File: src/auth.py\n" +
				"Name: login\n" +
				"Description: Authenticate a user.\n" +
				"Code:\ndef login(): pass\n" +
				"Uses: jwt, db",
		},
		{
			name: "missing docstring and dependencies",
			chunk: datatypes.ChunkRecord{
				FilePath:   "src/util.py",
				Identifier: "helper",
				Code:       "def helper(): pass",
			},
			want: "File: src/util.py\n" +
				"Name: helper\n" +
				"Code:\ndef helper(): pass",
		},
		{
			name: "dependency list capped at five",
			chunk: datatypes.ChunkRecord{
				Identifier:   "busy",
				Dependencies: []string{"a", "b", "c", "d", "e", "f", "g"},
			},
			want: "Name: busy\nUses: a, b, c, d, e",
		},
		{
			name:  "empty chunk",
			chunk: datatypes.ChunkRecord{},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatChunkText(&tt.chunk, DefaultMaxTokens)
			if got != tt.want {
				t.Errorf("formatChunkText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatChunkTextTruncates(t *testing.T) {
	maxTokens := 8
	chunk := datatypes.ChunkRecord{
		Identifier: "big",
		Code:       strings.Repeat("x", 500),
	}

	got := formatChunkText(&chunk, maxTokens)
	if len(got) != maxTokens*4 {
		t.Fatalf("formatChunkText() length = %d, want %d", len(got), maxTokens*4)
	}
	if !strings.HasPrefix(got, "Name: big\nCode:\n") {
		t.Errorf("formatChunkText() = %q, want metadata prefix intact", got)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("New(nil) error = nil, want error")
	}
}
