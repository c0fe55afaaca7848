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
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
)

// Splitting defaults for definitions too large to embed whole.
const (
	defaultSplitSize    = 2000
	defaultSplitOverlap = 200
)

// Separator ladders for the recursive splitter, most structural first.
var (
	pythonSeparators = []string{"\nclass ", "\ndef ", "\n\t", "\n", " "}
	cStyleSeparators = []string{
		"\nfunction ", "\nclass ",
		"\nfunc", "\ntype",
		"\n\n", "\n", " ", "",
	}
	defaultSeparators = []string{"\n\n", "\n", " ", ""}
)

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithSplitSize sets the character count above which a definition is
// split into parts.
func WithSplitSize(chars int) ChunkerOption {
	return func(c *Chunker) {
		if chars > 0 {
			c.splitSize = chars
		}
	}
}

// WithSplitOverlap sets the character overlap between split parts.
func WithSplitOverlap(chars int) ChunkerOption {
	return func(c *Chunker) {
		if chars >= 0 {
			c.splitOverlap = chars
		}
	}
}

// Chunker turns parsed definitions into chunk and call edge records.
//
// Description:
//
//	One chunk per function, method, and class. Definitions larger than
//	the split size are divided with a recursive character splitter into
//	"name#partN" chunks that share the definition's line range. Caller
//	and callee lists are left empty; the store attaches them from call
//	edges at read time.
type Chunker struct {
	splitSize    int
	splitOverlap int
}

// NewChunker creates a Chunker with the given options.
func NewChunker(opts ...ChunkerOption) *Chunker {
	c := &Chunker{
		splitSize:    defaultSplitSize,
		splitOverlap: defaultSplitOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChunkID derives the deterministic chunk ID for one definition.
func ChunkID(repoID, filePath, identifier string) string {
	sum := md5.Sum([]byte(repoID + ":" + filePath + ":" + identifier))
	return hex.EncodeToString(sum[:])
}

// ChunkFile converts one parsed file into chunk records and the call
// edges its definitions produce.
func (c *Chunker) ChunkFile(repoID string, pf *ParsedFile, content string) ([]datatypes.ChunkRecord, []datatypes.CallEdgeRecord, error) {
	chunks := make([]datatypes.ChunkRecord, 0, len(pf.Definitions))
	edges := make([]datatypes.CallEdgeRecord, 0)

	for _, def := range pf.Definitions {
		code := sliceLines(content, def.StartLine, def.EndLine)

		defChunks, err := c.buildChunks(repoID, pf, def, code)
		if err != nil {
			return nil, nil, err
		}
		chunks = append(chunks, defChunks...)

		for _, callee := range def.Calls {
			edges = append(edges, datatypes.CallEdgeRecord{
				RepoID:           repoID,
				CallerIdentifier: def.Name,
				CallerFile:       pf.FilePath,
				CalleeIdentifier: callee,
				CallType:         datatypes.CallTypeDirect,
				Line:             def.StartLine,
			})
		}
	}
	return chunks, edges, nil
}

// buildChunks emits one chunk for the definition, or several part
// chunks when its code exceeds the split size.
func (c *Chunker) buildChunks(repoID string, pf *ParsedFile, def Definition, code string) ([]datatypes.ChunkRecord, error) {
	if len(code) <= c.splitSize {
		return []datatypes.ChunkRecord{c.record(repoID, pf, def, def.Name, code, def.DocString)}, nil
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(c.splitSize),
		textsplitter.WithChunkOverlap(c.splitOverlap),
		textsplitter.WithSeparators(separatorsFor(pf.Language)),
	)
	parts, err := splitter.SplitText(code)
	if err != nil {
		return nil, fmt.Errorf("split %s in %s: %w", def.Name, pf.FilePath, err)
	}
	if len(parts) <= 1 {
		return []datatypes.ChunkRecord{c.record(repoID, pf, def, def.Name, code, def.DocString)}, nil
	}

	records := make([]datatypes.ChunkRecord, 0, len(parts))
	for i, part := range parts {
		identifier := fmt.Sprintf("%s#part%d", def.Name, i+1)
		doc := ""
		if i == 0 {
			doc = def.DocString
		}
		records = append(records, c.record(repoID, pf, def, identifier, part, doc))
	}
	return records, nil
}

func (c *Chunker) record(repoID string, pf *ParsedFile, def Definition, identifier, code, docString string) datatypes.ChunkRecord {
	return datatypes.ChunkRecord{
		ID:           ChunkID(repoID, pf.FilePath, identifier),
		RepoID:       repoID,
		FilePath:     pf.FilePath,
		Identifier:   identifier,
		ChunkType:    def.Kind,
		Language:     pf.Language,
		Code:         code,
		DocString:    docString,
		StartLine:    def.StartLine,
		EndLine:      def.EndLine,
		Dependencies: def.Dependencies,
		Params:       def.Params,
		Decorators:   def.Decorators,
		ClassName:    def.ClassName,
	}
}

// separatorsFor picks the splitter's separator ladder by language.
func separatorsFor(language string) []string {
	switch language {
	case datatypes.LanguagePython:
		return pythonSeparators
	case datatypes.LanguageGo, datatypes.LanguageJavaScript:
		return cStyleSeparators
	default:
		return defaultSeparators
	}
}

// sliceLines returns the 1-indexed, inclusive line range of content.
// Out-of-range bounds are clamped; an empty range yields "".
func sliceLines(content string, start, end int) string {
	lines := strings.Split(content, "\n")
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) || end < start {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}
