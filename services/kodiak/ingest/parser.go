// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest turns git repositories into indexed code chunks.
//
// The pipeline clones a repository, parses every supported source file
// with tree-sitter, chunks the extracted definitions, embeds them, and
// writes vectors, chunks, call edges, and file records through the
// injected collaborators. Parsers use direct node traversal rather than
// tree-sitter's query language; each Parse call creates its own parser
// instance, so the parser types are safe for concurrent use.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

// File size limits applied by every parser.
const (
	// DefaultMaxFileSize is the largest file a parser accepts (10MB).
	DefaultMaxFileSize = 10 * 1024 * 1024

	// warnFileSize is the threshold at which a large-file warning is
	// logged (1MB).
	warnFileSize = 1 * 1024 * 1024
)

// Traversal limits for call extraction.
const (
	maxCallDepth          = 50
	maxCallsPerDefinition = 1000
)

var (
	// ErrFileTooLarge is returned when input exceeds the size limit.
	ErrFileTooLarge = errors.New("file exceeds maximum size limit")

	// ErrInvalidContent is returned for input that is not valid UTF-8.
	ErrInvalidContent = errors.New("content is not valid UTF-8")
)

// Definition is one extracted unit: a function, a method, or a class.
type Definition struct {
	// Name is the declared identifier.
	Name string

	// Kind is one of the datatypes.ChunkType* values.
	Kind string

	// ClassName is the enclosing class for methods, empty otherwise.
	ClassName string

	// StartLine and EndLine are 1-indexed and inclusive.
	StartLine int
	EndLine   int

	// DocString is the unit's documentation text, empty when absent.
	DocString string

	// Params holds parameter names in declaration order.
	Params []string

	// Decorators holds decorator names, for languages that have them.
	Decorators []string

	// Bases holds base class names, for class definitions.
	Bases []string

	// Calls holds callee names in call-site order, duplicates kept.
	Calls []string

	// Dependencies holds the distinct leading segments of dotted calls,
	// in first-seen order. For classes it holds the base class names.
	Dependencies []string
}

// ParsedFile is the parse result for one source file.
type ParsedFile struct {
	FilePath    string
	Language    string
	Imports     []string
	Definitions []Definition
}

// Parser extracts definitions from one language's source files.
//
// Implementations must be safe for concurrent use; the ingestion
// service parses files from multiple goroutines.
type Parser interface {
	Parse(ctx context.Context, content []byte, filePath string) (*ParsedFile, error)
	Language() string
	Extensions() []string
}

// parserConfig carries the settings shared by all language parsers.
type parserConfig struct {
	maxFileSize int64
}

// ParserOption configures a language parser.
type ParserOption func(*parserConfig)

// WithMaxFileSize sets the largest file a parser accepts, in bytes.
func WithMaxFileSize(bytes int64) ParserOption {
	return func(c *parserConfig) {
		if bytes > 0 {
			c.maxFileSize = bytes
		}
	}
}

// checkContent validates size and encoding before parsing.
func (c *parserConfig) checkContent(content []byte, filePath string) error {
	if int64(len(content)) > c.maxFileSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), c.maxFileSize)
	}
	if len(content) > warnFileSize {
		slog.Warn("parsing large file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}
	if !utf8.Valid(content) {
		return fmt.Errorf("%w: %s", ErrInvalidContent, filePath)
	}
	return nil
}

// nodeText returns the source text covered by a node.
func nodeText(node *sitter.Node, content []byte) string {
	return string(content[node.StartByte():node.EndByte()])
}

// collectCalls walks a definition body and extracts callee names from
// call nodes of the given type, in call-site order. Dotted callees
// (obj.method, pkg.Func) contribute their first segment to the
// dependency list.
func collectCalls(body *sitter.Node, content []byte, callNodeType string) (calls, deps []string) {
	if body == nil {
		return nil, nil
	}

	type frame struct {
		node  *sitter.Node
		depth int
	}
	stack := make([]frame, 0, 64)
	stack = append(stack, frame{node: body, depth: 0})

	seen := make(map[string]struct{})
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node := top.node
		if node == nil || top.depth > maxCallDepth || len(calls) >= maxCallsPerDefinition {
			continue
		}

		if node.Type() == callNodeType {
			if name := callTarget(node, content); name != "" {
				calls = append(calls, name)
				if dep := leadingSegment(name); dep != "" {
					if _, dup := seen[dep]; !dup {
						seen[dep] = struct{}{}
						deps = append(deps, dep)
					}
				}
			}
		}

		// Push children in reverse so calls come out left to right.
		for i := int(node.ChildCount()) - 1; i >= 0; i-- {
			if child := node.Child(i); child != nil {
				stack = append(stack, frame{node: child, depth: top.depth + 1})
			}
		}
	}
	return calls, deps
}

// callTarget extracts the called name from a call node. Dotted calls
// keep their full written form.
func callTarget(node *sitter.Node, content []byte) string {
	funcNode := node.ChildByFieldName("function")
	if funcNode == nil && node.ChildCount() > 0 {
		funcNode = node.Child(0)
	}
	if funcNode == nil {
		return ""
	}
	return nodeText(funcNode, content)
}

// leadingSegment returns the part of a dotted name before the first
// dot, or empty for plain names.
func leadingSegment(name string) string {
	if i := strings.IndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return ""
}
