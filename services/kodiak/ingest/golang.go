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
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"golang.org/x/mod/modfile"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
)

// GoParser extracts functions, methods, and type definitions from Go
// source files.
//
// Description:
//
//	Uses tree-sitter with direct node traversal. Functions and methods
//	become chunkable definitions with their call lists; struct and
//	interface declarations become class definitions. Each Parse call
//	creates its own tree-sitter parser instance.
//
// Thread Safety:
//
//	Safe for concurrent use.
type GoParser struct {
	cfg parserConfig
}

// NewGoParser creates a GoParser with the given options.
func NewGoParser(opts ...ParserOption) *GoParser {
	p := &GoParser{cfg: parserConfig{maxFileSize: DefaultMaxFileSize}}
	for _, opt := range opts {
		opt(&p.cfg)
	}
	return p
}

// Language returns the canonical language tag.
func (p *GoParser) Language() string { return datatypes.LanguageGo }

// Extensions returns the file extensions this parser handles.
func (p *GoParser) Extensions() []string { return []string{".go"} }

// Parse extracts definitions from Go source code.
//
// Inputs:
//
//	ctx - Context for cancellation, checked before and after parsing.
//	content - Raw source bytes. Must be valid UTF-8.
//	filePath - Path relative to the repository root.
//
// Outputs:
//
//	*ParsedFile - Definitions, imports, and language tag. Partial
//	   results are returned for files with syntax errors.
//	error - ErrFileTooLarge, ErrInvalidContent, or a context error.
func (p *GoParser) Parse(ctx context.Context, content []byte, filePath string) (*ParsedFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled: %w", err)
	}
	if err := p.cfg.checkContent(content, filePath); err != nil {
		return nil, err
	}

	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled: %w", err)
	}

	result := &ParsedFile{
		FilePath:    filePath,
		Language:    datatypes.LanguageGo,
		Imports:     make([]string, 0),
		Definitions: make([]Definition, 0),
	}

	root := tree.RootNode()
	if root == nil {
		return result, nil
	}

	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		switch child.Type() {
		case "import_declaration":
			p.collectImports(child, content, result)
		case "function_declaration":
			if def := p.functionDef(root, child, content); def != nil {
				result.Definitions = append(result.Definitions, *def)
			}
		case "method_declaration":
			if def := p.methodDef(root, child, content); def != nil {
				result.Definitions = append(result.Definitions, *def)
			}
		case "type_declaration":
			p.collectTypes(root, child, content, result)
		}
	}
	return result, nil
}

// collectImports gathers import paths from one import declaration.
func (p *GoParser) collectImports(node *sitter.Node, content []byte, result *ParsedFile) {
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			switch child.Type() {
			case "import_spec":
				for j := 0; j < int(child.ChildCount()); j++ {
					if spec := child.Child(j); spec.Type() == "interpreted_string_literal" {
						path := strings.Trim(nodeText(spec, content), `"`)
						if path != "" {
							result.Imports = append(result.Imports, path)
						}
					}
				}
			case "import_spec_list":
				walk(child)
			}
		}
	}
	walk(node)
}

// functionDef extracts one top-level function declaration.
func (p *GoParser) functionDef(root, node *sitter.Node, content []byte) *Definition {
	name := ""
	if n := node.ChildByFieldName("name"); n != nil {
		name = nodeText(n, content)
	}
	if name == "" {
		return nil
	}

	calls, deps := collectCalls(node.ChildByFieldName("body"), content, "call_expression")
	return &Definition{
		Name:         name,
		Kind:         datatypes.ChunkTypeFunction,
		StartLine:    int(node.StartPoint().Row + 1),
		EndLine:      int(node.EndPoint().Row + 1),
		DocString:    precedingComment(root, node, content),
		Params:       paramNames(node.ChildByFieldName("parameters"), content),
		Calls:        calls,
		Dependencies: deps,
	}
}

// methodDef extracts one method declaration. The receiver type becomes
// the class name.
func (p *GoParser) methodDef(root, node *sitter.Node, content []byte) *Definition {
	name := ""
	if n := node.ChildByFieldName("name"); n != nil {
		name = nodeText(n, content)
	}
	if name == "" {
		return nil
	}

	calls, deps := collectCalls(node.ChildByFieldName("body"), content, "call_expression")
	return &Definition{
		Name:         name,
		Kind:         datatypes.ChunkTypeMethod,
		ClassName:    receiverType(node.ChildByFieldName("receiver"), content),
		StartLine:    int(node.StartPoint().Row + 1),
		EndLine:      int(node.EndPoint().Row + 1),
		DocString:    precedingComment(root, node, content),
		Params:       paramNames(node.ChildByFieldName("parameters"), content),
		Calls:        calls,
		Dependencies: deps,
	}
}

// collectTypes emits struct and interface declarations as class
// definitions. Plain type aliases are not chunked.
func (p *GoParser) collectTypes(root, node *sitter.Node, content []byte, result *ParsedFile) {
	for i := 0; i < int(node.ChildCount()); i++ {
		spec := node.Child(i)
		if spec.Type() != "type_spec" {
			continue
		}

		name := ""
		isClass := false
		for j := 0; j < int(spec.ChildCount()); j++ {
			child := spec.Child(j)
			switch child.Type() {
			case "type_identifier":
				if name == "" {
					name = nodeText(child, content)
				}
			case "struct_type", "interface_type":
				isClass = true
			}
		}
		if name == "" || !isClass {
			continue
		}

		result.Definitions = append(result.Definitions, Definition{
			Name:      name,
			Kind:      datatypes.ChunkTypeClass,
			StartLine: int(node.StartPoint().Row + 1),
			EndLine:   int(node.EndPoint().Row + 1),
			DocString: precedingComment(root, node, content),
		})
	}
}

// receiverType extracts the receiver's type name, ignoring pointers.
func receiverType(receiver *sitter.Node, content []byte) string {
	if receiver == nil {
		return ""
	}
	var name string
	var walk func(n *sitter.Node) bool
	walk = func(n *sitter.Node) bool {
		if n.Type() == "type_identifier" {
			name = nodeText(n, content)
			return true
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			if walk(n.Child(i)) {
				return true
			}
		}
		return false
	}
	walk(receiver)
	return name
}

// paramNames collects parameter names from a parameter list.
func paramNames(params *sitter.Node, content []byte) []string {
	if params == nil {
		return nil
	}
	var names []string
	for i := 0; i < int(params.ChildCount()); i++ {
		decl := params.Child(i)
		if decl.Type() != "parameter_declaration" && decl.Type() != "variadic_parameter_declaration" {
			continue
		}
		for j := 0; j < int(decl.ChildCount()); j++ {
			if child := decl.Child(j); child.Type() == "identifier" {
				names = append(names, nodeText(child, content))
			}
		}
	}
	return names
}

// precedingComment returns the comment node ending on the line directly
// above the given declaration, if any.
func precedingComment(root, node *sitter.Node, content []byte) string {
	nodeStart := int(node.StartPoint().Row)
	for i := 0; i < int(root.ChildCount()); i++ {
		sibling := root.Child(i)
		if sibling.Type() != "comment" {
			continue
		}
		end := int(sibling.EndPoint().Row)
		if end == nodeStart-1 || end == nodeStart {
			return strings.TrimSpace(nodeText(sibling, content))
		}
	}
	return ""
}

// GoModulePath reads the module path from go.mod content, or returns
// an empty string when the file has no module directive.
func GoModulePath(gomod []byte) string {
	return modfile.ModulePath(gomod)
}

// Compile-time interface compliance check.
var _ Parser = (*GoParser)(nil)
