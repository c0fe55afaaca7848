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
	"github.com/smacker/go-tree-sitter/javascript"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
)

// JavaScriptParser extracts functions, classes, and class methods from
// JavaScript source files.
//
// Named function declarations, arrow functions and function expressions
// bound to a declared variable, classes, and class methods all become
// definitions. Anonymous functions without a binding are skipped since
// they cannot be addressed by identifier.
//
// Thread Safety:
//
//	Safe for concurrent use.
type JavaScriptParser struct {
	cfg parserConfig
}

// NewJavaScriptParser creates a JavaScriptParser with the given options.
func NewJavaScriptParser(opts ...ParserOption) *JavaScriptParser {
	p := &JavaScriptParser{cfg: parserConfig{maxFileSize: DefaultMaxFileSize}}
	for _, opt := range opts {
		opt(&p.cfg)
	}
	return p
}

// Language returns the canonical language tag.
func (p *JavaScriptParser) Language() string { return datatypes.LanguageJavaScript }

// Extensions returns the file extensions this parser handles.
func (p *JavaScriptParser) Extensions() []string { return []string{".js", ".jsx", ".mjs"} }

// Parse extracts definitions from JavaScript source code.
func (p *JavaScriptParser) Parse(ctx context.Context, content []byte, filePath string) (*ParsedFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled: %w", err)
	}
	if err := p.cfg.checkContent(content, filePath); err != nil {
		return nil, err
	}

	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())

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
		Language:    datatypes.LanguageJavaScript,
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
		case "import_statement":
			if src := child.ChildByFieldName("source"); src != nil {
				if path := strings.Trim(nodeText(src, content), `"'`); path != "" {
					result.Imports = append(result.Imports, path)
				}
			}
		case "function_declaration":
			if def := p.functionDef(root, child, content); def != nil {
				result.Definitions = append(result.Definitions, *def)
			}
		case "class_declaration":
			p.classDef(root, child, content, result)
		case "lexical_declaration", "variable_declaration":
			p.boundFunctions(root, child, content, result)
		}
	}
	return result, nil
}

// functionDef extracts a named function declaration.
func (p *JavaScriptParser) functionDef(root, node *sitter.Node, content []byte) *Definition {
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
		Params:       jsParamNames(node.ChildByFieldName("parameters"), content),
		Calls:        calls,
		Dependencies: deps,
	}
}

// boundFunctions extracts arrow functions and function expressions
// bound to a declared variable: const handler = () => {}.
func (p *JavaScriptParser) boundFunctions(root, decl *sitter.Node, content []byte, result *ParsedFile) {
	for i := 0; i < int(decl.ChildCount()); i++ {
		declarator := decl.Child(i)
		if declarator.Type() != "variable_declarator" {
			continue
		}

		value := declarator.ChildByFieldName("value")
		if value == nil {
			continue
		}
		switch value.Type() {
		case "arrow_function", "function_expression", "function":
		default:
			continue
		}

		name := ""
		if n := declarator.ChildByFieldName("name"); n != nil && n.Type() == "identifier" {
			name = nodeText(n, content)
		}
		if name == "" {
			continue
		}

		calls, deps := collectCalls(value.ChildByFieldName("body"), content, "call_expression")
		result.Definitions = append(result.Definitions, Definition{
			Name:         name,
			Kind:         datatypes.ChunkTypeFunction,
			StartLine:    int(decl.StartPoint().Row + 1),
			EndLine:      int(decl.EndPoint().Row + 1),
			DocString:    precedingComment(root, decl, content),
			Params:       jsParamNames(value.ChildByFieldName("parameters"), content),
			Calls:        calls,
			Dependencies: deps,
		})
	}
}

// classDef extracts a class, its heritage, and its methods.
func (p *JavaScriptParser) classDef(root, node *sitter.Node, content []byte, result *ParsedFile) {
	name := ""
	if n := node.ChildByFieldName("name"); n != nil {
		name = nodeText(n, content)
	}
	if name == "" {
		return
	}

	var bases []string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() != "class_heritage" {
			continue
		}
		for j := 0; j < int(child.ChildCount()); j++ {
			base := child.Child(j)
			if base.Type() == "identifier" || base.Type() == "member_expression" {
				bases = append(bases, nodeText(base, content))
			}
		}
	}

	result.Definitions = append(result.Definitions, Definition{
		Name:         name,
		Kind:         datatypes.ChunkTypeClass,
		StartLine:    int(node.StartPoint().Row + 1),
		EndLine:      int(node.EndPoint().Row + 1),
		DocString:    precedingComment(root, node, content),
		Bases:        bases,
		Dependencies: bases,
	})

	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := 0; i < int(body.ChildCount()); i++ {
		method := body.Child(i)
		if method.Type() != "method_definition" {
			continue
		}

		methodName := ""
		if n := method.ChildByFieldName("name"); n != nil {
			methodName = nodeText(n, content)
		}
		if methodName == "" {
			continue
		}

		calls, deps := collectCalls(method.ChildByFieldName("body"), content, "call_expression")
		result.Definitions = append(result.Definitions, Definition{
			Name:         methodName,
			Kind:         datatypes.ChunkTypeMethod,
			ClassName:    name,
			StartLine:    int(method.StartPoint().Row + 1),
			EndLine:      int(method.EndPoint().Row + 1),
			Params:       jsParamNames(method.ChildByFieldName("parameters"), content),
			Calls:        calls,
			Dependencies: deps,
		})
	}
}

// jsParamNames collects parameter names from a formal parameter list.
func jsParamNames(params *sitter.Node, content []byte) []string {
	if params == nil {
		return nil
	}
	var names []string
	for i := 0; i < int(params.ChildCount()); i++ {
		child := params.Child(i)
		switch child.Type() {
		case "identifier":
			names = append(names, nodeText(child, content))
		case "assignment_pattern", "rest_pattern", "object_pattern", "array_pattern":
			if name := firstIdentifier(child, content); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// Compile-time interface compliance check.
var _ Parser = (*JavaScriptParser)(nil)
