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
	"github.com/smacker/go-tree-sitter/python"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
)

// PythonParser extracts functions, classes, and class methods from
// Python source files.
//
// Module-level functions become function definitions; functions inside
// a class body become methods with the class recorded; the class itself
// becomes a class definition carrying its base classes. Docstrings are
// taken from the first string statement of each body.
//
// Thread Safety:
//
//	Safe for concurrent use.
type PythonParser struct {
	cfg parserConfig
}

// NewPythonParser creates a PythonParser with the given options.
func NewPythonParser(opts ...ParserOption) *PythonParser {
	p := &PythonParser{cfg: parserConfig{maxFileSize: DefaultMaxFileSize}}
	for _, opt := range opts {
		opt(&p.cfg)
	}
	return p
}

// Language returns the canonical language tag.
func (p *PythonParser) Language() string { return datatypes.LanguagePython }

// Extensions returns the file extensions this parser handles.
func (p *PythonParser) Extensions() []string { return []string{".py"} }

// Parse extracts definitions from Python source code.
func (p *PythonParser) Parse(ctx context.Context, content []byte, filePath string) (*ParsedFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled: %w", err)
	}
	if err := p.cfg.checkContent(content, filePath); err != nil {
		return nil, err
	}

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

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
		Language:    datatypes.LanguagePython,
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
			p.collectImport(child, content, result)
		case "import_from_statement":
			p.collectFromImport(child, content, result)
		case "function_definition":
			if def := p.functionDef(child, content, nil, ""); def != nil {
				result.Definitions = append(result.Definitions, *def)
			}
		case "class_definition":
			p.classDef(child, content, nil, result)
		case "decorated_definition":
			p.decoratedDef(child, content, result)
		}
	}
	return result, nil
}

// collectImport handles "import a.b, c as d" statements.
func (p *PythonParser) collectImport(node *sitter.Node, content []byte, result *ParsedFile) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "dotted_name":
			result.Imports = append(result.Imports, nodeText(child, content))
		case "aliased_import":
			if name := child.ChildByFieldName("name"); name != nil {
				result.Imports = append(result.Imports, nodeText(name, content))
			}
		}
	}
}

// collectFromImport handles "from a.b import c as d" statements. Each
// imported name is recorded as module.name, matching the flattened form
// the chunk metadata stores.
func (p *PythonParser) collectFromImport(node *sitter.Node, content []byte, result *ParsedFile) {
	module := ""
	if m := node.ChildByFieldName("module_name"); m != nil {
		module = nodeText(m, content)
	}

	sawImport := false
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "import" {
			sawImport = true
			continue
		}
		if !sawImport {
			continue
		}

		name := ""
		switch child.Type() {
		case "dotted_name":
			name = nodeText(child, content)
		case "aliased_import":
			if n := child.ChildByFieldName("name"); n != nil {
				name = nodeText(n, content)
			}
		case "wildcard_import":
			name = "*"
		}
		if name == "" {
			continue
		}
		if module != "" {
			name = module + "." + name
		}
		result.Imports = append(result.Imports, name)
	}
}

// decoratedDef unwraps a decorated function or class.
func (p *PythonParser) decoratedDef(node *sitter.Node, content []byte, result *ParsedFile) {
	decorators := decoratorNames(node, content)
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "function_definition":
			if def := p.functionDef(child, content, decorators, ""); def != nil {
				result.Definitions = append(result.Definitions, *def)
			}
		case "class_definition":
			p.classDef(child, content, decorators, result)
		}
	}
}

// functionDef extracts one function or method definition.
func (p *PythonParser) functionDef(node *sitter.Node, content []byte, decorators []string, className string) *Definition {
	name := ""
	if n := node.ChildByFieldName("name"); n != nil {
		name = nodeText(n, content)
	}
	if name == "" {
		return nil
	}

	kind := datatypes.ChunkTypeFunction
	if className != "" {
		kind = datatypes.ChunkTypeMethod
	}

	body := node.ChildByFieldName("body")
	calls, deps := collectCalls(body, content, "call")

	return &Definition{
		Name:         name,
		Kind:         kind,
		ClassName:    className,
		StartLine:    int(node.StartPoint().Row + 1),
		EndLine:      int(node.EndPoint().Row + 1),
		DocString:    blockDocstring(body, content),
		Params:       pyParamNames(node.ChildByFieldName("parameters"), content),
		Decorators:   decorators,
		Calls:        calls,
		Dependencies: deps,
	}
}

// classDef extracts a class and its methods. The class definition
// carries the base classes as dependencies; each method becomes its own
// definition with the class name attached.
func (p *PythonParser) classDef(node *sitter.Node, content []byte, decorators []string, result *ParsedFile) {
	name := ""
	if n := node.ChildByFieldName("name"); n != nil {
		name = nodeText(n, content)
	}
	if name == "" {
		return
	}

	var bases []string
	if sup := node.ChildByFieldName("superclasses"); sup != nil {
		for i := 0; i < int(sup.ChildCount()); i++ {
			child := sup.Child(i)
			if child.Type() == "identifier" || child.Type() == "attribute" {
				bases = append(bases, nodeText(child, content))
			}
		}
	}

	body := node.ChildByFieldName("body")
	result.Definitions = append(result.Definitions, Definition{
		Name:         name,
		Kind:         datatypes.ChunkTypeClass,
		StartLine:    int(node.StartPoint().Row + 1),
		EndLine:      int(node.EndPoint().Row + 1),
		DocString:    blockDocstring(body, content),
		Decorators:   decorators,
		Bases:        bases,
		Dependencies: bases,
	})

	if body == nil {
		return
	}
	for i := 0; i < int(body.ChildCount()); i++ {
		child := body.Child(i)
		switch child.Type() {
		case "function_definition":
			if def := p.functionDef(child, content, nil, name); def != nil {
				result.Definitions = append(result.Definitions, *def)
			}
		case "decorated_definition":
			methodDecorators := decoratorNames(child, content)
			for j := 0; j < int(child.ChildCount()); j++ {
				if fn := child.Child(j); fn.Type() == "function_definition" {
					if def := p.functionDef(fn, content, methodDecorators, name); def != nil {
						result.Definitions = append(result.Definitions, *def)
					}
				}
			}
		}
	}
}

// decoratorNames extracts decorator names, dropping the @ and any
// argument list.
func decoratorNames(node *sitter.Node, content []byte) []string {
	var names []string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() != "decorator" {
			continue
		}
		text := strings.TrimPrefix(strings.TrimSpace(nodeText(child, content)), "@")
		if cut := strings.IndexByte(text, '('); cut > 0 {
			text = text[:cut]
		}
		if text != "" {
			names = append(names, text)
		}
	}
	return names
}

// blockDocstring returns the docstring when the block's first statement
// is a bare string expression.
func blockDocstring(block *sitter.Node, content []byte) string {
	if block == nil || block.ChildCount() == 0 {
		return ""
	}
	first := block.Child(0)
	if first.Type() != "expression_statement" || first.ChildCount() == 0 {
		return ""
	}
	str := first.Child(0)
	if str.Type() != "string" {
		return ""
	}
	return strings.TrimSpace(strings.Trim(nodeText(str, content), `"'`))
}

// pyParamNames collects parameter names, including self.
func pyParamNames(params *sitter.Node, content []byte) []string {
	if params == nil {
		return nil
	}
	var names []string
	for i := 0; i < int(params.ChildCount()); i++ {
		child := params.Child(i)
		switch child.Type() {
		case "identifier":
			names = append(names, nodeText(child, content))
		case "typed_parameter", "default_parameter", "typed_default_parameter",
			"list_splat_pattern", "dictionary_splat_pattern":
			if name := firstIdentifier(child, content); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// firstIdentifier returns the first identifier in a subtree.
func firstIdentifier(node *sitter.Node, content []byte) string {
	if node.Type() == "identifier" {
		return nodeText(node, content)
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if name := firstIdentifier(node.Child(i), content); name != "" {
			return name
		}
	}
	return ""
}

// Compile-time interface compliance check.
var _ Parser = (*PythonParser)(nil)
