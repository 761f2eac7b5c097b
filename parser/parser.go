// Package parser turns query, mutation and schema text into syntax trees.
//
// The grammar, whitespace and commas being insignificant between tokens:
//
//	query           := '{' query-object '}'
//	query-object    := name ['(' param* ')'] ['{' query-object* '}']
//	mutation        := '{' mutation-object '}'
//	mutation-object := name [':' value] ['(' param* ')'] ['{' mutation-object* '}']
//	param           := name ':' value
//	schema          := type-decl*
//	type-decl       := 'type' identifier '{' field* '}'
//	field           := identifier ':' type-value ['!']
//
// A name is an identifier or a double-quoted string; a value is a bare token
// (identifier or number) or a double-quoted string. Quoted strings end at the
// next double quote and are taken as-is, without escape processing.
//
// Parsing is all-or-nothing: malformed input yields a *ParseError carrying
// the failing position and no tree.
package parser

import (
	"fmt"

	"github.com/c360/gqlpool/ast"
	"github.com/c360/gqlpool/errors"
)

// ParseError reports where and why parsing stopped.
type ParseError struct {
	Pos    int
	Line   int
	Column int
	Msg    string
}

// Error implements the error interface
func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse at line %d column %d: %s", e.Line, e.Column, e.Msg)
}

// Unwrap ties every ParseError to errors.ErrParse.
func (e *ParseError) Unwrap() error {
	return errors.ErrParse
}

// ParseQuery parses a read query such as "{ user (id:1) { name phone } }".
func ParseQuery(text string) (*ast.QueryNode, error) {
	p := newParser(text)
	node, err := p.query()
	if err != nil {
		return nil, errors.WrapInvalid(err, "Parser", "ParseQuery", "parse query")
	}
	return node, nil
}

// ParseMutation parses an insert, update or delete body such as
// "{ Droid (id:1) { age: 4 } }".
func ParseMutation(text string) (*ast.MutationNode, error) {
	p := newParser(text)
	node, err := p.mutation()
	if err != nil {
		return nil, errors.WrapInvalid(err, "Parser", "ParseMutation", "parse mutation")
	}
	return node, nil
}

// ParseSchema parses zero or more "type Name { field: Type }" declarations.
func ParseSchema(text string) ([]ast.TypeDecl, error) {
	p := newParser(text)
	decls, err := p.schema()
	if err != nil {
		return nil, errors.WrapInvalid(err, "Parser", "ParseSchema", "parse type declarations")
	}
	return decls, nil
}

type parser struct {
	src string
	pos int
}

func newParser(text string) *parser {
	return &parser{src: text}
}

func (p *parser) query() (*ast.QueryNode, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	node, err := p.queryObject()
	if err != nil {
		return nil, err
	}
	if err := p.expect('}'); err != nil {
		return nil, err
	}
	if err := p.end(); err != nil {
		return nil, err
	}
	return &node, nil
}

func (p *parser) queryObject() (ast.QueryNode, error) {
	var node ast.QueryNode

	name, err := p.name()
	if err != nil {
		return node, err
	}
	node.Name = name

	if p.peek() == '(' {
		params, err := p.params()
		if err != nil {
			return node, err
		}
		node.Params = params
	}

	if p.peek() == '{' {
		p.pos++
		attrs := []ast.QueryNode{}
		for p.peek() != '}' {
			if p.eof() {
				return node, p.errorf("unterminated selection of %q", name)
			}
			child, err := p.queryObject()
			if err != nil {
				return node, err
			}
			attrs = append(attrs, child)
		}
		p.pos++
		node.Attrs = &attrs
	}

	return node, nil
}

func (p *parser) mutation() (*ast.MutationNode, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	node, err := p.mutationObject()
	if err != nil {
		return nil, err
	}
	if err := p.expect('}'); err != nil {
		return nil, err
	}
	if err := p.end(); err != nil {
		return nil, err
	}
	return &node, nil
}

func (p *parser) mutationObject() (ast.MutationNode, error) {
	var node ast.MutationNode

	name, err := p.name()
	if err != nil {
		return node, err
	}
	node.Name = name

	if p.peek() == ':' {
		p.pos++
		value, err := p.value()
		if err != nil {
			return node, err
		}
		node.Value = &value
	}

	if p.peek() == '(' {
		params, err := p.params()
		if err != nil {
			return node, err
		}
		node.Params = params
	}

	if p.peek() == '{' {
		p.pos++
		attrs := []ast.MutationNode{}
		for p.peek() != '}' {
			if p.eof() {
				return node, p.errorf("unterminated object %q", name)
			}
			child, err := p.mutationObject()
			if err != nil {
				return node, err
			}
			attrs = append(attrs, child)
		}
		p.pos++
		node.Attrs = &attrs
	}

	return node, nil
}

// params parses "(" param* ")" with the cursor on the opening parenthesis.
func (p *parser) params() (*ast.Params, error) {
	p.pos++
	params := ast.Params{}
	for p.peek() != ')' {
		if p.eof() {
			return nil, p.errorf("unterminated parameter list")
		}
		key, err := p.name()
		if err != nil {
			return nil, err
		}
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		value, err := p.value()
		if err != nil {
			return nil, err
		}
		params = append(params, ast.Param{Key: key, Value: value})
	}
	p.pos++
	return &params, nil
}

func (p *parser) schema() ([]ast.TypeDecl, error) {
	var decls []ast.TypeDecl
	for !p.atEnd() {
		decl, err := p.typeDecl()
		if err != nil {
			return nil, err
		}
		decls = append(decls, decl)
	}
	return decls, nil
}

func (p *parser) typeDecl() (ast.TypeDecl, error) {
	var decl ast.TypeDecl

	p.skipSpace()
	start := p.pos
	keyword, err := p.identifier()
	if err != nil {
		return decl, err
	}
	if keyword != "type" {
		p.pos = start
		return decl, p.errorf("expected \"type\", found %q", keyword)
	}

	name, err := p.identifier()
	if err != nil {
		return decl, err
	}
	decl.Name = name

	if err := p.expect('{'); err != nil {
		return decl, err
	}
	for p.peek() != '}' {
		if p.eof() {
			return decl, p.errorf("unterminated type %q", name)
		}
		field, err := p.field()
		if err != nil {
			return decl, err
		}
		decl.Fields = append(decl.Fields, field)
	}
	p.pos++

	return decl, nil
}

func (p *parser) field() (ast.FieldDecl, error) {
	var field ast.FieldDecl

	name, err := p.identifier()
	if err != nil {
		return field, err
	}
	field.Name = name

	if err := p.expect(':'); err != nil {
		return field, err
	}

	typ, err := p.typeValue()
	if err != nil {
		return field, err
	}
	field.Type = typ

	if p.peek() == '!' {
		p.pos++
		field.Required = true
	}
	return field, nil
}

// name reads an identifier or a quoted string.
func (p *parser) name() (string, error) {
	if p.peek() == '"' {
		return p.quoted()
	}
	return p.identifier()
}

// value reads a bare token or a quoted string.
func (p *parser) value() (string, error) {
	if p.peek() == '"' {
		return p.quoted()
	}
	start := p.pos
	for p.pos < len(p.src) && isBareByte(p.src[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", p.errorf("expected value")
	}
	return p.src[start:p.pos], nil
}

// typeValue reads a field type, which may contain brackets: "[String]".
func (p *parser) typeValue() (string, error) {
	if p.peek() == '"' {
		return p.quoted()
	}
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if isSpace(c) || c == '!' || c == '}' {
			break
		}
		p.pos++
	}
	if p.pos == start {
		return "", p.errorf("expected type")
	}
	return p.src[start:p.pos], nil
}

func (p *parser) identifier() (string, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) && ast.IsIdentByte(p.src[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", p.errorf("expected identifier")
	}
	return p.src[start:p.pos], nil
}

// quoted reads a double-quoted string with the cursor on the opening quote.
func (p *parser) quoted() (string, error) {
	open := p.pos
	p.pos++
	for p.pos < len(p.src) && p.src[p.pos] != '"' {
		p.pos++
	}
	if p.pos >= len(p.src) {
		p.pos = open
		return "", p.errorf("unterminated string")
	}
	s := p.src[open+1 : p.pos]
	p.pos++
	return s, nil
}

// peek skips insignificant bytes and returns the next byte, or 0 at the end.
func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) expect(c byte) error {
	if p.peek() != c {
		if p.eof() {
			return p.errorf("expected %q, found end of input", c)
		}
		return p.errorf("expected %q, found %q", c, p.src[p.pos])
	}
	p.pos++
	return nil
}

func (p *parser) end() error {
	if !p.atEnd() {
		return p.errorf("unexpected trailing input %q", p.src[p.pos])
	}
	return nil
}

func (p *parser) atEnd() bool {
	p.skipSpace()
	return p.eof()
}

func (p *parser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (isSpace(p.src[p.pos]) || p.src[p.pos] == ',') {
		p.pos++
	}
}

func (p *parser) errorf(format string, args ...any) error {
	line, col := 1, 1
	for i := 0; i < p.pos && i < len(p.src); i++ {
		if p.src[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return &ParseError{
		Pos:    p.pos,
		Line:   line,
		Column: col,
		Msg:    fmt.Sprintf(format, args...),
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isBareByte(c byte) bool {
	return ast.IsIdentByte(c) || c == '.' || c == '-' || c == '+'
}
