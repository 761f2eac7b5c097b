// Package ast defines the syntax trees produced by the parser: QueryNode for
// read queries, MutationNode for inserts, updates and deletes, and TypeDecl
// for schema declarations.
//
// Optional lists are pointers to slices. A nil pointer means the list was
// absent from the source text; a pointer to an empty slice means it was
// present and empty ("()" or "{}"). The two states render differently and
// survive a parse/render round trip.
package ast

import (
	"strings"
)

// Param is one key/value pair from a parameter list.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered parameter list.
type Params []Param

// Get returns the value for key and whether it was present.
func (p Params) Get(key string) (string, bool) {
	for _, param := range p {
		if param.Key == key {
			return param.Value, true
		}
	}
	return "", false
}

// QueryNode is one object or field of a read query.
type QueryNode struct {
	Name   string
	Params *Params
	Attrs  *[]QueryNode
}

// IsLeaf reports whether the node selects a scalar field.
func (n QueryNode) IsLeaf() bool {
	return n.Attrs == nil
}

// Children returns the sub-selections, or nil for a leaf.
func (n QueryNode) Children() []QueryNode {
	if n.Attrs == nil {
		return nil
	}
	return *n.Attrs
}

// Filter returns the parameter list, or nil when absent.
func (n QueryNode) Filter() Params {
	if n.Params == nil {
		return nil
	}
	return *n.Params
}

// String renders the node as a complete query: "{ <node> }".
func (n QueryNode) String() string {
	var b strings.Builder
	b.WriteString("{ ")
	n.write(&b)
	b.WriteString(" }")
	return b.String()
}

func (n QueryNode) write(b *strings.Builder) {
	writeName(b, n.Name)
	writeParams(b, n.Params)
	if n.Attrs != nil {
		b.WriteString(" {")
		for _, child := range *n.Attrs {
			b.WriteByte(' ')
			child.write(b)
		}
		b.WriteString(" }")
	}
}

// MutationNode is one object, field assignment or row target of a mutation.
type MutationNode struct {
	Name   string
	Value  *string
	Params *Params
	Attrs  *[]MutationNode
}

// IsAssignment reports whether the node assigns a scalar value.
func (n MutationNode) IsAssignment() bool {
	return n.Value != nil && n.Attrs == nil
}

// Children returns the nested nodes, or nil when absent.
func (n MutationNode) Children() []MutationNode {
	if n.Attrs == nil {
		return nil
	}
	return *n.Attrs
}

// Filter returns the parameter list, or nil when absent.
func (n MutationNode) Filter() Params {
	if n.Params == nil {
		return nil
	}
	return *n.Params
}

// String renders the node as a complete mutation: "{ <node> }".
func (n MutationNode) String() string {
	var b strings.Builder
	b.WriteString("{ ")
	n.write(&b)
	b.WriteString(" }")
	return b.String()
}

func (n MutationNode) write(b *strings.Builder) {
	writeName(b, n.Name)
	if n.Value != nil {
		b.WriteString(": ")
		writeValue(b, *n.Value)
	}
	writeParams(b, n.Params)
	if n.Attrs != nil {
		b.WriteString(" {")
		for _, child := range *n.Attrs {
			b.WriteByte(' ')
			child.write(b)
		}
		b.WriteString(" }")
	}
}

// FieldDecl is one field of a type declaration.
type FieldDecl struct {
	Name     string
	Type     string
	Required bool
}

// TypeDecl is a schema declaration: "type Name { field: Type! ... }".
type TypeDecl struct {
	Name   string
	Fields []FieldDecl
}

// String renders the declaration in the form accepted by the parser.
func (d TypeDecl) String() string {
	var b strings.Builder
	b.WriteString("type ")
	b.WriteString(d.Name)
	b.WriteString(" {")
	for _, f := range d.Fields {
		b.WriteString("\n  ")
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Type)
		if f.Required {
			b.WriteByte('!')
		}
	}
	b.WriteString("\n}")
	return b.String()
}

func writeParams(b *strings.Builder, params *Params) {
	if params == nil {
		return
	}
	b.WriteString(" (")
	for i, p := range *params {
		if i > 0 {
			b.WriteByte(' ')
		}
		writeName(b, p.Key)
		b.WriteString(": ")
		writeValue(b, p.Value)
	}
	b.WriteByte(')')
}

// writeName emits bare identifiers as-is and quotes anything else.
func writeName(b *strings.Builder, name string) {
	if IsIdentifier(name) {
		b.WriteString(name)
		return
	}
	writeValue(b, name)
}

func writeValue(b *strings.Builder, value string) {
	b.WriteByte('"')
	b.WriteString(value)
	b.WriteByte('"')
}

// IsIdentifier reports whether s is a non-empty run of identifier bytes.
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !IsIdentByte(s[i]) {
			return false
		}
	}
	return true
}

// IsIdentByte reports whether c may appear in an identifier.
func IsIdentByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
