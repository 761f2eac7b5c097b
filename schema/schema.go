// Package schema holds the read-only table metadata the translator works
// against, and loads it from either the compact "type X { f: T! }" format or
// standard GraphQL SDL.
//
// A Handle is built once at startup and never mutated afterwards, so it can
// be shared freely between goroutines.
package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2"
	gqlast "github.com/vektah/gqlparser/v2/ast"

	"github.com/c360/gqlpool/ast"
	"github.com/c360/gqlpool/errors"
	"github.com/c360/gqlpool/parser"
)

// KeyColumn is the column used to link rows through relation tables.
const KeyColumn = "id"

// Column describes one field of a table.
//
// A column whose Relation is set is not stored on the table itself; it is
// represented by a join table named "<Table>_<Column>".
type Column struct {
	Name     string
	Type     string
	Required bool
	List     bool
	Relation string
}

// IsRelation reports whether the column links to another table.
func (c Column) IsRelation() bool {
	return c.Relation != ""
}

// Table is one declared type.
type Table struct {
	Name    string
	Columns []Column
}

// Column looks up a column by name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Scalars returns the columns stored on the table itself, in declaration order.
func (t *Table) Scalars() []Column {
	out := make([]Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !c.IsRelation() {
			out = append(out, c)
		}
	}
	return out
}

// Relations returns the relation columns, in declaration order.
func (t *Table) Relations() []Column {
	var out []Column
	for _, c := range t.Columns {
		if c.IsRelation() {
			out = append(out, c)
		}
	}
	return out
}

// Key returns the column identifying a row: "id" when declared, otherwise
// the first stored column.
func (t *Table) Key() string {
	scalars := t.Scalars()
	for _, c := range scalars {
		if c.Name == KeyColumn {
			return c.Name
		}
	}
	if len(scalars) > 0 {
		return scalars[0].Name
	}
	return KeyColumn
}

// RelationTable names the join table backing a relation column.
func (t *Table) RelationTable(column string) string {
	return t.Name + "_" + column
}

// Handle is the database name plus its ordered table definitions.
type Handle struct {
	Database string
	Tables   []Table
}

// Table looks up a table by name.
func (h *Handle) Table(name string) (*Table, bool) {
	for i := range h.Tables {
		if h.Tables[i].Name == name {
			return &h.Tables[i], true
		}
	}
	return nil, false
}

// FromDecls builds a Handle from parsed type declarations. Field types that
// name another declared type become relations.
func FromDecls(database string, decls []ast.TypeDecl) (*Handle, error) {
	if database == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Schema", "FromDecls", "database name check")
	}

	declared := make(map[string]bool, len(decls))
	for _, d := range decls {
		if declared[d.Name] {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: type %q declared twice", errors.ErrInvalidData, d.Name),
				"Schema", "FromDecls", "collect types")
		}
		declared[d.Name] = true
	}

	h := &Handle{Database: database, Tables: make([]Table, 0, len(decls))}
	for _, d := range decls {
		table := Table{Name: d.Name, Columns: make([]Column, 0, len(d.Fields))}
		seen := make(map[string]bool, len(d.Fields))
		for _, f := range d.Fields {
			if seen[f.Name] {
				return nil, errors.WrapInvalid(
					fmt.Errorf("%w: field %s.%s declared twice", errors.ErrInvalidData, d.Name, f.Name),
					"Schema", "FromDecls", "collect fields")
			}
			seen[f.Name] = true

			base, list := splitType(f.Type)
			col := Column{Name: f.Name, Type: base, Required: f.Required, List: list}
			if declared[base] {
				col.Relation = base
			}
			table.Columns = append(table.Columns, col)
		}
		h.Tables = append(h.Tables, table)
	}
	return h, nil
}

// Parse builds a Handle from text in the compact type declaration format.
func Parse(database, text string) (*Handle, error) {
	decls, err := parser.ParseSchema(text)
	if err != nil {
		return nil, err
	}
	return FromDecls(database, decls)
}

// LoadFile reads a file in the compact type declaration format.
func LoadFile(path, database string) (*Handle, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "Schema", "LoadFile", fmt.Sprintf("read schema file: %s", path))
	}
	return Parse(database, string(content))
}

// LoadSDL reads a standard GraphQL SDL file. Object types other than the
// Query, Mutation and Subscription roots become tables.
func LoadSDL(path, database string) (*Handle, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "Schema", "LoadSDL", fmt.Sprintf("read schema file: %s", path))
	}
	return ParseSDL(database, path, string(content))
}

// ParseSDL builds a Handle from GraphQL SDL text.
func ParseSDL(database, name, text string) (*Handle, error) {
	source := &gqlast.Source{
		Name:  name,
		Input: text,
	}

	parsed, gqlErr := gqlparser.LoadSchema(source)
	if gqlErr != nil {
		return nil, errors.WrapInvalid(gqlErr, "Schema", "gqlparser.LoadSchema", "parse GraphQL schema")
	}

	roots := map[string]bool{}
	for _, def := range []*gqlast.Definition{parsed.Query, parsed.Mutation, parsed.Subscription} {
		if def != nil {
			roots[def.Name] = true
		}
	}

	var decls []ast.TypeDecl
	for _, def := range orderedObjects(parsed, text) {
		if roots[def.Name] {
			continue
		}
		decl := ast.TypeDecl{Name: def.Name}
		for _, f := range def.Fields {
			if strings.HasPrefix(f.Name, "__") {
				continue
			}
			decl.Fields = append(decl.Fields, ast.FieldDecl{
				Name:     f.Name,
				Type:     typeString(f.Type),
				Required: f.Type.NonNull,
			})
		}
		decls = append(decls, decl)
	}

	return FromDecls(database, decls)
}

// orderedObjects returns the user-declared object types in source order;
// gqlparser keeps definitions in a map.
func orderedObjects(s *gqlast.Schema, text string) []*gqlast.Definition {
	var defs []*gqlast.Definition
	for _, def := range s.Types {
		if def.BuiltIn || def.Kind != gqlast.Object {
			continue
		}
		defs = append(defs, def)
	}
	offset := func(d *gqlast.Definition) int {
		if d.Position != nil {
			return d.Position.Start
		}
		return len(text)
	}
	sort.Slice(defs, func(i, j int) bool {
		return offset(defs[i]) < offset(defs[j])
	})
	return defs
}

// typeString renders a gqlparser type without its non-null marker, which is
// carried separately as Required.
func typeString(t *gqlast.Type) string {
	if t.Elem != nil {
		return "[" + typeString(t.Elem) + "]"
	}
	return t.NamedType
}

// splitType strips list brackets and non-null markers: "[Human!]" gives
// ("Human", true).
func splitType(t string) (string, bool) {
	t = strings.TrimSpace(t)
	list := false
	if strings.HasPrefix(t, "[") && strings.HasSuffix(t, "]") {
		list = true
		t = t[1 : len(t)-1]
	}
	return strings.Trim(t, "!'\" "), list
}
