// Package translate turns syntax trees into parameterized SQL and result rows
// into response text.
//
// Identifiers are checked against a schema.Handle and quoted with backticks;
// every value from the request is bound as a "?" placeholder, never spliced
// into the statement text.
package translate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/gqlpool/ast"
	"github.com/c360/gqlpool/errors"
	"github.com/c360/gqlpool/schema"
)

// Relation tables carry these two columns.
const (
	ParentColumn = "parent_id"
	ChildColumn  = "child_id"
)

// Statement is SQL text plus its bound arguments.
type Statement struct {
	SQL  string
	Args []any
}

func (s Statement) String() string {
	return s.SQL
}

// Error reports a tree that does not fit the schema or its operation.
type Error struct {
	Table  string
	Column string
	Msg    string
}

// Error implements the error interface
func (e *Error) Error() string {
	switch {
	case e.Column != "":
		return fmt.Sprintf("%s.%s: %s", e.Table, e.Column, e.Msg)
	case e.Table != "":
		return fmt.Sprintf("%s: %s", e.Table, e.Msg)
	default:
		return e.Msg
	}
}

// Unwrap ties every Error to errors.ErrTranslation.
func (e *Error) Unwrap() error {
	return errors.ErrTranslation
}

func fail(table, column, format string, args ...any) *Error {
	return &Error{Table: table, Column: column, Msg: fmt.Sprintf(format, args...)}
}

// Translator maps trees onto the tables of one schema.
type Translator struct {
	schema *schema.Handle
}

// New creates a Translator over h. The handle must not change afterwards.
func New(h *schema.Handle) *Translator {
	return &Translator{schema: h}
}

// Schema returns the handle the translator checks names against.
func (t *Translator) Schema() *schema.Handle {
	return t.schema
}

func (t *Translator) table(name string) (*schema.Table, error) {
	table, ok := t.schema.Table(name)
	if !ok {
		return nil, fail(name, "", "unknown table")
	}
	return table, nil
}

// Insert translates an add mutation. Assigned attributes and parameters give
// the column values; a relation attribute holds child objects that are
// inserted into the related table and linked through the relation table.
func (t *Translator) Insert(node *ast.MutationNode) ([]Statement, error) {
	if node.Value != nil {
		return nil, errors.WrapInvalid(fail(node.Name, "", "top-level object cannot carry a value"),
			"Translator", "Insert", "check shape")
	}
	if len(node.Children()) == 0 && len(node.Filter()) == 0 {
		return nil, errors.WrapInvalid(fail(node.Name, "", "insert needs at least one value"),
			"Translator", "Insert", "check shape")
	}

	stmts, _, err := t.insert(*node)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Translator", "Insert", "translate insert")
	}
	return stmts, nil
}

// insert returns the statements for node and its key value, nil when the
// key column was not assigned.
func (t *Translator) insert(node ast.MutationNode) ([]Statement, any, error) {
	table, err := t.table(node.Name)
	if err != nil {
		return nil, nil, err
	}

	var (
		cols    []string
		args    []any
		related []ast.MutationNode
		seen    = map[string]bool{}
	)

	add := func(name, raw string) error {
		col, ok := table.Column(name)
		if !ok {
			return fail(table.Name, name, "unknown column")
		}
		if col.IsRelation() {
			return fail(table.Name, name, "relation cannot be assigned a scalar value")
		}
		if seen[name] {
			return fail(table.Name, name, "assigned twice")
		}
		seen[name] = true
		v, err := convert(table.Name, col, raw)
		if err != nil {
			return err
		}
		cols = append(cols, quote(name))
		args = append(args, v)
		return nil
	}

	for _, p := range node.Filter() {
		if err := add(p.Key, p.Value); err != nil {
			return nil, nil, err
		}
	}
	for _, attr := range node.Children() {
		switch {
		case attr.Attrs != nil:
			related = append(related, attr)
		case attr.Value != nil:
			if err := add(attr.Name, *attr.Value); err != nil {
				return nil, nil, err
			}
		default:
			return nil, nil, fail(table.Name, attr.Name, "no value given")
		}
	}

	for _, col := range table.Scalars() {
		if col.Required && !seen[col.Name] {
			return nil, nil, fail(table.Name, col.Name, "required column missing")
		}
	}

	stmts := []Statement{{
		SQL:  fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(table.Name), strings.Join(cols, ", "), placeholders(len(cols))),
		Args: args,
	}}

	parentKey, hasKey := keyValue(table, cols, args)
	if len(related) == 0 {
		return stmts, parentKey, nil
	}
	if !hasKey {
		return nil, nil, fail(table.Name, table.Key(), "key value required to link related objects")
	}

	for _, rel := range related {
		col, ok := table.Column(rel.Name)
		if !ok {
			return nil, nil, fail(table.Name, rel.Name, "unknown column")
		}
		if !col.IsRelation() {
			return nil, nil, fail(table.Name, rel.Name, "scalar column cannot hold objects")
		}
		children := rel.Children()
		if !col.List && len(children) > 1 {
			return nil, nil, fail(table.Name, rel.Name, "relation holds a single object, got %d", len(children))
		}

		for _, child := range children {
			if child.Name != col.Relation {
				return nil, nil, fail(table.Name, rel.Name, "expected %s object, got %q", col.Relation, child.Name)
			}
			childStmts, childKey, err := t.insert(child)
			if err != nil {
				return nil, nil, err
			}
			if childKey == nil {
				childTable, _ := t.schema.Table(child.Name)
				return nil, nil, fail(child.Name, childTable.Key(), "key value required to link to %s", table.Name)
			}
			stmts = append(stmts, childStmts...)
			stmts = append(stmts, Statement{
				SQL: fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (?, ?)",
					quote(table.RelationTable(rel.Name)), quote(ParentColumn), quote(ChildColumn)),
				Args: []any{parentKey, childKey},
			})
		}
	}

	return stmts, parentKey, nil
}

// Update translates an update mutation: assigned attributes become the SET
// list and the node's parameters the WHERE clause.
func (t *Translator) Update(node *ast.MutationNode) ([]Statement, error) {
	stmt, err := t.update(node)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Translator", "Update", "translate update")
	}
	return []Statement{stmt}, nil
}

func (t *Translator) update(node *ast.MutationNode) (Statement, error) {
	table, err := t.table(node.Name)
	if err != nil {
		return Statement{}, err
	}
	if node.Value != nil {
		return Statement{}, fail(table.Name, "", "top-level object cannot carry a value")
	}
	if len(node.Filter()) == 0 {
		return Statement{}, fail(table.Name, "", "update needs parameters selecting the rows")
	}
	if len(node.Children()) == 0 {
		return Statement{}, fail(table.Name, "", "update needs at least one assignment")
	}

	var (
		sets []string
		args []any
	)
	for _, attr := range node.Children() {
		if !attr.IsAssignment() {
			return Statement{}, fail(table.Name, attr.Name, "only scalar assignments can be updated")
		}
		col, err := scalarColumn(table, attr.Name)
		if err != nil {
			return Statement{}, err
		}
		v, err := convert(table.Name, col, *attr.Value)
		if err != nil {
			return Statement{}, err
		}
		sets = append(sets, quote(col.Name)+" = ?")
		args = append(args, v)
	}

	where, whereArgs, err := whereClause(table, node.Filter())
	if err != nil {
		return Statement{}, err
	}

	return Statement{
		SQL:  fmt.Sprintf("UPDATE %s SET %s%s", quote(table.Name), strings.Join(sets, ", "), where),
		Args: append(args, whereArgs...),
	}, nil
}

// Delete translates a delete mutation. Without parameters every row of the
// table is removed.
func (t *Translator) Delete(node *ast.MutationNode) ([]Statement, error) {
	stmt, err := t.delete(node)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Translator", "Delete", "translate delete")
	}
	return []Statement{stmt}, nil
}

func (t *Translator) delete(node *ast.MutationNode) (Statement, error) {
	table, err := t.table(node.Name)
	if err != nil {
		return Statement{}, err
	}
	if node.Value != nil {
		return Statement{}, fail(table.Name, "", "top-level object cannot carry a value")
	}
	if len(node.Children()) > 0 {
		return Statement{}, fail(table.Name, "", "delete takes no attributes")
	}

	where, args, err := whereClause(table, node.Filter())
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:  fmt.Sprintf("DELETE FROM %s%s", quote(table.Name), where),
		Args: args,
	}, nil
}

func scalarColumn(table *schema.Table, name string) (schema.Column, error) {
	col, ok := table.Column(name)
	if !ok {
		return col, fail(table.Name, name, "unknown column")
	}
	if col.IsRelation() {
		return col, fail(table.Name, name, "relation cannot be used here")
	}
	return col, nil
}

// whereClause renders params as an equality conjunction, including the
// leading " WHERE", or nothing for an empty list.
func whereClause(table *schema.Table, params ast.Params) (string, []any, error) {
	if len(params) == 0 {
		return "", nil, nil
	}
	conds := make([]string, 0, len(params))
	args := make([]any, 0, len(params))
	for _, p := range params {
		col, err := scalarColumn(table, p.Key)
		if err != nil {
			return "", nil, err
		}
		v, err := convert(table.Name, col, p.Value)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, quote(col.Name)+" = ?")
		args = append(args, v)
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// convert turns request text into the Go value bound for col.
func convert(table string, col schema.Column, raw string) (any, error) {
	if col.List {
		return raw, nil
	}
	switch col.Type {
	case "Int":
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fail(table, col.Name, "%q is not an Int", raw)
		}
		return v, nil
	case "Float":
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fail(table, col.Name, "%q is not a Float", raw)
		}
		return v, nil
	case "Boolean":
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fail(table, col.Name, "%q is not a Boolean", raw)
		}
		return v, nil
	default:
		return raw, nil
	}
}

// keyValue finds the bound value of the table's key among quoted columns.
func keyValue(table *schema.Table, cols []string, args []any) (any, bool) {
	key := quote(table.Key())
	for i, c := range cols {
		if c == key && i < len(args) {
			return args[i], true
		}
	}
	return nil, false
}

func quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
