package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360/gqlpool/ast"
	"github.com/c360/gqlpool/errors"
	"github.com/c360/gqlpool/schema"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Querier runs a SELECT and returns its rows.
type Querier interface {
	Query(ctx context.Context, stmt Statement) ([]Row, error)
}

// Field is one requested attribute: a column, or a relation with its own plan.
type Field struct {
	Name string
	// Type is the schema type of a column field.
	Type     string
	Relation *QueryPlan
}

// QueryPlan is the statement for one object of a query plus a plan for
// each requested relation. Relation plans are run once per parent row.
type QueryPlan struct {
	Name      string
	Table     *schema.Table
	Statement Statement
	Fields    []Field

	// List is false for a relation holding a single object.
	List bool

	// key is the selected column passed to relation plans.
	key string
	// linked plans take the parent key as their first argument.
	linked bool
}

// Query translates a read query. Without attributes every stored column is
// selected; relation attributes produce nested plans joined through the
// relation table "<Table>_<field>".
func (t *Translator) Query(node *ast.QueryNode) (*QueryPlan, error) {
	table, err := t.table(node.Name)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Translator", "Query", "resolve table")
	}
	plan, err := t.plan(node, table)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Translator", "Query", "translate query")
	}
	return plan, nil
}

func (t *Translator) plan(node *ast.QueryNode, table *schema.Table) (*QueryPlan, error) {
	plan := &QueryPlan{Name: node.Name, Table: table, List: true}

	var requested []ast.QueryNode
	switch {
	case node.Attrs == nil:
		for _, col := range table.Scalars() {
			requested = append(requested, ast.QueryNode{Name: col.Name})
		}
	case len(*node.Attrs) == 0:
		return nil, fail(table.Name, "", "empty selection")
	default:
		requested = *node.Attrs
	}

	var (
		cols     []string
		selected = map[string]bool{}
		answered = map[string]bool{}
	)
	for _, attr := range requested {
		col, ok := table.Column(attr.Name)
		if !ok {
			return nil, fail(table.Name, attr.Name, "unknown column")
		}
		// A repeated attribute is answered once, at its first position.
		if answered[col.Name] {
			continue
		}
		answered[col.Name] = true

		if !col.IsRelation() {
			if attr.Attrs != nil || attr.Params != nil {
				return nil, fail(table.Name, attr.Name, "scalar column cannot take a selection")
			}
			if !selected[col.Name] {
				selected[col.Name] = true
				cols = append(cols, quote(col.Name))
			}
			plan.Fields = append(plan.Fields, Field{Name: col.Name, Type: col.Type})
			continue
		}

		if attr.Attrs == nil {
			return nil, fail(table.Name, attr.Name, "relation needs a selection")
		}
		related, _ := t.schema.Table(col.Relation)
		child, err := t.plan(&ast.QueryNode{Name: attr.Name, Params: attr.Params, Attrs: attr.Attrs}, related)
		if err != nil {
			return nil, err
		}
		child.List = col.List
		child.linked = true
		child.Statement = linkStatement(child.Statement, table.RelationTable(col.Name), related.Key())
		plan.Fields = append(plan.Fields, Field{Name: attr.Name, Relation: child})
	}

	for _, f := range plan.Fields {
		if f.Relation != nil {
			plan.key = table.Key()
			if !selected[plan.key] {
				cols = append(cols, quote(plan.key))
			}
			break
		}
	}

	where, args, err := whereClause(table, node.Filter())
	if err != nil {
		return nil, err
	}

	plan.Statement = Statement{
		SQL:  fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(cols, ", "), quote(table.Name), where),
		Args: args,
	}
	return plan, nil
}

// linkStatement restricts a related select to the rows linked to one parent.
func linkStatement(stmt Statement, relationTable, childKey string) Statement {
	link := fmt.Sprintf("%s IN (SELECT %s FROM %s WHERE %s = ?)",
		quote(childKey), quote(ChildColumn), quote(relationTable), quote(ParentColumn))

	if i := strings.Index(stmt.SQL, " WHERE "); i >= 0 {
		stmt.SQL = stmt.SQL[:i] + " WHERE " + link + " AND " + stmt.SQL[i+len(" WHERE "):]
	} else {
		stmt.SQL += " WHERE " + link
	}
	return stmt
}

// bind returns the statement for a linked plan under one parent key.
func (p *QueryPlan) bind(parentKey any) Statement {
	if !p.linked {
		return p.Statement
	}
	args := make([]any, 0, len(p.Statement.Args)+1)
	args = append(args, parentKey)
	args = append(args, p.Statement.Args...)
	return Statement{SQL: p.Statement.SQL, Args: args}
}

// Statements lists the plan's statement followed by those of its relations,
// depth first. Relation statements expect the parent key as first argument.
func (p *QueryPlan) Statements() []Statement {
	out := []Statement{p.Statement}
	for _, f := range p.Fields {
		if f.Relation != nil {
			out = append(out, f.Relation.Statements()...)
		}
	}
	return out
}

// Resolve runs plan against q and renders the response text.
func Resolve(ctx context.Context, q Querier, plan *QueryPlan) (string, error) {
	rows, err := q.Query(ctx, plan.Statement)
	if err != nil {
		return "", errors.Wrap(err, "Translator", "Resolve", fmt.Sprintf("query %s", plan.Table.Name))
	}

	w := newWriter()
	w.openObject()
	w.key(plan.Name)
	if len(rows) == 1 {
		err = writeRow(ctx, w, q, plan, rows[0])
	} else {
		err = writeRows(ctx, w, q, plan, rows)
	}
	if err != nil {
		return "", err
	}
	w.closeObject()
	return w.String(), nil
}

func writeRows(ctx context.Context, w *writer, q Querier, plan *QueryPlan, rows []Row) error {
	w.openArray()
	for _, row := range rows {
		w.next()
		if err := writeRow(ctx, w, q, plan, row); err != nil {
			return err
		}
	}
	w.closeArray()
	return nil
}

func writeRow(ctx context.Context, w *writer, q Querier, plan *QueryPlan, row Row) error {
	w.openObject()
	for _, f := range plan.Fields {
		w.key(f.Name)
		if f.Relation == nil {
			w.value(scalarValue(f.Type, row[f.Name]))
			continue
		}

		children, err := q.Query(ctx, f.Relation.bind(row[plan.key]))
		if err != nil {
			return errors.Wrap(err, "Translator", "Resolve", fmt.Sprintf("query relation %s.%s", plan.Table.Name, f.Name))
		}
		switch {
		case f.Relation.List:
			err = writeRows(ctx, w, q, f.Relation, children)
		case len(children) == 0:
			w.value(nil)
		default:
			err = writeRow(ctx, w, q, f.Relation, children[0])
		}
		if err != nil {
			return err
		}
	}
	w.closeObject()
	return nil
}

// scalarValue restores the schema type of a stored value. Booleans come back
// from both dialects as integers.
func scalarValue(typ string, v any) any {
	if typ != "Boolean" {
		return v
	}
	switch b := v.(type) {
	case int64:
		return b != 0
	case int:
		return b != 0
	case float64:
		return b != 0
	case []byte:
		return parseBool(string(b), v)
	case string:
		return parseBool(b, v)
	}
	return v
}

func parseBool(s string, fallback any) any {
	switch strings.ToLower(s) {
	case "1", "true":
		return true
	case "0", "false":
		return false
	}
	return fallback
}
