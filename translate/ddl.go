package translate

import (
	"fmt"
	"strings"

	"github.com/c360/gqlpool/schema"
)

// SQLType maps a column to its storage type. Lists of scalars are stored as
// text holding the value as given.
func SQLType(col schema.Column) string {
	if col.List {
		return "TEXT"
	}
	switch col.Type {
	case "Int":
		return "BIGINT"
	case "Float":
		return "DOUBLE"
	case "Boolean":
		return "BOOLEAN"
	default:
		return "VARCHAR(255)"
	}
}

// CreateDatabase creates the working database when missing.
func CreateDatabase(name string) Statement {
	return Statement{SQL: "CREATE DATABASE IF NOT EXISTS " + quote(name)}
}

// UseDatabase selects the working database.
func UseDatabase(name string) Statement {
	return Statement{SQL: "USE " + quote(name)}
}

// DropDatabase removes the working database and everything in it.
func DropDatabase(name string) Statement {
	return Statement{SQL: "DROP DATABASE IF EXISTS " + quote(name)}
}

// CreateTable creates the stored columns of t. A required key column becomes
// the primary key.
func CreateTable(t *schema.Table) Statement {
	scalars := t.Scalars()
	defs := make([]string, 0, len(scalars)+1)
	key := t.Key()
	primary := false
	for _, col := range scalars {
		def := quote(col.Name) + " " + SQLType(col)
		if col.Required {
			def += " NOT NULL"
			if col.Name == key {
				primary = true
			}
		}
		defs = append(defs, def)
	}
	if primary {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quote(key)))
	}
	return Statement{
		SQL: fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(t.Name), strings.Join(defs, ", ")),
	}
}

// CreateRelationTables creates one "<Table>_<field>" link table per relation
// column of t.
func CreateRelationTables(h *schema.Handle, t *schema.Table) []Statement {
	var stmts []Statement
	for _, rel := range t.Relations() {
		related, ok := h.Table(rel.Relation)
		if !ok {
			continue
		}
		stmts = append(stmts, Statement{
			SQL: fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s %s NOT NULL, %s %s NOT NULL)",
				quote(t.RelationTable(rel.Name)),
				quote(ParentColumn), keyType(t),
				quote(ChildColumn), keyType(related)),
		})
	}
	return stmts
}

// DropTables removes every table of h, relation tables first. It is the
// database teardown for stores without CREATE DATABASE.
func DropTables(h *schema.Handle) []Statement {
	var stmts []Statement
	for i := range h.Tables {
		t := &h.Tables[i]
		for _, rel := range t.Relations() {
			stmts = append(stmts, Statement{SQL: "DROP TABLE IF EXISTS " + quote(t.RelationTable(rel.Name))})
		}
	}
	for i := range h.Tables {
		stmts = append(stmts, Statement{SQL: "DROP TABLE IF EXISTS " + quote(h.Tables[i].Name)})
	}
	return stmts
}

// Bootstrap lists the table and relation table statements for h, in
// declaration order.
func Bootstrap(h *schema.Handle) []Statement {
	var stmts []Statement
	for i := range h.Tables {
		stmts = append(stmts, CreateTable(&h.Tables[i]))
	}
	for i := range h.Tables {
		stmts = append(stmts, CreateRelationTables(h, &h.Tables[i])...)
	}
	return stmts
}

func keyType(t *schema.Table) string {
	if col, ok := t.Column(t.Key()); ok {
		return SQLType(col)
	}
	return "VARCHAR(255)"
}
