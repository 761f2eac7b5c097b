package translate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/c360/gqlpool/errors"
	"github.com/c360/gqlpool/parser"
	"github.com/c360/gqlpool/schema"
)

const starWars = `
type Human {
	id: String!
	name: String
	homePlanet: String
	friends: [Human]
}

type Droid {
	id: String!
	name: String
	age: Int
	height: Float
	active: Boolean
	primaryFunction: String
}
`

func newTranslator(t *testing.T) *Translator {
	t.Helper()
	h, err := schema.Parse("starwars", starWars)
	require.NoError(t, err)
	return New(h)
}

// MockQuerier implements Querier for testing
type MockQuerier struct {
	mock.Mock
}

func (m *MockQuerier) Query(ctx context.Context, stmt Statement) ([]Row, error) {
	args := m.Called(ctx, stmt)
	rows, _ := args.Get(0).([]Row)
	return rows, args.Error(1)
}

func TestUpdate(t *testing.T) {
	tr := newTranslator(t)

	node, err := parser.ParseMutation("{ Droid (id:1) { age: 4 } }")
	require.NoError(t, err)

	stmts, err := tr.Update(node)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Equal(t, "UPDATE `Droid` SET `age` = ? WHERE `id` = ?", stmts[0].SQL)
	assert.Equal(t, []any{int64(4), "1"}, stmts[0].Args)
}

func TestInsert(t *testing.T) {
	tr := newTranslator(t)

	node, err := parser.ParseMutation(`{ Droid { id: 1 name: "R2D2" age: 3 height: 1.09 active: true } }`)
	require.NoError(t, err)

	stmts, err := tr.Insert(node)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Equal(t, "INSERT INTO `Droid` (`id`, `name`, `age`, `height`, `active`) VALUES (?, ?, ?, ?, ?)", stmts[0].SQL)
	assert.Equal(t, []any{"1", "R2D2", int64(3), 1.09, true}, stmts[0].Args)
}

func TestInsert_NestedRelation(t *testing.T) {
	tr := newTranslator(t)

	node, err := parser.ParseMutation(`{
		Human {
			"id": 1
			"name": "Luke"
			friends {
				Human ("id": 2 name: Leia)
				Human ("id": 3 name: Han)
			}
		}
	}`)
	require.NoError(t, err)

	stmts, err := tr.Insert(node)
	require.NoError(t, err)

	insertHuman := "INSERT INTO `Human` (`id`, `name`) VALUES (?, ?)"
	link := "INSERT INTO `Human_friends` (`parent_id`, `child_id`) VALUES (?, ?)"
	assert.Equal(t, []Statement{
		{SQL: insertHuman, Args: []any{"1", "Luke"}},
		{SQL: insertHuman, Args: []any{"2", "Leia"}},
		{SQL: link, Args: []any{"1", "2"}},
		{SQL: insertHuman, Args: []any{"3", "Han"}},
		{SQL: link, Args: []any{"1", "3"}},
	}, stmts)
}

func TestDelete(t *testing.T) {
	tr := newTranslator(t)

	node, err := parser.ParseMutation("{ Droid (id:1 name: R2D2) }")
	require.NoError(t, err)
	stmts, err := tr.Delete(node)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM `Droid` WHERE `id` = ? AND `name` = ?", stmts[0].SQL)
	assert.Equal(t, []any{"1", "R2D2"}, stmts[0].Args)

	node, err = parser.ParseMutation("{ Droid }")
	require.NoError(t, err)
	stmts, err = tr.Delete(node)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM `Droid`", stmts[0].SQL)
	assert.Empty(t, stmts[0].Args)
}

func TestMutationErrors(t *testing.T) {
	tr := newTranslator(t)

	tests := []struct {
		name   string
		op     func(*Translator, string) error
		input  string
		table  string
		column string
	}{
		{"delete with attrs", deleteOp, "{ Droid (id:1) { age: 4 } }", "Droid", ""},
		{"unknown table", insertOp, "{ Wookiee { id: 1 } }", "Wookiee", ""},
		{"unknown column", insertOp, "{ Droid { id: 1 wings: 2 } }", "Droid", "wings"},
		{"bad Int", insertOp, "{ Droid { id: 1 age: old } }", "Droid", "age"},
		{"bad Boolean", updateOp, "{ Droid (id:1) { active: maybe } }", "Droid", "active"},
		{"missing required", insertOp, "{ Droid { name: R2D2 } }", "Droid", "id"},
		{"insert without values", insertOp, "{ Droid }", "Droid", ""},
		{"value at top level", insertOp, "{ Droid: 1 }", "Droid", ""},
		{"update without params", updateOp, "{ Droid { age: 4 } }", "Droid", ""},
		{"update without attrs", updateOp, "{ Droid (id:1) }", "Droid", ""},
		{"update relation", updateOp, "{ Human (id:1) { friends { Human (id:2) } } }", "Human", "friends"},
		{"unknown filter column", deleteOp, "{ Droid (wings:2) }", "Droid", "wings"},
		{"wrong relation type", insertOp, "{ Human { id: 1 friends { Droid (id:2) } } }", "Human", "friends"},
		{"relation without parent key", insertOp, "{ Human { name: Luke friends { Human (id:2) } } }", "Human", "id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op(tr, tt.input)
			require.Error(t, err)

			assert.True(t, errors.Is(err, errors.ErrTranslation), "got %v", err)
			assert.True(t, errors.IsInvalid(err))
			assert.Equal(t, "TRANSLATION_ERROR", errors.Code(err))

			var te *Error
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.table, te.Table)
			assert.Equal(t, tt.column, te.Column)
		})
	}
}

func insertOp(tr *Translator, text string) error {
	node, err := parser.ParseMutation(text)
	if err != nil {
		return err
	}
	_, err = tr.Insert(node)
	return err
}

func updateOp(tr *Translator, text string) error {
	node, err := parser.ParseMutation(text)
	if err != nil {
		return err
	}
	_, err = tr.Update(node)
	return err
}

func deleteOp(tr *Translator, text string) error {
	node, err := parser.ParseMutation(text)
	if err != nil {
		return err
	}
	_, err = tr.Delete(node)
	return err
}

func TestQuery(t *testing.T) {
	tr := newTranslator(t)

	node, err := parser.ParseQuery("{ Droid (id:1) { name age } }")
	require.NoError(t, err)
	plan, err := tr.Query(node)
	require.NoError(t, err)
	assert.Equal(t, "SELECT `name`, `age` FROM `Droid` WHERE `id` = ?", plan.Statement.SQL)
	assert.Equal(t, []any{"1"}, plan.Statement.Args)

	node, err = parser.ParseQuery("{ Human }")
	require.NoError(t, err)
	plan, err = tr.Query(node)
	require.NoError(t, err)
	assert.Equal(t, "SELECT `id`, `name`, `homePlanet` FROM `Human`", plan.Statement.SQL)
}

func TestQuery_Relation(t *testing.T) {
	tr := newTranslator(t)

	node, err := parser.ParseQuery(`{ Human (id:"1") { name friends (homePlanet: Alderaan) { id name } } }`)
	require.NoError(t, err)
	plan, err := tr.Query(node)
	require.NoError(t, err)

	stmts := plan.Statements()
	require.Len(t, stmts, 2)
	assert.Equal(t, "SELECT `name`, `id` FROM `Human` WHERE `id` = ?", stmts[0].SQL)
	assert.Equal(t, "SELECT `id`, `name` FROM `Human` WHERE `id` IN "+
		"(SELECT `child_id` FROM `Human_friends` WHERE `parent_id` = ?) AND `homePlanet` = ?", stmts[1].SQL)
	assert.Equal(t, []any{"Alderaan"}, stmts[1].Args)
}

func TestQueryErrors(t *testing.T) {
	tr := newTranslator(t)

	tests := []struct {
		name  string
		input string
	}{
		{"unknown table", "{ Wookiee { id } }"},
		{"unknown column", "{ Droid { wings } }"},
		{"empty selection", "{ Droid {} }"},
		{"relation as leaf", "{ Human { friends } }"},
		{"scalar with selection", "{ Droid { name { first } } }"},
		{"unknown filter", "{ Droid (wings: 2) { id } }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := parser.ParseQuery(tt.input)
			require.NoError(t, err)
			_, err = tr.Query(node)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrTranslation))
		})
	}
}

func TestResolve(t *testing.T) {
	tr := newTranslator(t)
	ctx := context.Background()

	node, err := parser.ParseQuery(`{ Human (id:"1") { name friends { id name } } }`)
	require.NoError(t, err)
	plan, err := tr.Query(node)
	require.NoError(t, err)

	q := &MockQuerier{}
	q.On("Query", ctx, plan.Statement).Return([]Row{{"id": "1", "name": []byte("Luke")}}, nil)
	q.On("Query", ctx, Statement{SQL: plan.Statements()[1].SQL, Args: []any{"1"}}).
		Return([]Row{{"id": "2", "name": "Leia"}, {"id": "3", "name": "Han"}}, nil)

	out, err := Resolve(ctx, q, plan)
	require.NoError(t, err)
	assert.Equal(t, `{"Human":{"name":"Luke","friends":[{"id":"2","name":"Leia"},{"id":"3","name":"Han"}]}}`, out)
	q.AssertExpectations(t)
}

func TestResolve_RowShapes(t *testing.T) {
	tr := newTranslator(t)
	ctx := context.Background()

	node, err := parser.ParseQuery("{ Droid { age name } }")
	require.NoError(t, err)
	plan, err := tr.Query(node)
	require.NoError(t, err)

	tests := []struct {
		name     string
		rows     []Row
		expected string
	}{
		{"no rows", nil, `{"Droid":[]}`},
		{"one row", []Row{{"name": "R2D2", "age": int64(3)}}, `{"Droid":{"age":3,"name":"R2D2"}}`},
		{"many rows", []Row{{"name": "R2D2", "age": int64(3)}, {"name": "C3PO", "age": nil}},
			`{"Droid":[{"age":3,"name":"R2D2"},{"age":null,"name":"C3PO"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &MockQuerier{}
			q.On("Query", ctx, plan.Statement).Return(tt.rows, nil)

			out, err := Resolve(ctx, q, plan)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestResolve_RepeatedFieldsAndBooleans(t *testing.T) {
	tr := newTranslator(t)
	ctx := context.Background()

	node, err := parser.ParseQuery("{ Droid (id:1) { active name name active } }")
	require.NoError(t, err)
	plan, err := tr.Query(node)
	require.NoError(t, err)
	assert.Equal(t, "SELECT `active`, `name` FROM `Droid` WHERE `id` = ?", plan.Statement.SQL)
	require.Len(t, plan.Fields, 2)

	q := &MockQuerier{}
	q.On("Query", ctx, plan.Statement).Return([]Row{{"active": int64(1), "name": "R2"}}, nil)

	out, err := Resolve(ctx, q, plan)
	require.NoError(t, err)
	assert.Equal(t, `{"Droid":{"active":true,"name":"R2"}}`, out)
}

func TestScalarValue(t *testing.T) {
	tests := []struct {
		name string
		typ  string
		in   any
		want any
	}{
		{"sqlite true", "Boolean", int64(1), true},
		{"sqlite false", "Boolean", int64(0), false},
		{"mysql bytes", "Boolean", []byte("0"), false},
		{"text", "Boolean", "true", true},
		{"null", "Boolean", nil, nil},
		{"unparseable kept", "Boolean", "maybe", "maybe"},
		{"Int untouched", "Int", int64(1), int64(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scalarValue(tt.typ, tt.in))
		})
	}
}

func TestResolve_BackendError(t *testing.T) {
	tr := newTranslator(t)
	ctx := context.Background()

	node, err := parser.ParseQuery("{ Droid { name } }")
	require.NoError(t, err)
	plan, err := tr.Query(node)
	require.NoError(t, err)

	q := &MockQuerier{}
	q.On("Query", ctx, plan.Statement).
		Return(nil, errors.WrapTransient(errors.Join(errors.ErrBackend, errors.New("no such table")), "Store", "Query", "select"))

	_, err = Resolve(ctx, q, plan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBackend))
	assert.True(t, errors.IsTransient(err))
}

func TestRenderAffected(t *testing.T) {
	assert.Equal(t, `{"Droid":{"affected":2}}`, RenderAffected("Droid", 2))
}

type errorPayload struct {
	Errors []struct {
		Message   string `json:"message"`
		Locations []struct {
			Line   int `json:"line"`
			Column int `json:"column"`
		} `json:"locations"`
		Extensions map[string]any `json:"extensions"`
	} `json:"errors"`
}

func TestRenderError(t *testing.T) {
	_, parseErr := parser.ParseQuery("{ user (id:) }")
	require.Error(t, parseErr)

	var parsed errorPayload
	require.NoError(t, json.Unmarshal([]byte(RenderError(parseErr)), &parsed))
	require.Len(t, parsed.Errors, 1)
	assert.Equal(t, "PARSE_ERROR", parsed.Errors[0].Extensions["code"])
	require.Len(t, parsed.Errors[0].Locations, 1)
	assert.Equal(t, 1, parsed.Errors[0].Locations[0].Line)
	assert.Equal(t, 12, parsed.Errors[0].Locations[0].Column)

	tr := newTranslator(t)
	node, err := parser.ParseMutation("{ Droid { id: 1 wings: 2 } }")
	require.NoError(t, err)
	_, err = tr.Insert(node)
	require.Error(t, err)

	var translated errorPayload
	require.NoError(t, json.Unmarshal([]byte(RenderError(err)), &translated))
	require.Len(t, translated.Errors, 1)
	assert.Equal(t, "TRANSLATION_ERROR", translated.Errors[0].Extensions["code"])
	assert.Equal(t, "Droid", translated.Errors[0].Extensions["table"])
	assert.Equal(t, "wings", translated.Errors[0].Extensions["column"])
	assert.Empty(t, translated.Errors[0].Locations)
}

func TestDDL(t *testing.T) {
	h, err := schema.Parse("starwars", starWars)
	require.NoError(t, err)
	human, _ := h.Table("Human")

	assert.Equal(t, "CREATE DATABASE IF NOT EXISTS `starwars`", CreateDatabase("starwars").SQL)
	assert.Equal(t, "USE `starwars`", UseDatabase("starwars").SQL)
	assert.Equal(t, "DROP DATABASE IF EXISTS `starwars`", DropDatabase("starwars").SQL)
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS `Human` (`id` VARCHAR(255) NOT NULL, `name` VARCHAR(255), "+
		"`homePlanet` VARCHAR(255), PRIMARY KEY (`id`))", CreateTable(human).SQL)

	rel := CreateRelationTables(h, human)
	require.Len(t, rel, 1)
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS `Human_friends` "+
		"(`parent_id` VARCHAR(255) NOT NULL, `child_id` VARCHAR(255) NOT NULL)", rel[0].SQL)

	droid, _ := h.Table("Droid")
	assert.Contains(t, CreateTable(droid).SQL, "`age` BIGINT, `height` DOUBLE, `active` BOOLEAN")

	assert.Len(t, Bootstrap(h), 3)
	drops := DropTables(h)
	require.Len(t, drops, 3)
	assert.Equal(t, "DROP TABLE IF EXISTS `Human_friends`", drops[0].SQL)
}
