package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gqlpool/errors"
	"github.com/c360/gqlpool/parser"
	"github.com/c360/gqlpool/schema"
	"github.com/c360/gqlpool/translate"
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
	primaryFunction: String
}
`

func openSQLite(t *testing.T) (*Store, *schema.Handle) {
	t.Helper()
	ctx := context.Background()

	h, err := schema.Parse("starwars", starWars)
	require.NoError(t, err)

	store, err := Open(ctx, Config{Driver: SQLite, DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Bootstrap(ctx, h))
	return store, h
}

func TestStore_ExecAndQuery(t *testing.T) {
	store, h := openSQLite(t)
	ctx := context.Background()
	tr := translate.New(h)

	node, err := parser.ParseMutation(`{ Droid { id: 1 name: "R2D2" age: 3 height: 1.09 } }`)
	require.NoError(t, err)
	stmts, err := tr.Insert(node)
	require.NoError(t, err)

	affected, err := store.Exec(ctx, stmts...)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	rows, err := store.Query(ctx, translate.Statement{
		SQL:  "SELECT `id`, `name`, `age`, `height` FROM `Droid` WHERE `id` = ?",
		Args: []any{"1"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1", rows[0]["id"])
	assert.Equal(t, "R2D2", rows[0]["name"])
	assert.Equal(t, int64(3), rows[0]["age"])
	assert.InDelta(t, 1.09, rows[0]["height"], 0.0001)
}

func TestStore_ResolveRelations(t *testing.T) {
	store, h := openSQLite(t)
	ctx := context.Background()
	tr := translate.New(h)

	node, err := parser.ParseMutation(`{
		Human {
			id: 1
			name: Luke
			friends {
				Human (id: 2 name: Leia)
				Human (id: 3 name: Han)
			}
		}
	}`)
	require.NoError(t, err)
	stmts, err := tr.Insert(node)
	require.NoError(t, err)

	affected, err := store.Exec(ctx, stmts...)
	require.NoError(t, err)
	assert.Equal(t, int64(5), affected)

	query, err := parser.ParseQuery("{ Human (id: 1) { name friends { id name } } }")
	require.NoError(t, err)
	plan, err := tr.Query(query)
	require.NoError(t, err)

	out, err := translate.Resolve(ctx, store, plan)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Human":{"name":"Luke","friends":[{"id":"2","name":"Leia"},{"id":"3","name":"Han"}]}}`, out)
}

func TestStore_ExecRollsBack(t *testing.T) {
	store, _ := openSQLite(t)
	ctx := context.Background()

	_, err := store.Exec(ctx,
		translate.Statement{SQL: "INSERT INTO `Droid` (`id`, `name`) VALUES (?, ?)", Args: []any{"1", "R2D2"}},
		translate.Statement{SQL: "INSERT INTO `Droid` (`id`, `name`) VALUES (?, ?)", Args: []any{"1", "again"}},
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBackend))
	assert.True(t, errors.IsTransient(err))

	rows, err := store.Query(ctx, translate.Statement{SQL: "SELECT `id` FROM `Droid`"})
	require.NoError(t, err)
	assert.Empty(t, rows, "first insert should be rolled back")
}

func TestStore_QueryError(t *testing.T) {
	store, _ := openSQLite(t)

	_, err := store.Query(context.Background(), translate.Statement{SQL: "SELECT * FROM `Wookiee`"})
	require.Error(t, err)
	assert.Equal(t, "BACKEND_ERROR", errors.Code(err))
}

func TestStore_Destroy(t *testing.T) {
	store, h := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, store.Destroy(ctx, h))

	_, err := store.Query(ctx, translate.Statement{SQL: "SELECT `id` FROM `Droid`"})
	assert.Error(t, err)

	// Bootstrapping again recreates the tables.
	require.NoError(t, store.Bootstrap(ctx, h))
	_, err = store.Query(ctx, translate.Statement{SQL: "SELECT `id` FROM `Droid`"})
	assert.NoError(t, err)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
	assert.True(t, errors.IsFatal(err))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, int64(42), normalize([]byte("42"), "BIGINT"))
	assert.Equal(t, 2.5, normalize([]byte("2.5"), "DOUBLE"))
	assert.Equal(t, "Luke", normalize([]byte("Luke"), "VARCHAR"))
	assert.Equal(t, int64(7), normalize(float64(7), "INT"))
	assert.Nil(t, normalize(nil, "VARCHAR"))
}
