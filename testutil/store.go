package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360/gqlpool/backend"
	"github.com/c360/gqlpool/schema"
)

// StarWarsSchema is the schema most tests run against. Human has a
// self-referencing relation; Droid has only scalars.
const StarWarsSchema = `
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

// StarWarsSeed are mutations that populate a StarWars database: two droids,
// and Luke with friends Leia and Han.
var StarWarsSeed = []string{
	`{ Droid { id: 1 name: "R2-D2" age: 33 height: 1.09 primaryFunction: Astromech } }`,
	`{ Droid { id: 2 name: "C-3PO" age: 112 height: 1.71 primaryFunction: Protocol } }`,
	`{ Human { id: 1000 name: Luke homePlanet: Tatooine friends { Human (id: 1003 name: Leia) Human (id: 1002 name: Han) } } }`,
}

// StarWars parses StarWarsSchema under database name "starwars".
func StarWars(t testing.TB) *schema.Handle {
	t.Helper()

	h, err := schema.Parse("starwars", StarWarsSchema)
	require.NoError(t, err)
	return h
}

// NewSQLiteStore opens an in-memory SQLite store with h's tables created.
// The store is closed when the test ends.
func NewSQLiteStore(t testing.TB, h *schema.Handle) *backend.Store {
	t.Helper()
	ctx := context.Background()

	store, err := backend.Open(ctx, backend.Config{Driver: backend.SQLite, DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Bootstrap(ctx, h))
	return store
}
