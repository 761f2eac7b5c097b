package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gqlpool/errors"
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
	primaryFunction: String
}
`

func TestParse(t *testing.T) {
	h, err := Parse("starwars", starWars)
	require.NoError(t, err)

	assert.Equal(t, "starwars", h.Database)
	require.Len(t, h.Tables, 2)
	assert.Equal(t, "Human", h.Tables[0].Name)
	assert.Equal(t, "Droid", h.Tables[1].Name)

	human, ok := h.Table("Human")
	require.True(t, ok)

	friends, ok := human.Column("friends")
	require.True(t, ok)
	assert.True(t, friends.IsRelation())
	assert.True(t, friends.List)
	assert.Equal(t, "Human", friends.Relation)
	assert.Equal(t, "Human_friends", human.RelationTable("friends"))

	assert.Len(t, human.Scalars(), 3)
	assert.Len(t, human.Relations(), 1)
	assert.Equal(t, "id", human.Key())

	id, _ := human.Column("id")
	assert.True(t, id.Required)
	assert.False(t, id.IsRelation())

	_, ok = h.Table("Wookiee")
	assert.False(t, ok)
}

func TestTable_KeyFallback(t *testing.T) {
	h, err := Parse("db", "type Planet { code: String climate: String }")
	require.NoError(t, err)

	planet, _ := h.Table("Planet")
	assert.Equal(t, "code", planet.Key())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		database string
		text     string
		target   error
	}{
		{"syntax", "db", "type Human { id String }", errors.ErrParse},
		{"duplicate type", "db", "type A { id: Int } type A { id: Int }", errors.ErrInvalidData},
		{"duplicate field", "db", "type A { id: Int id: String }", errors.ErrInvalidData},
		{"missing database", "", "type A { id: Int }", errors.ErrMissingConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.database, tt.text)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "starwars.schema")
	require.NoError(t, os.WriteFile(path, []byte(starWars), 0o600))

	h, err := LoadFile(path, "starwars")
	require.NoError(t, err)
	assert.Len(t, h.Tables, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing"), "starwars")
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestLoadSDL(t *testing.T) {
	sdl := `
type Query {
	human(id: ID!): Human
}

type Human {
	id: ID!
	name: String
	height: Float
	friends: [Human!]
	ships: [Starship]
}

type Starship {
	id: ID!
	length: Float
}

enum Episode { NEWHOPE EMPIRE JEDI }
`
	path := filepath.Join(t.TempDir(), "schema.graphql")
	require.NoError(t, os.WriteFile(path, []byte(sdl), 0o600))

	h, err := LoadSDL(path, "starwars")
	require.NoError(t, err)

	require.Len(t, h.Tables, 2, "Query root and enums are not tables")
	assert.Equal(t, "Human", h.Tables[0].Name)
	assert.Equal(t, "Starship", h.Tables[1].Name)

	human, _ := h.Table("Human")
	id, _ := human.Column("id")
	assert.Equal(t, "ID", id.Type)
	assert.True(t, id.Required)

	friends, _ := human.Column("friends")
	assert.Equal(t, "Human", friends.Relation)
	assert.True(t, friends.List)

	ships, _ := human.Column("ships")
	assert.Equal(t, "Starship", ships.Relation)
}

func TestParseSDL_Invalid(t *testing.T) {
	_, err := ParseSDL("db", "bad.graphql", "type Human { id: ID! friends: [Wookiee] }")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
