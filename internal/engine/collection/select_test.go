package collection_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proseql/proseql/internal/engine/collection"
	"github.com/proseql/proseql/internal/engine/schema"
)

func companiesSchema() schema.Schema {
	return schema.New(schema.String("name").Required())
}

func usersSchema() schema.Schema {
	return schema.New(
		schema.String("name").Required(),
		schema.String("email"),
		schema.String("companyId"),
	)
}

func TestRun_SelectProjectsFields(t *testing.T) {
	c := mustNew(t, collection.Config{Name: "books", Schema: booksSchema()})
	seedBooks(t, c)

	rows, err := c.Run(collection.Query{
		Sort:   []collection.SortKey{{Field: "id"}},
		Select: map[string]any{"title": true},
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Contains(t, row, "title")
		assert.NotContains(t, row, "author")
		assert.NotContains(t, row, "price")
	}
}

func TestRun_PopulateThenSelectNested(t *testing.T) {
	registry := newTestRegistry()

	companies := mustNew(t, collection.Config{Name: "companies", Schema: companiesSchema()})
	users := mustNew(t, collection.Config{
		Name:   "users",
		Schema: usersSchema(),
		Relations: []collection.Relation{
			{Name: "company", Kind: collection.RelationRef, Target: "companies", ForeignKey: "companyId"},
		},
	})
	registry.add(companies)
	registry.add(users)
	companies.Bind(registry, nil, nil, nil, nil)
	users.Bind(registry, nil, nil, nil, nil)

	ctx := context.Background()
	co, err := companies.Create(ctx, map[string]any{"id": "c1", "name": "Acme"})
	require.NoError(t, err)

	_, err = users.Create(ctx, map[string]any{"id": "u1", "name": "Ada", "email": "ada@example.com", "companyId": co["id"]})
	require.NoError(t, err)

	rows, err := users.Run(collection.Query{
		Populate: []string{"company"},
		Select: map[string]any{
			"name":    true,
			"company": map[string]any{"name": true},
		},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "Ada", row["name"])
	assert.NotContains(t, row, "email")

	nested, ok := row["company"].(schema.Entity)
	require.True(t, ok)
	assert.Equal(t, "Acme", nested["name"])
	assert.NotContains(t, nested, "id")
}

func TestCreateMany_SkipDuplicates(t *testing.T) {
	c := mustNew(t, collection.Config{Name: "books", Schema: booksSchema()})
	ctx := context.Background()
	_, err := c.Create(ctx, map[string]any{"id": "b1", "title": "Dune"})
	require.NoError(t, err)

	result, err := c.CreateMany(ctx, []map[string]any{
		{"id": "b1", "title": "Dune Again"},
		{"id": "b2", "title": "Neuromancer"},
		{"id": "b2", "title": "Neuromancer Dup"},
	}, collection.CreateManyOptions{SkipDuplicates: true})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"b1", "b2"}, result.Skipped)
	require.Len(t, result.Created, 1)
	assert.Equal(t, "b2", result.Created[0]["id"])
}

func TestCreateMany_DuplicateWithoutSkipFails(t *testing.T) {
	c := mustNew(t, collection.Config{Name: "books", Schema: booksSchema()})
	ctx := context.Background()
	_, err := c.Create(ctx, map[string]any{"id": "b1", "title": "Dune"})
	require.NoError(t, err)

	_, err = c.CreateMany(ctx, []map[string]any{
		{"id": "b1", "title": "Dune Again"},
	}, collection.CreateManyOptions{})
	assert.Error(t, err)
}
