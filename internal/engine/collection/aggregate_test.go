package collection_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proseql/proseql/internal/engine/collection"
)

func seedBooks(t *testing.T, c *collection.Collection) {
	t.Helper()
	ctx := context.Background()
	books := []map[string]any{
		{"id": "b1", "title": "Dune", "author": "Frank Herbert", "price": 12.0, "category": "scifi"},
		{"id": "b2", "title": "Neuromancer", "author": "William Gibson", "price": 10.0, "category": "scifi"},
		{"id": "b3", "title": "Emma", "author": "Jane Austen", "price": 8.0, "category": "classic"},
	}
	for _, b := range books {
		_, err := c.Create(ctx, b)
		require.NoError(t, err)
	}
}

func TestAggregate_Ungrouped(t *testing.T) {
	c := mustNew(t, collection.Config{Name: "books", Schema: booksSchema()})
	seedBooks(t, c)

	results, err := c.Aggregate(collection.AggregateConfig{
		Sum: []string{"price"},
		Avg: []string{"price"},
		Min: []string{"price"},
		Max: []string{"price"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, 3, r.Count)
	assert.InDelta(t, 30.0, r.Sum["price"], 0.0001)
	assert.InDelta(t, 10.0, r.Avg["price"], 0.0001)
	assert.Equal(t, 8.0, r.Min["price"])
	assert.Equal(t, 12.0, r.Max["price"])
	assert.Nil(t, r.Group)
}

func TestAggregate_GroupBy(t *testing.T) {
	c := mustNew(t, collection.Config{Name: "books", Schema: booksSchema()})
	seedBooks(t, c)

	results, err := c.Aggregate(collection.AggregateConfig{
		GroupBy: []string{"category"},
		Sum:     []string{"price"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	byCategory := make(map[string]collection.AggregateResult, len(results))
	for _, r := range results {
		byCategory[r.Group["category"].(string)] = r
	}

	assert.Equal(t, 2, byCategory["scifi"].Count)
	assert.InDelta(t, 22.0, byCategory["scifi"].Sum["price"], 0.0001)
	assert.Equal(t, 1, byCategory["classic"].Count)
	assert.InDelta(t, 8.0, byCategory["classic"].Sum["price"], 0.0001)
}

func TestAggregate_AbsentFieldIgnoredNotZero(t *testing.T) {
	c := mustNew(t, collection.Config{Name: "books", Schema: booksSchema()})
	ctx := context.Background()
	_, err := c.Create(ctx, map[string]any{"id": "b1", "title": "No Price"})
	require.NoError(t, err)

	results, err := c.Aggregate(collection.AggregateConfig{Sum: []string{"price"}, Avg: []string{"price"}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	_, hasSum := results[0].Sum["price"]
	_, hasAvg := results[0].Avg["price"]
	assert.False(t, hasSum)
	assert.False(t, hasAvg)
}
