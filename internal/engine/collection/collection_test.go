package collection_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/proseql/proseql/internal/engine/collection"
	"github.com/proseql/proseql/internal/engine/schema"
)

// testRegistry is a minimal collection.Registry for tests that need
// cross-collection wiring (foreign keys, populate, cascades) without
// pulling in the full database assembly package.
type testRegistry struct {
	byName map[string]*collection.Collection
}

func newTestRegistry() *testRegistry {
	return &testRegistry{byName: make(map[string]*collection.Collection)}
}

func (r *testRegistry) add(c *collection.Collection) {
	r.byName[c.Name()] = c
}

func (r *testRegistry) Collection(name string) (*collection.Collection, bool) {
	c, ok := r.byName[name]
	return c, ok
}

func mustNew(t *testing.T, cfg collection.Config) *collection.Collection {
	t.Helper()
	c, err := collection.New(cfg)
	require.NoError(t, err)
	return c
}

func booksSchema() schema.Schema {
	return schema.New(
		schema.String("title").Required(),
		schema.String("author"),
		schema.Float("price"),
		schema.String("category"),
	)
}
