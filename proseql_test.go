package proseql_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proseql/proseql"
	"github.com/proseql/proseql/internal/engine/collection"
	"github.com/proseql/proseql/internal/engine/schema"
	"github.com/proseql/proseql/internal/platform/apperr"
)

func companiesSpec() proseql.CollectionSpec {
	return proseql.CollectionSpec{
		Name:   "companies",
		Schema: schema.New(schema.String("name").Required()),
	}
}

func usersSpec() proseql.CollectionSpec {
	return proseql.CollectionSpec{
		Name: "users",
		Schema: schema.New(
			schema.String("name").Required(),
			schema.String("companyId"),
		),
		Relations: []collection.Relation{
			{Name: "company", Kind: collection.RelationRef, Target: "companies", ForeignKey: "companyId"},
		},
	}
}

func TestOpen_CRUDWithForeignKey(t *testing.T) {
	ctx := context.Background()
	db, err := proseql.Open(ctx, proseql.DefaultOptions(), companiesSpec(), usersSpec())
	require.NoError(t, err)

	companies := db.MustCollection("companies")
	users := db.MustCollection("users")

	acme, err := companies.Create(ctx, map[string]any{"id": "c1", "name": "Acme"})
	require.NoError(t, err)

	_, err = users.Create(ctx, map[string]any{"id": "u1", "name": "Ada", "companyId": acme["id"]})
	require.NoError(t, err)

	_, err = users.Create(ctx, map[string]any{"id": "u2", "name": "Grace", "companyId": "missing"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindForeignKey, apperr.KindOf(err))
}

func TestOpen_CursorPagination(t *testing.T) {
	ctx := context.Background()
	spec := proseql.CollectionSpec{Name: "items", Schema: schema.New(schema.String("title"))}
	db, err := proseql.Open(ctx, proseql.DefaultOptions(), spec)
	require.NoError(t, err)

	items := db.MustCollection("items")
	for i := 1; i <= 10; i++ {
		id := itemID(i)
		_, err := items.Create(ctx, map[string]any{"id": id, "title": id})
		require.NoError(t, err)
	}

	page, err := items.RunCursor(collection.Query{
		Sort:   []collection.SortKey{{Field: "id"}},
		Cursor: &collection.CursorArgs{Key: "id", Limit: 3},
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.True(t, page.PageInfo.HasNextPage)
	assert.False(t, page.PageInfo.HasPreviousPage)

	next, err := items.RunCursor(collection.Query{
		Sort:   []collection.SortKey{{Field: "id"}},
		Cursor: &collection.CursorArgs{Key: "id", Limit: 3, After: page.PageInfo.EndCursor},
	})
	require.NoError(t, err)
	assert.True(t, next.PageInfo.HasPreviousPage)
}

func itemID(i int) string {
	const digits = "0123456789"
	s := "item-"
	hundreds := i / 100
	tens := (i / 10) % 10
	ones := i % 10
	return s + string(digits[hundreds]) + string(digits[tens]) + string(digits[ones])
}

func TestOpen_TransactionRollback(t *testing.T) {
	ctx := context.Background()
	spec := proseql.CollectionSpec{Name: "notes", Schema: schema.New(schema.String("body"))}
	db, err := proseql.Open(ctx, proseql.DefaultOptions(), spec)
	require.NoError(t, err)

	notes := db.MustCollection("notes")
	boom := errors.New("boom")

	err = db.Transaction(ctx, func(ctx context.Context) error {
		_, createErr := notes.Create(ctx, map[string]any{"id": "n1", "body": "hello"})
		require.NoError(t, createErr)
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	_, findErr := notes.FindById(ctx, "n1")
	assert.Error(t, findErr)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(findErr))
}

func TestOpen_TransactionCommit(t *testing.T) {
	ctx := context.Background()
	spec := proseql.CollectionSpec{Name: "notes", Schema: schema.New(schema.String("body"))}
	db, err := proseql.Open(ctx, proseql.DefaultOptions(), spec)
	require.NoError(t, err)

	notes := db.MustCollection("notes")

	err = db.Transaction(ctx, func(ctx context.Context) error {
		_, createErr := notes.Create(ctx, map[string]any{"id": "n1", "body": "hello"})
		return createErr
	})
	require.NoError(t, err)

	got, err := notes.FindById(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got["body"])
}

func TestOpen_AppendOnlyRejectsUpdate(t *testing.T) {
	ctx := context.Background()
	spec := proseql.CollectionSpec{
		Name:   "events",
		Schema: schema.New(schema.String("kind").Required()),
		Persistence: &collection.PersistenceConfig{
			Path:       "events.jsonl",
			AppendOnly: true,
		},
	}
	db, err := proseql.Open(ctx, proseql.DefaultOptions(), spec)
	require.NoError(t, err)

	events := db.MustCollection("events")
	_, err = events.Create(ctx, map[string]any{"id": "e1", "kind": "signup"})
	require.NoError(t, err)

	_, err = events.Update(ctx, "e1", map[string]any{"$set": map[string]any{"kind": "login"}})
	require.Error(t, err)
	assert.Equal(t, apperr.KindOperation, apperr.KindOf(err))
}
