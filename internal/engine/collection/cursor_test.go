package collection_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proseql/proseql/internal/engine/collection"
)

func seedItems(t *testing.T, c *collection.Collection, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		_, err := c.Create(ctx, map[string]any{"id": fmt.Sprintf("item-%03d", i), "title": fmt.Sprintf("Item %d", i)})
		require.NoError(t, err)
	}
}

func TestRunCursor_FirstPageAndNext(t *testing.T) {
	c := mustNew(t, collection.Config{Name: "items", Schema: booksSchema()})
	seedItems(t, c, 10)

	page, err := c.RunCursor(collection.Query{
		Sort:   []collection.SortKey{{Field: "id"}},
		Cursor: &collection.CursorArgs{Key: "id", Limit: 3},
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)

	gotIDs := make([]string, len(page.Items))
	for i, e := range page.Items {
		gotIDs[i] = e["id"].(string)
	}
	assert.Equal(t, []string{"item-001", "item-002", "item-003"}, gotIDs)
	require.NotNil(t, page.PageInfo.EndCursor)
	assert.Equal(t, "item-003", *page.PageInfo.EndCursor)
	assert.True(t, page.PageInfo.HasNextPage)
	assert.False(t, page.PageInfo.HasPreviousPage)

	next, err := c.RunCursor(collection.Query{
		Sort:   []collection.SortKey{{Field: "id"}},
		Cursor: &collection.CursorArgs{Key: "id", Limit: 3, After: page.PageInfo.EndCursor},
	})
	require.NoError(t, err)
	require.Len(t, next.Items, 3)

	gotIDs = make([]string, len(next.Items))
	for i, e := range next.Items {
		gotIDs[i] = e["id"].(string)
	}
	assert.Equal(t, []string{"item-004", "item-005", "item-006"}, gotIDs)
	assert.True(t, next.PageInfo.HasPreviousPage)
	assert.True(t, next.PageInfo.HasNextPage)
}

func TestRunCursor_EmptyResultHasNullCursors(t *testing.T) {
	c := mustNew(t, collection.Config{Name: "items", Schema: booksSchema()})

	page, err := c.RunCursor(collection.Query{
		Sort:   []collection.SortKey{{Field: "id"}},
		Cursor: &collection.CursorArgs{Key: "id", Limit: 3},
	})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Nil(t, page.PageInfo.StartCursor)
	assert.Nil(t, page.PageInfo.EndCursor)
	assert.False(t, page.PageInfo.HasNextPage)
	assert.False(t, page.PageInfo.HasPreviousPage)
}

func TestRunCursor_RejectsAfterAndBeforeTogether(t *testing.T) {
	c := mustNew(t, collection.Config{Name: "items", Schema: booksSchema()})
	seedItems(t, c, 3)

	after := "item-001"
	before := "item-002"
	_, err := c.RunCursor(collection.Query{
		Sort:   []collection.SortKey{{Field: "id"}},
		Cursor: &collection.CursorArgs{Key: "id", Limit: 3, After: &after, Before: &before},
	})
	assert.Error(t, err)
}

func TestRunCursor_RequiresSingleSortKey(t *testing.T) {
	c := mustNew(t, collection.Config{Name: "items", Schema: booksSchema()})
	seedItems(t, c, 3)

	_, err := c.RunCursor(collection.Query{
		Cursor: &collection.CursorArgs{Key: "id", Limit: 3},
	})
	assert.Error(t, err)
}
