package collection

import (
	"fmt"

	"github.com/proseql/proseql/internal/engine/schema"
	"github.com/proseql/proseql/internal/platform/apperr"
	"github.com/proseql/proseql/pkg/pointer"
)

// CursorArgs configures cursor pagination (spec §4.9). Exactly one of
// After/Before may be set; neither is required for a first page.
type CursorArgs struct {
	Key    string
	After  *string
	Before *string
	Limit  int
}

// PageInfo describes one cursor page's position relative to the full
// result set.
type PageInfo struct {
	StartCursor     *string
	EndCursor       *string
	HasNextPage     bool
	HasPreviousPage bool
}

// CursorPage is the result of [Collection.RunCursor].
type CursorPage struct {
	Items    []schema.Entity
	PageInfo PageInfo
}

// RunCursor executes the pipeline like Run, but applies cursor pagination
// instead of offset/limit (spec §4.9). It requires a single sort key,
// which doubles as the cursor key; After and Before are mutually
// exclusive, and Limit must be positive.
//
// Cursors are opaque strings produced from the sort key's value at the
// row in question. Because rows are already totally ordered by that key
// (spec requires cursor pagination's sort key to be unique enough to
// order by), "key > after" / "key < before" is implemented as a position
// lookup in the sorted sequence rather than a typed re-comparison of the
// cursor string, so it works identically for string and numeric keys.
func (c *Collection) RunCursor(q Query) (CursorPage, error) {
	if q.Cursor == nil {
		return CursorPage{}, apperr.Operation("RunCursor requires Query.Cursor to be set")
	}
	if len(q.Sort) != 1 {
		return CursorPage{}, apperr.Operation("cursor pagination requires exactly one sort key")
	}
	if q.Cursor.After != nil && q.Cursor.Before != nil {
		return CursorPage{}, apperr.Operation("cursor pagination cannot combine after and before")
	}
	if q.Cursor.Limit <= 0 {
		return CursorPage{}, apperr.Operation("cursor pagination requires a positive limit")
	}

	key := q.Sort[0]
	candidates := c.resolveCandidates(q.Where)
	rows := c.materialize(candidates, q.IncludeDeleted)
	rows = filterRows(rows, q.Where, c.fts)
	sortRows(rows, q.Sort)

	cursors := make([]string, len(rows))
	for i, e := range rows {
		v, _ := e.Get(key.Field)
		cursors[i] = cursorString(v)
	}

	windowed, hasNext, hasPrev := windowCursor(rows, cursors, q.Cursor)

	items, err := c.finishRows(windowed, q.Populate, q.Select)
	if err != nil {
		return CursorPage{}, err
	}

	page := CursorPage{Items: items, PageInfo: PageInfo{HasNextPage: hasNext, HasPreviousPage: hasPrev}}
	if len(items) > 0 {
		page.PageInfo.StartCursor = pointer.To(cursorString(mustGet(windowed[0], key.Field)))
		page.PageInfo.EndCursor = pointer.To(cursorString(mustGet(windowed[len(windowed)-1], key.Field)))
	}
	return page, nil
}

func windowCursor(rows []schema.Entity, cursors []string, args *CursorArgs) (windowed []schema.Entity, hasNext, hasPrev bool) {
	switch {
	case args.After != nil:
		start := 0
		if idx := indexOfCursor(cursors, pointer.Val(args.After)); idx >= 0 {
			start = idx + 1
		}
		rest := rows[start:]
		hasPrev = true
		if len(rest) > args.Limit {
			windowed, hasNext = rest[:args.Limit], true
		} else {
			windowed = rest
		}
	case args.Before != nil:
		end := len(rows)
		if idx := indexOfCursor(cursors, pointer.Val(args.Before)); idx >= 0 {
			end = idx
		}
		head := rows[:end]
		hasNext = true
		if len(head) > args.Limit {
			hasPrev = true
			windowed = head[len(head)-args.Limit:]
		} else {
			windowed = head
		}
	default:
		if len(rows) > args.Limit {
			windowed, hasNext = rows[:args.Limit], true
		} else {
			windowed = rows
		}
	}

	if len(windowed) == 0 {
		return nil, false, false
	}
	return windowed, hasNext, hasPrev
}

func indexOfCursor(cursors []string, target string) int {
	for i, c := range cursors {
		if c == target {
			return i
		}
	}
	return -1
}

func mustGet(e schema.Entity, field string) any {
	v, _ := e.Get(field)
	return v
}

func cursorString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
