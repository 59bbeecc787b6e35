package collection

import (
	"sort"
	"strings"

	"github.com/proseql/proseql/internal/engine/schema"
	"github.com/proseql/proseql/pkg/slice"
)

// SortKey is one {field, asc|desc} entry of a Query's sort list.
type SortKey struct {
	Field string
	Desc  bool
}

// Query configures one read of the pipeline: filter -> sort -> populate ->
// select -> paginate (spec §4.9).
type Query struct {
	Where    map[string]any
	Sort     []SortKey
	Populate []string
	Select   map[string]any
	Offset   int
	Limit    int
	Cursor   *CursorArgs
	// IncludeDeleted opts back into soft-deleted rows, which query hides by
	// default (SPEC_FULL §4 "Relationship cascades and soft-delete").
	IncludeDeleted bool
}

// Run executes the full pipeline and returns the resulting entities, with
// computed fields materialized and select/populate applied. Cursor
// pagination (if requested) is handled by [Collection.RunCursor] instead,
// since its result shape differs (items + pageInfo).
func (c *Collection) Run(q Query) ([]schema.Entity, error) {
	candidates := c.resolveCandidates(q.Where)
	rows := c.materialize(candidates, q.IncludeDeleted)
	rows = filterRows(rows, q.Where, c.fts)
	sortRows(rows, q.Sort)

	if q.Offset > 0 {
		if q.Offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[q.Offset:]
		}
	}
	if q.Limit > 0 && q.Limit < len(rows) {
		rows = rows[:q.Limit]
	}

	return c.finishRows(rows, q.Populate, q.Select)
}

// finishRows applies populate, computed fields, and select, in that order
// (spec §4.9: "computed fields are materialized after populate and before
// select").
func (c *Collection) finishRows(rows []schema.Entity, populate []string, sel map[string]any) ([]schema.Entity, error) {
	populated := make([]schema.Entity, len(rows))
	for i, e := range rows {
		p, err := c.populate(e, populate)
		if err != nil {
			return nil, err
		}
		populated[i] = p
	}
	return slice.Map(populated, func(e schema.Entity) schema.Entity {
		return applySelect(c.withComputed(e), sel)
	}), nil
}

func (c *Collection) withComputed(e schema.Entity) schema.Entity {
	if len(c.computed) == 0 {
		return e
	}
	out := e.Clone()
	for name, fn := range c.computed {
		out[name] = fn(e)
	}
	return out
}

// materialize reads every candidate id's current entity, in id-sorted
// order when candidates is nil (full scan), skipping soft-deleted rows
// unless includeDeleted is set, and ids no longer present (the candidate
// set may be stale relative to the very latest mutation only within one
// synchronous Run call, which always reads under c.mu).
func (c *Collection) materialize(candidates map[string]struct{}, includeDeleted bool) []schema.Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []string
	if candidates == nil {
		ids = make([]string, 0, len(c.state))
		for id := range c.state {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	} else {
		ids = make([]string, 0, len(candidates))
		for id := range candidates {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}

	rows := make([]schema.Entity, 0, len(ids))
	for _, id := range ids {
		e, ok := c.state[id]
		if !ok || (!includeDeleted && isSoftDeleted(e)) {
			continue
		}
		rows = append(rows, e)
	}
	return rows
}

// resolveCandidates implements spec §4.9's candidate-resolution order:
// FTS search, then equality-index prefix, then nil (full scan).
func (c *Collection) resolveCandidates(where map[string]any) map[string]struct{} {
	if where == nil {
		return nil
	}

	if c.fts != nil {
		if query, field, ok := extractSearch(where); ok {
			tokens := c.fts.Tokenize(query)
			if len(tokens) == 0 {
				return map[string]struct{}{}
			}
			if field != "" {
				return c.fts.MatchField(field, tokens)
			}
			return c.fts.MatchAny(tokens)
		}
	}

	fields, values := equalityPrefix(where)
	if len(fields) == 0 {
		return nil
	}
	for _, idx := range c.equality {
		if idx.CoversPrefix(fields) {
			return idx.Lookup(values)
		}
	}
	for _, idx := range c.unique {
		if idx.CoversPrefix(fields) {
			return idx.Lookup(values)
		}
	}
	return nil
}

// extractSearch looks for a top-level `$search` clause, or a field-scoped
// one (`{field: {"$search": "..."}}`), in that priority order.
func extractSearch(where map[string]any) (query, field string, ok bool) {
	if v, exists := where["$search"]; exists {
		if s, ok := v.(string); ok {
			return s, "", true
		}
	}
	for k, v := range where {
		if strings.HasPrefix(k, "$") {
			continue
		}
		if obj, ok := v.(map[string]any); ok {
			if s, ok := obj["$search"].(string); ok {
				return s, k, true
			}
		}
	}
	return "", "", false
}

// equalityPrefix collects every plain `field: value` or
// `field: {"$eq": value}` top-level clause from where, ordered by field
// name. CoversPrefix then accepts an index only when this name-sorted
// list is itself a prefix of the index's declared field order; any other
// combination falls back to a full scan.
func equalityPrefix(where map[string]any) (fields []string, values []any) {
	names := make([]string, 0, len(where))
	for k := range where {
		if strings.HasPrefix(k, "$") {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		v := where[name]
		if obj, ok := v.(map[string]any); ok {
			eq, hasEq := obj["$eq"]
			if !hasEq || len(obj) != 1 {
				continue
			}
			fields = append(fields, name)
			values = append(values, eq)
			continue
		}
		fields = append(fields, name)
		values = append(values, v)
	}
	return fields, values
}

func sortRows(rows []schema.Entity, keys []SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			vi, _ := rows[i].Get(k.Field)
			vj, _ := rows[j].Get(k.Field)
			cmp := compareValues(vi, vj)
			if cmp == 0 {
				continue
			}
			if k.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0
		}
		return strings.Compare(av, bv)
	default:
		af, aok := toFloat(a)
		bf, bok := toFloat(b)
		if !aok || !bok {
			return 0
		}
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
}
