package collection

import (
	"strings"

	"github.com/proseql/proseql/internal/engine/index"
	"github.com/proseql/proseql/internal/engine/schema"
)

// filterRows re-applies where to every row, verifying whatever candidate
// resolution narrowed (an index lookup is exact only for the fields it
// covers) and handling every operator the fields themselves reference.
func filterRows(rows []schema.Entity, where map[string]any, fts *index.FTSIndex) []schema.Entity {
	if where == nil {
		return rows
	}
	out := make([]schema.Entity, 0, len(rows))
	for _, e := range rows {
		if matchWhere(e, where, fts) {
			out = append(out, e)
		}
	}
	return out
}

func matchWhere(e schema.Entity, where map[string]any, fts *index.FTSIndex) bool {
	for key, val := range where {
		switch key {
		case "$or":
			list, _ := val.([]any)
			if len(list) == 0 {
				return false
			}
			matched := false
			for _, sub := range list {
				subMap, ok := sub.(map[string]any)
				if ok && matchWhere(e, subMap, fts) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		case "$and":
			list, _ := val.([]any)
			for _, sub := range list {
				subMap, ok := sub.(map[string]any)
				if !ok || !matchWhere(e, subMap, fts) {
					return false
				}
			}
		case "$not":
			subMap, ok := val.(map[string]any)
			if ok && matchWhere(e, subMap, fts) {
				return false
			}
		case "$search":
			query, _ := val.(string)
			if !matchSearchAny(e, query, fts) {
				return false
			}
		default:
			fieldVal, exists := e.Get(key)
			if !matchFieldCondition(fieldVal, exists, val, key, fts) {
				return false
			}
		}
	}
	return true
}

func matchFieldCondition(fieldVal any, exists bool, cond any, field string, fts *index.FTSIndex) bool {
	obj, isObj := cond.(map[string]any)
	if !isObj {
		if !exists {
			return cond == nil
		}
		return deepEqual(fieldVal, cond)
	}

	for op, arg := range obj {
		if !exists {
			switch op {
			case "$eq":
				if arg != nil {
					return false
				}
			default:
				return false
			}
			continue
		}
		if !matchOp(fieldVal, op, arg, field, fts) {
			return false
		}
	}
	return true
}

func matchOp(fieldVal any, op string, arg any, field string, fts *index.FTSIndex) bool {
	switch op {
	case "$eq":
		return deepEqual(fieldVal, arg)
	case "$ne":
		return !deepEqual(fieldVal, arg)
	case "$gt":
		return compareValues(fieldVal, arg) > 0
	case "$gte":
		return compareValues(fieldVal, arg) >= 0
	case "$lt":
		return compareValues(fieldVal, arg) < 0
	case "$lte":
		return compareValues(fieldVal, arg) <= 0
	case "$in":
		list, _ := arg.([]any)
		for _, v := range list {
			if deepEqual(fieldVal, v) {
				return true
			}
		}
		return false
	case "$nin":
		list, _ := arg.([]any)
		for _, v := range list {
			if deepEqual(fieldVal, v) {
				return false
			}
		}
		return true
	case "$startsWith":
		s, ok := fieldVal.(string)
		prefix, okArg := arg.(string)
		return ok && okArg && strings.HasPrefix(s, prefix)
	case "$endsWith":
		s, ok := fieldVal.(string)
		suffix, okArg := arg.(string)
		return ok && okArg && strings.HasSuffix(s, suffix)
	case "$contains":
		switch v := fieldVal.(type) {
		case string:
			sub, ok := arg.(string)
			return ok && strings.Contains(v, sub)
		case []any:
			for _, el := range v {
				if deepEqual(el, arg) {
					return true
				}
			}
			return false
		default:
			return false
		}
	case "$all":
		arr, ok := fieldVal.([]any)
		list, okArg := arg.([]any)
		if !ok || !okArg {
			return false
		}
		for _, want := range list {
			found := false
			for _, have := range arr {
				if deepEqual(have, want) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case "$size":
		arr, ok := fieldVal.([]any)
		if !ok {
			return false
		}
		n, ok := toFloat(arg)
		return ok && int(n) == len(arr)
	case "$search":
		query, _ := arg.(string)
		return matchSearchField(fieldVal, query, fts)
	default:
		return false
	}
}

var fallbackTokenizer = index.NewTokenizer(false)

func matchSearchField(fieldVal any, query string, fts *index.FTSIndex) bool {
	s, ok := fieldVal.(string)
	if !ok {
		return false
	}
	tokenizer := fallbackTokenizer
	if fts != nil {
		return tokensMatch(fts.Tokenize(s), fts.Tokenize(query))
	}
	return tokensMatch(tokenizer.Tokenize(s), tokenizer.Tokenize(query))
}

// matchSearchAny implements top-scope $search: every query token must
// match some indexed token of some configured field, but different
// tokens may be satisfied by different fields (spec §4.9), mirroring
// [index.FTSIndex.MatchAny]'s per-token union-then-intersect semantics.
func matchSearchAny(e schema.Entity, query string, fts *index.FTSIndex) bool {
	if fts == nil {
		return false
	}
	queryTokens := fts.Tokenize(query)
	if len(queryTokens) == 0 {
		return false
	}
	for _, q := range queryTokens {
		matched := false
		for _, field := range fts.Fields {
			v, ok := e.Get(field)
			if !ok {
				continue
			}
			s, ok := v.(string)
			if !ok {
				continue
			}
			for _, t := range fts.Tokenize(s) {
				if t == q || strings.HasPrefix(t, q) {
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func tokensMatch(fieldTokens, queryTokens []string) bool {
	if len(queryTokens) == 0 {
		return false
	}
	for _, q := range queryTokens {
		found := false
		for _, t := range fieldTokens {
			if t == q || strings.HasPrefix(t, q) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
