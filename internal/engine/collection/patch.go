package collection

import (
	"fmt"
	"strings"

	"github.com/proseql/proseql/internal/engine/schema"
	"github.com/proseql/proseql/internal/platform/apperr"
)

// applyPatch applies patch's top-level fields against entity, returning a
// new entity. Fields absent from patch are left untouched; entity itself
// is never mutated.
func applyPatch(entity schema.Entity, patch map[string]any) (schema.Entity, error) {
	out := make(schema.Entity, len(entity))
	for k, v := range entity {
		out[k] = v
	}
	for field, v := range patch {
		newVal, err := applyPatchValue(out[field], v)
		if err != nil {
			return nil, apperr.ValidationField(field, err.Error())
		}
		out[field] = newVal
	}
	return out, nil
}

// applyPatchValue implements spec §4.8's update-operator semantics for one
// field path: a bare `$op` object applies that operator to current; a
// plain object with no `$`-prefixed key is a nested deep-merge patch,
// recursing into current's own nested object; anything else is an
// implicit `$set`.
func applyPatchValue(current any, patch any) (any, error) {
	obj, ok := patch.(map[string]any)
	if !ok {
		return patch, nil
	}

	if op, arg, isOp := extractOperator(obj); isOp {
		return applyOp(current, op, arg)
	}

	merged := cloneAnyMap(current)
	for k, v := range obj {
		newVal, err := applyPatchValue(merged[k], v)
		if err != nil {
			return nil, err
		}
		merged[k] = newVal
	}
	return merged, nil
}

// extractOperator reports whether obj is a single-key `{$op: arg}` object.
func extractOperator(obj map[string]any) (op string, arg any, ok bool) {
	if len(obj) != 1 {
		return "", nil, false
	}
	for k, v := range obj {
		if strings.HasPrefix(k, "$") {
			return k, v, true
		}
	}
	return "", nil, false
}

func cloneAnyMap(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, vv := range m {
		out[k] = vv
	}
	return out
}

// applyOp dispatches one update operator against current's value.
func applyOp(current any, op string, arg any) (any, error) {
	switch op {
	case "$set":
		return arg, nil
	case "$increment":
		return numOp(current, arg, func(a, b float64) float64 { return a + b })
	case "$decrement":
		return numOp(current, arg, func(a, b float64) float64 { return a - b })
	case "$multiply":
		return numOp(current, arg, func(a, b float64) float64 { return a * b })
	case "$toggle":
		b, _ := current.(bool)
		return !b, nil
	case "$append":
		return appendOp(current, arg, false)
	case "$prepend":
		return appendOp(current, arg, true)
	case "$remove":
		return removeOp(current, arg)
	default:
		return nil, apperr.ValidationField("", fmt.Sprintf("unknown update operator %q", op))
	}
}

func numOp(current, arg any, fn func(a, b float64) float64) (any, error) {
	a, ok := toFloat(current)
	if !ok {
		a = 0
	}
	b, ok := toFloat(arg)
	if !ok {
		return nil, apperr.ValidationField("", "numeric operator argument must be a number")
	}
	return fn(a, b), nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case nil:
		return 0, true
	}
	return 0, false
}

// appendOp implements $append/$prepend for strings and arrays. arg may be
// a single value or, for arrays, an []any to splice in.
func appendOp(current, arg any, prepend bool) (any, error) {
	switch cur := current.(type) {
	case string:
		s, ok := arg.(string)
		if !ok {
			return nil, apperr.ValidationField("", "$append/$prepend on a string field requires a string argument")
		}
		if prepend {
			return s + cur, nil
		}
		return cur + s, nil
	case []any, nil:
		arr, _ := cur.([]any)
		var addition []any
		if list, ok := arg.([]any); ok {
			addition = list
		} else {
			addition = []any{arg}
		}
		out := make([]any, 0, len(arr)+len(addition))
		if prepend {
			out = append(out, addition...)
			out = append(out, arr...)
		} else {
			out = append(out, arr...)
			out = append(out, addition...)
		}
		return out, nil
	default:
		return nil, apperr.ValidationField("", "$append/$prepend requires a string or array field")
	}
}

// removeOp implements array $remove: arg is either a literal value to
// remove every matching occurrence of, or a Go predicate func(any) bool
// (spec §4.8: "value or predicate").
func removeOp(current, arg any) (any, error) {
	arr, ok := current.([]any)
	if !ok {
		if current == nil {
			return []any{}, nil
		}
		return nil, apperr.ValidationField("", "$remove requires an array field")
	}

	pred, isPred := arg.(func(any) bool)
	out := make([]any, 0, len(arr))
	for _, v := range arr {
		var drop bool
		if isPred {
			drop = pred(v)
		} else {
			drop = deepEqual(v, arg)
		}
		if !drop {
			out = append(out, v)
		}
	}
	return out, nil
}

func deepEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !deepEqual(v, bv[k]) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
