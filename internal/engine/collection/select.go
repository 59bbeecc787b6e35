package collection

import "github.com/proseql/proseql/internal/engine/schema"

// applySelect projects e according to sel, a shape-mirroring object where
// a field mapped to `true` is kept as-is, a field mapped to a nested
// object is kept and recursed into, and every other field is dropped
// (spec §4.9). A nil sel is a no-op: select is optional.
func applySelect(e schema.Entity, sel map[string]any) schema.Entity {
	if sel == nil {
		return e
	}

	out := make(schema.Entity, len(sel))
	for field, spec := range sel {
		v, exists := e.Get(field)
		if !exists {
			continue
		}
		switch s := spec.(type) {
		case bool:
			if s {
				out[field] = v
			}
		case map[string]any:
			out[field] = applySelectValue(v, s)
		}
	}
	return out
}

// applySelectValue recurses a nested select spec into v, which may be a
// single related entity (populate's `ref` shape) or a slice of them
// (populate's `inverse` shape).
func applySelectValue(v any, sel map[string]any) any {
	switch val := v.(type) {
	case schema.Entity:
		return applySelect(val, sel)
	case map[string]any:
		return applySelect(schema.Entity(val), sel)
	case []schema.Entity:
		out := make([]schema.Entity, len(val))
		for i, e := range val {
			out[i] = applySelect(e, sel)
		}
		return out
	default:
		return v
	}
}
