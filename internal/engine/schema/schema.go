/*
Package schema implements the collection schema abstraction (spec §4.2).

A [Schema] decodes an arbitrary wire value into the canonical entity
representation ProseQL uses everywhere internally — map[string]any — and
encodes it back into a value every registered codec can serialize.
Decoding never mutates its input; both directions return [apperr.FieldError]
issues rather than failing silently, and [ValidateIssues] wraps them in an
[apperr.AppError].

ProseQL ships one concrete implementation, a fluent field-builder schema
(grounded on internal/platform/validate's chainable Validator), but the
interface is intentionally small enough that a caller can supply a
reflective or generated-struct schema instead.
*/
package schema

import (
	"fmt"

	"github.com/proseql/proseql/internal/platform/apperr"
	"github.com/proseql/proseql/internal/platform/validate"
)

// Entity is the canonical in-memory representation of a record: a
// shape-mirroring map keyed by field name. Every component downstream of
// the schema (indexes, query pipeline, persistence, codecs) operates on
// this representation.
type Entity map[string]any

// Clone returns a shallow copy of e. Nested maps/slices are shared; callers
// that mutate nested structures in place must deep-copy those themselves.
func (e Entity) Clone() Entity {
	if e == nil {
		return nil
	}
	out := make(Entity, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Get reads a dotted field path (e.g. "address.city") out of e.
func (e Entity) Get(path string) (any, bool) {
	return getPath(map[string]any(e), path)
}

func getPath(m map[string]any, path string) (any, bool) {
	field, rest := splitPath(path)
	v, ok := m[field]
	if !ok {
		return nil, false
	}
	if rest == "" {
		return v, true
	}
	nested, ok := v.(map[string]any)
	if !ok {
		if ent, ok := v.(Entity); ok {
			nested = map[string]any(ent)
		} else {
			return nil, false
		}
	}
	return getPath(nested, rest)
}

func splitPath(path string) (head, rest string) {
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			return path[:i], path[i+1:]
		}
	}
	return path, ""
}

// Schema validates and normalizes entities for one collection.
type Schema interface {
	// Decode validates raw (an untrusted wire value already unmarshaled
	// into map[string]any) and returns the canonical entity, or issues.
	Decode(raw map[string]any) (Entity, []apperr.FieldError)
	// Encode validates entity and returns the codec-ready wire value.
	Encode(entity Entity) (map[string]any, []apperr.FieldError)
	// Fields lists every declared field name, in declaration order.
	Fields() []string
	// HasField reports whether name was declared on this schema.
	HasField(name string) bool
}

// Kind is the declared primitive shape of a field.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindArray
	KindObject
)

// Field is one declared field of a [Builder] schema.
type Field struct {
	Name     string
	Kind     Kind
	required bool
	rules    []func(v *validate.Validator, field string, value any)
}

func newField(name string, kind Kind) *Field {
	return &Field{Name: name, Kind: kind}
}

// Required marks the field mandatory on create.
func (f *Field) Required() *Field {
	f.required = true
	return f
}

// MaxLen constrains a string field's rune length.
func (f *Field) MaxLen(n int) *Field {
	f.rules = append(f.rules, func(v *validate.Validator, field string, value any) {
		if s, ok := value.(string); ok {
			v.MaxLen(field, s, n)
		}
	})
	return f
}

// MinLen constrains a string field's rune length.
func (f *Field) MinLen(n int) *Field {
	f.rules = append(f.rules, func(v *validate.Validator, field string, value any) {
		if s, ok := value.(string); ok {
			v.MinLen(field, s, n)
		}
	})
	return f
}

// OneOf restricts a string field to an enumerated set of values.
func (f *Field) OneOf(allowed ...string) *Field {
	f.rules = append(f.rules, func(v *validate.Validator, field string, value any) {
		if s, ok := value.(string); ok {
			v.OneOf(field, s, allowed...)
		}
	})
	return f
}

// Email requires a string field to be a valid RFC 5322 address.
func (f *Field) Email() *Field {
	f.rules = append(f.rules, func(v *validate.Validator, field string, value any) {
		if s, ok := value.(string); ok {
			v.Email(field, s)
		}
	})
	return f
}

// UUID requires a string field to look like a UUID.
func (f *Field) UUID() *Field {
	f.rules = append(f.rules, func(v *validate.Validator, field string, value any) {
		if s, ok := value.(string); ok {
			v.UUID(field, s)
		}
	})
	return f
}

// Min constrains a numeric field's lower bound (inclusive).
func (f *Field) Min(n int) *Field {
	f.rules = append(f.rules, func(v *validate.Validator, field string, value any) {
		v.Custom(field, asInt(value) < n, fmt.Sprintf("Must be >= %d", n))
	})
	return f
}

// Max constrains a numeric field's upper bound (inclusive).
func (f *Field) Max(n int) *Field {
	f.rules = append(f.rules, func(v *validate.Validator, field string, value any) {
		v.Custom(field, asInt(value) > n, fmt.Sprintf("Must be <= %d", n))
	})
	return f
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// # Field constructors

func String(name string) *Field { return newField(name, KindString) }
func Int(name string) *Field    { return newField(name, KindInt) }
func Float(name string) *Field  { return newField(name, KindFloat) }
func Bool(name string) *Field   { return newField(name, KindBool) }
func Array(name string) *Field  { return newField(name, KindArray) }
func Object(name string) *Field { return newField(name, KindObject) }
func Any(name string) *Field    { return newField(name, KindAny) }

// Builder is the default [Schema] implementation: an ordered set of
// declared fields, each with its own validation rules. Fields not declared
// on the builder still round-trip through Decode/Encode (ProseQL documents
// are permissive by default); call Strict() to reject undeclared fields.
type Builder struct {
	fields []*Field
	byName map[string]*Field
	strict bool
}

// New constructs a schema from its field declarations.
func New(fields ...*Field) *Builder {
	b := &Builder{byName: make(map[string]*Field)}
	for _, f := range fields {
		b.fields = append(b.fields, f)
		b.byName[f.Name] = f
	}
	return b
}

// Strict rejects entities carrying fields not declared on the schema.
func (b *Builder) Strict() *Builder {
	b.strict = true
	return b
}

func (b *Builder) Fields() []string {
	out := make([]string, len(b.fields))
	for i, f := range b.fields {
		out[i] = f.Name
	}
	return out
}

func (b *Builder) HasField(name string) bool {
	_, ok := b.byName[name]
	return ok
}

// Decode validates raw against the declared fields. It never mutates raw.
func (b *Builder) Decode(raw map[string]any) (Entity, []apperr.FieldError) {
	v := &validate.Validator{}
	out := make(Entity, len(raw))
	for k, val := range raw {
		out[k] = val
	}

	if b.strict {
		for k := range raw {
			if k == "id" || k == "createdAt" || k == "updatedAt" {
				continue
			}
			if !b.HasField(k) {
				v.Custom(k, true, "Field is not declared on this schema")
			}
		}
	}

	for _, f := range b.fields {
		val, present := raw[f.Name]
		if !present {
			if f.required {
				v.Custom(f.Name, true, "This field is required")
			}
			continue
		}
		if !kindMatches(f.Kind, val) {
			v.Custom(f.Name, true, fmt.Sprintf("Field has the wrong type for %s", kindName(f.Kind)))
			continue
		}
		for _, rule := range f.rules {
			rule(v, f.Name, val)
		}
	}

	return out, v.Issues()
}

// Encode re-validates entity and returns it as a plain map[string]any,
// which every built-in codec can serialize without further conversion.
func (b *Builder) Encode(entity Entity) (map[string]any, []apperr.FieldError) {
	decoded, issues := b.Decode(map[string]any(entity))
	return map[string]any(decoded), issues
}

func kindMatches(k Kind, v any) bool {
	if v == nil {
		return true
	}
	switch k {
	case KindAny:
		return true
	case KindString:
		_, ok := v.(string)
		return ok
	case KindInt:
		switch v.(type) {
		case int, int64, float64:
			return true
		}
		return false
	case KindFloat:
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindArray:
		switch v.(type) {
		case []any:
			return true
		}
		return false
	case KindObject:
		switch v.(type) {
		case map[string]any, Entity:
			return true
		}
		return false
	}
	return true
}

func kindName(k Kind) string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "any"
	}
}

// ValidateIssues wraps a non-empty issue slice into an [apperr.AppError],
// or returns nil if issues is empty.
func ValidateIssues(issues []apperr.FieldError) error {
	if len(issues) == 0 {
		return nil
	}
	return apperr.Validation(issues...)
}
