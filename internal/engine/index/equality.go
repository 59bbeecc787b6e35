/*
Package index implements the secondary equality indexes and the
full-text index (spec §4.6). Both are maintained incrementally as
entities are created, updated, and deleted — never rebuilt wholesale on
every mutation — and both must agree with a full scan over the same
predicate.
*/
package index

import (
	"fmt"
	"strings"

	"github.com/proseql/proseql/internal/engine/schema"
)

// EqualityIndex accelerates exact-match lookups on an ordered list of
// fields: a compound index on [a, b] serves predicates that pin a, or
// pin both a and b, but not predicates that only pin b (the same prefix
// rule as a composite SQL index).
type EqualityIndex struct {
	Fields  []string
	buckets map[string]map[string]struct{} // composite key -> set of ids
}

// NewEqualityIndex builds an empty index over fields.
func NewEqualityIndex(fields []string) *EqualityIndex {
	return &EqualityIndex{Fields: fields, buckets: make(map[string]map[string]struct{})}
}

// Add indexes one entity's current field values under id.
func (idx *EqualityIndex) Add(id string, e schema.Entity) {
	key := idx.keyOf(e)
	bucket, ok := idx.buckets[key]
	if !ok {
		bucket = make(map[string]struct{})
		idx.buckets[key] = bucket
	}
	bucket[id] = struct{}{}
}

// Remove un-indexes id under its previous field values.
func (idx *EqualityIndex) Remove(id string, e schema.Entity) {
	key := idx.keyOf(e)
	if bucket, ok := idx.buckets[key]; ok {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(idx.buckets, key)
		}
	}
}

// Reset discards every bucket, returning the index to its empty state.
// Used to rebuild an index wholesale after a transaction rollback
// restores a collection's state map (spec §4.12, §3 invariant 2).
func (idx *EqualityIndex) Reset() {
	idx.buckets = make(map[string]map[string]struct{})
}

// Update moves id from oldEntity's bucket to newEntity's bucket.
func (idx *EqualityIndex) Update(id string, oldEntity, newEntity schema.Entity) {
	idx.Remove(id, oldEntity)
	idx.Add(id, newEntity)
}

// Lookup returns the set of ids whose fields exactly match values, one
// value per field in Fields' order. Supplying a values prefix shorter
// than Fields queries the leading subset of the composite index: every
// bucket whose key begins with the encoded prefix contributes its ids,
// since compositeKey encodes fields in the same declared order with a
// unit-separator boundary between them.
func (idx *EqualityIndex) Lookup(values []any) map[string]struct{} {
	if len(values) == len(idx.Fields) {
		bucket, ok := idx.buckets[compositeKey(values)]
		if !ok {
			return nil
		}
		out := make(map[string]struct{}, len(bucket))
		for id := range bucket {
			out[id] = struct{}{}
		}
		return out
	}

	prefix := compositeKey(values) + "\x1f"
	var out map[string]struct{}
	for key, bucket := range idx.buckets {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if out == nil {
			out = make(map[string]struct{})
		}
		for id := range bucket {
			out[id] = struct{}{}
		}
	}
	return out
}

// CoversPrefix reports whether queryFields is a non-empty ordered prefix
// of this index's field list, i.e. whether this index can serve an
// equality query pinning exactly queryFields.
func (idx *EqualityIndex) CoversPrefix(queryFields []string) bool {
	if len(queryFields) == 0 || len(queryFields) > len(idx.Fields) {
		return false
	}
	for i, f := range queryFields {
		if idx.Fields[i] != f {
			return false
		}
	}
	return true
}

func (idx *EqualityIndex) keyOf(e schema.Entity) string {
	values := make([]any, len(idx.Fields))
	for i, f := range idx.Fields {
		v, _ := e.Get(f)
		values[i] = v
	}
	return compositeKey(values)
}

func compositeKey(values []any) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		fmt.Fprintf(&b, "%T:%v", v, v)
	}
	return b.String()
}
