package index

import (
	"strings"

	"github.com/proseql/proseql/internal/engine/schema"
)

// FTSIndex is an inverted index over the tokens of one or more string
// fields, maintained incrementally. It serves both top-level $search
// (any configured field may contribute a match) and field-scope $search
// (only that field's tokens count), using the same prefix-match semantics
// either way: a document token T matches a query token Q if T == Q or
// strings.HasPrefix(T, Q).
type FTSIndex struct {
	Fields    []string
	tokenizer *Tokenizer

	// perField[field][token] -> set of ids whose tokenization of field
	// produced token.
	perField map[string]map[string]map[string]struct{}
}

// NewFTSIndex builds an empty full-text index over fields.
func NewFTSIndex(fields []string, tokenizer *Tokenizer) *FTSIndex {
	perField := make(map[string]map[string]map[string]struct{}, len(fields))
	for _, f := range fields {
		perField[f] = make(map[string]map[string]struct{})
	}
	return &FTSIndex{Fields: fields, tokenizer: tokenizer, perField: perField}
}

// Add indexes one entity's current field values under id.
func (idx *FTSIndex) Add(id string, e schema.Entity) {
	for _, field := range idx.Fields {
		for _, tok := range idx.tokensOf(e, field) {
			bucket := idx.perField[field][tok]
			if bucket == nil {
				bucket = make(map[string]struct{})
				idx.perField[field][tok] = bucket
			}
			bucket[id] = struct{}{}
		}
	}
}

// Remove un-indexes id's tokens for its previous field values.
func (idx *FTSIndex) Remove(id string, e schema.Entity) {
	for _, field := range idx.Fields {
		for _, tok := range idx.tokensOf(e, field) {
			bucket, ok := idx.perField[field][tok]
			if !ok {
				continue
			}
			delete(bucket, id)
			if len(bucket) == 0 {
				delete(idx.perField[field], tok)
			}
		}
	}
}

// Reset discards every token bucket, returning the index to its empty
// state. Used to rebuild an index wholesale after a transaction
// rollback restores a collection's state map (spec §4.12, §3 invariant 3).
func (idx *FTSIndex) Reset() {
	for _, field := range idx.Fields {
		idx.perField[field] = make(map[string]map[string]struct{})
	}
}

// Update re-indexes id from oldEntity's tokens to newEntity's tokens.
func (idx *FTSIndex) Update(id string, oldEntity, newEntity schema.Entity) {
	idx.Remove(id, oldEntity)
	idx.Add(id, newEntity)
}

func (idx *FTSIndex) tokensOf(e schema.Entity, field string) []string {
	v, ok := e.Get(field)
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return idx.tokenizer.Tokenize(s)
}

// Tokenize exposes the index's own tokenizer, so the filter component can
// tokenize a $search query with identical semantics whether or not it
// ends up consulting this index.
func (idx *FTSIndex) Tokenize(s string) []string {
	return idx.tokenizer.Tokenize(s)
}

// MatchAny returns the ids of every document where, for each query token,
// at least one configured field contains a document token matching it
// (exact or prefix). Multiple query tokens combine with AND.
func (idx *FTSIndex) MatchAny(queryTokens []string) map[string]struct{} {
	return idx.match(queryTokens, idx.Fields)
}

// MatchField restricts matching to a single field.
func (idx *FTSIndex) MatchField(field string, queryTokens []string) map[string]struct{} {
	return idx.match(queryTokens, []string{field})
}

func (idx *FTSIndex) match(queryTokens, fields []string) map[string]struct{} {
	if len(queryTokens) == 0 {
		return nil
	}

	var result map[string]struct{}
	for _, q := range queryTokens {
		matched := idx.idsMatchingToken(q, fields)
		if result == nil {
			result = matched
			continue
		}
		result = intersect(result, matched)
		if len(result) == 0 {
			return result
		}
	}
	return result
}

func (idx *FTSIndex) idsMatchingToken(query string, fields []string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, field := range fields {
		tokens, ok := idx.perField[field]
		if !ok {
			continue
		}
		for tok, ids := range tokens {
			if tok == query || strings.HasPrefix(tok, query) {
				for id := range ids {
					out[id] = struct{}{}
				}
			}
		}
	}
	return out
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	for id := range small {
		if _, ok := large[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}
