package persistence

import (
	"context"

	"github.com/proseql/proseql/internal/engine/codec"
	"github.com/proseql/proseql/internal/engine/schema"
	"github.com/proseql/proseql/internal/engine/storage"
	"github.com/proseql/proseql/internal/platform/apperr"
)

// AppendEntity writes one new record to an append-only collection's JSONL
// file without reading or rewriting the records already there (spec
// §4.5). Mutating an existing append-only record is rejected at the
// collection layer before this is ever called; this function only knows
// how to append.
func AppendEntity(ctx context.Context, adapter storage.Adapter, jsonl *codec.JSONLCodec, path string, entity schema.Entity) error {
	line, err := jsonl.EncodeLine(map[string]any(entity))
	if err != nil {
		return apperr.WrapCodec(jsonl.Name(), err)
	}
	if err := adapter.EnsureDir(ctx, path); err != nil {
		return apperr.WrapStorage(path, "ensureDir", err)
	}
	return apperr.WrapStorage(path, "append", adapter.Append(ctx, path, line))
}

// LoadAppendOnly reads every record from a JSONL append-only file, keyed
// by id. Records lacking a string "id" field are skipped.
func LoadAppendOnly(ctx context.Context, adapter storage.Adapter, jsonl *codec.JSONLCodec, path string) (map[string]schema.Entity, error) {
	raw, err := adapter.Read(ctx, path)
	if err != nil {
		return nil, apperr.WrapStorage(path, "read", err)
	}
	if len(raw) == 0 {
		return map[string]schema.Entity{}, nil
	}
	value, err := jsonl.Decode(raw)
	if err != nil {
		return nil, apperr.WrapCodec(jsonl.Name(), err)
	}
	records, _ := value.([]any)

	out := make(map[string]schema.Entity, len(records))
	for _, rec := range records {
		m, ok := rec.(map[string]any)
		if !ok {
			continue
		}
		id, ok := m["id"].(string)
		if !ok {
			continue
		}
		out[id] = schema.Entity(m)
	}
	return out, nil
}
