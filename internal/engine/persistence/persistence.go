/*
Package persistence implements the debounced file mirror (spec §4.5): the
bridge between a collection's in-memory state map and its optional
on-disk representation via a [storage.Adapter] and a [codec.Codec].

A save is never synchronous with a mutation. Mutations call [Writer.Schedule]
which (re)starts a per-key debounce timer; [Writer.Flush] runs every
pending save immediately and waits for it, which is what `database.flush()`
and `close()` call.
*/
package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/proseql/proseql/internal/engine/codec"
	"github.com/proseql/proseql/internal/engine/schema"
	"github.com/proseql/proseql/internal/engine/storage"
	"github.com/proseql/proseql/internal/platform/apperr"
	"github.com/proseql/proseql/pkg/log"
)

// DefaultDebounce is the delay [Writer] waits after the last Schedule
// call for a key before actually saving, matching the reactive engine's
// default debounce window (spec §4.13).
const DefaultDebounce = 10 * time.Millisecond

// SaveFunc performs one key's actual save. It is supplied by the caller
// (the collection) because only the collection knows how to snapshot its
// own state at the moment the timer fires.
type SaveFunc func(ctx context.Context) error

// Writer coalesces repeated save requests for the same key into a single
// write, per spec §4.5's "schedule/flush" contract.
type Writer struct {
	delay time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	pending map[string]SaveFunc
	errs    map[string]error
}

// NewWriter builds a debounced writer. delay <= 0 uses [DefaultDebounce].
func NewWriter(delay time.Duration) *Writer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Writer{
		delay:   delay,
		timers:  make(map[string]*time.Timer),
		pending: make(map[string]SaveFunc),
		errs:    make(map[string]error),
	}
}

// Schedule (re)starts the debounce timer for key. A save already pending
// for key is superseded: only fn, the latest snapshot closure, runs when
// the timer fires.
func (w *Writer) Schedule(key string, fn SaveFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[key] = fn
	if t, ok := w.timers[key]; ok {
		t.Stop()
	}
	w.timers[key] = time.AfterFunc(w.delay, func() { w.fire(key) })
}

func (w *Writer) fire(key string) {
	w.mu.Lock()
	fn, ok := w.pending[key]
	if ok {
		delete(w.pending, key)
		delete(w.timers, key)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	if err := fn(context.Background()); err != nil {
		log.WithComponent("persistence").Error().Str("key", key).Err(err).Msg("debounced save failed")
		w.mu.Lock()
		w.errs[key] = err
		w.mu.Unlock()
	}
}

// Flush cancels every pending debounce timer and runs its save
// immediately, synchronously, returning any errors keyed by collection.
func (w *Writer) Flush() map[string]error {
	w.mu.Lock()
	keys := make([]string, 0, len(w.pending))
	for k := range w.pending {
		keys = append(keys, k)
	}
	w.mu.Unlock()

	out := make(map[string]error)
	for _, key := range keys {
		w.mu.Lock()
		t, hasTimer := w.timers[key]
		fn, hasFn := w.pending[key]
		delete(w.pending, key)
		delete(w.timers, key)
		w.mu.Unlock()
		if hasTimer {
			t.Stop()
		}
		if hasFn {
			if err := fn(context.Background()); err != nil {
				out[key] = err
			}
		}
	}

	w.mu.Lock()
	for k, err := range w.errs {
		out[k] = err
	}
	w.errs = make(map[string]error)
	w.mu.Unlock()

	return out
}

// LastErrors returns and clears errors from debounced saves that already
// fired in the background (i.e. not discovered through Flush), so a
// caller can surface them through logging per spec §4.5's recovery
// policy ("recorded and surfaced on the next flush/close").
func (w *Writer) LastErrors() map[string]error {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.errs
	w.errs = make(map[string]error)
	return out
}

// LoadRawEnvelope reads and decodes a single-collection file without
// schema-decoding its entities, for collections with a migration chain:
// the migration runner (spec §4.11) must see the raw `{id: entity, ...}`
// object (plus any top-level `_version`) before schema validation runs,
// since a migration step may be exactly what makes an old record
// schema-valid again. A missing file yields an empty envelope at
// version 0.
func LoadRawEnvelope(ctx context.Context, adapter storage.Adapter, c codec.Codec, path string) (envelope map[string]any, version int, err error) {
	raw, err := adapter.Read(ctx, path)
	if err != nil {
		return nil, 0, apperr.WrapStorage(path, "read", err)
	}
	if len(raw) == 0 {
		return map[string]any{}, 0, nil
	}

	value, err := c.Decode(raw)
	if err != nil {
		return nil, 0, apperr.WrapCodec(c.Name(), err)
	}
	top, ok := value.(map[string]any)
	if !ok {
		return nil, 0, apperr.Serialization(c.Name(), errUnexpectedShape(path))
	}

	out := make(map[string]any, len(top))
	for k, v := range top {
		if k == "_version" {
			switch n := v.(type) {
			case float64:
				version = int(n)
			case int:
				version = n
			case int64:
				version = int(n)
			case uint64:
				version = int(n)
			}
			continue
		}
		out[k] = v
	}
	return out, version, nil
}

// LoadData reads and decodes a single-collection file. JSONL-formatted
// files decode to a list of records, one per line; every other codec
// decodes the shape `{id: entity, ...}` (spec §6). A missing file is not
// an error; it yields an empty map, since it represents a collection
// that has never been saved yet.
func LoadData(ctx context.Context, adapter storage.Adapter, c codec.Codec, path string) (map[string]schema.Entity, error) {
	raw, err := adapter.Read(ctx, path)
	if err != nil {
		return nil, apperr.WrapStorage(path, "read", err)
	}
	if len(raw) == 0 {
		return map[string]schema.Entity{}, nil
	}

	value, err := c.Decode(raw)
	if err != nil {
		return nil, apperr.WrapCodec(c.Name(), err)
	}

	if c.Name() == "jsonl" {
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

	m, ok := value.(map[string]any)
	if !ok {
		return nil, apperr.Serialization(c.Name(), errUnexpectedShape(path))
	}

	out := make(map[string]schema.Entity, len(m))
	for id, v := range m {
		entity, ok := v.(map[string]any)
		if !ok {
			continue
		}
		out[id] = schema.Entity(entity)
	}
	return out, nil
}

// SaveData encodes and writes a single-collection file. JSONL-formatted
// files are written as a list of records (one per line); every other
// codec writes the `{id: entity, ...}` envelope.
func SaveData(ctx context.Context, adapter storage.Adapter, c codec.Codec, path string, data map[string]schema.Entity) error {
	var toEncode any
	if c.Name() == "jsonl" {
		ids := make([]string, 0, len(data))
		for id := range data {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		records := make([]any, len(ids))
		for i, id := range ids {
			records[i] = map[string]any(data[id])
		}
		toEncode = records
	} else {
		plain := make(map[string]any, len(data))
		for id, e := range data {
			plain[id] = map[string]any(e)
		}
		toEncode = plain
	}

	bytes, err := c.Encode(toEncode)
	if err != nil {
		return apperr.WrapCodec(c.Name(), err)
	}
	if err := adapter.EnsureDir(ctx, path); err != nil {
		return apperr.WrapStorage(path, "ensureDir", err)
	}
	if err := adapter.Write(ctx, path, bytes); err != nil {
		return apperr.WrapStorage(path, "write", err)
	}
	return nil
}

// SharedFile is the envelope a multi-collection shared file uses:
// `{collectionName: {id: entity, ...}, _version?: integer}` (spec §6).
type SharedFile struct {
	Collections map[string]map[string]schema.Entity
	Version     int
}

// LoadCollectionsFromFile reads a shared multi-collection file.
func LoadCollectionsFromFile(ctx context.Context, adapter storage.Adapter, c codec.Codec, path string) (*SharedFile, error) {
	raw, err := adapter.Read(ctx, path)
	if err != nil {
		return nil, apperr.WrapStorage(path, "read", err)
	}
	if len(raw) == 0 {
		return &SharedFile{Collections: map[string]map[string]schema.Entity{}}, nil
	}

	value, err := c.Decode(raw)
	if err != nil {
		return nil, apperr.WrapCodec(c.Name(), err)
	}
	top, ok := value.(map[string]any)
	if !ok {
		return nil, apperr.Serialization(c.Name(), errUnexpectedShape(path))
	}

	result := &SharedFile{Collections: map[string]map[string]schema.Entity{}}
	for key, v := range top {
		if key == "_version" {
			if n, ok := v.(float64); ok {
				result.Version = int(n)
			}
			continue
		}
		records, ok := v.(map[string]any)
		if !ok {
			continue
		}
		coll := make(map[string]schema.Entity, len(records))
		for id, rv := range records {
			if entity, ok := rv.(map[string]any); ok {
				coll[id] = schema.Entity(entity)
			}
		}
		result.Collections[key] = coll
	}
	return result, nil
}

// SaveCollectionsToFile writes a shared multi-collection file.
func SaveCollectionsToFile(ctx context.Context, adapter storage.Adapter, c codec.Codec, path string, file *SharedFile) error {
	top := make(map[string]any, len(file.Collections)+1)
	for name, coll := range file.Collections {
		plain := make(map[string]any, len(coll))
		for id, e := range coll {
			plain[id] = map[string]any(e)
		}
		top[name] = plain
	}
	if file.Version > 0 {
		top["_version"] = file.Version
	}

	bytes, err := c.Encode(top)
	if err != nil {
		return apperr.WrapCodec(c.Name(), err)
	}
	if err := adapter.EnsureDir(ctx, path); err != nil {
		return apperr.WrapStorage(path, "ensureDir", err)
	}
	return apperr.WrapStorage(path, "write", adapter.Write(ctx, path, bytes))
}

func errUnexpectedShape(path string) error {
	return &shapeError{path: path}
}

type shapeError struct{ path string }

func (e *shapeError) Error() string {
	return "persistence: decoded value at " + e.path + " is not a JSON object"
}
