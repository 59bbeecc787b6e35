/*
Package collection implements the CRUD core (spec §4.8), the query
pipeline (spec §4.9), and the aggregation engine (spec §4.10): the three
components that sit directly on top of a collection's in-memory state
map, its indexes, and its hooks.

A [Collection] owns one named entity map and everything that must stay
in lockstep with it: the schema that validates entities in and out, the
equality/unique/full-text indexes, the hook set, the optional id
generator, and the optional persistence/transaction/reactive wiring a
database assembles it with. Every mutation follows the canonical order
from spec §4.8; every read goes through the candidate-resolution order
from spec §4.9.
*/
package collection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/proseql/proseql/internal/engine/codec"
	"github.com/proseql/proseql/internal/engine/hooks"
	"github.com/proseql/proseql/internal/engine/index"
	"github.com/proseql/proseql/internal/engine/migration"
	"github.com/proseql/proseql/internal/engine/persistence"
	"github.com/proseql/proseql/internal/engine/reactive"
	"github.com/proseql/proseql/internal/engine/schema"
	"github.com/proseql/proseql/internal/engine/storage"
	"github.com/proseql/proseql/internal/engine/txn"
	"github.com/proseql/proseql/internal/platform/apperr"
)

// nowFunc produces the ISO-8601 timestamp stamped onto createdAt/updatedAt.
// Tests in this package may override it to get deterministic values.
var nowFunc = func() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// RelationKind distinguishes which side of a one-hop relationship a
// collection declares (spec §3: "ref = this side stores the foreign key
// ... inverse = other side stores it").
type RelationKind string

const (
	RelationRef     RelationKind = "ref"
	RelationInverse RelationKind = "inverse"
)

// Relation is one named relationship descriptor declared on a collection.
type Relation struct {
	Name       string
	Kind       RelationKind
	Target     string
	ForeignKey string // resolved default applied by resolveRelation in [New] if empty
}

// ComputedFunc derives a computed field's value from an already-populated
// entity. Computed fields are evaluated at query time and never stored
// (spec §3, §4.9).
type ComputedFunc func(entity schema.Entity) any

// PersistenceConfig describes a collection's optional on-disk mirror.
type PersistenceConfig struct {
	// Path is the file path passed to the storage adapter.
	Path string
	// Format overrides the codec resolved from Path's extension.
	Format string
	// Version is the collection's current declared schema version.
	Version int
	// Migrations upgrades the persisted data to Version (spec §4.11).
	Migrations []migration.Step
	// AppendOnly restricts mutations to create/createMany (spec §4.5).
	AppendOnly bool
	// Shared marks Path as a multi-collection shared file rather than this
	// collection's exclusive file (spec §4.5 C5: "used when multiple
	// collections share a file"). Database assembly groups every collection
	// declaring the same Path with Shared set, loading and saving them
	// together through persistence.LoadCollectionsFromFile/
	// SaveCollectionsToFile instead of each collection reading/writing its
	// own file.
	Shared bool
}

// Config declares everything about one collection a [Database] assembles.
type Config struct {
	Name         string
	Schema       schema.Schema
	Relations    []Relation
	Indexes      [][]string
	Unique       [][]string
	SearchFields []string
	DropStopwords bool
	Hooks        hooks.Set
	IDGenerator  func() string
	Computed     map[string]ComputedFunc
	Persistence  *PersistenceConfig
}

// Registry resolves sibling collections by name, for foreign-key checks,
// populate, and relationship-aware cascades. A [Database] implements it.
type Registry interface {
	Collection(name string) (*Collection, bool)
}

// Collection is one named, schema-bound, index-backed entity map.
type Collection struct {
	name      string
	schema    schema.Schema
	relations map[string]Relation
	equality  []*index.EqualityIndex
	unique    []*index.EqualityIndex
	fts       *index.FTSIndex
	hooks     hooks.Set
	idGen     func() string
	computed  map[string]ComputedFunc

	registry Registry
	bus      *reactive.Bus

	writer      *persistence.Writer
	adapter     storage.Adapter
	fileCodec   codec.Codec
	jsonl       *codec.JSONLCodec
	persistPath string
	appendOnly  bool
	shared      bool
	version     int
	// saveFunc, if set, replaces the collection's default single-file save
	// with a group-level one (used by shared-file collections; see
	// [Collection.SetSaveOverride]).
	saveFunc persistence.SaveFunc

	mu    sync.RWMutex
	state map[string]schema.Entity
}

// New builds an empty collection from cfg. Persistence, indexes over
// existing data, and cross-collection wiring are completed by the
// database assembly step (spec §4.14), which calls [Collection.Load]
// and [Collection.Bind] once every collection exists.
func New(cfg Config) (*Collection, error) {
	if cfg.Schema == nil {
		return nil, fmt.Errorf("collection %q: schema is required", cfg.Name)
	}

	relations := make(map[string]Relation, len(cfg.Relations))
	for _, r := range cfg.Relations {
		relations[r.Name] = resolveRelation(cfg.Name, r)
	}

	c := &Collection{
		name:      cfg.Name,
		schema:    cfg.Schema,
		relations: relations,
		hooks:     cfg.Hooks,
		idGen:     cfg.IDGenerator,
		computed:  cfg.Computed,
		state:     make(map[string]schema.Entity),
	}

	for _, fields := range cfg.Indexes {
		c.equality = append(c.equality, index.NewEqualityIndex(fields))
	}
	for _, fields := range cfg.Unique {
		c.unique = append(c.unique, index.NewEqualityIndex(fields))
	}
	if len(cfg.SearchFields) > 0 {
		c.fts = index.NewFTSIndex(cfg.SearchFields, index.NewTokenizer(cfg.DropStopwords))
	}
	if cfg.Persistence != nil {
		c.persistPath = cfg.Persistence.Path
		c.appendOnly = cfg.Persistence.AppendOnly
		c.shared = cfg.Persistence.Shared
		c.version = cfg.Persistence.Version
	}

	return c, nil
}

func resolveRelation(source string, r Relation) Relation {
	if r.ForeignKey != "" {
		return r
	}
	switch r.Kind {
	case RelationRef:
		r.ForeignKey = r.Name + "Id"
	case RelationInverse:
		r.ForeignKey = singularize(source) + "Id"
	}
	return r
}

// singularize implements spec §4.9's populate default-foreign-key rule:
// "ies -> y, else trim trailing s".
func singularize(s string) string {
	if len(s) >= 3 && s[len(s)-3:] == "ies" {
		return s[:len(s)-3] + "y"
	}
	if len(s) >= 1 && s[len(s)-1] == 's' {
		return s[:len(s)-1]
	}
	return s
}

// Name returns the collection's name, satisfying [txn.Resource].
func (c *Collection) Name() string { return c.name }

// Snapshot captures the current state map reference in O(1) (spec §4.12:
// "these must be O(1) to capture -- hold a reference ... do not deep-copy").
// It satisfies [txn.Resource].
func (c *Collection) Snapshot() any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Restore replaces the state map with a prior snapshot and rebuilds every
// index from it, satisfying [txn.Resource]. Index buckets are mutated
// in place as entities change, so they cannot be restored via a cheap
// reference swap the way state can; rebuilding from the restored state is
// the simplest way to re-establish spec §3 invariants 2-3 after a
// transaction rollback.
func (c *Collection) Restore(snapshot any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = snapshot.(map[string]schema.Entity)
	c.rebuildIndexesLocked()
}

func (c *Collection) rebuildIndexesLocked() {
	for _, idx := range c.equality {
		idx.Reset()
	}
	for _, idx := range c.unique {
		idx.Reset()
	}
	if c.fts != nil {
		c.fts.Reset()
	}
	for id, e := range c.state {
		c.indexAddLocked(id, e)
	}
}

func (c *Collection) indexAddLocked(id string, e schema.Entity) {
	for _, idx := range c.equality {
		idx.Add(id, e)
	}
	for _, idx := range c.unique {
		idx.Add(id, e)
	}
	if c.fts != nil {
		c.fts.Add(id, e)
	}
}

func (c *Collection) indexRemoveLocked(id string, e schema.Entity) {
	for _, idx := range c.equality {
		idx.Remove(id, e)
	}
	for _, idx := range c.unique {
		idx.Remove(id, e)
	}
	if c.fts != nil {
		c.fts.Remove(id, e)
	}
}

func (c *Collection) indexUpdateLocked(id string, oldE, newE schema.Entity) {
	for _, idx := range c.equality {
		idx.Update(id, oldE, newE)
	}
	for _, idx := range c.unique {
		idx.Update(id, oldE, newE)
	}
	if c.fts != nil {
		c.fts.Update(id, oldE, newE)
	}
}

// Bind wires the collection into its database after every sibling
// collection exists (spec §4.14 step 6): the cross-collection registry
// (FK checks, populate), the reactive bus, the debounced writer, and the
// storage adapter/codec for its file, if it has one.
func (c *Collection) Bind(registry Registry, bus *reactive.Bus, writer *persistence.Writer, adapter storage.Adapter, fileCodec codec.Codec) {
	c.registry = registry
	c.bus = bus
	c.writer = writer
	c.adapter = adapter
	c.fileCodec = fileCodec
	c.jsonl = codec.NewJSONLCodec()
}

// Load populates the collection's initial state from its persisted file
// (if any), applying the migration chain and schema decode, then builds
// every index over the loaded data (spec §4.14 steps 4-5). It must run
// after [Collection.Bind].
func (c *Collection) Load(ctx context.Context, chain *migration.Chain) error {
	if c.persistPath == "" || c.adapter == nil {
		return nil
	}

	if c.appendOnly {
		raw, err := persistence.LoadAppendOnly(ctx, c.adapter, c.jsonl, c.persistPath)
		if err != nil {
			return err
		}
		decoded, err := c.decodeAll(raw)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.state = decoded
		c.rebuildIndexesLocked()
		c.mu.Unlock()
		return nil
	}

	envelope, version, err := persistence.LoadRawEnvelope(ctx, c.adapter, c.fileCodec, c.persistPath)
	if err != nil {
		return err
	}
	if chain != nil {
		envelope, err = chain.Apply(version, envelope)
		if err != nil {
			return err
		}
	}

	raw := make(map[string]schema.Entity, len(envelope))
	for id, v := range envelope {
		if m, ok := v.(map[string]any); ok {
			raw[id] = schema.Entity(m)
		}
	}
	decoded, err := c.decodeAll(raw)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.state = decoded
	c.rebuildIndexesLocked()
	c.mu.Unlock()
	return nil
}

// LoadFromRaw populates the collection's initial state from an
// already-read raw entity map, decoding and indexing it the same way
// [Collection.Load] does for its own file. It is used by shared-file
// groups (spec §4.5 C5), which read their file once at the database
// level via persistence.LoadCollectionsFromFile instead of per collection;
// it does not run a migration chain, since a shared file carries no
// per-collection `_version`.
func (c *Collection) LoadFromRaw(raw map[string]schema.Entity) error {
	decoded, err := c.decodeAll(raw)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.state = decoded
	c.rebuildIndexesLocked()
	c.mu.Unlock()
	return nil
}

// IsShared reports whether the collection persists through a
// multi-collection shared file rather than its own (spec §4.5 C5).
func (c *Collection) IsShared() bool { return c.shared }

// SetSaveOverride replaces the collection's default single-file save with
// fn, used by database assembly to redirect a shared-file collection's
// saves to a group-level write covering every collection in its file.
func (c *Collection) SetSaveOverride(fn persistence.SaveFunc) {
	c.saveFunc = fn
}

func (c *Collection) decodeAll(raw map[string]schema.Entity) (map[string]schema.Entity, error) {
	out := make(map[string]schema.Entity, len(raw))
	for id, e := range raw {
		decoded, issues := c.schema.Decode(map[string]any(e))
		if err := schema.ValidateIssues(issues); err != nil {
			return nil, apperr.Migration(c.name, 0, c.version, -1, err.Error())
		}
		out[id] = decoded
	}
	return out, nil
}

// get reads one entity under lock without soft-delete filtering, for
// internal use by FK checks and cascades that must see every row.
func (c *Collection) get(id string) (schema.Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.state[id]
	return e, ok
}

// snapshotState returns the current state reference (no copy).
func (c *Collection) snapshotState() map[string]schema.Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func cloneState(m map[string]schema.Entity) map[string]schema.Entity {
	out := make(map[string]schema.Entity, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// sortedIDs returns every id in the collection in ascending order, the
// full-scan order spec §4.9 requires ("insertion-order-independent").
func (c *Collection) sortedIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.state))
	for id := range c.state {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// afterMutate schedules persistence for a non-append-only mutation: if a
// transaction is active on ctx, it only marks the collection mutated
// (the debounced save waits for commit); otherwise it schedules the
// debounced save immediately (spec §4.5, §4.12).
func (c *Collection) afterMutate(ctx context.Context) {
	if c.persistPath == "" || c.appendOnly {
		return
	}
	if tx, ok := txn.FromContext(ctx); ok {
		tx.MarkMutated(c.name)
		return
	}
	c.scheduleSave()
}

func (c *Collection) scheduleSave() {
	if c.writer == nil {
		return
	}
	if c.saveFunc != nil {
		c.writer.Schedule(c.name, c.saveFunc)
		return
	}
	c.writer.Schedule(c.name, func(ctx context.Context) error {
		return persistence.SaveData(ctx, c.adapter, c.fileCodec, c.persistPath, c.snapshotState())
	})
}

// Flush runs this collection's pending save (if any) immediately. For
// append-only collections it writes the canonical JSONL file from
// current state (spec §4.5's flush contract). Shared-file collections
// delegate to the group save set by [Collection.SetSaveOverride].
func (c *Collection) Flush(ctx context.Context) error {
	if c.saveFunc != nil {
		return c.saveFunc(ctx)
	}
	if c.persistPath == "" || c.adapter == nil {
		return nil
	}
	if c.appendOnly {
		return persistence.SaveData(ctx, c.adapter, c.jsonl, c.persistPath, c.snapshotState())
	}
	return persistence.SaveData(ctx, c.adapter, c.fileCodec, c.persistPath, c.snapshotState())
}

func (c *Collection) publish(op string, id string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(reactive.ChangeEvent{Collection: c.name, Operation: op, ID: id})
}

// HasField reports whether the collection's schema declares name,
// exposed for the soft-delete resolution (spec §9 open question 2).
func (c *Collection) HasField(name string) bool { return c.schema.HasField(name) }

// Relations exposes the declared relationship descriptors, for populate
// and cascading-delete callers.
func (c *Collection) Relations() map[string]Relation { return c.relations }

// IsAppendOnly reports whether the collection was configured append-only
// (spec §4.5), for database-level flush to know whether it must write a
// canonical file directly instead of relying on the debounced writer.
func (c *Collection) IsAppendOnly() bool { return c.appendOnly }

// PersistPath returns the collection's configured file path, or "" if it
// has no persistence.
func (c *Collection) PersistPath() string { return c.persistPath }

// Version returns the collection's declared schema version (spec §4.11).
func (c *Collection) Version() int { return c.version }
