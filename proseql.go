/*
Package proseql assembles the database: collections, indexes, hooks,
persistence, transactions, and the reactive bus, wired together per
spec §4.14's initialization order. It is the module's entry point: the
engine lives under internal/ and is reached through the [Database] and
[CollectionSpec] surface this file defines; the small helper packages
under pkg/ (log, pointer, slice, uuidv7) are importable too.
*/
package proseql

import (
	"context"
	"time"

	"github.com/proseql/proseql/internal/engine/codec"
	"github.com/proseql/proseql/internal/engine/collection"
	"github.com/proseql/proseql/internal/engine/hooks"
	"github.com/proseql/proseql/internal/engine/migration"
	"github.com/proseql/proseql/internal/engine/persistence"
	"github.com/proseql/proseql/internal/engine/plugin"
	"github.com/proseql/proseql/internal/engine/reactive"
	"github.com/proseql/proseql/internal/engine/schema"
	"github.com/proseql/proseql/internal/engine/storage"
	"github.com/proseql/proseql/internal/engine/txn"
	"github.com/proseql/proseql/internal/platform/apperr"
	"github.com/proseql/proseql/pkg/log"
)

// Options configures a [Database]. [Open] fills every zero field with its
// default, so the zero value is usable; [DefaultOptions] returns those
// defaults spelled out (SPEC_FULL §2:
// "an immutable, DI-friendly... typed Options struct", constructed
// programmatically rather than from the environment).
type Options struct {
	// Adapter is the storage backend every persistent collection's file
	// lives on. Defaults to an in-memory adapter.
	Adapter storage.Adapter
	// Registry is the plugin registry collections resolve codecs, custom
	// operators, and named id generators from. Defaults to
	// plugin.Default(), which holds only the built-ins.
	Registry *plugin.Registry
	// PersistDebounce is the debounced writer's coalescing window
	// (spec §4.5). Zero uses persistence.DefaultDebounce.
	PersistDebounce time.Duration
	// ReactiveDebounce is watch()'s re-evaluation debounce window
	// (spec §4.13). Zero uses reactive.DefaultDebounce.
	ReactiveDebounce time.Duration
	// Logger, if set, reconfigures the package-level ambient logger
	// (pkg/log) before the database is built.
	Logger *log.Config
}

// DefaultOptions returns an Options value backed by an in-memory storage
// adapter and the default (built-ins-only) plugin registry.
func DefaultOptions() Options {
	return Options{
		Adapter:          storage.NewMemoryAdapter(),
		Registry:         plugin.Default(),
		PersistDebounce:  persistence.DefaultDebounce,
		ReactiveDebounce: reactive.DefaultDebounce,
	}
}

// CollectionSpec is the database-assembly-time declaration of one
// collection (spec §3). It mirrors internal/engine/collection.Config
// exactly, except IDGeneratorName is resolved against the plugin
// registry at Open time instead of being a bare func — the registry
// handle spec §9's Design Notes require ("isolate it behind an explicit
// registry handle passed to database construction").
type CollectionSpec struct {
	Name            string
	Schema          schema.Schema
	Relations       []collection.Relation
	Indexes         [][]string
	Unique          [][]string
	SearchFields    []string
	DropStopwords   bool
	Hooks           hooks.Set
	IDGeneratorName string
	Computed        map[string]collection.ComputedFunc
	Persistence     *collection.PersistenceConfig
}

// Database is the assembled collection of collections this module's
// core wires together. Construct one with [Open].
type Database struct {
	opts        Options
	collections map[string]*collection.Collection
	order       []string
	chains      map[string]*migration.Chain

	txnMgr *txn.Manager
	bus    *reactive.Bus
	writer *persistence.Writer
	codecs map[string]codec.Codec
}

// Open validates specs and opts, then executes spec §4.14's
// initialization order: validate plugins and collection references,
// resolve the codec registry, load and migrate every persistent
// collection's file, build every index, and wire the transaction
// manager, reactive bus, and debounced writer.
func Open(ctx context.Context, opts Options, specs ...CollectionSpec) (*Database, error) {
	if opts.Logger != nil {
		log.Init(*opts.Logger)
	}
	if opts.Adapter == nil {
		opts.Adapter = storage.NewMemoryAdapter()
	}
	if opts.Registry == nil {
		opts.Registry = plugin.Default()
	}
	if opts.PersistDebounce <= 0 {
		opts.PersistDebounce = persistence.DefaultDebounce
	}
	if opts.ReactiveDebounce <= 0 {
		opts.ReactiveDebounce = reactive.DefaultDebounce
	}

	db := &Database{
		opts:        opts,
		collections: make(map[string]*collection.Collection, len(specs)),
		chains:      make(map[string]*migration.Chain, len(specs)),
		txnMgr:      txn.NewManager(),
		bus:         reactive.NewBus(),
		writer:      persistence.NewWriter(opts.PersistDebounce),
		codecs:      make(map[string]codec.Codec, len(specs)),
	}

	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if seen[spec.Name] {
			return nil, apperr.Plugin(spec.Name, "duplicate collection name")
		}
		seen[spec.Name] = true

		idGen, err := opts.Registry.IDGenerator(spec.IDGeneratorName)
		if err != nil {
			return nil, err
		}

		cfg := collection.Config{
			Name:          spec.Name,
			Schema:        spec.Schema,
			Relations:     spec.Relations,
			Indexes:       spec.Indexes,
			Unique:        spec.Unique,
			SearchFields:  spec.SearchFields,
			DropStopwords: spec.DropStopwords,
			Hooks:         spec.Hooks,
			IDGenerator:   idGen,
			Computed:      spec.Computed,
			Persistence:   spec.Persistence,
		}
		c, err := collection.New(cfg)
		if err != nil {
			return nil, err
		}

		if spec.Persistence != nil {
			if spec.Persistence.Shared && spec.Persistence.Path == "" {
				return nil, apperr.Plugin(spec.Name, "a shared persistence config requires Path")
			}
			chain, err := migration.Validate(spec.Name, spec.Persistence.Version, spec.Persistence.Migrations)
			if err != nil {
				return nil, err
			}
			db.chains[spec.Name] = chain
		}

		db.collections[spec.Name] = c
		db.order = append(db.order, spec.Name)
		db.txnMgr.Register(c)
	}

	byName := specsByName(specs)
	for _, name := range db.order {
		c := db.collections[name]
		fileCodec, err := resolveCollectionCodec(opts.Registry.Codecs, byName[name])
		if err != nil {
			return nil, err
		}
		if fileCodec != nil {
			db.codecs[name] = fileCodec
		}
		c.Bind(db, db.bus, db.writer, opts.Adapter, fileCodec)
	}

	for _, name := range db.order {
		c := db.collections[name]
		if c.IsShared() {
			continue
		}
		log.WithComponent("migration").Debug().Str("collection", name).Msg("loading collection")
		if err := c.Load(ctx, db.chains[name]); err != nil {
			return nil, err
		}
	}

	if err := db.loadSharedGroups(ctx); err != nil {
		return nil, err
	}

	return db, nil
}

// loadSharedGroups resolves every collection declaring
// Persistence.Shared into its file-path group (spec §4.5 C5: "used when
// multiple collections share a file"), reads each shared file exactly
// once via persistence.LoadCollectionsFromFile, and points every member
// collection's future saves at a group-level write instead of its own
// exclusive file.
func (db *Database) loadSharedGroups(ctx context.Context) error {
	groups := make(map[string][]string)
	for _, name := range db.order {
		c := db.collections[name]
		if !c.IsShared() {
			continue
		}
		path := c.PersistPath()
		groups[path] = append(groups[path], name)
	}

	for path, members := range groups {
		groupCodec := db.codecs[members[0]]
		for _, name := range members[1:] {
			if db.codecs[name].Name() != groupCodec.Name() {
				return apperr.Plugin(name, "shared file "+path+" collections must agree on one codec")
			}
		}

		log.WithComponent("migration").Debug().Str("path", path).Msg("loading shared collection file")
		file, err := persistence.LoadCollectionsFromFile(ctx, db.opts.Adapter, groupCodec, path)
		if err != nil {
			return err
		}

		for _, name := range members {
			if err := db.collections[name].LoadFromRaw(file.Collections[name]); err != nil {
				return err
			}
		}

		save := db.sharedGroupSaveFunc(path, groupCodec, members)
		for _, name := range members {
			db.collections[name].SetSaveOverride(save)
		}
	}
	return nil
}

// sharedGroupSaveFunc returns the save closure every collection in a
// shared-file group schedules instead of its own single-file save: it
// gathers the current state of every member and writes them together
// (spec §4.5 C5). A debounced save scheduled by one member therefore
// rewrites the whole file, which is correct but means two members
// mutating close together cause one redundant extra write.
func (db *Database) sharedGroupSaveFunc(path string, c codec.Codec, members []string) persistence.SaveFunc {
	return func(ctx context.Context) error {
		file := &persistence.SharedFile{Collections: make(map[string]map[string]schema.Entity, len(members))}
		for _, name := range members {
			coll, ok := db.collections[name]
			if !ok {
				continue
			}
			file.Collections[name] = coll.Snapshot().(map[string]schema.Entity)
		}
		return persistence.SaveCollectionsToFile(ctx, db.opts.Adapter, c, path, file)
	}
}

func specsByName(specs []CollectionSpec) map[string]CollectionSpec {
	out := make(map[string]CollectionSpec, len(specs))
	for _, s := range specs {
		out[s.Name] = s
	}
	return out
}

// resolveCollectionCodec resolves spec's file codec by its explicit
// Format override, falling back to the path's extension. A collection
// with no Persistence needs no codec.
func resolveCollectionCodec(registry *codec.Registry, spec CollectionSpec) (codec.Codec, error) {
	if spec.Persistence == nil || spec.Persistence.Path == "" {
		return nil, nil
	}
	if spec.Persistence.Format != "" {
		return registry.ResolveName(spec.Persistence.Format)
	}
	return registry.ResolveExt(codec.ExtensionOf(spec.Persistence.Path))
}

// Collection returns the named collection, satisfying
// internal/engine/collection.Registry for foreign-key checks, populate,
// and cascades.
func (db *Database) Collection(name string) (*collection.Collection, bool) {
	c, ok := db.collections[name]
	return c, ok
}

// MustCollection returns the named collection, panicking if it was not
// declared at Open time — a programmer error, not a runtime condition
// callers are expected to recover from.
func (db *Database) MustCollection(name string) *collection.Collection {
	c, ok := db.collections[name]
	if !ok {
		panic("proseql: no collection named " + name)
	}
	return c
}

// Transaction implements `$transaction(fn)` (spec §4.12): begin, run fn
// with a context that makes every collection operation issued through it
// mark itself mutated instead of scheduling an immediate save, commit (or
// roll back and re-surface fn's original error) when fn returns.
func (db *Database) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.txnMgr.Run(ctx, db.scheduleSave, fn)
}

func (db *Database) scheduleSave(name string) {
	c, ok := db.collections[name]
	if !ok {
		return
	}
	db.writer.Schedule(name, func(ctx context.Context) error {
		return c.Flush(ctx)
	})
}

// Flush drains every pending debounced save immediately, then writes the
// canonical JSONL file for every append-only collection (spec §4.5:
// "flush() writes a canonical JSONL file from the current state"). It
// returns any save errors keyed by collection name; one collection's
// failure does not prevent the others from running.
func (db *Database) Flush(ctx context.Context) map[string]error {
	errs := db.writer.Flush()
	for _, name := range db.order {
		c := db.collections[name]
		if !c.IsAppendOnly() {
			continue
		}
		if err := c.Flush(ctx); err != nil {
			if errs == nil {
				errs = make(map[string]error)
			}
			errs[name] = err
		}
	}
	return errs
}

// Close flushes every pending write. ProseQL holds no other resource
// that needs releasing (no network connections, no file handles kept
// open between writes), so Close is Flush with a cleaner name for
// callers ending the database's lifetime.
func (db *Database) Close(ctx context.Context) error {
	errs := db.Flush(ctx)
	for _, err := range errs {
		return err
	}
	return nil
}

// MigrationStep describes one transition [DryRunMigrations] reports.
type MigrationStep struct {
	Collection  string
	From        int
	To          int
	Description string
}

// DryRunMigrations reports, for every persistent collection with a
// migration chain, the sequence of version transitions loading its file
// fresh would apply right now — without writing anything back (spec §6:
// "dryRunMigrations()"). It is read-only: it inspects the persisted
// `_version` but does not re-run Transform or touch in-memory state.
func (db *Database) DryRunMigrations(ctx context.Context) ([]MigrationStep, error) {
	var out []MigrationStep
	for _, name := range db.order {
		chain := db.chains[name]
		if chain == nil {
			continue
		}
		c := db.collections[name]
		if c.PersistPath() == "" || c.IsAppendOnly() || c.IsShared() {
			continue
		}

		_, persistedVersion, err := persistence.LoadRawEnvelope(ctx, db.opts.Adapter, db.codecs[name], c.PersistPath())
		if err != nil {
			return nil, err
		}
		for _, step := range chain.Steps() {
			if step.From < persistedVersion {
				continue
			}
			out = append(out, MigrationStep{
				Collection:  name,
				From:        step.From,
				To:          step.To,
				Description: step.Description,
			})
		}
	}
	return out, nil
}
