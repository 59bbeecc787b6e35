/*
Package txn implements the single-writer transaction manager (spec §4.12):
exactly one live transaction per database, O(1) snapshot via reference
capture (never a deep copy), and commit/rollback driven from the
mutation set a transaction accumulates as collections mutate inside it.
*/
package txn

import (
	"context"
	"sync"

	"github.com/proseql/proseql/internal/platform/apperr"
)

// Resource is anything a transaction can snapshot and roll back: in
// practice, one collection's in-memory state map. Snapshot must be O(1)
// (return a reference to the current immutable map, never copy it).
type Resource interface {
	Name() string
	Snapshot() any
	Restore(snapshot any)
}

// Manager owns the database-wide transaction flag. The zero value is not
// ready for use; call [NewManager].
type Manager struct {
	mu        sync.Mutex
	active    bool
	resources map[string]Resource
}

// NewManager builds an empty transaction manager.
func NewManager() *Manager {
	return &Manager{resources: make(map[string]Resource)}
}

// Register adds a collection's resource handle so future transactions
// know to snapshot and (if rolled back) restore it.
func (m *Manager) Register(r Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[r.Name()] = r
}

// Tx is one in-flight transaction.
type Tx struct {
	mgr       *Manager
	snapshots map[string]any
	mutated   map[string]bool
	done      bool
	mu        sync.Mutex
}

// Begin atomically flips the manager's flag and snapshots every
// registered resource. Concurrent or nested Begin calls fail
// TransactionError, per spec §4.12.
func (m *Manager) Begin() (*Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return nil, apperr.Transaction("begin", "a transaction is already active for this database")
	}
	m.active = true

	snapshots := make(map[string]any, len(m.resources))
	for name, r := range m.resources {
		snapshots[name] = r.Snapshot()
	}

	return &Tx{mgr: m, snapshots: snapshots, mutated: make(map[string]bool)}, nil
}

// MarkMutated records that collection mutated inside this transaction,
// so Commit knows which collections need a debounced save scheduled.
func (t *Tx) MarkMutated(collection string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mutated[collection] = true
}

// Mutated returns the set of collection names mutated so far.
func (t *Tx) Mutated() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.mutated))
	for name := range t.mutated {
		out = append(out, name)
	}
	return out
}

// Commit schedules a debounced save for every mutated collection and
// releases the transaction flag. scheduleSave is called once per mutated
// collection name while the flag is still held.
func (t *Tx) Commit(scheduleSave func(collection string)) error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return apperr.Transaction("commit", "transaction is no longer active")
	}
	t.done = true
	mutated := make([]string, 0, len(t.mutated))
	for name := range t.mutated {
		mutated = append(mutated, name)
	}
	t.mu.Unlock()

	for _, name := range mutated {
		scheduleSave(name)
	}

	t.mgr.mu.Lock()
	t.mgr.active = false
	t.mgr.mu.Unlock()
	return nil
}

// Rollback restores every snapshot into its collection and releases the
// transaction flag. It always returns a TransactionError("rolled back")
// so `$transaction` can short-circuit with it — unless the caller's own
// error should take precedence, which `$transaction` handles by
// discarding Rollback's return value and re-surfacing the original error.
func (t *Tx) Rollback() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return apperr.Transaction("rollback", "transaction is no longer active")
	}
	t.done = true
	t.mu.Unlock()

	t.mgr.mu.Lock()
	for name, snap := range t.snapshots {
		if r, ok := t.mgr.resources[name]; ok {
			r.Restore(snap)
		}
	}
	t.mgr.active = false
	t.mgr.mu.Unlock()

	return apperr.Transaction("rollback", "rolled back")
}

// Run implements `$transaction(fn)`: begin, run fn, commit on success,
// roll back and re-surface fn's original error on failure.
func (m *Manager) Run(ctx context.Context, scheduleSave func(collection string), fn func(ctx context.Context) error) error {
	tx, err := m.Begin()
	if err != nil {
		return err
	}

	txCtx := WithTx(ctx, tx)
	if err := fn(txCtx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit(scheduleSave)
}

type contextKey struct{}

// WithTx attaches tx to ctx, so collection operations issued with the
// returned context mark mutations on tx instead of scheduling an
// immediate debounced save.
func WithTx(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, contextKey{}, tx)
}

// FromContext retrieves the active transaction attached by [WithTx], if
// any.
func FromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(contextKey{}).(*Tx)
	return tx, ok
}
