/*
Package hooks implements the before/after/onChange lifecycle hooks a
collection may register around its mutations (spec §4.7).

Before-hooks can reject a mutation; their error becomes the mutation's
result, wrapped as [apperr.Hook]. After-hooks and onChange listeners run
once a mutation has already committed to the in-memory state and cannot
undo it — their errors (and panics) are logged and dropped, never
surfaced to the caller.
*/
package hooks

import (
	"context"

	"github.com/proseql/proseql/internal/engine/schema"
	"github.com/proseql/proseql/internal/platform/apperr"
	"github.com/proseql/proseql/pkg/log"
)

// Operation names the mutation kind a hook fires for.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Change describes a committed mutation, passed to after-hooks and
// onChange listeners.
type Change struct {
	Collection string
	Operation  Operation
	ID         string
	Before     schema.Entity // nil on create
	After      schema.Entity // nil on delete
}

// BeforeHook runs prior to a mutation being applied to the in-memory
// state. Returning an error rejects the mutation.
type BeforeHook func(ctx context.Context, collection string, op Operation, before, candidate schema.Entity) error

// AfterHook runs after a mutation has committed. Its error is logged and
// otherwise ignored.
type AfterHook func(ctx context.Context, change Change) error

// ChangeListener is an onChange subscriber; its error is logged and
// otherwise ignored, same as an AfterHook.
type ChangeListener func(ctx context.Context, change Change) error

// Set is the ordered collection of hooks registered for one collection.
// Hooks run in registration order; a zero Set runs none.
type Set struct {
	Before []BeforeHook
	After  []AfterHook
	Change []ChangeListener
}

// RunBefore runs every before-hook in order, stopping at the first
// rejection. A rejecting hook's error is wrapped as [apperr.Hook].
func (s Set) RunBefore(ctx context.Context, collection string, op Operation, before, candidate schema.Entity) error {
	for _, h := range s.Before {
		if err := h(ctx, collection, op, before, candidate); err != nil {
			return apperr.Hook(collection, err)
		}
	}
	return nil
}

// RunAfter runs every after-hook, recovering panics and logging any
// error instead of propagating it — spec §4.7's "logged and dropped".
func (s Set) RunAfter(ctx context.Context, change Change) {
	for _, h := range s.After {
		runGuarded("after-hook", change, h)
	}
}

// RunChange notifies every onChange listener, with the same
// log-and-drop failure handling as after-hooks.
func (s Set) RunChange(ctx context.Context, change Change) {
	for _, h := range s.Change {
		runGuarded("onChange listener", change, h)
	}
}

func runGuarded(kind string, change Change, fn func(ctx context.Context, change Change) error) {
	logger := log.WithCollection(change.Collection)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("op", string(change.Operation)).
				Str("id", change.ID).
				Interface("panic", r).
				Msgf("%s panicked", kind)
		}
	}()
	if err := fn(context.Background(), change); err != nil {
		logger.Error().
			Str("op", string(change.Operation)).
			Str("id", change.ID).
			Err(err).
			Msgf("%s returned an error", kind)
	}
}
