package collection

import (
	"context"

	"github.com/proseql/proseql/internal/engine/hooks"
	"github.com/proseql/proseql/internal/engine/schema"
	"github.com/proseql/proseql/internal/platform/apperr"
)

// Delete removes the entity with id. If the collection's schema declares
// a deletedAt field, the delete is soft: the entity is patched with a
// deletedAt timestamp and kept in state (invisible to reads and FK
// checks, still present for migration/audit purposes); otherwise the
// entity is removed from state outright. Either way, every inverse
// relation declared on this collection cascades: rows of the relation's
// target collection whose foreign key holds the deleted id are
// themselves removed (soft-deleted where their own schema supports it,
// hard-deleted otherwise) rather than just having their foreign key
// cleared (SPEC_FULL §4 "Relationship cascades and soft-delete").
func (c *Collection) Delete(ctx context.Context, id string) error {
	if c.appendOnly {
		return apperr.Operation(c.name + " is append-only: delete is not permitted")
	}

	before, ok := c.get(id)
	if !ok || isSoftDeleted(before) {
		return apperr.NotFound(c.name, id)
	}

	if err := c.hooks.RunBefore(ctx, c.name, hooks.OpDelete, before, nil); err != nil {
		return err
	}

	if c.schema.HasField("deletedAt") {
		if err := c.softDelete(ctx, id, before); err != nil {
			return err
		}
	} else {
		if err := c.hardDelete(ctx, id, before); err != nil {
			return err
		}
	}

	c.cascade(ctx, id)

	change := hooks.Change{Collection: c.name, Operation: hooks.OpDelete, ID: id, Before: before}
	c.hooks.RunAfter(ctx, change)
	c.hooks.RunChange(ctx, change)
	c.publish(string(hooks.OpDelete), id)
	c.afterMutate(ctx)
	return nil
}

func (c *Collection) softDelete(ctx context.Context, id string, before schema.Entity) error {
	candidate := before.Clone()
	candidate["deletedAt"] = nowFunc()
	candidate["updatedAt"] = nowFunc()

	decoded, issues := c.schema.Decode(map[string]any(candidate))
	if err := schema.ValidateIssues(issues); err != nil {
		return err
	}

	c.mu.Lock()
	next := cloneState(c.state)
	next[id] = decoded
	c.state = next
	c.indexUpdateLocked(id, before, decoded)
	c.mu.Unlock()
	return nil
}

func (c *Collection) hardDelete(ctx context.Context, id string, before schema.Entity) error {
	c.mu.Lock()
	next := cloneState(c.state)
	delete(next, id)
	c.state = next
	c.indexRemoveLocked(id, before)
	c.mu.Unlock()
	return nil
}

// cascade walks the inverse relations declared on this collection and,
// in each relation's target collection, recursively removes every entity
// whose foreign key holds the id just deleted: soft-deleted (deletedAt set) if the dependent
// collection's own schema declares that field, hard-deleted otherwise
// (SPEC_FULL §4 "Relationship cascades and soft-delete": "cascading
// delete sets [deletedAt] instead of removing the row").
func (c *Collection) cascade(ctx context.Context, deletedID string) {
	if c.registry == nil {
		return
	}
	for _, rel := range c.relations {
		if rel.Kind != RelationInverse {
			continue
		}
		target, ok := c.registry.Collection(rel.Target)
		if !ok {
			continue
		}
		target.cascadeDeleteByForeignKey(ctx, rel.ForeignKey, deletedID)
	}
}

// cascadeDeleteByForeignKey removes every (not already soft-deleted)
// entity whose field equals value, following this collection's own
// soft-delete rule.
func (c *Collection) cascadeDeleteByForeignKey(ctx context.Context, field, value string) {
	c.mu.RLock()
	var affected []string
	for id, e := range c.state {
		if isSoftDeleted(e) {
			continue
		}
		if v, ok := e.Get(field); ok {
			if s, ok := v.(string); ok && s == value {
				affected = append(affected, id)
			}
		}
	}
	c.mu.RUnlock()

	for _, id := range affected {
		c.cascadeDeleteOne(ctx, id)
	}
}

// cascadeDeleteOne removes one entity as part of a cascade, bypassing the
// public Delete path's before-hooks (a cascade is not a caller-initiated
// mutation) but still running after-hooks, onChange, persistence
// scheduling, and cascading through this row's own inverse relations in
// turn.
func (c *Collection) cascadeDeleteOne(ctx context.Context, id string) {
	before, ok := c.get(id)
	if !ok || isSoftDeleted(before) {
		return
	}

	if c.schema.HasField("deletedAt") {
		if err := c.softDelete(ctx, id, before); err != nil {
			return
		}
	} else {
		if err := c.hardDelete(ctx, id, before); err != nil {
			return
		}
	}

	change := hooks.Change{Collection: c.name, Operation: hooks.OpDelete, ID: id, Before: before}
	c.hooks.RunAfter(ctx, change)
	c.hooks.RunChange(ctx, change)
	c.publish(string(hooks.OpDelete), id)
	c.afterMutate(ctx)

	c.cascade(ctx, id)
}

// DeleteMany validates every id's existence up front, then deletes them
// atomically: any failure rolls back every delete already committed to
// this collection in this call (spec §4.8). Rows a cascade touched in
// other collections are not covered by this single-collection rollback;
// callers needing cross-collection atomicity wrap the call in
// $transaction, which snapshots every registered collection.
func (c *Collection) DeleteMany(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, ok := c.get(id); !ok {
			return apperr.NotFound(c.name, id)
		}
	}

	snapshot := c.Snapshot()
	for _, id := range ids {
		if err := c.Delete(ctx, id); err != nil {
			c.Restore(snapshot)
			return err
		}
	}
	return nil
}
