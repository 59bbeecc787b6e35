package collection

import (
	"context"

	"github.com/proseql/proseql/internal/engine/hooks"
	"github.com/proseql/proseql/internal/engine/persistence"
	"github.com/proseql/proseql/internal/engine/schema"
	"github.com/proseql/proseql/internal/platform/apperr"
	"github.com/proseql/proseql/pkg/uuidv7"
)


// Create inserts one new entity. The canonical mutation order is:
// strip immutable/computed input, resolve or generate the id, stamp
// createdAt/updatedAt, run before-hooks, schema-decode, check unique
// constraints, check foreign keys, commit to state, update indexes, run
// after-hooks and onChange, publish the change event, schedule a save.
func (c *Collection) Create(ctx context.Context, input map[string]any) (schema.Entity, error) {
	if len(c.computed) > 0 {
		stripped := make(map[string]any, len(input))
		for k, v := range input {
			if _, isComputed := c.computed[k]; !isComputed {
				stripped[k] = v
			}
		}
		input = stripped
	}
	if c.appendOnly {
		return c.createAppendOnly(ctx, input)
	}
	return c.create(ctx, input)
}

func (c *Collection) create(ctx context.Context, input map[string]any) (schema.Entity, error) {
	candidate := stripInput(input)

	id, _ := candidate["id"].(string)
	if id == "" {
		id = c.generateID()
	}
	candidate["id"] = id

	now := nowFunc()
	candidate["createdAt"] = now
	candidate["updatedAt"] = now

	if err := c.hooks.RunBefore(ctx, c.name, hooks.OpCreate, nil, schema.Entity(candidate)); err != nil {
		return nil, err
	}

	decoded, issues := c.schema.Decode(candidate)
	if err := schema.ValidateIssues(issues); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if _, exists := c.state[id]; exists {
		c.mu.Unlock()
		return nil, apperr.DuplicateKey(c.name, id)
	}
	if err := c.checkUniqueLocked(id, decoded); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if err := c.checkForeignKeysLocked(decoded); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	next := cloneState(c.state)
	next[id] = decoded
	c.state = next
	c.indexAddLocked(id, decoded)
	c.mu.Unlock()

	c.finishMutation(ctx, hooks.OpCreate, id, nil, decoded)
	return decoded, nil
}

func (c *Collection) createAppendOnly(ctx context.Context, input map[string]any) (schema.Entity, error) {
	candidate := stripInput(input)
	id, _ := candidate["id"].(string)
	if id == "" {
		id = c.generateID()
	}
	candidate["id"] = id
	now := nowFunc()
	candidate["createdAt"] = now
	candidate["updatedAt"] = now

	if err := c.hooks.RunBefore(ctx, c.name, hooks.OpCreate, nil, schema.Entity(candidate)); err != nil {
		return nil, err
	}

	decoded, issues := c.schema.Decode(candidate)
	if err := schema.ValidateIssues(issues); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if _, exists := c.state[id]; exists {
		c.mu.Unlock()
		return nil, apperr.DuplicateKey(c.name, id)
	}
	if err := c.checkUniqueLocked(id, decoded); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if err := c.checkForeignKeysLocked(decoded); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	next := cloneState(c.state)
	next[id] = decoded
	c.state = next
	c.indexAddLocked(id, decoded)
	c.mu.Unlock()

	if c.adapter != nil && c.persistPath != "" {
		if err := persistence.AppendEntity(ctx, c.adapter, c.jsonl, c.persistPath, decoded); err != nil {
			return nil, err
		}
	}

	c.hooks.RunAfter(ctx, hooks.Change{Collection: c.name, Operation: hooks.OpCreate, ID: id, After: decoded})
	c.hooks.RunChange(ctx, hooks.Change{Collection: c.name, Operation: hooks.OpCreate, ID: id, After: decoded})
	c.publish(string(hooks.OpCreate), id)
	return decoded, nil
}

// CreateManyOptions controls createMany's batch behavior (spec §4.8).
type CreateManyOptions struct {
	// SkipDuplicates reports inputs whose id already exists in the
	// collection, or collides with an earlier input in the same batch, as
	// Skipped instead of failing the whole batch.
	SkipDuplicates bool
}

// CreateManyResult is createMany's outcome.
type CreateManyResult struct {
	Created []schema.Entity
	Skipped []string // ids skipped due to SkipDuplicates
}

// CreateMany categorizes inputs into create/skip against current state
// plus intra-batch conflicts, then applies the whole batch atomically: if
// any surviving input fails to create, every create already committed in
// this call is rolled back and the batch reports no partial result (spec
// §4.8: "validate the whole batch against current state plus intra-batch
// conflicts, then apply atomically").
func (c *Collection) CreateMany(ctx context.Context, inputs []map[string]any, opts CreateManyOptions) (CreateManyResult, error) {
	result := CreateManyResult{Created: make([]schema.Entity, 0, len(inputs))}
	seen := make(map[string]bool, len(inputs))
	toCreate := make([]map[string]any, 0, len(inputs))

	for _, input := range inputs {
		id, _ := input["id"].(string)
		if id != "" {
			_, exists := c.get(id)
			if exists || seen[id] {
				if opts.SkipDuplicates {
					result.Skipped = append(result.Skipped, id)
					continue
				}
				return CreateManyResult{}, apperr.DuplicateKey(c.name, id)
			}
			seen[id] = true
		}
		toCreate = append(toCreate, input)
	}

	snapshot := c.Snapshot()
	for _, input := range toCreate {
		e, err := c.Create(ctx, input)
		if err != nil {
			c.Restore(snapshot)
			return CreateManyResult{}, err
		}
		result.Created = append(result.Created, e)
	}
	return result, nil
}

// FindByIdOptions configures FindById. The zero value hides soft-deleted
// rows, matching query's default (SPEC_FULL §4 "Relationship cascades and
// soft-delete").
type FindByIdOptions struct {
	IncludeDeleted bool
}

// FindById returns the entity with id, or a NotFound error. opts is
// variadic so existing two-argument call sites keep compiling; at most
// the first value is used.
func (c *Collection) FindById(ctx context.Context, id string, opts ...FindByIdOptions) (schema.Entity, error) {
	var opt FindByIdOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	e, ok := c.get(id)
	if !ok || (!opt.IncludeDeleted && isSoftDeleted(e)) {
		return nil, apperr.NotFound(c.name, id)
	}
	return e, nil
}

// Update applies patch's update operators to the entity with id and
// commits the result, following the same canonical order as Create.
func (c *Collection) Update(ctx context.Context, id string, patch map[string]any) (schema.Entity, error) {
	if c.appendOnly {
		return nil, apperr.Operation(c.name + " is append-only: update is not permitted")
	}

	before, ok := c.get(id)
	if !ok || isSoftDeleted(before) {
		return nil, apperr.NotFound(c.name, id)
	}

	if err := validatePatchImmutableFields(patch); err != nil {
		return nil, err
	}
	_, hasExplicitUpdatedAt := patch["updatedAt"]

	candidate, err := applyPatch(before, patch)
	if err != nil {
		return nil, err
	}
	candidate["id"] = id
	candidate["createdAt"] = before["createdAt"]
	if !hasExplicitUpdatedAt {
		candidate["updatedAt"] = nowFunc()
	}

	if err := c.hooks.RunBefore(ctx, c.name, hooks.OpUpdate, before, candidate); err != nil {
		return nil, err
	}

	decoded, issues := c.schema.Decode(candidate)
	if err := schema.ValidateIssues(issues); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if err := c.checkUniqueExcludingLocked(id, decoded); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if err := c.checkForeignKeysLocked(decoded); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	next := cloneState(c.state)
	next[id] = decoded
	c.state = next
	c.indexUpdateLocked(id, before, decoded)
	c.mu.Unlock()

	c.finishMutation(ctx, hooks.OpUpdate, id, before, decoded)
	return decoded, nil
}

// UpsertInput wraps the combination Upsert needs: the lookup predicate is
// caller-resolved (typically an indexed equality field) to the target id,
// if one already exists.
type UpsertInput struct {
	// ID names an existing entity to update; empty means create.
	ID     string
	Create map[string]any
	Patch  map[string]any
}

// Upsert updates the named entity if it exists, or creates one from
// Create otherwise.
func (c *Collection) Upsert(ctx context.Context, in UpsertInput) (schema.Entity, error) {
	if in.ID != "" {
		if _, ok := c.get(in.ID); ok {
			return c.Update(ctx, in.ID, in.Patch)
		}
	}
	return c.Create(ctx, in.Create)
}

// UpsertMany validates every input's patch up front, then applies the
// whole batch atomically: any failure rolls back every upsert already
// committed in this call (spec §4.8).
func (c *Collection) UpsertMany(ctx context.Context, inputs []UpsertInput) ([]schema.Entity, error) {
	for _, in := range inputs {
		if in.ID == "" {
			continue
		}
		if _, ok := c.get(in.ID); ok {
			if err := validatePatchImmutableFields(in.Patch); err != nil {
				return nil, err
			}
		}
	}

	snapshot := c.Snapshot()
	out := make([]schema.Entity, 0, len(inputs))
	for _, in := range inputs {
		e, err := c.Upsert(ctx, in)
		if err != nil {
			c.Restore(snapshot)
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// UpdateMany validates patch and every id's existence up front, then
// applies the same patch to every id atomically: any failure rolls back
// every update already committed in this call (spec §4.8).
func (c *Collection) UpdateMany(ctx context.Context, ids []string, patch map[string]any) ([]schema.Entity, error) {
	if err := validatePatchImmutableFields(patch); err != nil {
		return nil, err
	}
	for _, id := range ids {
		before, ok := c.get(id)
		if !ok || isSoftDeleted(before) {
			return nil, apperr.NotFound(c.name, id)
		}
	}

	snapshot := c.Snapshot()
	out := make([]schema.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := c.Update(ctx, id, patch)
		if err != nil {
			c.Restore(snapshot)
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *Collection) generateID() string {
	if c.idGen != nil {
		return c.idGen()
	}
	return uuidv7.New()
}

// stripInput removes client-supplied system fields that Create always
// derives itself, leaving any caller-supplied id alone (it is validated
// against uniqueness, not immutability, on create).
func stripInput(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		if k == "createdAt" || k == "updatedAt" {
			continue
		}
		out[k] = v
	}
	return out
}

// validatePatchImmutableFields rejects an attempt to patch id or
// createdAt with a ValidationError instead of silently discarding it
// (spec §4.8: "`id`/`createdAt` attempts fail ValidationError").
func validatePatchImmutableFields(patch map[string]any) error {
	var issues []apperr.FieldError
	if _, ok := patch["id"]; ok {
		issues = append(issues, apperr.FieldError{Field: "id", Message: "id cannot be changed by a patch"})
	}
	if _, ok := patch["createdAt"]; ok {
		issues = append(issues, apperr.FieldError{Field: "createdAt", Message: "createdAt cannot be changed by a patch"})
	}
	if len(issues) == 0 {
		return nil
	}
	return apperr.Validation(issues...)
}

func (c *Collection) checkUniqueLocked(id string, e schema.Entity) error {
	for _, idx := range c.unique {
		values := make([]any, len(idx.Fields))
		for i, f := range idx.Fields {
			values[i], _ = e.Get(f)
		}
		if matches := idx.Lookup(values); len(matches) > 0 {
			return apperr.UniqueConstraint(c.name, idx.Fields, values)
		}
	}
	return nil
}

func (c *Collection) checkUniqueExcludingLocked(id string, e schema.Entity) error {
	for _, idx := range c.unique {
		values := make([]any, len(idx.Fields))
		for i, f := range idx.Fields {
			values[i], _ = e.Get(f)
		}
		matches := idx.Lookup(values)
		for existingID := range matches {
			if existingID != id {
				return apperr.UniqueConstraint(c.name, idx.Fields, values)
			}
		}
	}
	return nil
}

// checkForeignKeysLocked validates every "ref" relation's foreign key
// points at an existing row in its target collection. Nil/absent foreign
// keys are allowed (optional relations).
func (c *Collection) checkForeignKeysLocked(e schema.Entity) error {
	if c.registry == nil {
		return nil
	}
	for _, rel := range c.relations {
		if rel.Kind != RelationRef {
			continue
		}
		v, ok := e.Get(rel.ForeignKey)
		if !ok || v == nil {
			continue
		}
		id, ok := v.(string)
		if !ok {
			continue
		}
		target, ok := c.registry.Collection(rel.Target)
		if !ok {
			continue
		}
		if entity, found := target.get(id); !found || isSoftDeleted(entity) {
			return apperr.ForeignKey(c.name, rel.ForeignKey, rel.Target, id)
		}
	}
	return nil
}

// finishMutation runs the shared post-commit steps for create/update:
// after-hooks, onChange listeners, the change-bus publish, and scheduling
// persistence (or marking the active transaction mutated).
func (c *Collection) finishMutation(ctx context.Context, op hooks.Operation, id string, before, after schema.Entity) {
	change := hooks.Change{Collection: c.name, Operation: op, ID: id, Before: before, After: after}
	c.hooks.RunAfter(ctx, change)
	c.hooks.RunChange(ctx, change)
	c.publish(string(op), id)
	c.afterMutate(ctx)
}

// isSoftDeleted reports whether e carries a non-nil deletedAt, the
// soft-delete marker used when a collection's schema declares that field
// (spec §9 open question 2).
func isSoftDeleted(e schema.Entity) bool {
	if e == nil {
		return false
	}
	v, ok := e.Get("deletedAt")
	return ok && v != nil
}
