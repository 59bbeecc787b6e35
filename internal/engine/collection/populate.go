package collection

import (
	"sort"

	"github.com/proseql/proseql/internal/engine/schema"
)

// populate resolves each named relation key onto a copy of e: `ref`
// relations look up one entity by e's own foreign key; `inverse`
// relations scan the target collection for rows whose foreign key points
// back at e's id. Unknown keys are ignored. Nested populate paths
// (`"author.company"`) recurse into the already-populated related entity.
func (c *Collection) populate(e schema.Entity, keys []string) (schema.Entity, error) {
	if len(keys) == 0 || c.registry == nil {
		return e, nil
	}

	out := e.Clone()
	for _, key := range keys {
		head, rest := splitPopulateKey(key)
		rel, ok := c.relations[head]
		if !ok {
			continue
		}
		target, ok := c.registry.Collection(rel.Target)
		if !ok {
			continue
		}

		switch rel.Kind {
		case RelationRef:
			v, exists := e.Get(rel.ForeignKey)
			if !exists || v == nil {
				out[head] = nil
				continue
			}
			id, _ := v.(string)
			related, found := target.get(id)
			if !found || isSoftDeleted(related) {
				out[head] = nil
				continue
			}
			if rest != "" {
				related, err := target.populate(related, []string{rest})
				if err != nil {
					return nil, err
				}
				out[head] = related
			} else {
				out[head] = related
			}
		case RelationInverse:
			matches := target.findByForeignKey(rel.ForeignKey, idOf(e))
			if rest != "" {
				populated := make([]schema.Entity, 0, len(matches))
				for _, m := range matches {
					p, err := target.populate(m, []string{rest})
					if err != nil {
						return nil, err
					}
					populated = append(populated, p)
				}
				out[head] = populated
			} else {
				out[head] = matches
			}
		}
	}
	return out, nil
}

func splitPopulateKey(key string) (head, rest string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

func idOf(e schema.Entity) string {
	id, _ := e["id"].(string)
	return id
}

// findByForeignKey scans this collection's state for every entity whose
// foreignKey field equals id, in id-sorted order. Used only by inverse
// populate, which has no index to accelerate it (spec §4.9: a plain
// scan of the target).
func (c *Collection) findByForeignKey(foreignKey, id string) []schema.Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []schema.Entity
	for _, eid := range sortedKeys(c.state) {
		e := c.state[eid]
		if isSoftDeleted(e) {
			continue
		}
		v, ok := e.Get(foreignKey)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok && s == id {
			out = append(out, e)
		}
	}
	return out
}

func sortedKeys(m map[string]schema.Entity) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
