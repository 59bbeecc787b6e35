package collection

import (
	"context"
	"time"

	"github.com/proseql/proseql/internal/engine/schema"
)

// Watch re-evaluates q whenever a committed mutation touches this
// collection, debounced by delay (<= 0 uses reactive.DefaultDebounce),
// and reports the fresh result through onResult — once immediately, and
// again after every debounced re-evaluation (spec §4.13, §6 "watch").
// The returned cancel func guarantees no further emissions once called.
func (c *Collection) Watch(q Query, delay time.Duration, onResult func([]schema.Entity, error)) (cancel func()) {
	eval := func() { onResult(c.Run(q)) }
	eval()
	if c.bus == nil {
		return func() {}
	}
	return c.bus.Watch([]string{c.name}, delay, eval)
}

// WatchByID re-evaluates FindById(id) whenever a committed mutation
// touches this id specifically, otherwise identical to [Collection.Watch]
// (spec §6 "watchById").
func (c *Collection) WatchByID(id string, delay time.Duration, onResult func(schema.Entity, error)) (cancel func()) {
	eval := func() { onResult(c.FindById(context.Background(), id)) }
	eval()
	if c.bus == nil {
		return func() {}
	}
	return c.bus.WatchID(c.name, id, delay, eval)
}
