/*
Package reactive implements the process-wide change bus and debounced
watches of spec §4.13: every committed mutation publishes a [ChangeEvent],
and a [Bus.Watch] subscription re-runs its query whenever an event
targets one of its dependent collections, coalesced by a debounce window
exactly like the persistence writer's.
*/
package reactive

import (
	"sync"
	"time"
)

// ChangeEvent is published once per committed mutation.
type ChangeEvent struct {
	Collection string
	Operation  string // "create", "update", "delete"
	ID         string
}

// Bus is a process-wide pub/sub of [ChangeEvent]s. The zero value is not
// ready for use; call [NewBus].
type Bus struct {
	mu   sync.Mutex
	subs map[int]func(ChangeEvent)
	next int
}

// NewBus builds an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(ChangeEvent))}
}

// Publish notifies every current subscriber of event, synchronously.
func (b *Bus) Publish(event ChangeEvent) {
	b.mu.Lock()
	subs := make([]func(ChangeEvent), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()
	for _, fn := range subs {
		fn(event)
	}
}

func (b *Bus) subscribe(fn func(ChangeEvent)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// DefaultDebounce is the default re-evaluation debounce window for
// watches, per spec §4.13.
const DefaultDebounce = 10 * time.Millisecond

// Watch subscribes to events touching any of collections and calls
// onChange (debounced by delay) whenever one arrives. It returns a cancel
// func; after cancel, no further emissions occur — even one already in
// flight on the debounce timer is stopped.
func (b *Bus) Watch(collections []string, delay time.Duration, onChange func()) (cancel func()) {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	watched := make(map[string]bool, len(collections))
	for _, c := range collections {
		watched[c] = true
	}

	var mu sync.Mutex
	var timer *time.Timer
	cancelled := false

	unsubscribe := b.subscribe(func(event ChangeEvent) {
		if !watched[event.Collection] {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if cancelled {
			return
		}
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(delay, func() {
			mu.Lock()
			if cancelled {
				mu.Unlock()
				return
			}
			mu.Unlock()
			onChange()
		})
	})

	return func() {
		mu.Lock()
		cancelled = true
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		unsubscribe()
	}
}

// WatchID subscribes only to events whose ID matches id within
// collection, otherwise identical to [Bus.Watch].
func (b *Bus) WatchID(collection, id string, delay time.Duration, onChange func()) (cancel func()) {
	if delay <= 0 {
		delay = DefaultDebounce
	}

	var mu sync.Mutex
	var timer *time.Timer
	cancelled := false

	unsubscribe := b.subscribe(func(event ChangeEvent) {
		if event.Collection != collection || event.ID != id {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if cancelled {
			return
		}
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(delay, func() {
			mu.Lock()
			if cancelled {
				mu.Unlock()
				return
			}
			mu.Unlock()
			onChange()
		})
	})

	return func() {
		mu.Lock()
		cancelled = true
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		unsubscribe()
	}
}
