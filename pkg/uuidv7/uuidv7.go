// Package uuidv7 wraps google/uuid to generate time-ordered UUIDv7 values.
//
// # Why UUIDv7?
//
// It is the default id generator for every collection that doesn't name a
// plugin-supplied one. Because it is time-sortable, ids created earlier in
// a collection's lifetime sort before ids created later, which keeps the
// full-scan candidate-resolution path (insertion-order-independent, but
// id-sorted) cheap to reason about.
package uuidv7

import "github.com/google/uuid"

// New generates a new UUIDv7 string.
//
// # Safety
//
// It panics only if the OS random source is unavailable (extremely rare).
// This is acceptable as OS entropy failure is an unrecoverable system-level error.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		panic("uuidv7: failed to generate UUID: " + err.Error())
	}

	return id.String()
}

// Must generates a new UUIDv7 or panics. An alias for [New] kept for
// readability at call sites that use Go's "Must" naming convention.
func Must() string {
	return New()
}
