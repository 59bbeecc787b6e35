/*
Package storage implements the pluggable storage adapter contract
(spec §4.4). An [Adapter] is the only thing the persistence engine knows
about where bytes live; ProseQL ships an in-memory adapter (tests, and
databases opened without a backing store), a local filesystem adapter
with atomic writes and fsnotify-based change watching, and an embedded
bbolt adapter for single-file deployments.
*/
package storage

import "context"

// Adapter is the storage contract every persistence operation goes
// through. Paths are opaque strings; an adapter defines their own
// interpretation (a filesystem path, a bbolt key, a map key).
type Adapter interface {
	// Read returns the bytes stored at path, or an apperr.Storage NOT_FOUND
	// style condition — implementations report absence via (nil, nil) and
	// let the caller (persistence engine) decide whether missing-on-first-
	// load is expected.
	Read(ctx context.Context, path string) ([]byte, error)
	// Write stores data at path, replacing any previous content. Local
	// filesystem implementations do this atomically (write-temp, rename).
	Write(ctx context.Context, path string, data []byte) error
	// Append adds data to the content already stored at path without
	// rewriting it, for the append-only JSONL fast path. Adapters that
	// cannot append natively may fall back to read-modify-write.
	Append(ctx context.Context, path string, data []byte) error
	// Exists reports whether path currently has content.
	Exists(ctx context.Context, path string) (bool, error)
	// Remove deletes any content at path. Removing an absent path is not
	// an error.
	Remove(ctx context.Context, path string) error
	// EnsureDir prepares path's parent for writes (a no-op for adapters
	// with no directory concept).
	EnsureDir(ctx context.Context, path string) error
	// Watch invokes onChange whenever path's content changes out from
	// under this process. It returns an unsubscribe func; adapters that
	// cannot watch (in-memory, bbolt) return a no-op unsubscribe and a nil
	// error — watching is a best-effort enhancement, never a requirement.
	Watch(ctx context.Context, path string, onChange func()) (unsubscribe func(), err error)
}
