package storage

import (
	"context"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("proseql")

// BoltAdapter is an embedded-KV [Adapter] backed by a single bbolt file.
// It suits single-file deployments that want ProseQL's collections to
// live inside one database file rather than one file per collection.
// Watch is a no-op: bbolt has no external-change notification mechanism,
// and a process holding the file open exclusively never sees a foreign
// writer anyway.
type BoltAdapter struct {
	db *bolt.DB
}

// OpenBoltAdapter opens (creating if needed) a bbolt database at path.
func OpenBoltAdapter(path string) (*BoltAdapter, error) {
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltAdapter{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (a *BoltAdapter) Close() error { return a.db.Close() }

func (a *BoltAdapter) Read(_ context.Context, path string) ([]byte, error) {
	var out []byte
	err := a.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(path))
		if v != nil {
			out = make([]byte, len(v))
			copy(out, v)
		}
		return nil
	})
	return out, err
}

func (a *BoltAdapter) Write(_ context.Context, path string, data []byte) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(path), data)
	})
}

// Append reads the existing value, concatenates data, and writes it back;
// bbolt has no native append, so this is the read-modify-write fallback
// the [Adapter] contract allows.
func (a *BoltAdapter) Append(ctx context.Context, path string, data []byte) error {
	existing, err := a.Read(ctx, path)
	if err != nil {
		return err
	}
	return a.Write(ctx, path, append(existing, data...))
}

func (a *BoltAdapter) Exists(_ context.Context, path string) (bool, error) {
	var found bool
	err := a.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketName).Get([]byte(path)) != nil
		return nil
	})
	return found, err
}

func (a *BoltAdapter) Remove(_ context.Context, path string) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(path))
	})
}

func (a *BoltAdapter) EnsureDir(_ context.Context, _ string) error { return nil }

func (a *BoltAdapter) Watch(_ context.Context, _ string, _ func()) (func(), error) {
	return func() {}, nil
}
