// Package store wraps the embedded bbolt database shared by every other
// component. Grounded on cuemby-warren's pkg/storage/boltdb.go: one *bolt.DB
// per process, a fixed set of named buckets created up front, and thin
// View/Update passthroughs. Unlike BoltStore, this wrapper does not know
// about node/edge record shapes itself — internal/graph and internal/
// eventlog build their bucket layout on top of it using internal/codec for
// the record bytes, keeping storage mechanics and domain schema separate
// the way warren keeps bucket management in boltdb.go separate from the
// node/service/container types defined in pkg/types.
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Env is the shared bbolt handle. Exactly one Env exists per running node;
// internal/consensus's FSM writes all replicated state, and outside of a
// replicated Apply the only write is a subscriber's acknowledgement cursor,
// set locally by internal/dispatch's GetEvents. bbolt serializes writers,
// matching spec §5's single-writer/many-reader invariant.
type Env struct {
	DB   *bolt.DB
	path string
}

// Open opens (creating if absent) the database file under dataDir and
// ensures every bucket in names exists. Bucket creation happens once, up
// front, the same way NewBoltStore pre-creates its fixed bucket list —
// callers never need a lazy CreateBucketIfNotExists on the hot path.
func Open(dataDir string, names ...[]byte) (*Env, error) {
	path := filepath.Join(dataDir, "strata.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range names {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("store: create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Env{DB: db, path: path}, nil
}

// Close closes the underlying database.
func (e *Env) Close() error {
	return e.DB.Close()
}

// Path returns the database file path, for diagnostics and backup.
func (e *Env) Path() string {
	return e.path
}

// View runs fn in a read-only transaction.
func (e *Env) View(fn func(tx *bolt.Tx) error) error {
	return e.DB.View(fn)
}

// Update runs fn in a read-write transaction. bbolt already serializes
// writers process-wide; this is just a named passthrough so callers don't
// reach into e.DB directly.
func (e *Env) Update(fn func(tx *bolt.Tx) error) error {
	return e.DB.Update(fn)
}

// Compact rewrites the database file to reclaim space freed by deleted
// records, the same operator-invoked maintenance action warren exposes
// rather than running automatically on a timer (see DESIGN.md's note on
// event-log retention).
func (e *Env) Compact(destPath string) error {
	dst, err := bolt.Open(destPath, 0o600, nil)
	if err != nil {
		return fmt.Errorf("store: open compaction target: %w", err)
	}
	defer dst.Close()

	err = e.DB.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, b *bolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return b.ForEach(func(k, v []byte) error {
					return dstBucket.Put(k, v)
				})
			})
		})
	})
	if err != nil {
		return fmt.Errorf("store: compact: %w", err)
	}
	return nil
}

// Snapshot writes a consistent point-in-time copy of the whole database to
// w, using bbolt's own transaction-scoped WriteTo rather than an
// application-level record dump, since every other component's state lives
// in this one file — internal/consensus's FSM uses this as a Raft snapshot
// instead of warren's per-collection JSON list (WarrenSnapshot), which only
// made sense when state was spread across several typed bucket families
// enumerated by hand.
func (e *Env) Snapshot(w io.Writer) error {
	return e.DB.View(func(tx *bolt.Tx) error {
		_, err := tx.WriteTo(w)
		return err
	})
}

// Restore replaces the database file with the bytes read from r, which must
// be a snapshot previously produced by Snapshot. The Env must be reopened
// with Open after Restore returns.
func (e *Env) Restore(r io.Reader) error {
	path := e.path
	if err := e.DB.Close(); err != nil {
		return fmt.Errorf("store: close before restore: %w", err)
	}

	tmp := path + ".restore"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("store: create restore temp file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("store: write restore temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: close restore temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("store: replace database file: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("store: reopen after restore: %w", err)
	}
	e.DB = db
	return nil
}
