// Package kv implements the embedded ordered key→value store of
// spec.md §4.3: one table per logical purpose (commits, refs,
// per-commit dir hashes, each Object DB node kind), many concurrent
// readers and a single writer per table, and atomic multi-key write
// batches within one table.
//
// Each Table is backed by its own bbolt database file holding a single
// top-level bucket. bbolt's MVCC transaction model already gives us
// "many readers, single writer" and crash-safe atomic commits for
// free, so this package is a thin, purpose-built wrapper rather than a
// reimplementation.
package kv

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"github.com/siltdata/silt/pkg/silterrors"
)

var bucketName = []byte("data")

// Table is one logical KV table, e.g. "commits" or "refs".
type Table struct {
	db   *bbolt.DB
	path string
	name string
}

// Open opens (creating if necessary) the table file at dir/<name>.db.
func Open(dir, name string) (*Table, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating table dir %s: %v", silterrors.ErrIO, dir, err)
	}
	path := filepath.Join(dir, name+".db")
	db, err := bbolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: opening table %s: %v", silterrors.ErrIO, name, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: initializing table %s: %v", silterrors.ErrIO, name, err)
	}
	return &Table{db: db, path: path, name: name}, nil
}

// Close releases the underlying database handle.
func (t *Table) Close() error { return t.db.Close() }

// Put writes key→value, overwriting any prior value.
func (t *Table) Put(key, value []byte) error {
	return t.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, value)
	})
}

// Get reads the value for key. Returns silterrors.ErrNotFound if absent.
func (t *Table) Get(key []byte) ([]byte, error) {
	var out []byte
	err := t.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key)
		if v == nil {
			return fmt.Errorf("%w: key %x in table %s", silterrors.ErrNotFound, key, t.name)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Has reports whether key is present.
func (t *Table) Has(key []byte) (bool, error) {
	var ok bool
	err := t.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(bucketName).Get(key) != nil
		return nil
	})
	return ok, err
}

// Delete removes key, if present. It is not an error to delete an
// absent key.
func (t *Table) Delete(key []byte) error {
	return t.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete(key)
	})
}

// Entry is one key/value pair returned by Range/All.
type Entry struct {
	Key   []byte
	Value []byte
}

// Range iterates, in ascending key order, over every entry whose key
// has the given prefix (pass nil for no prefix), calling fn for each.
// Iteration stops early if fn returns false.
func (t *Table) Range(prefix []byte, fn func(Entry) bool) error {
	return t.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			keep := fn(Entry{
				Key:   append([]byte(nil), k...),
				Value: append([]byte(nil), v...),
			})
			if !keep {
				break
			}
		}
		return nil
	})
}

// All returns every entry in the table, in ascending key order.
func (t *Table) All() ([]Entry, error) {
	var out []Entry
	err := t.Range(nil, func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out, err
}

// Writer is the mutation surface exposed inside Batch.
type Writer interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

type txWriter struct{ b *bbolt.Bucket }

func (w txWriter) Put(key, value []byte) error { return w.b.Put(key, value) }
func (w txWriter) Delete(key []byte) error      { return w.b.Delete(key) }

// Batch runs fn inside a single atomic bbolt write transaction,
// implementing spec.md §4.3's "multi-key atomic write batches within
// one table". If fn returns an error, no writes are committed.
func (t *Table) Batch(fn func(w Writer) error) error {
	return t.db.Update(func(tx *bbolt.Tx) error {
		return fn(txWriter{b: tx.Bucket(bucketName)})
	})
}

// CompareAndSet atomically sets key to newValue only if the current
// value equals expected (nil expected means "key must be absent").
// Returns silterrors.ErrConflict if the current value does not match.
func (t *Table) CompareAndSet(key, expected, newValue []byte) error {
	return t.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		cur := b.Get(key)
		if !bytes.Equal(cur, expected) {
			return fmt.Errorf("%w: key %x changed concurrently", silterrors.ErrConflict, key)
		}
		return b.Put(key, newValue)
	})
}

// Path returns the on-disk file backing this table.
func (t *Table) Path() string { return t.path }
