// Package staging implements the Staging Area (spec.md §4.8, C8): a
// per-working-copy table of path -> staged entry, recording pending
// add/modify/remove changes against HEAD before they are folded into
// a commit by pkg/commit.
//
// It generalizes the teacher's Store.workingState (an in-memory
// map[string][]byte of pending KV writes, converted to sorted pairs
// only at tree-build time) into a durable table plus an in-memory
// ordered mirror: the durable half survives a crash between staging
// and commit, and the ordered mirror answers Status()/List() queries
// without a bbolt range scan on every call.
package staging

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/btree"

	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/kv"
	"github.com/siltdata/silt/pkg/merkle"
	"github.com/siltdata/silt/pkg/silterrors"
)

// Entry is one staged change, keyed by its working-copy path.
type Entry struct {
	Path       string
	Status     merkle.ChangeStatus
	Hash       hash.Hash // content hash at staging time; zero for Removed
	NumBytes   int64
	ModSeconds int64
	ModNanos   int32
	DataType   string
	MimeType   string
	Extension  string
}

type pathItem string

func lessPathItem(a, b pathItem) bool { return a < b }

// Area is a staging area over one KV table.
type Area struct {
	mu    sync.RWMutex
	table *kv.Table
	index *btree.BTreeG[pathItem]
	byPath map[string]Entry
}

// Open opens (or creates) a staging area backed by a table under dir.
func Open(dir string) (*Area, error) {
	table, err := kv.Open(dir, "staged")
	if err != nil {
		return nil, err
	}
	a := &Area{
		table:  table,
		index:  btree.NewG(32, lessPathItem),
		byPath: map[string]Entry{},
	}
	entries, err := table.All()
	if err != nil {
		table.Close()
		return nil, err
	}
	for _, e := range entries {
		entry, err := decodeEntry(e.Value)
		if err != nil {
			table.Close()
			return nil, fmt.Errorf("loading staged entry %q: %w", e.Key, err)
		}
		entry.Path = string(e.Key)
		a.byPath[entry.Path] = entry
		a.index.ReplaceOrInsert(pathItem(entry.Path))
	}
	return a, nil
}

// Close releases the underlying table.
func (a *Area) Close() error { return a.table.Close() }

// Stage records a new staged entry for path, overwriting any prior one.
func (a *Area) Stage(e Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.table.Put([]byte(e.Path), encodeEntry(e)); err != nil {
		return err
	}
	a.byPath[e.Path] = e
	a.index.ReplaceOrInsert(pathItem(e.Path))
	return nil
}

// Remove records path as a tombstone (merkle.Removed).
func (a *Area) Remove(path string) error {
	return a.Stage(Entry{Path: path, Status: merkle.Removed})
}

// Restore clears path's staged entry, if any.
func (a *Area) Restore(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.byPath[path]; !ok {
		return nil
	}
	if err := a.table.Delete([]byte(path)); err != nil {
		return err
	}
	delete(a.byPath, path)
	a.index.Delete(pathItem(path))
	return nil
}

// Get returns the staged entry for path, if any.
func (a *Area) Get(path string) (Entry, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.byPath[path]
	return e, ok
}

// List returns every staged entry, sorted by path.
func (a *Area) List() []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Entry, 0, a.index.Len())
	a.index.Ascend(func(p pathItem) bool {
		out = append(out, a.byPath[string(p)])
		return true
	})
	return out
}

// Clear removes every staged entry (called by the Commit Pipeline
// after a successful ref advance).
func (a *Area) Clear() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	paths := make([]string, 0, len(a.byPath))
	for p := range a.byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	err := a.table.Batch(func(w kv.Writer) error {
		for _, p := range paths {
			if err := w.Delete([]byte(p)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: clearing staging area: %v", silterrors.ErrIO, err)
	}

	a.byPath = map[string]Entry{}
	a.index = btree.NewG(32, lessPathItem)
	return nil
}
