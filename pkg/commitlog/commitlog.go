// Package commitlog implements the Commit Log (spec.md §4.5, C5): an
// append-only, hash-keyed table of immutable Commit records forming a
// DAG via parent ids. It is grounded in the teacher's pkg/branch
// package for its KV-table-plus-typed-accessor shape, generalized from
// a single mutable ref to an immutable, append-only log with BFS graph
// queries.
package commitlog

import (
	"fmt"

	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/kv"
	"github.com/siltdata/silt/pkg/silterrors"
)

// Commit is the immutable record of spec.md §3. Its ID is derived from
// every other field, so identical content produces identical ids.
type Commit struct {
	ID        hash.Hash
	ParentIDs []hash.Hash // 0 (root), 1 (regular), or 2 (merge) entries
	Message   string
	Author    string
	Email     string
	Timestamp string // RFC-3339, UTC
	RootHash  hash.Hash
}

// Log wraps the commits table.
type Log struct {
	commits *kv.Table
}

// Open opens (creating if necessary) the commits table under dir.
func Open(dir string) (*Log, error) {
	t, err := kv.Open(dir, "commits")
	if err != nil {
		return nil, err
	}
	return &Log{commits: t}, nil
}

// Close releases the underlying table handle.
func (l *Log) Close() error { return l.commits.Close() }

// HashCommit computes a commit's content id the way pkg/merkle's
// directory hashing works: canonicalize, then hash. Parent ids are
// sorted so that a merge commit's id does not depend on which parent
// the caller happened to list first.
func HashCommit(parentIDs []hash.Hash, message, author, email, timestamp string, rootHash hash.Hash) hash.Hash {
	sorted := append([]hash.Hash(nil), parentIDs...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].String() > sorted[j].String(); j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}

	buf := make([]byte, 0, 128+len(message)+len(author)+len(email))
	buf = putUint32(buf, uint32(len(sorted)))
	for _, p := range sorted {
		buf = append(buf, p.Bytes()...)
	}
	buf = putString(buf, message)
	buf = putString(buf, author)
	buf = putString(buf, email)
	buf = putString(buf, timestamp)
	buf = append(buf, rootHash.Bytes()...)
	return hash.Sum(buf)
}

// Put appends a commit, keyed by its own ID. Writing the same ID twice
// with matching content is a no-op (spec.md §4.10 step 4); commits are
// immutable, so a mismatched re-write is a fatal integrity violation.
func (l *Log) Put(c Commit) error {
	wantID := HashCommit(c.ParentIDs, c.Message, c.Author, c.Email, c.Timestamp, c.RootHash)
	if c.ID != wantID {
		return fmt.Errorf("%w: commit id %s does not match its content hash %s", silterrors.ErrInvalid, c.ID, wantID)
	}

	existing, err := l.Get(c.ID)
	if err == nil {
		if commitsEqual(existing, c) {
			return nil
		}
		return fmt.Errorf("%w: commit %s already exists with different content", silterrors.ErrIntegrity, c.ID)
	}
	return l.commits.Put(c.ID.Bytes(), encodeCommit(c))
}

func commitsEqual(a, b Commit) bool {
	if a.ID != b.ID || a.Message != b.Message || a.Author != b.Author || a.Email != b.Email ||
		a.Timestamp != b.Timestamp || a.RootHash != b.RootHash || len(a.ParentIDs) != len(b.ParentIDs) {
		return false
	}
	for i := range a.ParentIDs {
		if a.ParentIDs[i] != b.ParentIDs[i] {
			return false
		}
	}
	return true
}

// Get retrieves a commit by id.
func (l *Log) Get(id hash.Hash) (Commit, error) {
	data, err := l.commits.Get(id.Bytes())
	if err != nil {
		return Commit{}, err
	}
	c, err := decodeCommit(data)
	if err != nil {
		return Commit{}, err
	}
	c.ID = id
	return c, nil
}

// Has reports whether a commit with the given id is present.
func (l *Log) Has(id hash.Hash) (bool, error) { return l.commits.Has(id.Bytes()) }

// All returns every commit in the log, in no particular order.
func (l *Log) All() ([]Commit, error) {
	entries, err := l.commits.All()
	if err != nil {
		return nil, err
	}
	out := make([]Commit, 0, len(entries))
	for _, e := range entries {
		c, err := decodeCommit(e.Value)
		if err != nil {
			return nil, err
		}
		c.ID = hash.FromBytes(e.Key)
		out = append(out, c)
	}
	return out, nil
}

// History returns every commit reachable from (and including) from,
// via a BFS over parent_ids, in BFS order (spec.md §4.5).
func (l *Log) History(from hash.Hash) ([]Commit, error) {
	visited := map[hash.Hash]struct{}{from: {}}
	queue := []hash.Hash{from}
	var out []Commit

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		c, err := l.Get(id)
		if err != nil {
			return nil, fmt.Errorf("walking history from %s: %w", from, err)
		}
		out = append(out, c)

		for _, p := range c.ParentIDs {
			if _, ok := visited[p]; !ok {
				visited[p] = struct{}{}
				queue = append(queue, p)
			}
		}
	}
	return out, nil
}

// reverseReachable returns the set of commit ids reachable from id
// (inclusive) by walking parent_ids.
func (l *Log) reverseReachable(id hash.Hash) (map[hash.Hash]struct{}, error) {
	set := map[hash.Hash]struct{}{}
	queue := []hash.Hash{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, ok := set[cur]; ok {
			continue
		}
		set[cur] = struct{}{}

		c, err := l.Get(cur)
		if err != nil {
			return nil, err
		}
		queue = append(queue, c.ParentIDs...)
	}
	return set, nil
}

// Between returns every commit reachable from head but not from base:
// the reverse-reachable set of head, minus the reverse-reachable set
// of base (spec.md §4.5).
func (l *Log) Between(base, head hash.Hash) ([]Commit, error) {
	baseSet, err := l.reverseReachable(base)
	if err != nil {
		return nil, fmt.Errorf("resolving base ancestry: %w", err)
	}
	headSet, err := l.reverseReachable(head)
	if err != nil {
		return nil, fmt.Errorf("resolving head ancestry: %w", err)
	}

	var out []Commit
	for id := range headSet {
		if _, excluded := baseSet[id]; excluded {
			continue
		}
		c, err := l.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
