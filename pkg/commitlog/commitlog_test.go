package commitlog

import (
	"errors"
	"testing"

	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/silterrors"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func makeCommit(parents []hash.Hash, message string, root hash.Hash) Commit {
	id := HashCommit(parents, message, "author", "author@example.com", "2026-01-01T00:00:00Z", root)
	return Commit{
		ID:        id,
		ParentIDs: parents,
		Message:   message,
		Author:    "author",
		Email:     "author@example.com",
		Timestamp: "2026-01-01T00:00:00Z",
		RootHash:  root,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	l := openTestLog(t)
	c := makeCommit(nil, "root commit", hash.Sum([]byte("root")))

	if err := l.Put(c); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := l.Get(c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Message != c.Message || got.RootHash != c.RootHash {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, c)
	}
}

func TestPutRejectsMismatchedID(t *testing.T) {
	l := openTestLog(t)
	c := makeCommit(nil, "root commit", hash.Sum([]byte("root")))
	c.ID = hash.Sum([]byte("wrong"))

	if err := l.Put(c); !errors.Is(err, silterrors.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for mismatched id, got %v", err)
	}
}

func TestPutIdempotent(t *testing.T) {
	l := openTestLog(t)
	c := makeCommit(nil, "root commit", hash.Sum([]byte("root")))

	if err := l.Put(c); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if err := l.Put(c); err != nil {
		t.Fatalf("idempotent second Put: %v", err)
	}
}

func TestHistoryBFSOrder(t *testing.T) {
	l := openTestLog(t)

	root := makeCommit(nil, "root", hash.Sum([]byte("r0")))
	mustPut(t, l, root)

	c1 := makeCommit([]hash.Hash{root.ID}, "c1", hash.Sum([]byte("r1")))
	mustPut(t, l, c1)

	c2 := makeCommit([]hash.Hash{c1.ID}, "c2", hash.Sum([]byte("r2")))
	mustPut(t, l, c2)

	history, err := l.History(c2.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 commits in history, got %d", len(history))
	}
	if history[0].ID != c2.ID {
		t.Fatalf("expected history to start at head, got %s", history[0].ID)
	}
}

func TestBetweenComputesExclusiveRange(t *testing.T) {
	l := openTestLog(t)

	root := makeCommit(nil, "root", hash.Sum([]byte("r0")))
	mustPut(t, l, root)
	c1 := makeCommit([]hash.Hash{root.ID}, "c1", hash.Sum([]byte("r1")))
	mustPut(t, l, c1)
	c2 := makeCommit([]hash.Hash{c1.ID}, "c2", hash.Sum([]byte("r2")))
	mustPut(t, l, c2)

	between, err := l.Between(root.ID, c2.ID)
	if err != nil {
		t.Fatalf("Between: %v", err)
	}
	if len(between) != 2 {
		t.Fatalf("expected 2 commits strictly after root, got %d", len(between))
	}
	ids := map[hash.Hash]bool{between[0].ID: true, between[1].ID: true}
	if !ids[c1.ID] || !ids[c2.ID] {
		t.Fatalf("Between result missing expected commits: %+v", between)
	}
	if ids[root.ID] {
		t.Fatal("Between must not include base commit")
	}
}

func TestMergeCommitIDIndependentOfParentOrder(t *testing.T) {
	a := hash.Sum([]byte("a"))
	b := hash.Sum([]byte("b"))
	root := hash.Sum([]byte("root"))

	id1 := HashCommit([]hash.Hash{a, b}, "merge", "x", "x@example.com", "2026-01-01T00:00:00Z", root)
	id2 := HashCommit([]hash.Hash{b, a}, "merge", "x", "x@example.com", "2026-01-01T00:00:00Z", root)
	if id1 != id2 {
		t.Fatal("merge commit id must not depend on parent listing order")
	}
}

func mustPut(t *testing.T, l *Log, c Commit) {
	t.Helper()
	if err := l.Put(c); err != nil {
		t.Fatalf("Put(%s): %v", c.Message, err)
	}
}
