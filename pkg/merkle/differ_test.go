package merkle

import (
	"testing"

	"github.com/siltdata/silt/pkg/hash"
)

func pathsOf(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

func containsPath(entries []Entry, p string) bool {
	for _, e := range entries {
		if e.Path == p {
			return true
		}
	}
	return false
}

func TestDifferIdenticalRootsReturnsEmpty(t *testing.T) {
	_, db := newTestBuilder(t)
	d := NewDiffer(db, 8)
	root := hash.Sum([]byte("same"))
	result, err := d.Diff(root, root)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(result.Added) != 0 || len(result.Modified) != 0 || len(result.Removed) != 0 {
		t.Fatalf("expected empty diff for identical roots, got %+v", result)
	}
}

func TestDifferDetectsAddedModifiedRemoved(t *testing.T) {
	b, db := newTestBuilder(t)
	commit1 := hash.Sum([]byte("c1"))

	rootA, err := b.Build([]StagedFile{
		file("keep.txt", "same content"),
		file("change.txt", "before"),
		file("gone.txt", "bye"),
	}, hash.Zero, commit1)
	if err != nil {
		t.Fatalf("Build A: %v", err)
	}

	commit2 := hash.Sum([]byte("c2"))
	rootB, err := b.Build([]StagedFile{
		{Path: "change.txt", Status: Modified, Content: []byte("after")},
		{Path: "gone.txt", Status: Removed},
		file("new.txt", "hello"),
	}, rootA, commit2)
	if err != nil {
		t.Fatalf("Build B: %v", err)
	}

	d := NewDiffer(db, 8)
	result, err := d.Diff(rootA, rootB)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}

	if !containsPath(result.Added, "new.txt") {
		t.Fatalf("expected new.txt in Added, got %v", pathsOf(result.Added))
	}
	if !containsPath(result.Removed, "gone.txt") {
		t.Fatalf("expected gone.txt in Removed, got %v", pathsOf(result.Removed))
	}
	if len(result.Modified) != 1 || result.Modified[0].Path != "change.txt" {
		t.Fatalf("expected change.txt in Modified, got %+v", result.Modified)
	}
	for _, e := range result.Added {
		if e.Path == "keep.txt" {
			t.Fatal("keep.txt should not appear in diff; it did not change")
		}
	}
}

func TestDifferFromEmptyTreeMarksEverythingAdded(t *testing.T) {
	b, db := newTestBuilder(t)
	commit := hash.Sum([]byte("c1"))

	root, err := b.Build([]StagedFile{
		file("a.txt", "a"),
		file("dir/b.txt", "b"),
	}, hash.Zero, commit)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	d := NewDiffer(db, 8)
	result, err := d.Diff(hash.Zero, root)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(result.Added) != 2 {
		t.Fatalf("expected 2 added files, got %d: %v", len(result.Added), pathsOf(result.Added))
	}
	if len(result.Removed) != 0 || len(result.Modified) != 0 {
		t.Fatalf("expected no removed/modified against an empty tree, got %+v", result)
	}
}

func TestDifferToEmptyTreeMarksEverythingRemoved(t *testing.T) {
	b, db := newTestBuilder(t)
	commit := hash.Sum([]byte("c1"))

	root, err := b.Build([]StagedFile{file("a.txt", "a")}, hash.Zero, commit)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	d := NewDiffer(db, 8)
	result, err := d.Diff(root, hash.Zero)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(result.Removed) != 1 || result.Removed[0].Path != "a.txt" {
		t.Fatalf("expected a.txt removed, got %+v", result.Removed)
	}
}
