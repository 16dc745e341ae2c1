package merkle

import (
	"errors"
	"testing"

	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/silterrors"
)

func TestTraverserGetFileAndList(t *testing.T) {
	b, db := newTestBuilder(t)
	commit := hash.Sum([]byte("commit-1"))

	root, err := b.Build([]StagedFile{
		file("data/train/a.txt", "aaa"),
		file("data/train/b.txt", "bbb"),
		file("README.md", "top"),
	}, hash.Zero, commit)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	tv := NewTraverser(db, 8)

	fn, err := tv.GetFile(root, "README.md")
	if err != nil {
		t.Fatalf("GetFile(README.md): %v", err)
	}
	if fn.NumBytes != 3 {
		t.Fatalf("expected 3 bytes, got %d", fn.NumBytes)
	}

	fn2, err := tv.GetFile(root, "data/train/b.txt")
	if err != nil {
		t.Fatalf("GetFile(data/train/b.txt): %v", err)
	}
	if fn2.NumBytes != 3 {
		t.Fatalf("expected 3 bytes, got %d", fn2.NumBytes)
	}

	entries, err := tv.List(root, "data/train")
	if err != nil {
		t.Fatalf("List(data/train): %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	_, err = tv.GetFile(root, "data/train/missing.txt")
	if !errors.Is(err, silterrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTraverserWalkVisitsAllFilesInOrder(t *testing.T) {
	b, db := newTestBuilder(t)
	commit := hash.Sum([]byte("commit-1"))

	root, err := b.Build([]StagedFile{
		file("b.txt", "b"),
		file("a.txt", "a"),
		file("dir/c.txt", "c"),
	}, hash.Zero, commit)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	tv := NewTraverser(db, 8)
	var paths []string
	err = tv.Walk(root, func(e Entry) error {
		paths = append(paths, e.Path)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("expected 3 files, got %d: %v", len(paths), paths)
	}
	for i := 1; i < len(paths); i++ {
		if paths[i-1] >= paths[i] {
			t.Fatalf("Walk must visit in lexicographic order, got %v", paths)
		}
	}
}

func TestTraverserWalkEmptyRootIsNoop(t *testing.T) {
	_, db := newTestBuilder(t)
	tv := NewTraverser(db, 8)
	visited := false
	if err := tv.Walk(hash.Zero, func(Entry) error { visited = true; return nil }); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if visited {
		t.Fatal("expected zero-hash root to visit nothing")
	}
}
