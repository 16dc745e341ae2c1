package commit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/siltdata/silt/pkg/commitlog"
	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/merkle"
	"github.com/siltdata/silt/pkg/objectdb"
	"github.com/siltdata/silt/pkg/refs"
	"github.com/siltdata/silt/pkg/silterrors"
	"github.com/siltdata/silt/pkg/staging"
	"github.com/siltdata/silt/pkg/versionstore"
)

type testRepo struct {
	area     *staging.Area
	pipeline *Pipeline
	refs     *refs.Store
	commits  *commitlog.Log
	files    map[string][]byte
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := t.TempDir()

	blobs, err := versionstore.NewFileStore(dir, versionstore.Options{})
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { blobs.Close() })

	objects, err := objectdb.Open(dir)
	if err != nil {
		t.Fatalf("objectdb.Open: %v", err)
	}
	t.Cleanup(func() { objects.Close() })

	commits, err := commitlog.Open(dir)
	if err != nil {
		t.Fatalf("commitlog.Open: %v", err)
	}
	t.Cleanup(func() { commits.Close() })

	refStore, err := refs.Open(dir)
	if err != nil {
		t.Fatalf("refs.Open: %v", err)
	}
	t.Cleanup(func() { refStore.Close() })

	area, err := staging.Open(filepath.Join(dir, "staged"))
	if err != nil {
		t.Fatalf("staging.Open: %v", err)
	}
	t.Cleanup(func() { area.Close() })

	builder := merkle.NewBuilder(objects, blobs, 8)
	traverser := merkle.NewTraverser(objects, 8)
	pipeline := New(builder, traverser, objects, commits, refStore, nil)

	return &testRepo{area: area, pipeline: pipeline, refs: refStore, commits: commits, files: map[string][]byte{}}
}

func (r *testRepo) content(path string) ([]byte, error) {
	data, ok := r.files[path]
	if !ok {
		return nil, errors.New("no content registered for " + path)
	}
	return data, nil
}

func (r *testRepo) stageFile(t *testing.T, path string, data []byte, status merkle.ChangeStatus) {
	t.Helper()
	r.files[path] = data
	if err := r.area.Stage(staging.Entry{
		Path:     path,
		Status:   status,
		Hash:     hash.Sum(data),
		NumBytes: int64(len(data)),
	}); err != nil {
		t.Fatalf("Stage(%s): %v", path, err)
	}
}

func TestCommitCreatesRootCommitAndAdvancesBranch(t *testing.T) {
	r := newTestRepo(t)
	r.stageFile(t, "a.txt", []byte("hello"), merkle.Added)

	id, err := r.pipeline.Commit(context.Background(), r.area, r.content, Meta{Message: "initial", Author: "a", Email: "a@example.com"}, "main", nil)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if id.IsZero() {
		t.Fatal("expected non-zero commit id")
	}

	tip, err := r.refs.GetBranch("main")
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	if tip != id {
		t.Fatalf("expected branch tip %s, got %s", id, tip)
	}

	if len(r.area.List()) != 0 {
		t.Fatal("expected staging area to be cleared after commit")
	}

	c, err := r.commits.Get(id)
	if err != nil {
		t.Fatalf("commits.Get: %v", err)
	}
	if c.RootHash.IsZero() {
		t.Fatal("expected non-zero root hash on the commit record")
	}
}

func TestCommitWithNoStagedChangesFails(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.pipeline.Commit(context.Background(), r.area, r.content, Meta{Message: "empty"}, "main", nil)
	if !errors.Is(err, silterrors.ErrInvalid) {
		t.Fatalf("expected ErrInvalid committing with nothing staged, got %v", err)
	}
}

func TestSecondCommitChainsOntoFirst(t *testing.T) {
	r := newTestRepo(t)
	r.stageFile(t, "a.txt", []byte("v1"), merkle.Added)
	first, err := r.pipeline.Commit(context.Background(), r.area, r.content, Meta{Message: "first"}, "main", nil)
	if err != nil {
		t.Fatalf("first commit: %v", err)
	}

	r.stageFile(t, "b.txt", []byte("v2"), merkle.Added)
	second, err := r.pipeline.Commit(context.Background(), r.area, r.content, Meta{Message: "second"}, "main", []hash.Hash{first})
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}

	c, err := r.commits.Get(second)
	if err != nil {
		t.Fatalf("commits.Get: %v", err)
	}
	if len(c.ParentIDs) != 1 || c.ParentIDs[0] != first {
		t.Fatalf("expected second commit's parent to be first, got %+v", c.ParentIDs)
	}

	// a.txt carried over unchanged from the first commit's tree.
	tr := merkle.NewTraverser(r.pipeline.objects, 8)
	f, err := tr.GetFile(c.RootHash, "a.txt")
	if err != nil {
		t.Fatalf("GetFile(a.txt): %v", err)
	}
	if f.NumBytes != 2 {
		t.Fatalf("expected a.txt to still be 2 bytes, got %d", f.NumBytes)
	}
}

func TestCommitFailsWithConflictWhenBranchMovedUnderneath(t *testing.T) {
	r := newTestRepo(t)
	r.stageFile(t, "a.txt", []byte("v1"), merkle.Added)
	first, err := r.pipeline.Commit(context.Background(), r.area, r.content, Meta{Message: "first"}, "main", nil)
	if err != nil {
		t.Fatalf("first commit: %v", err)
	}

	// Simulate a concurrent commit advancing main past `first`.
	if err := r.refs.SetBranch("main", hash.Sum([]byte("someone-else")), first); err != nil {
		t.Fatalf("simulating concurrent advance: %v", err)
	}

	r.stageFile(t, "b.txt", []byte("v2"), merkle.Added)
	_, err = r.pipeline.Commit(context.Background(), r.area, r.content, Meta{Message: "second"}, "main", []hash.Hash{first})
	if !errors.Is(err, silterrors.ErrConflict) {
		t.Fatalf("expected ErrConflict when branch moved underneath, got %v", err)
	}
}
