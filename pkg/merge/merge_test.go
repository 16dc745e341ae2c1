package merge

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/siltdata/silt/pkg/commit"
	"github.com/siltdata/silt/pkg/commitlog"
	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/merkle"
	"github.com/siltdata/silt/pkg/objectdb"
	"github.com/siltdata/silt/pkg/refs"
	"github.com/siltdata/silt/pkg/staging"
	"github.com/siltdata/silt/pkg/versionstore"
)

type testRepo struct {
	area     *staging.Area
	pipeline *commit.Pipeline
	merger   *Merger
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
	differ := merkle.NewDiffer(objects, 8)
	pipeline := commit.New(builder, traverser, objects, commits, refStore, nil)
	merger := New(commits, refStore, differ, traverser, pipeline, blobs)

	return &testRepo{area: area, pipeline: pipeline, merger: merger, refs: refStore, commits: commits, files: map[string][]byte{}}
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

func (r *testRepo) commitOnto(t *testing.T, branch, message string, parents []hash.Hash) hash.Hash {
	t.Helper()
	id, err := r.pipeline.Commit(context.Background(), r.area, r.content, commit.Meta{Message: message, Author: "a", Email: "a@example.com"}, branch, parents)
	if err != nil {
		t.Fatalf("Commit(%s): %v", message, err)
	}
	return id
}

// branchAt creates a new branch pointed at the given commit.
func (r *testRepo) branchAt(t *testing.T, name string, at hash.Hash) {
	t.Helper()
	if err := r.refs.CreateBranch(name, at); err != nil {
		t.Fatalf("CreateBranch(%s): %v", name, err)
	}
}

func TestMergeFastForwardsWhenBaseIsAncestorOfHead(t *testing.T) {
	r := newTestRepo(t)
	r.stageFile(t, "a.txt", []byte("v1"), merkle.Added)
	root := r.commitOnto(t, "main", "root", nil)
	r.branchAt(t, "feature", root)

	r.stageFile(t, "b.txt", []byte("v2"), merkle.Added)
	featureTip := r.commitOnto(t, "feature", "add b", []hash.Hash{root})

	result, err := r.merger.Merge(context.Background(), "main", "feature")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !result.FastForward {
		t.Fatalf("expected fast-forward, got %+v", result)
	}

	tip, err := r.refs.GetBranch("main")
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	if tip != featureTip {
		t.Fatalf("expected main to fast-forward to %s, got %s", featureTip, tip)
	}
}

func TestMergeIsNoOpWhenBaseAlreadyContainsHead(t *testing.T) {
	r := newTestRepo(t)
	r.stageFile(t, "a.txt", []byte("v1"), merkle.Added)
	root := r.commitOnto(t, "main", "root", nil)
	r.branchAt(t, "feature", root)

	result, err := r.merger.Merge(context.Background(), "main", "feature")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !result.NoOp {
		t.Fatalf("expected no-op, got %+v", result)
	}

	tip, err := r.refs.GetBranch("main")
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	if tip != root {
		t.Fatal("expected main's tip to be untouched by a no-op merge")
	}
}

func TestMergeCombinesDisjointChangesIntoMergeCommit(t *testing.T) {
	r := newTestRepo(t)
	r.stageFile(t, "shared.txt", []byte("base"), merkle.Added)
	root := r.commitOnto(t, "main", "root", nil)
	r.branchAt(t, "feature", root)

	r.stageFile(t, "main-only.txt", []byte("from main"), merkle.Added)
	mainTip := r.commitOnto(t, "main", "main work", []hash.Hash{root})

	r.stageFile(t, "feature-only.txt", []byte("from feature"), merkle.Added)
	featureTip := r.commitOnto(t, "feature", "feature work", []hash.Hash{root})

	result, err := r.merger.Merge(context.Background(), "main", "feature")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.FastForward || result.NoOp || len(result.Conflicts) != 0 {
		t.Fatalf("expected a clean three-way merge, got %+v", result)
	}
	if result.Commit.IsZero() {
		t.Fatal("expected a merge commit id")
	}

	c, err := r.commits.Get(result.Commit)
	if err != nil {
		t.Fatalf("commits.Get: %v", err)
	}
	if len(c.ParentIDs) != 2 {
		t.Fatalf("expected a two-parent merge commit, got %+v", c.ParentIDs)
	}
	hasParent := func(id hash.Hash) bool {
		for _, p := range c.ParentIDs {
			if p == id {
				return true
			}
		}
		return false
	}
	if !hasParent(mainTip) || !hasParent(featureTip) {
		t.Fatalf("expected merge commit's parents to be {%s, %s}, got %+v", mainTip, featureTip, c.ParentIDs)
	}

	tr := merkle.NewTraverser(r.pipeline.Objects(), 8)
	for _, path := range []string{"shared.txt", "main-only.txt", "feature-only.txt"} {
		if _, err := tr.GetFile(c.RootHash, path); err != nil {
			t.Fatalf("expected %s to survive the merge: %v", path, err)
		}
	}

	tip, err := r.refs.GetBranch("main")
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	if tip != result.Commit {
		t.Fatalf("expected main to advance to the merge commit, got %s want %s", tip, result.Commit)
	}
}

func TestMergeReportsConflictWhenBothSidesModifySamePath(t *testing.T) {
	r := newTestRepo(t)
	r.stageFile(t, "a.txt", []byte("base"), merkle.Added)
	root := r.commitOnto(t, "main", "root", nil)
	r.branchAt(t, "feature", root)

	r.stageFile(t, "a.txt", []byte("main change"), merkle.Modified)
	r.commitOnto(t, "main", "main edits a", []hash.Hash{root})

	r.stageFile(t, "a.txt", []byte("feature change"), merkle.Modified)
	r.commitOnto(t, "feature", "feature edits a", []hash.Hash{root})

	result, err := r.merger.Merge(context.Background(), "main", "feature")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(result.Conflicts) != 1 || result.Conflicts[0].Path != "a.txt" {
		t.Fatalf("expected a single conflict on a.txt, got %+v", result.Conflicts)
	}

	// A conflicting merge must not have advanced main or created a commit.
	tip, err := r.refs.GetBranch("main")
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	if tip == result.Commit {
		t.Fatal("expected conflicting merge to leave main untouched")
	}
}

func TestMergeTreatsIdenticalEditOnBothSidesAsNonConflicting(t *testing.T) {
	r := newTestRepo(t)
	r.stageFile(t, "a.txt", []byte("base"), merkle.Added)
	root := r.commitOnto(t, "main", "root", nil)
	r.branchAt(t, "feature", root)

	r.stageFile(t, "a.txt", []byte("same change"), merkle.Modified)
	r.commitOnto(t, "main", "main edits a", []hash.Hash{root})

	r.stageFile(t, "a.txt", []byte("same change"), merkle.Modified)
	r.commitOnto(t, "feature", "feature edits a identically", []hash.Hash{root})

	result, err := r.merger.Merge(context.Background(), "main", "feature")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(result.Conflicts) != 0 {
		t.Fatalf("expected no conflicts for an identical edit on both sides, got %+v", result.Conflicts)
	}
}
