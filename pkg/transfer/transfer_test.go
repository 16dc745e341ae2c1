package transfer

import (
	"bytes"
	"context"
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

// side is one standalone repository backed by its own set of stores,
// wired the same way newTestRepo is in pkg/merge's tests, plus a
// LocalServer facade so it can stand in on either side of Push/Pull.
type side struct {
	area     *staging.Area
	pipeline *commit.Pipeline
	refs     *refs.Store
	commits  *commitlog.Log
	server   *LocalServer
	files    map[string][]byte
}

func newSide(t *testing.T) *side {
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
	pipeline := commit.New(builder, traverser, objects, commits, refStore, nil)
	server := NewLocalServer(objects, blobs, commits, refStore)

	return &side{area: area, pipeline: pipeline, refs: refStore, commits: commits, server: server, files: map[string][]byte{}}
}

func (s *side) content(path string) ([]byte, error) { return s.files[path], nil }

func (s *side) stageFile(t *testing.T, path string, data []byte) {
	t.Helper()
	s.files[path] = data
	if err := s.area.Stage(staging.Entry{
		Path:     path,
		Status:   merkle.Added,
		Hash:     hash.Sum(data),
		NumBytes: int64(len(data)),
	}); err != nil {
		t.Fatalf("Stage(%s): %v", path, err)
	}
}

func (s *side) commitOnto(t *testing.T, branch, message string, parents []hash.Hash) hash.Hash {
	t.Helper()
	id, err := s.pipeline.Commit(context.Background(), s.area, s.content, commit.Meta{Message: message, Author: "a", Email: "a@example.com"}, branch, parents)
	if err != nil {
		t.Fatalf("Commit(%s): %v", message, err)
	}
	return id
}

// assertFilesPresent walks dest's tree at tip and confirms every path
// in want is reachable with the given content.
func assertFilesPresent(t *testing.T, dest *side, tip hash.Hash, want map[string][]byte) {
	t.Helper()
	tr := merkle.NewTraverser(dest.pipeline.Objects(), 8)
	c, err := dest.commits.Get(tip)
	if err != nil {
		t.Fatalf("commits.Get(%s): %v", tip, err)
	}
	for path, data := range want {
		n, err := tr.GetFile(c.RootHash, path)
		if err != nil {
			t.Fatalf("GetFile(%s): %v", path, err)
		}
		got, err := dest.server.blobs.Get(n.Hash)
		if err != nil {
			t.Fatalf("blobs.Get for %s: %v", path, err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("content mismatch for %s: got %q want %q", path, got, data)
		}
	}
}

func TestPushThenPullYieldsMatchingHead(t *testing.T) {
	src := newSide(t)
	src.stageFile(t, "a.txt", []byte("hello"))
	src.stageFile(t, "dir/b.csv", []byte("x,y\n1,2\n"))
	tip := src.commitOnto(t, "main", "initial", nil)

	dst := newSide(t)

	ctx := context.Background()
	if err := Push(ctx, src.server, dst.server, "main", tip); err != nil {
		t.Fatalf("Push: %v", err)
	}

	srcCommit, err := src.commits.Get(tip)
	if err != nil {
		t.Fatalf("src commits.Get: %v", err)
	}
	dstTip, err := dst.refs.GetBranch("main")
	if err != nil {
		t.Fatalf("dst GetBranch: %v", err)
	}
	if dstTip != tip {
		t.Fatalf("expected dst main to be at %s, got %s", tip, dstTip)
	}
	dstCommit, err := dst.commits.Get(dstTip)
	if err != nil {
		t.Fatalf("dst commits.Get: %v", err)
	}
	if dstCommit.RootHash != srcCommit.RootHash {
		t.Fatalf("root hash mismatch after push: src %s dst %s", srcCommit.RootHash, dstCommit.RootHash)
	}

	assertFilesPresent(t, dst, dstTip, src.files)

	// A repeated push of the same commit must be a no-op, not an error.
	if err := Push(ctx, src.server, dst.server, "main", tip); err != nil {
		t.Fatalf("repeated Push: %v", err)
	}

	// Pull onto a third, empty repository reproduces the same head.
	clone := newSide(t)
	pulledTip, err := Pull(ctx, dst.server, clone.server, "main")
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if pulledTip != tip {
		t.Fatalf("expected pulled tip %s, got %s", tip, pulledTip)
	}
	assertFilesPresent(t, clone, pulledTip, src.files)
}

func TestPushRejectsNonFastForward(t *testing.T) {
	src := newSide(t)
	src.stageFile(t, "a.txt", []byte("v1"))
	root := src.commitOnto(t, "main", "root", nil)

	dst := newSide(t)
	ctx := context.Background()
	if err := Push(ctx, src.server, dst.server, "main", root); err != nil {
		t.Fatalf("initial Push: %v", err)
	}

	// The remote advances independently, so its tip is no longer an
	// ancestor of what src is about to push.
	dst.stageFile(t, "remote-only.txt", []byte("from dst"))
	remoteTip := dst.commitOnto(t, "main", "remote work", []hash.Hash{root})

	src.stageFile(t, "local-only.txt", []byte("from src"))
	localTip := src.commitOnto(t, "main", "local work", []hash.Hash{root})

	if err := Push(ctx, src.server, dst.server, "main", localTip); err == nil {
		t.Fatal("expected Push to fail advancing a diverged branch")
	}

	tip, err := dst.refs.GetBranch("main")
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	if tip != remoteTip {
		t.Fatalf("expected dst main to remain at %s after rejected push, got %s", remoteTip, tip)
	}
}

func TestListMissingBlobsReportsOnlyAbsentBlobs(t *testing.T) {
	src := newSide(t)
	src.stageFile(t, "a.txt", []byte("shared content"))
	tip := src.commitOnto(t, "main", "root", nil)
	c, err := src.commits.Get(tip)
	if err != nil {
		t.Fatalf("commits.Get: %v", err)
	}

	dir, err := src.pipeline.Objects().GetDir(c.RootHash)
	if err != nil {
		t.Fatalf("GetDir: %v", err)
	}
	if len(dir.VNodes) == 0 {
		t.Fatal("expected at least one vnode bucket")
	}

	dst := newSide(t)
	ctx := context.Background()

	missing, err := dst.server.ListMissingBlobs(ctx, dir.VNodes[0].Hash)
	if err == nil {
		t.Fatal("expected ListMissingBlobs to fail before the vnode itself is pushed")
	}

	if err := Push(ctx, src.server, dst.server, "main", tip); err != nil {
		t.Fatalf("Push: %v", err)
	}
	missing, err = dst.server.ListMissingBlobs(ctx, dir.VNodes[0].Hash)
	if err != nil {
		t.Fatalf("ListMissingBlobs after push: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("expected no missing blobs after a full push, got %v", missing)
	}
}
