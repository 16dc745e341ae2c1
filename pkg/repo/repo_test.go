package repo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/siltdata/silt/pkg/commit"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	root := t.TempDir()
	r, err := Init(root, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func writeFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestInitRejectsDoubleInit(t *testing.T) {
	root := t.TempDir()
	r, err := Init(root, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer r.Close()

	if _, err := Init(root, nil); err == nil {
		t.Fatal("expected second Init of the same root to fail")
	}
}

func TestAddCommitLogRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	writeFile(t, r.Root(), "a.txt", "hello")
	writeFile(t, r.Root(), "dir/b.csv", "x,y\n1,2\n")

	if err := r.Add("a.txt"); err != nil {
		t.Fatalf("Add a.txt: %v", err)
	}
	if err := r.Add("dir"); err != nil {
		t.Fatalf("Add dir: %v", err)
	}

	status, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(status.Added) != 2 {
		t.Fatalf("expected 2 added entries, got %v", status.Added)
	}

	ctx := context.Background()
	id, err := r.Commit(ctx, commit.Meta{Message: "initial", Author: "a", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if id.IsZero() {
		t.Fatal("expected a non-zero commit id")
	}

	log, err := r.Log(ctx)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(log) != 1 || log[0].ID != id {
		t.Fatalf("expected log of exactly [%s], got %v", id, log)
	}

	after, err := r.Status()
	if err != nil {
		t.Fatalf("Status after commit: %v", err)
	}
	if len(after.Added) != 0 || len(after.Modified) != 0 {
		t.Fatalf("expected a clean status after commit, got %+v", after)
	}
}

func TestStatusDetectsUntrackedAndModified(t *testing.T) {
	r := newTestRepo(t)
	writeFile(t, r.Root(), "a.txt", "v1")
	if err := r.Add("a.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ctx := context.Background()
	if _, err := r.Commit(ctx, commit.Meta{Message: "root", Author: "a", Email: "a@example.com"}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Untracked: a brand new file never added.
	writeFile(t, r.Root(), "untracked.txt", "new")

	// Modified, but not yet staged: edit a.txt directly.
	writeFile(t, r.Root(), "a.txt", "v2-longer-content")

	status, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !containsPath(status.Untracked, "untracked.txt") {
		t.Fatalf("expected untracked.txt in Untracked, got %v", status.Untracked)
	}
	if !containsPath(status.Modified, "a.txt") {
		t.Fatalf("expected a.txt in Modified, got %v", status.Modified)
	}
}

func TestRestoreRevertsWorkingCopy(t *testing.T) {
	r := newTestRepo(t)
	writeFile(t, r.Root(), "a.txt", "original")
	if err := r.Add("a.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ctx := context.Background()
	if _, err := r.Commit(ctx, commit.Meta{Message: "root", Author: "a", Email: "a@example.com"}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	writeFile(t, r.Root(), "a.txt", "clobbered")
	if err := r.Add("a.txt"); err != nil {
		t.Fatalf("Add modified a.txt: %v", err)
	}

	if err := r.Restore("a.txt"); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(r.Root(), "a.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "original" {
		t.Fatalf("expected restored content %q, got %q", "original", data)
	}

	status, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(status.Added) != 0 || len(status.Modified) != 0 {
		t.Fatalf("expected a clean status after restore, got %+v", status)
	}
}

func TestBranchAndCheckout(t *testing.T) {
	r := newTestRepo(t)
	writeFile(t, r.Root(), "a.txt", "on-main")
	if err := r.Add("a.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ctx := context.Background()
	if _, err := r.Commit(ctx, commit.Meta{Message: "root", Author: "a", Email: "a@example.com"}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := r.Branch("feature"); err != nil {
		t.Fatalf("Branch: %v", err)
	}
	if err := r.Checkout("feature"); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	writeFile(t, r.Root(), "b.txt", "on-feature")
	if err := r.Add("b.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := r.Commit(ctx, commit.Meta{Message: "feature work", Author: "a", Email: "a@example.com"}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := r.Checkout("main"); err != nil {
		t.Fatalf("Checkout main: %v", err)
	}
	if _, err := os.Stat(filepath.Join(r.Root(), "b.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected b.txt to be absent back on main, stat err = %v", err)
	}
}

func containsPath(paths []string, want string) bool {
	for _, p := range paths {
		if p == want {
			return true
		}
	}
	return false
}
