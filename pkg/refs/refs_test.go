package refs

import (
	"errors"
	"testing"

	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/silterrors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestValidateBranchName_ValidNames(t *testing.T) {
	for _, name := range []string{"main", "feature/add-login", "bugfix-123", "release_v1.0", "a"} {
		if err := ValidateBranchName(name); err != nil {
			t.Errorf("ValidateBranchName(%q) = %v, want nil", name, err)
		}
	}
}

func TestValidateBranchName_InvalidNames(t *testing.T) {
	for _, name := range []string{"", "HEAD", "-starts-with-dash", ".starts-with-dot", "ends-with.lock", "has..dots", "has//slash", "has space"} {
		if err := ValidateBranchName(name); !errors.Is(err, silterrors.ErrInvalid) {
			t.Errorf("ValidateBranchName(%q) = %v, want ErrInvalid", name, err)
		}
	}
}

func TestCreateGetBranchRoundTrip(t *testing.T) {
	s := openTestStore(t)
	commit := hash.Sum([]byte("c1"))

	if err := s.CreateBranch("main", commit); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	got, err := s.GetBranch("main")
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	if got != commit {
		t.Fatalf("got %s, want %s", got, commit)
	}
}

func TestCreateBranchDuplicateFails(t *testing.T) {
	s := openTestStore(t)
	commit := hash.Sum([]byte("c1"))

	if err := s.CreateBranch("main", commit); err != nil {
		t.Fatalf("first CreateBranch: %v", err)
	}
	if err := s.CreateBranch("main", commit); !errors.Is(err, silterrors.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestSetBranchCAS(t *testing.T) {
	s := openTestStore(t)
	c1 := hash.Sum([]byte("c1"))
	c2 := hash.Sum([]byte("c2"))
	c3 := hash.Sum([]byte("c3"))

	if err := s.CreateBranch("main", c1); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := s.SetBranch("main", c2, c1); err != nil {
		t.Fatalf("SetBranch with correct expected: %v", err)
	}
	if err := s.SetBranch("main", c3, c1); !errors.Is(err, silterrors.ErrConflict) {
		t.Fatalf("expected ErrConflict on stale CAS, got %v", err)
	}
	got, err := s.GetBranch("main")
	if err != nil || got != c2 {
		t.Fatalf("branch should remain at c2, got %s err %v", got, err)
	}
}

func TestListBranchesAndDelete(t *testing.T) {
	s := openTestStore(t)
	commit := hash.Sum([]byte("c1"))
	for _, name := range []string{"main", "feature/x", "feature/y"} {
		if err := s.CreateBranch(name, commit); err != nil {
			t.Fatalf("CreateBranch(%s): %v", name, err)
		}
	}

	names, err := s.ListBranches()
	if err != nil {
		t.Fatalf("ListBranches: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("expected 3 branches, got %d: %v", len(names), names)
	}

	if err := s.DeleteBranch("feature/x"); err != nil {
		t.Fatalf("DeleteBranch: %v", err)
	}
	names, err = s.ListBranches()
	if err != nil {
		t.Fatalf("ListBranches after delete: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 branches after delete, got %d: %v", len(names), names)
	}
}

func TestHeadDefaultsToMainAttached(t *testing.T) {
	s := openTestStore(t)
	state, err := s.GetHead()
	if err != nil {
		t.Fatalf("GetHead: %v", err)
	}
	if state.Kind != KindBranch || state.Branch != "main" {
		t.Fatalf("expected default attached HEAD at main, got %+v", state)
	}
}

func TestHeadAttachDetachRoundTrip(t *testing.T) {
	s := openTestStore(t)
	commit := hash.Sum([]byte("c1"))
	if err := s.CreateBranch("main", commit); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}

	if err := s.SetHeadToBranch("main"); err != nil {
		t.Fatalf("SetHeadToBranch: %v", err)
	}
	state, err := s.GetHead()
	if err != nil {
		t.Fatalf("GetHead: %v", err)
	}
	if state.Kind != KindBranch || state.Branch != "main" || state.Commit != commit {
		t.Fatalf("unexpected attached state: %+v", state)
	}

	detachTo := hash.Sum([]byte("c2"))
	if err := s.SetHeadToCommit(detachTo); err != nil {
		t.Fatalf("SetHeadToCommit: %v", err)
	}
	state, err = s.GetHead()
	if err != nil {
		t.Fatalf("GetHead after detach: %v", err)
	}
	if state.Kind != KindDetached || state.Commit != detachTo {
		t.Fatalf("unexpected detached state: %+v", state)
	}
}

func TestSetHeadToBranchRequiresExistingBranch(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetHeadToBranch("nonexistent"); !errors.Is(err, silterrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
