// Package refs implements the Ref Store (spec.md §4.6, C6): a table
// of branch name → commit id, plus the distinguished HEAD record that
// points either at a branch name (attached) or directly at a commit id
// (detached). It generalizes the teacher's pkg/branch package — whose
// BranchManager/HeadManager split and ValidateBranchName rules are
// kept verbatim in spirit — from one ref file per branch on disk to
// rows in a single kv.Table, so that SetBranch can compare-and-set
// inside one bbolt transaction (spec.md §4.6: "ref updates are atomic
// per key").
package refs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/kv"
	"github.com/siltdata/silt/pkg/silterrors"
)

const (
	branchKeyPrefix = "b/"
	headKey         = "HEAD"
)

// Kind distinguishes HEAD's two states.
type Kind byte

const (
	KindBranch   Kind = 0
	KindDetached Kind = 1
)

// HeadState is the current value of HEAD.
type HeadState struct {
	Kind   Kind
	Branch string    // set iff Kind == KindBranch
	Commit hash.Hash // the resolved commit id either way
}

// Store wraps the refs table.
type Store struct {
	table *kv.Table
}

// Open opens (creating if necessary) the refs table under dir.
func Open(dir string) (*Store, error) {
	t, err := kv.Open(dir, "refs")
	if err != nil {
		return nil, err
	}
	return &Store{table: t}, nil
}

// Close releases the underlying table handle.
func (s *Store) Close() error { return s.table.Close() }

// ValidateBranchName enforces the same rules as the teacher's
// branch.ValidateBranchName: non-empty, not the reserved name HEAD,
// no leading '-'/'.', no trailing ".lock", no ".." or "//", and none
// of the characters Git also forbids in ref names.
func ValidateBranchName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: branch name cannot be empty", silterrors.ErrInvalid)
	}
	if name == "HEAD" {
		return fmt.Errorf("%w: HEAD is a reserved name", silterrors.ErrInvalid)
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: branch name %q may not start with '-' or '.'", silterrors.ErrInvalid, name)
	}
	if strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("%w: branch name %q may not end with .lock", silterrors.ErrInvalid, name)
	}
	if strings.Contains(name, "..") || strings.Contains(name, "//") {
		return fmt.Errorf("%w: branch name %q may not contain '..' or '//'", silterrors.ErrInvalid, name)
	}
	for _, r := range " ~^:?*[\\" {
		if strings.ContainsRune(name, r) {
			return fmt.Errorf("%w: branch name %q contains forbidden character %q", silterrors.ErrInvalid, name, r)
		}
	}
	return nil
}

func branchKey(name string) []byte { return []byte(branchKeyPrefix + name) }

// CreateBranch creates a new branch pointing at commit. Fails if the
// name is invalid or already resolves (spec.md §4.6).
func (s *Store) CreateBranch(name string, commit hash.Hash) error {
	if err := ValidateBranchName(name); err != nil {
		return err
	}
	if err := s.table.CompareAndSet(branchKey(name), nil, commit.Bytes()); err != nil {
		if errors.Is(err, silterrors.ErrConflict) {
			return fmt.Errorf("%w: branch %q already exists", silterrors.ErrAlreadyExists, name)
		}
		return err
	}
	return nil
}

// GetBranch returns the commit a branch currently points to.
func (s *Store) GetBranch(name string) (hash.Hash, error) {
	v, err := s.table.Get(branchKey(name))
	if err != nil {
		if errors.Is(err, silterrors.ErrNotFound) {
			return hash.Zero, fmt.Errorf("%w: branch %q", silterrors.ErrNotFound, name)
		}
		return hash.Zero, err
	}
	return hash.FromBytes(v), nil
}

// BranchExists reports whether name currently resolves.
func (s *Store) BranchExists(name string) (bool, error) { return s.table.Has(branchKey(name)) }

// SetBranch is the CAS primitive of spec.md §4.6/§6.6: it advances
// name from expectedPrevious to commit atomically, failing with
// silterrors.ErrConflict ("ref moved") if the branch's current value
// no longer equals expectedPrevious. Pass hash.Zero as expectedPrevious
// to require the branch not yet exist.
func (s *Store) SetBranch(name string, commit, expectedPrevious hash.Hash) error {
	var expected []byte
	if !expectedPrevious.IsZero() {
		expected = expectedPrevious.Bytes()
	}
	if err := s.table.CompareAndSet(branchKey(name), expected, commit.Bytes()); err != nil {
		if errors.Is(err, silterrors.ErrConflict) {
			return fmt.Errorf("%w: branch %q moved since it was last read", silterrors.ErrConflict, name)
		}
		return err
	}
	return nil
}

// DeleteBranch removes a branch ref.
func (s *Store) DeleteBranch(name string) error {
	exists, err := s.BranchExists(name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: branch %q", silterrors.ErrNotFound, name)
	}
	return s.table.Delete(branchKey(name))
}

// ListBranches returns every branch name currently present.
func (s *Store) ListBranches() ([]string, error) {
	var names []string
	err := s.table.Range([]byte(branchKeyPrefix), func(e kv.Entry) bool {
		names = append(names, strings.TrimPrefix(string(e.Key), branchKeyPrefix))
		return true
	})
	return names, err
}

func encodeHead(s HeadState) []byte {
	buf := []byte{byte(s.Kind)}
	if s.Kind == KindBranch {
		buf = append(buf, []byte(s.Branch)...)
	} else {
		buf = append(buf, s.Commit.Bytes()...)
	}
	return buf
}

func decodeHead(data []byte) (HeadState, error) {
	if len(data) < 1 {
		return HeadState{}, fmt.Errorf("%w: empty HEAD record", silterrors.ErrIntegrity)
	}
	switch Kind(data[0]) {
	case KindBranch:
		return HeadState{Kind: KindBranch, Branch: string(data[1:])}, nil
	case KindDetached:
		if len(data)-1 != hash.Size {
			return HeadState{}, fmt.Errorf("%w: malformed detached HEAD record", silterrors.ErrIntegrity)
		}
		return HeadState{Kind: KindDetached, Commit: hash.FromBytes(data[1:])}, nil
	default:
		return HeadState{}, fmt.Errorf("%w: unknown HEAD kind %d", silterrors.ErrIntegrity, data[0])
	}
}

// GetHead returns HEAD's current state, resolving an attached branch
// to its current commit. If no HEAD record exists yet, it reports an
// attached state pointing at "main" with the zero commit.
func (s *Store) GetHead() (HeadState, error) {
	data, err := s.table.Get([]byte(headKey))
	if err != nil {
		if errors.Is(err, silterrors.ErrNotFound) {
			return HeadState{Kind: KindBranch, Branch: "main"}, nil
		}
		return HeadState{}, err
	}
	state, err := decodeHead(data)
	if err != nil {
		return HeadState{}, err
	}
	if state.Kind == KindBranch {
		commit, err := s.GetBranch(state.Branch)
		if err != nil && !errors.Is(err, silterrors.ErrNotFound) {
			return HeadState{}, err
		}
		state.Commit = commit
	}
	return state, nil
}

// SetHeadToBranch attaches HEAD to an existing branch.
func (s *Store) SetHeadToBranch(name string) error {
	if err := ValidateBranchName(name); err != nil {
		return err
	}
	exists, err := s.BranchExists(name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: branch %q", silterrors.ErrNotFound, name)
	}
	return s.table.Put([]byte(headKey), encodeHead(HeadState{Kind: KindBranch, Branch: name}))
}

// SetHeadToCommit detaches HEAD, pointing it directly at commit.
func (s *Store) SetHeadToCommit(commit hash.Hash) error {
	return s.table.Put([]byte(headKey), encodeHead(HeadState{Kind: KindDetached, Commit: commit}))
}
