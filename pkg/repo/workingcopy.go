package repo

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/merkle"
	"github.com/siltdata/silt/pkg/silterrors"
	"github.com/siltdata/silt/pkg/staging"
)

// Status is the five-way partition spec.md §4.8's status() returns.
type Status struct {
	Added      []string
	Modified   []string
	Removed    []string
	Untracked  []string
	Conflicts  []string // always empty outside of an in-progress Merge
}

// Add stages path: if it names a file, it is hashed and recorded
// Added (absent from HEAD) or Modified (present but changed); if a
// directory, every non-ignored descendant file is added the same way.
// A file whose hash now matches HEAD exactly (e.g. a staged edit
// reverted by hand) has its stale staged entry cleared instead.
func (r *Repository) Add(relPath string) error {
	rules, err := loadIgnoreRules(r.root)
	if err != nil {
		return err
	}
	if rules.Matches(relPath) {
		return nil
	}

	full := r.path(relPath)
	info, err := os.Stat(full)
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", silterrors.ErrIO, relPath, err)
	}

	if !info.IsDir() {
		return r.addFile(relPath, info)
	}

	return filepath.WalkDir(full, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(r.root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rules.Matches(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return r.addFile(rel, info)
	})
}

func (r *Repository) addFile(relPath string, info os.FileInfo) error {
	data, err := os.ReadFile(r.path(relPath))
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", silterrors.ErrIO, relPath, err)
	}
	h := hash.Sum(data)

	tip, err := r.headCommit()
	if err != nil {
		return err
	}

	status := merkle.Added
	if !tip.IsZero() {
		if c, err := r.commits.Get(tip); err == nil {
			if existing, err := r.traverser.GetFile(c.RootHash, relPath); err == nil {
				if existing.Hash == h {
					// Matches HEAD exactly: clear any stale staged entry
					// rather than record a no-op change.
					_ = r.staging.Remove(relPath)
					return nil
				}
				status = merkle.Modified
			}
		}
	}

	entry := staging.Entry{
		Path:       relPath,
		Status:     status,
		Hash:       h,
		NumBytes:   info.Size(),
		ModSeconds: info.ModTime().Unix(),
		ModNanos:   int32(info.ModTime().Nanosecond()),
		DataType:   dataTypeFor(relPath, data),
		MimeType:   mimeTypeFor(relPath, data),
		Extension:  extensionFor(relPath),
	}
	return r.staging.Stage(entry)
}

// Remove stages path as a tombstone, to be removed from the tree on
// the next commit.
func (r *Repository) Remove(path string) error {
	return r.staging.Stage(staging.Entry{Path: path, Status: merkle.Removed})
}

// Restore clears path's staged entry (if any) and rewrites the
// working copy's file from HEAD's content.
func (r *Repository) Restore(relPath string) error {
	if err := r.staging.Restore(relPath); err != nil {
		return err
	}
	tip, err := r.headCommit()
	if err != nil {
		return err
	}
	if tip.IsZero() {
		return fmt.Errorf("%w: no commits yet, nothing to restore %s from", silterrors.ErrNotFound, relPath)
	}
	c, err := r.commits.Get(tip)
	if err != nil {
		return err
	}
	f, err := r.traverser.GetFile(c.RootHash, relPath)
	if err != nil {
		return err
	}
	data, err := r.blobs.Get(f.Hash)
	if err != nil {
		return err
	}
	dest := r.path(relPath)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("%w: %v", silterrors.ErrIO, err)
	}
	return os.WriteFile(dest, data, 0o644)
}

// Status computes the working copy's current status against HEAD: an
// mtime+size fast path distinguishes presumptively-unmodified files
// from candidates that need a re-hash, as spec.md §4.8 requires for
// status to stay incremental over large trees. Paths already staged
// (via Add/Remove) are reported from their recorded staged Status
// directly rather than re-derived.
func (r *Repository) Status() (Status, error) {
	rules, err := loadIgnoreRules(r.root)
	if err != nil {
		return Status{}, err
	}

	staged := r.staging.List()
	stagedByPath := make(map[string]staging.Entry, len(staged))
	var out Status
	for _, e := range staged {
		stagedByPath[e.Path] = e
		switch e.Status {
		case merkle.Added:
			out.Added = append(out.Added, e.Path)
		case merkle.Modified:
			out.Modified = append(out.Modified, e.Path)
		case merkle.Removed:
			out.Removed = append(out.Removed, e.Path)
		}
	}

	tip, err := r.headCommit()
	if err != nil {
		return Status{}, err
	}

	var headRoot hash.Hash
	haveHead := !tip.IsZero()
	if haveHead {
		c, err := r.commits.Get(tip)
		if err != nil {
			return Status{}, err
		}
		headRoot = c.RootHash
	}

	seenOnDisk := map[string]bool{}
	err = filepath.WalkDir(r.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(r.root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if rules.Matches(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		seenOnDisk[rel] = true
		if _, staged := stagedByPath[rel]; staged {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		if !haveHead {
			out.Untracked = append(out.Untracked, rel)
			return nil
		}
		f, err := r.traverser.GetFile(headRoot, rel)
		if err != nil {
			out.Untracked = append(out.Untracked, rel)
			return nil
		}
		if info.Size() == int64(f.NumBytes) &&
			info.ModTime().Unix() == f.LastModifiedSeconds &&
			int32(info.ModTime().Nanosecond()) == f.LastModifiedNanoseconds {
			return nil // fast path: presumptively unmodified
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("%w: reading %s: %v", silterrors.ErrIO, rel, err)
		}
		if hash.Sum(data) == f.Hash {
			return nil // mtime/size drifted but content is identical
		}
		out.Modified = append(out.Modified, rel)
		return nil
	})
	if err != nil {
		return Status{}, err
	}

	if haveHead {
		err = r.traverser.Walk(headRoot, func(e merkle.Entry) error {
			if e.IsDir || seenOnDisk[e.Path] {
				return nil
			}
			if _, staged := stagedByPath[e.Path]; staged {
				return nil
			}
			out.Removed = append(out.Removed, e.Path)
			return nil
		})
		if err != nil {
			return Status{}, err
		}
	}

	return out, nil
}
