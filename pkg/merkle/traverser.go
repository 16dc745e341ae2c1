package merkle

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/objectdb"
	"github.com/siltdata/silt/pkg/silterrors"
)

// ErrNotFound is returned when a path does not exist in a tree.
var ErrNotFound = silterrors.ErrNotFound

// Entry is one resolved (path, file-or-dir) pair returned by Walk/List.
type Entry struct {
	Path  string
	IsDir bool
	Hash  hash.Hash         // content hash of File or Dir, whichever applies
	File  objectdb.FileNode // zero value when IsDir
	Dir   objectdb.DirNode  // zero value when !IsDir
}

// Traverser navigates a tree rooted at a DirNode hash without holding
// the whole tree in memory, loading nodes from the Object DB on
// demand — the same on-demand load discipline as the teacher's
// TreeTraverser, generalized from binary-search-over-KV-pairs to
// walking named children through VNode buckets.
type Traverser struct {
	objects *objectdb.DB
	fanout  uint
}

// NewTraverser constructs a Traverser. fanoutBits must match the
// Builder's.
func NewTraverser(objects *objectdb.DB, fanoutBits uint) *Traverser {
	return &Traverser{objects: objects, fanout: fanoutBits}
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// lookupChild finds a named child of dir, returning its VNodeEntry.
func (t *Traverser) lookupChild(dir objectdb.DirNode, name string) (objectdb.VNodeEntry, bool, error) {
	bucket := BucketIndex(name, t.fanout)
	for _, ref := range dir.VNodes {
		if ref.Bucket != bucket {
			continue
		}
		vn, err := t.objects.GetVNode(ref.Hash)
		if err != nil {
			return objectdb.VNodeEntry{}, false, err
		}
		for _, e := range vn.Entries {
			if e.Name == name {
				return e, true, nil
			}
		}
	}
	return objectdb.VNodeEntry{}, false, nil
}

// GetFile resolves a slash-separated path to its FileNode under root.
func (t *Traverser) GetFile(root hash.Hash, filePath string) (objectdb.FileNode, error) {
	dirPath, name := path.Split(strings.Trim(filePath, "/"))
	dir, err := t.GetDir(root, strings.TrimSuffix(dirPath, "/"))
	if err != nil {
		return objectdb.FileNode{}, err
	}
	entry, ok, err := t.lookupChild(dir, name)
	if err != nil {
		return objectdb.FileNode{}, err
	}
	if !ok || entry.IsDir {
		return objectdb.FileNode{}, fmt.Errorf("%w: %s", ErrNotFound, filePath)
	}
	return t.objects.GetFile(entry.Hash)
}

// GetDir resolves a slash-separated path (empty string for the
// repository root) to its DirNode under root.
func (t *Traverser) GetDir(root hash.Hash, dirPath string) (objectdb.DirNode, error) {
	if root.IsZero() {
		return objectdb.DirNode{}, fmt.Errorf("%w: empty tree", ErrNotFound)
	}
	dir, err := t.objects.GetDir(root)
	if err != nil {
		return objectdb.DirNode{}, err
	}

	for _, name := range splitPath(dirPath) {
		entry, ok, err := t.lookupChild(dir, name)
		if err != nil {
			return objectdb.DirNode{}, err
		}
		if !ok || !entry.IsDir {
			return objectdb.DirNode{}, fmt.Errorf("%w: %s", ErrNotFound, dirPath)
		}
		dir, err = t.objects.GetDir(entry.Hash)
		if err != nil {
			return objectdb.DirNode{}, err
		}
	}
	return dir, nil
}

// List returns dirPath's immediate children, sorted by name.
func (t *Traverser) List(root hash.Hash, dirPath string) ([]Entry, error) {
	dir, err := t.GetDir(root, dirPath)
	if err != nil {
		return nil, err
	}
	return t.listDir(dir, dirPath)
}

func (t *Traverser) listDir(dir objectdb.DirNode, dirPath string) ([]Entry, error) {
	var entries []Entry
	for _, ref := range dir.VNodes {
		vn, err := t.objects.GetVNode(ref.Hash)
		if err != nil {
			return nil, err
		}
		for _, e := range vn.Entries {
			childPath := e.Name
			if dirPath != "" {
				childPath = dirPath + "/" + e.Name
			}
			entry := Entry{Path: childPath, IsDir: e.IsDir, Hash: e.Hash}
			if e.IsDir {
				d, err := t.objects.GetDir(e.Hash)
				if err != nil {
					return nil, err
				}
				entry.Dir = d
			} else {
				f, err := t.objects.GetFile(e.Hash)
				if err != nil {
					return nil, err
				}
				entry.File = f
			}
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Walk visits every file under root in lexicographic path order,
// calling fn for each. Returning an error from fn aborts the walk.
func (t *Traverser) Walk(root hash.Hash, fn func(Entry) error) error {
	if root.IsZero() {
		return nil
	}
	dir, err := t.objects.GetDir(root)
	if err != nil {
		return err
	}
	return t.walkDir(dir, "", fn)
}

// WalkDirs visits every directory under root (including the root
// itself, as path ""), calling fn with its path and content hash —
// the feed for the Commit Pipeline's per-commit dir_hashes index
// (spec.md §4.4, §4.10 step 5).
func (t *Traverser) WalkDirs(root hash.Hash, fn func(path string, h hash.Hash) error) error {
	if root.IsZero() {
		return nil
	}
	dir, err := t.objects.GetDir(root)
	if err != nil {
		return err
	}
	if err := fn("", root); err != nil {
		return err
	}
	return t.walkSubdirs(dir, "", fn)
}

func (t *Traverser) walkSubdirs(dir objectdb.DirNode, dirPath string, fn func(path string, h hash.Hash) error) error {
	entries, err := t.listDir(dir, dirPath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		if err := fn(e.Path, e.Hash); err != nil {
			return err
		}
		if err := t.walkSubdirs(e.Dir, e.Path, fn); err != nil {
			return err
		}
	}
	return nil
}

func (t *Traverser) walkDir(dir objectdb.DirNode, dirPath string, fn func(Entry) error) error {
	entries, err := t.listDir(dir, dirPath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir {
			if err := t.walkDir(e.Dir, e.Path, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}
