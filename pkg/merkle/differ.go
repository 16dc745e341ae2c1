package merkle

import (
	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/objectdb"
)

// DiffResult holds the file-level differences between two tree roots,
// reused by the Merger (C11) to build its three-way conflict set and
// by status/diff-style callers.
type DiffResult struct {
	Added    []Entry
	Modified []ModifiedEntry
	Removed  []Entry
}

// ModifiedEntry is a path whose FileNode hash changed between A and B.
type ModifiedEntry struct {
	Path string
	Old  objectdb.FileNode
	New  objectdb.FileNode
}

// Differ computes file-level differences between two DirNode trees.
// It mirrors the teacher's DiffEngine: an identical-hash early exit at
// every level, recursion only into VNode buckets whose hash actually
// differs, and a same-name-bucket-alignment fast path — generalized
// from sorted KV-pair leaves to named file/dir children.
type Differ struct {
	objects *objectdb.DB
	fanout  uint
}

// NewDiffer constructs a Differ. fanoutBits must match the Builder's.
func NewDiffer(objects *objectdb.DB, fanoutBits uint) *Differ {
	return &Differ{objects: objects, fanout: fanoutBits}
}

// Diff returns the file-level changes needed to turn the tree at A
// into the tree at B. Either root may be hash.Zero (an empty tree).
func (d *Differ) Diff(a, b hash.Hash) (DiffResult, error) {
	var result DiffResult
	if a == b {
		return result, nil
	}

	var dirA, dirB objectdb.DirNode
	var hasA, hasB bool
	var err error
	if !a.IsZero() {
		dirA, err = d.objects.GetDir(a)
		if err != nil {
			return result, err
		}
		hasA = true
	}
	if !b.IsZero() {
		dirB, err = d.objects.GetDir(b)
		if err != nil {
			return result, err
		}
		hasB = true
	}

	switch {
	case hasA && hasB:
		err = d.diffDirs(dirA, dirB, "", &result)
	case hasA && !hasB:
		err = d.collectAll(dirA, "", func(e Entry) { result.Removed = append(result.Removed, e) })
	case !hasA && hasB:
		err = d.collectAll(dirB, "", func(e Entry) { result.Added = append(result.Added, e) })
	}
	return result, err
}

// diffDirs compares two directories bucket-by-bucket, skipping any
// bucket whose hash matches and recursing only into ones that don't.
func (d *Differ) diffDirs(a, b objectdb.DirNode, dirPath string, result *DiffResult) error {
	bucketA := map[uint32]hash.Hash{}
	for _, ref := range a.VNodes {
		bucketA[ref.Bucket] = ref.Hash
	}
	bucketB := map[uint32]hash.Hash{}
	for _, ref := range b.VNodes {
		bucketB[ref.Bucket] = ref.Hash
	}

	buckets := map[uint32]bool{}
	for k := range bucketA {
		buckets[k] = true
	}
	for k := range bucketB {
		buckets[k] = true
	}

	for bucket := range buckets {
		ha, inA := bucketA[bucket]
		hb, inB := bucketB[bucket]
		if inA && inB && ha == hb {
			continue
		}

		var entriesA, entriesB []objectdb.VNodeEntry
		if inA {
			vn, err := d.objects.GetVNode(ha)
			if err != nil {
				return err
			}
			entriesA = vn.Entries
		}
		if inB {
			vn, err := d.objects.GetVNode(hb)
			if err != nil {
				return err
			}
			entriesB = vn.Entries
		}
		if err := d.diffEntryLists(entriesA, entriesB, dirPath, result); err != nil {
			return err
		}
	}
	return nil
}

// diffEntryLists compares two (unsorted-relative-to-each-other, but
// each internally unique) child lists by name.
func (d *Differ) diffEntryLists(a, b []objectdb.VNodeEntry, dirPath string, result *DiffResult) error {
	byNameA := map[string]objectdb.VNodeEntry{}
	for _, e := range a {
		byNameA[e.Name] = e
	}
	byNameB := map[string]objectdb.VNodeEntry{}
	for _, e := range b {
		byNameB[e.Name] = e
	}

	for name, ea := range byNameA {
		childPath := joinPath(dirPath, name)
		eb, ok := byNameB[name]
		if !ok {
			if err := d.removeSubtree(ea, childPath, result); err != nil {
				return err
			}
			continue
		}
		if ea.Hash == eb.Hash && ea.IsDir == eb.IsDir {
			continue
		}
		if err := d.diffEntry(ea, eb, childPath, result); err != nil {
			return err
		}
	}
	for name, eb := range byNameB {
		if _, ok := byNameA[name]; ok {
			continue
		}
		childPath := joinPath(dirPath, name)
		if err := d.addSubtree(eb, childPath, result); err != nil {
			return err
		}
	}
	return nil
}

// diffEntry handles one name present on both sides whose entry
// differs: either a leaf/dir type flip, or a same-kind hash change.
func (d *Differ) diffEntry(ea, eb objectdb.VNodeEntry, childPath string, result *DiffResult) error {
	switch {
	case !ea.IsDir && !eb.IsDir:
		oldFile, err := d.objects.GetFile(ea.Hash)
		if err != nil {
			return err
		}
		newFile, err := d.objects.GetFile(eb.Hash)
		if err != nil {
			return err
		}
		result.Modified = append(result.Modified, ModifiedEntry{Path: childPath, Old: oldFile, New: newFile})
		return nil
	case ea.IsDir && eb.IsDir:
		dirA, err := d.objects.GetDir(ea.Hash)
		if err != nil {
			return err
		}
		dirB, err := d.objects.GetDir(eb.Hash)
		if err != nil {
			return err
		}
		return d.diffDirs(dirA, dirB, childPath, result)
	default:
		// A file became a directory (or vice versa) at the same name:
		// treat as a full remove of the old kind and add of the new.
		if err := d.removeSubtree(ea, childPath, result); err != nil {
			return err
		}
		return d.addSubtree(eb, childPath, result)
	}
}

func (d *Differ) addSubtree(e objectdb.VNodeEntry, childPath string, result *DiffResult) error {
	if !e.IsDir {
		f, err := d.objects.GetFile(e.Hash)
		if err != nil {
			return err
		}
		result.Added = append(result.Added, Entry{Path: childPath, File: f})
		return nil
	}
	dir, err := d.objects.GetDir(e.Hash)
	if err != nil {
		return err
	}
	return d.collectAll(dir, childPath, func(entry Entry) { result.Added = append(result.Added, entry) })
}

func (d *Differ) removeSubtree(e objectdb.VNodeEntry, childPath string, result *DiffResult) error {
	if !e.IsDir {
		f, err := d.objects.GetFile(e.Hash)
		if err != nil {
			return err
		}
		result.Removed = append(result.Removed, Entry{Path: childPath, File: f})
		return nil
	}
	dir, err := d.objects.GetDir(e.Hash)
	if err != nil {
		return err
	}
	return d.collectAll(dir, childPath, func(entry Entry) { result.Removed = append(result.Removed, entry) })
}

// collectAll recursively visits every file (not directory) entry
// under dir, invoking visit for each.
func (d *Differ) collectAll(dir objectdb.DirNode, dirPath string, visit func(Entry)) error {
	t := &Traverser{objects: d.objects, fanout: d.fanout}
	entries, err := t.listDir(dir, dirPath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir {
			if err := d.collectAll(e.Dir, e.Path, visit); err != nil {
				return err
			}
			continue
		}
		visit(e)
	}
	return nil
}

func joinPath(dirPath, name string) string {
	if dirPath == "" {
		return name
	}
	return dirPath + "/" + name
}
