package objectdb

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/kv"
	"github.com/siltdata/silt/pkg/silterrors"
)

// DB is the Object DB of spec.md §4.4: four hash-keyed tables plus the
// dir_hashes auxiliary table, opened as sibling bbolt files under one
// directory.
type DB struct {
	files     *kv.Table
	dirs      *kv.Table
	vnodes    *kv.Table
	schemas   *kv.Table
	dirHashes *kv.Table
}

// Open opens (creating if necessary) all five tables under dir.
func Open(dir string) (*DB, error) {
	files, err := kv.Open(dir, "files")
	if err != nil {
		return nil, err
	}
	dirs, err := kv.Open(dir, "dirs")
	if err != nil {
		return nil, err
	}
	vnodes, err := kv.Open(dir, "vnodes")
	if err != nil {
		return nil, err
	}
	schemas, err := kv.Open(dir, "schemas")
	if err != nil {
		return nil, err
	}
	dirHashes, err := kv.Open(dir, "dir_hashes")
	if err != nil {
		return nil, err
	}
	return &DB{files: files, dirs: dirs, vnodes: vnodes, schemas: schemas, dirHashes: dirHashes}, nil
}

// Close releases all five table handles.
func (db *DB) Close() error {
	return errors.Join(
		db.files.Close(),
		db.dirs.Close(),
		db.vnodes.Close(),
		db.schemas.Close(),
		db.dirHashes.Close(),
	)
}

// putNode is the shared idempotent-insert-or-identical-collision
// primitive behind every kind's PutX (spec.md §4.4 put_node): writing
// the same hash twice with the same bytes is a no-op; writing the same
// hash with different bytes is a fatal integrity violation, since a
// 128-bit collision on non-adversarial input means something upstream
// computed the hash wrong.
func putNode(t *kv.Table, key []byte, encoded []byte) error {
	existing, err := t.Get(key)
	if err == nil {
		if bytes.Equal(existing, encoded) {
			return nil
		}
		return fmt.Errorf("%w: node %x already exists with different bytes", silterrors.ErrIntegrity, key)
	}
	if !errors.Is(err, silterrors.ErrNotFound) {
		return err
	}
	return t.Put(key, encoded)
}

// PutFile inserts a FileNode, keyed by its own content hash.
func (db *DB) PutFile(h hash.Hash, n FileNode) error {
	return putNode(db.files, h.Bytes(), EncodeFileNode(n))
}

// GetFile retrieves a FileNode by hash.
func (db *DB) GetFile(h hash.Hash) (FileNode, error) {
	data, err := db.files.Get(h.Bytes())
	if err != nil {
		return FileNode{}, err
	}
	return DecodeFileNode(data)
}

// HasFile reports whether a FileNode with the given hash is stored.
func (db *DB) HasFile(h hash.Hash) (bool, error) { return db.files.Has(h.Bytes()) }

// PutVNode inserts a VNode, keyed by its own content hash.
func (db *DB) PutVNode(h hash.Hash, n VNode) error {
	return putNode(db.vnodes, h.Bytes(), EncodeVNode(n))
}

// GetVNode retrieves a VNode by hash.
func (db *DB) GetVNode(h hash.Hash) (VNode, error) {
	data, err := db.vnodes.Get(h.Bytes())
	if err != nil {
		return VNode{}, err
	}
	return DecodeVNode(data)
}

// HasVNode reports whether a VNode with the given hash is stored.
func (db *DB) HasVNode(h hash.Hash) (bool, error) { return db.vnodes.Has(h.Bytes()) }

// HashDirContent computes a directory's Merkle identity: the hash of
// its sorted sequence of VNode hashes only (spec.md §3: "The hash is
// computed from the sorted sequence of VNode hashes, making directory
// identity content-defined and stable under reordering"). Name,
// aggregate counts, and last_commit_id are deliberately excluded, so
// that two directories with equal children always share one hash —
// the invariant spec.md §8 calls out explicitly.
func HashDirContent(vnodes []VNodeRef) hash.Hash {
	sorted := append([]VNodeRef(nil), vnodes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Hash.String() < sorted[j].Hash.String() })

	buf := make([]byte, 0, hash.Size*len(sorted))
	for _, ref := range sorted {
		buf = append(buf, ref.Hash.Bytes()...)
	}
	return hash.Sum(buf)
}

// dirContentEqual reports whether a and b have the same child VNode
// hash set, ignoring order and ignoring the purely descriptive
// Name/NumBytes/FileCount/DirCount/LastCommitID fields.
func dirContentEqual(a, b DirNode) bool {
	return HashDirContent(a.VNodes) == HashDirContent(b.VNodes)
}

// PutDir inserts a DirNode, keyed by HashDirContent(n.VNodes) (the
// caller-supplied h must equal that value). Unlike the other kinds'
// Put, a hash collision against an existing DirNode whose children
// hash the same is NOT an integrity violation — it is the expected
// "two directories with equal children share a hash" case — so PutDir
// keeps whichever Name/counts/LastCommitID were recorded first.
func (db *DB) PutDir(h hash.Hash, n DirNode) error {
	existing, err := db.dirs.Get(h.Bytes())
	if err == nil {
		decoded, derr := DecodeDirNode(existing)
		if derr != nil {
			return derr
		}
		if dirContentEqual(decoded, n) {
			return nil
		}
		return fmt.Errorf("%w: dir %x already exists with different children", silterrors.ErrIntegrity, h.Bytes())
	}
	if !errors.Is(err, silterrors.ErrNotFound) {
		return err
	}
	return db.dirs.Put(h.Bytes(), EncodeDirNode(n))
}

// GetDir retrieves a DirNode by hash.
func (db *DB) GetDir(h hash.Hash) (DirNode, error) {
	data, err := db.dirs.Get(h.Bytes())
	if err != nil {
		return DirNode{}, err
	}
	return DecodeDirNode(data)
}

// HasDir reports whether a DirNode with the given hash is stored.
func (db *DB) HasDir(h hash.Hash) (bool, error) { return db.dirs.Has(h.Bytes()) }

// PutSchema inserts a SchemaNode, keyed by its own content hash.
func (db *DB) PutSchema(h hash.Hash, n SchemaNode) error {
	return putNode(db.schemas, h.Bytes(), EncodeSchemaNode(n))
}

// GetSchema retrieves a SchemaNode by hash.
func (db *DB) GetSchema(h hash.Hash) (SchemaNode, error) {
	data, err := db.schemas.Get(h.Bytes())
	if err != nil {
		return SchemaNode{}, err
	}
	return DecodeSchemaNode(data)
}

// HasSchema reports whether a SchemaNode with the given hash is stored.
func (db *DB) HasSchema(h hash.Hash) (bool, error) { return db.schemas.Has(h.Bytes()) }

// SetDirHashes records, for one commit, the full path→dir_hash map
// accelerating "what was the tree under /X at commit C" lookups
// without walking from the root (spec.md §4.4).
func (db *DB) SetDirHashes(commitID hash.Hash, paths map[string]hash.Hash) error {
	keys := make([]string, 0, len(paths))
	for p := range paths {
		keys = append(keys, p)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, 64*len(keys))
	buf = putUint32(buf, uint32(len(keys)))
	for _, p := range keys {
		buf = putString(buf, p)
		buf = append(buf, paths[p].Bytes()...)
	}
	return db.dirHashes.Put(commitID.Bytes(), buf)
}

// DirHash returns the dir hash recorded for path at commitID.
func (db *DB) DirHash(commitID hash.Hash, path string) (hash.Hash, error) {
	data, err := db.dirHashes.Get(commitID.Bytes())
	if err != nil {
		return hash.Zero, err
	}
	d := decoder{data: data}
	count, err := d.uint32()
	if err != nil {
		return hash.Zero, err
	}
	for i := uint32(0); i < count; i++ {
		p, err := d.string()
		if err != nil {
			return hash.Zero, err
		}
		h, err := d.hash()
		if err != nil {
			return hash.Zero, err
		}
		if p == path {
			return h, nil
		}
	}
	return hash.Zero, fmt.Errorf("%w: path %s not recorded for commit %s", silterrors.ErrNotFound, path, commitID)
}
