// Package objectdb implements the Object DB (spec.md §4.4, C4): four
// typed tables over the KV Store (pkg/kv) — files, dirs, vnodes, and
// schemas — each keyed by the content hash of a serialized Merkle
// node, plus the dir_hashes auxiliary table used to answer "what was
// the tree under path P at commit C" without a root-to-leaf walk.
//
// Node encodings follow the teacher's pkg/tree/serialize.go
// convention exactly: a one-byte version/kind tag, then
// encoding/binary big-endian length-prefixed fields, with strict
// trailing-byte validation on decode. No reflection-based codec is
// used, so encoding is byte-identical across peers — the property
// spec.md §4.4 calls out ("field ordering is fixed and versioned by a
// small header byte").
package objectdb

import (
	"encoding/binary"
	"fmt"

	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/silterrors"
)

const (
	fileNodeVersion   byte = 1
	vnodeVersion      byte = 1
	dirNodeVersion    byte = 1
	schemaNodeVersion byte = 1
)

// FileNode is the immutable record spec.md §3 attaches to a tracked
// file's current content at a given path.
type FileNode struct {
	Name                    string
	Hash                    hash.Hash // names the blob body in the Version Store
	NumBytes                uint64
	DataType                string
	MimeType                string
	Extension               string
	LastModifiedSeconds     int64
	LastModifiedNanoseconds int32
	// SchemaHash is non-zero when this file is tabular, referencing a
	// SchemaNode in the schemas table.
	SchemaHash hash.Hash
	// LastCommitID is the commit in which this exact (name, content)
	// last changed, used for blame-style queries.
	LastCommitID hash.Hash
}

// VNodeEntry is one child slot inside a VNode bucket.
type VNodeEntry struct {
	Name  string
	Hash  hash.Hash
	IsDir bool
}

// VNode is a bounded-size bucket of a directory's children, keyed by
// the hash of its sorted entry list (spec.md §3 "VNode").
type VNode struct {
	Entries []VNodeEntry // must be sorted by Name (bytewise) before hashing
}

// DirNode is a Merkle interior node: the ordered list of a
// directory's VNode bucket hashes, plus aggregate metadata.
type DirNode struct {
	Name         string
	NumBytes     uint64 // recursive size of the subtree
	FileCount    uint32 // recursive count of file children
	DirCount     uint32 // recursive count of directory children
	LastCommitID hash.Hash
	// VNodes lists only the occupied buckets, ascending by Bucket, so
	// that a directory with thousands of children but one changed
	// bucket still serializes to a small diff (spec.md §3 "VNode").
	VNodes []VNodeRef
}

// VNodeRef is one occupied VNode bucket slot inside a DirNode.
type VNodeRef struct {
	Bucket uint32
	Hash   hash.Hash
}

// SchemaColumn describes one column of a tabular file.
type SchemaColumn struct {
	Name     string
	DType    string
	Metadata string
}

// SchemaNode is the canonical column description of a tabular file,
// keyed by its own content hash and referenced from FileNode.SchemaHash.
type SchemaNode struct {
	Columns []SchemaColumn
}

func putUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func putUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func putInt64(buf []byte, v int64) []byte {
	return putUint64(buf, uint64(v))
}

func putInt32(buf []byte, v int32) []byte {
	return putUint32(buf, uint32(v))
}

func putString(buf []byte, s string) []byte {
	buf = putUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) remaining() int { return len(d.data) - d.pos }

func (d *decoder) byte() (byte, error) {
	if d.remaining() < 1 {
		return 0, fmt.Errorf("%w: truncated node (byte)", silterrors.ErrIntegrity)
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) uint32() (uint32, error) {
	if d.remaining() < 4 {
		return 0, fmt.Errorf("%w: truncated node (uint32)", silterrors.ErrIntegrity)
	}
	v := binary.BigEndian.Uint32(d.data[d.pos : d.pos+4])
	d.pos += 4
	return v, nil
}

func (d *decoder) uint64() (uint64, error) {
	if d.remaining() < 8 {
		return 0, fmt.Errorf("%w: truncated node (uint64)", silterrors.ErrIntegrity)
	}
	v := binary.BigEndian.Uint64(d.data[d.pos : d.pos+8])
	d.pos += 8
	return v, nil
}

func (d *decoder) int64() (int64, error) {
	v, err := d.uint64()
	return int64(v), err
}

func (d *decoder) int32() (int32, error) {
	v, err := d.uint32()
	return int32(v), err
}

func (d *decoder) string() (string, error) {
	n, err := d.uint32()
	if err != nil {
		return "", err
	}
	if d.remaining() < int(n) {
		return "", fmt.Errorf("%w: truncated node (string body)", silterrors.ErrIntegrity)
	}
	s := string(d.data[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s, nil
}

func (d *decoder) hash() (hash.Hash, error) {
	if d.remaining() < hash.Size {
		return hash.Zero, fmt.Errorf("%w: truncated node (hash)", silterrors.ErrIntegrity)
	}
	var h hash.Hash
	copy(h[:], d.data[d.pos:d.pos+hash.Size])
	d.pos += hash.Size
	return h, nil
}

func (d *decoder) finish() error {
	if d.remaining() != 0 {
		return fmt.Errorf("%w: %d trailing bytes in node", silterrors.ErrIntegrity, d.remaining())
	}
	return nil
}

// EncodeFileNode produces the canonical byte form of n.
func EncodeFileNode(n FileNode) []byte {
	buf := make([]byte, 0, 64+len(n.Name))
	buf = append(buf, fileNodeVersion)
	buf = putString(buf, n.Name)
	buf = append(buf, n.Hash.Bytes()...)
	buf = putUint64(buf, n.NumBytes)
	buf = putString(buf, n.DataType)
	buf = putString(buf, n.MimeType)
	buf = putString(buf, n.Extension)
	buf = putInt64(buf, n.LastModifiedSeconds)
	buf = putInt32(buf, n.LastModifiedNanoseconds)
	buf = append(buf, n.SchemaHash.Bytes()...)
	buf = append(buf, n.LastCommitID.Bytes()...)
	return buf
}

// DecodeFileNode parses the bytes produced by EncodeFileNode.
func DecodeFileNode(data []byte) (FileNode, error) {
	d := decoder{data: data}
	v, err := d.byte()
	if err != nil {
		return FileNode{}, err
	}
	if v != fileNodeVersion {
		return FileNode{}, fmt.Errorf("%w: unsupported file node version %d", silterrors.ErrIntegrity, v)
	}

	var n FileNode
	if n.Name, err = d.string(); err != nil {
		return FileNode{}, err
	}
	if n.Hash, err = d.hash(); err != nil {
		return FileNode{}, err
	}
	if n.NumBytes, err = d.uint64(); err != nil {
		return FileNode{}, err
	}
	if n.DataType, err = d.string(); err != nil {
		return FileNode{}, err
	}
	if n.MimeType, err = d.string(); err != nil {
		return FileNode{}, err
	}
	if n.Extension, err = d.string(); err != nil {
		return FileNode{}, err
	}
	if n.LastModifiedSeconds, err = d.int64(); err != nil {
		return FileNode{}, err
	}
	if n.LastModifiedNanoseconds, err = d.int32(); err != nil {
		return FileNode{}, err
	}
	if n.SchemaHash, err = d.hash(); err != nil {
		return FileNode{}, err
	}
	if n.LastCommitID, err = d.hash(); err != nil {
		return FileNode{}, err
	}
	if err := d.finish(); err != nil {
		return FileNode{}, err
	}
	return n, nil
}

// EncodeVNode produces the canonical byte form of n. Entries must
// already be sorted by Name; EncodeVNode does not sort them, since
// hashing a VNode is only meaningful over a canonical ordering the
// caller (pkg/merkle) is responsible for establishing.
func EncodeVNode(n VNode) []byte {
	buf := make([]byte, 0, 32*len(n.Entries))
	buf = append(buf, vnodeVersion)
	buf = putUint32(buf, uint32(len(n.Entries)))
	for _, e := range n.Entries {
		buf = putString(buf, e.Name)
		buf = append(buf, e.Hash.Bytes()...)
		if e.IsDir {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf
}

// DecodeVNode parses the bytes produced by EncodeVNode.
func DecodeVNode(data []byte) (VNode, error) {
	d := decoder{data: data}
	v, err := d.byte()
	if err != nil {
		return VNode{}, err
	}
	if v != vnodeVersion {
		return VNode{}, fmt.Errorf("%w: unsupported vnode version %d", silterrors.ErrIntegrity, v)
	}
	count, err := d.uint32()
	if err != nil {
		return VNode{}, err
	}
	entries := make([]VNodeEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		var e VNodeEntry
		if e.Name, err = d.string(); err != nil {
			return VNode{}, err
		}
		if e.Hash, err = d.hash(); err != nil {
			return VNode{}, err
		}
		isDir, err := d.byte()
		if err != nil {
			return VNode{}, err
		}
		e.IsDir = isDir != 0
		entries = append(entries, e)
	}
	if err := d.finish(); err != nil {
		return VNode{}, err
	}
	return VNode{Entries: entries}, nil
}

// EncodeDirNode produces the canonical byte form of n.
func EncodeDirNode(n DirNode) []byte {
	buf := make([]byte, 0, 48+len(n.Name)+(hash.Size+4)*len(n.VNodes))
	buf = append(buf, dirNodeVersion)
	buf = putString(buf, n.Name)
	buf = putUint64(buf, n.NumBytes)
	buf = putUint32(buf, n.FileCount)
	buf = putUint32(buf, n.DirCount)
	buf = append(buf, n.LastCommitID.Bytes()...)
	buf = putUint32(buf, uint32(len(n.VNodes)))
	for _, ref := range n.VNodes {
		buf = putUint32(buf, ref.Bucket)
		buf = append(buf, ref.Hash.Bytes()...)
	}
	return buf
}

// DecodeDirNode parses the bytes produced by EncodeDirNode.
func DecodeDirNode(data []byte) (DirNode, error) {
	d := decoder{data: data}
	v, err := d.byte()
	if err != nil {
		return DirNode{}, err
	}
	if v != dirNodeVersion {
		return DirNode{}, fmt.Errorf("%w: unsupported dir node version %d", silterrors.ErrIntegrity, v)
	}

	var n DirNode
	if n.Name, err = d.string(); err != nil {
		return DirNode{}, err
	}
	if n.NumBytes, err = d.uint64(); err != nil {
		return DirNode{}, err
	}
	if n.FileCount, err = d.uint32(); err != nil {
		return DirNode{}, err
	}
	if n.DirCount, err = d.uint32(); err != nil {
		return DirNode{}, err
	}
	if n.LastCommitID, err = d.hash(); err != nil {
		return DirNode{}, err
	}
	count, err := d.uint32()
	if err != nil {
		return DirNode{}, err
	}
	n.VNodes = make([]VNodeRef, 0, count)
	for i := uint32(0); i < count; i++ {
		bucket, err := d.uint32()
		if err != nil {
			return DirNode{}, err
		}
		h, err := d.hash()
		if err != nil {
			return DirNode{}, err
		}
		n.VNodes = append(n.VNodes, VNodeRef{Bucket: bucket, Hash: h})
	}
	if err := d.finish(); err != nil {
		return DirNode{}, err
	}
	return n, nil
}

// EncodeSchemaNode produces the canonical byte form of n.
func EncodeSchemaNode(n SchemaNode) []byte {
	buf := make([]byte, 0, 32*len(n.Columns))
	buf = append(buf, schemaNodeVersion)
	buf = putUint32(buf, uint32(len(n.Columns)))
	for _, c := range n.Columns {
		buf = putString(buf, c.Name)
		buf = putString(buf, c.DType)
		buf = putString(buf, c.Metadata)
	}
	return buf
}

// DecodeSchemaNode parses the bytes produced by EncodeSchemaNode.
func DecodeSchemaNode(data []byte) (SchemaNode, error) {
	d := decoder{data: data}
	v, err := d.byte()
	if err != nil {
		return SchemaNode{}, err
	}
	if v != schemaNodeVersion {
		return SchemaNode{}, fmt.Errorf("%w: unsupported schema node version %d", silterrors.ErrIntegrity, v)
	}
	count, err := d.uint32()
	if err != nil {
		return SchemaNode{}, err
	}
	cols := make([]SchemaColumn, 0, count)
	for i := uint32(0); i < count; i++ {
		var c SchemaColumn
		if c.Name, err = d.string(); err != nil {
			return SchemaNode{}, err
		}
		if c.DType, err = d.string(); err != nil {
			return SchemaNode{}, err
		}
		if c.Metadata, err = d.string(); err != nil {
			return SchemaNode{}, err
		}
		cols = append(cols, c)
	}
	if err := d.finish(); err != nil {
		return SchemaNode{}, err
	}
	return SchemaNode{Columns: cols}, nil
}
