package objectdb

import (
	"errors"
	"testing"

	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/silterrors"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestFileNodeEncodeDecodeRoundTrip(t *testing.T) {
	n := FileNode{
		Name:                    "readme.md",
		Hash:                    hash.Sum([]byte("content")),
		NumBytes:                7,
		DataType:                "text",
		MimeType:                "text/markdown",
		Extension:               "md",
		LastModifiedSeconds:     1700000000,
		LastModifiedNanoseconds: 123,
		LastCommitID:            hash.Sum([]byte("commit-1")),
	}
	got, err := DecodeFileNode(EncodeFileNode(n))
	if err != nil {
		t.Fatalf("DecodeFileNode: %v", err)
	}
	if got != n {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, n)
	}
}

func TestVNodeEncodeDecodeRoundTrip(t *testing.T) {
	n := VNode{Entries: []VNodeEntry{
		{Name: "a.txt", Hash: hash.Sum([]byte("a"))},
		{Name: "sub", Hash: hash.Sum([]byte("sub")), IsDir: true},
	}}
	got, err := DecodeVNode(EncodeVNode(n))
	if err != nil {
		t.Fatalf("DecodeVNode: %v", err)
	}
	if len(got.Entries) != len(n.Entries) {
		t.Fatalf("entry count mismatch: got %d, want %d", len(got.Entries), len(n.Entries))
	}
	for i := range n.Entries {
		if got.Entries[i] != n.Entries[i] {
			t.Fatalf("entry %d mismatch: got %+v, want %+v", i, got.Entries[i], n.Entries[i])
		}
	}
}

func TestDirNodeEncodeDecodeRoundTrip(t *testing.T) {
	n := DirNode{
		Name:         "src",
		NumBytes:     4096,
		FileCount:    3,
		DirCount:     1,
		LastCommitID: hash.Sum([]byte("commit-2")),
		VNodes: []VNodeRef{
			{Bucket: 0, Hash: hash.Sum([]byte("v0"))},
			{Bucket: 1, Hash: hash.Sum([]byte("v1"))},
		},
	}
	got, err := DecodeDirNode(EncodeDirNode(n))
	if err != nil {
		t.Fatalf("DecodeDirNode: %v", err)
	}
	if got.Name != n.Name || got.NumBytes != n.NumBytes || got.FileCount != n.FileCount ||
		got.DirCount != n.DirCount || got.LastCommitID != n.LastCommitID || len(got.VNodes) != len(n.VNodes) {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, n)
	}
}

func TestSchemaNodeEncodeDecodeRoundTrip(t *testing.T) {
	n := SchemaNode{Columns: []SchemaColumn{
		{Name: "id", DType: "int64"},
		{Name: "label", DType: "string", Metadata: "nullable"},
	}}
	got, err := DecodeSchemaNode(EncodeSchemaNode(n))
	if err != nil {
		t.Fatalf("DecodeSchemaNode: %v", err)
	}
	if len(got.Columns) != len(n.Columns) {
		t.Fatalf("column count mismatch")
	}
	for i := range n.Columns {
		if got.Columns[i] != n.Columns[i] {
			t.Fatalf("column %d mismatch: got %+v, want %+v", i, got.Columns[i], n.Columns[i])
		}
	}
}

func TestPutNodeIdempotent(t *testing.T) {
	db := openTestDB(t)
	n := FileNode{Name: "a", Hash: hash.Sum([]byte("x"))}
	h := hash.Sum(EncodeFileNode(n))

	if err := db.PutFile(h, n); err != nil {
		t.Fatalf("first PutFile: %v", err)
	}
	if err := db.PutFile(h, n); err != nil {
		t.Fatalf("idempotent second PutFile: %v", err)
	}
	has, err := db.HasFile(h)
	if err != nil || !has {
		t.Fatalf("expected file to be present, has=%v err=%v", has, err)
	}
}

func TestPutNodeCollisionIsFatal(t *testing.T) {
	db := openTestDB(t)
	h := hash.Sum([]byte("shared-key"))

	n1 := FileNode{Name: "a"}
	n2 := FileNode{Name: "b"}

	if err := db.PutFile(h, n1); err != nil {
		t.Fatalf("PutFile n1: %v", err)
	}
	err := db.PutFile(h, n2)
	if !errors.Is(err, silterrors.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity on collision, got %v", err)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetDir(hash.Sum([]byte("nope")))
	if !errors.Is(err, silterrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutDirSharesHashAcrossEqualChildren(t *testing.T) {
	db := openTestDB(t)
	vnodes := []VNodeRef{{Bucket: 3, Hash: hash.Sum([]byte("child"))}}
	h := HashDirContent(vnodes)

	src := DirNode{Name: "src", NumBytes: 10, FileCount: 1, VNodes: vnodes, LastCommitID: hash.Sum([]byte("c1"))}
	lib := DirNode{Name: "lib", NumBytes: 10, FileCount: 1, VNodes: vnodes, LastCommitID: hash.Sum([]byte("c2"))}

	if err := db.PutDir(h, src); err != nil {
		t.Fatalf("PutDir(src): %v", err)
	}
	if err := db.PutDir(h, lib); err != nil {
		t.Fatalf("PutDir(lib) with equal children should not fail: %v", err)
	}

	got, err := db.GetDir(h)
	if err != nil {
		t.Fatalf("GetDir: %v", err)
	}
	if got.Name != "src" {
		t.Fatalf("expected first-write-wins metadata (Name=src), got %q", got.Name)
	}
}

func TestPutDirCollisionWithDifferentChildrenIsFatal(t *testing.T) {
	db := openTestDB(t)
	h := hash.Sum([]byte("forced-collision"))

	a := DirNode{VNodes: []VNodeRef{{Bucket: 0, Hash: hash.Sum([]byte("a"))}}}
	b := DirNode{VNodes: []VNodeRef{{Bucket: 0, Hash: hash.Sum([]byte("b"))}}}

	if err := db.PutDir(h, a); err != nil {
		t.Fatalf("PutDir(a): %v", err)
	}
	if err := db.PutDir(h, b); !errors.Is(err, silterrors.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity for forced key collision with different children, got %v", err)
	}
}

func TestDirHashesSetAndGet(t *testing.T) {
	db := openTestDB(t)
	commit := hash.Sum([]byte("commit-x"))
	paths := map[string]hash.Hash{
		"/":        hash.Sum([]byte("root")),
		"/data":    hash.Sum([]byte("data")),
		"/data/in": hash.Sum([]byte("in")),
	}
	if err := db.SetDirHashes(commit, paths); err != nil {
		t.Fatalf("SetDirHashes: %v", err)
	}
	for p, want := range paths {
		got, err := db.DirHash(commit, p)
		if err != nil {
			t.Fatalf("DirHash(%s): %v", p, err)
		}
		if got != want {
			t.Fatalf("DirHash(%s) = %s, want %s", p, got, want)
		}
	}
	if _, err := db.DirHash(commit, "/missing"); !errors.Is(err, silterrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unrecorded path, got %v", err)
	}
}
