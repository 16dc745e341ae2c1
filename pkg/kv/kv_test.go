package kv

import (
	"errors"
	"testing"

	"github.com/siltdata/silt/pkg/silterrors"
)

func openTestTable(t *testing.T) *Table {
	t.Helper()
	dir := t.TempDir()
	tbl, err := Open(dir, "things")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func TestPutGetDelete(t *testing.T) {
	tbl := openTestTable(t)

	if err := tbl.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, err := tbl.Get([]byte("a"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "1" {
		t.Fatalf("got %q, want 1", v)
	}

	if err := tbl.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := tbl.Get([]byte("a")); !errors.Is(err, silterrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRangeOrdering(t *testing.T) {
	tbl := openTestTable(t)
	for _, k := range []string{"b", "a", "c"} {
		if err := tbl.Put([]byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}

	var seen []string
	if err := tbl.Range(nil, func(e Entry) bool {
		seen = append(seen, string(e.Key))
		return true
	}); err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if seen[i] != w {
			t.Fatalf("ordering mismatch at %d: got %s want %s", i, seen[i], w)
		}
	}
}

func TestBatchAtomic(t *testing.T) {
	tbl := openTestTable(t)
	err := tbl.Batch(func(w Writer) error {
		if err := w.Put([]byte("x"), []byte("1")); err != nil {
			return err
		}
		return w.Put([]byte("y"), []byte("2"))
	})
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	for _, k := range []string{"x", "y"} {
		if _, err := tbl.Get([]byte(k)); err != nil {
			t.Fatalf("expected %s to be present: %v", k, err)
		}
	}
}

func TestCompareAndSet(t *testing.T) {
	tbl := openTestTable(t)

	if err := tbl.CompareAndSet([]byte("ref"), nil, []byte("v1")); err != nil {
		t.Fatalf("initial CAS: %v", err)
	}
	if err := tbl.CompareAndSet([]byte("ref"), []byte("v1"), []byte("v2")); err != nil {
		t.Fatalf("expected CAS to succeed: %v", err)
	}
	err := tbl.CompareAndSet([]byte("ref"), []byte("v1"), []byte("v3"))
	if !errors.Is(err, silterrors.ErrConflict) {
		t.Fatalf("expected ErrConflict on stale CAS, got %v", err)
	}
}
