package versionstore

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"

	"github.com/siltdata/silt/pkg/chunker"
)

func newTestStore(t *testing.T, opts Options) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestProperty_WriteReadRoundTrip mirrors the teacher's CAS round-trip
// property: for any bytes, Put followed by Get returns the original
// data, and writing the same data twice returns the same hash.
func TestProperty_WriteReadRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := newTestStoreForRapid(t)

		data := rapid.SliceOf(rapid.Byte()).Draw(t, "data")

		h1, err := s.Put(data)
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := s.Get(h1)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("round-trip mismatch: got %d bytes, want %d", len(got), len(data))
		}

		h2, err := s.Put(data)
		if err != nil {
			t.Fatalf("second Put: %v", err)
		}
		if h1 != h2 {
			t.Fatalf("idempotence failed: %s != %s", h1, h2)
		}
		if !s.Exists(h1) {
			t.Fatal("Exists returned false for written hash")
		}
	})
}

func newTestStoreForRapid(t *rapid.T) *FileStore {
	dir := t.TempDir()
	s, err := NewFileStore(dir, Options{})
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

func TestPutGetCompressed(t *testing.T) {
	s := newTestStore(t, Options{Compress: true})
	data := bytes.Repeat([]byte("hello world "), 200)

	h, err := s.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(h)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("compressed round-trip mismatch")
	}
}

func TestPutLargeBlobChunksAndDedupes(t *testing.T) {
	s := newTestStore(t, Options{
		Chunker:        chunker.NewBuzhashChunker(256, 64, 1024),
		DedupThreshold: 2048,
	})

	common := bytes.Repeat([]byte{0x5a}, 8192)
	a := append(append([]byte(nil), common...), []byte("-suffix-a")...)
	b := append(append([]byte(nil), common...), []byte("-suffix-b-different-length")...)

	ha, err := s.Put(a)
	if err != nil {
		t.Fatalf("Put a: %v", err)
	}
	hb, err := s.Put(b)
	if err != nil {
		t.Fatalf("Put b: %v", err)
	}
	if ha == hb {
		t.Fatal("distinct inputs must not collide")
	}

	gotA, err := s.Get(ha)
	if err != nil {
		t.Fatalf("Get a: %v", err)
	}
	if !bytes.Equal(gotA, a) {
		t.Fatal("chunked round-trip mismatch for a")
	}
	gotB, err := s.Get(hb)
	if err != nil {
		t.Fatalf("Get b: %v", err)
	}
	if !bytes.Equal(gotB, b) {
		t.Fatal("chunked round-trip mismatch for b")
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t, Options{})
	var missing [16]byte
	if _, err := s.Get(missing); err == nil {
		t.Fatal("expected error for missing blob")
	}
}

func TestSmallBlobBypassesChunking(t *testing.T) {
	s := newTestStore(t, Options{
		Chunker:        chunker.DefaultChunker(),
		DedupThreshold: 1 << 20,
	})
	data := []byte("small payload")
	h, err := s.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(h)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("small blob round-trip mismatch")
	}
}
