// Package chunker implements content-defined chunking of byte streams
// using a Buzhash rolling hash. It is used by the Version Store
// (pkg/versionstore) to split large blob bodies into content-addressed
// chunks for block-level deduplication — the same rolling-hash
// algorithm the teacher module used to split sorted key/value pairs
// into Prolly-tree leaves, retargeted from KV pairs to raw bytes
// (see original_source/oxen-rust/dedup/src/chunker/oxendedup.rs and
// fixedsize_multithreaded.rs, which this mirrors).
package chunker

// Chunker splits a byte stream into content-defined chunks.
type Chunker interface {
	// Chunk splits data into chunk boundaries. The chunking is
	// deterministic: identical input always yields identical chunks,
	// which is what makes the resulting per-chunk hashes a valid
	// dedup key across versions of a file that share long runs.
	Chunk(data []byte) [][]byte
}

// BuzhashChunker implements content-defined chunking via a rolling
// hash boundary rule bounded by MinSize/MaxSize.
type BuzhashChunker struct {
	// TargetSize is the average chunk size (boundary when hash % targetSize == 0)
	TargetSize uint32
	// MinSize prevents tiny chunks
	MinSize uint32
	// MaxSize prevents huge chunks
	MaxSize uint32
}

// DefaultChunker returns a chunker with sensible defaults for blob
// dedup (4 KiB average, 512 B minimum, 16 KiB maximum chunk size).
func DefaultChunker() *BuzhashChunker {
	return &BuzhashChunker{
		TargetSize: 4096,
		MinSize:    512,
		MaxSize:    16384,
	}
}

// NewBuzhashChunker creates a chunker with explicit size bounds, as
// configured by internal/config.Config's chunk_* fields.
func NewBuzhashChunker(targetSize, minSize, maxSize uint32) *BuzhashChunker {
	return &BuzhashChunker{
		TargetSize: targetSize,
		MinSize:    minSize,
		MaxSize:    maxSize,
	}
}

// Chunk splits data at rolling-hash boundaries.
func (c *BuzhashChunker) Chunk(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}

	hasher := NewBuzhash(c.TargetSize, c.MinSize, c.MaxSize)

	var chunks [][]byte
	start := 0

	for i, b := range data {
		hasher.Roll(b)
		if hasher.IsBoundary() {
			chunks = append(chunks, data[start:i+1])
			start = i + 1
			hasher.Reset()
		}
	}

	if start < len(data) {
		chunks = append(chunks, data[start:])
	}

	return chunks
}
