// Package hash implements the 128-bit content hashing used to address
// every blob, tree node, schema, and commit in the repository.
package hash

import (
	"encoding/hex"
	"errors"
	"io"

	"lukechampine.com/blake3"
)

// Size is the length, in bytes, of a Hash.
const Size = 16

// Hash is a 128-bit content hash. The string form is lowercase hex.
type Hash [Size]byte

// Zero is the distinguished empty hash, used as the "no prior tree"
// sentinel and as the expected previous tip of a branch that does not
// exist yet. A root commit has an empty parent list, not Zero.
var Zero = Hash{}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Zero }

// String returns the lowercase hex encoding of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of h's underlying bytes.
func (h Hash) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, h[:])
	return b
}

// Parse decodes a lowercase hex string into a Hash.
func Parse(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}
	if len(b) != Size {
		return Hash{}, errors.New("hash: wrong length, want 16 bytes")
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// FromBytes truncates a raw 16+ byte slice into a Hash. Callers that
// already hold a full BLAKE3 digest should prefer Sum/SumReader, which
// perform the hashing themselves; FromBytes exists for composing
// already-hashed child hashes (e.g. directory-of-vnode-hashes).
func FromBytes(b []byte) Hash {
	var h Hash
	n := copy(h[:], b)
	_ = n
	return h
}

// Sum computes the content hash of buf.
//
// BLAKE3 is an extendable-output function; truncating its digest to the
// first 16 bytes is a standard way to obtain a smaller, still
// collision-resistant identifier for non-adversarial corpora, which is
// exactly the trade spec.md's hasher design calls for.
func Sum(buf []byte) Hash {
	full := blake3.Sum256(buf)
	var h Hash
	copy(h[:], full[:Size])
	return h
}

// SumReader streams r through BLAKE3 in fixed-size windows and returns
// the truncated digest. It is equal to Sum(allBytesOf(r)).
func SumReader(r io.Reader) (Hash, error) {
	hasher := blake3.New(Size, nil)
	if _, err := io.Copy(hasher, r); err != nil {
		return Hash{}, err
	}
	var h Hash
	copy(h[:], hasher.Sum(nil))
	return h, nil
}

// Hasher is a streaming, resettable BLAKE3-based hasher truncated to
// Size bytes, usable as an io.Writer for incremental hashing of
// file chunks as they are read.
type Hasher struct {
	inner *blake3.Hasher
}

// NewHasher returns a fresh streaming Hasher.
func NewHasher() *Hasher {
	return &Hasher{inner: blake3.New(Size, nil)}
}

func (h *Hasher) Write(p []byte) (int, error) { return h.inner.Write(p) }

// Sum returns the current digest without finalizing future writes.
func (h *Hasher) Sum() Hash {
	var out Hash
	copy(out[:], h.inner.Sum(nil))
	return out
}

// Reset clears the hasher state for reuse.
func (h *Hasher) Reset() { h.inner.Reset() }
