package merkle

import (
	"encoding/binary"

	"github.com/siltdata/silt/pkg/hash"
)

// BucketIndex implements spec.md §4.7's VNode bucket assignment: a
// fixed number of high bits of hash(child_name), with the bit width
// fixed repository-wide (internal/config.VnodeFanoutBits) so that
// every peer partitions a directory's children identically. This
// replaces the teacher's content-defined chunker for fan-out — the
// spec's own redesign point (§9 Open Questions) — while the chunker
// itself is kept and reused for Version Store blob dedup instead
// (pkg/chunker, pkg/versionstore).
func BucketIndex(name string, fanoutBits uint) uint32 {
	if fanoutBits == 0 {
		return 0
	}
	h := hash.Sum([]byte(name))
	top := binary.BigEndian.Uint32(h.Bytes()[:4])
	if fanoutBits >= 32 {
		return top
	}
	return top >> (32 - fanoutBits)
}
