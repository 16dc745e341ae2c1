package commitlog

import (
	"encoding/binary"
	"fmt"

	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/silterrors"
)

const commitVersion byte = 1

// encodeCommit serializes a Commit using the same fixed binary
// encoding convention as pkg/objectdb's nodes. The ID itself is not
// encoded — it is the table key and is re-derived by Get.
func encodeCommit(c Commit) []byte {
	buf := make([]byte, 0, 64+len(c.Message)+len(c.Author)+len(c.Email)+len(c.Timestamp))
	buf = append(buf, commitVersion)
	buf = putUint32(buf, uint32(len(c.ParentIDs)))
	for _, p := range c.ParentIDs {
		buf = append(buf, p.Bytes()...)
	}
	buf = putString(buf, c.Message)
	buf = putString(buf, c.Author)
	buf = putString(buf, c.Email)
	buf = putString(buf, c.Timestamp)
	buf = append(buf, c.RootHash.Bytes()...)
	return buf
}

func putUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
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
		return 0, fmt.Errorf("%w: truncated commit (byte)", silterrors.ErrIntegrity)
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) uint32() (uint32, error) {
	if d.remaining() < 4 {
		return 0, fmt.Errorf("%w: truncated commit (uint32)", silterrors.ErrIntegrity)
	}
	v := binary.BigEndian.Uint32(d.data[d.pos : d.pos+4])
	d.pos += 4
	return v, nil
}

func (d *decoder) string() (string, error) {
	n, err := d.uint32()
	if err != nil {
		return "", err
	}
	if d.remaining() < int(n) {
		return "", fmt.Errorf("%w: truncated commit (string body)", silterrors.ErrIntegrity)
	}
	s := string(d.data[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s, nil
}

func (d *decoder) hash() (hash.Hash, error) {
	if d.remaining() < hash.Size {
		return hash.Zero, fmt.Errorf("%w: truncated commit (hash)", silterrors.ErrIntegrity)
	}
	var h hash.Hash
	copy(h[:], d.data[d.pos:d.pos+hash.Size])
	d.pos += hash.Size
	return h, nil
}

func (d *decoder) finish() error {
	if d.remaining() != 0 {
		return fmt.Errorf("%w: %d trailing bytes in commit", silterrors.ErrIntegrity, d.remaining())
	}
	return nil
}

// decodeCommit parses the bytes produced by encodeCommit. The
// returned Commit's ID field is left zero; callers set it from the
// table key.
func decodeCommit(data []byte) (Commit, error) {
	d := decoder{data: data}
	v, err := d.byte()
	if err != nil {
		return Commit{}, err
	}
	if v != commitVersion {
		return Commit{}, fmt.Errorf("%w: unsupported commit version %d", silterrors.ErrIntegrity, v)
	}

	var c Commit
	count, err := d.uint32()
	if err != nil {
		return Commit{}, err
	}
	c.ParentIDs = make([]hash.Hash, 0, count)
	for i := uint32(0); i < count; i++ {
		p, err := d.hash()
		if err != nil {
			return Commit{}, err
		}
		c.ParentIDs = append(c.ParentIDs, p)
	}
	if c.Message, err = d.string(); err != nil {
		return Commit{}, err
	}
	if c.Author, err = d.string(); err != nil {
		return Commit{}, err
	}
	if c.Email, err = d.string(); err != nil {
		return Commit{}, err
	}
	if c.Timestamp, err = d.string(); err != nil {
		return Commit{}, err
	}
	if c.RootHash, err = d.hash(); err != nil {
		return Commit{}, err
	}
	if err := d.finish(); err != nil {
		return Commit{}, err
	}
	return c, nil
}
