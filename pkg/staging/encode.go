package staging

import (
	"encoding/binary"
	"fmt"

	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/merkle"
	"github.com/siltdata/silt/pkg/silterrors"
)

const entryVersion byte = 1

func putUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func putInt64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

func putInt32(buf []byte, v int32) []byte {
	return putUint32(buf, uint32(v))
}

func putString(buf []byte, s string) []byte {
	buf = putUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// encodeEntry serializes e following the same one-byte-version +
// length-prefixed-fields convention as pkg/objectdb/pkg/commitlog.
// The Path itself is not encoded; it is the table key.
func encodeEntry(e Entry) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, entryVersion)
	buf = append(buf, byte(e.Status))
	buf = append(buf, e.Hash.Bytes()...)
	buf = putInt64(buf, e.NumBytes)
	buf = putInt64(buf, e.ModSeconds)
	buf = putInt32(buf, e.ModNanos)
	buf = putString(buf, e.DataType)
	buf = putString(buf, e.MimeType)
	buf = putString(buf, e.Extension)
	return buf
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) byte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, fmt.Errorf("%w: truncated staged entry", silterrors.ErrIntegrity)
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) hash() (hash.Hash, error) {
	if d.pos+hash.Size > len(d.data) {
		return hash.Hash{}, fmt.Errorf("%w: truncated staged entry hash", silterrors.ErrIntegrity)
	}
	h := hash.FromBytes(d.data[d.pos : d.pos+hash.Size])
	d.pos += hash.Size
	return h, nil
}

func (d *decoder) uint32() (uint32, error) {
	if d.pos+4 > len(d.data) {
		return 0, fmt.Errorf("%w: truncated staged entry uint32", silterrors.ErrIntegrity)
	}
	v := binary.BigEndian.Uint32(d.data[d.pos : d.pos+4])
	d.pos += 4
	return v, nil
}

func (d *decoder) int32() (int32, error) {
	v, err := d.uint32()
	return int32(v), err
}

func (d *decoder) int64() (int64, error) {
	if d.pos+8 > len(d.data) {
		return 0, fmt.Errorf("%w: truncated staged entry int64", silterrors.ErrIntegrity)
	}
	v := binary.BigEndian.Uint64(d.data[d.pos : d.pos+8])
	d.pos += 8
	return int64(v), nil
}

func (d *decoder) string() (string, error) {
	n, err := d.uint32()
	if err != nil {
		return "", err
	}
	if d.pos+int(n) > len(d.data) {
		return "", fmt.Errorf("%w: truncated staged entry string", silterrors.ErrIntegrity)
	}
	s := string(d.data[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s, nil
}

func (d *decoder) finish() error {
	if d.pos != len(d.data) {
		return fmt.Errorf("%w: trailing bytes in staged entry", silterrors.ErrIntegrity)
	}
	return nil
}

// decodeEntry deserializes a staged entry. path is supplied by the
// caller (the table key) since it is not part of the encoded bytes.
func decodeEntry(data []byte) (Entry, error) {
	d := &decoder{data: data}
	version, err := d.byte()
	if err != nil {
		return Entry{}, err
	}
	if version != entryVersion {
		return Entry{}, fmt.Errorf("%w: unknown staged entry version %d", silterrors.ErrIntegrity, version)
	}
	statusByte, err := d.byte()
	if err != nil {
		return Entry{}, err
	}
	h, err := d.hash()
	if err != nil {
		return Entry{}, err
	}
	numBytes, err := d.int64()
	if err != nil {
		return Entry{}, err
	}
	modSeconds, err := d.int64()
	if err != nil {
		return Entry{}, err
	}
	modNanos, err := d.int32()
	if err != nil {
		return Entry{}, err
	}
	dataType, err := d.string()
	if err != nil {
		return Entry{}, err
	}
	mimeType, err := d.string()
	if err != nil {
		return Entry{}, err
	}
	extension, err := d.string()
	if err != nil {
		return Entry{}, err
	}
	if err := d.finish(); err != nil {
		return Entry{}, err
	}
	return Entry{
		Status:     merkle.ChangeStatus(statusByte),
		Hash:       h,
		NumBytes:   numBytes,
		ModSeconds: modSeconds,
		ModNanos:   modNanos,
		DataType:   dataType,
		MimeType:   mimeType,
		Extension:  extension,
	}, nil
}
