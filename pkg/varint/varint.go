// Package varint implements the little-endian base-128 variable-length
// integer encoding used by every on-disk structure in this module (block
// maps, chunked framing). Unsigned values are encoded directly; signed
// values are zig-zag mapped onto the unsigned encoding first.
//
// This is a bespoke wire format, not a reuse of an existing serialization
// library: the format itself is bit-compatible with protobuf's varint, but
// every on-disk structure in this core is otherwise custom, so pulling in
// a protobuf runtime for ten lines of bit-twiddling would add a dependency
// without removing any work.
package varint

import (
	"io"

	"github.com/pgbackup/corebackup/pkg/coreerrors"
)

// MaxLen is the maximum number of bytes a 64-bit varint can occupy.
const MaxLen = 10

// PutUvarint appends the base-128 little-endian encoding of v to buf and
// returns the extended slice. Encoded length is always 1..MaxLen bytes.
func PutUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// PutVarint appends the zig-zag + base-128 encoding of v to buf.
func PutVarint(buf []byte, v int64) []byte {
	return PutUvarint(buf, ZigZag(v))
}

// ZigZag maps a signed integer onto the unsigned domain so that small
// magnitude values (positive or negative) encode to few bytes.
func ZigZag(n int64) uint64 {
	return uint64((n << 1) ^ (n >> 63))
}

// UnZigZag inverts ZigZag.
func UnZigZag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// ReadUvarint decodes a single unsigned varint from r. It returns a
// coreerrors FormatError if the stream ends after at least one byte but
// before a terminating byte (bit 7 clear) is seen, or if the encoding
// exceeds MaxLen bytes. An empty stream returns io.EOF unchanged.
func ReadUvarint(r io.ByteReader) (uint64, error) {
	var result uint64
	var shift uint
	for i := 0; i < MaxLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && i > 0 {
				return 0, coreerrors.NewFormatError("", "varint truncated mid-sequence")
			}
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, coreerrors.NewFormatError("", "varint exceeds maximum length")
}

// ReadVarint decodes a single zig-zag-encoded signed varint from r.
func ReadVarint(r io.ByteReader) (int64, error) {
	u, err := ReadUvarint(r)
	if err != nil {
		return 0, err
	}
	return UnZigZag(u), nil
}

// Len returns the number of bytes PutUvarint would append for v.
func Len(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
