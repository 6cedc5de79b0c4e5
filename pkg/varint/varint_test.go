package varint

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/pgbackup/corebackup/pkg/coreerrors"
)

func TestUvarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 16384, 1 << 32, ^uint64(0)}
	for _, v := range cases {
		buf := PutUvarint(nil, v)
		got, err := ReadUvarint(bufio.NewReader(bytes.NewReader(buf)))
		if err != nil {
			t.Fatalf("ReadUvarint(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip %d -> %d", v, got)
		}
		if len(buf) != Len(v) {
			t.Fatalf("Len(%d) = %d, encoded length %d", v, Len(v), len(buf))
		}
	}
}

func TestVarintRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 63, -64, 1000000, -1000000}
	for _, v := range cases {
		buf := PutVarint(nil, v)
		got, err := ReadVarint(bufio.NewReader(bytes.NewReader(buf)))
		if err != nil {
			t.Fatalf("ReadVarint(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip %d -> %d", v, got)
		}
	}
}

func TestZigZagSmallMagnitudeIsOneByte(t *testing.T) {
	for _, v := range []int64{0, -1, 1, -2, 2} {
		if n := Len(ZigZag(v)); n != 1 {
			t.Fatalf("ZigZag(%d) encoded in %d bytes, want 1", v, n)
		}
	}
}

func TestReadUvarintTruncated(t *testing.T) {
	// A continuation byte with nothing after it.
	buf := []byte{0x80}
	_, err := ReadUvarint(bufio.NewReader(bytes.NewReader(buf)))
	if !coreerrors.IsFormatError(err) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestReadUvarintEmptyStream(t *testing.T) {
	_, err := ReadUvarint(bufio.NewReader(bytes.NewReader(nil)))
	if err == nil {
		t.Fatal("expected error on empty stream")
	}
}

func TestReadUvarintOverlong(t *testing.T) {
	buf := bytes.Repeat([]byte{0x80}, MaxLen+2)
	_, err := ReadUvarint(bufio.NewReader(bytes.NewReader(buf)))
	if !coreerrors.IsFormatError(err) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}
