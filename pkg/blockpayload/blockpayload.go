// Package blockpayload frames the plaintext content of one super-block as a
// sequence of size-prefixed blocks: each block is preceded by a varint
// whose bit 0 signals whether an explicit size follows. A block
// that is exactly the configured block size omits the size (the common
// case); the final or singleton block of a super-block, which is often
// shorter, carries it explicitly. Both pkg/delta (reading, during restore
// and verify) and pkg/blockwriter (writing, during backup) frame
// super-block plaintext this way.
package blockpayload

import (
	"bufio"
	"io"

	"github.com/pgbackup/corebackup/pkg/coreerrors"
	"github.com/pgbackup/corebackup/pkg/varint"
)

// WriteBlock writes one framed block to w; callers pass the configured
// block size as blockSize. When len(data) == blockSize the explicit-size
// form is skipped; otherwise len(data) is written as the explicit size.
func WriteBlock(w io.Writer, data []byte, blockSize uint64) error {
	hasSize := uint64(len(data)) != blockSize
	prefix := boolBit(hasSize)
	if _, err := w.Write(varint.PutUvarint(nil, prefix)); err != nil {
		return err
	}
	if hasSize {
		if _, err := w.Write(varint.PutUvarint(nil, uint64(len(data)))); err != nil {
			return err
		}
	}
	_, err := w.Write(data)
	return err
}

// ReadBlock reads one framed block from r. When the stream carries no
// explicit size, exactly blockSize bytes are read. Returns io.EOF only when
// no bytes at all remain (a clean end of the super-block's framed stream);
// any other truncation is a coreerrors FormatError.
func ReadBlock(r *bufio.Reader, blockSize uint64) ([]byte, error) {
	prefix, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	hasSize := prefix&1 != 0
	n := blockSize
	if hasSize {
		n, err = varint.ReadUvarint(r)
		if err != nil {
			return nil, wrapTruncated(err)
		}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, wrapTruncated(err)
	}
	return buf, nil
}

func wrapTruncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return coreerrors.NewFormatError("", "super-block payload truncated mid-block")
	}
	return err
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
