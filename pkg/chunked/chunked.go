// Package chunked implements the self-delimiting chunk framing used to wrap
// compression/encryption substreams of unknown final length. A chunked
// stream is a sequence of `<uvarint chunkLen><chunkLen bytes>` records
// terminated by a zero-length record. Framing is transparent to callers:
// Reader.Read yields only payload bytes, and Writer.Write only ever
// buffers payload bytes until a chunk boundary is flushed.
package chunked

import (
	"bufio"
	"io"

	"github.com/pgbackup/corebackup/pkg/coreerrors"
	"github.com/pgbackup/corebackup/pkg/varint"
)

// DefaultChunkSize is the chunk length Writer uses when none is configured.
const DefaultChunkSize = 64 * 1024 * 1024

type readerState int

const (
	stateReadingHeader readerState = iota
	stateReadingBody
	stateDone
)

// Reader unwraps a chunked stream, exposing only the concatenated payload
// bytes of every chunk to its caller.
type Reader struct {
	src   *bufio.Reader
	state readerState
	left  int64 // bytes remaining in the chunk currently being read
}

// NewReader wraps r, which must begin at the first chunk header.
func NewReader(r io.Reader) *Reader {
	return &Reader{src: bufio.NewReader(r), state: stateReadingHeader}
}

// Read implements io.Reader. It returns io.EOF once the terminating
// zero-length chunk has been consumed, and a coreerrors FormatError if the
// underlying stream ends mid-chunk.
func (r *Reader) Read(p []byte) (int, error) {
	if r.state == stateDone {
		return 0, io.EOF
	}
	total := 0
	for total < len(p) {
		if r.state == stateReadingHeader {
			n, err := varint.ReadUvarint(r.src)
			if err != nil {
				if err == io.EOF {
					return total, coreerrors.NewFormatError("", "chunked stream ended before terminator")
				}
				return total, err
			}
			if n == 0 {
				r.state = stateDone
				if total > 0 {
					return total, nil
				}
				return 0, io.EOF
			}
			r.left = int64(n)
			r.state = stateReadingBody
		}
		want := len(p) - total
		if int64(want) > r.left {
			want = int(r.left)
		}
		if want == 0 {
			// current chunk fully consumed but caller buffer has room;
			// loop back to read the next header.
			r.state = stateReadingHeader
			continue
		}
		n, err := io.ReadFull(r.src, p[total:total+want])
		total += n
		r.left -= int64(n)
		if err != nil {
			return total, coreerrors.NewFormatError("", "chunked stream truncated mid-chunk")
		}
		if r.left == 0 {
			r.state = stateReadingHeader
		}
	}
	return total, nil
}

// Writer frames payload bytes written to it into chunks of at most Size
// bytes, flushing a chunk whenever the internal buffer reaches Size and
// writing the terminating zero-length chunk on Close.
type Writer struct {
	dst    io.Writer
	size   int
	buf    []byte
	closed bool
}

// NewWriter returns a Writer that frames chunks of size bytes. A size <= 0
// selects DefaultChunkSize.
func NewWriter(w io.Writer, size int) *Writer {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &Writer{dst: w, size: size, buf: make([]byte, 0, size)}
}

// Write implements io.Writer, buffering p and flushing full chunks eagerly.
func (w *Writer) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		room := w.size - len(w.buf)
		n := room
		if n > len(p) {
			n = len(p)
		}
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
		total += n
		if len(w.buf) == w.size {
			if err := w.flushChunk(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (w *Writer) flushChunk() error {
	if len(w.buf) == 0 {
		return nil
	}
	hdr := varint.PutUvarint(nil, uint64(len(w.buf)))
	if _, err := w.dst.Write(hdr); err != nil {
		return err
	}
	if _, err := w.dst.Write(w.buf); err != nil {
		return err
	}
	w.buf = w.buf[:0]
	return nil
}

// Close flushes any buffered partial chunk and writes the terminating
// zero-length chunk. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.flushChunk(); err != nil {
		return err
	}
	_, err := w.dst.Write(varint.PutUvarint(nil, 0))
	return err
}
