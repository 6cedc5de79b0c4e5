// Package blockwriter implements the block-incremental writer: it ingests
// a file's plaintext in block-sized chunks, hashes each block, and either
// points a matched block at wherever it already lives in the reference
// chain (via ChecksumIndex) or buffers it into a new super-block that gets
// compressed, encrypted, and appended to the output object once it reaches
// a target size or the file ends. The trailing BlockMap is encoded and
// appended last, so the on-disk layout is `[payload || map]`.
package blockwriter

import (
	"bytes"
	"crypto/sha1"
	"io"

	"github.com/pgbackup/corebackup/pkg/blockmap"
	"github.com/pgbackup/corebackup/pkg/blockpayload"
	"github.com/pgbackup/corebackup/pkg/chunked"
	"github.com/pgbackup/corebackup/pkg/filter"
)

// DefaultTargetSuperBlockSize is the plaintext accumulator threshold a new
// super-block flushes at when no device- or compression-tuned value is
// configured.
const DefaultTargetSuperBlockSize = 16 * 1024 * 1024

// ChecksumSize is the digest length this core uses for block checksums
// (matches the manifest's checksumSha1 field).
const ChecksumSize = sha1.Size

// Metrics observes dedup decisions made while writing. A nil Metrics is
// valid; WithMetrics is the only thing that should ever set a non-nil one.
// The domain package owns the interface; pkg/metrics owns the Prometheus
// implementation.
type Metrics interface {
	// RecordBlock is called once per block written, reporting whether it
	// was served from the dedup index instead of written fresh.
	RecordBlock(deduped bool)
}

type pendingBlock struct {
	block    uint64
	checksum []byte
}

// BlockIncrementalWriter is an io.WriteCloser: callers Write the file's
// plaintext in any chunking and Close it when done. Close flushes the final
// super-block (if any) and appends the encoded BlockMap.
type BlockIncrementalWriter struct {
	out       io.Writer
	filters   filter.Chain
	index     ChecksumIndex
	blockSize uint64
	target    uint64
	reference uint32
	bundleID  uint64
	chunkSize int

	stepBlocks uint64

	carry   []byte
	blockNo uint64
	plain   bytes.Buffer
	pending []pendingBlock
	written uint64
	items   []blockmap.Item
	closed  bool
	metrics Metrics
}

// Option configures a BlockIncrementalWriter.
type Option func(*BlockIncrementalWriter)

// WithTargetSuperBlockSize overrides DefaultTargetSuperBlockSize.
func WithTargetSuperBlockSize(size uint64) Option {
	return func(w *BlockIncrementalWriter) { w.target = size }
}

// WithFilters sets the compression/encryption chain applied to each
// flushed super-block. Defaults to filter.Identity() when omitted.
func WithFilters(chain filter.Chain) Option {
	return func(w *BlockIncrementalWriter) { w.filters = chain }
}

// WithChecksumIndex sets the dedup index consulted before buffering a new
// block. A nil index (the default) disables dedup: every block is written
// fresh.
func WithChecksumIndex(index ChecksumIndex) Option {
	return func(w *BlockIncrementalWriter) { w.index = index }
}

// WithChunkSize overrides chunked.DefaultChunkSize for the framing layer
// wrapped around each super-block's plaintext.
func WithChunkSize(size int) Option {
	return func(w *BlockIncrementalWriter) { w.chunkSize = size }
}

// WithMetrics wires a Metrics observer. A nil m (the default) disables
// observation with zero overhead.
func WithMetrics(m Metrics) Option {
	return func(w *BlockIncrementalWriter) { w.metrics = m }
}

// New returns a BlockIncrementalWriter that appends its output to out.
// reference and bundleID are the values recorded on every freshly-written
// (non-deduped) BlockMapItem this writer produces.
func New(out io.Writer, blockSize uint64, reference uint32, bundleID uint64, opts ...Option) *BlockIncrementalWriter {
	w := &BlockIncrementalWriter{
		out:       out,
		blockSize: blockSize,
		target:    DefaultTargetSuperBlockSize,
		reference: reference,
		bundleID:  bundleID,
		filters:   filter.Chain{filter.Identity()},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.stepBlocks = w.target / w.blockSize
	if w.stepBlocks == 0 {
		w.stepBlocks = 1
	}
	return w
}

// Write buffers p and emits every full block it completes. It never
// returns a short write for a nil error.
func (w *BlockIncrementalWriter) Write(p []byte) (int, error) {
	w.carry = append(w.carry, p...)
	for uint64(len(w.carry)) >= w.blockSize {
		block := w.carry[:w.blockSize]
		if err := w.addBlock(block); err != nil {
			return 0, err
		}
		w.carry = w.carry[w.blockSize:]
	}
	return len(p), nil
}

func (w *BlockIncrementalWriter) addBlock(data []byte) error {
	sum := sha1.Sum(data)
	checksum := sum[:]

	if w.index != nil {
		if ref, bundleID, offset, size, superBlockSize, physicalIndex, ok := w.index.Lookup(w.blockNo, checksum); ok {
			// A deduped block breaks the contiguous block-number run a
			// buffered super-block requires (blockmap decode assigns
			// consecutive block numbers within one super-block), so any
			// fresh blocks buffered so far must become their own
			// super-block before this item is recorded.
			if err := w.flush(); err != nil {
				return err
			}
			w.items = append(w.items, blockmap.Item{
				Reference:      ref,
				BundleID:       bundleID,
				Offset:         offset,
				Size:           size,
				SuperBlockSize: superBlockSize,
				Block:          w.blockNo,
				PhysicalIndex:  physicalIndex,
				Checksum:       checksum,
			})
			w.blockNo++
			if w.metrics != nil {
				w.metrics.RecordBlock(true)
			}
			return nil
		}
	}

	if err := blockpayload.WriteBlock(&w.plain, data, w.blockSize); err != nil {
		return err
	}
	w.pending = append(w.pending, pendingBlock{block: w.blockNo, checksum: checksum})
	w.blockNo++
	if w.metrics != nil {
		w.metrics.RecordBlock(false)
	}

	if uint64(len(w.pending)) >= w.stepBlocks {
		return w.flush()
	}
	return nil
}

// flush compresses and encrypts the buffered super-block and appends it to
// the output object, recording one BlockMapItem per buffered block.
func (w *BlockIncrementalWriter) flush() error {
	if len(w.pending) == 0 {
		return nil
	}

	var framed bytes.Buffer
	cw := chunked.NewWriter(&framed, w.chunkSize)
	if _, err := cw.Write(w.plain.Bytes()); err != nil {
		return err
	}
	if err := cw.Close(); err != nil {
		return err
	}

	var raw bytes.Buffer
	fw, err := w.filters.WrapWriter(&raw)
	if err != nil {
		return err
	}
	if _, err := fw.Write(framed.Bytes()); err != nil {
		return err
	}
	if err := fw.Close(); err != nil {
		return err
	}

	offset := w.written
	size := uint64(raw.Len())
	// blockmap declares one nominal plaintext super-block size per
	// reference, fixed at that reference's first occurrence and reused to
	// partition block counts across every later super-block of the same
	// reference except each occurrence's own trailing one. Declaring the
	// configured step size here — rather than this
	// particular flush's actual block count — keeps that nominal correct
	// even when dedup or end-of-file cuts an occurrence short before it
	// reaches steady state; a short flush is always an occurrence's last
	// (and often only) super-block, where decode ignores the nominal and
	// uses the actual block total instead.
	superBlockSize := w.stepBlocks * w.blockSize

	if _, err := w.out.Write(raw.Bytes()); err != nil {
		return err
	}
	w.written += size

	for i, pb := range w.pending {
		// A freshly-written super-block's physical layout is this flush's
		// own pending order, so PhysicalIndex is simply its 0-based
		// position here — there is no older generation to inherit it from.
		w.items = append(w.items, blockmap.Item{
			Reference:      w.reference,
			BundleID:       w.bundleID,
			Offset:         offset,
			Size:           size,
			SuperBlockSize: superBlockSize,
			Block:          pb.block,
			PhysicalIndex:  uint64(i),
			Checksum:       pb.checksum,
		})
	}

	w.plain.Reset()
	w.pending = w.pending[:0]
	return nil
}

// Close flushes any partial final block and the pending super-block, then
// appends the encoded BlockMap to out. It does not close out.
func (w *BlockIncrementalWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if len(w.carry) > 0 {
		if err := w.addBlock(w.carry); err != nil {
			return err
		}
		w.carry = nil
	}
	if err := w.flush(); err != nil {
		return err
	}

	m := &blockmap.Map{Items: w.items}
	return blockmap.Encode(m, w.out, w.blockSize, ChecksumSize)
}

// PayloadSize returns the number of bytes of compressed/encrypted
// super-block payload written to out, not counting the trailing encoded
// BlockMap. Only meaningful after Close.
func (w *BlockIncrementalWriter) PayloadSize() uint64 {
	return w.written
}

// Map returns the BlockMap this writer has produced so far. Only
// meaningful after Close; primarily useful for tests and for feeding a
// fresh writer's own output into a ChecksumIndex for a subsequent backup.
func (w *BlockIncrementalWriter) Map() *blockmap.Map {
	return &blockmap.Map{Items: append([]blockmap.Item(nil), w.items...)}
}

var _ io.WriteCloser = (*BlockIncrementalWriter)(nil)
