package blockmap

import (
	"bufio"
	"io"

	"github.com/pgbackup/corebackup/pkg/coreerrors"
	"github.com/pgbackup/corebackup/pkg/varint"
)

// refState tracks per-reference decoding state: the declared plaintext
// super-block size (fixed at first appearance), and the running
// offset/size/block needed to resolve a later repeat appearance's
// implicit fields.
type refState struct {
	superBlockSize uint64
	bundleID       uint64
	offset         uint64
	size           uint64
	block          uint64
}

// Decode reads one block map from r. blockSize and checksumSize must match
// the values the map was encoded with (they are not self-describing on the
// wire; the caller learns them from the owning manifest entry).
//
// Decode returns a coreerrors FormatError on any structural violation:
// a non-zero version bit, a truncated stream, a zero-length super-block, or
// a block count that does not exactly partition across the declared
// super-blocks of a reference occurrence.
func Decode(r io.Reader, blockSize uint64, checksumSize int) (*Map, error) {
	if blockSize == 0 {
		return nil, coreerrors.NewFormatError("", "blockSize must be positive")
	}
	if checksumSize <= 0 {
		return nil, coreerrors.NewFormatError("", "checksumSize must be positive")
	}

	br := bufio.NewReader(r)

	flagsRaw, err := varint.ReadUvarint(br)
	if err != nil {
		if err == io.EOF {
			return &Map{}, nil
		}
		return nil, err
	}
	if flagsRaw&1 != 0 {
		return nil, coreerrors.NewFormatError("", "version must be zero")
	}
	equal := flagsRaw&2 != 0

	seen := map[uint32]*refState{}
	var items []Item
	globalFirstSuperBlock := true
	var priorGlobalSize uint64
	firstRefGroup := true

	for {
		refRaw, err := varint.ReadUvarint(br)
		if err != nil {
			if err == io.EOF && firstRefGroup {
				return &Map{}, nil
			}
			return nil, wrapEOF(err)
		}
		firstRefGroup = false

		last := refRaw&1 != 0
		flag1 := refRaw&2 != 0
		flag2 := refRaw&4 != 0
		flag3 := refRaw&8 != 0
		refIdx := uint32(refRaw >> 4)

		st, exists := seen[refIdx]
		var offset0 uint64
		var priorBlock uint64

		if !exists {
			var bundleID uint64
			if flag1 {
				if bundleID, err = varint.ReadUvarint(br); err != nil {
					return nil, wrapEOF(err)
				}
			}
			if flag2 {
				if offset0, err = varint.ReadUvarint(br); err != nil {
					return nil, wrapEOF(err)
				}
			}
			var sbSize uint64
			if equal {
				sbSize = blockSize
			} else {
				nominalRaw, err := varint.ReadUvarint(br)
				if err != nil {
					return nil, wrapEOF(err)
				}
				sbSize = (nominalRaw + 1) * blockSize
			}
			st = &refState{superBlockSize: sbSize, bundleID: bundleID, offset: offset0}
			seen[refIdx] = st
		} else {
			continuation := flag1
			if continuation {
				// The continuation form reuses the reference's existing
				// state without emitting any new super-blocks or
				// checksums; it exists so a writer can note that an
				// older reference's byte range ends here without
				// re-listing checksums already recorded at first
				// appearance. This package's own Encode never emits it
				// (see DESIGN.md); decode still accepts it structurally.
				if last {
					break
				}
				continue
			}
			var delta int64
			if flag2 {
				raw, err := varint.ReadUvarint(br)
				if err != nil {
					return nil, wrapEOF(err)
				}
				delta = varint.UnZigZag(raw)
			}
			offset0 = uint64(int64(st.offset+st.size) + delta)
			priorBlock = st.block
		}

		// A block-number gap against the reference's running block cursor is
		// tracked independently of the offset gap: an interleaved reference
		// can advance the global block cursor between two appearances of this
		// one without moving its repository offset at all (or vice versa),
		// and the gap can appear on a reference's very first appearance too
		// if something else occupies the file's leading blocks.
		var blockGap uint64
		if flag3 {
			if blockGap, err = varint.ReadUvarint(br); err != nil {
				return nil, wrapEOF(err)
			}
		}
		startBlockBase := priorBlock + blockGap

		var sizes []uint64
		for {
			se, err := varint.ReadUvarint(br)
			if err != nil {
				return nil, wrapEOF(err)
			}
			lastSB := se&1 != 0
			val := se >> 1
			var size uint64
			if globalFirstSuperBlock {
				size = val
				globalFirstSuperBlock = false
			} else {
				delta := varint.UnZigZag(val)
				size = uint64(int64(priorGlobalSize) + delta)
			}
			if size == 0 {
				return nil, coreerrors.NewFormatError("", "super-block size must be positive")
			}
			priorGlobalSize = size
			sizes = append(sizes, size)
			if lastSB {
				break
			}
		}

		startBlock := startBlockBase
		var blockTotal uint64
		if equal {
			blockTotal = uint64(len(sizes))
		} else {
			btRaw, err := varint.ReadUvarint(br)
			if err != nil {
				return nil, wrapEOF(err)
			}
			blockTotal = btRaw + 1
		}
		if blockTotal == 0 {
			return nil, coreerrors.NewFormatError("", "block total must be positive")
		}

		perSB := st.superBlockSize / blockSize
		if perSB == 0 {
			return nil, coreerrors.NewFormatError("", "declared super-block size smaller than block size")
		}

		remaining := blockTotal
		offsetCursor := offset0
		blockCursor := startBlock
		var lastOffset, lastSize uint64
		for i, sz := range sizes {
			n := perSB
			if i == len(sizes)-1 {
				n = remaining
			}
			if n == 0 || n > remaining {
				return nil, coreerrors.NewFormatError("", "block total does not partition across super-blocks")
			}
			sbPlain := n * blockSize

			pe, err := varint.ReadUvarint(br)
			if err != nil {
				return nil, wrapEOF(err)
			}
			sequential := pe&1 != 0
			physCursor := pe >> 1

			for j := uint64(0); j < n; j++ {
				if j > 0 {
					if sequential {
						physCursor++
					} else {
						raw, err := varint.ReadUvarint(br)
						if err != nil {
							return nil, wrapEOF(err)
						}
						physCursor = uint64(int64(physCursor) + varint.UnZigZag(raw))
					}
				}
				checksum := make([]byte, checksumSize)
				if _, err := io.ReadFull(br, checksum); err != nil {
					return nil, wrapEOF(err)
				}
				items = append(items, Item{
					Reference:      refIdx,
					BundleID:       st.bundleID,
					Offset:         offsetCursor,
					Size:           sz,
					SuperBlockSize: sbPlain,
					Block:          blockCursor,
					PhysicalIndex:  physCursor,
					Checksum:       checksum,
				})
				blockCursor++
			}
			lastOffset, lastSize = offsetCursor, sz
			offsetCursor += sz
			remaining -= n
		}
		if remaining != 0 {
			return nil, coreerrors.NewFormatError("", "block total mismatch across super-blocks")
		}

		st.offset = lastOffset
		st.size = lastSize
		st.block = blockCursor

		if last {
			break
		}
	}

	return &Map{Items: items}, nil
}

func wrapEOF(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return coreerrors.NewFormatError("", "block map truncated")
	}
	return err
}
