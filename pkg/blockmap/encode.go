package blockmap

import (
	"io"

	"github.com/pgbackup/corebackup/pkg/coreerrors"
	"github.com/pgbackup/corebackup/pkg/varint"
)

// superBlockGroup is one contiguous run of Item sharing (Reference, Offset);
// it is the unit Encode frames as a single super-block on the wire.
type superBlockGroup struct {
	offset         uint64
	size           uint64
	superBlockSize uint64
	startBlock     uint64
	checksums      [][]byte
	physIndices    []uint64
}

// occurrence is one reference appearance: a run of consecutive Item sharing
// Reference, split into its constituent super-block groups.
type occurrence struct {
	reference   uint32
	bundleID    uint64
	superBlocks []superBlockGroup
}

// Encode writes m to w using blockSize and checksumSize. It is the inverse
// of Decode: decoding the bytes Encode produces, with the same blockSize and
// checksumSize, reproduces m.Items exactly.
//
// Encode never emits the continuation form of a repeat reference appearance
// (see DESIGN.md); every repeat is written as an ordinary offset-gap
// appearance. This means a map written by this package never relies on the
// continuation decode path, though Decode still accepts it for maps
// produced by a hypothetical other writer.
func Encode(m *Map, w io.Writer, blockSize uint64, checksumSize int) error {
	if blockSize == 0 {
		return coreerrors.NewFormatError("", "blockSize must be positive")
	}
	if checksumSize <= 0 {
		return coreerrors.NewFormatError("", "checksumSize must be positive")
	}

	equal := true
	for _, it := range m.Items {
		if len(it.Checksum) != checksumSize {
			return coreerrors.NewFormatError("", "checksum length does not match checksumSize")
		}
		if it.SuperBlockSize != blockSize {
			equal = false
		}
	}

	occs := groupOccurrences(m.Items)

	buf := varint.PutUvarint(nil, boolBit(false)|2*boolBit(equal))
	if _, err := w.Write(buf); err != nil {
		return err
	}

	seen := map[uint32]*refState{}
	globalFirstSuperBlock := true
	var priorGlobalSize uint64

	for idx, occ := range occs {
		last := idx == len(occs)-1
		st, exists := seen[occ.reference]

		// A block-number gap against the reference's running block cursor is
		// signaled independently of everything else below: an interleaved
		// reference can advance the file's global block cursor between two
		// appearances of this one (or before its very first appearance)
		// without that reference's own repository offset moving at all.
		var priorBlock uint64
		if exists {
			priorBlock = st.block
		}
		startBlock := occ.superBlocks[0].startBlock
		blockGap := startBlock - priorBlock
		bit3 := blockGap != 0

		var refRaw uint64
		if !exists {
			bit1 := occ.bundleID != 0
			bit2 := occ.superBlocks[0].offset != 0
			refRaw = (uint64(occ.reference) << 4) | (boolBit(bit3) << 3) | (boolBit(bit2) << 2) | (boolBit(bit1) << 1) | boolBit(last)
			if err := writeUvarint(w, refRaw); err != nil {
				return err
			}
			if bit1 {
				if err := writeUvarint(w, occ.bundleID); err != nil {
					return err
				}
			}
			if bit2 {
				if err := writeUvarint(w, occ.superBlocks[0].offset); err != nil {
					return err
				}
			}
			nominal := occ.superBlocks[0].superBlockSize
			if !equal {
				if nominal < blockSize || nominal%blockSize != 0 {
					return coreerrors.NewFormatError("", "super-block size is not a positive multiple of block size")
				}
				if err := writeUvarint(w, nominal/blockSize-1); err != nil {
					return err
				}
			}
			st = &refState{superBlockSize: nominal, bundleID: occ.bundleID}
			seen[occ.reference] = st
		} else {
			// A repeat appearance's offset is signed-delta-encoded against
			// where the reference's previous occurrence left off: content
			// deduped from deep in the reference chain commonly re-points
			// at an earlier or identical physical position, not only a
			// later one (e.g. two separate, non-contiguous runs of the new
			// file both matching the same old super-block).
			delta := int64(occ.superBlocks[0].offset) - int64(st.offset+st.size)
			bit2 := delta != 0
			refRaw = (uint64(occ.reference) << 4) | (boolBit(bit3) << 3) | (boolBit(bit2) << 2) | boolBit(last)
			if err := writeUvarint(w, refRaw); err != nil {
				return err
			}
			if bit2 {
				if err := writeUvarint(w, varint.ZigZag(delta)); err != nil {
					return err
				}
			}
		}
		if bit3 {
			if err := writeUvarint(w, blockGap); err != nil {
				return err
			}
		}

		for j, sb := range occ.superBlocks {
			lastSB := j == len(occ.superBlocks)-1
			var val uint64
			if globalFirstSuperBlock {
				val = sb.size
				globalFirstSuperBlock = false
			} else {
				delta := int64(sb.size) - int64(priorGlobalSize)
				val = varint.ZigZag(delta)
			}
			priorGlobalSize = sb.size
			se := (val << 1) | boolBit(lastSB)
			if err := writeUvarint(w, se); err != nil {
				return err
			}
		}

		var blockTotal uint64
		for _, sb := range occ.superBlocks {
			blockTotal += uint64(len(sb.checksums))
		}
		if !equal {
			if err := writeUvarint(w, blockTotal-1); err != nil {
				return err
			}
		}

		for _, sb := range occ.superBlocks {
			// A super-block's checksums declare their physical position
			// within that super-block's own byte stream, independent of
			// Block: the overwhelmingly common case (a freshly-written
			// super-block, or a dedup hit against a whole contiguous run
			// of an older one) is a simple ascending sequence, so only its
			// starting value is written when that holds. A dedup match
			// against a non-contiguous subset of an older super-block's
			// blocks falls back to an explicit delta-encoded list. This is
			// written immediately before its super-block's checksums, once
			// the exact block count is known on both ends, rather than
			// alongside the size descriptor above (which is read before
			// the block total that count depends on).
			sequential := true
			for k := 1; k < len(sb.physIndices); k++ {
				if sb.physIndices[k] != sb.physIndices[k-1]+1 {
					sequential = false
					break
				}
			}
			physStart := uint64(0)
			if len(sb.physIndices) > 0 {
				physStart = sb.physIndices[0]
			}
			pe := (physStart << 1) | boolBit(sequential)
			if err := writeUvarint(w, pe); err != nil {
				return err
			}
			prior := physStart
			for k, c := range sb.checksums {
				if k > 0 && !sequential {
					delta := int64(sb.physIndices[k]) - int64(prior)
					if err := writeUvarint(w, varint.ZigZag(delta)); err != nil {
						return err
					}
					prior = sb.physIndices[k]
				}
				if _, err := w.Write(c); err != nil {
					return err
				}
			}
		}

		lastSB := occ.superBlocks[len(occ.superBlocks)-1]
		st.offset = lastSB.offset
		st.size = lastSB.size
		st.block = lastSB.startBlock + uint64(len(lastSB.checksums))
	}

	return nil
}

func writeUvarint(w io.Writer, v uint64) error {
	_, err := w.Write(varint.PutUvarint(nil, v))
	return err
}

func groupOccurrences(items []Item) []occurrence {
	var occs []occurrence
	i, n := 0, len(items)
	for i < n {
		ref := items[i].Reference
		bundleID := items[i].BundleID
		var sbs []superBlockGroup
		for i < n && items[i].Reference == ref {
			off := items[i].Offset
			start := i
			for i < n && items[i].Reference == ref && items[i].Offset == off {
				i++
			}
			group := items[start:i]
			checks := make([][]byte, len(group))
			physIdx := make([]uint64, len(group))
			for k, it := range group {
				checks[k] = it.Checksum
				physIdx[k] = it.PhysicalIndex
			}
			sbs = append(sbs, superBlockGroup{
				offset:         off,
				size:           group[0].Size,
				superBlockSize: group[0].SuperBlockSize,
				startBlock:     group[0].Block,
				checksums:      checks,
				physIndices:    physIdx,
			})
		}
		occs = append(occs, occurrence{reference: ref, bundleID: bundleID, superBlocks: sbs})
	}
	return occs
}
