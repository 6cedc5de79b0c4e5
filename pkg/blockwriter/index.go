package blockwriter

import (
	"encoding/hex"
	"strconv"

	"github.com/pgbackup/corebackup/pkg/blockmap"
)

// ChecksumIndex answers "has this exact block content already been stored,
// at this same block position, anywhere in the reference chain?" so
// BlockIncrementalWriter can dedup a fresh block against any prior backup,
// not only its immediate parent. The candidate block index is part of the
// lookup key, not just the checksum: a match is only reused when it sits
// at the same block index the new file would place it at, and identical
// content stored under a different block index is not matched.
// physicalIndex identifies the matched block's own position within its
// super-block's byte stream (blockmap.Item.PhysicalIndex) — needed because
// the new file's block index and the super-block's internal physical
// layout diverge the moment a dedup match picks up only part of an older
// super-block, rather than that super-block's leading block.
type ChecksumIndex interface {
	Lookup(block uint64, checksum []byte) (reference uint32, bundleID, offset, size, superBlockSize, physicalIndex uint64, ok bool)
}

// MapIndex is the default ChecksumIndex: it flattens every BlockMapItem
// across a set of reference-chain block maps into a (block, checksum)
// lookup table. Earlier calls to Add win ties, so adding maps in reference
// order, newest first, makes the closest backup in the chain win.
type MapIndex struct {
	byKey map[string]blockmap.Item
}

// NewMapIndex returns an empty MapIndex.
func NewMapIndex() *MapIndex {
	return &MapIndex{byKey: make(map[string]blockmap.Item)}
}

func indexKey(block uint64, checksum []byte) string {
	return strconv.FormatUint(block, 10) + ":" + hex.EncodeToString(checksum)
}

// Add indexes every item of m under its (block, checksum) key, skipping
// keys already present so the first-added map wins.
func (idx *MapIndex) Add(m *blockmap.Map) {
	if m == nil {
		return
	}
	for _, it := range m.Items {
		key := indexKey(it.Block, it.Checksum)
		if _, exists := idx.byKey[key]; exists {
			continue
		}
		idx.byKey[key] = it
	}
}

// Lookup implements ChecksumIndex.
func (idx *MapIndex) Lookup(block uint64, checksum []byte) (reference uint32, bundleID, offset, size, superBlockSize, physicalIndex uint64, ok bool) {
	it, exists := idx.byKey[indexKey(block, checksum)]
	if !exists {
		return 0, 0, 0, 0, 0, 0, false
	}
	return it.Reference, it.BundleID, it.Offset, it.Size, it.SuperBlockSize, it.PhysicalIndex, true
}

var _ ChecksumIndex = (*MapIndex)(nil)
