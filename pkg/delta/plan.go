// Package delta implements the block delta planner: given a file's block
// map and an optional local delta map, it computes the minimal ordered
// sequence of repository reads needed to reconstruct the file, then drives
// that plan with a resumable pull API.
package delta

import (
	"bytes"
	"sort"

	"github.com/pgbackup/corebackup/pkg/blockmap"
)

// Block is one wanted block within a Plan: its file-wide ordinal, its
// target byte offset in the reconstructed file, its position within its
// own super-block's physical byte stream, and the checksum the planner
// expects to see on decode.
type Block struct {
	BlockNo      uint64
	PhysicalIdx  uint64
	TargetOffset uint64
	Checksum     []byte
}

// SuperBlock is one contiguous packaging unit inside a Read. Blocks holds
// only the subset the plan wants, each carrying its own PhysicalIdx — the
// Executor walks the super-block's physical block stream from its own
// start (index 0) and uses PhysicalIdx, not BlockNo, to recognize and
// discard blocks the plan does not want but that are physically
// interleaved in the stream with the ones it does.
type SuperBlock struct {
	Offset uint64
	Size   uint64
	Blocks []Block
}

// Read is one repository object open: a reference, an optional bundle id,
// and the ordered super-blocks within it the plan will consume.
type Read struct {
	Reference   uint32
	BundleID    uint64
	Offset      uint64
	Size        uint64
	SuperBlocks []SuperBlock
}

// Plan is the ordered list of Read an Executor will drive to reconstruct a
// file.
type Plan struct {
	Reads []Read
}

// Build computes a Plan from bm, skipping blocks whose deltaMap entry
// already matches the block map's checksum. deltaMap may be nil or
// shorter than the file's block count; missing entries are treated as
// needing a read. blockSize is used only to compute each wanted block's
// TargetOffset.
func Build(bm *blockmap.Map, deltaMap [][]byte, blockSize uint64) *Plan {
	byBlock := make(map[uint64]blockmap.Item, len(bm.Items))
	for _, it := range bm.Items {
		byBlock[it.Block] = it
	}

	refMap := make(map[uint32][]uint64)
	for _, it := range bm.Items {
		if uint64(len(deltaMap)) <= it.Block || !bytes.Equal(deltaMap[it.Block], it.Checksum) {
			refMap[it.Reference] = append(refMap[it.Reference], it.Block)
		}
	}

	refs := make([]uint32, 0, len(refMap))
	for r := range refMap {
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] > refs[j] })

	var reads []Read
	for _, ref := range refs {
		blocks := refMap[ref]
		sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

		havePrior := false
		var priorOffset, priorSize uint64

		for _, bno := range blocks {
			item := byBlock[bno]
			contiguous := havePrior && (item.Offset == priorOffset || item.Offset == priorOffset+priorSize)
			newRead := !havePrior || !contiguous
			if newRead {
				reads = append(reads, Read{Reference: ref, BundleID: item.BundleID, Offset: item.Offset})
			}
			ri := len(reads) - 1
			newSuperBlock := newRead || item.Offset != priorOffset
			if newSuperBlock {
				reads[ri].SuperBlocks = append(reads[ri].SuperBlocks, SuperBlock{
					Offset: item.Offset,
					Size:   item.Size,
				})
			}
			si := len(reads[ri].SuperBlocks) - 1
			reads[ri].SuperBlocks[si].Blocks = append(reads[ri].SuperBlocks[si].Blocks, Block{
				BlockNo:      bno,
				PhysicalIdx:  item.PhysicalIndex,
				TargetOffset: bno * blockSize,
				Checksum:     item.Checksum,
			})
			priorOffset, priorSize = item.Offset, item.Size
			havePrior = true
		}
	}

	for i := range reads {
		var total uint64
		for _, sb := range reads[i].SuperBlocks {
			total += sb.Size
		}
		reads[i].Size = total
	}

	return &Plan{Reads: reads}
}
