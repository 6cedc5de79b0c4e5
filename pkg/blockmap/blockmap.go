// Package blockmap implements the binary encoder/decoder for the
// per-file block index appended to every block-incremental repository
// object. A Map is an ordered list of Item, one per logical block,
// produced by decoding the trailing bytes of a block-incremental file and
// consumed by the delta planner (pkg/delta) and the block-incremental
// writer (pkg/blockwriter).
//
// The wire format packs three kinds of redundancy out of the stream:
// a reference index is declared once and reused by every block that
// shares it, a super-block's plaintext size is declared once per
// reference and reused by every super-block belonging to it (except a
// trailing short one), and a super-block's on-repository size is
// delta-encoded against the previous super-block's size anywhere in
// the map. Two ambiguous structural choices are resolved and documented
// in this module's tests and in DESIGN.md: the global (not per-reference)
// baseline for super-block size deltas, and the decision to never emit
// the continuation form of a repeat reference appearance from this
// package's own Encode.
package blockmap

// Item is one decoded entry of a block map, corresponding to exactly
// one logical block of the file the map describes.
type Item struct {
	// Reference indexes into the owning manifest's reference list;
	// it names which backup in the chain physically stores this block.
	Reference uint32
	// BundleID identifies the bundle file this block's super-block was
	// packed into, when the backing file bundles multiple small files.
	BundleID uint64
	// Offset is the byte offset of this block's super-block within the
	// repository object (or bundle).
	Offset uint64
	// Size is the super-block's total size as stored in the repository
	// (post compression/encryption).
	Size uint64
	// SuperBlockSize is the plaintext size contributed by the
	// super-block this block belongs to.
	SuperBlockSize uint64
	// Block is this block's ordinal position within the logical file.
	Block uint64
	// PhysicalIndex is this block's 0-based position within its own
	// super-block's physical byte stream, counted from that super-block's
	// own first block — independent of Block, which is the reconstructed
	// file's numbering. The two coincide for every freshly-written
	// super-block (its physical layout and the file's layout are the same
	// thing at the moment it is written) but can diverge once a later
	// backup dedups only a non-leading subset of an older super-block's
	// blocks: the matched block's position within its origin super-block's
	// stream is whatever it always was, unrelated to where it happens to
	// land in the new file. Propagated unchanged through dedup chains.
	PhysicalIndex uint64
	// Checksum uniquely identifies the block's plaintext content.
	Checksum []byte
}

// Map is the decoded, ordered sequence of Item for one block-incremental
// file, in file order (increasing Block).
type Map struct {
	Items []Item
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
