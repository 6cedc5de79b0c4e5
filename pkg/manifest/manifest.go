// Package manifest implements the backup manifest model: the keyed,
// sorted-section text format a backup's own metadata is stored in, the
// file/path/link/target/db sections it is made of, and the reference-chain
// bookkeeping the block map and the verify engine both depend on. The
// copy-policy load fallback (pkg/manifest's store.go) follows the same
// primary-then-copy shape used for info files.
package manifest

import (
	"sort"
	"time"

	"github.com/pgbackup/corebackup/pkg/repo"
)

// BackupType is one of the three backup kinds a manifest's data section
// names.
type BackupType string

const (
	TypeFull BackupType = "full"
	TypeDiff BackupType = "diff"
	TypeIncr BackupType = "incr"
)

// TargetType distinguishes a cluster mount point that is a plain directory
// from one that is a symlink (a tablespace redirected elsewhere).
type TargetType string

const (
	TargetPath TargetType = "path"
	TargetLink TargetType = "link"
)

// Data is the manifest's "data" section: start/stop WAL and LSN, the prior
// backup this one is based on (empty for a full backup), backup type,
// cluster identity, and the block-incremental/bundle flags.
type Data struct {
	StartWAL        string
	StopWAL         string
	StartLSN        string
	StopLSN         string
	PriorLabel      string // empty ⇒ this is a full backup
	Type            BackupType
	ClusterID       string
	ClusterVersion  string
	ClusterSystemID uint64
	BlockIncr       bool
	Bundle          bool
}

// Target is a named mount point of the cluster: the base directory or a
// tablespace.
type Target struct {
	Name          string
	Type          TargetType
	Path          string
	TablespaceID  *uint64
}

// PathEntry is a plain directory recorded in the manifest for ownership/mode
// restoration.
type PathEntry struct {
	Path  string
	User  string
	Group string
	Mode  uint32
}

// LinkEntry is a symlink recorded in the manifest.
type LinkEntry struct {
	Path        string
	User        string
	Group       string
	Mode        uint32
	Destination string
}

// FileEntry is one file-system entry tracked by the manifest. Reference is the
// empty string when the file's bytes are physically stored by this backup;
// otherwise it names the prior backup label that stores them. BundleID is
// nil unless the file is bundled with others into one repository object.
type FileEntry struct {
	Path             string
	User             string
	Group            string
	Mode             uint32
	Size             uint64
	MTime            time.Time
	Reference        string
	BundleID         *uint64
	BundleOffset     uint64
	SizeRepo         uint64
	ChecksumSha1     string
	ChecksumRepoSha1 string

	// CompressExt is the compression filter applied to this file's stored
	// object, repo.ExtNone if it was stored uncompressed. It is part of the
	// repository path (see repo.BackupFilePath) and must be known to read
	// the object back.
	CompressExt repo.CompressExt

	// BlockIncrMapSize is 0 iff the file is not block-incremental; otherwise
	// it is the trailing block-map's byte length.
	BlockIncrMapSize      uint64
	BlockIncrSize         uint64
	BlockIncrChecksumSize uint64
}

// IsBlockIncremental reports whether this file's repository object carries
// a trailing block map (BlockIncrMapSize is 0 iff it does not).
func (f FileEntry) IsBlockIncremental() bool {
	return f.BlockIncrMapSize != 0
}

// IsBundled reports whether this file shares a repository object with
// others.
func (f FileEntry) IsBundled() bool {
	return f.BundleID != nil
}

// DBEntry is one row of the manifest's db list: a Postgres database oid,
// its name, and the highest system (template) oid at backup time.
type DBEntry struct {
	OID           uint64
	Name          string
	LastSystemOID uint64
}

// Manifest is one backup's full metadata: the label it was stored under,
// its six logical sections (data, targets, paths, links, files, db), and
// the reference list that a block-incremental file's block map indexes into.
type Manifest struct {
	Label   string
	Data    Data
	Targets []Target
	Paths   []PathEntry
	Links   []LinkEntry
	Files   []FileEntry
	DB      []DBEntry

	// References is the ordered list of distinct, non-empty FileEntry.
	// Reference values: backup labels this manifest's files directly defer
	// to. A block map's BlockMapItem.Reference is an index into this slice.
	// Order matters — it is fixed at manifest build time and must not be
	// resorted on load, since existing block maps already encode positions
	// into it.
	References []string
}

// New returns an empty Manifest for the given label with a References list
// rebuilt from files once populated via AddFile.
func New(label string) *Manifest {
	return &Manifest{Label: label}
}

// AddFile appends f to the manifest, registering its Reference (if
// non-empty and not already present) at the end of References.
func (m *Manifest) AddFile(f FileEntry) {
	if f.Reference != "" {
		m.addReference(f.Reference)
	}
	m.Files = append(m.Files, f)
}

func (m *Manifest) addReference(label string) {
	for _, r := range m.References {
		if r == label {
			return
		}
	}
	m.References = append(m.References, label)
}

// ReferenceIndex returns label's position in References, for encoding a
// block map item's Reference field.
func (m *Manifest) ReferenceIndex(label string) (uint32, bool) {
	for i, r := range m.References {
		if r == label {
			return uint32(i), true
		}
	}
	return 0, false
}

// ReferenceByIndex is the inverse of ReferenceIndex, used while decoding a
// block map.
func (m *Manifest) ReferenceByIndex(idx uint32) (string, bool) {
	if int(idx) >= len(m.References) {
		return "", false
	}
	return m.References[idx], true
}

// FileByPath returns the file entry at the given target path.
func (m *Manifest) FileByPath(path string) (*FileEntry, bool) {
	for i := range m.Files {
		if m.Files[i].Path == path {
			return &m.Files[i], true
		}
	}
	return nil, false
}

// ReferenceList returns the sorted set of prior backup labels this
// manifest's files directly reference. Unlike the order-sensitive
// References slice used for block-map indexing, this is a plain
// deduplicated, sorted view for callers that only need set membership.
func (m *Manifest) ReferenceList() []string {
	out := append([]string(nil), m.References...)
	sort.Strings(out)
	return out
}
