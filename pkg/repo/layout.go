package repo

import (
	"fmt"
	"path"
)

// CompressExt enumerates the recognized compression extensions a stored
// object may carry. An empty string means uncompressed.
type CompressExt string

const (
	ExtNone CompressExt = ""
	ExtGzip CompressExt = ".gz"
	ExtBzip CompressExt = ".bz2"
	ExtLZ4  CompressExt = ".lz4"
	ExtZstd CompressExt = ".zst"
)

// ArchiveInfoPath returns the path of the primary archive.info file.
func ArchiveInfoPath() string {
	return "archive/archive.info"
}

// ArchiveInfoCopyPath returns the path of archive.info's copy.
func ArchiveInfoCopyPath() string {
	return ArchiveInfoPath() + ".copy"
}

// BackupInfoPath returns the path of the primary backup.info file.
func BackupInfoPath() string {
	return "backup/backup.info"
}

// BackupInfoCopyPath returns the path of backup.info's copy.
func BackupInfoCopyPath() string {
	return BackupInfoPath() + ".copy"
}

// ManifestPath returns the path of a backup's primary manifest.
func ManifestPath(label string) string {
	return path.Join("backup", label, "backup.manifest")
}

// ManifestCopyPath returns the path of a backup's manifest copy.
func ManifestCopyPath(label string) string {
	return ManifestPath(label) + ".copy"
}

// TimelineDir returns the first 16 hex digits of a 24-hex-digit WAL segment
// name, the directory a WAL file for that segment lives under.
func TimelineDir(walSegment string) (string, error) {
	if len(walSegment) < 16 {
		return "", fmt.Errorf("wal segment %q shorter than timeline prefix", walSegment)
	}
	return walSegment[:16], nil
}

// WALFilePath returns the repository path of a WAL file, given the
// cluster version-id directory name (e.g. "13-1"), the segment name, its
// content sha1 (40 hex digits), and an optional compression extension.
func WALFilePath(versionID, walSegment, sha1Hex string, ext CompressExt) (string, error) {
	timeline, err := TimelineDir(walSegment)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s%s", walSegment, sha1Hex, ext)
	return path.Join("archive", versionID, timeline, name), nil
}

// BackupFilePath returns the repository path of a manifest file entry,
// optionally qualified with a bundle id and a compression extension.
func BackupFilePath(label, filePath string, bundleID *uint64, ext CompressExt) string {
	p := path.Join("backup", label, filePath)
	if bundleID != nil {
		p = fmt.Sprintf("%s.%d", p, *bundleID)
	}
	if ext != ExtNone {
		p += string(ext)
	}
	return p
}
