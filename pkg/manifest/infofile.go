package manifest

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"gopkg.in/ini.v1"

	"github.com/pgbackup/corebackup/internal/logger"
	"github.com/pgbackup/corebackup/pkg/coreerrors"
	"github.com/pgbackup/corebackup/pkg/repo"
)

// InfoFormat is the fixed format version every archive.info/backup.info
// file must declare.
const InfoFormat = 5

// HistoryEntry is one row of an info file's cluster history: a PostgreSQL
// instance identity the repository has seen, keyed by an incrementing id.
type HistoryEntry struct {
	ID             uint32
	Version        string
	SystemID       uint64
	CatalogVersion uint32
}

// ArchiveInfo is the decoded contents of archive.info: the WAL repository's
// format version, cipher passphrase (if encrypted), and cluster history.
type ArchiveInfo struct {
	Format     int
	CipherPass string
	History    []HistoryEntry
}

// BackupInfo is the decoded contents of backup.info: the backup
// repository's format version, cipher passphrase, cluster history, and the
// labels of backups currently considered part of the repository (as
// opposed to ones still being written or already expired).
type BackupInfo struct {
	Format         int
	CipherPass     string
	History        []HistoryEntry
	CurrentBackups []string
}

// SameHistory reports whether a and b list identical cluster history rows,
// the cross-check verify Stage A performs between archive.info and
// backup.info.
func SameHistory(a, b []HistoryEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func encodeHistory(file *ini.File, history []HistoryEntry) error {
	for _, h := range history {
		sec, err := file.NewSection("db:" + strconv.FormatUint(uint64(h.ID), 10))
		if err != nil {
			return coreerrors.NewFormatError("", err.Error())
		}
		setKeys(sec, map[string]string{
			"version":         h.Version,
			"system-id":       strconv.FormatUint(h.SystemID, 10),
			"catalog-version": strconv.FormatUint(uint64(h.CatalogVersion), 10),
		})
	}
	return nil
}

func decodeHistory(file *ini.File) ([]HistoryEntry, error) {
	var out []HistoryEntry
	for _, sec := range file.Sections() {
		idStr, ok := cutPrefix(sec.Name(), "db:")
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			return nil, coreerrors.NewFormatError(sec.Name(), "invalid history id")
		}
		systemID, err := parseUint(sec.Key("system-id").String())
		if err != nil {
			return nil, coreerrors.NewFormatError(sec.Name(), "invalid system-id")
		}
		catalogVersion, err := strconv.ParseUint(sec.Key("catalog-version").String(), 10, 32)
		if err != nil {
			return nil, coreerrors.NewFormatError(sec.Name(), "invalid catalog-version")
		}
		out = append(out, HistoryEntry{
			ID:             uint32(id),
			Version:        sec.Key("version").String(),
			SystemID:       systemID,
			CatalogVersion: uint32(catalogVersion),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func backrestChecksum(file *ini.File) (string, error) {
	sections := map[string]map[string]string{}
	for _, sec := range file.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		kv := map[string]string{}
		for _, k := range sec.Keys() {
			if sec.Name() == "backrest" && k.Name() == "backrest-checksum" {
				continue
			}
			kv[k.Name()] = k.String()
		}
		sections[sec.Name()] = kv
	}
	b, err := json.Marshal(sections)
	if err != nil {
		return "", coreerrors.NewFormatError("", fmt.Sprintf("canonical serialization failed: %v", err))
	}
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:]), nil
}

// EncodeArchiveInfo writes info in the [backrest]/[cipher]/[db:*] format
// fixed for archive.info.
func EncodeArchiveInfo(info *ArchiveInfo, w io.Writer) error {
	file := ini.Empty()
	backrest, err := file.NewSection("backrest")
	if err != nil {
		return coreerrors.NewFormatError("", err.Error())
	}
	backrest.NewKey("backrest-format", strconv.Itoa(InfoFormat))
	if info.CipherPass != "" {
		cipher, err := file.NewSection("cipher")
		if err != nil {
			return coreerrors.NewFormatError("", err.Error())
		}
		cipher.NewKey("cipher-pass", info.CipherPass)
	}
	if err := encodeHistory(file, info.History); err != nil {
		return err
	}
	sum, err := backrestChecksum(file)
	if err != nil {
		return err
	}
	backrest.NewKey("backrest-checksum", sum)
	if _, err := file.WriteTo(w); err != nil {
		return coreerrors.NewFileWriteError("archive.info", err)
	}
	return nil
}

// DecodeArchiveInfo parses and checksum-verifies an archive.info file.
func DecodeArchiveInfo(r io.Reader) (*ArchiveInfo, error) {
	file, err := ini.Load(r)
	if err != nil {
		return nil, coreerrors.NewFormatError("archive.info", fmt.Sprintf("not valid keyed text: %v", err))
	}
	format, err := strconv.Atoi(file.Section("backrest").Key("backrest-format").String())
	if err != nil || format != InfoFormat {
		return nil, coreerrors.NewFormatError("archive.info", "unsupported or missing backrest-format")
	}
	stored := file.Section("backrest").Key("backrest-checksum").String()
	if stored == "" {
		return nil, coreerrors.NewFormatError("archive.info", "missing backrest-checksum")
	}
	want, err := backrestChecksum(file)
	if err != nil {
		return nil, err
	}
	if stored != want {
		return nil, coreerrors.NewChecksumError("archive.info", -1)
	}
	history, err := decodeHistory(file)
	if err != nil {
		return nil, err
	}
	return &ArchiveInfo{
		Format:     format,
		CipherPass: file.Section("cipher").Key("cipher-pass").String(),
		History:    history,
	}, nil
}

// EncodeBackupInfo writes info in the fixed format for backup.info, which
// additionally carries the list of current backup labels under
// [backup:current].
func EncodeBackupInfo(info *BackupInfo, w io.Writer) error {
	file := ini.Empty()
	backrest, err := file.NewSection("backrest")
	if err != nil {
		return coreerrors.NewFormatError("", err.Error())
	}
	backrest.NewKey("backrest-format", strconv.Itoa(InfoFormat))
	if info.CipherPass != "" {
		cipher, err := file.NewSection("cipher")
		if err != nil {
			return coreerrors.NewFormatError("", err.Error())
		}
		cipher.NewKey("cipher-pass", info.CipherPass)
	}
	current, err := file.NewSection("backup:current")
	if err != nil {
		return coreerrors.NewFormatError("", err.Error())
	}
	for _, label := range info.CurrentBackups {
		current.NewKey(label, "t")
	}
	if err := encodeHistory(file, info.History); err != nil {
		return err
	}
	sum, err := backrestChecksum(file)
	if err != nil {
		return err
	}
	backrest.NewKey("backrest-checksum", sum)
	if _, err := file.WriteTo(w); err != nil {
		return coreerrors.NewFileWriteError("backup.info", err)
	}
	return nil
}

// DecodeBackupInfo parses and checksum-verifies a backup.info file.
func DecodeBackupInfo(r io.Reader) (*BackupInfo, error) {
	file, err := ini.Load(r)
	if err != nil {
		return nil, coreerrors.NewFormatError("backup.info", fmt.Sprintf("not valid keyed text: %v", err))
	}
	format, err := strconv.Atoi(file.Section("backrest").Key("backrest-format").String())
	if err != nil || format != InfoFormat {
		return nil, coreerrors.NewFormatError("backup.info", "unsupported or missing backrest-format")
	}
	stored := file.Section("backrest").Key("backrest-checksum").String()
	if stored == "" {
		return nil, coreerrors.NewFormatError("backup.info", "missing backrest-checksum")
	}
	want, err := backrestChecksum(file)
	if err != nil {
		return nil, err
	}
	if stored != want {
		return nil, coreerrors.NewChecksumError("backup.info", -1)
	}
	history, err := decodeHistory(file)
	if err != nil {
		return nil, err
	}
	var current []string
	for _, k := range file.Section("backup:current").Keys() {
		current = append(current, k.Name())
	}
	sort.Strings(current)
	return &BackupInfo{
		Format:         format,
		CipherPass:     file.Section("cipher").Key("cipher-pass").String(),
		History:        history,
		CurrentBackups: current,
	}, nil
}

// LoadArchiveInfo applies the same primary-then-copy fallback as
// pkg/manifest's Load, but against the fixed archive.info path.
func LoadArchiveInfo(ctx context.Context, store repo.ObjectStore) (*ArchiveInfo, error) {
	primary, primaryErr := openArchiveInfo(ctx, store, repo.ArchiveInfoPath())
	if primaryErr == nil {
		return primary, nil
	}
	cp, copyErr := openArchiveInfo(ctx, store, repo.ArchiveInfoCopyPath())
	if copyErr == nil {
		logger.WarnCtx(ctx, "primary archive.info unreadable, using copy", logger.Err(primaryErr))
		return cp, nil
	}
	return nil, coreerrors.NewFileMissingError(repo.ArchiveInfoPath())
}

func openArchiveInfo(ctx context.Context, store repo.ObjectStore, path string) (*ArchiveInfo, error) {
	r, err := store.Open(ctx, path)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, coreerrors.NewFileMissingError(path)
		}
		return nil, coreerrors.NewFileOpenError(path, err)
	}
	defer r.Close()
	return DecodeArchiveInfo(r)
}

// LoadBackupInfo applies the primary-then-copy fallback against the fixed
// backup.info path.
func LoadBackupInfo(ctx context.Context, store repo.ObjectStore) (*BackupInfo, error) {
	primary, primaryErr := openBackupInfo(ctx, store, repo.BackupInfoPath())
	if primaryErr == nil {
		return primary, nil
	}
	cp, copyErr := openBackupInfo(ctx, store, repo.BackupInfoCopyPath())
	if copyErr == nil {
		logger.WarnCtx(ctx, "primary backup.info unreadable, using copy", logger.Err(primaryErr))
		return cp, nil
	}
	return nil, coreerrors.NewFileMissingError(repo.BackupInfoPath())
}

func openBackupInfo(ctx context.Context, store repo.ObjectStore, path string) (*BackupInfo, error) {
	r, err := store.Open(ctx, path)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, coreerrors.NewFileMissingError(path)
		}
		return nil, coreerrors.NewFileOpenError(path, err)
	}
	defer r.Close()
	return DecodeBackupInfo(r)
}

// SaveArchiveInfo writes both archive.info and its copy.
func SaveArchiveInfo(ctx context.Context, store repo.ObjectStore, info *ArchiveInfo) error {
	var buf bytes.Buffer
	if err := EncodeArchiveInfo(info, &buf); err != nil {
		return err
	}
	if err := writeObject(ctx, store, repo.ArchiveInfoPath(), buf.Bytes()); err != nil {
		return err
	}
	return writeObject(ctx, store, repo.ArchiveInfoCopyPath(), buf.Bytes())
}

// SaveBackupInfo writes both backup.info and its copy.
func SaveBackupInfo(ctx context.Context, store repo.ObjectStore, info *BackupInfo) error {
	var buf bytes.Buffer
	if err := EncodeBackupInfo(info, &buf); err != nil {
		return err
	}
	if err := writeObject(ctx, store, repo.BackupInfoPath(), buf.Bytes()); err != nil {
		return err
	}
	return writeObject(ctx, store, repo.BackupInfoCopyPath(), buf.Bytes())
}
