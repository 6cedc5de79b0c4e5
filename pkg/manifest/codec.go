package manifest

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"gopkg.in/ini.v1"

	"github.com/pgbackup/corebackup/pkg/coreerrors"
	"github.com/pgbackup/corebackup/pkg/repo"
)

// checksumSection and checksumKey hold the manifest's own trailing
// checksum, computed over every other section the same way the info
// files' own backrest-checksum field is.
const (
	checksumSection = "manifest"
	checksumKey     = "manifest-checksum"
)

// Encode writes m to w in the keyed, sorted-section text format, with a
// trailing checksum section.
func Encode(m *Manifest, w io.Writer) error {
	file := ini.Empty()
	if err := writeManifestSections(file, m); err != nil {
		return err
	}
	sum, err := canonicalChecksum(m)
	if err != nil {
		return err
	}
	sec, err := file.NewSection(checksumSection)
	if err != nil {
		return coreerrors.NewFormatError(m.Label, err.Error())
	}
	if _, err := sec.NewKey(checksumKey, sum); err != nil {
		return coreerrors.NewFormatError(m.Label, err.Error())
	}
	if _, err := file.WriteTo(w); err != nil {
		return coreerrors.NewFileWriteError(m.Label, err)
	}
	return nil
}

// Decode parses a manifest previously written by Encode and verifies its
// trailing checksum.
func Decode(r io.Reader) (*Manifest, error) {
	file, err := ini.Load(r)
	if err != nil {
		return nil, coreerrors.NewFormatError("", fmt.Sprintf("manifest is not valid keyed text: %v", err))
	}

	m := &Manifest{}
	if err := readDataSection(file, m); err != nil {
		return nil, err
	}
	if err := readTargets(file, m); err != nil {
		return nil, err
	}
	if err := readPaths(file, m); err != nil {
		return nil, err
	}
	if err := readLinks(file, m); err != nil {
		return nil, err
	}
	if err := readFiles(file, m); err != nil {
		return nil, err
	}
	if err := readDB(file, m); err != nil {
		return nil, err
	}

	stored := file.Section(checksumSection).Key(checksumKey).String()
	if stored == "" {
		return nil, coreerrors.NewFormatError("", "manifest missing checksum section")
	}
	want, err := canonicalChecksum(m)
	if err != nil {
		return nil, err
	}
	if stored != want {
		return nil, coreerrors.NewChecksumError("manifest", -1)
	}
	return m, nil
}

// canonicalChecksum hashes a deterministic structural JSON encoding of m's
// logical sections, excluding the checksum itself.
func canonicalChecksum(m *Manifest) (string, error) {
	type wire struct {
		Data       Data
		Targets    []Target
		Paths      []PathEntry
		Links      []LinkEntry
		Files      []FileEntry
		DB         []DBEntry
		References []string
	}
	// Sort copies of every entry slice by its natural key so the checksum
	// only depends on manifest content, not on insertion order: Decode
	// rebuilds these slices in path/oid order regardless of how Encode's
	// caller originally appended them.
	targets := append([]Target(nil), m.Targets...)
	sortByName(targets, func(t Target) string { return t.Name })
	paths := append([]PathEntry(nil), m.Paths...)
	sortByName(paths, func(p PathEntry) string { return p.Path })
	links := append([]LinkEntry(nil), m.Links...)
	sortByName(links, func(l LinkEntry) string { return l.Path })
	files := append([]FileEntry(nil), m.Files...)
	sortByName(files, func(f FileEntry) string { return f.Path })
	db := append([]DBEntry(nil), m.DB...)
	sortByName(db, func(d DBEntry) string { return strconv.FormatUint(d.OID, 10) })

	b, err := json.Marshal(wire{
		Data:       m.Data,
		Targets:    targets,
		Paths:      paths,
		Links:      links,
		Files:      files,
		DB:         db,
		References: m.References,
	})
	if err != nil {
		return "", coreerrors.NewFormatError(m.Label, fmt.Sprintf("canonical serialization failed: %v", err))
	}
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:]), nil
}

func writeManifestSections(file *ini.File, m *Manifest) error {
	data, err := file.NewSection("data")
	if err != nil {
		return coreerrors.NewFormatError(m.Label, err.Error())
	}
	setKeys(data, map[string]string{
		"start-wal":       m.Data.StartWAL,
		"stop-wal":        m.Data.StopWAL,
		"start-lsn":       m.Data.StartLSN,
		"stop-lsn":        m.Data.StopLSN,
		"prior":           m.Data.PriorLabel,
		"type":            string(m.Data.Type),
		"cluster-id":      m.Data.ClusterID,
		"cluster-version": m.Data.ClusterVersion,
		"system-id":       strconv.FormatUint(m.Data.ClusterSystemID, 10),
		"block-incr":      strconv.FormatBool(m.Data.BlockIncr),
		"bundle":          strconv.FormatBool(m.Data.Bundle),
	})

	for _, t := range m.Targets {
		sec, err := file.NewSection("target:" + t.Name)
		if err != nil {
			return coreerrors.NewFormatError(m.Label, err.Error())
		}
		kv := map[string]string{"type": string(t.Type), "path": t.Path}
		if t.TablespaceID != nil {
			kv["tablespace-id"] = strconv.FormatUint(*t.TablespaceID, 10)
		}
		setKeys(sec, kv)
	}

	for _, p := range m.Paths {
		sec, err := file.NewSection("path:" + p.Path)
		if err != nil {
			return coreerrors.NewFormatError(m.Label, err.Error())
		}
		setKeys(sec, map[string]string{
			"user":  p.User,
			"group": p.Group,
			"mode":  strconv.FormatUint(uint64(p.Mode), 8),
		})
	}

	for _, l := range m.Links {
		sec, err := file.NewSection("link:" + l.Path)
		if err != nil {
			return coreerrors.NewFormatError(m.Label, err.Error())
		}
		setKeys(sec, map[string]string{
			"user":        l.User,
			"group":       l.Group,
			"mode":        strconv.FormatUint(uint64(l.Mode), 8),
			"destination": l.Destination,
		})
	}

	for _, f := range m.Files {
		sec, err := file.NewSection("file:" + f.Path)
		if err != nil {
			return coreerrors.NewFormatError(m.Label, err.Error())
		}
		kv := map[string]string{
			"user":                     f.User,
			"group":                    f.Group,
			"mode":                     strconv.FormatUint(uint64(f.Mode), 8),
			"size":                     strconv.FormatUint(f.Size, 10),
			"mtime":                    f.MTime.UTC().Format(time.RFC3339Nano),
			"reference":                f.Reference,
			"bundle-offset":            strconv.FormatUint(f.BundleOffset, 10),
			"size-repo":                strconv.FormatUint(f.SizeRepo, 10),
			"checksum-sha1":            f.ChecksumSha1,
			"checksum-repo-sha1":       f.ChecksumRepoSha1,
			"compress-type":            string(f.CompressExt),
			"block-incr-map-size":      strconv.FormatUint(f.BlockIncrMapSize, 10),
			"block-incr-size":          strconv.FormatUint(f.BlockIncrSize, 10),
			"block-incr-checksum-size": strconv.FormatUint(f.BlockIncrChecksumSize, 10),
		}
		if f.BundleID != nil {
			kv["bundle-id"] = strconv.FormatUint(*f.BundleID, 10)
		}
		setKeys(sec, kv)
	}

	for _, d := range m.DB {
		sec, err := file.NewSection("db:" + strconv.FormatUint(d.OID, 10))
		if err != nil {
			return coreerrors.NewFormatError(m.Label, err.Error())
		}
		setKeys(sec, map[string]string{
			"name":            d.Name,
			"last-system-oid": strconv.FormatUint(d.LastSystemOID, 10),
		})
	}

	return nil
}

func setKeys(sec *ini.Section, kv map[string]string) {
	for k, v := range kv {
		sec.NewKey(k, v)
	}
}

func readDataSection(file *ini.File, m *Manifest) error {
	sec := file.Section("data")
	systemID, err := parseUint(sec.Key("system-id").String())
	if err != nil {
		return coreerrors.NewFormatError("data", "invalid system-id")
	}
	m.Data = Data{
		StartWAL:        sec.Key("start-wal").String(),
		StopWAL:         sec.Key("stop-wal").String(),
		StartLSN:        sec.Key("start-lsn").String(),
		StopLSN:         sec.Key("stop-lsn").String(),
		PriorLabel:      sec.Key("prior").String(),
		Type:            BackupType(sec.Key("type").String()),
		ClusterID:       sec.Key("cluster-id").String(),
		ClusterVersion:  sec.Key("cluster-version").String(),
		ClusterSystemID: systemID,
		BlockIncr:       sec.Key("block-incr").MustBool(false),
		Bundle:          sec.Key("bundle").MustBool(false),
	}
	return nil
}

func readTargets(file *ini.File, m *Manifest) error {
	for _, sec := range file.Sections() {
		name, ok := cutPrefix(sec.Name(), "target:")
		if !ok {
			continue
		}
		t := Target{
			Name: name,
			Type: TargetType(sec.Key("type").String()),
			Path: sec.Key("path").String(),
		}
		if v := sec.Key("tablespace-id").String(); v != "" {
			id, err := parseUint(v)
			if err != nil {
				return coreerrors.NewFormatError(sec.Name(), "invalid tablespace-id")
			}
			t.TablespaceID = &id
		}
		m.Targets = append(m.Targets, t)
	}
	sortByName(m.Targets, func(t Target) string { return t.Name })
	return nil
}

func readPaths(file *ini.File, m *Manifest) error {
	for _, sec := range file.Sections() {
		p, ok := cutPrefix(sec.Name(), "path:")
		if !ok {
			continue
		}
		mode, err := strconv.ParseUint(sec.Key("mode").String(), 8, 32)
		if err != nil {
			return coreerrors.NewFormatError(sec.Name(), "invalid mode")
		}
		m.Paths = append(m.Paths, PathEntry{
			Path:  p,
			User:  sec.Key("user").String(),
			Group: sec.Key("group").String(),
			Mode:  uint32(mode),
		})
	}
	sortByName(m.Paths, func(p PathEntry) string { return p.Path })
	return nil
}

func readLinks(file *ini.File, m *Manifest) error {
	for _, sec := range file.Sections() {
		p, ok := cutPrefix(sec.Name(), "link:")
		if !ok {
			continue
		}
		mode, err := strconv.ParseUint(sec.Key("mode").String(), 8, 32)
		if err != nil {
			return coreerrors.NewFormatError(sec.Name(), "invalid mode")
		}
		m.Links = append(m.Links, LinkEntry{
			Path:        p,
			User:        sec.Key("user").String(),
			Group:       sec.Key("group").String(),
			Mode:        uint32(mode),
			Destination: sec.Key("destination").String(),
		})
	}
	sortByName(m.Links, func(l LinkEntry) string { return l.Path })
	return nil
}

func readFiles(file *ini.File, m *Manifest) error {
	for _, sec := range file.Sections() {
		p, ok := cutPrefix(sec.Name(), "file:")
		if !ok {
			continue
		}
		mode, err := strconv.ParseUint(sec.Key("mode").String(), 8, 32)
		if err != nil {
			return coreerrors.NewFormatError(sec.Name(), "invalid mode")
		}
		mtime, err := time.Parse(time.RFC3339Nano, sec.Key("mtime").String())
		if err != nil {
			return coreerrors.NewFormatError(sec.Name(), "invalid mtime")
		}
		size, err := parseUint(sec.Key("size").String())
		if err != nil {
			return coreerrors.NewFormatError(sec.Name(), "invalid size")
		}
		f := FileEntry{
			Path:             p,
			User:             sec.Key("user").String(),
			Group:            sec.Key("group").String(),
			Mode:             uint32(mode),
			Size:             size,
			MTime:            mtime,
			Reference:        sec.Key("reference").String(),
			ChecksumSha1:     sec.Key("checksum-sha1").String(),
			ChecksumRepoSha1: sec.Key("checksum-repo-sha1").String(),
			CompressExt:      repo.CompressExt(sec.Key("compress-type").String()),
		}
		if v := sec.Key("bundle-id").String(); v != "" {
			id, err := parseUint(v)
			if err != nil {
				return coreerrors.NewFormatError(sec.Name(), "invalid bundle-id")
			}
			f.BundleID = &id
		}
		f.BundleOffset, _ = parseUint(sec.Key("bundle-offset").String())
		f.SizeRepo, _ = parseUint(sec.Key("size-repo").String())
		f.BlockIncrMapSize, _ = parseUint(sec.Key("block-incr-map-size").String())
		f.BlockIncrSize, _ = parseUint(sec.Key("block-incr-size").String())
		f.BlockIncrChecksumSize, _ = parseUint(sec.Key("block-incr-checksum-size").String())
		if f.Reference != "" {
			m.addReference(f.Reference)
		}
		m.Files = append(m.Files, f)
	}
	sortByName(m.Files, func(f FileEntry) string { return f.Path })
	return nil
}

func readDB(file *ini.File, m *Manifest) error {
	for _, sec := range file.Sections() {
		oidStr, ok := cutPrefix(sec.Name(), "db:")
		if !ok {
			continue
		}
		oid, err := parseUint(oidStr)
		if err != nil {
			return coreerrors.NewFormatError(sec.Name(), "invalid db oid")
		}
		lastSystemOID, err := parseUint(sec.Key("last-system-oid").String())
		if err != nil {
			return coreerrors.NewFormatError(sec.Name(), "invalid last-system-oid")
		}
		m.DB = append(m.DB, DBEntry{
			OID:           oid,
			Name:          sec.Key("name").String(),
			LastSystemOID: lastSystemOID,
		})
	}
	sortByName(m.DB, func(d DBEntry) string { return strconv.FormatUint(d.OID, 10) })
	return nil
}

func parseUint(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	return s[len(prefix):], true
}

// sortByName sorts a slice in place by a string key, giving Decode a
// deterministic in-memory structure regardless of ini's section iteration
// order. Plain insertion sort is fine: manifests hold at most a few
// thousand entries.
func sortByName[T any](s []T, key func(T) string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && key(s[j-1]) > key(s[j]); j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
