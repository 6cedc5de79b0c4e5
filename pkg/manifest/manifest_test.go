package manifest

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/pgbackup/corebackup/pkg/repo"
)

func buildSample(label string) *Manifest {
	m := New(label)
	m.Data = Data{
		StartWAL:        "000000010000000000000001",
		StopWAL:         "000000010000000000000003",
		StartLSN:        "0/1000000",
		StopLSN:         "0/3000000",
		Type:            TypeIncr,
		PriorLabel:      "20260801-000000F",
		ClusterID:       "cluster-1",
		ClusterVersion:  "16",
		ClusterSystemID: 7123456789012345,
		BlockIncr:       true,
	}
	tsID := uint64(16384)
	m.Targets = []Target{
		{Name: "pgdata", Type: TargetPath, Path: "/var/lib/postgresql/16/main"},
		{Name: "ts1", Type: TargetLink, Path: "/mnt/ts1", TablespaceID: &tsID},
	}
	m.Paths = []PathEntry{
		{Path: "pg_wal", User: "postgres", Group: "postgres", Mode: 0700},
	}
	m.Links = []LinkEntry{
		{Path: "pg_tblspc/16384", User: "postgres", Group: "postgres", Mode: 0700, Destination: "/mnt/ts1"},
	}
	bundleID := uint64(1)
	m.AddFile(FileEntry{
		Path:         "base/1/2601",
		User:         "postgres",
		Group:        "postgres",
		Mode:         0600,
		Size:         8192,
		MTime:        time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		ChecksumSha1: "deadbeef",
	})
	m.AddFile(FileEntry{
		Path:             "base/1/2602",
		User:             "postgres",
		Group:            "postgres",
		Mode:             0600,
		Size:             4096,
		MTime:            time.Date(2026, 8, 1, 12, 0, 1, 0, time.UTC),
		Reference:        "20260801-000000F",
		BundleID:         &bundleID,
		BundleOffset:     128,
		SizeRepo:         4096,
		ChecksumRepoSha1: "cafebabe",
		CompressExt:      repo.ExtZstd,
		BlockIncrMapSize: 64,
		BlockIncrSize:    4096,
		BlockIncrChecksumSize: 20,
	})
	m.DB = []DBEntry{
		{OID: 1, Name: "template1", LastSystemOID: 12000},
		{OID: 16401, Name: "appdb", LastSystemOID: 12000},
	}
	return m
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := buildSample("20260802-030000I")
	var buf bytes.Buffer
	if err := Encode(m, &buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Data != m.Data {
		t.Fatalf("Data mismatch: got %+v, want %+v", got.Data, m.Data)
	}
	if len(got.Files) != len(m.Files) {
		t.Fatalf("Files count = %d, want %d", len(got.Files), len(m.Files))
	}
	f, ok := got.FileByPath("base/1/2602")
	if !ok {
		t.Fatal("expected base/1/2602 present")
	}
	if f.Reference != "20260801-000000F" {
		t.Fatalf("Reference = %q, want 20260801-000000F", f.Reference)
	}
	if f.BundleID == nil || *f.BundleID != 1 {
		t.Fatalf("BundleID = %v, want 1", f.BundleID)
	}
	if !f.IsBlockIncremental() {
		t.Fatal("expected block-incremental file")
	}
	if !f.IsBundled() {
		t.Fatal("expected bundled file")
	}
	if f.CompressExt != repo.ExtZstd {
		t.Fatalf("CompressExt = %q, want %q", f.CompressExt, repo.ExtZstd)
	}

	if len(got.Targets) != 2 || got.Targets[1].TablespaceID == nil || *got.Targets[1].TablespaceID != 16384 {
		t.Fatalf("Targets decoded incorrectly: %+v", got.Targets)
	}
	if len(got.DB) != 2 {
		t.Fatalf("DB count = %d, want 2", len(got.DB))
	}
}

func TestReferenceIndexRoundTrips(t *testing.T) {
	m := buildSample("20260802-030000I")
	idx, ok := m.ReferenceIndex("20260801-000000F")
	if !ok || idx != 0 {
		t.Fatalf("ReferenceIndex = (%d, %v), want (0, true)", idx, ok)
	}
	label, ok := m.ReferenceByIndex(0)
	if !ok || label != "20260801-000000F" {
		t.Fatalf("ReferenceByIndex(0) = (%q, %v)", label, ok)
	}
	if _, ok := m.ReferenceIndex("does-not-exist"); ok {
		t.Fatal("expected ReferenceIndex to fail for unknown label")
	}
}

func TestReferenceListDeduplicatesAndSorts(t *testing.T) {
	m := New("label")
	m.AddFile(FileEntry{Path: "a", Reference: "20260801-020000F"})
	m.AddFile(FileEntry{Path: "b", Reference: "20260801-010000F"})
	m.AddFile(FileEntry{Path: "c", Reference: "20260801-020000F"})
	m.AddFile(FileEntry{Path: "d"})

	refs := m.ReferenceList()
	want := []string{"20260801-010000F", "20260801-020000F"}
	if len(refs) != len(want) {
		t.Fatalf("ReferenceList = %v, want %v", refs, want)
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Fatalf("ReferenceList = %v, want %v", refs, want)
		}
	}
}

func TestDecodeRejectsTamperedChecksum(t *testing.T) {
	m := buildSample("20260802-030000I")
	var buf bytes.Buffer
	if err := Encode(m, &buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	tampered := buf.String()
	// Flip one character inside the data section, leaving the checksum
	// section untouched, so decode must detect the mismatch.
	// The encoder pads keys to align "=", so match on the value alone.
	const marker = "= cluster-1"
	replaced := strings.Replace(tampered, marker, "= cluster-2", 1)
	if replaced == tampered {
		t.Fatal("marker not found in encoded manifest, test is broken")
	}
	var tamperedBuf bytes.Buffer
	tamperedBuf.WriteString(replaced)

	if _, err := Decode(&tamperedBuf); err == nil {
		t.Fatal("expected checksum error for tampered manifest")
	}
}

func TestDecodeRejectsMissingChecksumSection(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("[data]\nstart-wal = x\n")
	if _, err := Decode(&buf); err == nil {
		t.Fatal("expected error for manifest with no checksum section")
	}
}
