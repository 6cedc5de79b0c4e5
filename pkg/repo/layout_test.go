package repo

import "testing"

func TestTimelineDir(t *testing.T) {
	seg := "0000000100000000000000A1"
	got, err := TimelineDir(seg)
	if err != nil {
		t.Fatalf("TimelineDir: %v", err)
	}
	if got != "0000000100000000" {
		t.Fatalf("TimelineDir(%s) = %s", seg, got)
	}
}

func TestWALFilePath(t *testing.T) {
	p, err := WALFilePath("13-1", "0000000100000000000000A1", "deadbeef00deadbeef00deadbeef00deadbeef0", ExtGzip)
	if err != nil {
		t.Fatalf("WALFilePath: %v", err)
	}
	want := "archive/13-1/0000000100000000/0000000100000000000000A1-deadbeef00deadbeef00deadbeef00deadbeef0.gz"
	if p != want {
		t.Fatalf("got %s, want %s", p, want)
	}
}

func TestBackupFilePathWithBundle(t *testing.T) {
	bundle := uint64(7)
	p := BackupFilePath("20260101-120000F", "base/1/5432", &bundle, ExtZstd)
	want := "backup/20260101-120000F/base/1/5432.7.zst"
	if p != want {
		t.Fatalf("got %s, want %s", p, want)
	}
}

func TestManifestPaths(t *testing.T) {
	if got, want := ManifestPath("L"), "backup/L/backup.manifest"; got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
	if got, want := ManifestCopyPath("L"), "backup/L/backup.manifest.copy"; got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}
