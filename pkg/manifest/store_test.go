package manifest

import (
	"bytes"
	"context"
	"testing"

	"github.com/pgbackup/corebackup/pkg/repo"
	"github.com/pgbackup/corebackup/pkg/repo/repotest"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store := repotest.New()
	ctx := context.Background()
	m := buildSample("20260802-030000I")

	if err := Save(ctx, store, m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(ctx, store, m.Label)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Label != m.Label {
		t.Fatalf("Label = %q, want %q", got.Label, m.Label)
	}
	if len(got.Files) != len(m.Files) {
		t.Fatalf("Files count = %d, want %d", len(got.Files), len(m.Files))
	}
}

func TestLoadFallsBackToCopyWhenPrimaryMissing(t *testing.T) {
	store := repotest.New()
	ctx := context.Background()
	m := buildSample("20260802-030000I")

	var buf bytes.Buffer
	if err := Encode(m, &buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	store.Put(repo.ManifestCopyPath(m.Label), buf.Bytes())

	got, err := Load(ctx, store, m.Label)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Files) != len(m.Files) {
		t.Fatalf("Files count = %d, want %d", len(got.Files), len(m.Files))
	}
}

func TestLoadFallsBackToCopyWhenPrimaryCorrupt(t *testing.T) {
	store := repotest.New()
	ctx := context.Background()
	m := buildSample("20260802-030000I")

	var buf bytes.Buffer
	if err := Encode(m, &buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	store.Put(repo.ManifestCopyPath(m.Label), buf.Bytes())
	store.Put(repo.ManifestPath(m.Label), []byte("not a valid manifest"))

	got, err := Load(ctx, store, m.Label)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Label != m.Label {
		t.Fatalf("Label = %q, want %q", got.Label, m.Label)
	}
}

func TestLoadFailsWhenBothCopiesMissing(t *testing.T) {
	store := repotest.New()
	ctx := context.Background()
	if _, err := Load(ctx, store, "no-such-backup"); err == nil {
		t.Fatal("expected error when neither manifest nor its copy exist")
	}
}

func TestSaveArchiveAndBackupInfo(t *testing.T) {
	store := repotest.New()
	ctx := context.Background()

	archiveInfo := &ArchiveInfo{History: sampleHistory()}
	if err := SaveArchiveInfo(ctx, store, archiveInfo); err != nil {
		t.Fatalf("SaveArchiveInfo: %v", err)
	}
	gotArchive, err := LoadArchiveInfo(ctx, store)
	if err != nil {
		t.Fatalf("LoadArchiveInfo: %v", err)
	}
	if !SameHistory(gotArchive.History, archiveInfo.History) {
		t.Fatalf("archive history mismatch: got %+v", gotArchive.History)
	}

	backupInfo := &BackupInfo{History: sampleHistory(), CurrentBackups: []string{"20260802-030000I"}}
	if err := SaveBackupInfo(ctx, store, backupInfo); err != nil {
		t.Fatalf("SaveBackupInfo: %v", err)
	}
	gotBackup, err := LoadBackupInfo(ctx, store)
	if err != nil {
		t.Fatalf("LoadBackupInfo: %v", err)
	}
	if len(gotBackup.CurrentBackups) != 1 || gotBackup.CurrentBackups[0] != "20260802-030000I" {
		t.Fatalf("CurrentBackups = %v", gotBackup.CurrentBackups)
	}
	if !SameHistory(gotArchive.History, gotBackup.History) {
		t.Fatal("expected archive.info and backup.info history to cross-check equal")
	}
}
