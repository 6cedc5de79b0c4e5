package manifest

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/pgbackup/corebackup/internal/logger"
	"github.com/pgbackup/corebackup/pkg/coreerrors"
	"github.com/pgbackup/corebackup/pkg/repo"
)

// Load reads a backup's manifest from store, applying a primary-then-copy
// fallback: the primary is read first; if it is missing or fails its
// checksum, the copy is read instead; if both exist but decode to
// different checksums, the primary is trusted and the mismatch is logged
// rather than treated as fatal.
func Load(ctx context.Context, store repo.ObjectStore, label string) (*Manifest, error) {
	primaryPath := repo.ManifestPath(label)
	copyPath := repo.ManifestCopyPath(label)

	primary, primaryErr := decodeObject(ctx, store, primaryPath)
	copyManifest, copyErr := decodeObject(ctx, store, copyPath)

	switch {
	case primaryErr == nil && copyErr == nil:
		if !bytes.Equal(mustChecksum(primary), mustChecksum(copyManifest)) {
			logger.WarnCtx(ctx, "manifest and its copy disagree, trusting primary",
				logger.BackupLabel(label), logger.Path(primaryPath))
		}
		primary.Label = label
		return primary, nil
	case primaryErr == nil:
		primary.Label = label
		return primary, nil
	case copyErr == nil:
		logger.WarnCtx(ctx, "primary manifest unreadable, using copy",
			logger.BackupLabel(label), logger.Path(primaryPath), logger.Err(primaryErr))
		copyManifest.Label = label
		return copyManifest, nil
	default:
		return nil, coreerrors.NewFileMissingError(primaryPath)
	}
}

func decodeObject(ctx context.Context, store repo.ObjectStore, path string) (*Manifest, error) {
	r, err := store.Open(ctx, path)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, coreerrors.NewFileMissingError(path)
		}
		return nil, coreerrors.NewFileOpenError(path, err)
	}
	defer r.Close()
	m, err := Decode(r)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func mustChecksum(m *Manifest) []byte {
	sum, err := canonicalChecksum(m)
	if err != nil {
		return nil
	}
	return []byte(sum)
}

// Save writes m's primary manifest and its copy to store. Both copies are
// byte-identical; the copy exists purely so Load has a fallback if the
// primary object is corrupted or lost mid-write.
func Save(ctx context.Context, store repo.ObjectStore, m *Manifest) error {
	var buf bytes.Buffer
	if err := Encode(m, &buf); err != nil {
		return err
	}

	if err := writeObject(ctx, store, repo.ManifestPath(m.Label), buf.Bytes()); err != nil {
		return err
	}
	if err := writeObject(ctx, store, repo.ManifestCopyPath(m.Label), buf.Bytes()); err != nil {
		return err
	}
	return nil
}

func writeObject(ctx context.Context, store repo.ObjectStore, path string, data []byte) error {
	w, err := store.AtomicUpload(ctx, path)
	if err != nil {
		return coreerrors.NewFileOpenError(path, err)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Abort()
		return coreerrors.NewFileWriteError(path, err)
	}
	if err := w.Close(); err != nil {
		return coreerrors.NewFileWriteError(path, err)
	}
	return nil
}
