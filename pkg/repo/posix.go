package repo

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PosixStore is a filesystem-backed ObjectStore: every repository path maps
// to a file under basePath, joined with the local separator. Uploads go
// through a sibling temp file renamed into place so a reader never
// observes a partial write; os.IsNotExist is mapped onto ErrNotFound.
type PosixStore struct {
	basePath string
}

// NewPosixStore returns a PosixStore rooted at basePath. basePath is
// created if it does not already exist.
func NewPosixStore(basePath string) (*PosixStore, error) {
	if basePath == "" {
		return nil, &fs.PathError{Op: "NewPosixStore", Path: basePath, Err: fs.ErrInvalid}
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &PosixStore{basePath: basePath}, nil
}

func (s *PosixStore) fsPath(path string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(path))
}

func (s *PosixStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(s.fsPath(path))
	if err != nil {
		return nil, wrapNotExist(path, err)
	}
	return f, nil
}

func (s *PosixStore) OpenRange(ctx context.Context, path string, offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(s.fsPath(path))
	if err != nil {
		return nil, wrapNotExist(path, err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return &limitedReadCloser{r: io.LimitReader(f, length), c: f}, nil
}

func (s *PosixStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	root := s.fsPath(prefix)
	var out []ObjectInfo
	walkRoot := root
	if info, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			// A prefix that names a partial final path component (e.g.
			// "archive/1" matching "archive/13-1") still has to be walked
			// from its parent directory.
			walkRoot = filepath.Dir(root)
		} else {
			return nil, err
		}
	} else if !info.IsDir() {
		rel, err := filepath.Rel(s.basePath, root)
		if err != nil {
			return nil, err
		}
		return []ObjectInfo{{Path: filepath.ToSlash(rel), Size: info.Size(), ModTime: info.ModTime()}}, nil
	}

	err := filepath.WalkDir(walkRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasPrefix(p, root) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.basePath, p)
		if err != nil {
			return err
		}
		out = append(out, ObjectInfo{Path: filepath.ToSlash(rel), Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *PosixStore) Stat(ctx context.Context, path string) (ObjectInfo, error) {
	info, err := os.Stat(s.fsPath(path))
	if err != nil {
		return ObjectInfo{}, wrapNotExist(path, err)
	}
	return ObjectInfo{Path: path, Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (s *PosixStore) AtomicUpload(ctx context.Context, path string) (ObjectWriter, error) {
	full := s.fsPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return nil, err
	}
	return &posixWriter{f: tmp, finalPath: full}, nil
}

func (s *PosixStore) ReadAt(ctx context.Context, path string, p []byte, offset int64) (int, error) {
	f, err := os.Open(s.fsPath(path))
	if err != nil {
		return 0, wrapNotExist(path, err)
	}
	defer f.Close()
	return f.ReadAt(p, offset)
}

func wrapNotExist(path string, err error) error {
	if os.IsNotExist(err) {
		return &fs.PathError{Op: "open", Path: path, Err: ErrNotFound}
	}
	return err
}

type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedReadCloser) Close() error                { return l.c.Close() }

// posixWriter buffers an upload in a sibling temp file and renames it onto
// finalPath on Close, so a reader never observes a partially written
// object.
type posixWriter struct {
	f         *os.File
	finalPath string
	done      bool
}

func (w *posixWriter) Write(p []byte) (int, error) { return w.f.Write(p) }

func (w *posixWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.f.Close(); err != nil {
		os.Remove(w.f.Name())
		return err
	}
	return os.Rename(w.f.Name(), w.finalPath)
}

func (w *posixWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.f.Close()
	return os.Remove(w.f.Name())
}

var _ ObjectStore = (*PosixStore)(nil)
var _ ReadAtStore = (*PosixStore)(nil)
