// Package repotest provides an in-memory repo.ObjectStore for tests that
// exercise the core without a real storage driver: map-backed,
// mutex-guarded, no network I/O.
package repotest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pgbackup/corebackup/pkg/repo"
)

// Store is an in-memory repo.ObjectStore. Create one with New: the zero
// value has nil maps and no clock, so Put on it panics.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
	modTime map[string]time.Time
	clock   func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		objects: make(map[string][]byte),
		modTime: make(map[string]time.Time),
		clock:   time.Now,
	}
}

// Put seeds an object directly, bypassing AtomicUpload. Useful for building
// test fixtures.
func (s *Store) Put(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = append([]byte(nil), data...)
	s.modTime[path] = s.clock()
}

func (s *Store) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("repotest: %s: %w", path, repo.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Store) OpenRange(ctx context.Context, path string, offset, length int64) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("repotest: %s: %w", path, repo.ErrNotFound)
	}
	if offset < 0 || offset > int64(len(data)) {
		return nil, fmt.Errorf("repotest: range out of bounds for %s", path)
	}
	end := offset + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return io.NopCloser(bytes.NewReader(data[offset:end])), nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]repo.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []repo.ObjectInfo
	for p, data := range s.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, repo.ObjectInfo{Path: p, Size: int64(len(data)), ModTime: s.modTime[p]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *Store) Stat(ctx context.Context, path string) (repo.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return repo.ObjectInfo{}, fmt.Errorf("repotest: %s: %w", path, repo.ErrNotFound)
	}
	return repo.ObjectInfo{Path: path, Size: int64(len(data)), ModTime: s.modTime[path]}, nil
}

func (s *Store) AtomicUpload(ctx context.Context, path string) (repo.ObjectWriter, error) {
	return &writer{store: s, path: path}, nil
}

type writer struct {
	store   *Store
	path    string
	buf     bytes.Buffer
	closed  bool
	aborted bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed || w.aborted {
		return 0, fmt.Errorf("repotest: write after close/abort")
	}
	return w.buf.Write(p)
}

func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.store.Put(w.path, w.buf.Bytes())
	return nil
}

func (w *writer) Abort() error {
	w.aborted = true
	return nil
}

var _ repo.ObjectStore = (*Store)(nil)
