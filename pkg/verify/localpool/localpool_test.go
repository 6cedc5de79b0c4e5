package localpool

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pgbackup/corebackup/pkg/repo"
	"github.com/pgbackup/corebackup/pkg/repo/repotest"
	"github.com/pgbackup/corebackup/pkg/verify"
)

func shaHex(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

func TestDispatchReportsOkForMatchingContent(t *testing.T) {
	store := repotest.New()
	content := []byte("hello world")
	store.Put("backup/20260101-000000F/base/PG_VERSION", content)

	pool := New(store, 2, nil)
	job := verify.Job{
		Namespace:    "20260101-000000F",
		Path:         "backup/20260101-000000F/base/PG_VERSION",
		ExpectedSha:  shaHex(content),
		ExpectedSize: uint64(len(content)),
	}
	results := drain(pool.Dispatch(context.Background(), []verify.Job{job}))
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Outcome != verify.Ok {
		t.Fatalf("outcome = %v, want Ok", results[0].Outcome)
	}
}

func TestDispatchReportsFileMissing(t *testing.T) {
	store := repotest.New()
	pool := New(store, 1, nil)
	job := verify.Job{Namespace: "20260101-000000F", Path: "backup/20260101-000000F/base/PG_VERSION"}
	results := drain(pool.Dispatch(context.Background(), []verify.Job{job}))
	if results[0].Outcome != verify.FileMissing {
		t.Fatalf("outcome = %v, want FileMissing", results[0].Outcome)
	}
	if !errors.Is(results[0].Err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want wrapping ErrNotFound", results[0].Err)
	}
}

func TestDispatchReportsChecksumMismatch(t *testing.T) {
	store := repotest.New()
	content := []byte("hello world")
	store.Put("backup/20260101-000000F/base/PG_VERSION", content)

	pool := New(store, 1, nil)
	job := verify.Job{
		Namespace:    "20260101-000000F",
		Path:         "backup/20260101-000000F/base/PG_VERSION",
		ExpectedSha:  shaHex([]byte("different")),
		ExpectedSize: uint64(len(content)),
	}
	results := drain(pool.Dispatch(context.Background(), []verify.Job{job}))
	if results[0].Outcome != verify.ChecksumMismatch {
		t.Fatalf("outcome = %v, want ChecksumMismatch", results[0].Outcome)
	}
}

func TestDispatchReportsSizeInvalid(t *testing.T) {
	store := repotest.New()
	content := []byte("hello world")
	store.Put("backup/20260101-000000F/base/PG_VERSION", content)

	pool := New(store, 1, nil)
	job := verify.Job{
		Namespace:    "20260101-000000F",
		Path:         "backup/20260101-000000F/base/PG_VERSION",
		ExpectedSha:  shaHex(content),
		ExpectedSize: uint64(len(content)) + 1,
	}
	results := drain(pool.Dispatch(context.Background(), []verify.Job{job}))
	if results[0].Outcome != verify.SizeInvalid {
		t.Fatalf("outcome = %v, want SizeInvalid", results[0].Outcome)
	}
}

func TestDispatchRetriesTransientErrorsThenSucceeds(t *testing.T) {
	content := []byte("hello world")
	store := &flakyStore{inner: repotest.New(), failures: 2}
	store.inner.Put("backup/20260101-000000F/base/PG_VERSION", content)

	pool := New(store, 1, []time.Duration{0, 0, 0})
	job := verify.Job{
		Namespace:    "20260101-000000F",
		Path:         "backup/20260101-000000F/base/PG_VERSION",
		ExpectedSha:  shaHex(content),
		ExpectedSize: uint64(len(content)),
	}
	results := drain(pool.Dispatch(context.Background(), []verify.Job{job}))
	if results[0].Outcome != verify.Ok {
		t.Fatalf("outcome = %v, want Ok after retries", results[0].Outcome)
	}
	if got := atomic.LoadInt32(&store.calls); got != 3 {
		t.Fatalf("calls = %d, want 3 (2 failures + 1 success)", got)
	}
}

func TestDispatchGivesUpAfterExhaustingRetrySchedule(t *testing.T) {
	content := []byte("hello world")
	store := &flakyStore{inner: repotest.New(), failures: 100}
	store.inner.Put("backup/20260101-000000F/base/PG_VERSION", content)

	pool := New(store, 1, []time.Duration{0, 0})
	job := verify.Job{Namespace: "20260101-000000F", Path: "backup/20260101-000000F/base/PG_VERSION"}
	results := drain(pool.Dispatch(context.Background(), []verify.Job{job}))
	if results[0].Outcome != verify.OtherError {
		t.Fatalf("outcome = %v, want OtherError", results[0].Outcome)
	}
}

func TestDispatchDrainsMultipleJobsAcrossWorkers(t *testing.T) {
	store := repotest.New()
	var jobs []verify.Job
	for i := 0; i < 20; i++ {
		path := "backup/20260101-000000F/base/file" + string(rune('a'+i))
		content := []byte{byte(i)}
		store.Put(path, content)
		jobs = append(jobs, verify.Job{
			Namespace:    "20260101-000000F",
			Path:         path,
			ExpectedSha:  shaHex(content),
			ExpectedSize: 1,
		})
	}
	pool := New(store, 4, nil)
	results := drain(pool.Dispatch(context.Background(), jobs))
	if len(results) != len(jobs) {
		t.Fatalf("got %d results, want %d", len(results), len(jobs))
	}
	for _, r := range results {
		if r.Outcome != verify.Ok {
			t.Fatalf("job %s outcome = %v, want Ok", r.Job.Path, r.Outcome)
		}
	}
}

func drain(ch <-chan verify.Result) []verify.Result {
	var out []verify.Result
	for r := range ch {
		out = append(out, r)
	}
	return out
}

// flakyStore fails Open with a transient error the first `failures` times,
// then delegates to inner.
type flakyStore struct {
	inner    *repotest.Store
	failures int32
	calls    int32
}

func (f *flakyStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	atomic.AddInt32(&f.calls, 1)
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return nil, errors.New("transient read error")
	}
	return f.inner.Open(ctx, path)
}

func (f *flakyStore) OpenRange(ctx context.Context, path string, offset, length int64) (io.ReadCloser, error) {
	return f.inner.OpenRange(ctx, path, offset, length)
}

func (f *flakyStore) List(ctx context.Context, prefix string) ([]repo.ObjectInfo, error) {
	return f.inner.List(ctx, prefix)
}

func (f *flakyStore) Stat(ctx context.Context, path string) (repo.ObjectInfo, error) {
	return f.inner.Stat(ctx, path)
}

func (f *flakyStore) AtomicUpload(ctx context.Context, path string) (repo.ObjectWriter, error) {
	return f.inner.AtomicUpload(ctx, path)
}

var _ repo.ObjectStore = (*flakyStore)(nil)
