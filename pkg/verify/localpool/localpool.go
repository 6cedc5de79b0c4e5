// Package localpool is the in-process default implementation of
// verify.WorkerPool: a fixed-size goroutine pool reading from a shared job
// channel, each job retried against a configurable list of sleep intervals
// before being reported as OtherError, using github.com/cenkalti/backoff/v4
// for the retry/backoff loop.
package localpool

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pgbackup/corebackup/internal/logger"
	"github.com/pgbackup/corebackup/pkg/repo"
	"github.com/pgbackup/corebackup/pkg/verify"
)

// JobObserver receives one observation per completed job, after retries are
// exhausted. Satisfied by *pkg/metrics.VerifyMetrics; nil disables
// observation.
type JobObserver interface {
	ObserveJob(outcome verify.Outcome, duration time.Duration)
}

// Pool is an in-process verify.WorkerPool.
type Pool struct {
	store     repo.ObjectStore
	workers   int
	intervals []time.Duration
	observer  JobObserver
}

// New returns a Pool reading objects from store with the given worker
// count. intervals is the configurable retry sleep schedule; an empty
// schedule means no retries.
func New(store repo.ObjectStore, workers int, intervals []time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{store: store, workers: workers, intervals: intervals}
}

// WithObserver sets a JobObserver notified once per completed job. Returns
// p for chaining.
func (p *Pool) WithObserver(observer JobObserver) *Pool {
	p.observer = observer
	return p
}

// Dispatch implements verify.WorkerPool.
func (p *Pool) Dispatch(ctx context.Context, jobs []verify.Job) <-chan verify.Result {
	out := make(chan verify.Result, len(jobs))
	jobCh := make(chan verify.Job)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				out <- p.runWithRetry(ctx, job)
			}
		}()
	}

	go func() {
		defer close(jobCh)
		for _, j := range jobs {
			select {
			case jobCh <- j:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// listBackOff replays a configured list of sleep intervals, then stops
// retrying. It implements backoff.BackOff.
type listBackOff struct {
	intervals []time.Duration
	idx       int
}

func (b *listBackOff) NextBackOff() time.Duration {
	if b.idx >= len(b.intervals) {
		return backoff.Stop
	}
	d := b.intervals[b.idx]
	b.idx++
	return d
}

func (b *listBackOff) Reset() { b.idx = 0 }

func (p *Pool) runWithRetry(ctx context.Context, job verify.Job) verify.Result {
	start := time.Now()
	var result verify.Result
	var firstErr error
	attempt := 0

	operation := func() error {
		attempt++
		result = verifyOne(ctx, p.store, job)
		if result.Outcome != verify.OtherError {
			return nil
		}
		if firstErr == nil {
			firstErr = result.Err
		}
		return result.Err
	}

	notify := func(err error, next time.Duration) {
		logger.WarnCtx(ctx, "verify job failed, retrying",
			logger.Path(job.Path), logger.Attempt(attempt), logger.MaxRetries(len(p.intervals)), logger.Err(err))
	}

	_ = backoff.RetryNotify(operation, &listBackOff{intervals: p.intervals}, notify)

	if result.Outcome == verify.OtherError && firstErr != nil {
		result.Err = firstErr
	}
	if p.observer != nil {
		p.observer.ObserveJob(result.Outcome, time.Since(start))
	}
	return result
}

func verifyOne(ctx context.Context, store repo.ObjectStore, job verify.Job) verify.Result {
	r, err := openJobObject(ctx, store, job)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return verify.Result{Job: job, Outcome: verify.FileMissing, Err: err}
		}
		return verify.Result{Job: job, Outcome: verify.OtherError, Err: err}
	}
	defer r.Close()

	wrapped, err := job.Filters.WrapReader(r)
	if err != nil {
		return verify.Result{Job: job, Outcome: verify.OtherError, Err: err}
	}

	h := sha1.New()
	n, err := io.Copy(h, wrapped)
	if err != nil {
		return verify.Result{Job: job, Outcome: verify.OtherError, Err: err}
	}
	if uint64(n) != job.ExpectedSize {
		return verify.Result{Job: job, Outcome: verify.SizeInvalid}
	}
	if sum := hex.EncodeToString(h.Sum(nil)); job.ExpectedSha != "" && sum != job.ExpectedSha {
		return verify.Result{Job: job, Outcome: verify.ChecksumMismatch}
	}
	return verify.Result{Job: job, Outcome: verify.Ok}
}

func openJobObject(ctx context.Context, store repo.ObjectStore, job verify.Job) (io.ReadCloser, error) {
	if job.BundleOffset != nil && job.BundleSize != nil {
		return store.OpenRange(ctx, job.Path, *job.BundleOffset, *job.BundleSize)
	}
	return store.Open(ctx, job.Path)
}

var _ verify.WorkerPool = (*Pool)(nil)
