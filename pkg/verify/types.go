// Package verify implements the repository verification engine: checking
// that every info file, manifest, backup file and WAL segment a repository
// claims to hold is present, correctly sized, and checksum-clean, then
// reducing per-file outcomes into a per-backup and per-archive-id status
// report. The WorkerPool capability interface applies the same
// narrow-interface split pkg/repo.ObjectStore uses, to a pool of verify
// workers instead of a pool of storage backends.
package verify

import (
	"context"

	"github.com/pgbackup/corebackup/pkg/filter"
)

// Outcome is the result of verifying one repository object.
type Outcome int

const (
	Ok Outcome = iota
	FileMissing
	ChecksumMismatch
	SizeInvalid
	OtherError
)

func (o Outcome) String() string {
	switch o {
	case Ok:
		return "ok"
	case FileMissing:
		return "missing"
	case ChecksumMismatch:
		return "checksum-invalid"
	case SizeInvalid:
		return "size-invalid"
	default:
		return "other"
	}
}

// Job is one dispatchable verify-file unit: a single repository object
// (a whole backup file, one file's slice of a bundle, or a WAL segment)
// along with what its expected contents are.
type Job struct {
	// Namespace groups a job for job-key/result-grouping purposes: a
	// backup label for backup-file jobs, an archive-id for WAL jobs.
	Namespace string
	Path      string
	IsWAL     bool

	// ManifestPath is the file's logical manifest path (empty for WAL jobs),
	// kept alongside the repository Path so Stage E can look a dependent
	// backup's referenced file back up by its own key instead of the
	// bundle/compression-qualified repository path.
	ManifestPath string

	// BundleOffset/BundleSize are both nil unless this file shares a
	// repository object with others.
	BundleOffset *int64
	BundleSize   *int64

	Filters      filter.Chain
	ExpectedSha  string
	ExpectedSize uint64
}

// Key is the dispatcher job key, "<namespace>/<path>", identifying a job.
// Results in this module are matched to their job through Result.Job, not
// through Key.
func (j Job) Key() string {
	return j.Namespace + "/" + j.Path
}

// Result is one completed Job's outcome.
type Result struct {
	Job     Job
	Outcome Outcome
	Err     error
}

// WorkerPool dispatches a batch of verify jobs and streams back their
// results as they complete, in arbitrary order: jobs for one archive-id
// complete in arbitrary order and are associated back via Result.Job. The
// returned channel is closed once every job has produced a result or ctx
// is canceled.
type WorkerPool interface {
	Dispatch(ctx context.Context, jobs []Job) <-chan Result
}

// Status is a backup's final verification status.
type Status int

const (
	Valid Status = iota
	Invalid
	InProgress
	MissingManifest
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	case InProgress:
		return "in-progress"
	case MissingManifest:
		return "missing-manifest"
	default:
		return "unknown"
	}
}

// Counts tallies job outcomes for one backup or one archive-id.
type Counts struct {
	Missing         int
	ChecksumInvalid int
	SizeInvalid     int
	WALInvalid      int
	Other           int
}

// Add folds another Counts into c.
func (c *Counts) Add(o Counts) {
	c.Missing += o.Missing
	c.ChecksumInvalid += o.ChecksumInvalid
	c.SizeInvalid += o.SizeInvalid
	c.WALInvalid += o.WALInvalid
	c.Other += o.Other
}

// Invalid reports whether any counter is non-zero.
func (c Counts) Invalid() bool {
	return c.Missing > 0 || c.ChecksumInvalid > 0 || c.SizeInvalid > 0 || c.WALInvalid > 0 || c.Other > 0
}

// BackupResult is one backup's verification outcome.
type BackupResult struct {
	Label  string
	Status Status
	Counts Counts
}

// ArchiveResult is one archive-id's WAL verification outcome.
type ArchiveResult struct {
	ArchiveID string
	Counts    Counts
}

// Report is the full output of an Engine.Run call.
type Report struct {
	StanzaOK bool
	Archives []ArchiveResult
	Backups  []BackupResult
	// Errors carries fatal, stanza-wide error strings (e.g. both copies of
	// backup.info missing), surfaced verbatim in text/JSON output.
	Errors []string
}

// OK reports whether every check passed: no fatal errors, every archive-id
// clean, every backup valid.
func (r *Report) OK() bool {
	if !r.StanzaOK || len(r.Errors) > 0 {
		return false
	}
	for _, a := range r.Archives {
		if a.Counts.Invalid() {
			return false
		}
	}
	for _, b := range r.Backups {
		if b.Status != Valid {
			return false
		}
	}
	return true
}
