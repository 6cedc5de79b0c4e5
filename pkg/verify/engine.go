package verify

import (
	"context"
	"fmt"

	"github.com/pgbackup/corebackup/pkg/manifest"
	"github.com/pgbackup/corebackup/pkg/repo"
)

// Engine drives the five-stage repository audit: load and cross-check the
// info files, enumerate backups and archive-ids, build the WAL range list,
// dispatch verify-file jobs, and reduce the results into a Report.
type Engine struct {
	Store repo.ObjectStore
	Pool  WorkerPool

	// WALSegmentSize and PGVersion parameterize the WAL segment-name
	// arithmetic pkg/walrange performs; both come from the cluster the
	// repository backs up.
	WALSegmentSize uint64
	PGVersion      int

	// BackupLabelFilter restricts verification to one backup and every
	// backup it transitively references. Empty means verify everything
	// found in the repository.
	BackupLabelFilter string
}

// Run executes the full staged algorithm and returns a Report. A non-nil
// error is reserved for context cancellation and similar plumbing failures;
// a repository that is simply broken or empty is reported via
// Report.Errors/Report.OK, not a returned error.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	// Stage A — info files.
	archiveInfo, archiveErr := manifest.LoadArchiveInfo(ctx, e.Store)
	backupInfo, backupErr := manifest.LoadBackupInfo(ctx, e.Store)
	if backupErr != nil {
		report.Errors = append(report.Errors, "No usable backup.info file")
	}
	if archiveErr != nil {
		report.Errors = append(report.Errors, "No usable archive.info file")
	}
	if archiveErr != nil || backupErr != nil {
		return report, nil
	}
	if !manifest.SameHistory(archiveInfo.History, backupInfo.History) {
		report.Errors = append(report.Errors, "archive.info and backup.info cluster history diverge")
	}
	report.StanzaOK = len(report.Errors) == 0

	// Stage B — enumerate work.
	diskLabels, err := listBackupLabels(ctx, e.Store)
	if err != nil {
		return nil, err
	}
	archiveIDs, err := listArchiveIDs(ctx, e.Store)
	if err != nil {
		return nil, err
	}

	selectedLabels := diskLabels
	manifests := map[string]*manifest.Manifest{}
	if e.BackupLabelFilter != "" {
		selectedLabels, manifests = expandReferences(ctx, e.Store, e.BackupLabelFilter)
	} else {
		for _, label := range diskLabels {
			m, loadErr := manifest.Load(ctx, e.Store, label)
			if loadErr != nil {
				manifests[label] = nil
				continue
			}
			manifests[label] = m
		}
	}

	// Stage C — WAL range construction.
	archiveRuns := map[string][]walRun{}
	archiveDupCounts := map[string]int{}
	archiveFiles := map[string][]walFile{}
	for _, id := range archiveIDs {
		files, dup, err := listWALFiles(ctx, e.Store, id)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("archive-id %s: %v", id, err))
			continue
		}
		archiveFiles[id] = files
		archiveDupCounts[id] = dup
		archiveRuns[id] = buildWALRuns(files, e.WALSegmentSize, e.PGVersion)
	}

	// Stage D — dispatch verify-file jobs.
	var jobs []Job
	for _, id := range archiveIDs {
		jobs = append(jobs, buildWALJobs(id, archiveFiles[id], e.WALSegmentSize)...)
	}
	for _, label := range selectedLabels {
		if m := manifests[label]; m != nil {
			jobs = append(jobs, buildBackupJobs(label, m)...)
		}
	}

	var results []Result
	if len(jobs) > 0 {
		for r := range e.Pool.Dispatch(ctx, jobs) {
			results = append(results, r)
		}
	}

	// Stage E — result reduction.
	report.Archives, report.Backups = reduceResults(
		results, archiveIDs, archiveRuns, archiveDupCounts,
		selectedLabels, manifests, diskLabels, backupInfo.CurrentBackups,
		e.WALSegmentSize, e.PGVersion,
	)

	return report, nil
}
