package verify

import (
	"context"
	"sort"
	"strings"

	"github.com/pgbackup/corebackup/internal/logger"
	"github.com/pgbackup/corebackup/pkg/filter"
	"github.com/pgbackup/corebackup/pkg/manifest"
	"github.com/pgbackup/corebackup/pkg/repo"
	"github.com/pgbackup/corebackup/pkg/walrange"
)

// walFile is one parsed WAL object found under an archive-id directory.
type walFile struct {
	Segment string
	Sha1Hex string
	Path    string
}

// walRun is a maximal contiguous, same-timeline run of WAL segments.
type walRun struct {
	Timeline string
	Start    string
	Stop     string
}

// listBackupLabels returns every backup label with a manifest directory
// under "backup/".
func listBackupLabels(ctx context.Context, store repo.ObjectStore) ([]string, error) {
	objs, err := store.List(ctx, "backup/")
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var labels []string
	for _, o := range objs {
		parts := strings.SplitN(strings.TrimPrefix(o.Path, "backup/"), "/", 2)
		if len(parts) < 2 {
			continue // backup.info / backup.info.copy live directly under backup/
		}
		label := parts[0]
		if !seen[label] {
			seen[label] = true
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)
	return labels, nil
}

// listArchiveIDs returns every archive-id (cluster version-id) directory
// under "archive/".
func listArchiveIDs(ctx context.Context, store repo.ObjectStore) ([]string, error) {
	objs, err := store.List(ctx, "archive/")
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var ids []string
	for _, o := range objs {
		parts := strings.SplitN(strings.TrimPrefix(o.Path, "archive/"), "/", 2)
		if len(parts) < 2 {
			continue // archive.info / archive.info.copy
		}
		id := parts[0]
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// listWALFiles returns every WAL object under the given archive-id,
// deduplicating same-segment files with different content hashes: every
// copy of a duplicated segment is skipped and one error logged, rather
// than guessing which copy is authentic. duplicateCount is the number of
// distinct segment names that had more than one differing copy.
func listWALFiles(ctx context.Context, store repo.ObjectStore, archiveID string) (files []walFile, duplicateCount int, err error) {
	objs, err := store.List(ctx, "archive/"+archiveID+"/")
	if err != nil {
		return nil, 0, err
	}
	bySegment := map[string][]walFile{}
	var order []string
	for _, o := range objs {
		name := o.Path[strings.LastIndex(o.Path, "/")+1:]
		segment, sha1Hex, ok := parseWALFilename(name)
		if !ok {
			continue // archive.info-style entries never land under a timeline dir
		}
		if _, exists := bySegment[segment]; !exists {
			order = append(order, segment)
		}
		bySegment[segment] = append(bySegment[segment], walFile{Segment: segment, Sha1Hex: sha1Hex, Path: o.Path})
	}
	sort.Strings(order)
	for _, seg := range order {
		copies := bySegment[seg]
		if len(copies) > 1 {
			duplicateCount++
			logger.WarnCtx(ctx, "duplicate WAL segment, excluding all copies",
				logger.ArchiveID(archiveID), logger.WALSegment(seg))
			continue
		}
		files = append(files, copies[0])
	}
	return files, duplicateCount, nil
}

// parseWALFilename splits a WAL object's base name into its segment name
// and content sha1, per the "<24hex>-<sha1-40hex>[.ext]" layout
// pkg/repo.WALFilePath writes.
func parseWALFilename(name string) (segment, sha1Hex string, ok bool) {
	if len(name) < walrange.SegmentNameLen+1+40 {
		return "", "", false
	}
	if name[walrange.SegmentNameLen] != '-' {
		return "", "", false
	}
	return name[:walrange.SegmentNameLen], name[walrange.SegmentNameLen+1 : walrange.SegmentNameLen+1+40], true
}

// buildWALRuns groups files (already deduplicated, any timeline) into
// maximal contiguous same-timeline runs.
func buildWALRuns(files []walFile, walSegmentSize uint64, pgVersion int) []walRun {
	segments := make([]string, len(files))
	for i, f := range files {
		segments[i] = f.Segment
	}
	sort.Strings(segments)

	var runs []walRun
	for _, seg := range segments {
		if len(runs) > 0 {
			last := &runs[len(runs)-1]
			if walrange.SameTimeline(last.Stop, seg) {
				if next, err := walrange.Next(last.Stop, walSegmentSize, pgVersion); err == nil && next == seg {
					last.Stop = seg
					continue
				}
			}
		}
		timeline, _ := walrange.Timeline(seg)
		runs = append(runs, walRun{Timeline: timeline, Start: seg, Stop: seg})
	}
	return runs
}

// buildWALJobs constructs one verify.Job per deduplicated WAL file.
func buildWALJobs(archiveID string, files []walFile, walSegmentSize uint64) []Job {
	jobs := make([]Job, 0, len(files))
	for _, f := range files {
		jobs = append(jobs, Job{
			Namespace:    archiveID,
			Path:         f.Path,
			IsWAL:        true,
			Filters:      filter.Chain{},
			ExpectedSha:  f.Sha1Hex,
			ExpectedSize: walSegmentSize,
		})
	}
	return jobs
}

// buildBackupJobs constructs one verify.Job per non-zero-length file this
// backup's manifest says it physically stores (Reference == ""); files
// deferring to a prior backup are verified when that backup's own jobs are
// built, and zero-length files have nothing to check.
func buildBackupJobs(label string, m *manifest.Manifest) []Job {
	var jobs []Job
	for _, f := range m.Files {
		if f.Reference != "" || f.Size == 0 {
			continue
		}
		path := repo.BackupFilePath(label, f.Path, f.BundleID, f.CompressExt)
		job := Job{
			Namespace:    label,
			Path:         path,
			ManifestPath: f.Path,
			Filters:      filter.Chain{},
		}
		if f.IsBundled() {
			offset := int64(f.BundleOffset)
			size := int64(f.SizeRepo)
			job.BundleOffset = &offset
			job.BundleSize = &size
		}
		if f.ChecksumRepoSha1 != "" {
			job.ExpectedSha = f.ChecksumRepoSha1
		} else {
			job.ExpectedSha = f.ChecksumSha1
		}
		if f.SizeRepo != 0 {
			job.ExpectedSize = f.SizeRepo
		} else {
			job.ExpectedSize = f.Size
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// expandReferences returns label plus every backup label it transitively
// depends on, loading each referenced manifest in turn and recursively
// adding every backup named in each filtered backup's reference list.
func expandReferences(ctx context.Context, store repo.ObjectStore, label string) ([]string, map[string]*manifest.Manifest) {
	manifests := map[string]*manifest.Manifest{}
	var order []string
	queue := []string{label}
	for len(queue) > 0 {
		l := queue[0]
		queue = queue[1:]
		if _, ok := manifests[l]; ok {
			continue
		}
		m, err := manifest.Load(ctx, store, l)
		if err != nil {
			manifests[l] = nil
			order = append(order, l)
			continue
		}
		manifests[l] = m
		order = append(order, l)
		queue = append(queue, m.ReferenceList()...)
	}
	return order, manifests
}

func timelinePrefix(seg string) string {
	if len(seg) < walrange.TimelinePrefixLen {
		return ""
	}
	return seg[:walrange.TimelinePrefixLen]
}
