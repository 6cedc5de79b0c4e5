package verify

import (
	"sort"
	"strings"

	"github.com/pgbackup/corebackup/pkg/manifest"
	"github.com/pgbackup/corebackup/pkg/walrange"
)

// walGap is one stretch of WAL ordinals, on a single timeline, for which no
// storage object was ever found: either between two walRuns or unbounded
// past the last one.
type walGap struct {
	Timeline string
	Start    uint64
	Stop     *uint64 // nil means unbounded
}

// buildGaps walks runs (already sorted by construction) and reports the
// inter-run gaps and the final unbounded gap past the last run. It does not
// report a leading gap before the first run: with no prior anchor segment,
// there is no well-defined gap start for that stretch.
func buildGaps(runs []walRun, walSegmentSize uint64, pgVersion int) []walGap {
	var gaps []walGap
	for i := 1; i < len(runs); i++ {
		prev, cur := runs[i-1], runs[i]
		if prev.Timeline != cur.Timeline {
			continue
		}
		next, err := walrange.Next(prev.Stop, walSegmentSize, pgVersion)
		if err != nil {
			continue
		}
		_, startOrd, err := walrange.Ordinal(next, walSegmentSize, pgVersion)
		if err != nil {
			continue
		}
		_, stopOrd, err := walrange.Ordinal(cur.Start, walSegmentSize, pgVersion)
		if err != nil || stopOrd <= startOrd {
			continue
		}
		stop := stopOrd
		gaps = append(gaps, walGap{Timeline: cur.Timeline, Start: startOrd, Stop: &stop})
	}
	if len(runs) == 0 {
		return gaps
	}
	last := runs[len(runs)-1]
	next, err := walrange.Next(last.Stop, walSegmentSize, pgVersion)
	if err != nil {
		return gaps
	}
	_, startOrd, err := walrange.Ordinal(next, walSegmentSize, pgVersion)
	if err != nil {
		return gaps
	}
	gaps = append(gaps, walGap{Timeline: last.Timeline, Start: startOrd, Stop: nil})
	return gaps
}

// gapOverlap returns how many ordinals of g fall inside [startOrd, stopOrd)
// on the given timeline.
func gapOverlap(g walGap, timeline string, startOrd, stopOrd uint64) uint64 {
	if g.Timeline != timeline || stopOrd <= startOrd {
		return 0
	}
	lo := g.Start
	if startOrd > lo {
		lo = startOrd
	}
	hi := stopOrd
	if g.Stop != nil && *g.Stop < hi {
		hi = *g.Stop
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// addOutcome folds one job Result's Outcome into a running Counts.
func addOutcome(c *Counts, o Outcome) {
	switch o {
	case FileMissing:
		c.Missing++
	case ChecksumMismatch:
		c.ChecksumInvalid++
	case SizeInvalid:
		c.SizeInvalid++
	case OtherError:
		c.Other++
	}
}

// reduceResults folds per-job verify results into per-backup and
// per-archive-id Counts, reconciles WAL coverage gaps and in-range invalid
// segments against each backup's claimed WAL range, propagates a
// referenced file's failure onto the backup that defers to it, and
// resolves each backup's final Status.
func reduceResults(
	results []Result,
	archiveIDs []string,
	archiveRuns map[string][]walRun,
	archiveDupCounts map[string]int,
	selectedLabels []string,
	manifests map[string]*manifest.Manifest,
	diskLabels []string,
	currentBackups []string,
	walSegmentSize uint64,
	pgVersion int,
) ([]ArchiveResult, []BackupResult) {
	archiveCounts := map[string]*Counts{}
	for _, id := range archiveIDs {
		c := &Counts{}
		c.Other += archiveDupCounts[id]
		archiveCounts[id] = c
	}

	backupCounts := map[string]*Counts{}
	fileOutcome := map[string]map[string]Outcome{}
	for _, label := range selectedLabels {
		backupCounts[label] = &Counts{}
		fileOutcome[label] = map[string]Outcome{}
	}

	// invalidOrds[archiveID][timeline] holds the ordinal of every
	// non-Ok WAL job, for Stage E's "invalid segment inside a range"
	// accounting.
	invalidOrds := map[string]map[string][]uint64{}

	for _, r := range results {
		if r.Job.IsWAL {
			c := archiveCounts[r.Job.Namespace]
			if c == nil {
				c = &Counts{}
				archiveCounts[r.Job.Namespace] = c
			}
			if r.Outcome == Ok {
				continue
			}
			addOutcome(c, r.Outcome)
			name := r.Job.Path[strings.LastIndex(r.Job.Path, "/")+1:]
			if seg, _, ok := parseWALFilename(name); ok {
				if timeline, ord, err := walrange.Ordinal(seg, walSegmentSize, pgVersion); err == nil {
					if invalidOrds[r.Job.Namespace] == nil {
						invalidOrds[r.Job.Namespace] = map[string][]uint64{}
					}
					invalidOrds[r.Job.Namespace][timeline] = append(invalidOrds[r.Job.Namespace][timeline], ord)
				}
			}
			continue
		}
		c := backupCounts[r.Job.Namespace]
		if c == nil {
			c = &Counts{}
			backupCounts[r.Job.Namespace] = c
		}
		addOutcome(c, r.Outcome)
		if fo, ok := fileOutcome[r.Job.Namespace]; ok {
			fo[r.Job.ManifestPath] = r.Outcome
		}
	}

	// A file this backup defers to a prior backup fails here too whenever
	// the referenced copy failed, or its owning manifest never loaded.
	for _, label := range selectedLabels {
		m := manifests[label]
		if m == nil {
			continue
		}
		c := backupCounts[label]
		for _, f := range m.Files {
			if f.Reference == "" || f.Reference == label {
				continue
			}
			refOutcome, ok := fileOutcome[f.Reference][f.Path]
			if !ok {
				if manifests[f.Reference] == nil {
					c.Other++
				}
				continue
			}
			if refOutcome != Ok {
				addOutcome(c, refOutcome)
			}
		}
	}

	// Stage E: WAL gap and in-range-invalid-segment reconciliation, summed
	// across every archive-id whose timeline matches this backup's range.
	for _, label := range selectedLabels {
		m := manifests[label]
		if m == nil || m.Data.StartWAL == "" || m.Data.StopWAL == "" {
			continue
		}
		timeline, startOrd, err := walrange.Ordinal(m.Data.StartWAL, walSegmentSize, pgVersion)
		if err != nil {
			continue
		}
		_, stopOrd, err := walrange.Ordinal(m.Data.StopWAL, walSegmentSize, pgVersion)
		if err != nil {
			continue
		}
		stopExclusive := stopOrd + 1

		for _, id := range archiveIDs {
			gaps := buildGaps(archiveRuns[id], walSegmentSize, pgVersion)
			var walInvalid uint64
			for _, g := range gaps {
				walInvalid += gapOverlap(g, timeline, startOrd, stopExclusive)
			}
			for _, ord := range invalidOrds[id][timeline] {
				if ord >= startOrd && ord < stopExclusive {
					walInvalid++
				}
			}
			if walInvalid == 0 {
				continue
			}
			backupCounts[label].WALInvalid += int(walInvalid)
			archiveCounts[id].WALInvalid += int(walInvalid)
		}
	}

	newest := ""
	for _, l := range diskLabels {
		if l > newest {
			newest = l
		}
	}
	isCurrent := map[string]bool{}
	for _, l := range currentBackups {
		isCurrent[l] = true
	}

	var backupResults []BackupResult
	for _, label := range selectedLabels {
		m := manifests[label]
		c := backupCounts[label]
		var status Status
		switch {
		case m == nil:
			if label == newest && newest != "" && !isCurrent[label] {
				status = InProgress
			} else {
				status = MissingManifest
			}
		case len(m.Files) == 0:
			c.Other++
			status = Invalid
		case c.Invalid():
			status = Invalid
		default:
			status = Valid
		}
		backupResults = append(backupResults, BackupResult{Label: label, Status: status, Counts: *c})
	}
	sort.Slice(backupResults, func(i, j int) bool { return backupResults[i].Label < backupResults[j].Label })

	var archiveResults []ArchiveResult
	for _, id := range archiveIDs {
		archiveResults = append(archiveResults, ArchiveResult{ArchiveID: id, Counts: *archiveCounts[id]})
	}
	sort.Slice(archiveResults, func(i, j int) bool { return archiveResults[i].ArchiveID < archiveResults[j].ArchiveID })

	return archiveResults, backupResults
}
