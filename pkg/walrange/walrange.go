// Package walrange implements WAL segment name algebra: advancing a
// segment name within its timeline, measuring the distance between two
// segments, and comparing segment names safely across timelines.
package walrange

import (
	"fmt"
	"strconv"

	"github.com/pgbackup/corebackup/pkg/coreerrors"
)

// SegmentNameLen is the fixed length of a WAL segment name: 8 hex digits of
// timeline, followed by a 16-hex-digit log/seg pair.
const SegmentNameLen = 24

// TimelinePrefixLen is the length of the timeline-identifying prefix shared
// by every segment on the same WAL stream.
const TimelinePrefixLen = 8

// parse splits a segment name into its timeline id, log id, and segment id.
// The 16 hex digits following the timeline are themselves split into two
// 8-hex-digit halves: the high bits (logId, stable across a WAL "log file")
// and the low bits (segmentId, the within-log segment counter, derived by
// dividing a byte offset by the WAL segment size).
func parse(seg string) (timeline, logID, segmentID uint32, err error) {
	if len(seg) != SegmentNameLen {
		return 0, 0, 0, coreerrors.NewFormatError(seg, fmt.Sprintf("wal segment name must be %d hex digits", SegmentNameLen))
	}
	t, err1 := strconv.ParseUint(seg[0:8], 16, 32)
	l, err2 := strconv.ParseUint(seg[8:16], 16, 32)
	s, err3 := strconv.ParseUint(seg[16:24], 16, 32)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, coreerrors.NewFormatError(seg, "wal segment name is not valid hex")
	}
	return uint32(t), uint32(l), uint32(s), nil
}

func format(timeline, logID, segmentID uint32) string {
	return fmt.Sprintf("%08X%08X%08X", timeline, logID, segmentID)
}

// segmentsPerLog returns how many segmentId values fit in one logId before
// the counter wraps and logId advances, given a WAL segment size in bytes.
// Pre-9.3 clusters reserve the last segment id of every log file; later
// versions use the full 32-bit range.
func segmentsPerLog(walSegmentSize uint64, pgVersion int) uint32 {
	perLog := uint32(0x100000000 / walSegmentSize)
	if pgVersion < 90300 {
		perLog--
	}
	return perLog
}

// Timeline returns a segment name's 8-hex-digit timeline prefix without
// fully parsing the rest of the name. Callers MUST compare this prefix
// before using distance-style arithmetic across two names.
func Timeline(seg string) (string, error) {
	if len(seg) < TimelinePrefixLen {
		return "", coreerrors.NewFormatError(seg, "wal segment name shorter than timeline prefix")
	}
	return seg[:TimelinePrefixLen], nil
}

// SameTimeline reports whether a and b share a timeline prefix.
func SameTimeline(a, b string) bool {
	ta, errA := Timeline(a)
	tb, errB := Timeline(b)
	return errA == nil && errB == nil && ta == tb
}

// Next returns the segment immediately following seg on its own timeline.
// The timeline bytes are preserved.
func Next(seg string, walSegmentSize uint64, pgVersion int) (string, error) {
	timeline, logID, segmentID, err := parse(seg)
	if err != nil {
		return "", err
	}
	segmentID++
	if segmentID >= segmentsPerLog(walSegmentSize, pgVersion) {
		segmentID = 0
		logID++
	}
	return format(timeline, logID, segmentID), nil
}

// toOrdinal collapses a segment's (logID, segmentID) pair into a single
// monotonic counter so Dist can subtract two segments directly. Only valid
// for segments sharing a timeline, which callers must have already checked.
func toOrdinal(logID, segmentID uint32, walSegmentSize uint64, pgVersion int) uint64 {
	return uint64(logID)*uint64(segmentsPerLog(walSegmentSize, pgVersion)) + uint64(segmentID)
}

// Dist returns the non-negative number of Next steps from a to b. a and b
// must share a timeline and satisfy a <= b under StrCmp; otherwise Dist
// returns a coreerrors FormatError.
func Dist(a, b string, walSegmentSize uint64, pgVersion int) (int, error) {
	ta, la, sa, err := parse(a)
	if err != nil {
		return 0, err
	}
	tb, lb, sb, err := parse(b)
	if err != nil {
		return 0, err
	}
	if ta != tb {
		return 0, coreerrors.NewFormatError(a, fmt.Sprintf("wal segment %q and %q are on different timelines", a, b))
	}
	oa := toOrdinal(la, sa, walSegmentSize, pgVersion)
	ob := toOrdinal(lb, sb, walSegmentSize, pgVersion)
	if ob < oa {
		return 0, coreerrors.NewFormatError(a, fmt.Sprintf("wal segment %q precedes %q", b, a))
	}
	return int(ob - oa), nil
}

// Ordinal returns seg's timeline prefix and its position on that timeline
// as a monotonic counter, suitable for plain integer range arithmetic
// (interval union/intersection) once the caller has confirmed two ordinals
// share a timeline.
func Ordinal(seg string, walSegmentSize uint64, pgVersion int) (timeline string, ordinal uint64, err error) {
	t, logID, segmentID, err := parse(seg)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("%08X", t), toOrdinal(logID, segmentID, walSegmentSize, pgVersion), nil
}

// StrCmp compares two segment names lexicographically, which gives correct
// ordering within a single timeline. It is named to match the
// domain-level operation name, not Go's usual string-comparison idiom.
func StrCmp(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
