package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds operation-scoped logging context: which dispatcher job
// carries it, which archive and backup it concerns, and which WAL segment
// or worker it is about.
type LogContext struct {
	TraceID     string    // OpenTelemetry trace ID
	SpanID      string    // OpenTelemetry span ID
	Operation   string    // backup, restore, verify, archive-push, archive-get
	ArchiveID   string    // archive-id directory name (PostgreSQL version-id)
	BackupLabel string    // backup label currently being processed
	WALSegment  string    // WAL segment name currently being processed
	JobKey      string    // dispatcher job key: <archiveId>/<fullPath>
	WorkerID    string    // worker pool worker identifier
	Procedure   string    // RPC procedure name
	Share       string    // share/export path
	ClientIP    string    // client IP address
	UID         uint32    // client user id
	GID         uint32    // client group id
	StartTime   time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext scoped to the given worker.
func NewLogContext(workerID string) *LogContext {
	return &LogContext{
		WorkerID:  workerID,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:     lc.TraceID,
		SpanID:      lc.SpanID,
		Operation:   lc.Operation,
		ArchiveID:   lc.ArchiveID,
		BackupLabel: lc.BackupLabel,
		WALSegment:  lc.WALSegment,
		JobKey:      lc.JobKey,
		WorkerID:    lc.WorkerID,
		Procedure:   lc.Procedure,
		Share:       lc.Share,
		ClientIP:    lc.ClientIP,
		UID:         lc.UID,
		GID:         lc.GID,
		StartTime:   lc.StartTime,
	}
}

// WithOperation returns a copy with the operation name set
func (lc *LogContext) WithOperation(operation string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Operation = operation
	}
	return clone
}

// WithArchive returns a copy with the archive id and backup label set
func (lc *LogContext) WithArchive(archiveID, backupLabel string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.ArchiveID = archiveID
		clone.BackupLabel = backupLabel
	}
	return clone
}

// WithJob returns a copy with the dispatcher job key and WAL segment set
func (lc *LogContext) WithJob(jobKey, walSegment string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.JobKey = jobKey
		clone.WALSegment = walSegment
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
