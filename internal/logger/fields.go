package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging. Use these keys consistently
// across backup, restore, and verify log statements for log aggregation
// and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Operation & Job Identity
	// ========================================================================
	KeyOperation   = "operation"   // backup, restore, verify, archive-push, archive-get
	KeyArchiveID   = "archive_id"  // archive-id directory name
	KeyBackupLabel = "backup_label" // backup label being processed
	KeyWALSegment  = "wal_segment" // WAL segment name
	KeyJobKey      = "job_key"     // dispatcher job key: <archiveId>/<fullPath>
	KeyWorkerID    = "worker_id"   // worker pool worker identifier
	KeyProcedure   = "procedure"   // RPC procedure name
	KeyShare       = "share"       // share/export path
	KeyClientIP    = "client_ip"   // client IP address
	KeyUID         = "uid"         // client user id
	KeyGID         = "gid"         // client group id

	// ========================================================================
	// File & Block Addressing
	// ========================================================================
	KeyPath      = "path"      // repository or target file path
	KeySize      = "size"      // byte size
	KeyOffset    = "offset"    // byte offset
	KeyBlock     = "block"     // block ordinal within a file
	KeyReference = "reference" // block map reference index
	KeyChecksum  = "checksum"  // content checksum (formatted as hex)

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"       // error message
	KeyErrorCode  = "error_code"  // numeric/kind error code
	KeyStatus     = "status"      // result status: ok, error, missing, invalid
	KeyAttempt    = "attempt"     // retry attempt number
	KeyMaxRetries = "max_retries" // maximum retry attempts
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Operation returns a slog.Attr for the sub-operation type
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// ArchiveID returns a slog.Attr for the archive-id directory name
func ArchiveID(id string) slog.Attr {
	return slog.String(KeyArchiveID, id)
}

// BackupLabel returns a slog.Attr for a backup label
func BackupLabel(label string) slog.Attr {
	return slog.String(KeyBackupLabel, label)
}

// WALSegment returns a slog.Attr for a WAL segment name
func WALSegment(segment string) slog.Attr {
	return slog.String(KeyWALSegment, segment)
}

// JobKey returns a slog.Attr for a dispatcher job key
func JobKey(key string) slog.Attr {
	return slog.String(KeyJobKey, key)
}

// WorkerID returns a slog.Attr for a worker pool worker identifier
func WorkerID(id string) slog.Attr {
	return slog.String(KeyWorkerID, id)
}

// Path returns a slog.Attr for a repository or target file path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Size returns a slog.Attr for a byte size
func Size(s uint64) slog.Attr {
	return slog.Uint64(KeySize, s)
}

// Offset returns a slog.Attr for a byte offset
func Offset(off uint64) slog.Attr {
	return slog.Uint64(KeyOffset, off)
}

// Block returns a slog.Attr for a block ordinal
func Block(n uint64) slog.Attr {
	return slog.Uint64(KeyBlock, n)
}

// Reference returns a slog.Attr for a block map reference index
func Reference(ref uint32) slog.Attr {
	return slog.Any(KeyReference, ref)
}

// Checksum returns a slog.Attr for a content checksum, formatted as hex
func Checksum(sum []byte) slog.Attr {
	return slog.String(KeyChecksum, fmt.Sprintf("%x", sum))
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a numeric or kind-based error code
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}

// Status returns a slog.Attr for a result status string
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for the maximum retry attempts
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}
