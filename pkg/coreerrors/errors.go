// Package coreerrors provides the error taxonomy shared by every component
// of the backup/restore core. This is a leaf package with no internal
// dependencies, so it can be imported by the codec, planner, writer,
// manifest and verify packages without causing import cycles.
package coreerrors

import (
	"fmt"
)

// Kind identifies which row of the error taxonomy an error belongs to.
type Kind int

const (
	// KindFormat indicates a decoded structure violates its grammar
	// (block map, varint, manifest, info file).
	KindFormat Kind = iota + 1

	// KindChecksum indicates a computed hash did not match the stored hash.
	KindChecksum

	// KindFileMissing indicates an expected object is absent from the
	// repository.
	KindFileMissing

	// KindFileOpen indicates the repository refused to open an object.
	KindFileOpen

	// KindFileRead indicates a read from the repository was truncated or
	// otherwise failed.
	KindFileRead

	// KindFileWrite indicates a write to the repository failed.
	KindFileWrite

	// KindCrypto indicates decryption failed (wrong key or corrupted
	// payload).
	KindCrypto

	// KindArchiveMismatch indicates archive-id resolution found no
	// compatible history row.
	KindArchiveMismatch

	// KindProtocol indicates a worker response violated the job-dispatch
	// contract.
	KindProtocol
)

// String returns the error kind's taxonomy name.
func (k Kind) String() string {
	switch k {
	case KindFormat:
		return "FormatError"
	case KindChecksum:
		return "ChecksumError"
	case KindFileMissing:
		return "FileMissingError"
	case KindFileOpen:
		return "FileOpenError"
	case KindFileRead:
		return "FileReadError"
	case KindFileWrite:
		return "FileWriteError"
	case KindCrypto:
		return "CryptoError"
	case KindArchiveMismatch:
		return "ArchiveMismatchError"
	case KindProtocol:
		return "ProtocolError"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// CoreError is the concrete error type returned by every component. File and
// block/segment context are optional and only rendered when set.
type CoreError struct {
	Kind    Kind
	Message string
	File    string
	Block   int64 // -1 when not applicable
	Err     error // wrapped cause, if any
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	switch {
	case e.File != "" && e.Block >= 0:
		return fmt.Sprintf("%s: %s (file: %s, block: %d)", e.Kind, e.Message, e.File, e.Block)
	case e.File != "":
		return fmt.Sprintf("%s: %s (file: %s)", e.Kind, e.Message, e.File)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// Unwrap exposes the wrapped cause to errors.Is / errors.As.
func (e *CoreError) Unwrap() error {
	return e.Err
}

// ============================================================================
// Factory functions
// ============================================================================

// NewFormatError creates a FormatError, optionally scoped to a file.
func NewFormatError(file, reason string) *CoreError {
	return &CoreError{Kind: KindFormat, Message: reason, File: file, Block: -1}
}

// NewChecksumError creates a ChecksumError for a specific file and block
// index.
func NewChecksumError(file string, block int64) *CoreError {
	return &CoreError{
		Kind:    KindChecksum,
		Message: "computed checksum does not match block map entry",
		File:    file,
		Block:   block,
	}
}

// NewFileMissingError creates a FileMissingError for a repository object.
func NewFileMissingError(path string) *CoreError {
	return &CoreError{Kind: KindFileMissing, Message: "object not found in repository", File: path, Block: -1}
}

// NewFileOpenError wraps an I/O error encountered opening a repository
// object.
func NewFileOpenError(path string, cause error) *CoreError {
	return &CoreError{Kind: KindFileOpen, Message: "unable to open object", File: path, Block: -1, Err: cause}
}

// NewFileReadError wraps an I/O error encountered reading a repository
// object.
func NewFileReadError(path string, cause error) *CoreError {
	return &CoreError{Kind: KindFileRead, Message: "read failed", File: path, Block: -1, Err: cause}
}

// NewFileWriteError wraps an I/O error encountered writing a repository
// object.
func NewFileWriteError(path string, cause error) *CoreError {
	return &CoreError{Kind: KindFileWrite, Message: "write failed", File: path, Block: -1, Err: cause}
}

// NewCryptoError wraps a decryption failure.
func NewCryptoError(path string, cause error) *CoreError {
	return &CoreError{Kind: KindCrypto, Message: "decrypt failed", File: path, Block: -1, Err: cause}
}

// NewArchiveMismatchError creates an ArchiveMismatchError for an archive id
// that has no compatible history row.
func NewArchiveMismatchError(archiveID string) *CoreError {
	return &CoreError{Kind: KindArchiveMismatch, Message: "no compatible history entry", File: archiveID, Block: -1}
}

// NewProtocolError wraps a worker-dispatch contract violation.
func NewProtocolError(jobKey string, cause error) *CoreError {
	return &CoreError{Kind: KindProtocol, Message: "worker response violated contract", File: jobKey, Block: -1, Err: cause}
}

// ============================================================================
// Type checking helpers
// ============================================================================

// Is reports whether err is a *CoreError of the given kind.
func Is(err error, kind Kind) bool {
	ce, ok := err.(*CoreError)
	return ok && ce.Kind == kind
}

// IsFormatError reports whether err is a FormatError.
func IsFormatError(err error) bool { return Is(err, KindFormat) }

// IsChecksumError reports whether err is a ChecksumError.
func IsChecksumError(err error) bool { return Is(err, KindChecksum) }

// IsFileMissingError reports whether err is a FileMissingError.
func IsFileMissingError(err error) bool { return Is(err, KindFileMissing) }
