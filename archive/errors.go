// Package archive implements the mmap-backed, append-only message
// log: a frame store, a parallel fixed-size index, and the Archive
// type that assembles them behind append/read/replay/flush and a
// crash-recovery path. The archive has exactly one producer; any
// number of readers may call Read/Replay concurrently once they
// observe the msg_count published by the most recent Flush.
package archive

import "errors"

var (
	// ErrNotFound is returned by Read/ReadChecked when seq is at or
	// beyond the archive's current message count.
	ErrNotFound = errors.New("archive: sequence not found")
	// ErrChecksumMismatch is returned by ReadChecked when a frame's
	// stored CRC32 does not match its payload.
	ErrChecksumMismatch = errors.New("archive: checksum mismatch")
	// ErrArchiveFull is returned by Append when the frame would not
	// fit within the archive's configured capacity.
	ErrArchiveFull = errors.New("archive: capacity exceeded")
	// ErrArchiveCorrupt is returned when the on-disk header fails
	// validation (bad magic or version) and cannot be trusted.
	ErrArchiveCorrupt = errors.New("archive: corrupt frame store")
)
