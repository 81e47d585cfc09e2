// Package blunder implements the error taxonomy of the scrub engine
// on top of github.com/ansel1/merry, so that a single Go `error`
// value can carry a stack trace, a stable status code, and a human message
// through the walker, pipeline, and recovery state machine without losing
// information.
package blunder

import (
	"github.com/ansel1/merry"
	"golang.org/x/sys/unix"
)

// Status is the closed set of outcomes an operator-facing error can carry:
// the exit-code/error-mapping taxonomy the walker, pipeline, and recovery
// state machine report through.
type Status int

const (
	StatusOK Status = iota
	StatusCancelled
	StatusUncorrectable
	StatusOutOfMemory
	StatusInvalidArgument
	StatusIOError
	StatusChecksumError
	StatusHeaderError
	StatusGenerationError
	StatusSuperError
	StatusStructuralError
)

var statusKey = "blunder.status"

// AddStatus attaches a Status to err, wrapping it with merry if necessary.
func AddStatus(err error, status Status) error {
	if err == nil {
		err = merry.New("scrub error")
	}
	return merry.WithValue(err, statusKey, status)
}

// StatusOf extracts the Status previously attached with AddStatus. Errors
// with no attached status are reported as StatusIOError, the most common
// unclassified failure in the walker.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	if v, ok := merry.Value(err, statusKey).(Status); ok {
		return v
	}
	return StatusIOError
}

// Is reports whether err carries the given Status.
func Is(err error, status Status) bool {
	return StatusOf(err) == status
}

// Cancelled wraps err (or creates one) as a cooperative-cancellation signal.
// Cancellation is control flow, not a data fault, and must never be counted
// in the statistics record.
func Cancelled(format string, args ...interface{}) error {
	return AddStatus(merry.Errorf(format, args...), StatusCancelled)
}

// Uncorrectable wraps err as an uncorrectable-block outcome: every mirror
// was bad, or no clean page-set could be assembled.
func Uncorrectable(format string, args ...interface{}) error {
	return AddStatus(merry.Errorf(format, args...), StatusUncorrectable)
}

// OutOfMemory wraps err as a resource-exhaustion outcome; this bumps
// malloc_errors and aborts only the current Block, not the whole scan.
func OutOfMemory(format string, args ...interface{}) error {
	return AddStatus(merry.Errorf(format, args...), StatusOutOfMemory)
}

// InvalidArgument wraps err as a precondition failure: missing device,
// replace-in-progress conflict, nodesize > stripe length.
func InvalidArgument(format string, args ...interface{}) error {
	return AddStatus(merry.Errorf(format, args...), StatusInvalidArgument)
}

// IOError wraps err as a transient single-mirror I/O failure.
func IOError(format string, args ...interface{}) error {
	return AddStatus(merry.Errorf(format, args...), StatusIOError)
}

// ChecksumError wraps err as a payload checksum mismatch.
func ChecksumError(format string, args ...interface{}) error {
	return AddStatus(merry.Errorf(format, args...), StatusChecksumError)
}

// HeaderError wraps err as a tree-block/super-block header mismatch.
func HeaderError(format string, args ...interface{}) error {
	return AddStatus(merry.Errorf(format, args...), StatusHeaderError)
}

// GenerationError wraps err as a generation-number mismatch on a metadata
// block.
func GenerationError(format string, args ...interface{}) error {
	return AddStatus(merry.Errorf(format, args...), StatusGenerationError)
}

// SuperError wraps err as a super-block error: reported only, repaired
// out-of-band by the transaction manager on its next commit.
func SuperError(format string, args ...interface{}) error {
	return AddStatus(merry.Errorf(format, args...), StatusSuperError)
}

// StructuralError wraps err as a layout-invariant violation (a stripe-
// spanning tree block, a RAID map mismatch): the item is logged and
// skipped, never retried.
func StructuralError(format string, args ...interface{}) error {
	return AddStatus(merry.Errorf(format, args...), StatusStructuralError)
}

// IsCancelled is shorthand for Is(err, StatusCancelled).
func IsCancelled(err error) bool { return Is(err, StatusCancelled) }

// Errno maps a Status onto the closest POSIX errno, for collaborators that
// speak errno rather than this package's Status values.
func Errno(status Status) unix.Errno {
	switch status {
	case StatusOK:
		return 0
	case StatusOutOfMemory:
		return unix.ENOMEM
	case StatusInvalidArgument:
		return unix.EINVAL
	case StatusUncorrectable, StatusChecksumError, StatusHeaderError, StatusGenerationError:
		return unix.EIO
	case StatusCancelled:
		return unix.EINTR
	default:
		return unix.EIO
	}
}
