// Package blockio defines the ABI the scrub engine consumes from the
// block-submission layer: submit(batch, direction), submit-and-wait(batch,
// direction), add-page-to-batch, allocate-batch(max_pages). The block layer
// itself is out of scope here: this package only describes the shape of
// the collaborator, so that package scrub can be written against an
// interface and package ramdevice can provide an in-memory fake of it for
// tests.
package blockio

import "context"

// Direction distinguishes a scrub read from a repair/replace write.
type Direction int

const (
	DirectionRead Direction = iota
	DirectionWrite
)

func (d Direction) String() string {
	if d == DirectionWrite {
		return "write"
	}
	return "read"
}

// IO describes one physically and logically contiguous run of pages
// submitted as a single I/O — the wire shape of a scrub read-batch or
// write-batch once it crosses into the block layer.
type IO struct {
	Mirror int
	PhysOffset uint64
	LogOffset uint64
	PageSize uint64
	Pages [][]byte // len(Pages) pages, each PageSize bytes
}

// Length returns the total byte span of the IO.
func (io *IO) Length() uint64 {
	return uint64(len(io.Pages)) * io.PageSize
}

// CompletionFunc is invoked exactly once per submitted IO, with a non-nil
// err if any page of the IO failed.
type CompletionFunc func(io *IO, err error)

// Device is the per-mirror handle the scrub engine submits batches
// against. A missing device handle is represented by a nil Device, which callers must check for
// before calling any method.
type Device interface {
	// Name identifies the device for logging and statistics.
	Name() string

	// Submit hands io to the device asynchronously; done is invoked from a
	// worker goroutine once the I/O completes (or fails).
	Submit(ctx context.Context, io *IO, dir Direction, done CompletionFunc) error

	// SubmitAndWait performs io synchronously, used by the error-recovery
	// state machine's page-by-page rereads, which must defeat any batching
	// the async path might otherwise apply.
	SubmitAndWait(ctx context.Context, io *IO, dir Direction) error

	// PhysicalSize reports the addressable size of the device, for bounds
	// checking by the extent walker.
	PhysicalSize() uint64
}
