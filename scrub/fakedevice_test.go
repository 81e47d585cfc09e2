package scrub

import (
	"context"

	"github.com/NVIDIA/btrfs-scrub/blockio"
)

// fakeDevice is a minimal blockio.Device stand-in for tests that only need
// device identity, not real I/O.
type fakeDevice struct {
	name string
	size uint64
}

func (d *fakeDevice) Name() string { return d.name }

func (d *fakeDevice) Submit(ctx context.Context, io *blockio.IO, dir blockio.Direction, done blockio.CompletionFunc) error {
	if done != nil {
		done(io, nil)
	}
	return nil
}

func (d *fakeDevice) SubmitAndWait(ctx context.Context, io *blockio.IO, dir blockio.Direction) error {
	return nil
}

func (d *fakeDevice) PhysicalSize() uint64 { return d.size }
