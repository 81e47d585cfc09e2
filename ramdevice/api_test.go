package ramdevice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/btrfs-scrub/blockio"
)

func TestSeedAndReadAt(t *testing.T) {
	d := New("dev0", 4096)
	d.Seed(0, []byte("hello"))
	require.Equal(t, []byte("hello"), d.ReadAt(0, 5))
}

func TestSubmitAndWaitRead(t *testing.T) {
	d := New("dev0", 4096)
	d.Seed(0, []byte{1, 2, 3, 4})

	buf := make([]byte, 4)
	io := &blockio.IO{PhysOffset: 0, PageSize: 4, Pages: [][]byte{buf}}
	err := d.SubmitAndWait(context.Background(), io, blockio.DirectionRead)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, buf)
	require.Equal(t, uint64(1), d.ReadCount())
}

func TestSubmitAsyncInvokesCompletion(t *testing.T) {
	d := New("dev0", 4096)
	io := &blockio.IO{PhysOffset: 0, PageSize: 4, Pages: [][]byte{make([]byte, 4)}}

	done := make(chan error, 1)
	err := d.Submit(context.Background(), io, blockio.DirectionWrite, func(completed *blockio.IO, ioErr error) {
		done <- ioErr
	})
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, uint64(1), d.WriteCount())
}

func TestInjectIOErrorFailsNextIOOnce(t *testing.T) {
	d := New("dev0", 4096)
	d.InjectIOError(0, context.DeadlineExceeded)

	io := &blockio.IO{PhysOffset: 0, PageSize: 4, Pages: [][]byte{make([]byte, 4)}}
	err := d.SubmitAndWait(context.Background(), io, blockio.DirectionRead)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the injected error is consumed: the next I/O at the same offset succeeds
	err = d.SubmitAndWait(context.Background(), io, blockio.DirectionRead)
	require.NoError(t, err)
}

func TestCorruptFlipsBytesWithoutFailingIO(t *testing.T) {
	d := New("dev0", 4096)
	d.Seed(0, []byte{0x00, 0x00})
	d.Corrupt(0, 2)

	got := d.ReadAt(0, 2)
	require.Equal(t, []byte{0xFF, 0xFF}, got)
}

func TestReadPastEndOfDeviceFails(t *testing.T) {
	d := New("dev0", 10)
	io := &blockio.IO{PhysOffset: 5, PageSize: 10, Pages: [][]byte{make([]byte, 10)}}
	err := d.SubmitAndWait(context.Background(), io, blockio.DirectionRead)
	require.Error(t, err)
}
