package scrub

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIOBatchStartsEmptyAndFree(t *testing.T) {
	b := newIOBatch(3, 16)
	require.Equal(t, 3, b.slot)
	require.Equal(t, uint64(0), b.count())
	require.Equal(t, -1, b.nextFree)
}

func TestIOBatchContiguousAcceptsFirstPageUnconditionally(t *testing.T) {
	b := newIOBatch(0, 16)
	p := &pageEntry{physical: 12345, logical: 999, buf: make([]byte, 4096)}
	require.True(t, b.contiguous(p, 4096))
}

func TestIOBatchContiguousAcceptsAdjacentPage(t *testing.T) {
	b := newIOBatch(0, 16)
	dev := &fakeDevice{name: "dev0"}
	b.device = dev
	b.physStart = 0
	b.logStart = 0
	b.pages = append(b.pages, &pageEntry{buf: make([]byte, 4096), device: dev, physical: 0, logical: 0})

	next := &pageEntry{device: dev, physical: 4096, logical: 4096, buf: make([]byte, 4096)}
	require.True(t, b.contiguous(next, 4096))
}

func TestIOBatchContiguousRejectsNonAdjacentPhysical(t *testing.T) {
	b := newIOBatch(0, 16)
	dev := &fakeDevice{name: "dev0"}
	b.device = dev
	b.pages = append(b.pages, &pageEntry{buf: make([]byte, 4096), device: dev, physical: 0, logical: 0})

	gap := &pageEntry{device: dev, physical: 8192, logical: 4096, buf: make([]byte, 4096)}
	require.False(t, b.contiguous(gap, 4096))
}

func TestIOBatchContiguousRejectsDifferentDevice(t *testing.T) {
	b := newIOBatch(0, 16)
	devA := &fakeDevice{name: "devA"}
	devB := &fakeDevice{name: "devB"}
	b.device = devA
	b.pages = append(b.pages, &pageEntry{buf: make([]byte, 4096), device: devA, physical: 0, logical: 0})

	other := &pageEntry{device: devB, physical: 4096, logical: 4096, buf: make([]byte, 4096)}
	require.False(t, b.contiguous(other, 4096))
}

func TestIOBatchTailsAdvanceByPageSize(t *testing.T) {
	b := newIOBatch(0, 16)
	b.physStart = 1000
	b.logStart = 2000
	b.pages = append(b.pages, &pageEntry{buf: make([]byte, 4096)}, &pageEntry{buf: make([]byte, 4096)})

	require.Equal(t, uint64(4096), b.pageSize())
	require.Equal(t, uint64(1000+2*4096), b.physTail())
	require.Equal(t, uint64(2000+2*4096), b.logTail())
}

func TestIOBatchResetClearsState(t *testing.T) {
	b := newIOBatch(0, 16)
	dev := &fakeDevice{name: "dev0"}
	b.device = dev
	b.physStart = 100
	b.logStart = 200
	b.pages = append(b.pages, &pageEntry{buf: make([]byte, 4096)})
	b.pendingRemoval = true

	b.reset()

	require.Nil(t, b.device)
	require.Equal(t, uint64(0), b.physStart)
	require.Equal(t, uint64(0), b.logStart)
	require.Equal(t, uint64(0), b.count())
	require.False(t, b.pendingRemoval)
}
