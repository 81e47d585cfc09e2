package scrub

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/btrfs-scrub/blockio"
	"github.com/NVIDIA/btrfs-scrub/bucketstats"
	"github.com/NVIDIA/btrfs-scrub/csum"
	"github.com/NVIDIA/btrfs-scrub/extentindex"
	"github.com/NVIDIA/btrfs-scrub/raidmap"
	"github.com/NVIDIA/btrfs-scrub/ramdevice"
)

// errStickyReadFailure is returned by stickyFailDevice for every read that
// falls inside an armed fail range.
var errStickyReadFailure = errors.New("scrub: simulated persistent read failure")

// stickyFailDevice wraps a ramdevice.Device and fails every read overlapping
// an armed byte range on every attempt, unlike ramdevice.InjectIOError which
// is consumed after firing once — this is what lets a test distinguish a
// transient glitch (mirrorSearch's step 3) from a genuinely bad sector
// (steps 4/5). Writes always pass through, modeling a sector that can be
// reallocated on write.
//
// Submit queues its IO instead of completing it inline: Walk() submits every
// page of a multi-page block before any of that block's completions may run,
// and only a caller-driven flush (after Walk returns) can preserve that
// ordering deterministically — an inline completion would call block-complete
// after the block's first page alone, and a goroutine-backed one races the
// walker's own loop. recover.go's page-by-page reread and repair writes go
// through SubmitAndWait, which stays synchronous and bypasses this queue.
type stickyFailDevice struct {
	inner *ramdevice.Device
	failRanges []struct{ start, end uint64 }
	pending []pendingIO
}

type pendingIO struct {
	io *blockio.IO
	dir blockio.Direction
	done blockio.CompletionFunc
}

func newStickyFailDevice(inner *ramdevice.Device) *stickyFailDevice {
	return &stickyFailDevice{inner: inner}
}

// flush runs every queued Submit to completion, in the order submitted.
func (d *stickyFailDevice) flush() {
	items := d.pending
	d.pending = nil
	for _, it := range items {
		it.done(it.io, d.doIO(it.io, it.dir))
	}
}

func (d *stickyFailDevice) failReadAt(offset, length uint64) {
	d.failRanges = append(d.failRanges, struct{ start, end uint64 }{offset, offset + length})
}

func (d *stickyFailDevice) overlapsFailRange(offset, length uint64) bool {
	for _, r := range d.failRanges {
		if offset < r.end && offset+length > r.start {
			return true
		}
	}
	return false
}

func (d *stickyFailDevice) Name() string { return d.inner.Name() }
func (d *stickyFailDevice) PhysicalSize() uint64 { return d.inner.PhysicalSize() }

func (d *stickyFailDevice) doIO(io *blockio.IO, dir blockio.Direction) error {
	if dir == blockio.DirectionRead && d.overlapsFailRange(io.PhysOffset, io.Length()) {
		return errStickyReadFailure
	}
	return d.inner.SubmitAndWait(context.Background(), io, dir)
}

func (d *stickyFailDevice) Submit(ctx context.Context, io *blockio.IO, dir blockio.Direction, done blockio.CompletionFunc) error {
	d.pending = append(d.pending, pendingIO{io: io, dir: dir, done: done})
	return nil
}

func (d *stickyFailDevice) SubmitAndWait(ctx context.Context, io *blockio.IO, dir blockio.Direction) error {
	return d.doIO(io, dir)
}

// raid1Harness is a two-mirror RAID1 scrub fixture: one data extent spanning
// exactly one sector, seeded identically on both mirrors with a matching
// csum-tree entry, wired through a real Context.Walk() rather than a leaf
// helper.
type raid1Harness struct {
	ctx *Context
	dev0, dev1 *stickyFailDevice
	raw0, raw1 *ramdevice.Device
	content []byte
	sectorSize uint64
}

func newRAID1Harness(t *testing.T, pageSize, sectorSize uint64, synergyEnabled bool) *raid1Harness {
	return newRAID1HarnessWithBatching(t, pageSize, sectorSize, 1, synergyEnabled)
}

func newRAID1HarnessWithBatching(t *testing.T, pageSize, sectorSize, pagesPerBatch uint64, synergyEnabled bool) *raid1Harness {
	t.Helper()

	content := make([]byte, sectorSize)
	for i := range content {
		content[i] = byte(i + 1)
	}

	raw0 := ramdevice.New("dev0", 4096)
	raw1 := ramdevice.New("dev1", 4096)
	raw0.Seed(0, content)
	raw1.Seed(0, content)

	dev0 := newStickyFailDevice(raw0)
	dev1 := newStickyFailDevice(raw1)

	mapper := raidmap.NewStaticMapper(raidmap.RAID1, []string{"dev0", "dev1"}, 0, sectorSize, sectorSize, 0)

	commit := extentindex.NewCommitRoot()
	require.NoError(t, commit.PutExtent(extentindex.ExtentInfo{Logical: 0, Length: sectorSize, Flags: uint64(FlagData), Generation: 1}))
	require.NoError(t, commit.PutCsum(extentindex.CsumEntry{Logical: 0, Length: sectorSize, Csum: csum.Checksum(content)}))

	opts := Options{
		DeviceID: "dev0",
		StartLogical: 0,
		EndLogical: sectorSize,
		PageSize: pageSize,
		SectorSize: sectorSize,
		NodeSize: pageSize,
		PagesPerBatch: pagesPerBatch,
		MaxPoolSize: 8,
		MaxMirrors: 2,
		SynergyEnabled: synergyEnabled,
		DeviceResolver: func(name string) blockio.Device {
			switch name {
			case "dev0":
				return dev0
			case "dev1":
				return dev1
			default:
				return nil
			}
		},
	}

	ctx := New(opts, dev0, mapper, commit, t.Name())
	t.Cleanup(func() { bucketstats.UnRegister("scrub", t.Name()) })

	return &raid1Harness{ctx: ctx, dev0: dev0, dev1: dev1, raw0: raw0, raw1: raw1, content: content, sectorSize: sectorSize}
}

// flush drains every queued Submit on both mirrors, in mirror order —
// Walk() never drains in-flight I/O itself, it only enqueues it.
func (h *raid1Harness) flush() {
	h.dev0.flush()
	h.dev1.flush()
}

// S1: clean RAID1 — both mirrors read back identical, checksum-valid data;
// nothing is flagged and both mirrors get verified.
func TestWalkCleanRAID1(t *testing.T) {
	h := newRAID1Harness(t, 8, 8, false)

	require.NoError(t, h.ctx.Walk())
	h.flush()

	stats := h.ctx.Progress()
	require.Zero(t, stats.ReadErrors)
	require.Zero(t, stats.CsumErrors)
	require.Zero(t, stats.CorrectedErrors)
	require.Zero(t, stats.UncorrectableErrors)
	require.Equal(t, uint64(2), stats.DataExtentsScrubbed)
	require.Equal(t, 2*h.sectorSize, stats.DataBytesScrubbed)
	require.Equal(t, 2*h.sectorSize, stats.DataBytesVerified)
}

// S2: one mirror is persistently unreadable — mirrorSearch finds the other
// mirror entirely clean and checksum-valid and repairs the whole block from
// it (repairBlockFromGood).
func TestWalkOneMirrorBadRepairsFromGoodMirror(t *testing.T) {
	h := newRAID1Harness(t, 8, 8, false)
	h.dev1.failReadAt(0, h.sectorSize)

	require.NoError(t, h.ctx.Walk())
	h.flush()

	stats := h.ctx.Progress()
	require.Equal(t, uint64(1), stats.ReadErrors)
	require.Equal(t, uint64(1), stats.CorrectedErrors)
	require.Zero(t, stats.UncorrectableErrors)
	require.Equal(t, h.content, h.raw1.ReadAt(0, h.sectorSize))
}

// S3: each mirror has a bad page, but the two bad pages are disjoint, so
// every page has a clean counterpart on the other mirror — both blocks are
// repaired page-by-page (repairPagesOnly / REPAIR_PAGES_ONLY) rather than
// wholesale.
func TestWalkDisjointPerPageErrorsRepairPagesOnly(t *testing.T) {
	h := newRAID1Harness(t, 8, 16, false)
	h.dev0.failReadAt(8, 8) // mirror 0's second page
	h.dev1.failReadAt(0, 8) // mirror 1's first page

	require.NoError(t, h.ctx.Walk())
	h.flush()

	stats := h.ctx.Progress()
	require.Equal(t, uint64(2), stats.ReadErrors)
	require.Equal(t, uint64(2), stats.CorrectedErrors)
	require.Zero(t, stats.UncorrectableErrors)
	require.Equal(t, h.content, h.raw0.ReadAt(0, h.sectorSize))
	require.Equal(t, h.content, h.raw1.ReadAt(0, h.sectorSize))
}

// S4: both mirrors are bad on the same page — no surviving copy of that
// page exists anywhere, so recovery must declare the block uncorrectable.
func TestWalkBothMirrorsBadOnSamePageUncorrectable(t *testing.T) {
	h := newRAID1Harness(t, 8, 16, false)
	h.dev0.failReadAt(0, 8) // mirror 0's first page
	h.dev1.failReadAt(0, 8) // mirror 1's first page too — no clean copy anywhere

	require.NoError(t, h.ctx.Walk())
	h.flush()

	stats := h.ctx.Progress()
	require.Equal(t, uint64(2), stats.ReadErrors)
	require.Zero(t, stats.CorrectedErrors)
	require.Equal(t, uint64(2), stats.UncorrectableErrors)
}

// S6: the synergistic filter lets the walker skip a range a foreground
// observer already validated, and a subsequent modification un-skips it so
// the next pass re-scrubs for real.
func TestWalkSynergySkipThenReScrub(t *testing.T) {
	h := newRAID1Harness(t, 8, 8, true)

	h.ctx.MarkSynergyAdd(0, h.sectorSize)
	require.NoError(t, h.ctx.Walk())
	h.flush()

	skipped := h.ctx.Progress()
	require.Equal(t, uint64(1), skipped.SynergySkips)
	require.Zero(t, skipped.DataBytesScrubbed)
	require.Zero(t, h.raw0.ReadCount())

	h.ctx.MarkSynergyModify(0, h.sectorSize)
	require.NoError(t, h.ctx.Walk())
	h.flush()

	rescrubbed := h.ctx.Progress()
	require.Equal(t, uint64(1), rescrubbed.SynergySkips)
	require.Equal(t, 2*h.sectorSize, rescrubbed.DataBytesScrubbed)
}

// S7: a batch carries both pages of the same block (PagesPerBatch=2 against
// a two-page extent) — onBatchComplete must drain outstandingPages to zero
// and run blockComplete exactly once per block, not once per batch.
func TestWalkMultiPageBlockSharesOneBatch(t *testing.T) {
	h := newRAID1HarnessWithBatching(t, 8, 16, 2, false)

	require.NoError(t, h.ctx.Walk())
	h.flush()

	stats := h.ctx.Progress()
	require.Zero(t, stats.ReadErrors)
	require.Zero(t, stats.CsumErrors)
	require.Equal(t, uint64(2), stats.DataExtentsScrubbed)
	require.Equal(t, 2*h.sectorSize, stats.DataBytesVerified)
}
