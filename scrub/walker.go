package scrub

import (
	"sync/atomic"
	"time"

	"github.com/NVIDIA/btrfs-scrub/blockio"
	"github.com/NVIDIA/btrfs-scrub/blunder"
	"github.com/NVIDIA/btrfs-scrub/extentindex"
	"github.com/NVIDIA/btrfs-scrub/logger"
)

// Walk drives the extent walker: for the configured device-extent range it
// iterates every stripe of the RAID map, finds all extents inside, trims
// each to the stripe, and drives the per-sub-block pipeline for every
// covered sub-block. It returns a cancelled error if the run was
// cancelled, nil on normal completion (including an empty range).
func (ctx *Context) Walk() error {
	ctx.startTime = time.Now()

	chunkStart, chunkEnd := ctx.mapper.ChunkLogicalRange()
	start := maxU64(ctx.opts.StartLogical, chunkStart)
	end := minU64(ctx.opts.EndLogical, chunkEnd)
	stripeLen := ctx.mapper.StripeLen()
	if stripeLen == 0 || start >= end {
		return nil
	}

	logical := start
	for logical < end {
		if ctx.isCancelled() {
			return blunder.Cancelled("scrub: cancelled at logical %d", logical)
		}
		if resumeAt := ctx.checkPause(logical); resumeAt != logical {
			logical = resumeAt
			continue
		}

		stripeStart := logical - (logical % stripeLen)
		stripeEnd := minU64(stripeStart+stripeLen, end)

		if err := ctx.walkStripe(logical, stripeEnd); err != nil {
			if blunder.IsCancelled(err) {
				return err
			}
			logger.WarnfWithError(err, "scrub: stripe [%d,%d) aborted", stripeStart, stripeEnd)
			return err
		}

		logical = stripeEnd
	}

	return nil
}

// walkStripe processes every extent overlapping [from, stripeEnd), trimming
// each to the stripe bounds.
func (ctx *Context) walkStripe(from, stripeEnd uint64) error {
	pos := from
	for pos < stripeEnd {
		ei, found, err := ctx.commit.NextExtent(pos)
		if err != nil {
			return err
		}
		if !found || ei.Logical >= stripeEnd {
			break
		}

		extentStart := maxU64(ei.Logical, pos)
		extentEnd := minU64(ei.Logical+ei.Length, stripeEnd)
		if extentStart >= extentEnd {
			pos = extentEnd
			continue
		}

		if ei.Logical+ei.Length > stripeEnd && (ei.Flags&uint64(FlagTreeBlock)) != 0 {
			// A tree block straddling stripes violates layout invariants:
			// skip with a warning rather than split it.
			logger.Warnf("scrub: tree block at logical %d straddles stripe boundary %d, skipping", ei.Logical, stripeEnd)
			pos = extentEnd
			continue
		}

		if err := ctx.walkExtent(extentStart, extentEnd, ei.Flags, ei.Generation); err != nil {
			return err
		}
		pos = extentEnd
	}
	if pos < stripeEnd {
		// No extent covers the remainder of the stripe (unallocated
		// space); nothing to scrub there.
	}
	return nil
}

// walkExtent handles one trimmed extent: the synergistic skip check, then
// splitting into sub-blocks of min(remaining, block_size), handing each
// sub-block to scrubSubBlock.
func (ctx *Context) walkExtent(start, end, flags, generation uint64) error {
	extFlags := ExtentFlags(flags)
	isMetadata := extFlags.isTreeBlock() || extFlags.isSuper()

	if ctx.synergySkip(start, end) {
		return nil
	}

	if extFlags.isData() {
		ctx.countCsumDiscards(start, end)
	}

	blockSize := ctx.opts.SectorSize
	if isMetadata {
		blockSize = ctx.opts.NodeSize
	}
	if blockSize == 0 {
		blockSize = end - start
	}

	for pos := start; pos < end; {
		subLen := blockSize
		if pos+subLen > end {
			subLen = end - pos
		}
		if err := ctx.scrubSubBlock(pos, subLen, flags, generation, isMetadata); err != nil {
			return err
		}
		pos += subLen
	}
	return nil
}

// countCsumDiscards mirrors the original's scrub_find_csum: a data extent's
// csum-tree lookup can legitimately cover only some of its sectors (nodatasum
// was toggled partway through the extent's life). When at least one sector
// has a recorded csum but not every sector does, the uncovered sectors are
// counted as discards, distinct from an extent with no csum coverage at all
// (that case is counted once per sector by verifyData's NoCsum, not here).
func (ctx *Context) countCsumDiscards(start, end uint64) {
	sectorSize := ctx.opts.SectorSize
	if sectorSize == 0 {
		return
	}

	total := (end - start + sectorSize - 1) / sectorSize
	covered := uint64(0)
	for pos := start; pos < end; pos += sectorSize {
		if _, found, err := ctx.commit.LookupCsum(pos); err == nil && found {
			covered++
		}
	}

	if covered == 0 || covered >= total {
		return
	}
	ctx.statLock.Lock()
	ctx.stats.CsumDiscards += total - covered
	ctx.statLock.Unlock()
}

// scrubSubBlock builds one Block per mirror for [logical, logical+length)
// and feeds its pages into the batching pipeline.
func (ctx *Context) scrubSubBlock(logical, length, flags, generation uint64, isMetadata bool) error {
	result, err := ctx.mapper.Map(logical, length, blockio.DirectionRead)
	if err != nil {
		logger.WarnfWithError(err, "scrub: RAID map failed for [%d,%d)", logical, logical+length)
		return nil
	}

	pageSize := ctx.opts.PageSize
	if pageSize == 0 {
		return blunder.InvalidArgument("scrub: page_size is zero")
	}
	numPages := (length + pageSize - 1) / pageSize

	extFlags := ExtentFlags(flags)
	var csumEntry extentindex.CsumEntry
	haveCsum := false
	if extFlags.isData() {
		csumEntry, haveCsum, _ = ctx.commit.LookupCsum(logical)
	}

	for mirror, target := range result.Targets {
		device := ctx.deviceFor(target.Device)
		b := ctx.getBlock()
		b.resetFor(ctx, device, mirror, logical, length, flags, generation, isMetadata)

		for i := uint64(0); i < numPages; i++ {
			p := ctx.getPage()
			p.resetFor(b, device, mirror, logical+i*pageSize, target.Physical+i*pageSize)
			p.extentFlags = flags
			p.generation = generation
			if i == 0 && haveCsum {
				p.csum = csumEntry.Csum
				p.haveCsum = true
			}
			b.addPage(p)

			if err := ctx.addPage(p, blockio.DirectionRead); err != nil {
				b.Release()
				if blunder.IsCancelled(err) {
					return err
				}
				return nil
			}
		}
		b.Release() // the walker's own creation hold; ownership now lives with the pages
	}

	return nil
}

// checkPause implements the pause protocol: on observing a pause signal,
// drain (submit current, wait for in-flight to reach zero), park until
// cleared, and resume at the same logical offset the walker was at —
// under-advance is required for correctness.
func (ctx *Context) checkPause(logical uint64) uint64 {
	if !ctx.isPauseRequested() {
		return logical
	}

	ctx.submitCurrent()
	ctx.drainInFlight()

	ctx.pauseMu.Lock()
	ctx.pauseStart = time.Now()
	for ctx.isPauseRequested() {
		ctx.pauseCond.Wait()
	}
	ctx.wastedTime += time.Since(ctx.pauseStart)
	ctx.pauseMu.Unlock()

	return logical
}

// wastedDuration reports the cumulative wall-clock time spent parked in
// checkPause across this run's lifetime, the quantity the rate controller
// must subtract out of elapsed time so a pause does not get counted against
// the deadline.
func (ctx *Context) wastedDuration() time.Duration {
	ctx.pauseMu.Lock()
	defer ctx.pauseMu.Unlock()
	return ctx.wastedTime
}

func (ctx *Context) drainInFlight() {
	for ctx.biosInFlightCount() > 0 {
		time.Sleep(time.Millisecond)
	}
}

func (ctx *Context) biosInFlightCount() int64 {
	return atomic.LoadInt64(&ctx.biosInFlight)
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
