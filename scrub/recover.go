package scrub

import (
	"context"

	"github.com/NVIDIA/btrfs-scrub/blockio"
	"github.com/NVIDIA/btrfs-scrub/blunder"
	"github.com/NVIDIA/btrfs-scrub/csum"
	"github.com/NVIDIA/btrfs-scrub/logger"
	"github.com/NVIDIA/btrfs-scrub/raidmap"
)

// recoveryState names the error-recovery state machine's states: OK ->
// (on fault) superReportOnly | nodatasumFallback | mirrorSearch ->
// repairBlockFromGood | repairPagesOnly | uncorrectable.
type recoveryState int

const (
	stateOK recoveryState = iota
	stateSuperReportOnly
	stateNodatasumFallback
	stateMirrorSearch
	stateRepairBlockFromGood
	stateRepairPagesOnly
	stateUncorrectable
)

// recheckPage is one page of a recheck-block: a fresh buffer read
// page-by-page from a single mirror, used only by the recovery state
// machine to avoid disturbing the pipeline's pooled pages.
type recheckPage struct {
	buf []byte
	ioError bool
}

// enterRecovery dispatches a failed block to the right recovery state. It is
// called at most once per block per scrub pass — each mirror is tried at
// most once per block per pass.
func (ctx *Context) enterRecovery(b *block) {
	flags := ExtentFlags(b.extentFlags)

	if flags.isSuper() {
		// Already reported by verifySuperBlock; super errors are never
		// repaired here.
		return
	}

	if flags.isData() && len(b.pages) > 0 && !b.pages[0].haveCsum {
		ctx.nodatasumFallback(b)
		return
	}

	ctx.mirrorSearch(b)
}

// mirrorSearch re-reads every mirror of a failed block page-by-page to
// determine whether the failure was transient, find a clean mirror to
// repair from wholesale, or patch together a clean copy page-by-page.
func (ctx *Context) mirrorSearch(b *block) {
	result, err := ctx.mapper.Map(b.logical, b.length, blockio.DirectionRead)
	if err != nil {
		ctx.bumpMallocOrStructural(b, err)
		return
	}

	numMirrors := result.MirrorNum
	if numMirrors > ctx.opts.MaxMirrors {
		numMirrors = ctx.opts.MaxMirrors
	}
	if numMirrors == 0 {
		ctx.declareUncorrectable(b)
		return
	}

	mirrorPages := make([][]recheckPage, numMirrors)
	for m := 0; m < numMirrors; m++ {
		mirrorPages[m] = ctx.recheckMirrorPageByPage(b, result, m)
	}

	badMirror := b.mirror
	if badMirror >= numMirrors {
		badMirror = 0
	}

	// Step 3: if mirror M's page-by-page reread succeeds entirely, the
	// original failure was merge-induced or transient.
	if allClean(mirrorPages[badMirror]) {
		ctx.statLock.Lock()
		ctx.stats.UnverifiedErrors++
		ctx.statLock.Unlock()
		if ctx.replaceCtx != nil {
			ctx.scheduleReplaceWrite(b)
		}
		return
	}

	// Step 4: scan other mirrors in ascending index, skipping M, for one
	// that is entirely clean and checksum-valid.
	for m := 0; m < numMirrors; m++ {
		if m == badMirror {
			continue
		}
		if allClean(mirrorPages[m]) && ctx.checksumOf(mirrorPages[m], b) {
			ctx.repairBlockFromGood(b, result, badMirror, mirrorPages[m])
			return
		}
	}

	// Step 5: no entirely-clean mirror; look for per-page coverage.
	if ctx.repairPagesOnly(b, result, badMirror, mirrorPages) {
		return
	}

	ctx.declareUncorrectable(b)
}

func allClean(pages []recheckPage) bool {
	for _, p := range pages {
		if p.ioError {
			return false
		}
	}
	return len(pages) > 0
}

func (ctx *Context) checksumOf(pages []recheckPage, b *block) bool {
	if len(b.pages) == 0 || !b.pages[0].haveCsum {
		return true
	}
	data := make([]byte, 0, ctx.opts.SectorSize)
	for _, p := range pages {
		if uint64(len(data)) >= ctx.opts.SectorSize {
			break
		}
		need := ctx.opts.SectorSize - uint64(len(data))
		if need > uint64(len(p.buf)) {
			need = uint64(len(p.buf))
		}
		data = append(data, p.buf[:need]...)
	}
	return csum.Checksum(data) == b.pages[0].csum
}

// recheckMirrorPageByPage re-issues reads page-by-page (not batched) for
// one mirror, defeating bio-merging to identify exactly which pages of that
// mirror failed.
func (ctx *Context) recheckMirrorPageByPage(b *block, result raidmap.Result, mirror int) []recheckPage {
	pages := make([]recheckPage, len(b.pages))
	if mirror >= len(result.Targets) {
		for i := range pages {
			pages[i].ioError = true
		}
		return pages
	}
	target := result.Targets[mirror]
	device := ctx.deviceFor(target.Device)

	pageSize := ctx.opts.PageSize
	for i := range b.pages {
		buf := make([]byte, pageSize)
		io := &blockio.IO{
			Mirror: mirror,
			PhysOffset: target.Physical + uint64(i)*pageSize,
			LogOffset: b.logical + uint64(i)*pageSize,
			PageSize: pageSize,
			Pages: [][]byte{buf},
		}
		if device == nil {
			pages[i] = recheckPage{buf: buf, ioError: true}
			continue
		}
		err := device.SubmitAndWait(context.Background(), io, blockio.DirectionRead)
		pages[i] = recheckPage{buf: buf, ioError: err != nil}
	}
	return pages
}

// deviceFor resolves a device name to a blockio.Device, preferring the
// scrub target device itself (the common single-device case) and falling
// back to the configured resolver for the rest of the mirror set.
func (ctx *Context) deviceFor(name string) blockio.Device {
	if ctx.device != nil && ctx.device.Name() == name {
		return ctx.device
	}
	if ctx.opts.DeviceResolver != nil {
		return ctx.opts.DeviceResolver(name)
	}
	return nil
}

// repairBlockFromGood rewrites the entire block on the bad mirror's device
// from a known-clean mirror (forced write
// when a checksum exists, else only the pages flagged io_error). In replace
// mode the good page is written to the replacement target instead.
func (ctx *Context) repairBlockFromGood(b *block, result raidmap.Result, badMirror int, good []recheckPage) {
	target := result.Targets[badMirror]
	device := ctx.deviceFor(target.Device)
	forced := len(b.pages) > 0 && b.pages[0].haveCsum

	for i, p := range b.pages {
		if !forced && !p.ioError {
			continue
		}
		ctx.writeRepairedPage(b, i, target.Physical+uint64(i)*ctx.opts.PageSize, good[i].buf, device)
	}

	ctx.statLock.Lock()
	ctx.stats.CorrectedErrors++
	ctx.statLock.Unlock()
	logger.Infof("scrub: repaired block at logical %d mirror %d from a clean mirror", b.logical, badMirror)
}

// repairPagesOnly, for each bad page of the failing mirror, finds any other
// mirror whose page is I/O-clean and overwrites with it; afterwards the
// block's checksum is re-verified. Returns false (and makes no changes) if
// not every bad page has a clean counterpart.
func (ctx *Context) repairPagesOnly(b *block, result raidmap.Result, badMirror int, mirrorPages [][]recheckPage) bool {
	target := result.Targets[badMirror]
	device := ctx.deviceFor(target.Device)

	replacement := make([]recheckPage, len(b.pages))
	for i := range b.pages {
		if !mirrorPages[badMirror][i].ioError {
			replacement[i] = mirrorPages[badMirror][i]
			continue
		}
		found := false
		for m := range mirrorPages {
			if m == badMirror {
				continue
			}
			if !mirrorPages[m][i].ioError {
				replacement[i] = mirrorPages[m][i]
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if !ctx.checksumOf(replacement, b) {
		return false
	}

	for i, p := range b.pages {
		if !p.ioError {
			continue
		}
		ctx.writeRepairedPage(b, i, target.Physical+uint64(i)*ctx.opts.PageSize, replacement[i].buf, device)
	}

	ctx.statLock.Lock()
	ctx.stats.CorrectedErrors++
	ctx.statLock.Unlock()
	logger.Infof("scrub: repaired %d pages of block at logical %d from surviving mirrors", len(b.pages), b.logical)
	return true
}

// writeRepairedPage writes data to a single physical location, routed to
// the replacement target in replace mode, or to the bad mirror's own
// device otherwise.
func (ctx *Context) writeRepairedPage(b *block, pageIdx int, physOffset uint64, data []byte, badDevice blockio.Device) {
	dest := badDevice
	if ctx.replaceCtx != nil {
		dest = ctx.replaceCtx.target
	}
	if dest == nil {
		ctx.statLock.Lock()
		ctx.stats.SyncErrors++
		ctx.statLock.Unlock()
		return
	}

	io := &blockio.IO{
		PhysOffset: physOffset,
		LogOffset: b.logical + uint64(pageIdx)*ctx.opts.PageSize,
		PageSize: uint64(len(data)),
		Pages: [][]byte{data},
	}
	if err := dest.SubmitAndWait(context.Background(), io, blockio.DirectionWrite); err != nil {
		ctx.statLock.Lock()
		ctx.stats.SyncErrors++
		ctx.statLock.Unlock()
		return
	}
	b.markPageRepaired(pageIdx)
}

// nodatasumFallback handles a data extent without a checksum: it may not be
// copy-on-write, so the repair path cannot use the page cache directly.
// A page that is simultaneously clean-and-dirty in cache is treated as
// uncorrectable. Otherwise it defers to a worker goroutine that runs
// mirrorSearch on the block; with no checksum, any mirror whose read
// completes without an I/O error is accepted as the repair source. No read
// goes through a page cache and no mirror is forced for a cached re-read.
func (ctx *Context) nodatasumFallback(b *block) {
	if ctx.dirtyCachePage(b) {
		ctx.declareUncorrectable(b)
		return
	}

	ctx.statLock.Lock()
	ctx.workersPending++
	ctx.statLock.Unlock()
	go func() {
		defer func() {
			ctx.statLock.Lock()
			ctx.workersPending--
			ctx.statLock.Unlock()
		}()
		ctx.mirrorSearch(b)
	}()
}

// dirtyCachePage is the page-cache collaborator nodatasumFallback consults.
// The real page cache is out of scope here: it reports clean unless a
// caller installs a hook via Options.DirtyCachePageHook for tests that
// need to exercise the uncorrectable branch.
func (ctx *Context) dirtyCachePage(b *block) bool {
	if ctx.opts.DirtyCachePageHook == nil {
		return false
	}
	return ctx.opts.DirtyCachePageHook(b.logical, b.length)
}

func (ctx *Context) declareUncorrectable(b *block) {
	ctx.statLock.Lock()
	ctx.stats.UncorrectableErrors++
	ctx.statLock.Unlock()

	if ctx.replaceCtx != nil {
		ctx.writeZeroesToReplaceTarget(b)
	}
	logger.WarnfWithError(blunder.Uncorrectable("scrub: block at logical %d is uncorrectable", b.logical),
		"scrub: uncorrectable block on device %s", ctx.device.Name())
}

// writeZeroesToReplaceTarget implements the replace-mode rule that pages
// with no good source are written as zeros with the error counter
// incremented.
func (ctx *Context) writeZeroesToReplaceTarget(b *block) {
	if ctx.replaceCtx == nil || ctx.replaceCtx.target == nil {
		return
	}
	for i, p := range b.pages {
		zero := make([]byte, len(p.buf))
		io := &blockio.IO{
			PhysOffset: p.replacementPhysical,
			LogOffset: b.logical + uint64(i)*ctx.opts.PageSize,
			PageSize: uint64(len(zero)),
			Pages: [][]byte{zero},
		}
		if err := ctx.replaceCtx.target.SubmitAndWait(context.Background(), io, blockio.DirectionWrite); err != nil {
			ctx.statLock.Lock()
			ctx.stats.SyncErrors++
			ctx.statLock.Unlock()
		}
	}
}

func (ctx *Context) bumpMallocOrStructural(b *block, err error) {
	if blunder.Is(err, blunder.StatusOutOfMemory) {
		ctx.statLock.Lock()
		ctx.stats.MallocErrors++
		ctx.statLock.Unlock()
		return
	}
	logger.WarnfWithError(err, "scrub: structural error mapping block at logical %d", b.logical)
}

// scheduleReplaceWrite copies a block that verified clean onto the
// replacement device, used by both the clean path and the unverified-error
// path of recovery.
func (ctx *Context) scheduleReplaceWrite(b *block) {
	if ctx.replaceCtx == nil || ctx.replaceCtx.target == nil {
		return
	}
	for i, p := range b.pages {
		io := &blockio.IO{
			PhysOffset: p.replacementPhysical,
			LogOffset: b.logical + uint64(i)*ctx.opts.PageSize,
			PageSize: uint64(len(p.buf)),
			Pages: [][]byte{p.buf},
		}
		if err := ctx.replaceCtx.target.SubmitAndWait(context.Background(), io, blockio.DirectionWrite); err != nil {
			ctx.statLock.Lock()
			ctx.stats.SyncErrors++
			ctx.statLock.Unlock()
		}
	}
}
