package scrub

import "github.com/NVIDIA/btrfs-scrub/logger"

// synergySkip is the walker's use of the synergistic filter: before issuing
// reads for a range, ask the filter's check ABI whether the whole range is
// already marked; if so, skip the I/O and bump the skip counter. The bitmap
// is advisory, not authoritative — a missed unmark only causes a false
// skip, caught on a future pass.
func (ctx *Context) synergySkip(start, end uint64) bool {
	if ctx.synergyTask == nil {
		return false
	}

	relevant, done, err := ctx.synergyTask.CheckRange(start, end)
	if err != nil || !(relevant && done) {
		return false
	}

	ctx.statLock.Lock()
	ctx.stats.SynergySkips++
	ctx.statLock.Unlock()
	logger.Tracef("scrub: synergistic filter skipped [%d,%d)", start, end)
	return true
}

// ProcessSynergyEvents implements "Event processing": at each
// pause/idle point, fetch up to maxEvents relevant, not-yet-done items and
// mark each fetched LBA range done. It never unmarks a range; unmarking
// happens only through MarkSynergyModify. It is bounded per call the way the source
// bounds event processing to ~256 events per idle point, so a runaway
// observer cannot stall the walker.
func (ctx *Context) ProcessSynergyEvents(maxEvents int) {
	if ctx.synergyTask == nil {
		return
	}
	items := ctx.synergyTask.Fetch(ctx.opts.StartLogical, ctx.opts.EndLogical, maxEvents)
	for _, item := range items {
		ctx.synergyTask.MarkDone(item.Start, item.End)
	}
}

// MarkSynergyAdd records that the foreground workload has read-in and
// validated [start,end).
func (ctx *Context) MarkSynergyAdd(start, end uint64) {
	if ctx.synergyTask == nil {
		return
	}
	ctx.synergyTask.MarkRelevant(start, end)
	ctx.synergyTask.MarkDone(start, end)
}

// MarkSynergyModify records that cache contents at [start,end) have
// diverged from disk, so a subsequent scrub of that range must not be
// skipped.
func (ctx *Context) MarkSynergyModify(start, end uint64) {
	if ctx.synergyTask == nil {
		return
	}
	ctx.synergyTask.Unmark(start, end)
}
