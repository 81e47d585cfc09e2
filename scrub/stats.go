package scrub

import "github.com/NVIDIA/btrfs-scrub/bucketstats"

// Statistics is the wire-stable progress/statistics record snapshotted by
// Manager.Progress. All fields are protected by Context's stat_lock.
type Statistics struct {
	DataExtentsScrubbed uint64
	TreeExtentsScrubbed uint64
	DataBytesScrubbed uint64
	TreeBytesScrubbed uint64
	DataBytesVerified uint64
	TreeBytesVerified uint64
	ReadErrors uint64
	CsumErrors uint64
	VerifyErrors uint64
	SuperErrors uint64
	NoCsum uint64
	CsumDiscards uint64
	CorrectedErrors uint64
	UncorrectableErrors uint64
	UnverifiedErrors uint64
	MallocErrors uint64
	LastPhysical uint64
	SyncErrors uint64

	// SynergySkips counts ranges the synergistic filter let the walker skip.
	SynergySkips uint64
}

// Progress returns a point-in-time copy of the statistics record.
func (ctx *Context) Progress() Statistics {
	ctx.statLock.Lock()
	defer ctx.statLock.Unlock()
	return ctx.stats
}

// instrumentation is a secondary, diagnostic-only view of a run tracked via
// bucketstats the way request-size and latency distributions are tracked
// elsewhere: not part of the wire-stable record, only exposed through
// SprintStats for operators inspecting a live process.
type instrumentation struct {
	BatchSizePages bucketstats.BucketLog2Round
	PacingDelayUsec bucketstats.Average
}

// newInstrumentation registers a fresh diagnostic view under statsGroupName,
// which must be unique per live run: bucketstats panics on a duplicate
// (pkgName, statsGroupName) pair, so callers use a run-scoped name rather
// than the bare device id to allow the same device to be scrubbed again
// once a prior run's instrumentation is unregistered.
func newInstrumentation(statsGroupName string) *instrumentation {
	inst := &instrumentation{}
	bucketstats.Register("scrub", statsGroupName, inst)
	return inst
}

func (ctx *Context) recordBatchCompletion(b *ioBatch, delay uint64) {
	if ctx.inst == nil {
		return
	}
	ctx.inst.BatchSizePages.Add(b.count())
	ctx.inst.PacingDelayUsec.Add(delay)
}
