package scrub

import (
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// rateState holds the adaptive rate controller's working variables:
// elapsed/progress bookkeeping plus the current (pool_size, delay) pair it
// last computed.
type rateState struct {
	targetBytes uint64
	batchBytes uint64
	currentDelay time.Duration
	boosted bool
}

func newRateState(opts Options) rateState {
	batchBytes := opts.PagesPerBatch * opts.PageSize
	return rateState{
		batchBytes: batchBytes,
	}
}

// SetTargetBytes installs the estimated total bytes to scrub, either from a
// device-extent enumeration pass or the device's used-bytes figure.
func (ctx *Context) SetTargetBytes(target uint64) {
	ctx.targetBytes = target
}

func (ctx *Context) progressBytes() uint64 {
	ctx.statLock.Lock()
	defer ctx.statLock.Unlock()
	return ctx.stats.DataBytesScrubbed + ctx.stats.TreeBytesScrubbed
}

// evaluateRate computes, from the deadline, estimated target bytes, and
// current progress, a new (pool_size, bytes_per_sec) pair: pool size is
// hand-managed (grown/shrunk directly against the free-list, which has no
// off-the-shelf analogue), while the bytes/sec half is handed to
// ctx.limiter, whose token bucket is what actually paces batch completions
// back onto the free list. It is invoked on each completion when a
// deadline is set.
func (ctx *Context) evaluateRate() time.Duration {
	if ctx.opts.DeadlineSecs == 0 {
		// Deadline of 0: default steady-state pool, no pacing.
		return 0
	}

	deadline := time.Duration(ctx.opts.DeadlineSecs) * time.Second
	elapsed := time.Since(ctx.startTime) - ctx.wastedDuration()

	progress := ctx.progressBytes()
	target := ctx.targetBytes
	remainingBytes := target - progress
	if remainingBytes < ctx.batchBytes || progress > target {
		remainingBytes = ctx.batchBytes
	}

	var newPoolSize uint64
	var newDelay time.Duration
	var bytesPerSec uint64

	if elapsed >= deadline {
		// elapsed >= deadline: pool clamped to MAX, no further pacing.
		newPoolSize = ctx.opts.MaxPoolSize
		newDelay = 0
	} else {
		remainingTime := deadline - elapsed
		bytesPerSec = uint64(math.Ceil(float64(remainingBytes) / remainingTime.Seconds()))

		if ctx.batchBytes > 0 && bytesPerSec < ctx.batchBytes {
			newPoolSize = 1
			newDelay = time.Duration(float64(ctx.batchBytes) / float64(bytesPerSec) * float64(time.Second))
		} else {
			newDelay = time.Nanosecond // "1 tick"
			newPoolSize = clampUint64(uint64(math.Ceil(float64(bytesPerSec)/float64(ctx.batchBytes))), 1, ctx.opts.MaxPoolSize)
		}
	}

	ctx.applyPoolSize(newPoolSize)
	ctx.applyLimiterRate(bytesPerSec)
	ctx.currentDelay = newDelay

	if ctx.opts.BGFlags.Has(BGSCBoost) {
		ctx.evaluateBoost(progress, target)
	}

	return newDelay
}

// applyLimiterRate installs bytesPerSec as ctx.limiter's refill rate; zero
// (no deadline pressure, or deadline already blown) lifts the cap entirely.
// A no-op when no deadline was configured, since ctx.limiter is then nil.
func (ctx *Context) applyLimiterRate(bytesPerSec uint64) {
	if ctx.limiter == nil {
		return
	}
	if bytesPerSec == 0 {
		ctx.limiter.SetLimit(rate.Inf)
		return
	}
	ctx.limiter.SetLimit(rate.Limit(bytesPerSec))
}

func clampUint64(v, lo, hi uint64) uint64 {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}

// applyPoolSize grows or shrinks the batch pool toward newSize.
func (ctx *Context) applyPoolSize(newSize uint64) {
	ctx.biosLock.Lock()
	defer ctx.biosLock.Unlock()

	current := uint64(len(ctx.batches))
	switch {
	case newSize > current:
		ctx.growFreeListLocked(newSize - current)
	case newSize < current:
		ctx.pendingRemoval += int(current - newSize)
	}
}

func (ctx *Context) growFreeListLocked(count uint64) {
	ctx.listLock.Lock()
	defer ctx.listLock.Unlock()
	for i := uint64(0); i < count; i++ {
		slot := len(ctx.batches)
		nb := newIOBatch(slot, ctx.opts.PagesPerBatch)
		nb.nextFree = ctx.firstFree
		ctx.batches = append(ctx.batches, nb)
		ctx.firstFree = slot
	}
}

// evaluateBoost implements the optional "boost" lever: when progress lags
// the goal by >= 100 batches, request a temporary I/O priority boost;
// restore it once progress catches back up. Not on by default
// (Options.BGFlags must set BGSCBoost).
func (ctx *Context) evaluateBoost(progress, target uint64) {
	behind := target > progress && target-progress >= 100*ctx.batchBytes
	if behind && !ctx.boosted {
		ctx.boosted = true
		ctx.requestIOPriorityBoost()
	} else if !behind && ctx.boosted {
		ctx.boosted = false
		ctx.restoreIOPriority()
	}
}

// requestIOPriorityBoost/restoreIOPriority are platform-specific priority
// knobs out of scope here; left as hooks for an embedder to wire to a real
// scheduling class.
func (ctx *Context) requestIOPriorityBoost() {}
func (ctx *Context) restoreIOPriority() {}

func (ctx *Context) isPauseRequested() bool {
	return atomic.LoadInt32(&ctx.pauseRequested) != 0
}

func (ctx *Context) isCancelled() bool {
	return atomic.LoadInt32(&ctx.cancelRequested) != 0
}
