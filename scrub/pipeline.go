package scrub

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/btrfs-scrub/blockio"
	"github.com/NVIDIA/btrfs-scrub/blunder"
	"github.com/NVIDIA/btrfs-scrub/faultinj"
	"github.com/NVIDIA/btrfs-scrub/logger"
)

// submitCurrent takes the current batch (if any), clears the "current"
// slot, bumps the in-flight/allocated counters, and hands it to the block
// layer.
func (ctx *Context) submitCurrent() error {
	ctx.currLock.Lock()
	if ctx.currentSlot < 0 {
		ctx.currLock.Unlock()
		return nil
	}
	b := ctx.batches[ctx.currentSlot]
	ctx.currentSlot = -1
	ctx.currLock.Unlock()

	if len(b.pages) == 0 {
		ctx.releaseBatch(b)
		return nil
	}

	return ctx.submitBatch(b)
}

func (ctx *Context) submitBatch(b *ioBatch) error {
	atomic.AddInt64(&ctx.biosInFlight, 1)
	atomic.AddInt64(&ctx.biosAllocated, 1)
	b.issuedAt = time.Now()

	if b.device == nil || faultinj.Trigger("scrub.submitBatch") {
		// A missing device handle completes the batch synchronously with
		// an I/O error rather than crashing.
		ctx.onBatchComplete(b, blunder.IOError("scrub: device handle is nil"))
		return nil
	}

	io := batchToIO(b)
	err := b.device.Submit(context.Background(), io, b.direction, func(completedIO *blockio.IO, ioErr error) {
		ctx.onBatchComplete(b, ioErr)
	})
	if err != nil {
		ctx.onBatchComplete(b, err)
	}
	return nil
}

func batchToIO(b *ioBatch) *blockio.IO {
	pages := make([][]byte, len(b.pages))
	for i, p := range b.pages {
		pages[i] = p.buf
	}
	return &blockio.IO{
		Mirror: b.pages[0].mirror,
		PhysOffset: b.physStart,
		LogOffset: b.logStart,
		PageSize: uint64(len(b.pages[0].buf)),
		Pages: pages,
	}
}

// onBatchComplete is the completion worker: on error it marks every page
// io_error and clears the block's no_io_error_seen; for each page it
// decrements the owning block's outstanding_pages and, on transition to
// zero, invokes block-complete; it then releases one block
// reference per page before asking the rate controller whether to pace the
// batch before returning it to the free list.
func (ctx *Context) onBatchComplete(b *ioBatch, err error) {
	atomic.AddInt64(&ctx.biosInFlight, -1)
	b.completionErr = err

	for _, p := range b.pages {
		if err != nil {
			p.block.markIOError()
		}
		if p.block.completePage() {
			ctx.blockComplete(p.block)
		}
	}

	for _, p := range b.pages {
		bl := p.block
		p.Release()
		bl.Release()
	}

	ctx.statLock.Lock()
	if err != nil {
		ctx.stats.ReadErrors++
	} else if b.direction == blockio.DirectionRead {
		ctx.accumulateScrubbedLocked(b)
	}
	ctx.statLock.Unlock()

	logger.Tracef("scrub: batch slot %d completed dir=%s pages=%d err=%v", b.slot, b.direction, len(b.pages), err)

	ctx.onCompletionPacingAndRate(b)
}

func (ctx *Context) accumulateScrubbedLocked(b *ioBatch) {
	bytesDone := b.count() * uint64(len(b.pages[0].buf))
	if b.pages[0].block.isMetadata {
		ctx.stats.TreeBytesScrubbed += bytesDone
	} else {
		ctx.stats.DataBytesScrubbed += bytesDone
	}
	ctx.stats.LastPhysical = b.physStart + bytesDone
}

// onCompletionPacingAndRate asks the rate controller for this batch's
// bytes/sec target, then — with a deadline set — blocks on ctx.limiter
// until that many token-bucket bytes have accrued before the batch rejoins
// the free list. Without a deadline, ctx.limiter is nil and the batch
// rejoins immediately.
func (ctx *Context) onCompletionPacingAndRate(b *ioBatch) {
	delay := ctx.evaluateRate()
	ctx.recordBatchCompletion(b, uint64(delay.Microseconds()))

	logger.Tracef("scrub: batch slot %d issued %v ago, next delay target %v", b.slot, time.Since(b.issuedAt), delay)

	if ctx.isPauseRequested() || ctx.limiter == nil {
		ctx.releaseBatch(b)
		return
	}

	n := int(b.count() * b.pageSize())
	if n <= 0 {
		ctx.releaseBatch(b)
		return
	}

	go func() {
		_ = ctx.limiter.WaitN(context.Background(), n)
		ctx.releaseBatch(b)
	}()
}
