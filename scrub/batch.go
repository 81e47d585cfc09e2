package scrub

import (
	"time"

	"github.com/NVIDIA/btrfs-scrub/blockio"
	"github.com/NVIDIA/btrfs-scrub/blunder"
)

// ioBatch is a read-batch or write-batch: up to pages_per_batch page-entries
// submitted as one I/O ("Read-batch (and Write-batch)").
type ioBatch struct {
	slot int

	device blockio.Device
	direction blockio.Direction
	physStart uint64
	logStart uint64
	pages []*pageEntry
	maxPages uint64

	completionErr error

	issuedAt time.Time

	nextFree int // -1 terminates; index into Context.batches
	pendingRemoval bool
}

func newIOBatch(slot int, maxPages uint64) *ioBatch {
	return &ioBatch{slot: slot, maxPages: maxPages, nextFree: -1}
}

func (b *ioBatch) reset() {
	b.device = nil
	b.direction = blockio.DirectionRead
	b.physStart = 0
	b.logStart = 0
	b.pages = b.pages[:0]
	b.completionErr = nil
	b.issuedAt = time.Time{}
	b.pendingRemoval = false
}

func (b *ioBatch) count() uint64 { return uint64(len(b.pages)) }

func (b *ioBatch) physTail() uint64 { return b.physStart + b.count()*b.pageSize() }
func (b *ioBatch) logTail() uint64 { return b.logStart + b.count()*b.pageSize() }

func (b *ioBatch) pageSize() uint64 {
	if len(b.pages) == 0 {
		return 0
	}
	return uint64(len(b.pages[0].buf))
}

// contiguous implements the batch contiguity rule: a page P is appendable
// to batch B iff P.phys == phys_tail, P.log == log_tail, and P.dev == B.dev.
func (b *ioBatch) contiguous(p *pageEntry, pageSize uint64) bool {
	if len(b.pages) == 0 {
		return true
	}
	return p.physical == b.physStart+b.count()*pageSize &&
		p.logical == b.logStart+b.count()*pageSize &&
		p.device == b.device
}

// growFreeList allocates count new batch slots, appends them to
// ctx.batches, and daisy-chains them onto the free-list. Callers must hold ctx.biosLock.
func (ctx *Context) growFreeList(count uint64) {
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

// acquireBatch pops the free-list head, blocking if the pool is exhausted:
// it retries every millisecond, growing the pool up to MaxPoolSize, until a
// batch is free or the run is cancelled (then it returns nil). This is the
// free-batch wait suspension point.
func (ctx *Context) acquireBatch() *ioBatch {
	for {
		ctx.listLock.Lock()
		if ctx.firstFree >= 0 {
			slot := ctx.firstFree
			b := ctx.batches[slot]
			ctx.firstFree = b.nextFree
			b.nextFree = -1
			ctx.listLock.Unlock()
			return b
		}
		ctx.listLock.Unlock()

		if ctx.isCancelled() {
			return nil
		}

		// Only one waiter attempts growth at a time: TryLock with a short
		// timeout lets every other waiter skip straight to the retry sleep
		// instead of piling up on biosLock behind whichever goroutine is
		// already growing the pool.
		if ctx.growAttempt.TryLock(time.Millisecond) {
			ctx.biosLock.Lock()
			if len(ctx.batches) < int(ctx.opts.MaxPoolSize) {
				ctx.growFreeList(1)
			}
			ctx.biosLock.Unlock()
			ctx.growAttempt.Unlock()
		}
		time.Sleep(time.Millisecond)
	}
}

// releaseBatch pushes b back onto the free-list, or — while any shrink is
// pending on the pool — removes it and backfills the slot from the tail to
// keep the batch array dense.
func (ctx *Context) releaseBatch(b *ioBatch) {
	b.reset()

	ctx.biosLock.Lock()
	if ctx.pendingRemoval > 0 && !b.pendingRemoval {
		ctx.pendingRemoval--
		ctx.removeSlot(b.slot)
		ctx.biosLock.Unlock()
		return
	}
	ctx.biosLock.Unlock()

	ctx.listLock.Lock()
	b.nextFree = ctx.firstFree
	ctx.firstFree = b.slot
	ctx.listLock.Unlock()
}

// removeSlot deletes the batch at index idx by moving the last slot into
// its place, then fixes up every next_free link and the current-slot index
// that referenced the moved slot. Callers must hold ctx.biosLock.
func (ctx *Context) removeSlot(idx int) {
	ctx.listLock.Lock()
	last := len(ctx.batches) - 1
	if idx != last {
		moved := ctx.batches[last]
		moved.slot = idx
		ctx.batches[idx] = moved
		for _, other := range ctx.batches[:last] {
			if other.nextFree == last {
				other.nextFree = idx
			}
		}
		if ctx.firstFree == last {
			ctx.firstFree = idx
		}
	}
	ctx.batches = ctx.batches[:last]
	ctx.listLock.Unlock()

	ctx.currLock.Lock()
	if ctx.currentSlot == last && idx != last {
		ctx.currentSlot = idx
	} else if ctx.currentSlot == idx && idx != last {
		// the slot being removed was also "current" — this can only happen
		// for a batch that was taken out of "current" state before removal,
		// since a removal targets a just-completed (not current) batch.
		ctx.currentSlot = -1
	}
	ctx.currLock.Unlock()
}

// addPage appends p to the current batch, taking one from the free-list if
// there is none, submitting and retrying on a contiguity or capacity
// failure.
func (ctx *Context) addPage(p *pageEntry, dir blockio.Direction) error {
	for {
		ctx.currLock.Lock()
		var cur *ioBatch
		if ctx.currentSlot >= 0 {
			cur = ctx.batches[ctx.currentSlot]
		}
		ctx.currLock.Unlock()

		if cur == nil {
			b := ctx.acquireBatch()
			if b == nil {
				return blunder.Cancelled("scrub: cancelled waiting for a free batch")
			}
			b.device = p.device
			b.direction = dir
			b.physStart = p.physical
			b.logStart = p.logical
			ctx.currLock.Lock()
			ctx.currentSlot = b.slot
			ctx.currLock.Unlock()
			cur = b
		}

		if cur.count() >= cur.maxPages || !cur.contiguous(p, uint64(len(p.buf))) {
			if err := ctx.submitCurrent(); err != nil {
				return err
			}
			continue
		}

		cur.pages = append(cur.pages, p)
		if cur.count() >= cur.maxPages {
			return ctx.submitCurrent()
		}
		return nil
	}
}
