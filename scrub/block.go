package scrub

import (
	"sync"
	"sync/atomic"

	"github.com/NVIDIA/btrfs-scrub/blockio"
	"github.com/NVIDIA/btrfs-scrub/refcntpool"
)

// pageEntry is one fixed-size page within a block.
// It embeds refcntpool.RefCntItem and takes a hold on its owning Block; the
// batch that completes the page releases both the page and that Block hold,
// so a Block is only returned to its pool after its last page's I/O has
// completed.
type pageEntry struct {
	refcntpool.RefCntItem

	block *block
	buf []byte

	device blockio.Device
	mirror int

	logical uint64
	physical uint64
	replacementPhysical uint64

	extentFlags uint64
	generation uint64

	csum uint32
	haveCsum bool

	ioError bool
}

func (p *pageEntry) resetFor(b *block, device blockio.Device, mirror int, logical, physical uint64) {
	p.block = b
	p.device = device
	p.mirror = mirror
	p.logical = logical
	p.physical = physical
	p.replacementPhysical = 0
	p.extentFlags = 0
	p.generation = 0
	p.csum = 0
	p.haveCsum = false
	p.ioError = false
	if b != nil {
		b.Hold()
	}
}

func newPagePool(pageSize uint64) *refcntpool.RefCntItemPool {
	return &refcntpool.RefCntItemPool{
		New: func() interface{} {
			return &pageEntry{buf: make([]byte, pageSize)}
		},
	}
}

// block is an ordered sequence of 1..N page-entries representing one mirror
// of a logical node/leaf/sector.
type block struct {
	refcntpool.RefCntItem

	ctx *Context

	mu sync.Mutex
	pages []*pageEntry

	device blockio.Device
	mirror int

	logical uint64
	length uint64
	extentFlags uint64
	generation uint64
	isMetadata bool

	outstandingPages int32 // atomic; completions decrement, zero triggers verify

	// sticky flags 
	headerError bool
	checksumError bool
	noIOErrorSeen bool // monotonically cleared only, never set back
	generationError bool

	repairedPages map[int]bool // index into pages that were rewritten during recovery
}

func newBlockPool() *refcntpool.RefCntItemPool {
	return &refcntpool.RefCntItemPool{
		New: func() interface{} {
			return &block{}
		},
	}
}

func (b *block) resetFor(ctx *Context, device blockio.Device, mirror int, logical, length, extentFlags, generation uint64, isMetadata bool) {
	b.ctx = ctx
	b.pages = b.pages[:0]
	b.device = device
	b.mirror = mirror
	b.logical = logical
	b.length = length
	b.extentFlags = extentFlags
	b.generation = generation
	b.isMetadata = isMetadata
	atomic.StoreInt32(&b.outstandingPages, 0)
	b.headerError = false
	b.checksumError = false
	b.noIOErrorSeen = true
	b.generationError = false
	b.repairedPages = nil
}

// addPage appends a freshly-acquired page entry to the block, bumping the
// outstanding-page counter before it is handed to the pipeline.
func (b *block) addPage(p *pageEntry) {
	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
	atomic.AddInt32(&b.outstandingPages, 1)
}

// markIOError marks every page of the block as failed and clears
// noIOErrorSeen, which is monotonic once cleared.
func (b *block) markIOError() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.noIOErrorSeen = false
	for _, p := range b.pages {
		p.ioError = true
	}
}

// completePage decrements the outstanding-page counter for one page and
// reports whether this call drove it to zero: block-complete runs exactly
// once, on the goroutine that drives the last decrement.
func (b *block) completePage() (last bool) {
	return atomic.AddInt32(&b.outstandingPages, -1) == 0
}

func (b *block) outstanding() int32 {
	return atomic.LoadInt32(&b.outstandingPages)
}

func (b *block) hasAnyIOError() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.pages {
		if p.ioError {
			return true
		}
	}
	return false
}

func (b *block) markPageRepaired(idx int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.repairedPages == nil {
		b.repairedPages = make(map[int]bool)
	}
	b.repairedPages[idx] = true
}
