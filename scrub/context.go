// Package scrub implements the background data-scrubber for a copy-on-write,
// checksum-protected block storage engine: the extent walker, read-batch
// builder, submission/completion pipeline, checksum/header verifier,
// error-recovery state machine, adaptive rate controller, and the
// synergistic filter that skips ranges a foreground observer already
// validated.
package scrub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/NVIDIA/btrfs-scrub/blockio"
	"github.com/NVIDIA/btrfs-scrub/duet"
	"github.com/NVIDIA/btrfs-scrub/extentindex"
	"github.com/NVIDIA/btrfs-scrub/raidmap"
	"github.com/NVIDIA/btrfs-scrub/trackedlock"
	"github.com/NVIDIA/btrfs-scrub/utils"
)

// Options configures one scrub run; the fields mirror the start operation's
// parameters.
type Options struct {
	DeviceID string
	StartLogical uint64
	EndLogical uint64
	ReadOnly bool

	DeadlineSecs uint64
	BGFlags BGFlags

	PageSize uint64
	SectorSize uint64
	NodeSize uint64
	PagesPerBatch uint64
	MaxPoolSize uint64
	MaxMirrors int

	ReplaceTarget blockio.Device
	SynergyEnabled bool

	FSID [16]byte
	ChunkTreeUUID [16]byte

	// DeviceResolver looks up a blockio.Device by name for mirrors other
	// than the device being scrubbed, consulted by the recovery state
	// machine when rechecking surviving mirrors.
	DeviceResolver func(name string) blockio.Device

	// DirtyCachePageHook lets tests exercise the clean-and-dirty-in-cache
	// uncorrectable branch of nodatasumFallback; nil means "never dirty".
	DirtyCachePageHook func(logical, length uint64) bool

	LockHoldTimeLimit time.Duration
}

// BGFlags is the background-mode bitfield controlling optional scrub
// behavior.
type BGFlags uint32

const (
	BGSCEnum BGFlags = 1 << iota
	BGSCBoost
)

func (f BGFlags) Has(bit BGFlags) bool { return f&bit != 0 }

// Context is the per-device scrub handle: the long-lived owner of the batch
// pool, the rate-controller state, live counters, and statistics. Every
// operation on it takes the Context by reference and acquires its sub-locks
// in a fixed order: bios_lock -> list_lock -> curr_lock; stat_lock and the
// synergistic bitmap lock are leaves.
type Context struct {
	opts Options
	device blockio.Device
	mapper raidmap.Mapper
	commit *extentindex.CommitRoot

	pagePool *pagePoolHolder
	blockPool *blockPoolHolder

	biosLock trackedlock.Mutex // serializes pool growth/shrink with submissions
	listLock trackedlock.Mutex // protects free-list head and next_free links
	currLock trackedlock.Mutex // protects the "current" slot index
	statLock trackedlock.Mutex // protects statistics counters
	wrLock trackedlock.Mutex // protects the single in-flight write batch (replace mode)

	batches []*ioBatch
	firstFree int // -1 terminates the free-list
	currentSlot int // -1 if there is no current batch
	pendingRemoval int
	growAttempt *utils.TryLockMutex

	biosInFlight int64
	biosAllocated int64
	workersPending int64

	pauseRequested int32
	pauseCond *sync.Cond
	pauseMu sync.Mutex
	pauseStart time.Time
	wastedTime time.Duration
	cancelRequested int32

	limiter *rate.Limiter
	rateState

	stats Statistics
	inst *instrumentation

	synergyTask *duet.Task
	synergyMgr *duet.Manager

	replaceCtx *replaceContext

	startTime time.Time
}

// pagePoolHolder/blockPoolHolder exist only so Context doesn't need to know
// refcntpool's exact pool type at call sites scattered across files.
type pagePoolHolder struct{ pool interface{ Get() interface{} } }
type blockPoolHolder struct{ pool interface{ Get() interface{} } }

// New builds a Context for a scrub run against device, using mapper to
// resolve logical ranges and commit as the commit-root view of the extent
// and csum trees. statsGroupName must be unique among live runs; it
// identifies this run's diagnostic-instrumentation registration.
func New(opts Options, device blockio.Device, mapper raidmap.Mapper, commit *extentindex.CommitRoot, statsGroupName string) *Context {
	ctx := &Context{
		opts: opts,
		device: device,
		mapper: mapper,
		commit: commit,
		firstFree: -1,
		currentSlot: -1,
		startTime: time.Time{},
	}
	ctx.growAttempt = utils.NewTryLockMutex()
	ctx.pauseCond = sync.NewCond(&ctx.pauseMu)
	ctx.biosLock.Named("bios_lock")
	ctx.listLock.Named("list_lock")
	ctx.currLock.Named("curr_lock")
	ctx.statLock.Named("stat_lock")
	ctx.wrLock.Named("wr_lock")

	if opts.LockHoldTimeLimit > 0 {
		trackedlock.SetLockHoldTimeLimit(opts.LockHoldTimeLimit)
	}

	pp := newPagePool(opts.PageSize)
	bp := newBlockPool()
	ctx.pagePool = &pagePoolHolder{pool: pp}
	ctx.blockPool = &blockPoolHolder{pool: bp}

	if opts.SynergyEnabled {
		ctx.synergyMgr = duet.NewManager()
		ctx.synergyTask = ctx.synergyMgr.Register(opts.DeviceID, 0xFFFF)
	}

	if opts.ReplaceTarget != nil {
		ctx.replaceCtx = &replaceContext{target: opts.ReplaceTarget}
	}

	ctx.inst = newInstrumentation(statsGroupName)

	ctx.rateState = newRateState(opts)
	if opts.DeadlineSecs > 0 {
		burst := int(ctx.batchBytes)
		if burst <= 0 {
			burst = 1
		}
		ctx.limiter = rate.NewLimiter(rate.Inf, burst)
	}

	return ctx
}

func (ctx *Context) getPage() *pageEntry {
	return ctx.pagePool.pool.Get().(*pageEntry)
}

func (ctx *Context) getBlock() *block {
	return ctx.blockPool.pool.Get().(*block)
}

// replaceContext holds the single in-flight write batch used when a scrub
// run is operating in device-replace mode.
type replaceContext struct {
	target blockio.Device
	batch *ioBatch
}

// ProgressHandle identifies a running or completed scrub run for later
// pause, resume, cancel, or progress calls.
type ProgressHandle struct {
	ID uuid.UUID
	DeviceID string
}
