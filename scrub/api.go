package scrub

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/NVIDIA/btrfs-scrub/blockio"
	"github.com/NVIDIA/btrfs-scrub/blunder"
	"github.com/NVIDIA/btrfs-scrub/bucketstats"
	"github.com/NVIDIA/btrfs-scrub/extentindex"
	"github.com/NVIDIA/btrfs-scrub/logger"
	"github.com/NVIDIA/btrfs-scrub/raidmap"
)

// Manager tracks the set of running/completed scrub runs behind the
// operator-facing entry points start, pause, resume, cancel, and progress.
// It is the transport-agnostic core cmd/scrubctl's CLI sits on top of.
type Manager struct {
	mu sync.Mutex
	runs map[uuid.UUID]*run
}

type run struct {
	ctx *Context
	handle ProgressHandle
	done chan struct{}
	err error
}

func NewManager() *Manager {
	return &Manager{runs: make(map[uuid.UUID]*run)}
}

// Start begins a new scrub run over opts.DeviceID's configured range. It
// validates preconditions then runs the walker in a new goroutine, returning
// a handle the caller uses to pause, resume, cancel, or poll progress.
func (m *Manager) Start(opts Options, device blockio.Device, mapper raidmap.Mapper, commit *extentindex.CommitRoot) (ProgressHandle, error) {
	if opts.DeviceID == "" {
		return ProgressHandle{}, blunder.InvalidArgument("scrub: device_id is required")
	}
	if opts.NodeSize > mapper.StripeLen() && mapper.StripeLen() > 0 {
		return ProgressHandle{}, blunder.InvalidArgument("scrub: node_size %d exceeds stripe length %d", opts.NodeSize, mapper.StripeLen())
	}
	if device == nil {
		return ProgressHandle{}, blunder.InvalidArgument("scrub: device handle is missing")
	}

	handle := ProgressHandle{ID: uuid.New(), DeviceID: opts.DeviceID}
	statsGroupName := opts.DeviceID + "-" + handle.ID.String()
	ctx := New(opts, device, mapper, commit, statsGroupName)
	r := &run{ctx: ctx, handle: handle, done: make(chan struct{})}

	m.mu.Lock()
	m.runs[handle.ID] = r
	m.mu.Unlock()

	go func() {
		defer close(r.done)
		defer bucketstats.UnRegister("scrub", statsGroupName)
		defer func() {
			if ctx.synergyMgr != nil {
				ctx.synergyMgr.Deregister(ctx.synergyTask.ID)
			}
		}()
		r.err = ctx.Walk()
		if r.err != nil && !blunder.IsCancelled(r.err) {
			logger.ErrorfWithError(r.err, "scrub: run %s on device %s ended with an error", handle.ID, opts.DeviceID)
		}
	}()

	return handle, nil
}

// Pause requests that the run park at its next opportunity, composable with
// the walker's drain-and-park protocol.
func (m *Manager) Pause(id uuid.UUID) error {
	r, err := m.find(id)
	if err != nil {
		return err
	}
	atomic.StoreInt32(&r.ctx.pauseRequested, 1)
	return nil
}

// Resume clears the pause flag and wakes the walker parked in checkPause.
func (m *Manager) Resume(id uuid.UUID) error {
	r, err := m.find(id)
	if err != nil {
		return err
	}
	atomic.StoreInt32(&r.ctx.pauseRequested, 0)
	r.ctx.pauseMu.Lock()
	r.ctx.pauseCond.Broadcast()
	r.ctx.pauseMu.Unlock()
	return nil
}

// Cancel requests that the run stop. Cancellation is cooperative: it is
// observed at the next walker iteration.
func (m *Manager) Cancel(id uuid.UUID) error {
	r, err := m.find(id)
	if err != nil {
		return err
	}
	atomic.StoreInt32(&r.ctx.cancelRequested, 1)
	// A pending pause must not block a cancellation from making progress:
	// wake any parked walker so it observes the cancel flag.
	atomic.StoreInt32(&r.ctx.pauseRequested, 0)
	r.ctx.pauseMu.Lock()
	r.ctx.pauseCond.Broadcast()
	r.ctx.pauseMu.Unlock()
	return nil
}

// Progress returns a statistics snapshot for the run.
func (m *Manager) Progress(id uuid.UUID) (Statistics, error) {
	r, err := m.find(id)
	if err != nil {
		return Statistics{}, err
	}
	return r.ctx.Progress(), nil
}

// Wait blocks until the run identified by id has finished, returning its
// terminal error (nil on success, a cancelled error on scrub_cancel).
func (m *Manager) Wait(id uuid.UUID) error {
	r, err := m.find(id)
	if err != nil {
		return err
	}
	<-r.done
	return r.err
}

// PumpSynergyEvents is called periodically by an embedder's idle loop; it
// fetches and marks up to maxEvents pending synergistic-filter events. A
// no-op if the run was started without SynergyEnabled.
func (m *Manager) PumpSynergyEvents(id uuid.UUID, maxEvents int) error {
	r, err := m.find(id)
	if err != nil {
		return err
	}
	r.ctx.ProcessSynergyEvents(maxEvents)
	return nil
}

func (m *Manager) find(id uuid.UUID) (*run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, blunder.InvalidArgument("scrub: no run with id %s", id)
	}
	return r, nil
}
