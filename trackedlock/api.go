// Package trackedlock wraps sync.Mutex and sync.RWMutex with lock hold-time
// tracking. The scrub context has several nested locks with a documented
// acquisition order (bios_lock -> list_lock -> curr_lock); holding one too
// long stalls the pacing timer and the free-batch wait, so an unusually
// long hold is worth a log line rather than a silent stall.
//
// If LockHoldTimeLimit is zero (the default) tracking is disabled and the
// wrappers cost one extra atomic load per Lock and Unlock.
package trackedlock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/btrfs-scrub/logger"
)

var lockHoldTimeLimit atomic.Value // time.Duration

func init() {
	lockHoldTimeLimit.Store(time.Duration(0))
}

// SetLockHoldTimeLimit enables (or, with 0, disables) hold-time warnings.
func SetLockHoldTimeLimit(limit time.Duration) {
	lockHoldTimeLimit.Store(limit)
}

func limit() time.Duration {
	return lockHoldTimeLimit.Load().(time.Duration)
}

// Mutex is a drop-in replacement for sync.Mutex that additionally logs a
// warning if a lock is held longer than the configured limit.
type Mutex struct {
	name string
	wrapped sync.Mutex
	lockedAt time.Time
}

// Named gives the mutex a label used in hold-time warnings; purely cosmetic.
func (m *Mutex) Named(name string) *Mutex {
	m.name = name
	return m
}

func (m *Mutex) Lock() {
	m.wrapped.Lock()
	if limit() > 0 {
		m.lockedAt = time.Now()
	}
}

func (m *Mutex) Unlock() {
	if l := limit(); l > 0 && !m.lockedAt.IsZero() {
		if held := time.Since(m.lockedAt); held > l {
			logger.Warnf("trackedlock: mutex %q held %v, exceeding limit %v", m.name, held, l)
		}
	}
	m.wrapped.Unlock()
}

// RWMutex is a drop-in replacement for sync.RWMutex with the same tracking.
// Only exclusive (writer) holds are tracked: readers are expected to be
// short and numerous, so per-reader tracking would be noise.
type RWMutex struct {
	name string
	wrapped sync.RWMutex
	lockedAt time.Time
}

func (m *RWMutex) Named(name string) *RWMutex {
	m.name = name
	return m
}

func (m *RWMutex) Lock() {
	m.wrapped.Lock()
	if limit() > 0 {
		m.lockedAt = time.Now()
	}
}

func (m *RWMutex) Unlock() {
	if l := limit(); l > 0 && !m.lockedAt.IsZero() {
		if held := time.Since(m.lockedAt); held > l {
			logger.Warnf("trackedlock: rwmutex %q held %v, exceeding limit %v", m.name, held, l)
		}
	}
	m.wrapped.Unlock()
}

func (m *RWMutex) RLock() { m.wrapped.RLock() }
func (m *RWMutex) RUnlock() { m.wrapped.RUnlock() }
