package trackedlock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMutexLockUnlockWithoutLimit(t *testing.T) {
	SetLockHoldTimeLimit(0)
	var m Mutex
	m.Named("test")
	m.Lock()
	m.Unlock()
}

func TestMutexWithLimitDoesNotBlockOrPanic(t *testing.T) {
	SetLockHoldTimeLimit(time.Microsecond)
	defer SetLockHoldTimeLimit(0)

	var m Mutex
	m.Named("slow")
	m.Lock()
	time.Sleep(2 * time.Millisecond)
	require.NotPanics(t, m.Unlock)
}

func TestRWMutexReadersDoNotExcludeEachOther(t *testing.T) {
	var m RWMutex
	m.Named("rw")

	m.RLock()
	m.RLock()
	m.RUnlock()
	m.RUnlock()
}

func TestRWMutexWriteLockUnlock(t *testing.T) {
	var m RWMutex
	m.Lock()
	m.Unlock()
}

func TestSetLockHoldTimeLimitIsGlobal(t *testing.T) {
	SetLockHoldTimeLimit(5 * time.Second)
	defer SetLockHoldTimeLimit(0)
	require.Equal(t, 5*time.Second, limit())
}
