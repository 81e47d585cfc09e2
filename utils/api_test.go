package utils

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTryLockMutexLockUnlock(t *testing.T) {
	m := NewTryLockMutex()
	m.Lock()
	m.Unlock()
}

func TestTryLockMutexTryLockSucceedsWhenFree(t *testing.T) {
	m := NewTryLockMutex()
	require.True(t, m.TryLock(10*time.Millisecond))
	m.Unlock()
}

func TestTryLockMutexTryLockTimesOutWhenHeld(t *testing.T) {
	m := NewTryLockMutex()
	m.Lock()
	defer m.Unlock()

	require.False(t, m.TryLock(10*time.Millisecond))
}

func TestTryLockMutexExcludesConcurrentHolders(t *testing.T) {
	m := NewTryLockMutex()
	var counter int
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock()
			counter++
			m.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 20, counter)
}

func TestGetGIDReturnsNonZero(t *testing.T) {
	require.NotZero(t, GetGID())
}

func TestGetAFnNameReportsCaller(t *testing.T) {
	name := callerOfGetAFnName()
	require.True(t, strings.HasSuffix(name, "callerOfGetAFnName"))
}

func callerOfGetAFnName() string {
	return GetAFnName(0)
}

func TestGetFuncPackageSplitsPackageAndFunc(t *testing.T) {
	fn, pkg, gid := callerOfGetFuncPackage()
	require.Equal(t, "callerOfGetFuncPackage", fn)
	require.Equal(t, "utils", pkg)
	require.NotZero(t, gid)
}

func callerOfGetFuncPackage() (string, string, uint64) {
	return GetFuncPackage(0)
}
