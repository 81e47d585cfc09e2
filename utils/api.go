// Package utils provides small, widely used helpers shared by the scrub
// engine and its supporting packages (goroutine introspection for logging,
// and a mutex that supports a bounded TryLock for the free-batch wait in
// the scrub batch pool).
package utils

import (
	"bytes"
	"regexp"
	"runtime"
	"strconv"
	"time"
)

// TryLockMutex behaves like sync.Mutex but additionally offers TryLock with
// a timeout, used by the batch pool when growth is in flight and a caller
// would rather retry than block forever.
type TryLockMutex struct {
	c chan struct{}
}

func NewTryLockMutex() (tryLockMutex *TryLockMutex) {
	return &TryLockMutex{c: make(chan struct{}, 1)}
}

func (tryLockMutex *TryLockMutex) Lock() {
	tryLockMutex.c <- struct{}{}
}

func (tryLockMutex *TryLockMutex) TryLock(timeout time.Duration) (gotIt bool) {
	timer := time.NewTimer(timeout)
	select {
	case tryLockMutex.c <- struct{}{}:
		timer.Stop()
		gotIt = true
	case <-timer.C:
		gotIt = false
	}
	return
}

func (tryLockMutex *TryLockMutex) Unlock() {
	<-tryLockMutex.c
}

// GetGID returns the calling goroutine's id, parsed out of a runtime stack
// dump. Only used for log enrichment; never relied on for correctness.
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	b = b[:bytes.IndexByte(b, ' ')]
	n, _ := strconv.ParseUint(string(b), 10, 64)
	return n
}

var fnNameRE = regexp.MustCompile(`[^/]*$`)

// GetAFnName returns "package.Func" for the caller `level` frames up.
func GetAFnName(level int) string {
	pc, _, _, _ := runtime.Caller(level + 1)
	functionObject := runtime.FuncForPC(pc)
	if functionObject == nil {
		return ""
	}
	return fnNameRE.FindString(functionObject.Name())
}

var (
	pkgNameRE  = regexp.MustCompile(`^[^.]*`)
	funcNameRE = regexp.MustCompile(`[^.]*$`)
)

// GetFuncPackage splits the caller's "package.Func" name into its parts and
// also returns the calling goroutine id, for use by package logger.
func GetFuncPackage(level int) (fn string, pkg string, gid uint64) {
	funcPkg := GetAFnName(level + 1)
	pkg = pkgNameRE.FindString(funcPkg)
	fn = funcNameRE.FindString(funcPkg)
	gid = GetGID()
	return
}
