// Package logger provides logging wrappers used by every package in this
// repository, standardizing on github.com/sirupsen/logrus while keeping the
// call sites independent of the underlying logging package.
//
// Every call site is automatically enriched with the calling package,
// function, and goroutine id. Trace-level logging is disabled by default
// and can be enabled per package.
package logger

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/btrfs-scrub/utils"
)

type Level int

const (
	PanicLevel Level = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	TraceLevel
	DebugLevel
)

var traceLevelEnabled = false

var packageTraceSettings = map[string]bool{
	"scrub":       false,
	"duet":        false,
	"raidmap":     false,
	"blockio":     false,
	"extentindex": false,
}

// EnableTrace turns on trace-level logging for the named package.
func EnableTrace(pkg string) {
	if _, ok := packageTraceSettings[pkg]; ok {
		packageTraceSettings[pkg] = true
		traceLevelEnabled = true
	}
}

func traceEnabledForPackage(pkg string) bool {
	enabled, ok := packageTraceSettings[pkg]
	return ok && enabled
}

const (
	packageKey  = "package"
	functionKey = "function"
	errorKey    = "error"
	gidKey      = "goroutine"
	pidKey      = "pid"
)

var pid = fmt.Sprint(os.Getpid())

func entry(level Level) *log.Entry {
	fn, pkg, gid := utils.GetFuncPackage(2)
	fields := log.Fields{
		functionKey: fn,
		packageKey:  pkg,
		gidKey:      gid,
		pidKey:      pid,
	}
	if level == TraceLevel && !traceEnabledForPackage(pkg) {
		return nil
	}
	return log.WithFields(fields)
}

func Infof(format string, args ...interface{}) {
	if e := entry(InfoLevel); e != nil {
		e.Infof(format, args...)
	}
}

func Warnf(format string, args ...interface{}) {
	if e := entry(WarnLevel); e != nil {
		e.Warnf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if e := entry(ErrorLevel); e != nil {
		e.Errorf(format, args...)
	}
}

func Fatalf(format string, args ...interface{}) {
	if e := entry(FatalLevel); e != nil {
		e.Fatalf(format, args...)
	}
}

func Tracef(format string, args ...interface{}) {
	if e := entry(TraceLevel); e != nil {
		e.Infof(format, args...)
	}
}

func InfofWithError(err error, format string, args ...interface{}) {
	if e := entry(InfoLevel); e != nil {
		e.WithField(errorKey, err).Infof(format, args...)
	}
}

func WarnfWithError(err error, format string, args ...interface{}) {
	if e := entry(WarnLevel); e != nil {
		e.WithField(errorKey, err).Warnf(format, args...)
	}
}

func ErrorfWithError(err error, format string, args ...interface{}) {
	if e := entry(ErrorLevel); e != nil {
		e.WithField(errorKey, err).Errorf(format, args...)
	}
}

func PanicfWithError(err error, format string, args ...interface{}) {
	if e := entry(PanicLevel); e != nil {
		e.WithField(errorKey, err).Panicf(format, args...)
	}
}

// SetLevel controls the minimum logrus level emitted. Primarily used by
// tests to quiet expected-warning paths, such as a deliberately
// uncorrectable block.
func SetLevel(level Level) {
	switch level {
	case PanicLevel:
		log.SetLevel(log.PanicLevel)
	case FatalLevel:
		log.SetLevel(log.FatalLevel)
	case ErrorLevel:
		log.SetLevel(log.ErrorLevel)
	case WarnLevel:
		log.SetLevel(log.WarnLevel)
	case InfoLevel, TraceLevel:
		log.SetLevel(log.InfoLevel)
	case DebugLevel:
		log.SetLevel(log.DebugLevel)
	}
}
