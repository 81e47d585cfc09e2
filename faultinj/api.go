// Package faultinj lets tests arm a named trigger point so that the Nth
// time the scrub engine reaches it, an injected fault fires instead of the
// normal outcome. It gives recovery-path tests a reproducible bad mirror,
// short read, or dropped completion without corrupting a real device.
//
// This follows the same Arm/Trigger/Disarm-at-named-points shape as a
// process-halting fault injector, but triggers return a caller-supplied
// fault value instead of halting the process — a scrub run that hit real
// disk corruption must keep running, not crash.
package faultinj

import (
	"sync"
)

type globalsStruct struct {
	sync.Mutex
	armed map[string]uint32 // trigger label -> remaining count before firing
}

var globals = globalsStruct{armed: make(map[string]uint32)}

// Arm sets up label to fire on its triggerAfterCount'th call to Trigger.
// triggerAfterCount of 1 fires on the very next call.
func Arm(label string, triggerAfterCount uint32) {
	globals.Lock()
	defer globals.Unlock()
	if triggerAfterCount == 0 {
		triggerAfterCount = 1
	}
	globals.armed[label] = triggerAfterCount
}

// Disarm removes a previously Arm'd label.
func Disarm(label string) {
	globals.Lock()
	defer globals.Unlock()
	delete(globals.armed, label)
}

// DisarmAll clears every armed trigger; tests call this in t.Cleanup.
func DisarmAll() {
	globals.Lock()
	defer globals.Unlock()
	globals.armed = make(map[string]uint32)
}

// Trigger decrements label's remaining count if armed, and reports whether
// this call is the one that should fire the injected fault.
func Trigger(label string) (fire bool) {
	globals.Lock()
	defer globals.Unlock()
	remaining, armed := globals.armed[label]
	if !armed {
		return false
	}
	remaining--
	if remaining == 0 {
		delete(globals.armed, label)
		return true
	}
	globals.armed[label] = remaining
	return false
}

// Armed reports the labels currently armed and their remaining count,
// useful for test assertions that a trigger was (or wasn't) consumed.
func Armed() map[string]uint32 {
	globals.Lock()
	defer globals.Unlock()
	out := make(map[string]uint32, len(globals.armed))
	for k, v := range globals.armed {
		out[k] = v
	}
	return out
}
