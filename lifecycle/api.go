// Package lifecycle provides ordered Up()/Down() callback registration for
// the long-running subsystems of a scrubctl serve process: the control
// endpoint and the synergistic-filter event pump.
//
// A serve process has a small, fixed set of subsystems: serve registers each
// one before calling Up(), Up() is called in registration order at startup, and
// Down() is called in reverse order at shutdown so later subsystems (which
// may depend on earlier ones) always stop first.
package lifecycle

import (
	"github.com/NVIDIA/btrfs-scrub/logger"
)

// Callbacks is implemented by each subsystem that needs to be started and
// stopped alongside a scrub run.
type Callbacks interface {
	Up() error
	Down() error
}

type registration struct {
	name string
	callbacks Callbacks
}

var registrations []registration

// Register adds a subsystem to the ordered Up/Down sequence. Call from
// init() so that registration order is deterministic across a binary.
func Register(name string, callbacks Callbacks) {
	registrations = append(registrations, registration{name: name, callbacks: callbacks})
}

// Up calls Up() on every registered subsystem in registration order,
// stopping and unwinding (calling Down on what already started) at the
// first error.
func Up() error {
	started := make([]registration, 0, len(registrations))
	for _, r := range registrations {
		if err := r.callbacks.Up(); err != nil {
			logger.ErrorfWithError(err, "lifecycle: %s failed to start", r.name)
			for i := len(started) - 1; i >= 0; i-- {
				if derr := started[i].callbacks.Down(); derr != nil {
					logger.ErrorfWithError(derr, "lifecycle: %s failed to unwind", started[i].name)
				}
			}
			return err
		}
		started = append(started, r)
	}
	return nil
}

// Down calls Down() on every registered subsystem in reverse registration
// order, continuing past errors so that every subsystem gets a chance to
// release its resources.
func Down() error {
	var first error
	for i := len(registrations) - 1; i >= 0; i-- {
		r := registrations[i]
		if err := r.callbacks.Down(); err != nil {
			logger.ErrorfWithError(err, "lifecycle: %s failed to stop", r.name)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
