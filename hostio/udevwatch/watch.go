// Package udevwatch notices when the radio's USB-serial adapter is
// unplugged and replugged, so a host integration can reopen
// hostio/radiohamlib's data port instead of leaving the node deaf until
// a restart. direwolf.go links -ludev for exactly this kind of hotplug
// awareness; this is its pure-Go equivalent.
package udevwatch

import (
	"context"
	"fmt"

	"github.com/jochenvg/go-udev"
)

// Action is the udev action string: "add", "remove", "change", ...
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Event describes one hotplug transition on a matched device.
type Event struct {
	Action     Action
	DevicePath string // e.g. /dev/ttyUSB0
}

// Watcher streams hotplug events for a udev subsystem (typically "tty"
// for USB-serial adapters).
type Watcher struct {
	u       udev.Udev
	cancel  context.CancelFunc
	events  chan Event
}

// New starts watching subsystem and returns the open Watcher. Call
// Close to stop.
func New(subsystem string) (*Watcher, error) {
	u := udev.Udev{}
	mon := u.NewMonitorFromNetlink("udev")
	if mon == nil {
		return nil, fmt.Errorf("udevwatch: could not open netlink monitor")
	}
	if err := mon.FilterAddMatchSubsystem(subsystem); err != nil {
		return nil, fmt.Errorf("udevwatch: filtering subsystem %s: %w", subsystem, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	deviceCh, _, err := mon.DeviceChan(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("udevwatch: starting monitor: %w", err)
	}

	w := &Watcher{u: u, cancel: cancel, events: make(chan Event, 8)}
	go func() {
		for dev := range deviceCh {
			w.events <- Event{Action: Action(dev.Action()), DevicePath: dev.Devnode()}
		}
		close(w.events)
	}()
	return w, nil
}

// Events returns the channel of hotplug transitions.
func (w *Watcher) Events() <-chan Event { return w.events }

// Close stops the monitor goroutine.
func (w *Watcher) Close() {
	w.cancel()
}
