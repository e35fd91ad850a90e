// Package gpioindicator drives a status LED over a Linux GPIO character
// device line, the pure-Go successor to the CM108 USB-audio GPIO hack
// cm108.go used for PTT/status signaling.
package gpioindicator

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/n7node/lnk22/core"
)

// Pattern names the blink cadence an Indicator should show.
type Pattern int

const (
	// Off turns the line low and leaves it there.
	Off Pattern = iota
	// Solid turns the line high and leaves it there: a link, TX, or
	// lock indication.
	Solid
	// SlowBlink toggles roughly once a second: idle-but-alive.
	SlowBlink
	// FastBlink toggles a few times a second: an active SOS broadcast.
	FastBlink
)

const (
	slowBlinkPeriodMS = 1000
	fastBlinkPeriodMS = 200
)

// Indicator owns one requested GPIO output line.
type Indicator struct {
	line    *gpiocdev.Line
	pattern Pattern
	state   bool
	lastTog core.Millis
}

// New requests offset on chip (e.g. "gpiochip0") as an output line,
// initially driven low.
func New(chip string, offset int) (*Indicator, error) {
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("gpioindicator: requesting %s line %d: %w", chip, offset, err)
	}
	return &Indicator{line: line}, nil
}

// SetPattern changes what Tick should do from here on.
func (ind *Indicator) SetPattern(p Pattern) {
	if ind.pattern == p {
		return
	}
	ind.pattern = p
	switch p {
	case Off:
		ind.state = false
		ind.line.SetValue(0)
	case Solid:
		ind.state = true
		ind.line.SetValue(1)
	}
}

// Tick advances any blink pattern. Called from the same loop driving
// core.Node.Tick, at whatever period the host schedules.
func (ind *Indicator) Tick(now core.Millis) {
	var period uint32
	switch ind.pattern {
	case SlowBlink:
		period = slowBlinkPeriodMS
	case FastBlink:
		period = fastBlinkPeriodMS
	default:
		return
	}
	if uint32(core.Since(now, ind.lastTog)) < period/2 {
		return
	}
	ind.lastTog = now
	ind.state = !ind.state
	if ind.state {
		ind.line.SetValue(1)
	} else {
		ind.line.SetValue(0)
	}
}

// Close releases the GPIO line.
func (ind *Indicator) Close() error {
	return ind.line.Close()
}

// Button watches one GPIO input line for a physical emergency-trigger
// switch, the panic-button collaborator the spec carves out of the
// core as an external peripheral. A short press raises OnPress, a
// hold past holdMS raises OnHold (for "press and hold to cancel",
// the same debounce-by-duration shape cm108.go's PTT line wanted but
// never got past a hack for).
type Button struct {
	line    *gpiocdev.Line
	pressed core.Millis
	down    bool

	// OnPress fires once per press-release cycle shorter than holdMS.
	OnPress func()
	// OnHold fires once if the line stays asserted for holdMS or more.
	OnHold func()

	holdMS uint32
}

// NewButton requests offset on chip as a pulled-up input line and
// delivers edge events to the returned Button's internal handler.
// holdMS is the minimum assertion duration that counts as a hold
// rather than a press.
func NewButton(chip string, offset int, holdMS uint32) (*Button, error) {
	b := &Button{holdMS: holdMS}
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(b.handleEvent),
	)
	if err != nil {
		return nil, fmt.Errorf("gpioindicator: requesting button line %d on %s: %w", offset, chip, err)
	}
	b.line = line
	return b, nil
}

func (b *Button) handleEvent(evt gpiocdev.LineEvent) {
	switch evt.Type {
	case gpiocdev.LineEventFallingEdge:
		b.down = true
		b.pressed = core.Millis(uint32(evt.Timestamp.Milliseconds()))
	case gpiocdev.LineEventRisingEdge:
		if !b.down {
			return
		}
		b.down = false
		held := core.Since(core.Millis(uint32(evt.Timestamp.Milliseconds())), b.pressed)
		if uint32(held) >= b.holdMS {
			if b.OnHold != nil {
				b.OnHold()
			}
		} else if b.OnPress != nil {
			b.OnPress()
		}
	}
}

// Close releases the GPIO line.
func (b *Button) Close() error {
	return b.line.Close()
}
