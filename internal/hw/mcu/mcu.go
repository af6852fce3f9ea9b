//go:build tinygo && rp

// Package mcu implements internal/link.Bus directly on TinyGo's machine
// package — the bare-metal target this firmware actually ships on.
package mcu

import (
	"time"

	"machine"
)

// Pins names the four GPIOs this bridge uses, both AT and XT sides being
// open-drain clock/data pairs.
type Pins struct {
	ATClock machine.Pin
	ATData  machine.Pin
	XTClock machine.Pin
	XTData  machine.Pin
}

// Bus drives Pins as an internal/link.Bus.
type Bus struct {
	pins Pins

	onEdge   func()
	maskedBy int

	deadline time.Time
}

// New configures all four pins idle (input, pulled up) and arms the
// AT clock's falling-edge interrupt, which stays armed for the Bus's
// entire lifetime — MaskClockIRQ/UnmaskClockIRQ gate dispatch in
// software rather than disabling the interrupt itself, since TinyGo's
// SetInterrupt has no cheap "pause" short of reconfiguring the pin.
func New(pins Pins) *Bus {
	b := &Bus{pins: pins}
	for _, p := range []machine.Pin{pins.ATClock, pins.ATData, pins.XTClock, pins.XTData} {
		p.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	}
	pins.ATClock.SetInterrupt(machine.PinFalling, func(machine.Pin) {
		if b.maskedBy == 0 && b.onEdge != nil {
			b.onEdge()
		}
	})
	return b
}

func (b *Bus) OnClockFallingEdge(fn func()) { b.onEdge = fn }

func (b *Bus) MaskClockIRQ()   { b.maskedBy++ }
func (b *Bus) UnmaskClockIRQ() {
	if b.maskedBy > 0 {
		b.maskedBy--
	}
}

func (b *Bus) SetATData(high bool)   { setLevel(b.pins.ATData, high) }
func (b *Bus) SetATDataDir(out bool) { setDir(b.pins.ATData, out) }
func (b *Bus) ReadATData() bool      { return b.pins.ATData.Get() }
func (b *Bus) SetATClock(high bool)  { setLevel(b.pins.ATClock, high) }
func (b *Bus) SetATClockDir(out bool) {
	setDir(b.pins.ATClock, out)
}
func (b *Bus) ReadATClock() bool { return b.pins.ATClock.Get() }

func (b *Bus) SetXTData(high bool)    { setLevel(b.pins.XTData, high) }
func (b *Bus) SetXTDataDir(out bool)  { setDir(b.pins.XTData, out) }
func (b *Bus) ReadXTData() bool       { return b.pins.XTData.Get() }
func (b *Bus) SetXTClock(high bool)   { setLevel(b.pins.XTClock, high) }
func (b *Bus) SetXTClockDir(out bool) { setDir(b.pins.XTClock, out) }
func (b *Bus) ReadXTClock() bool      { return b.pins.XTClock.Get() }

// DelayMicros busy-waits by polling time.Now rather than calling time.Sleep:
// at tens of microseconds, a scheduled sleep's wakeup jitter would itself
// blow the protocol's timing budget.
func (b *Bus) DelayMicros(us int) {
	deadline := time.Now().Add(time.Duration(us) * time.Microsecond)
	for time.Now().Before(deadline) {
	}
}

func (b *Bus) TimerStart(d time.Duration) {
	b.deadline = time.Now().Add(d)
}

func (b *Bus) TimerStop() {
	b.deadline = time.Time{}
}

func (b *Bus) TimerFired() bool {
	return !b.deadline.IsZero() && !time.Now().Before(b.deadline)
}

func setDir(p machine.Pin, out bool) {
	if out {
		p.Configure(machine.PinConfig{Mode: machine.PinOutput})
		return
	}
	p.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
}

func setLevel(p machine.Pin, high bool) {
	p.Set(high)
}
