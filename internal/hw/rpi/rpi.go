// Package rpi implements internal/link.Bus by bit-banging four Raspberry
// Pi GPIO pins through periph.io — the host-bench target used for
// development by cmd/atxtbridge's default build, standing in for the
// bare-metal target in internal/hw/mcu.
package rpi

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/bcm283x"
)

// Pins names the four GPIOs this bridge uses. The AT and XT lines are
// each a clock/data pair; both are open-drain, so Out(gpio.Low) pulls a
// line low and switching back to In(gpio.PullUp, ...) lets it float high.
type Pins struct {
	ATClock gpio.PinIO
	ATData  gpio.PinIO
	XTClock gpio.PinIO
	XTData  gpio.PinIO
}

// DefaultPins returns a reasonable pin assignment for a Raspberry Pi
// perched next to both keyboard connectors on a breadboard. Override by
// constructing Pins directly if the wiring differs.
func DefaultPins() Pins {
	return Pins{
		ATClock: bcm283x.GPIO17,
		ATData:  bcm283x.GPIO27,
		XTClock: bcm283x.GPIO22,
		XTData:  bcm283x.GPIO23,
	}
}

// Bus drives Pins as an internal/link.Bus. Open must be called once
// before use; Close releases the edge-watcher goroutine.
type Bus struct {
	pins Pins

	mu       sync.Mutex
	onEdge   func()
	maskedBy int // >0 while the handler must not fire

	deadline time.Time

	stop chan struct{}
}

// Open initializes periph.io's host drivers and configures all four pins
// idle: inputs, pulled high, as an open-drain bus looks when nobody is
// driving it.
func Open(pins Pins) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("rpi: %w", err)
	}
	b := &Bus{pins: pins, stop: make(chan struct{})}
	for _, p := range []gpio.PinIO{pins.ATClock, pins.ATData, pins.XTClock, pins.XTData} {
		if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("rpi: configuring %s: %w", p, err)
		}
	}
	if err := pins.ATClock.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("rpi: arming AT clock edge: %w", err)
	}
	go b.watchATClock()
	return b, nil
}

// Close stops the edge-watcher goroutine.
func (b *Bus) Close() {
	close(b.stop)
}

func (b *Bus) watchATClock() {
	for {
		select {
		case <-b.stop:
			return
		default:
		}
		if !b.pins.ATClock.WaitForEdge(100 * time.Millisecond) {
			continue
		}
		b.mu.Lock()
		fn := b.onEdge
		masked := b.maskedBy > 0
		b.mu.Unlock()
		if fn != nil && !masked {
			fn()
		}
	}
}

func (b *Bus) OnClockFallingEdge(fn func()) {
	b.mu.Lock()
	b.onEdge = fn
	b.mu.Unlock()
}

func (b *Bus) MaskClockIRQ() {
	b.mu.Lock()
	b.maskedBy++
	b.mu.Unlock()
}

func (b *Bus) UnmaskClockIRQ() {
	b.mu.Lock()
	if b.maskedBy > 0 {
		b.maskedBy--
	}
	b.mu.Unlock()
}

func (b *Bus) SetATData(high bool)   { setLevel(b.pins.ATData, high) }
func (b *Bus) SetATDataDir(out bool) { setDir(b.pins.ATData, out) }
func (b *Bus) ReadATData() bool      { return readLevel(b.pins.ATData) }
func (b *Bus) SetATClock(high bool)  { setLevel(b.pins.ATClock, high) }
func (b *Bus) SetATClockDir(out bool) {
	setDir(b.pins.ATClock, out)
	if !out {
		b.pins.ATClock.In(gpio.PullUp, gpio.FallingEdge)
	}
}
func (b *Bus) ReadATClock() bool { return readLevel(b.pins.ATClock) }

func (b *Bus) SetXTData(high bool)    { setLevel(b.pins.XTData, high) }
func (b *Bus) SetXTDataDir(out bool)  { setDir(b.pins.XTData, out) }
func (b *Bus) ReadXTData() bool       { return readLevel(b.pins.XTData) }
func (b *Bus) SetXTClock(high bool)   { setLevel(b.pins.XTClock, high) }
func (b *Bus) SetXTClockDir(out bool) { setDir(b.pins.XTClock, out) }
func (b *Bus) ReadXTClock() bool      { return readLevel(b.pins.XTClock) }

// DelayMicros busy-waits: at these hold times (tens of microseconds) a
// scheduled sleep's wakeup latency would itself blow the protocol's
// timing budget.
func (b *Bus) DelayMicros(us int) {
	deadline := time.Now().Add(time.Duration(us) * time.Microsecond)
	for time.Now().Before(deadline) {
	}
}

// TimerStart, TimerStop and TimerFired implement the shared one-shot
// timer as a plain deadline rather than a time.Timer: SendCommand's
// ACK wait and the translation FSM's inactivity watchdog both poll
// TimerFired in a tight loop anyway, so there is nothing for a channel
// wakeup to buy here, and a deadline avoids leaking a goroutine per call.
func (b *Bus) TimerStart(d time.Duration) {
	b.deadline = time.Now().Add(d)
}

func (b *Bus) TimerStop() {
	b.deadline = time.Time{}
}

func (b *Bus) TimerFired() bool {
	return !b.deadline.IsZero() && !time.Now().Before(b.deadline)
}

func setDir(p gpio.PinIO, out bool) {
	if out {
		p.Out(gpio.High)
		return
	}
	p.In(gpio.PullUp, gpio.NoEdge)
}

func setLevel(p gpio.PinIO, high bool) {
	if high {
		p.Out(gpio.High)
	} else {
		p.Out(gpio.Low)
	}
}

func readLevel(p gpio.PinIO) bool {
	return p.Read() == gpio.High
}
