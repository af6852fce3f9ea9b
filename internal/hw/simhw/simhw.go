// Package simhw is an in-process fake of internal/link.Bus, standing in
// for a real keyboard and PC host in tests and in cmd/atxtreplay. It is
// deliberately scripted rather than goroutine-driven: the simulated
// keyboard's clock edges are generated by explicit calls (InjectATByte,
// ArmCommandHandshake, ...) instead of a free-running clock, which keeps
// the whole simulation single-threaded and its outcomes deterministic.
//
// AT CLK is modeled as a real open-drain line: it reads low if either
// party is pulling it low, high only once both release it. That is what
// lets HoldATClockLow simulate a wedged keyboard without also wedging our
// own recovery attempt once the keyboard (per the simulated script) lets
// go again.
package simhw

import (
	"time"

	"at2xt.dev/internal/scan"
)

// Bus implements link.Bus entirely in memory.
type Bus struct {
	atClock, atData       bool // level we'd drive while directionOut
	atClockDir, atDataDir bool // true: we drive the line; false: input

	peerHoldsATClock bool // the simulated keyboard is pulling CLK low

	xtClock, xtData       bool
	xtClockDir, xtDataDir bool

	edgeFn func()
	masked bool

	// armedACKs queues outcomes for upcoming AT command transmissions: the
	// next UnmaskClockIRQ call made while one is pending pops the front
	// entry and synchronously clocks out the rest of that command, ACKing
	// or not as queued. A command sent with the queue empty gets no edges
	// at all (its ACK wait runs out the clock instead).
	armedACKs []bool

	// forceFired arms the next TimerStart to report an already-expired
	// timer. The first TimerFired read that observes it also clears
	// peerHoldsATClock, modeling a keyboard that was merely slow to
	// finish a frame rather than permanently wedged. Consumed on use.
	forceFired bool
	fired      bool

	// afterTimerStop, if set, runs once TimerStop has been called
	// timerStopCountdown more times (0 means "the very next call") — the
	// hook point callers use to simulate the keyboard's next byte arriving
	// right as a watchdog-triggered recovery completes. A stalled AT
	// frame recovery nests a full SendCommand (and its own ACK-wait timer
	// use) inside the outer watchdog wait, so the outer TimerStop isn't
	// necessarily the next one.
	afterTimerStop     func()
	timerStopCountdown int

	// AutoACK, when set, completes any AT command handshake that arrives
	// with the outcome queue empty as an immediate ACK, rather than
	// leaving it to stall forever waiting for a script that will never
	// come. Tests leave this false and arm every handshake explicitly;
	// cmd/atxtreplay sets it, since nothing there scripts the keyboard
	// side of an LED-update command.
	AutoACK bool

	// XTBytes accumulates every byte decoded off the XT wire as it is
	// clocked out.
	XTBytes []byte
	xtBits  []bool
}

// New returns a Bus with both AT lines and both XT lines idle (pulled
// high, as on a real bus with nobody driving them).
func New() *Bus {
	return &Bus{atClock: true, atData: true, xtClock: true, xtData: true}
}

func (b *Bus) SetATData(high bool)   { b.atData = high }
func (b *Bus) SetATDataDir(out bool) { b.atDataDir = out }
func (b *Bus) ReadATData() bool      { return b.atData }

func (b *Bus) SetATClock(high bool) { b.atClock = high }
func (b *Bus) SetATClockDir(out bool) {
	b.atClockDir = out
}

// ReadATClock reads low if we are driving it low, or if the simulated
// keyboard is holding it low, and high otherwise.
func (b *Bus) ReadATClock() bool {
	if b.peerHoldsATClock {
		return false
	}
	if b.atClockDir {
		return b.atClock
	}
	return true
}

func (b *Bus) SetXTData(high bool)   { b.xtData = high }
func (b *Bus) SetXTDataDir(out bool) { b.xtDataDir = out }
func (b *Bus) ReadXTData() bool      { return b.xtData }

func (b *Bus) SetXTClock(high bool) {
	b.xtClock = high
	if b.xtClockDir && !high {
		b.logXTBit()
	}
}

func (b *Bus) SetXTClockDir(out bool) { b.xtClockDir = out }
func (b *Bus) ReadXTClock() bool      { return b.xtClock }

func (b *Bus) DelayMicros(int) {}

func (b *Bus) MaskClockIRQ() { b.masked = true }

// UnmaskClockIRQ re-arms edge dispatch and, if a command handshake is
// pending, runs it to completion right here — this is called from
// link.SendCommand immediately after hostMode is set, so onClockEdge
// dispatches to the transmitter exactly as it would on real hardware.
func (b *Bus) UnmaskClockIRQ() {
	b.masked = false
	if len(b.armedACKs) > 0 {
		ack := b.armedACKs[0]
		b.armedACKs = b.armedACKs[1:]
		b.runCommandBurst(ack)
		return
	}
	// AT DATA is still ours (driving low) only when this unmask follows
	// SendCommand's request-to-send; the receiver's idleAT releases both
	// lines before unmasking. That's the signal an unscripted command
	// handshake is in flight here.
	if b.AutoACK && b.atDataDir {
		b.runCommandBurst(true)
	}
}

func (b *Bus) OnClockFallingEdge(fn func()) { b.edgeFn = fn }

func (b *Bus) TimerStart(time.Duration) {
	b.fired = b.forceFired
}

func (b *Bus) TimerStop() {
	if b.afterTimerStop == nil {
		return
	}
	if b.timerStopCountdown > 0 {
		b.timerStopCountdown--
		return
	}
	fn := b.afterTimerStop
	b.afterTimerStop = nil
	fn()
}

func (b *Bus) TimerFired() bool {
	if b.fired && b.forceFired {
		b.forceFired = false
		b.peerHoldsATClock = false
	}
	return b.fired
}

// ArmCommandHandshake queues an outcome for the next AT command
// transmission that hasn't already been armed: run it to completion
// synchronously, as if the keyboard were clocking its bits in real time,
// acknowledging or not as requested. Call it once per expected
// SendCommand; queued outcomes are consumed in order.
func (b *Bus) ArmCommandHandshake(ack bool) {
	b.armedACKs = append(b.armedACKs, ack)
}

// ArmTimerExpiry makes the next TimerStart report an already-fired
// timer. Used both for link.SendCommand's own ACK-timeout path and for
// the translation FSM's inactivity watchdog.
func (b *Bus) ArmTimerExpiry() {
	b.forceFired = true
}

// HoldATClockLow simulates the keyboard pulling CLK low mid-frame.
func (b *Bus) HoldATClockLow() {
	b.peerHoldsATClock = true
}

// ReleaseATClock simulates the keyboard releasing CLK back to idle.
func (b *Bus) ReleaseATClock() {
	b.peerHoldsATClock = false
}

// SetTimerStopHook arranges for fn to run once TimerStop has since been
// called skip additional times — skip=0 means the very next call. A
// watchdog-triggered recovery nests a whole SendCommand handshake (with
// its own ACK-wait TimerStart/TimerStop) inside the outer watchdog wait,
// so callers simulating "the keyboard's next byte arrives right as
// recovery finishes" need skip=1 to land on the outer TimerStop rather
// than the inner one.
func (b *Bus) SetTimerStopHook(skip int, fn func()) {
	b.afterTimerStop = fn
	b.timerStopCountdown = skip
}

// runCommandBurst clocks out a full AT command handshake: 9 edges shift
// out the 8 data bits and parity (txBit's txBits<=8 case), a 10th edge
// releases DATA/CLK back to the device for the ACK slot (txBits==9), and
// an 11th edge samples the device's ACK bit (txBits==10) — the one this
// function controls, by driving DATA low beforehand for ack, high for a
// simulated resend/nak.
func (b *Bus) runCommandBurst(ack bool) {
	for i := 0; i < 9; i++ {
		b.edgeFn()
	}
	b.edgeFn() // release DATA/CLK for the ACK slot
	b.atData = !ack
	b.edgeFn() // sample the ACK bit
}

// InjectATByte simulates the keyboard sending one AT frame: start bit,
// 8 data bits LSB-first, odd-parity bit, stop bit — clocked out as 11
// falling edges through the registered handler.
func (b *Bus) InjectATByte(data byte) {
	parity := scan.ComputeParity(data)
	b.atData = false
	b.edgeFn() // start
	for i := 0; i < 8; i++ {
		b.atData = (data>>i)&1 != 0
		b.edgeFn()
	}
	b.atData = parity != 0
	b.edgeFn() // parity
	b.atData = true
	b.edgeFn() // stop
}

// InjectBadFrame clocks out a frame with a malformed start bit (1 instead
// of 0), for testing the receiver's bad-frame counting.
func (b *Bus) InjectBadFrame() {
	b.atData = true
	b.edgeFn() // bad start bit
	for i := 0; i < 10; i++ {
		b.atData = false
		b.edgeFn()
	}
}

func (b *Bus) logXTBit() {
	b.xtBits = append(b.xtBits, b.xtData)
	if len(b.xtBits) < 10 {
		return
	}
	var v byte
	for i := 0; i < 8; i++ {
		if b.xtBits[2+i] {
			v |= 1 << i
		}
	}
	b.XTBytes = append(b.XTBytes, v)
	b.xtBits = b.xtBits[:0]
}
