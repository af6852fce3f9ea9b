// Package kbdfsm implements the translation state machine that turns a
// stream of AT (set-2) scancodes into XT (set-1) scancodes, keeping the
// keyboard's Lock-key LEDs in sync and recovering from a silent keyboard
// via a soft reset.
package kbdfsm

import (
	"time"

	"at2xt.dev/internal/link"
	"at2xt.dev/internal/ring"
	"at2xt.dev/internal/scan"
)

// watchdogTimeout is the inactivity timeout applied while an AT frame is
// in progress (CLK observed low) and the scancode buffer is still empty.
const watchdogTimeout = 20 * time.Millisecond

// ledStallDuration separates the ED command from the LED mask byte that
// follows it, giving the keyboard time to finish its handshake with the
// first byte.
const ledStallDuration = 10 * time.Millisecond

// Tracker runs the translation FSM. Its ledCode and inPause fields are
// mutated only from the goroutine that calls Run/Step — there is exactly
// one such goroutine in normal operation.
type Tracker struct {
	link *link.Link
	buf  *ring.Buffer

	ledCode byte
	inPause bool

	// WatchdogTimeout overrides watchdogTimeout when non-zero, for test
	// harnesses and the bench binary's -watchdog flag.
	WatchdogTimeout time.Duration

	// WatchdogTrips counts soft resets issued by the inactivity watchdog.
	WatchdogTrips uint32
}

// New creates a Tracker driving l and consuming bytes from buf.
func New(l *link.Link, buf *ring.Buffer) *Tracker {
	return &Tracker{link: l, buf: buf}
}

// LEDState returns the current 3-bit LED shadow: bit 0 Scroll, bit 1 Num,
// bit 2 Caps.
func (t *Tracker) LEDState() byte {
	return t.ledCode
}

// InPause reports whether the FSM is inside a Pause (E1 ...) sequence.
func (t *Tracker) InPause() bool {
	return t.inPause
}

// Counters summarizes the bridge's recoverable-error counts: bad AT
// frames, watchdog-triggered soft resets, and scancode bytes dropped to
// buffer overflow. None of these are fatal on their own, but a keyboard
// or wiring fault tends to show up here well before a human notices
// mistranslated keystrokes — cmd/atxtbridge logs it on change and
// cmd/atxtreplay prints it as a summary line.
type Counters struct {
	BadFrames       uint32
	WatchdogTrips   uint32
	BufferOverflows uint32
}

// Counters reports the Tracker's current counts.
func (t *Tracker) Counters() Counters {
	return Counters{
		BadFrames:       t.link.BadFrames(),
		WatchdogTrips:   t.WatchdogTrips,
		BufferOverflows: t.buf.Overflows(),
	}
}

// Run drives the FSM forever: wait for a scancode, translate it (and any
// bytes that logically follow it — F0/E0/E1 prefixes), repeat. It does
// not return during normal operation.
func (t *Tracker) Run() {
	for {
		t.Step()
	}
}

// Step waits for at least one scancode (applying the inactivity watchdog
// if a frame stalls mid-receive) and translates everything available
// before returning. It is the unit Run repeats forever; tests call it
// directly to exercise one bounded pass of the FSM.
func (t *Tracker) Step() {
	t.storeKeycode()
	t.drain()
}

// drain processes buffered bytes, dispatching each to handle, until the
// buffer runs dry.
func (t *Tracker) drain() {
	for {
		k, ok := t.buf.Dequeue()
		if !ok {
			return
		}
		t.handle(k)
		if t.buf.Empty() {
			return
		}
	}
}

// handle implements the CHECK_CHAR_NEW dispatch for a single dequeued
// byte. E0/E1 prefixes are emitted unmodified here; the byte that follows
// them is a separate, ordinary dequeue processed by the next call to
// handle from drain's loop — this is what gives invariant 4's "unmodified
// prefix, then the normal rules, recursively" behavior without actual
// recursion.
func (t *Tracker) handle(k byte) {
	switch k {
	case scan.RespACK, scan.RespBAT, scan.RespResend, scan.RespEcho:
		// Acknowledgements and probe echoes carry no scancode.
	case scan.PrefixBreak:
		t.handleBreak()
	case scan.PrefixExt0, scan.PrefixExt1:
		if k == scan.PrefixExt1 {
			t.inPause = true
		}
		t.link.SendXT(k)
	default:
		t.link.SendXT(scan.Lookup(k))
	}
}

// handleBreak implements CHECK_BUFFER_F0/WAIT_FOR_NEXT_BYTE_F0/
// GET_XT_BYTE_F0: an F0 prefix always has a following byte, waiting for
// it (under watchdog) if it hasn't arrived yet.
func (t *Tracker) handleBreak() {
	if t.buf.Empty() {
		t.storeKeycode()
	}
	k, ok := t.buf.Dequeue()
	if !ok {
		// storeKeycode only returns once the buffer is non-empty; the
		// only way to still find it empty here is a concurrent flush
		// racing the dequeue, which the single-consumer discipline
		// rules out.
		return
	}
	t.applyLEDSideEffects(k)
	t.link.SendXT(scan.Lookup(k) | scan.BreakBit)
}

// applyLEDSideEffects toggles the Lock-LED shadow and clears the Pause
// flag for the lock keys' own release codes.
func (t *Tracker) applyLEDSideEffects(k byte) {
	switch k {
	case scan.KeyScrollLock:
		t.toggleLED(0x01)
	case scan.KeyNumLock:
		if t.inPause {
			// The F0 77 here is the Pause sequence's own trailer,
			// not a Num Lock release — don't touch the LED.
			t.inPause = false
			return
		}
		t.toggleLED(0x02)
	case scan.KeyCapsLock:
		t.toggleLED(0x04)
	}
}

func (t *Tracker) toggleLED(bit byte) {
	t.ledCode ^= bit
	t.link.SendCommand(scan.CmdSetLEDs)
	t.link.Stall(ledStallDuration)
	// The ACK/timeout outcome of either command doesn't change the LED
	// shadow or block translation — a missed handshake just leaves the
	// keyboard's own LEDs one update behind until the next toggle.
	t.link.SendCommand(t.ledCode)
}

// storeKeycode blocks until the scancode buffer holds at least one byte,
// applying the inactivity watchdog whenever the AT clock line is
// observed low — a frame in progress — while the buffer is still empty.
func (t *Tracker) storeKeycode() {
	bus := t.link.Bus()
	timeout := watchdogTimeout
	if t.WatchdogTimeout != 0 {
		timeout = t.WatchdogTimeout
	}
	for t.buf.Empty() {
		if bus.ReadATClock() {
			continue
		}
		bus.TimerStart(timeout)
		for !bus.ReadATClock() {
			if bus.TimerFired() {
				t.softReset()
				break
			}
		}
		bus.TimerStop()
	}
}

// softReset recovers from a keyboard that stopped responding mid-frame:
// reset the keyboard, tell the host a self-test just passed (so the PC
// re-initializes its own keyboard controller cleanly), and clear local
// state.
func (t *Tracker) softReset() {
	t.link.SendCommand(scan.CmdReset)
	t.link.SendXT(scan.RespBAT)
	bus := t.link.Bus()
	bus.MaskClockIRQ()
	t.buf.Flush()
	bus.UnmaskClockIRQ()
	t.ledCode = 0
	t.WatchdogTrips++
}
