package kbdfsm

import (
	"testing"

	"at2xt.dev/internal/hw/simhw"
	"at2xt.dev/internal/link"
	"at2xt.dev/internal/ring"
	"at2xt.dev/internal/scan"
)

func newTestTracker() (*Tracker, *simhw.Bus) {
	bus := simhw.New()
	var buf ring.Buffer
	l := link.New(bus, &buf)
	return New(l, &buf), bus
}

// feed enqueues raw AT bytes directly into the scancode buffer, as if
// the receiver had already captured them, and runs one Step.
func feed(t *testing.T, tr *Tracker, buf *ring.Buffer, bytes ...byte) {
	t.Helper()
	for _, b := range bytes {
		buf.Enqueue(b)
	}
	tr.Step()
}

func TestSimpleMakeBreak(t *testing.T) {
	bus := simhw.New()
	var buf ring.Buffer
	l := link.New(bus, &buf)
	tr := New(l, &buf)

	feed(t, tr, &buf, 0x1C, 0xF0, 0x1C)

	want := []byte{0x1E, 0x9E}
	if len(bus.XTBytes) != len(want) {
		t.Fatalf("got %d XT bytes %#x, want %d", len(bus.XTBytes), bus.XTBytes, len(want))
	}
	for i, w := range want {
		if bus.XTBytes[i] != w {
			t.Errorf("byte %d: got %#x, want %#x", i, bus.XTBytes[i], w)
		}
	}
}

func TestExtendedPrefixForwardedThenTranslated(t *testing.T) {
	bus := simhw.New()
	var buf ring.Buffer
	l := link.New(bus, &buf)
	tr := New(l, &buf)

	// E0 75 (extended cursor-up make), E0 F0 75 (its break).
	feed(t, tr, &buf, 0xE0, 0x75, 0xE0, 0xF0, 0x75)

	want := []byte{0xE0, 0x48, 0xE0, 0xC8}
	if len(bus.XTBytes) != len(want) {
		t.Fatalf("got %d XT bytes %#x, want %d", len(bus.XTBytes), bus.XTBytes, len(want))
	}
	for i, w := range want {
		if bus.XTBytes[i] != w {
			t.Errorf("byte %d: got %#x, want %#x", i, bus.XTBytes[i], w)
		}
	}
}

func TestIgnoredResponseBytes(t *testing.T) {
	bus := simhw.New()
	var buf ring.Buffer
	l := link.New(bus, &buf)
	tr := New(l, &buf)

	feed(t, tr, &buf, scan.RespACK, scan.RespBAT, scan.RespResend, scan.RespEcho, 0x1C)

	if len(bus.XTBytes) != 1 || bus.XTBytes[0] != 0x1E {
		t.Fatalf("got %#x, want a single 0x1E (ACK/BAT/resend/echo must be silently dropped)", bus.XTBytes)
	}
}

func TestPauseSequence(t *testing.T) {
	bus := simhw.New()
	var buf ring.Buffer
	l := link.New(bus, &buf)
	tr := New(l, &buf)

	feed(t, tr, &buf,
		0xE1, 0x14, 0x77, 0xE1, 0xF0, 0x14, 0xF0, 0x77,
	)

	want := []byte{0xE1, 0x1D, 0x45, 0xE1, 0x9D, 0xC5}
	if len(bus.XTBytes) != len(want) {
		t.Fatalf("got %d XT bytes %#x, want %d %#x", len(bus.XTBytes), bus.XTBytes, len(want), want)
	}
	for i, w := range want {
		if bus.XTBytes[i] != w {
			t.Errorf("byte %d: got %#x, want %#x", i, bus.XTBytes[i], w)
		}
	}
	if tr.InPause() {
		t.Errorf("in_pause should be cleared after the trailing F0 77")
	}
}

func TestLockKeyTogglesLED(t *testing.T) {
	bus := simhw.New()
	var buf ring.Buffer
	l := link.New(bus, &buf)
	tr := New(l, &buf)

	bus.ArmCommandHandshake(true) // ED
	bus.ArmCommandHandshake(true) // led mask byte
	bus.ArmTimerExpiry()          // the Stall() between them runs its course instantly
	feed(t, tr, &buf, scan.KeyCapsLock, 0xF0, scan.KeyCapsLock)

	if got, want := tr.LEDState(), byte(0x04); got != want {
		t.Fatalf("LEDState() = %#x, want %#x (Caps Lock bit set on break)", got, want)
	}
}

func TestWatchdogSoftResetOnStalledFrame(t *testing.T) {
	bus := simhw.New()
	var buf ring.Buffer
	l := link.New(bus, &buf)
	tr := New(l, &buf)

	bus.HoldATClockLow()
	bus.ArmTimerExpiry()
	bus.ArmCommandHandshake(true) // the embedded FF (reset) command's ACK
	bus.SetTimerStopHook(1, func() {
		// Simulate the keyboard resuming normally right after recovery:
		// its next scancode arrives through the ordinary receive path.
		// skip=1 because the embedded SendCommand's own ACK-wait timer
		// stops once before the outer watchdog timer does.
		buf.Enqueue(0x1C)
	})

	tr.Step()

	if tr.WatchdogTrips != 1 {
		t.Fatalf("WatchdogTrips = %d, want 1", tr.WatchdogTrips)
	}
	if tr.LEDState() != 0 {
		t.Fatalf("LED shadow should be cleared by a soft reset")
	}
	if len(bus.XTBytes) == 0 {
		t.Fatalf("expected at least the BAT byte sent to the host")
	}
	if bus.XTBytes[0] != scan.RespBAT {
		t.Fatalf("first XT byte after a soft reset should be %#x (BAT), got %#x", scan.RespBAT, bus.XTBytes[0])
	}
	// The recovered 0x1C ('A' make) should have been translated after
	// the reset, following the BAT byte.
	if len(bus.XTBytes) != 2 || bus.XTBytes[1] != 0x1E {
		t.Fatalf("got XT bytes %#x, want [%#x %#x]", bus.XTBytes, scan.RespBAT, 0x1E)
	}
}
