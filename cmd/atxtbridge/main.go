// command atxtbridge runs the AT-to-XT keyboard protocol bridge: it
// listens for Set-2 scancodes from an AT/PS2 keyboard and reproduces
// them as Set-1 XT scancodes for a host expecting an XT keyboard port.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"at2xt.dev/internal/kbdfsm"
	"at2xt.dev/internal/link"
	"at2xt.dev/internal/ring"
	"at2xt.dev/internal/scan"
)

var watchdogOverride = flag.Duration("watchdog", 0, "override the inactivity watchdog timeout (0 keeps the default)")

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "atxtbridge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))
	log.Println("atxtbridge: starting")

	bus, closeBus, err := openBus()
	if err != nil {
		return fmt.Errorf("opening bus: %w", err)
	}
	defer closeBus()

	var buf ring.Buffer
	l := link.New(bus, &buf)
	tr := kbdfsm.New(l, &buf)
	if *watchdogOverride != 0 {
		tr.WatchdogTimeout = *watchdogOverride
	}

	startup(l)
	log.Println("atxtbridge: entering service loop")

	var last kbdfsm.Counters
	for {
		tr.Step()
		if c := tr.Counters(); c != last {
			log.Printf("atxtbridge: bad_frames=%d watchdog_trips=%d buffer_overflows=%d",
				c.BadFrames, c.WatchdogTrips, c.BufferOverflows)
			last = c
		}
	}
}

// startup runs the reset/echo handshake: reset the keyboard, give it
// time to run its self-test, probe it with an echo, and give it time to
// settle before handing control to the FSM. A missing ACK here is logged
// and otherwise ignored, the same as everywhere else this protocol talks
// to the device (see kbdfsm.Tracker.toggleLED) — a keyboard merely slow
// to respond at boot should not keep the bridge from starting.
func startup(l *link.Link) {
	if err := l.SendCommand(scan.CmdReset); err != nil {
		log.Printf("atxtbridge: reset: %v", err)
	}
	l.Stall(500 * time.Millisecond)
	if err := l.SendCommand(scan.CmdEcho); err != nil {
		log.Printf("atxtbridge: echo probe: %v", err)
	}
	l.Stall(10 * time.Millisecond)
}
