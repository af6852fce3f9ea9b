//go:build tinygo && rp

package main

import (
	"machine"

	"at2xt.dev/internal/hw/mcu"
	"at2xt.dev/internal/link"
)

// openBus wires the bridge to four GPIO pins on the Pico's RP2040, the
// bare-metal target this firmware actually ships on. Pin assignment is
// fixed at build time: no flag selects the pins on this target.
func openBus() (link.Bus, func(), error) {
	bus := mcu.New(mcu.Pins{
		ATClock: machine.GPIO2,
		ATData:  machine.GPIO3,
		XTClock: machine.GPIO4,
		XTData:  machine.GPIO5,
	})
	return bus, func() {}, nil
}
