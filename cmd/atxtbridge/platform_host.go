//go:build !tinygo

package main

import (
	"at2xt.dev/internal/hw/rpi"
	"at2xt.dev/internal/link"
)

// openBus opens the Raspberry Pi GPIO bench wiring. This is the build used
// for development and for running the bridge on a Pi sitting between a
// real AT keyboard and a real XT-era host.
func openBus() (link.Bus, func(), error) {
	bus, err := rpi.Open(rpi.DefaultPins())
	if err != nil {
		return nil, nil, err
	}
	return bus, bus.Close, nil
}
