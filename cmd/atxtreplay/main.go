// command atxtreplay feeds a captured stream of raw AT scancode bytes
// through the translation FSM offline, printing the resulting XT bytes.
// It is the regression/field-bug replay tool: point it at a logic-capture
// adapter's serial port, or at a file of previously captured bytes, and
// it exercises exactly the same internal/kbdfsm path the live bridge
// does, without a real keyboard or host attached.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/tarm/serial"

	"at2xt.dev/internal/hw/simhw"
	"at2xt.dev/internal/kbdfsm"
	"at2xt.dev/internal/link"
	"at2xt.dev/internal/ring"
	"at2xt.dev/internal/scan"
)

var (
	device  = flag.String("device", "", "serial device the capture adapter is attached to")
	capture = flag.String("capture", "", "read a previously captured byte stream from this file instead of a live device")
	baud    = flag.Int("baud", 115200, "serial baud rate for -device")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "atxtreplay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))

	src, err := openSource()
	if err != nil {
		return fmt.Errorf("opening capture source: %w", err)
	}
	defer src.Close()

	bus := simhw.New()
	bus.AutoACK = true
	var buf ring.Buffer
	l := link.New(bus, &buf)
	tr := kbdfsm.New(l, &buf)

	frame := make([]byte, 4096)
	for {
		n, err := src.Read(frame)
		for _, b := range frame[:n] {
			buf.Enqueue(b)
			// Step after every byte so a large read never overflows the
			// 16-byte buffer; an F0 prefix waits for the byte it applies
			// to, since Step would otherwise block waiting for it.
			if b != scan.PrefixBreak {
				tr.Step()
			}
		}
		if n > 0 {
			for _, x := range bus.XTBytes {
				fmt.Printf("%02x ", x)
			}
			bus.XTBytes = bus.XTBytes[:0]
		}
		if err != nil {
			if err == io.EOF {
				fmt.Println()
				c := tr.Counters()
				fmt.Printf("bad_frames=%d watchdog_trips=%d buffer_overflows=%d\n",
					c.BadFrames, c.WatchdogTrips, c.BufferOverflows)
				return nil
			}
			return fmt.Errorf("reading capture: %w", err)
		}
	}
}

// openSource opens either a file of previously captured bytes or a real
// serial-attached logic-capture adapter, mirroring driver/mjolnir's
// serial.OpenPort use for talking to real hardware over a serial link.
func openSource() (io.ReadCloser, error) {
	if *capture != "" {
		return os.Open(*capture)
	}
	if *device == "" {
		return nil, fmt.Errorf("specify -device or -capture")
	}
	c := &serial.Config{Name: *device, Baud: *baud}
	return serial.OpenPort(c)
}
