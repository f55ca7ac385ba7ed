//go:build !linux
// +build !linux

package main

// This file is the non-linux stand-in for the hardware layer.  The Sense
// HAT only exists on a Raspberry Pi, so on other platforms openSenseHAT
// always fails and the server falls back to the mock sensor.  The real
// implementation lives in hal_rpi.go.

import "errors"

// errNoHardware is returned when the board cannot be opened on this
// platform.  Callers treat it as "run with mock data", not as fatal.
var errNoHardware = errors.New("sense hat hardware not available on this platform")

// openSenseHAT reports that no hardware is present.  The mock sensor is
// used instead.
func openSenseHAT() (SenseHAT, error) {
    return nil, errNoHardware
}
