package main

// This file defines the interface between the server and the Sense HAT
// board.  Two implementations exist: the real I2C/framebuffer board in
// hal_rpi.go (linux only) and the mock in mock.go used when no hardware is
// present.

// RGB is one LED matrix pixel colour, 8 bits per channel.
type RGB struct {
    R, G, B uint8
}

// Frame is a full 8x8 LED matrix image in row-major order.  Index 0 is the
// top-left pixel.
type Frame [64]RGB

// Set assigns the pixel at (x, y).  Coordinates outside 0..7 are ignored.
func (f *Frame) Set(x, y int, c RGB) {
    if x < 0 || x > 7 || y < 0 || y > 7 {
        return
    }
    f[y*8+x] = c
}

// JoystickState is a bitmask of currently pressed joystick directions as
// reported by the board firmware.  The bit order follows the keymap in the
// rpisense-js kernel driver: up, right, down, enter, left.
type JoystickState uint8

const (
    JoyUp JoystickState = 1 << iota
    JoyRight
    JoyDown
    JoyEnter
    JoyLeft
)

// Pressed reports whether the given direction bit is set.
func (s JoystickState) Pressed(dir JoystickState) bool {
    return s&dir != 0
}

// SenseHAT abstracts the board so the server can run against real hardware
// or synthesized data.  All methods are safe for use from the two background
// loops (sampler and joystick poller).
type SenseHAT interface {
    // Temperature returns degrees celsius from the humidity sensor die.
    Temperature() (float64, error)
    // Humidity returns percent relative humidity.
    Humidity() (float64, error)
    // Pressure returns hectopascals.
    Pressure() (float64, error)
    // Orientation returns pitch/roll/yaw in degrees, pitch and roll
    // normalized to -180..180 and yaw to 0..360.
    Orientation() (Orientation, error)
    // SetPixels pushes a full frame to the LED matrix.
    SetPixels(Frame) error
    // Clear blanks the LED matrix.
    Clear() error
    // SetLowLight dims subsequent frames for night use.
    SetLowLight(on bool)
    // Joystick returns the currently pressed direction bits.
    Joystick() (JoystickState, error)
    // Close releases the underlying bus and framebuffer.
    Close() error
}
