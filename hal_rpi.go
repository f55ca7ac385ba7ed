//go:build linux
// +build linux

// This file provides the Raspberry Pi implementation of the SenseHAT
// interface.  Sensor and joystick access go over I2C via the periph.io
// library; the LED matrix is driven through the RPi-Sense framebuffer
// device exposed by the kernel.  Chip addresses and registers follow the
// Sense HAT schematic: HTS221 humidity at 0x5F, LPS25H pressure at 0x5C,
// LSM9DS1 accel/gyro at 0x6A with its magnetometer at 0x1C, and the ATTINY
// companion (joystick) at 0x46.

package main

import (
    "fmt"
    "math"
    "os"
    "path/filepath"
    "strings"
    "sync"

    "periph.io/x/conn/v3/i2c"
    "periph.io/x/conn/v3/i2c/i2creg"
    "periph.io/x/host/v3"
)

const (
    addrHTS221  = 0x5F
    addrLPS25H  = 0x5C
    addrAccel   = 0x6A
    addrMag     = 0x1C
    addrATTINY  = 0x46
    regWhoAmI   = 0x0F
    regJoystick = 0xF2

    // ST sensors auto-increment the sub-address only when its MSB is set.
    autoIncrement = 0x80
)

// htsCalibration holds the factory calibration coefficients read once from
// the HTS221 at startup.  Humidity and temperature outputs are linearly
// interpolated between the two calibration points.
type htsCalibration struct {
    h0rH, h1rH     float64
    t0degC, t1degC float64
    h0Out, h1Out   int16
    t0Out, t1Out   int16
}

// board is the real Sense HAT.  The bus handles its own transaction
// locking; mu only guards the framebuffer and low-light flag.
type board struct {
    bus    i2c.BusCloser
    hts    *i2c.Dev
    lps    *i2c.Dev
    accel  *i2c.Dev
    mag    *i2c.Dev
    attiny *i2c.Dev
    cal    htsCalibration

    mu       sync.Mutex
    fb       *os.File
    lowLight bool
}

// openSenseHAT probes the Sense HAT on the first available I2C bus.  It
// returns an error when the bus cannot be opened or the expected chips do
// not answer, in which case the caller falls back to mock data.
func openSenseHAT() (SenseHAT, error) {
    if _, err := host.Init(); err != nil {
        return nil, fmt.Errorf("periph host init: %w", err)
    }
    bus, err := i2creg.Open("")
    if err != nil {
        return nil, fmt.Errorf("open i2c bus: %w", err)
    }
    b := &board{
        bus:    bus,
        hts:    &i2c.Dev{Bus: bus, Addr: addrHTS221},
        lps:    &i2c.Dev{Bus: bus, Addr: addrLPS25H},
        accel:  &i2c.Dev{Bus: bus, Addr: addrAccel},
        mag:    &i2c.Dev{Bus: bus, Addr: addrMag},
        attiny: &i2c.Dev{Bus: bus, Addr: addrATTINY},
    }
    if err := b.init(); err != nil {
        bus.Close()
        return nil, err
    }
    return b, nil
}

// init verifies chip identities, powers the sensors up and locates the LED
// framebuffer.
func (b *board) init() error {
    if err := checkID(b.hts, 0xBC, "HTS221"); err != nil {
        return err
    }
    if err := checkID(b.lps, 0xBD, "LPS25H"); err != nil {
        return err
    }
    if err := checkID(b.accel, 0x68, "LSM9DS1"); err != nil {
        return err
    }
    if err := checkID(b.mag, 0x3D, "LSM9DS1 magnetometer"); err != nil {
        return err
    }
    // HTS221: power up, block data update, 1 Hz output.
    if err := b.hts.Tx([]byte{0x20, 0x85}, nil); err != nil {
        return fmt.Errorf("HTS221 power up: %w", err)
    }
    // LPS25H: power up, 25 Hz output.
    if err := b.lps.Tx([]byte{0x20, 0xC4}, nil); err != nil {
        return fmt.Errorf("LPS25H power up: %w", err)
    }
    // LSM9DS1 accelerometer: 119 Hz, +/-2g.
    if err := b.accel.Tx([]byte{0x20, 0x60}, nil); err != nil {
        return fmt.Errorf("LSM9DS1 accel power up: %w", err)
    }
    // LSM9DS1 magnetometer: temperature compensation, high performance
    // 20 Hz, continuous conversion, +/-4 gauss.
    if err := b.mag.Tx([]byte{0x20, 0xB4}, nil); err != nil {
        return fmt.Errorf("LSM9DS1 mag config: %w", err)
    }
    if err := b.mag.Tx([]byte{0x22, 0x00}, nil); err != nil {
        return fmt.Errorf("LSM9DS1 mag continuous mode: %w", err)
    }
    if err := b.readHTSCalibration(); err != nil {
        return err
    }
    fb, err := openSenseFramebuffer()
    if err != nil {
        return err
    }
    b.fb = fb
    return nil
}

// checkID reads WHO_AM_I and compares it to the expected chip signature.
func checkID(dev *i2c.Dev, want byte, name string) error {
    var got [1]byte
    if err := dev.Tx([]byte{regWhoAmI}, got[:]); err != nil {
        return fmt.Errorf("%s not responding: %w", name, err)
    }
    if got[0] != want {
        return fmt.Errorf("%s WHO_AM_I mismatch: got %#x want %#x", name, got[0], want)
    }
    return nil
}

// readHTSCalibration loads the 16 calibration bytes at 0x30.
func (b *board) readHTSCalibration() error {
    var raw [16]byte
    if err := b.hts.Tx([]byte{0x30 | autoIncrement}, raw[:]); err != nil {
        return fmt.Errorf("HTS221 calibration read: %w", err)
    }
    c := &b.cal
    c.h0rH = float64(raw[0]) / 2
    c.h1rH = float64(raw[1]) / 2
    // The top bits of the 10-bit temperature calibration values live in
    // register 0x35.
    msb := raw[5]
    c.t0degC = float64(uint16(msb&0x03)<<8|uint16(raw[2])) / 8
    c.t1degC = float64(uint16(msb>>2&0x03)<<8|uint16(raw[3])) / 8
    c.h0Out = int16(uint16(raw[7])<<8 | uint16(raw[6]))
    c.h1Out = int16(uint16(raw[11])<<8 | uint16(raw[10]))
    c.t0Out = int16(uint16(raw[13])<<8 | uint16(raw[12]))
    c.t1Out = int16(uint16(raw[15])<<8 | uint16(raw[14]))
    if c.h1Out == c.h0Out || c.t1Out == c.t0Out {
        return fmt.Errorf("HTS221 calibration degenerate: %+v", *c)
    }
    return nil
}

// Temperature reads the HTS221 temperature output and interpolates between
// the calibration points.
func (b *board) Temperature() (float64, error) {
    var raw [2]byte
    if err := b.hts.Tx([]byte{0x2A | autoIncrement}, raw[:]); err != nil {
        return 0, fmt.Errorf("HTS221 temperature read: %w", err)
    }
    out := int16(uint16(raw[1])<<8 | uint16(raw[0]))
    c := b.cal
    t := c.t0degC + (c.t1degC-c.t0degC)*float64(out-c.t0Out)/float64(c.t1Out-c.t0Out)
    return t, nil
}

// Humidity reads the HTS221 humidity output, interpolates and clamps to the
// physical 0..100 range.
func (b *board) Humidity() (float64, error) {
    var raw [2]byte
    if err := b.hts.Tx([]byte{0x28 | autoIncrement}, raw[:]); err != nil {
        return 0, fmt.Errorf("HTS221 humidity read: %w", err)
    }
    out := int16(uint16(raw[1])<<8 | uint16(raw[0]))
    c := b.cal
    h := c.h0rH + (c.h1rH-c.h0rH)*float64(out-c.h0Out)/float64(c.h1Out-c.h0Out)
    return math.Max(0, math.Min(100, h)), nil
}

// Pressure reads the LPS25H 24-bit pressure output.  The sensor reports
// 4096 counts per hectopascal.
func (b *board) Pressure() (float64, error) {
    var raw [3]byte
    if err := b.lps.Tx([]byte{0x28 | autoIncrement}, raw[:]); err != nil {
        return 0, fmt.Errorf("LPS25H pressure read: %w", err)
    }
    counts := int32(uint32(raw[2])<<16 | uint32(raw[1])<<8 | uint32(raw[0]))
    return float64(counts) / 4096, nil
}

// Orientation derives pitch and roll from the accelerometer gravity vector
// and yaw from the tilt-compensated magnetometer heading.
func (b *board) Orientation() (Orientation, error) {
    ax, ay, az, err := b.readVector(b.accel, 0x28)
    if err != nil {
        return Orientation{}, fmt.Errorf("LSM9DS1 accel read: %w", err)
    }
    mx, my, mz, err := b.readVector(b.mag, 0x28|autoIncrement)
    if err != nil {
        return Orientation{}, fmt.Errorf("LSM9DS1 mag read: %w", err)
    }
    pitchRad := math.Atan2(-ax, math.Sqrt(ay*ay+az*az))
    rollRad := math.Atan2(ay, az)
    // Rotate the magnetic field vector back to the horizontal plane before
    // taking the heading.
    mxh := mx*math.Cos(pitchRad) + mz*math.Sin(pitchRad)
    myh := mx*math.Sin(rollRad)*math.Sin(pitchRad) + my*math.Cos(rollRad) - mz*math.Sin(rollRad)*math.Cos(pitchRad)
    yaw := math.Atan2(-myh, mxh) * 180 / math.Pi
    return Orientation{
        Pitch: wrapSigned(pitchRad * 180 / math.Pi),
        Roll:  wrapSigned(rollRad * 180 / math.Pi),
        Yaw:   wrap360(yaw),
    }, nil
}

// readVector reads three consecutive little-endian int16 axes starting at
// reg.  Raw counts are returned as floats; the callers only use ratios so
// the scale factor cancels out.
func (b *board) readVector(dev *i2c.Dev, reg byte) (x, y, z float64, err error) {
    var raw [6]byte
    if err = dev.Tx([]byte{reg}, raw[:]); err != nil {
        return 0, 0, 0, err
    }
    x = float64(int16(uint16(raw[1])<<8 | uint16(raw[0])))
    y = float64(int16(uint16(raw[3])<<8 | uint16(raw[2])))
    z = float64(int16(uint16(raw[5])<<8 | uint16(raw[4])))
    return x, y, z, nil
}

// SetPixels converts the frame to RGB565 and writes it to the framebuffer
// in one call.  In low-light mode every channel is scaled down to a quarter
// before conversion.
func (b *board) SetPixels(f Frame) error {
    b.mu.Lock()
    defer b.mu.Unlock()
    var buf [128]byte
    for i, px := range f {
        r, g, bl := px.R, px.G, px.B
        if b.lowLight {
            r, g, bl = r/4, g/4, bl/4
        }
        v := uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(bl>>3)
        buf[i*2] = byte(v)
        buf[i*2+1] = byte(v >> 8)
    }
    if _, err := b.fb.WriteAt(buf[:], 0); err != nil {
        return fmt.Errorf("framebuffer write: %w", err)
    }
    return nil
}

// Clear blanks the matrix.
func (b *board) Clear() error {
    return b.SetPixels(Frame{})
}

// SetLowLight dims subsequent frames.
func (b *board) SetLowLight(on bool) {
    b.mu.Lock()
    b.lowLight = on
    b.mu.Unlock()
}

// Joystick reads the ATTINY keys register.
func (b *board) Joystick() (JoystickState, error) {
    var raw [1]byte
    if err := b.attiny.Tx([]byte{regJoystick}, raw[:]); err != nil {
        return 0, fmt.Errorf("joystick read: %w", err)
    }
    return JoystickState(raw[0] & 0x1F), nil
}

// Close blanks the display and releases the bus and framebuffer.
func (b *board) Close() error {
    _ = b.Clear()
    b.mu.Lock()
    fbErr := b.fb.Close()
    b.mu.Unlock()
    busErr := b.bus.Close()
    if fbErr != nil {
        return fbErr
    }
    return busErr
}

// openSenseFramebuffer scans the graphics class for the RPi-Sense
// framebuffer and opens the matching /dev node.
func openSenseFramebuffer() (*os.File, error) {
    entries, err := filepath.Glob("/sys/class/graphics/fb*")
    if err != nil {
        return nil, err
    }
    for _, entry := range entries {
        name, err := os.ReadFile(filepath.Join(entry, "name"))
        if err != nil {
            continue
        }
        if strings.TrimSpace(string(name)) != "RPi-Sense FB" {
            continue
        }
        dev := filepath.Join("/dev", filepath.Base(entry))
        f, err := os.OpenFile(dev, os.O_RDWR, 0)
        if err != nil {
            return nil, fmt.Errorf("open %s: %w", dev, err)
        }
        return f, nil
    }
    return nil, fmt.Errorf("sense hat framebuffer not found")
}
