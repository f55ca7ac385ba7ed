package main

// Frame generation for the 8x8 LED matrix.  Every renderer is a pure
// function of its inputs (time, orientation or a random source) so the
// visualizations can be unit tested without hardware.

import (
    "math"
    "math/rand"
)

// clampLED clamps a coordinate to the 0..7 LED range.
func clampLED(v float64) int {
    n := int(v)
    if n < 0 {
        return 0
    }
    if n > 7 {
        return 7
    }
    return n
}

// renderFrame dispatches to the renderer for the given mode.  t is the
// current time in seconds; rnd feeds the fire effect.
func renderFrame(mode DisplayMode, t float64, o Orientation, rnd *rand.Rand) Frame {
    switch mode {
    case ModeSpiritLevel:
        return renderSpiritLevel(o)
    case ModeRainbow:
        return renderRainbow(t)
    case ModeFire:
        return renderFire(rnd)
    default:
        return renderMonitor(t)
    }
}

// renderMonitor draws a breathing green 2x2 square in the centre of the
// matrix.  Intensity swings between 50 and 250 with a 3 rad/s pulse.
func renderMonitor(t float64) Frame {
    var f Frame
    intensity := uint8(150 + 100*math.Sin(t*3))
    c := RGB{G: intensity}
    f.Set(3, 3, c)
    f.Set(4, 3, c)
    f.Set(3, 4, c)
    f.Set(4, 4, c)
    return f
}

// renderSpiritLevel draws a single bubble pixel positioned by pitch and
// roll.  A tilt of 20 degrees moves the bubble to the edge of the matrix.
// The bubble is green while inside the centre 2x2 square, red otherwise.
func renderSpiritLevel(o Orientation) Frame {
    var f Frame
    x := clampLED(3.5 + (-o.Pitch/20.0)*3.5)
    y := clampLED(3.5 + (o.Roll/20.0)*3.5)
    c := RGB{R: 255}
    if x >= 3 && x <= 4 && y >= 3 && y <= 4 {
        c = RGB{G: 255}
    }
    f.Set(x, y, c)
    return f
}

// renderRainbow draws a travelling colour wave.  Each channel is a phase
// shifted sinusoid over the pixel coordinates.
func renderRainbow(t float64) Frame {
    var f Frame
    w := t * 2
    for i := range f {
        x := float64(i % 8)
        y := float64(i / 8)
        f[i] = RGB{
            R: uint8(128 + 127*math.Sin(x/2.0+w)),
            G: uint8(128 + 127*math.Sin(y/2.0+w)),
            B: uint8(128 + 127*math.Sin((x+y)/2.0+w)),
        }
    }
    return f
}

// renderFire fills the matrix with randomized ember colours: red in
// 150..255, green in 0..100, no blue.
func renderFire(rnd *rand.Rand) Frame {
    var f Frame
    for i := range f {
        f[i] = RGB{
            R: uint8(150 + rnd.Intn(106)),
            G: uint8(rnd.Intn(101)),
        }
    }
    return f
}

// digitGlyphs holds 3x5 bitmaps for 0-9, one row per byte, bit 2 being the
// left column.  Used to flash the mode number after a joystick change.
var digitGlyphs = [10][5]byte{
    {0b111, 0b101, 0b101, 0b101, 0b111}, // 0
    {0b010, 0b110, 0b010, 0b010, 0b111}, // 1
    {0b111, 0b001, 0b111, 0b100, 0b111}, // 2
    {0b111, 0b001, 0b111, 0b001, 0b111}, // 3
    {0b101, 0b101, 0b111, 0b001, 0b001}, // 4
    {0b111, 0b100, 0b111, 0b001, 0b111}, // 5
    {0b111, 0b100, 0b111, 0b101, 0b111}, // 6
    {0b111, 0b001, 0b010, 0b010, 0b010}, // 7
    {0b111, 0b101, 0b111, 0b101, 0b111}, // 8
    {0b111, 0b101, 0b111, 0b001, 0b111}, // 9
}

// renderDigit draws a single digit centred on the matrix in the given
// colour.  Out of range values render a blank frame.
func renderDigit(n int, c RGB) Frame {
    var f Frame
    if n < 0 || n > 9 {
        return f
    }
    glyph := digitGlyphs[n]
    for row := 0; row < 5; row++ {
        for col := 0; col < 3; col++ {
            if glyph[row]&(1<<(2-col)) != 0 {
                f.Set(col+2, row+1, c)
            }
        }
    }
    return f
}
