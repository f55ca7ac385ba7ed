package main

import (
    "math"
    "time"
)

// Baselines for the synthesized readings.  Values drift around these with
// slow sinusoids so the dashboard looks alive without hardware.
const (
    mockBaseTemperature = 25.0   // celsius
    mockBasePressure    = 1013.25 // hPa
    mockBaseHumidity    = 50.0   // percent
)

// mockSenseHAT synthesizes plausible sensor data when no board is present.
// LED and joystick calls are no-ops.  The clock is a field so tests can
// pin it.
type mockSenseHAT struct {
    now func() time.Time
}

// newMockSenseHAT returns a mock driven by the wall clock.
func newMockSenseHAT() *mockSenseHAT {
    return &mockSenseHAT{now: time.Now}
}

// seconds returns the clock as a float for the waveform formulas.
func (m *mockSenseHAT) seconds() float64 {
    return float64(m.now().UnixNano()) / float64(time.Second)
}

// Temperature drifts +/-5 degrees around the baseline over a minute.
func (m *mockSenseHAT) Temperature() (float64, error) {
    return mockBaseTemperature + 5.0*math.Sin(m.seconds()/60.0), nil
}

// Pressure drifts +/-5 hPa around the baseline.
func (m *mockSenseHAT) Pressure() (float64, error) {
    return mockBasePressure + 5.0*math.Cos(m.seconds()/30.0), nil
}

// Humidity drifts +/-10 percent around the baseline.
func (m *mockSenseHAT) Humidity() (float64, error) {
    return mockBaseHumidity + 10.0*math.Sin(m.seconds()/45.0), nil
}

// Orientation sweeps pitch and roll slowly and spins yaw at 15 degrees per
// second, which keeps the spirit level mode moving.
func (m *mockSenseHAT) Orientation() (Orientation, error) {
    t := m.seconds()
    return Orientation{
        Pitch: 30.0 * math.Sin(t*0.5),
        Roll:  45.0 * math.Cos(t*0.3),
        Yaw:   wrap360(t * 15),
    }, nil
}

func (m *mockSenseHAT) SetPixels(Frame) error { return nil }

func (m *mockSenseHAT) Clear() error { return nil }

func (m *mockSenseHAT) SetLowLight(bool) {}

func (m *mockSenseHAT) Joystick() (JoystickState, error) { return 0, nil }

func (m *mockSenseHAT) Close() error { return nil }
