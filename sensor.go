package main

import "math"

// wrapSigned normalizes an angle to the -180..180 degree range.
func wrapSigned(deg float64) float64 {
    d := math.Mod(deg+180, 360)
    if d < 0 {
        d += 360
    }
    return d - 180
}

// wrap360 normalizes an angle to the 0..360 degree range.
func wrap360(deg float64) float64 {
    d := math.Mod(deg, 360)
    if d < 0 {
        d += 360
    }
    return d
}

// altitudeFromPressure converts a barometric reading to metres above the
// sea-level reference using the international barometric formula.
func altitudeFromPressure(pressureHPa, seaLevelHPa float64) float64 {
    return 44330 * (1 - math.Pow(pressureHPa/seaLevelHPa, 1/5.255))
}

// round1 rounds to one decimal, the precision used in packets and CSV rows.
func round1(v float64) float64 {
    return math.Round(v*10) / 10
}

// readPacket samples all sensors from hw and assembles a packet.  The sys
// section is filled in by the caller, which owns that state.  Individual
// sensor failures surface as an error so the sampler can log and skip the
// tick instead of broadcasting half a packet.
func readPacket(hw SenseHAT, seaLevelHPa float64) (Packet, error) {
    temp, err := hw.Temperature()
    if err != nil {
        return Packet{}, err
    }
    humidity, err := hw.Humidity()
    if err != nil {
        return Packet{}, err
    }
    pressure, err := hw.Pressure()
    if err != nil {
        return Packet{}, err
    }
    o, err := hw.Orientation()
    if err != nil {
        return Packet{}, err
    }
    return Packet{
        Env: Environment{
            Temperature: round1(temp),
            Humidity:    round1(humidity),
            Pressure:    round1(pressure),
            Altitude:    round1(altitudeFromPressure(pressure, seaLevelHPa)),
        },
        IMU: Orientation{
            Pitch: round1(o.Pitch),
            Roll:  round1(o.Roll),
            Yaw:   round1(o.Yaw),
        },
    }, nil
}
