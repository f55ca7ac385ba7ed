package main

// DisplayMode identifies one of the LED matrix visualizations.  Modes are
// cycled with the joystick (left/right) or set through the web API.
type DisplayMode int

const (
    ModeMonitor DisplayMode = iota // breathing status indicator
    ModeSpiritLevel                // pitch/roll bubble
    ModeRainbow                    // animated colour wave
    ModeFire                       // randomized fire particles
    modeCount
)

// modeNames holds the human-readable names reported in status packets.
var modeNames = [modeCount]string{
    ModeMonitor:     "Monitor Mode",
    ModeSpiritLevel: "Spirit Level",
    ModeRainbow:     "Rainbow Wave",
    ModeFire:        "Fire Effect",
}

// Name returns the display name of the mode, or "Unknown" for out of range
// values (which should not occur; modes are validated on the way in).
func (m DisplayMode) Name() string {
    if m < 0 || m >= modeCount {
        return "Unknown"
    }
    return modeNames[m]
}

// Orientation holds the board attitude in degrees.  Pitch and roll are
// normalized to the -180..180 range and yaw to 0..360.
type Orientation struct {
    Pitch float64 `json:"pitch"`
    Roll  float64 `json:"roll"`
    Yaw   float64 `json:"yaw"`
}

// Environment holds the environmental readings plus the altitude derived
// from pressure.  Units: celsius, percent relative humidity, hectopascals,
// metres.
type Environment struct {
    Temperature float64 `json:"temp"`
    Humidity    float64 `json:"humidity"`
    Pressure    float64 `json:"pressure"`
    Altitude    float64 `json:"altitude"`
}

// SystemState describes the dashboard-visible state of the board itself.
type SystemState struct {
    ModeID      int    `json:"mode_id"`
    ModeName    string `json:"mode_name"`
    DisplayOn   bool   `json:"is_on"`
    IsRecording bool   `json:"is_recording"`
}

// Packet is one sample as broadcast to websocket clients and appended to
// CSV recordings.  The field layout matches what the web client expects.
type Packet struct {
    Env Environment `json:"env"`
    IMU Orientation `json:"imu"`
    Sys SystemState `json:"sys"`
}

// User represents an account that can log in to the web UI.  Passwords are
// stored as bcrypt hashes.  When the Users list in the configuration is
// empty the dashboard runs without authentication.
type User struct {
    Username     string `json:"username"`
    PasswordHash string `json:"password_hash"`
}

// AlertConfig describes a threshold alert delivery channel.  Type is "log"
// or "email"; the SMTP fields are only used by the latter.
type AlertConfig struct {
    Type       string `json:"type"`
    SMTPServer string `json:"smtp_server,omitempty"`
    SMTPPort   int    `json:"smtp_port,omitempty"`
    Username   string `json:"username,omitempty"`
    Password   string `json:"password,omitempty"`
    From       string `json:"from,omitempty"`
    To         string `json:"to,omitempty"`
    Subject    string `json:"subject,omitempty"`
}

// Thresholds holds the ceilings that trip an alert.  A zero value disables
// the corresponding check.
type Thresholds struct {
    MaxTemperature float64 `json:"max_temperature,omitempty"`
    MaxHumidity    float64 `json:"max_humidity,omitempty"`
}

// Config is the top-level structure serialized to config.json.  It contains
// all persisted settings; runtime state (current mode, recording flag) is
// deliberately not persisted.
type Config struct {
    HTTPPort         int           `json:"http_port"`          // port to listen on (default 8080)
    CertFile         string        `json:"cert_file"`          // path to PEM encoded certificate (empty = plain HTTP)
    KeyFile          string        `json:"key_file"`           // path to PEM encoded key
    SampleIntervalMS int           `json:"sample_interval_ms"` // sensor loop period (default 50 = 20 Hz)
    SeaLevelPressure float64       `json:"sea_level_pressure"` // hPa reference for altitude (default 1013.25)
    DataDir          string        `json:"data_dir"`           // directory for CSV recordings
    LogFile          string        `json:"log_file"`           // event log path
    LowLight         bool          `json:"low_light"`          // dim the LED matrix on startup
    Users            []User        `json:"users"`
    Alerts           []AlertConfig `json:"alerts"`
    Thresholds       Thresholds    `json:"thresholds"`
}
