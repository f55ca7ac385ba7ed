package main

import (
    "encoding/csv"
    "fmt"
    "os"
    "path/filepath"
    "strconv"
    "sync"
    "time"
)

// csvHeader is the column layout of a recording file.
var csvHeader = []string{
    "timestamp", "temperature", "humidity", "pressure", "altitude",
    "pitch", "roll", "yaw",
}

// DataRecorder writes sensor packets to a CSV file while recording is
// active.  Each Start opens a fresh timestamped file in the data directory;
// Stop closes it.  Safe for concurrent use: the sampler records while the
// websocket handler toggles.
type DataRecorder struct {
    dir string

    mu        sync.Mutex
    file      *os.File
    writer    *csv.Writer
    recording bool
}

// NewDataRecorder creates a recorder placing files under dir.  The
// directory is created on the first Start, not here, so a read-only setup
// that never records keeps working.
func NewDataRecorder(dir string) *DataRecorder {
    return &DataRecorder{dir: dir}
}

// IsRecording reports whether a recording file is currently open.
func (dr *DataRecorder) IsRecording() bool {
    dr.mu.Lock()
    defer dr.mu.Unlock()
    return dr.recording
}

// Start opens a new recording file and writes the header.  Starting while
// already recording is a no-op.
func (dr *DataRecorder) Start() (string, error) {
    dr.mu.Lock()
    defer dr.mu.Unlock()
    if dr.recording {
        return dr.file.Name(), nil
    }
    if err := os.MkdirAll(dr.dir, 0755); err != nil {
        return "", fmt.Errorf("create data dir: %w", err)
    }
    name := filepath.Join(dr.dir, time.Now().Format("sensor_data_20060102_150405.csv"))
    f, err := os.Create(name)
    if err != nil {
        return "", fmt.Errorf("create recording: %w", err)
    }
    w := csv.NewWriter(f)
    if err := w.Write(csvHeader); err != nil {
        f.Close()
        return "", fmt.Errorf("write header: %w", err)
    }
    w.Flush()
    dr.file = f
    dr.writer = w
    dr.recording = true
    return name, nil
}

// Stop flushes and closes the current recording file.  Stopping while not
// recording is a no-op.
func (dr *DataRecorder) Stop() error {
    dr.mu.Lock()
    defer dr.mu.Unlock()
    if !dr.recording {
        return nil
    }
    dr.writer.Flush()
    err := dr.file.Close()
    dr.file = nil
    dr.writer = nil
    dr.recording = false
    return err
}

// Record appends one packet row.  Calls made while not recording are
// silently dropped, which lets the sampler call Record unconditionally.
func (dr *DataRecorder) Record(p Packet) error {
    dr.mu.Lock()
    defer dr.mu.Unlock()
    if !dr.recording {
        return nil
    }
    row := []string{
        time.Now().Format(time.RFC3339),
        fmtReading(p.Env.Temperature),
        fmtReading(p.Env.Humidity),
        fmtReading(p.Env.Pressure),
        fmtReading(p.Env.Altitude),
        fmtReading(p.IMU.Pitch),
        fmtReading(p.IMU.Roll),
        fmtReading(p.IMU.Yaw),
    }
    if err := dr.writer.Write(row); err != nil {
        return fmt.Errorf("write row: %w", err)
    }
    dr.writer.Flush()
    return dr.writer.Error()
}

// fmtReading formats a reading with one decimal, matching the precision of
// the websocket packets.
func fmtReading(v float64) string {
    return strconv.FormatFloat(v, 'f', 1, 64)
}
