package main

import (
    "path/filepath"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

// countingAlert records every delivery for inspection.
type countingAlert struct {
    sent []string
}

func (c *countingAlert) Name() string { return "counting" }

func (c *countingAlert) Send(subject, body string, _ *EventLogger) error {
    c.sent = append(c.sent, body)
    return nil
}

func newTestAlerter(t *testing.T, th Thresholds) (*Alerter, *countingAlert) {
    t.Helper()
    handler := &countingAlert{}
    return &Alerter{
        thresholds: th,
        handlers:   []AlertHandler{handler},
        logger:     NewEventLogger(filepath.Join(t.TempDir(), "events.log")),
        tripped:    make(map[string]bool),
    }, handler
}

func TestAlerterLatchesPerExcursion(t *testing.T) {
    a, handler := newTestAlerter(t, Thresholds{MaxTemperature: 30})

    // Below the limit: nothing fires.
    assert.Empty(t, a.Check(Environment{Temperature: 25}))

    // Crossing the limit fires once.
    fired := a.Check(Environment{Temperature: 31})
    require.Len(t, fired, 1)
    assert.Contains(t, fired[0], "temperature")

    // Staying above the limit does not re-fire.
    assert.Empty(t, a.Check(Environment{Temperature: 32}))
    assert.Empty(t, a.Check(Environment{Temperature: 35}))

    // Dropping below re-arms, and the next excursion fires again.
    assert.Empty(t, a.Check(Environment{Temperature: 28}))
    assert.Len(t, a.Check(Environment{Temperature: 30.5}), 1)

    assert.Len(t, handler.sent, 2)
}

func TestAlerterIndependentSensors(t *testing.T) {
    a, handler := newTestAlerter(t, Thresholds{MaxTemperature: 30, MaxHumidity: 70})

    fired := a.Check(Environment{Temperature: 31, Humidity: 75})
    assert.Len(t, fired, 2)
    assert.Len(t, handler.sent, 2)

    // Humidity recovers, temperature stays hot: only humidity re-arms.
    assert.Empty(t, a.Check(Environment{Temperature: 31, Humidity: 60}))
    fired = a.Check(Environment{Temperature: 31, Humidity: 71})
    require.Len(t, fired, 1)
    assert.Contains(t, fired[0], "humidity")
}

func TestAlerterDisabledThresholds(t *testing.T) {
    a, handler := newTestAlerter(t, Thresholds{})
    assert.Empty(t, a.Check(Environment{Temperature: 99, Humidity: 99}))
    assert.Empty(t, handler.sent)
}

func TestInitAlertHandlersDefaultsToLog(t *testing.T) {
    handlers := initAlertHandlers(Config{})
    require.Len(t, handlers, 1)
    assert.Equal(t, "log", handlers[0].Name())

    handlers = initAlertHandlers(Config{Alerts: []AlertConfig{
        {Type: "log"},
        {Type: "email", SMTPServer: "smtp.example.com", SMTPPort: 587, To: "me@example.com"},
        {Type: "bogus"},
    }})
    require.Len(t, handlers, 2)
    assert.Equal(t, "log", handlers[0].Name())
    assert.Equal(t, "email", handlers[1].Name())
}
