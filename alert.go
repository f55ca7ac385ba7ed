package main

// This file defines pluggable alert handlers for when a reading crosses a
// configured threshold.

import (
    "fmt"
    "net/smtp"
    "strings"
    "sync"
)

// AlertHandler represents a mechanism that can deliver a threshold alert.
// Implementations may log locally or send email.  If an error is returned,
// the caller logs it and continues operation.
type AlertHandler interface {
    Name() string
    Send(subject, body string, logger *EventLogger) error
}

// LogAlert writes the alert to the event logger.  This is the default
// handler if no others are configured.
type LogAlert struct{}

// Name returns the type name of the alert handler.
func (LogAlert) Name() string { return "log" }

// Send writes an alert to the event log.
func (LogAlert) Send(subject, body string, logger *EventLogger) error {
    logger.Log("alert: %s", body)
    return nil
}

// EmailAlert sends an email via an SMTP server.  All configuration values
// are supplied via the corresponding AlertConfig in config.json.  The
// subject from the config wins over the generated one when set.
type EmailAlert struct {
    SMTPServer string
    SMTPPort   int
    Username   string
    Password   string
    From       string
    To         string
    Subject    string
}

// Name returns the type name of the alert handler.
func (EmailAlert) Name() string { return "email" }

// Send dispatches an email.  RFC 5322 requires CRLF line endings.
func (e EmailAlert) Send(subject, body string, logger *EventLogger) error {
    if e.Subject != "" {
        subject = e.Subject
    }
    msg := fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s\r\n", e.To, subject, body)
    addr := fmt.Sprintf("%s:%d", e.SMTPServer, e.SMTPPort)
    auth := smtp.PlainAuth("", e.Username, e.Password, e.SMTPServer)
    return smtp.SendMail(addr, auth, e.From, []string{e.To}, []byte(msg))
}

// initAlertHandlers constructs handlers from the configuration.  If
// cfg.Alerts is empty a single LogAlert is returned so excursions are
// always recorded.
func initAlertHandlers(cfg Config) []AlertHandler {
    if len(cfg.Alerts) == 0 {
        return []AlertHandler{LogAlert{}}
    }
    var handlers []AlertHandler
    for _, ac := range cfg.Alerts {
        switch strings.ToLower(ac.Type) {
        case "log":
            handlers = append(handlers, LogAlert{})
        case "email":
            handlers = append(handlers, EmailAlert{
                SMTPServer: ac.SMTPServer,
                SMTPPort:   ac.SMTPPort,
                Username:   ac.Username,
                Password:   ac.Password,
                From:       ac.From,
                To:         ac.To,
                Subject:    ac.Subject,
            })
        }
    }
    if len(handlers) == 0 {
        handlers = append(handlers, LogAlert{})
    }
    return handlers
}

// Alerter checks each sample against the configured ceilings and fires the
// handlers once per excursion.  A sensor re-arms when its value drops back
// below the threshold, so a hot afternoon produces one alert rather than
// twenty per second.
type Alerter struct {
    thresholds Thresholds
    handlers   []AlertHandler
    logger     *EventLogger

    mu      sync.Mutex
    tripped map[string]bool
}

// NewAlerter builds an alerter from the configuration.
func NewAlerter(cfg Config, logger *EventLogger) *Alerter {
    return &Alerter{
        thresholds: cfg.Thresholds,
        handlers:   initAlertHandlers(cfg),
        logger:     logger,
        tripped:    make(map[string]bool),
    }
}

// Check evaluates one sample.  It returns the alert messages fired, which
// the caller may also log at its own level.
func (a *Alerter) Check(env Environment) []string {
    var fired []string
    if a.thresholds.MaxTemperature > 0 {
        msg := a.check("temperature", env.Temperature, a.thresholds.MaxTemperature, "°C")
        if msg != "" {
            fired = append(fired, msg)
        }
    }
    if a.thresholds.MaxHumidity > 0 {
        msg := a.check("humidity", env.Humidity, a.thresholds.MaxHumidity, "%")
        if msg != "" {
            fired = append(fired, msg)
        }
    }
    return fired
}

// check applies the latching logic for one sensor and dispatches handlers
// on a fresh excursion.
func (a *Alerter) check(name string, value, limit float64, unit string) string {
    a.mu.Lock()
    over := value > limit
    already := a.tripped[name]
    a.tripped[name] = over
    a.mu.Unlock()
    if !over || already {
        return ""
    }
    body := fmt.Sprintf("%s %.1f%s exceeds limit %.1f%s", name, value, unit, limit, unit)
    for _, h := range a.handlers {
        if err := h.Send("senseboard alert", body, a.logger); err != nil {
            a.logger.Log("alert handler %s error: %v", h.Name(), err)
        }
    }
    return body
}
