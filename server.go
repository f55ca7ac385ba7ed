package main

import (
    "crypto/tls"
    "embed"
    "encoding/json"
    "fmt"
    "io/fs"
    "math/rand"
    "net/http"
    "os"
    "strconv"
    "strings"
    "sync"
    "time"

    "go.uber.org/zap"
)

//go:embed web/dist/*
var embeddedFiles embed.FS

// joystickPollInterval is how often the ATTINY keys register is sampled.
const joystickPollInterval = 50 * time.Millisecond

// modeFlashDuration is how long the mode digit stays on the matrix after a
// joystick mode change before the visualization resumes.
const modeFlashDuration = 800 * time.Millisecond

// Server holds global state for the HTTP server, the two background loops
// and the LED display.
type Server struct {
    cfgMgr   *ConfigManager
    sessions *SessionManager
    hw       SenseHAT
    hub      *wsHub
    recorder *DataRecorder
    events   *EventLogger
    alerter  *Alerter
    log      *zap.SugaredLogger
    rnd      *rand.Rand // fire effect; used only by the sampler goroutine

    stateMu    sync.Mutex
    mode       DisplayMode
    displayOn  bool
    lowLight   bool
    flashUntil time.Time
    lastJoy    JoystickState
    lastPacket Packet
}

// NewServer constructs a Server, opens the Sense HAT (falling back to mock
// data when no board answers) and starts the background loops.
func NewServer(cfgMgr *ConfigManager, log *zap.SugaredLogger) (*Server, error) {
    cfg := cfgMgr.Get()
    events := NewEventLogger(cfg.LogFile)

    hw, err := openSenseHAT()
    if err != nil {
        log.Warnw("sense hat not detected, using mock data", "err", err)
        hw = newMockSenseHAT()
    } else {
        log.Infow("sense hat hardware initialized")
    }
    hw.SetLowLight(cfg.LowLight)

    s := &Server{
        cfgMgr:    cfgMgr,
        sessions:  NewSessionManager(),
        hw:        hw,
        hub:       newWSHub(log),
        recorder:  NewDataRecorder(cfg.DataDir),
        events:    events,
        alerter:   NewAlerter(cfg, events),
        log:       log,
        rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
        displayOn: true,
        lowLight:  cfg.LowLight,
    }
    s.hub.onEvent = s.handleClientEvent
    s.hub.onConnect = func(c *wsClient) {
        s.hub.sendTo(c, "recording_status", map[string]bool{
            "is_recording": s.recorder.IsRecording(),
        })
    }

    go s.hub.run()
    go s.pollSensors()
    go s.pollJoystick()
    return s, nil
}

// Start launches the HTTP server.  It blocks until the server shuts down.
// TLS is used when both cert_file and key_file are configured.
func (s *Server) Start() error {
    cfg := s.cfgMgr.Get()
    addr := fmt.Sprintf(":%d", cfg.HTTPPort)

    srv := &http.Server{
        Addr:    addr,
        Handler: s.routes(),
    }
    if cfg.CertFile != "" && cfg.KeyFile != "" {
        srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
        s.log.Infow("listening", "addr", "https://0.0.0.0"+addr)
        return srv.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
    }
    s.log.Infow("listening", "addr", "http://0.0.0.0"+addr)
    return srv.ListenAndServe()
}

// Shutdown finishes any active recording and closes the board, which
// blanks the LED matrix.  Called from the signal handler on exit.
func (s *Server) Shutdown() {
    if err := s.recorder.Stop(); err != nil {
        s.log.Warnw("stop recording", "err", err)
    }
    if err := s.hw.Close(); err != nil {
        s.log.Warnw("close board", "err", err)
    }
    s.events.Log("shutdown")
}

// routes builds the request mux: the JSON API, the websocket endpoint and
// the embedded static dashboard.
func (s *Server) routes() http.Handler {
    mux := http.NewServeMux()

    mux.HandleFunc("/api/login", s.handleLogin)
    mux.HandleFunc("/api/logout", s.handleLogout)
    mux.HandleFunc("/api/status", s.withAuth(s.handleStatus))
    mux.HandleFunc("/api/mode", s.withAuth(s.handleMode))
    mux.HandleFunc("/api/display", s.withAuth(s.handleDisplay))
    mux.HandleFunc("/api/recording", s.withAuth(s.handleRecording))
    mux.HandleFunc("/api/logs", s.withAuth(s.handleLogs))
    mux.HandleFunc("/ws", s.withAuth(func(w http.ResponseWriter, r *http.Request, _ User) {
        s.hub.serveWS(w, r)
    }))

    // Static files.  The front-end lives in web/dist and is embedded into
    // the binary so the dashboard is a single file to deploy.
    dist, err := fs.Sub(embeddedFiles, "web/dist")
    if err != nil {
        panic(err)
    }
    mux.Handle("/", http.FileServer(http.FS(dist)))
    return mux
}

// withAuth wraps handlers that require a valid session.  When no user
// accounts are configured the dashboard runs open and the wrapper is a
// pass-through.
func (s *Server) withAuth(handler func(http.ResponseWriter, *http.Request, User)) http.HandlerFunc {
    return func(w http.ResponseWriter, r *http.Request) {
        if !s.cfgMgr.AuthRequired() {
            handler(w, r, User{})
            return
        }
        cookie, err := r.Cookie("session")
        if err != nil {
            http.Error(w, "unauthenticated", http.StatusUnauthorized)
            return
        }
        sess, ok := s.sessions.Get(cookie.Value)
        if !ok {
            http.Error(w, "session expired", http.StatusUnauthorized)
            return
        }
        user, _ := s.cfgMgr.FindUser(sess.Username)
        if user.Username == "" {
            http.Error(w, "unknown user", http.StatusUnauthorized)
            return
        }
        handler(w, r, user)
    }
}

// handleLogin authenticates a user and sets a session cookie.  Expected
// JSON: {"username":"...","password":"..."}
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        return
    }
    if !s.cfgMgr.AuthRequired() {
        http.Error(w, "authentication disabled", http.StatusBadRequest)
        return
    }
    var creds struct {
        Username string `json:"username"`
        Password string `json:"password"`
    }
    if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
        http.Error(w, "invalid JSON", http.StatusBadRequest)
        return
    }
    user, err := s.cfgMgr.Authenticate(creds.Username, creds.Password)
    if err != nil {
        http.Error(w, "invalid credentials", http.StatusUnauthorized)
        return
    }
    // Create session valid for 24h
    sessID, _, err := s.sessions.Create(user.Username, 24*time.Hour)
    if err != nil {
        http.Error(w, "failed to create session", http.StatusInternalServerError)
        return
    }
    http.SetCookie(w, &http.Cookie{
        Name:     "session",
        Value:    sessID,
        Path:     "/",
        HttpOnly: true,
        SameSite: http.SameSiteStrictMode,
        Expires:  time.Now().Add(24 * time.Hour),
    })
    s.events.Log("login %s", user.Username)
    writeJSON(w, map[string]string{"status": "ok"})
}

// handleLogout deletes the session cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        return
    }
    cookie, err := r.Cookie("session")
    if err == nil {
        s.sessions.Delete(cookie.Value)
    }
    http.SetCookie(w, &http.Cookie{
        Name:     "session",
        Value:    "",
        Path:     "/",
        HttpOnly: true,
        Expires:  time.Unix(0, 0),
    })
    s.events.Log("logout")
    w.WriteHeader(http.StatusNoContent)
}

// handleStatus returns the latest sample, which doubles as the full system
// state for clients that do not hold a websocket open.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ User) {
    if r.Method != http.MethodGet {
        http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        return
    }
    s.stateMu.Lock()
    pkt := s.lastPacket
    s.stateMu.Unlock()
    pkt.Sys = s.sysState()
    writeJSON(w, pkt)
}

// handleMode switches the LED visualization.  Body JSON: {"mode":1}
func (s *Server) handleMode(w http.ResponseWriter, r *http.Request, user User) {
    if r.Method != http.MethodPost {
        http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        return
    }
    var req struct {
        Mode int `json:"mode"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        http.Error(w, "invalid JSON", http.StatusBadRequest)
        return
    }
    m := DisplayMode(req.Mode)
    if m < 0 || m >= modeCount {
        http.Error(w, "unknown mode", http.StatusBadRequest)
        return
    }
    s.setMode(m, false)
    w.WriteHeader(http.StatusNoContent)
}

// handleDisplay turns the matrix on/off and toggles low-light.  Body JSON
// with optional fields: {"on":false,"low_light":true}
func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request, _ User) {
    if r.Method != http.MethodPost {
        http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        return
    }
    var req struct {
        On       *bool `json:"on,omitempty"`
        LowLight *bool `json:"low_light,omitempty"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        http.Error(w, "invalid JSON", http.StatusBadRequest)
        return
    }
    if req.On != nil {
        s.setDisplayOn(*req.On)
    }
    if req.LowLight != nil {
        s.setLowLight(*req.LowLight)
    }
    w.WriteHeader(http.StatusNoContent)
}

// handleRecording reports (GET) or toggles (POST) CSV recording.
func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request, _ User) {
    switch r.Method {
    case http.MethodGet:
        writeJSON(w, map[string]bool{"is_recording": s.recorder.IsRecording()})
    case http.MethodPost:
        s.toggleRecording()
        writeJSON(w, map[string]bool{"is_recording": s.recorder.IsRecording()})
    default:
        http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
    }
}

// handleLogs returns the tail of the event log.  Accepts optional query
// parameter `lines=n` to limit the number of lines returned.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request, _ User) {
    if r.Method != http.MethodGet {
        http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        return
    }
    linesParam := r.URL.Query().Get("lines")
    limit := 200
    if linesParam != "" {
        if n, err := strconv.Atoi(linesParam); err == nil && n > 0 {
            limit = n
        }
    }
    cfg := s.cfgMgr.Get()
    data, err := os.ReadFile(cfg.LogFile)
    if err != nil {
        http.Error(w, "log not found", http.StatusNotFound)
        return
    }
    allLines := strings.Split(string(data), "\n")
    // Drop empty trailing line
    if len(allLines) > 0 && allLines[len(allLines)-1] == "" {
        allLines = allLines[:len(allLines)-1]
    }
    start := 0
    if len(allLines) > limit {
        start = len(allLines) - limit
    }
    writeJSON(w, allLines[start:])
}

// writeJSON sends v as a JSON response body.
func writeJSON(w http.ResponseWriter, v any) {
    w.Header().Set("Content-Type", "application/json")
    _ = json.NewEncoder(w).Encode(v)
}

// handleClientEvent dispatches events arriving over the websocket.  The
// event names mirror the REST surface so either channel can drive the
// board.
func (s *Server) handleClientEvent(event string, data json.RawMessage) {
    switch event {
    case "toggle_recording":
        s.toggleRecording()
    case "set_mode":
        var req struct {
            Mode int `json:"mode"`
        }
        if err := json.Unmarshal(data, &req); err != nil {
            s.log.Debugw("bad set_mode payload", "err", err)
            return
        }
        m := DisplayMode(req.Mode)
        if m < 0 || m >= modeCount {
            return
        }
        s.setMode(m, false)
    case "set_display":
        var req struct {
            On       *bool `json:"on,omitempty"`
            LowLight *bool `json:"low_light,omitempty"`
        }
        if err := json.Unmarshal(data, &req); err != nil {
            s.log.Debugw("bad set_display payload", "err", err)
            return
        }
        if req.On != nil {
            s.setDisplayOn(*req.On)
        }
        if req.LowLight != nil {
            s.setLowLight(*req.LowLight)
        }
    default:
        s.log.Debugw("unknown client event", "event", event)
    }
}

// toggleRecording flips the CSV recorder and broadcasts the new state to
// all clients.
func (s *Server) toggleRecording() {
    if s.recorder.IsRecording() {
        if err := s.recorder.Stop(); err != nil {
            s.log.Warnw("stop recording", "err", err)
        }
        s.events.Log("recording stopped")
    } else {
        name, err := s.recorder.Start()
        if err != nil {
            s.log.Warnw("start recording", "err", err)
        } else {
            s.events.Log("recording started: %s", name)
        }
    }
    s.hub.Broadcast("recording_status", map[string]bool{
        "is_recording": s.recorder.IsRecording(),
    })
}

// sysState snapshots the dashboard-visible board state.
func (s *Server) sysState() SystemState {
    s.stateMu.Lock()
    defer s.stateMu.Unlock()
    return SystemState{
        ModeID:      int(s.mode),
        ModeName:    s.mode.Name(),
        DisplayOn:   s.displayOn,
        IsRecording: s.recorder.IsRecording(),
    }
}

// setMode switches the visualization.  flash selects whether the new mode
// digit is shown briefly on the matrix, which is wanted for joystick
// changes where the user is looking at the board.
func (s *Server) setMode(m DisplayMode, flash bool) {
    s.stateMu.Lock()
    if s.mode == m {
        s.stateMu.Unlock()
        return
    }
    s.mode = m
    if flash {
        s.flashUntil = time.Now().Add(modeFlashDuration)
    }
    s.stateMu.Unlock()
    s.events.Log("display mode: %s", m.Name())
}

func (s *Server) setDisplayOn(on bool) {
    s.stateMu.Lock()
    changed := s.displayOn != on
    s.displayOn = on
    s.stateMu.Unlock()
    if changed {
        s.events.Log("display on: %v", on)
    }
}

func (s *Server) setLowLight(on bool) {
    s.stateMu.Lock()
    changed := s.lowLight != on
    s.lowLight = on
    s.stateMu.Unlock()
    if changed {
        s.hw.SetLowLight(on)
        s.events.Log("low light: %v", on)
    }
}

// pollSensors is the sampling loop: read the sensors, refresh the LED
// matrix, broadcast the packet, run threshold checks and append to any
// active recording.  Sensor read failures skip the tick.
func (s *Server) pollSensors() {
    cfg := s.cfgMgr.Get()
    interval := time.Duration(cfg.SampleIntervalMS) * time.Millisecond
    for {
        time.Sleep(interval)
        pkt, err := readPacket(s.hw, cfg.SeaLevelPressure)
        if err != nil {
            s.log.Warnw("sensor read failed", "err", err)
            continue
        }
        pkt.Sys = s.sysState()
        s.stateMu.Lock()
        s.lastPacket = pkt
        s.stateMu.Unlock()

        s.updateDisplay(pkt.IMU)
        s.hub.Broadcast("sensor_update", pkt)
        for _, msg := range s.alerter.Check(pkt.Env) {
            s.log.Warnw("threshold alert", "msg", msg)
        }
        if err := s.recorder.Record(pkt); err != nil {
            s.log.Warnw("record sample", "err", err)
        }
    }
}

// updateDisplay pushes the next frame: blank when the display is off, the
// mode digit during a flash window, otherwise the active visualization.
func (s *Server) updateDisplay(o Orientation) {
    s.stateMu.Lock()
    mode := s.mode
    on := s.displayOn
    flashing := time.Now().Before(s.flashUntil)
    s.stateMu.Unlock()

    var err error
    switch {
    case !on:
        err = s.hw.Clear()
    case flashing:
        err = s.hw.SetPixels(renderDigit(int(mode), RGB{B: 255}))
    default:
        t := float64(time.Now().UnixNano()) / float64(time.Second)
        err = s.hw.SetPixels(renderFrame(mode, t, o, s.rnd))
    }
    if err != nil {
        s.log.Warnw("led update failed", "err", err)
    }
}

// pollJoystick watches the board joystick.  Only press edges act, so
// holding a direction does not repeat.
func (s *Server) pollJoystick() {
    for {
        time.Sleep(joystickPollInterval)
        state, err := s.hw.Joystick()
        if err != nil {
            s.log.Debugw("joystick read failed", "err", err)
            continue
        }
        s.stateMu.Lock()
        pressed := state &^ s.lastJoy
        s.lastJoy = state
        s.stateMu.Unlock()
        s.applyJoystick(pressed)
    }
}

// applyJoystick maps freshly pressed directions to actions: left/right
// cycle the mode, up/down control low-light, the middle button toggles the
// display.
func (s *Server) applyJoystick(pressed JoystickState) {
    s.stateMu.Lock()
    mode := s.mode
    on := s.displayOn
    s.stateMu.Unlock()

    switch {
    case pressed.Pressed(JoyLeft):
        s.setMode((mode+modeCount-1)%modeCount, true)
    case pressed.Pressed(JoyRight):
        s.setMode((mode+1)%modeCount, true)
    case pressed.Pressed(JoyUp):
        s.setLowLight(false)
    case pressed.Pressed(JoyDown):
        s.setLowLight(true)
    case pressed.Pressed(JoyEnter):
        s.setDisplayOn(!on)
    }
}
