package main

import (
    "bytes"
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "github.com/gorilla/websocket"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/zap"
)

// newTestServer builds a Server on a temp-dir config and exposes its routes
// through httptest.  The hardware layer falls back to the mock sensor in
// test environments.
func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *httptest.Server) {
    t.Helper()
    dir := t.TempDir()
    cm := &ConfigManager{path: filepath.Join(dir, "config.json")}
    require.NoError(t, cm.Load())
    require.NoError(t, cm.Update(func(c *Config) error {
        c.DataDir = filepath.Join(dir, "data")
        c.LogFile = filepath.Join(dir, "events.log")
        if mutate != nil {
            mutate(c)
        }
        return nil
    }))

    s, err := NewServer(cm, zap.NewNop().Sugar())
    require.NoError(t, err)
    ts := httptest.NewServer(s.routes())
    t.Cleanup(ts.Close)
    return s, ts
}

func postJSON(t *testing.T, client *http.Client, url string, body any) *http.Response {
    t.Helper()
    raw, err := json.Marshal(body)
    require.NoError(t, err)
    resp, err := client.Post(url, "application/json", bytes.NewReader(raw))
    require.NoError(t, err)
    return resp
}

func TestStatusEndpoint(t *testing.T) {
    _, ts := newTestServer(t, nil)

    resp, err := http.Get(ts.URL + "/api/status")
    require.NoError(t, err)
    defer resp.Body.Close()
    require.Equal(t, http.StatusOK, resp.StatusCode)

    var pkt Packet
    require.NoError(t, json.NewDecoder(resp.Body).Decode(&pkt))
    assert.Equal(t, "Monitor Mode", pkt.Sys.ModeName)
    assert.True(t, pkt.Sys.DisplayOn)
    assert.False(t, pkt.Sys.IsRecording)
}

func TestModeEndpoint(t *testing.T) {
    s, ts := newTestServer(t, nil)

    resp := postJSON(t, http.DefaultClient, ts.URL+"/api/mode", map[string]int{"mode": 2})
    resp.Body.Close()
    assert.Equal(t, http.StatusNoContent, resp.StatusCode)
    assert.Equal(t, ModeRainbow, DisplayMode(s.sysState().ModeID))

    resp = postJSON(t, http.DefaultClient, ts.URL+"/api/mode", map[string]int{"mode": 9})
    resp.Body.Close()
    assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDisplayEndpoint(t *testing.T) {
    s, ts := newTestServer(t, nil)

    off := false
    resp := postJSON(t, http.DefaultClient, ts.URL+"/api/display", map[string]*bool{"on": &off})
    resp.Body.Close()
    assert.Equal(t, http.StatusNoContent, resp.StatusCode)
    assert.False(t, s.sysState().DisplayOn)

    dim := true
    resp = postJSON(t, http.DefaultClient, ts.URL+"/api/display", map[string]*bool{"low_light": &dim})
    resp.Body.Close()
    assert.Equal(t, http.StatusNoContent, resp.StatusCode)
    s.stateMu.Lock()
    assert.True(t, s.lowLight)
    s.stateMu.Unlock()
}

func TestRecordingEndpoint(t *testing.T) {
    _, ts := newTestServer(t, nil)

    resp := postJSON(t, http.DefaultClient, ts.URL+"/api/recording", nil)
    defer resp.Body.Close()
    require.Equal(t, http.StatusOK, resp.StatusCode)
    var state map[string]bool
    require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
    assert.True(t, state["is_recording"])

    resp2 := postJSON(t, http.DefaultClient, ts.URL+"/api/recording", nil)
    defer resp2.Body.Close()
    require.NoError(t, json.NewDecoder(resp2.Body).Decode(&state))
    assert.False(t, state["is_recording"])
}

func TestLogsEndpoint(t *testing.T) {
    s, ts := newTestServer(t, nil)
    s.events.Log("first event")
    s.events.Log("second event")

    resp, err := http.Get(ts.URL + "/api/logs?lines=1")
    require.NoError(t, err)
    defer resp.Body.Close()
    require.Equal(t, http.StatusOK, resp.StatusCode)

    var lines []string
    require.NoError(t, json.NewDecoder(resp.Body).Decode(&lines))
    require.Len(t, lines, 1)
    assert.True(t, strings.HasSuffix(lines[0], "second event"))
}

func TestAuthProtectsAPI(t *testing.T) {
    _, ts := newTestServer(t, func(c *Config) {
        c.Users = []User{{Username: "pi", PasswordHash: hashPassword("raspberry")}}
    })

    // Without a session cookie the API is closed.
    resp, err := http.Get(ts.URL + "/api/status")
    require.NoError(t, err)
    resp.Body.Close()
    assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

    // Wrong password is rejected.
    resp = postJSON(t, http.DefaultClient, ts.URL+"/api/login",
        map[string]string{"username": "pi", "password": "wrong"})
    resp.Body.Close()
    assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

    // Valid login issues a session cookie that unlocks the API.
    resp = postJSON(t, http.DefaultClient, ts.URL+"/api/login",
        map[string]string{"username": "pi", "password": "raspberry"})
    resp.Body.Close()
    require.Equal(t, http.StatusOK, resp.StatusCode)
    cookies := resp.Cookies()
    require.NotEmpty(t, cookies)

    req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/status", nil)
    require.NoError(t, err)
    for _, c := range cookies {
        req.AddCookie(c)
    }
    resp, err = http.DefaultClient.Do(req)
    require.NoError(t, err)
    resp.Body.Close()
    assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginDisabledWithoutUsers(t *testing.T) {
    _, ts := newTestServer(t, nil)
    resp := postJSON(t, http.DefaultClient, ts.URL+"/api/login",
        map[string]string{"username": "pi", "password": "raspberry"})
    resp.Body.Close()
    assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// waitForEvent reads envelopes off the websocket until the named event
// arrives or the deadline passes.
func waitForEvent(t *testing.T, conn *websocket.Conn, name string) json.RawMessage {
    t.Helper()
    require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
    for {
        _, msg, err := conn.ReadMessage()
        require.NoError(t, err, "waiting for %s", name)
        var ev wsEvent
        require.NoError(t, json.Unmarshal(msg, &ev))
        if ev.Event == name {
            return ev.Data
        }
    }
}

func TestWebsocketStream(t *testing.T) {
    _, ts := newTestServer(t, nil)
    wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

    conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
    require.NoError(t, err)
    if resp != nil {
        resp.Body.Close()
    }
    defer conn.Close()

    // The server replays recording state to every new client.
    var status struct {
        IsRecording bool `json:"is_recording"`
    }
    require.NoError(t, json.Unmarshal(waitForEvent(t, conn, "recording_status"), &status))
    assert.False(t, status.IsRecording)

    // The sampler broadcasts packets at the configured rate.
    var pkt Packet
    require.NoError(t, json.Unmarshal(waitForEvent(t, conn, "sensor_update"), &pkt))
    assert.InDelta(t, mockBasePressure, pkt.Env.Pressure, 5.1)
    assert.NotEmpty(t, pkt.Sys.ModeName)

    // toggle_recording flips the recorder and the change is broadcast.
    require.NoError(t, conn.WriteJSON(wsEvent{Event: "toggle_recording"}))
    deadline := time.Now().Add(3 * time.Second)
    for {
        require.NoError(t, json.Unmarshal(waitForEvent(t, conn, "recording_status"), &status))
        if status.IsRecording || time.Now().After(deadline) {
            break
        }
    }
    assert.True(t, status.IsRecording)

    require.NoError(t, conn.WriteJSON(wsEvent{Event: "toggle_recording"}))
}

func TestClientEventSetMode(t *testing.T) {
    s, _ := newTestServer(t, nil)

    s.handleClientEvent("set_mode", json.RawMessage(`{"mode":3}`))
    assert.Equal(t, int(ModeFire), s.sysState().ModeID)

    // Out of range modes are ignored.
    s.handleClientEvent("set_mode", json.RawMessage(`{"mode":42}`))
    assert.Equal(t, int(ModeFire), s.sysState().ModeID)

    s.handleClientEvent("set_display", json.RawMessage(`{"on":false}`))
    assert.False(t, s.sysState().DisplayOn)
}

// closeTracker wraps the board to observe Close calls.
type closeTracker struct {
    SenseHAT
    closed bool
}

func (c *closeTracker) Close() error {
    c.closed = true
    return c.SenseHAT.Close()
}

func TestShutdownStopsRecordingAndClosesBoard(t *testing.T) {
    s, _ := newTestServer(t, nil)
    tracker := &closeTracker{SenseHAT: s.hw}
    s.hw = tracker

    _, err := s.recorder.Start()
    require.NoError(t, err)

    s.Shutdown()
    assert.False(t, s.recorder.IsRecording())
    assert.True(t, tracker.closed)

    data, err := os.ReadFile(s.cfgMgr.Get().LogFile)
    require.NoError(t, err)
    assert.Contains(t, string(data), "shutdown")
}

func TestLogoutLogsEvent(t *testing.T) {
    s, ts := newTestServer(t, nil)

    resp, err := http.Post(ts.URL+"/api/logout", "application/json", nil)
    require.NoError(t, err)
    resp.Body.Close()
    assert.Equal(t, http.StatusNoContent, resp.StatusCode)

    data, err := os.ReadFile(s.cfgMgr.Get().LogFile)
    require.NoError(t, err)
    assert.Contains(t, string(data), "logout")
}

func TestJoystickRawRegisterMapping(t *testing.T) {
    s, _ := newTestServer(t, nil)

    // Raw keys-register values follow the rpisense-js keymap:
    // 0x01 up, 0x02 right, 0x04 down, 0x08 enter, 0x10 left.
    s.applyJoystick(JoystickState(0x10)) // left cycles back to the last mode
    assert.Equal(t, int(ModeFire), s.sysState().ModeID)

    s.applyJoystick(JoystickState(0x02)) // right wraps forward to the first
    assert.Equal(t, int(ModeMonitor), s.sysState().ModeID)

    s.applyJoystick(JoystickState(0x08)) // enter toggles the display
    assert.False(t, s.sysState().DisplayOn)
    s.applyJoystick(JoystickState(0x08))
    assert.True(t, s.sysState().DisplayOn)

    s.applyJoystick(JoystickState(0x04)) // down enables low light
    s.stateMu.Lock()
    dim := s.lowLight
    s.stateMu.Unlock()
    assert.True(t, dim)

    s.applyJoystick(JoystickState(0x01)) // up disables it
    s.stateMu.Lock()
    dim = s.lowLight
    s.stateMu.Unlock()
    assert.False(t, dim)
}

func TestJoystickPressedEdges(t *testing.T) {
    var prev JoystickState
    state := JoyLeft | JoyUp
    pressed := state &^ prev
    assert.True(t, pressed.Pressed(JoyLeft))
    assert.True(t, pressed.Pressed(JoyUp))

    // Held buttons do not re-trigger.
    prev = state
    pressed = state &^ prev
    assert.False(t, pressed.Pressed(JoyLeft))

    // Releasing and pressing again triggers.
    prev = 0
    pressed = state &^ prev
    assert.True(t, pressed.Pressed(JoyLeft))
}
