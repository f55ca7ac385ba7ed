package main

// Real-time channel between the sampler and connected browsers.  The hub
// fans sensor packets out to every client; clients send small control
// events back (toggle recording, switch mode).  Messages use a
// {"event": ..., "data": ...} envelope.

import (
    "encoding/json"
    "net/http"
    "time"

    "github.com/gorilla/websocket"
    "go.uber.org/zap"
)

const (
    wsWriteWait  = 10 * time.Second
    wsPongWait   = 60 * time.Second
    wsPingPeriod = 54 * time.Second

    // Control events are tiny; anything bigger is a misbehaving client.
    wsMaxMessageSize = 512

    // Per-client outbound queue.  At 20 Hz this is more than two seconds
    // of backlog; a client that far behind gets dropped.
    wsSendBuffer = 64
)

var wsUpgrader = websocket.Upgrader{
    ReadBufferSize:  1024,
    WriteBufferSize: 1024,
    // The dashboard is same-host on a home network; cross-origin embedding
    // is not a supported setup.
    CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEvent is the wire envelope in both directions.
type wsEvent struct {
    Event string          `json:"event"`
    Data  json.RawMessage `json:"data,omitempty"`
}

// wsClient is one connected browser.
type wsClient struct {
    hub  *wsHub
    conn *websocket.Conn
    send chan []byte
}

// wsHub owns the client set.  All membership changes go through the run
// loop so no locking is needed.
type wsHub struct {
    clients    map[*wsClient]bool
    register   chan *wsClient
    unregister chan *wsClient
    broadcast  chan []byte
    // onEvent is called for every decoded client event.
    onEvent func(event string, data json.RawMessage)
    // onConnect is called when a client joins, so the server can replay
    // current state to it.
    onConnect func(c *wsClient)
    log       *zap.SugaredLogger
}

func newWSHub(log *zap.SugaredLogger) *wsHub {
    return &wsHub{
        clients:    make(map[*wsClient]bool),
        register:   make(chan *wsClient),
        unregister: make(chan *wsClient),
        broadcast:  make(chan []byte, 8),
        log:        log,
    }
}

// run processes membership and broadcast traffic until the process exits.
func (h *wsHub) run() {
    for {
        select {
        case c := <-h.register:
            h.clients[c] = true
            h.log.Debugw("websocket client connected", "clients", len(h.clients))
            if h.onConnect != nil {
                h.onConnect(c)
            }
        case c := <-h.unregister:
            if _, ok := h.clients[c]; ok {
                delete(h.clients, c)
                close(c.send)
                h.log.Debugw("websocket client disconnected", "clients", len(h.clients))
            }
        case msg := <-h.broadcast:
            for c := range h.clients {
                select {
                case c.send <- msg:
                default:
                    // Slow client: drop it rather than stall the sampler.
                    delete(h.clients, c)
                    close(c.send)
                }
            }
        }
    }
}

// Broadcast marshals an event envelope and queues it for every client.
func (h *wsHub) Broadcast(event string, data any) {
    msg, err := marshalEvent(event, data)
    if err != nil {
        h.log.Errorw("marshal broadcast", "event", event, "err", err)
        return
    }
    h.broadcast <- msg
}

// sendTo queues an event for a single client, dropping it if the client's
// queue is full.
func (h *wsHub) sendTo(c *wsClient, event string, data any) {
    msg, err := marshalEvent(event, data)
    if err != nil {
        h.log.Errorw("marshal event", "event", event, "err", err)
        return
    }
    select {
    case c.send <- msg:
    default:
    }
}

func marshalEvent(event string, data any) ([]byte, error) {
    raw, err := json.Marshal(data)
    if err != nil {
        return nil, err
    }
    return json.Marshal(wsEvent{Event: event, Data: raw})
}

// serveWS upgrades an HTTP request and starts the client pumps.
func (h *wsHub) serveWS(w http.ResponseWriter, r *http.Request) {
    conn, err := wsUpgrader.Upgrade(w, r, nil)
    if err != nil {
        h.log.Warnw("websocket upgrade failed", "err", err)
        return
    }
    c := &wsClient{hub: h, conn: conn, send: make(chan []byte, wsSendBuffer)}
    h.register <- c
    go c.writePump()
    go c.readPump()
}

// readPump decodes client events and forwards them to the hub callback.
// It exits, and unregisters the client, when the connection drops.
func (c *wsClient) readPump() {
    defer func() {
        c.hub.unregister <- c
        c.conn.Close()
    }()
    c.conn.SetReadLimit(wsMaxMessageSize)
    _ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
    c.conn.SetPongHandler(func(string) error {
        return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
    })
    for {
        _, msg, err := c.conn.ReadMessage()
        if err != nil {
            return
        }
        var ev wsEvent
        if err := json.Unmarshal(msg, &ev); err != nil {
            c.hub.log.Debugw("bad websocket event", "err", err)
            continue
        }
        if c.hub.onEvent != nil {
            c.hub.onEvent(ev.Event, ev.Data)
        }
    }
}

// writePump drains the send queue and keeps the connection alive with
// pings.
func (c *wsClient) writePump() {
    ticker := time.NewTicker(wsPingPeriod)
    defer func() {
        ticker.Stop()
        c.conn.Close()
    }()
    for {
        select {
        case msg, ok := <-c.send:
            _ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
            if !ok {
                _ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
                return
            }
            if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
                return
            }
        case <-ticker.C:
            _ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
            if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
                return
            }
        }
    }
}
