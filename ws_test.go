package main

import (
    "encoding/json"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/zap"
)

func TestMarshalEventEnvelope(t *testing.T) {
    msg, err := marshalEvent("recording_status", map[string]bool{"is_recording": true})
    require.NoError(t, err)

    var ev wsEvent
    require.NoError(t, json.Unmarshal(msg, &ev))
    assert.Equal(t, "recording_status", ev.Event)
    assert.JSONEq(t, `{"is_recording":true}`, string(ev.Data))
}

// decodeEventName extracts the envelope event name from a raw hub message.
func decodeEventName(t *testing.T, msg []byte) string {
    t.Helper()
    var ev wsEvent
    require.NoError(t, json.Unmarshal(msg, &ev))
    return ev.Event
}

func TestHubDropsSlowClient(t *testing.T) {
    h := newWSHub(zap.NewNop().Sugar())
    go h.run()

    slow := &wsClient{hub: h, send: make(chan []byte, wsSendBuffer)}
    h.register <- slow

    // Fill the outbound queue as a stalled reader would.
    for i := 0; i < wsSendBuffer; i++ {
        slow.send <- []byte("backlog")
    }

    // This delivery finds the queue full and must evict the client without
    // stalling the caller.
    start := time.Now()
    h.Broadcast("first", nil)
    assert.Less(t, time.Since(start), time.Second, "broadcast must not block on a slow client")

    // A healthy client registered afterwards still receives traffic.  The
    // hub consumes broadcasts in order, so once "second" arrives here the
    // eviction above has been processed.
    healthy := &wsClient{hub: h, send: make(chan []byte, wsSendBuffer)}
    h.register <- healthy
    h.Broadcast("second", nil)

    deadline := time.After(3 * time.Second)
    for got := ""; got != "second"; {
        select {
        case msg := <-healthy.send:
            got = decodeEventName(t, msg)
        case <-deadline:
            t.Fatal("healthy client never received the broadcast")
        }
    }

    // The slow client was unregistered: its queue holds only the backlog,
    // then reports closed.
    drained := 0
    for {
        select {
        case msg, ok := <-slow.send:
            if !ok {
                require.Equal(t, wsSendBuffer, drained, "no broadcast should reach a dropped client")
                return
            }
            assert.Equal(t, "backlog", string(msg))
            drained++
        case <-deadline:
            t.Fatal("slow client send channel was never closed")
        }
    }
}
