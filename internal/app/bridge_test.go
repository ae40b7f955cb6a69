package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/sensorbridge/internal/broadcast"
	"github.com/pscheid92/sensorbridge/internal/domain"
	"github.com/pscheid92/sensorbridge/internal/platform/retry"
	"github.com/pscheid92/sensorbridge/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanFeed delivers whatever is written to its channel.
type chanFeed chan []byte

func (f chanFeed) Subscribe(ctx context.Context, deliver func([]byte)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-f:
			deliver(msg)
		}
	}
}

func (f chanFeed) Ping(context.Context) error { return nil }
func (f chanFeed) Close() error               { return nil }

type bridgeHarness struct {
	registry *source.Registry
	hub      *broadcast.Hub
	feeds    map[domain.SourceID]chanFeed
	dial     func() *ws.Conn
}

func newBridgeHarness(t *testing.T) *bridgeHarness {
	t.Helper()

	specs := []domain.SourceSpec{
		{ID: "detection", Endpoint: "nats://localhost:4222/detection"},
		{ID: "lidar", Endpoint: "nats://localhost:4222/lidar"},
	}
	clock := clockwork.NewRealClock()
	registry, err := source.NewRegistry(specs, clock, nil)
	require.NoError(t, err)

	h := &bridgeHarness{registry: registry, feeds: make(map[domain.SourceID]chanFeed)}
	var subs []Subscriber
	for _, spec := range specs {
		feed := make(chanFeed, 16)
		h.feeds[spec.ID] = feed
		sub, err := source.NewSubscriber(spec, feed, registry, source.WithRetryPolicy(retry.Policy{InitialBackoff: time.Millisecond}))
		require.NoError(t, err)
		subs = append(subs, sub)
	}

	h.hub = broadcast.NewHub(broadcast.Config{MaxClients: 10, ClientBuffer: 4}, clock, nil)
	scheduler := NewScheduler(registry, h.hub, clock, 20*time.Millisecond, time.Millisecond, nil)
	bridge := NewBridge(subs, scheduler, h.hub)
	bridge.Start(context.Background())
	t.Cleanup(func() { bridge.Stop(time.Second) })

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		id, err := h.hub.Register(conn, r.RemoteAddr)
		if err != nil {
			_ = conn.Close()
			return
		}
		defer h.hub.Unregister(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	h.dial = func() *ws.Conn {
		conn, _, err := ws.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}
	return h
}

func readSnapshot(t *testing.T, conn *ws.Conn) (string, map[string]json.RawMessage) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var view map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(msg, &view))
	return string(msg), view
}

// readUntil reads frames until match returns true or the deadline passes.
func readUntil(t *testing.T, conn *ws.Conn, match func(map[string]json.RawMessage) bool) map[string]json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_, view := readSnapshot(t, conn)
		if match(view) {
			return view
		}
	}
	t.Fatal("expected frame never arrived")
	return nil
}

func TestBridge_SilentSourceKeepsPlaceholder(t *testing.T) {
	h := newBridgeHarness(t)
	conn := h.dial()

	for range 5 {
		_, view := readSnapshot(t, conn)
		assert.JSONEq(t, `{"detections":[],"image":null}`, string(view["detection"]))
		assert.JSONEq(t, `{"points":[],"scan_frequency":0,"timestamp":0}`, string(view["lidar"]))
	}
}

func TestBridge_LatestPayloadPerSource(t *testing.T) {
	h := newBridgeHarness(t)
	conn := h.dial()

	h.feeds["lidar"] <- []byte(`{"points":[[1,1]],"scan_frequency":10,"timestamp":1}`)
	h.feeds["lidar"] <- []byte(`{"points":[[2,2]],"scan_frequency":10,"timestamp":2}`)

	view := readUntil(t, conn, func(v map[string]json.RawMessage) bool {
		return strings.Contains(string(v["lidar"]), `"timestamp":2`)
	})
	assert.JSONEq(t, `{"detections":[],"image":null}`, string(view["detection"]))

	// the older value never reappears once the newer one was delivered
	for range 3 {
		_, view := readSnapshot(t, conn)
		assert.Contains(t, string(view["lidar"]), `"timestamp":2`)
	}
}

func TestBridge_GarbageLeavesPreviousValue(t *testing.T) {
	h := newBridgeHarness(t)
	conn := h.dial()

	h.feeds["detection"] <- []byte(`{"detections":[{"label":"cup"}],"image":null}`)
	readUntil(t, conn, func(v map[string]json.RawMessage) bool {
		return strings.Contains(string(v["detection"]), "cup")
	})

	h.feeds["detection"] <- []byte("\x00\x01 definitely not json")
	require.Eventually(t, func() bool {
		s, _ := h.registry.Status("detection")
		return s.DecodeErrors == 1
	}, time.Second, time.Millisecond)

	for range 3 {
		_, view := readSnapshot(t, conn)
		assert.JSONEq(t, `{"detections":[{"label":"cup"}],"image":null}`, string(view["detection"]))
	}
}

func TestBridge_ClientsReceiveIdenticalFrames(t *testing.T) {
	h := newBridgeHarness(t)
	a := h.dial()
	b := h.dial()
	require.Eventually(t, func() bool { return h.hub.ClientCount() == 2 }, time.Second, time.Millisecond)

	h.feeds["lidar"] <- []byte(`{"points":[[9,9]]}`)

	frames := func(conn *ws.Conn) map[string]bool {
		seen := make(map[string]bool)
		for range 10 {
			raw, _ := readSnapshot(t, conn)
			seen[raw] = true
		}
		return seen
	}
	fromA := frames(a)
	fromB := frames(b)

	// both clients see the post-update frame byte for byte
	want := `{"detection":{"detections":[],"image":null},"lidar":{"points":[[9,9]]}}`
	assert.True(t, fromA[want], "client a frames: %v", fromA)
	assert.True(t, fromB[want], "client b frames: %v", fromB)
}
