package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Hub tests use Clients with a nil websocket.Conn; Client.close guards nil.

var fixedTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestHub(t *testing.T, sendBuf int) *Hub {
	t.Helper()
	h := NewHub(testLogger(), HubConfig{SendBuf: sendBuf, UpdateBuf: 8})
	h.now = func() time.Time { return fixedTime }
	return h
}

func runHub(t *testing.T, h *Hub) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for hub to stop")
		}
	})
	return cancel
}

func registerClient(t *testing.T, h *Hub, name string, sendBuf int) *Client {
	t.Helper()
	c := NewClient(nil, sendBuf, name, testLogger())
	h.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		_, ok := h.clients[c]
		return ok
	}, name+" not registered in time")
	return c
}

func decodeFrame(t *testing.T, frame []byte) StatusSnapshot {
	t.Helper()
	var env struct {
		Type string         `json:"type"`
		Ts   time.Time      `json:"ts"`
		Data StatusSnapshot `json:"data"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("decode frame %q: %v", frame, err)
	}
	if env.Type != wsTypeStatus {
		t.Fatalf("frame type = %q, want %q", env.Type, wsTypeStatus)
	}
	if !env.Ts.Equal(fixedTime) {
		t.Fatalf("frame ts = %v, want %v", env.Ts, fixedTime)
	}
	return env.Data
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case got := <-c.send:
		return got
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for %s to receive a frame", c.remoteAddr)
		return nil
	}
}

func TestHub_StatusDeliveredToAllClients(t *testing.T) {
	hub := newTestHub(t, 4)
	runHub(t, hub)

	c1 := registerClient(t, hub, "c1", 4)
	c2 := registerClient(t, hub, "c2", 4)

	hub.updates <- StatusSnapshot{CurrentVolume: 42, IsMuted: true, On: true}

	for _, c := range []*Client{c1, c2} {
		snap := decodeFrame(t, receive(t, c))
		if snap.CurrentVolume != 42 || !snap.IsMuted || !snap.On {
			t.Fatalf("%s got %+v", c.remoteAddr, snap)
		}
	}
}

func TestHub_NewClientReceivesLastFrame(t *testing.T) {
	hub := newTestHub(t, 4)
	runHub(t, hub)

	early := registerClient(t, hub, "early", 4)
	hub.updates <- StatusSnapshot{CurrentVolume: 10, On: true}
	hub.updates <- StatusSnapshot{CurrentVolume: 20, On: true}
	receive(t, early)
	receive(t, early)

	late := registerClient(t, hub, "late", 4)
	if snap := decodeFrame(t, receive(t, late)); snap.CurrentVolume != 20 {
		t.Fatalf("late client got volume %v, want 20", snap.CurrentVolume)
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	hub := newTestHub(t, 1)
	runHub(t, hub)

	slow := registerClient(t, hub, "slow", 1)
	fast := registerClient(t, hub, "fast", 8)

	// Pre-fill slow client buffer to simulate it being stuck.
	slow.send <- []byte(`"already queued"`)

	hub.updates <- StatusSnapshot{CurrentVolume: 5, On: true}

	if snap := decodeFrame(t, receive(t, fast)); snap.CurrentVolume != 5 {
		t.Fatalf("fast client got volume %v, want 5", snap.CurrentVolume)
	}

	// Drain the pre-filled frame, then expect the channel to be closed.
	select {
	case <-slow.send:
	default:
	}
	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")

	hub.mu.Lock()
	_, stillThere := hub.clients[slow]
	hub.mu.Unlock()
	if stillThere {
		t.Fatalf("slow client still registered")
	}
}

func TestHub_PublishStatusNeverBlocks(t *testing.T) {
	hub := newTestHub(t, 1)
	// Hub not running: the update queue fills and further snapshots drop.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.PublishStatus(StatusSnapshot{CurrentVolume: float64(i)})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("PublishStatus blocked")
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	hub := newTestHub(t, 4)
	cancel := runHub(t, hub)
	c := registerClient(t, hub, "c", 4)

	cancel()
	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-c.send:
			return !ok
		default:
			return false
		}
	}, "expected client send channel to be closed on hub stop")
}

func TestHub_UpgradeAfterStopClosesConnection(t *testing.T) {
	hub := newTestHub(t, 4)
	cancel := runHub(t, hub)
	cancel()
	select {
	case <-hub.done:
	case <-time.After(time.Second):
		t.Fatalf("hub did not stop")
	}

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected the server to close the connection")
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		t.Fatalf("connection left open after hub stop: %v", err)
	}
}

// syncBuffer is a bytes.Buffer safe for one writer and one polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestHub_WebsocketEndToEnd(t *testing.T) {
	hub := newTestHub(t, 4)
	runHub(t, hub)

	state := PlaybackPlaying
	hub.updates <- StatusSnapshot{CurrentVolume: 33.5, On: true, PlaybackState: &state}

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- watchStatus(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), out) }()

	waitUntil(t, time.Second, func() bool {
		return strings.Contains(out.String(), "volume=33.5 muted=false on=true playback=PLAYING")
	}, "cached frame not printed by watch client")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watchStatus: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watchStatus did not return")
	}
}

func TestFormatStatusFrame(t *testing.T) {
	if got := formatStatusFrame([]byte(`{"type":"other"}`)); got != `{"type":"other"}` {
		t.Fatalf("non-status frame = %q", got)
	}
	if got := formatStatusFrame([]byte(`junk`)); got != "junk" {
		t.Fatalf("junk frame = %q", got)
	}
	got := formatStatusFrame([]byte(`{"type":"status","ts":"2026-01-02T03:04:05Z","data":{"currentVolume":12,"isMuted":true,"on":true}}`))
	if !strings.HasSuffix(got, "volume=12.0 muted=true on=true") {
		t.Fatalf("status frame = %q", got)
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
