package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hushnote/platform/internal/events"
	"github.com/hushnote/platform/internal/metrics"
	"github.com/hushnote/platform/internal/session"
	"github.com/hushnote/platform/internal/vad"
)

// mockSession records mode changes and serves a fixed snapshot.
type mockSession struct {
	mu     sync.Mutex
	mode   vad.Mode
	reject bool
}

func (m *mockSession) SetMode(mode vad.Mode) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reject {
		return false
	}
	m.mode = mode
	return true
}

func (m *mockSession) lastMode() vad.Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

func (m *mockSession) Status() session.Snapshot {
	return session.Snapshot{ID: "test-session", Mode: m.lastMode().String(), Segments: 2}
}

func newTestServer(t *testing.T) (*httptest.Server, *mockSession, *events.Bus) {
	t.Helper()
	sess := &mockSession{}
	bus := events.NewBus()
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	srv := httptest.NewServer(New(sess, bus, reg).Handler())
	t.Cleanup(srv.Close)
	return srv, sess, bus
}

func TestCORSMiddleware(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/status", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("OPTIONS got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var snap session.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.ID != "test-session" || snap.Segments != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestModeEndpoint(t *testing.T) {
	srv, sess, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/mode", "application/json",
		strings.NewReader(`{"mode": "long_note"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d", resp.StatusCode)
	}
	if sess.lastMode() != vad.ModeLongNote {
		t.Fatalf("mode not applied, got %v", sess.lastMode())
	}

	resp, err = http.Post(srv.URL+"/api/mode", "application/json",
		strings.NewReader(`{"mode": "bogus"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus mode accepted: %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d", resp.StatusCode)
	}
}

func TestWebSocket_StreamsEventsAndSetsMode(t *testing.T) {
	srv, sess, bus := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Bus events reach the client. Publish repeatedly: the handler's
	// subscription races the dial handshake.
	stopPub := make(chan struct{})
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stopPub:
				return
			case <-tick.C:
				bus.Publish(events.Event{Kind: events.SegmentOpened, Segment: 3, Path: "segment_003.wav"})
			}
		}
	}()
	var ev events.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatal(err)
	}
	close(stopPub)
	if ev.Kind != events.SegmentOpened || ev.Segment != 3 {
		t.Fatalf("unexpected event %+v", ev)
	}

	// Mode change round trip; queued duplicates of the published event may
	// arrive before the ack.
	if err := wsjson.Write(ctx, conn, clientMessage{Type: "set_mode", Mode: "long_note"}); err != nil {
		t.Fatal(err)
	}
	var ack ackMessage
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			t.Fatal(err)
		}
		if err := json.Unmarshal(raw, &ack); err == nil && ack.Type == "mode_ack" {
			break
		}
	}
	if ack.Mode != "long_note" {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if sess.lastMode() != vad.ModeLongNote {
		t.Fatal("mode not applied through websocket")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := &rateLimiter{}
	for i := 0; i < RateLimitMessages; i++ {
		if !rl.allow() {
			t.Fatalf("message %d should be allowed", i)
		}
	}
	if rl.allow() {
		t.Fatal("message over the limit should be rejected")
	}
}
