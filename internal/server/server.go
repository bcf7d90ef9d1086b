// Package server exposes the pipeline over HTTP: a websocket event sink,
// a status endpoint, mode control, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hushnote/platform/internal/events"
	"github.com/hushnote/platform/internal/session"
	"github.com/hushnote/platform/internal/syncx"
	"github.com/hushnote/platform/internal/vad"
)

// Session is the controller surface the server needs.
type Session interface {
	SetMode(m vad.Mode) bool
	Status() session.Snapshot
}

// clientMessage is what websocket clients may send.
type clientMessage struct {
	Type string `json:"type"`
	Mode string `json:"mode,omitempty"`
}

type ackMessage struct {
	Type  string `json:"type"`
	Mode  string `json:"mode,omitempty"`
	Error string `json:"error,omitempty"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}
	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and websocket connections. Each websocket client
// gets its own event-bus subscription; a slow client loses events rather
// than stalling the pipeline.
type Server struct {
	sess     Session
	bus      *events.Bus
	gatherer prometheus.Gatherer
	conns    *syncx.RWGuard[map[*websocket.Conn]*rateLimiter]
}

// New creates a server. A nil gatherer serves the default registry.
func New(sess Session, bus *events.Bus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		sess:     sess,
		bus:      bus,
		gatherer: gatherer,
		conns:    syncx.NewGuard(make(map[*websocket.Conn]*rateLimiter)),
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/mode", s.handleMode)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.conns.Write(func(m *map[*websocket.Conn]*rateLimiter) {
		(*m)[conn] = &rateLimiter{}
	})
	defer s.conns.Write(func(m *map[*websocket.Conn]*rateLimiter) {
		delete(*m, conn)
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, unsubscribe := s.bus.Subscribe(EventBuffer)
	defer unsubscribe()

	slog.Info("websocket connected", "remote", r.RemoteAddr)

	// Writer: stream bus events until the subscription or socket dies.
	go func() {
		defer cancel()
		for ev := range sub {
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}()

	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			slog.Debug("websocket read error", "error", err)
			return
		}

		rl, _ := s.conns.Read(func(m map[*websocket.Conn]*rateLimiter) any {
			return m[conn]
		}).(*rateLimiter)
		if rl != nil && !rl.allow() {
			slog.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(ctx, conn, ackMessage{Type: "error", Error: "rate limit exceeded"})
			continue
		}

		switch msg.Type {
		case "set_mode":
			s.applyMode(ctx, conn, msg.Mode)
		case "status":
			_ = wsjson.Write(ctx, conn, s.sess.Status())
		}
	}
}

func (s *Server) applyMode(ctx context.Context, conn *websocket.Conn, mode string) {
	m, err := parseMode(mode)
	if err != nil {
		_ = wsjson.Write(ctx, conn, ackMessage{Type: "error", Error: err.Error()})
		return
	}
	if !s.sess.SetMode(m) {
		_ = wsjson.Write(ctx, conn, ackMessage{Type: "error", Error: "mode change rejected"})
		return
	}
	_ = wsjson.Write(ctx, conn, ackMessage{Type: "mode_ack", Mode: m.String()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.sess.Status())
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req clientMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	m, err := parseMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.sess.SetMode(m) {
		http.Error(w, "mode change rejected", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"mode": m.String()})
}

func parseMode(mode string) (vad.Mode, error) {
	switch mode {
	case "normal":
		return vad.ModeNormal, nil
	case "long_note":
		return vad.ModeLongNote, nil
	default:
		return vad.ModeNormal, fmt.Errorf("unknown mode %q", mode)
	}
}
