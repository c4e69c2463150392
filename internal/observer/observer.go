// Package observer serves live rollout statistics over a loopback
// websocket so dashboards can watch a training run without touching
// the step loop.
package observer

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"navrollout.ai/internal/engine"
)

// Version is the observer wire protocol version. Bump on any message
// shape change.
const Version = 1

// Source supplies point-in-time run statistics. Satisfied by
// *engine.Engine.
type Source interface {
	Stats() engine.Stats
}

// SubscribeMsg is the client's opening (and only) message.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion int    `json:"protocol_version"`
	// IntervalMS is the requested push period; clamped to [100, 60000].
	IntervalMS int `json:"interval_ms"`
}

// StatsMsg is one pushed snapshot.
type StatsMsg struct {
	Type         string   `json:"type"`
	Session      string   `json:"session"`
	Iterations   uint64   `json:"iterations"`
	Episodes     uint64   `json:"episodes"`
	ActiveScenes []uint32 `json:"active_scenes"`
	SentAt       string   `json:"sent_at"`
}

// Server pushes stats snapshots to subscribed websocket clients.
type Server struct {
	src Source
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(src Source, logger *log.Logger) *Server {
	return &Server{
		src: src,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// StatsHandler is a plain JSON snapshot for curl and health checks.
func (s *Server) StatsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.snapshot(""))
	}
}

// WSHandler upgrades the connection, expects one SUBSCRIBE, then pushes
// snapshots at the subscribed interval until the client goes away.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"),
				time.Now().Add(time.Second))
			return
		}
		if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != Version {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"),
				time.Now().Add(time.Second))
			return
		}

		session := s.sessionID()
		interval := clampInterval(sub.IntervalMS)

		done := make(chan struct{})
		// Reader goroutine: its only job is to notice the close.
		go func() {
			defer close(done)
			for {
				_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		tick := time.NewTicker(interval)
		defer tick.Stop()
		for {
			b, err := json.Marshal(s.snapshot(session))
			if err != nil {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
			select {
			case <-done:
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
					time.Now().Add(time.Second))
				return
			case <-tick.C:
			}
		}
	}
}

func (s *Server) snapshot(session string) StatsMsg {
	st := s.src.Stats()
	return StatsMsg{
		Type:         "STATS",
		Session:      session,
		Iterations:   st.Iterations,
		Episodes:     st.Episodes,
		ActiveScenes: st.ActiveScenes,
		SentAt:       time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func (s *Server) sessionID() string {
	return fmt.Sprintf("O%d", s.nextID.Add(1))
}

func clampInterval(ms int) time.Duration {
	if ms <= 0 {
		ms = 1000
	}
	if ms < 100 {
		ms = 100
	}
	if ms > 60000 {
		ms = 60000
	}
	return time.Duration(ms) * time.Millisecond
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
