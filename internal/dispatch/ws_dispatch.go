// Package dispatch pushes committed ledger events to connected clients and
// to an optional webhook.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/example/ride-escrow/internal/events"
	"github.com/example/ride-escrow/internal/ledger"
	"github.com/example/ride-escrow/internal/observability"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

// session is one connected dashboard. A zero filter receives everything.
type session struct {
	conn    *websocket.Conn
	filter  common.Address
	send    chan []byte
	dropped atomic.Bool
}

func (s *session) wants(ev ledger.Event) bool {
	if s.filter == (common.Address{}) || ev.Kind == ledger.EventRideRequested {
		return true
	}
	return ev.Rider == s.filter || ev.Driver == s.filter || ev.Owner == s.filter
}

func (s *session) writeLoop() {
	for b := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			_ = s.conn.Close()
			for range s.send {
			}
			return
		}
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = s.conn.Close()
}

// Hub holds websocket sessions. Riders and drivers see events about their
// own rides plus every new request.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*session]struct{}
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{sessions: make(map[*session]struct{}), logger: logger.With("component", "ws_hub")}
}

// Serve registers conn and blocks until the client goes away.
func (h *Hub) Serve(conn *websocket.Conn, filter common.Address) {
	s := &session{conn: conn, filter: filter, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	observability.WSSubscribers.Inc()
	go s.writeLoop()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	close(s.send)
	observability.WSSubscribers.Dec()
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) Name() string { return "websocket" }

// Publish never blocks on a client: one whose buffer is full is
// disconnected.
func (h *Hub) Publish(_ context.Context, ev ledger.Event) error {
	b, err := events.Marshal(ev)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		if !s.wants(ev) || s.dropped.Load() {
			continue
		}
		select {
		case s.send <- b:
		default:
			s.dropped.Store(true)
			_ = s.conn.Close()
			h.logger.Warn("ws subscriber too slow, disconnected", "filter", s.filter.Hex())
		}
	}
	return nil
}
